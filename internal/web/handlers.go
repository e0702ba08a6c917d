package web

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"

	"github.com/hpungsan/claimdesk/internal/errors"
	"github.com/hpungsan/claimdesk/internal/ops"
	"github.com/hpungsan/claimdesk/internal/proposal"
	"github.com/hpungsan/claimdesk/internal/session"
)

// multipartOverhead is the slack allowed on top of MaxUploadBytes for
// multipart headers and boundaries.
const multipartOverhead = 1 << 20

// Handlers contains HTTP route handlers for the JSON API.
type Handlers struct {
	deps     *ops.Deps
	sessions *session.Registry
	logger   *slog.Logger
	version  string
}

// NewHandlers creates handlers over the given dependencies.
func NewHandlers(deps *ops.Deps, sessions *session.Registry, version string) *Handlers {
	return &Handlers{deps: deps, sessions: sessions, logger: deps.Logger, version: version}
}

func (h *Handlers) fail(w http.ResponseWriter, r *http.Request, err error) {
	renderError(w, r, h.logger, err)
}

// HandleHealth handles GET /health.
func (h *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	if err := h.deps.DB.PingContext(r.Context()); err != nil {
		h.fail(w, r, errors.NewStorageUnavailable(err))
		return
	}
	renderJSON(w, http.StatusOK, map[string]any{"status": "ok", "version": h.version})
}

// --- Claims ---

// HandleListClaims handles GET /claims.
func (h *Handlers) HandleListClaims(w http.ResponseWriter, r *http.Request) {
	out, err := ops.ListClaims(r.Context(), h.deps, ops.ListClaimsInput{
		Limit:  parseIntParam(r, "limit", ops.DefaultListLimit),
		Offset: parseIntParam(r, "offset", 0),
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	renderJSON(w, http.StatusOK, out)
}

type createClaimRequest struct {
	Title           string  `json:"title"`
	ReferenceNumber *string `json:"reference_number"`
}

// HandleCreateClaim handles POST /claims.
func (h *Handlers) HandleCreateClaim(w http.ResponseWriter, r *http.Request) {
	var req createClaimRequest
	if err := decodeBody(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	c, err := ops.CreateClaim(r.Context(), h.deps, ops.CreateClaimInput{
		Title:           req.Title,
		ReferenceNumber: req.ReferenceNumber,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	renderJSON(w, http.StatusCreated, c)
}

// HandleGetClaim handles GET /claims/{id}.
func (h *Handlers) HandleGetClaim(w http.ResponseWriter, r *http.Request) {
	claimID, err := pathID(r, "id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	c, err := ops.GetClaim(r.Context(), h.deps, claimID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	renderJSON(w, http.StatusOK, c)
}

// --- Files ---

// HandleListFiles handles GET /claims/{id}/files.
func (h *Handlers) HandleListFiles(w http.ResponseWriter, r *http.Request) {
	claimID, err := pathID(r, "id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	files, err := ops.ListFiles(r.Context(), h.deps, claimID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	renderJSON(w, http.StatusOK, map[string]any{"items": files})
}

// HandleUploadFile handles POST /claims/{id}/files. The body is multipart
// with the document in a part named "file"; the part is streamed, not
// buffered to disk.
func (h *Handlers) HandleUploadFile(w http.ResponseWriter, r *http.Request) {
	claimID, err := pathID(r, "id")
	if err != nil {
		h.fail(w, r, err)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.deps.Cfg.MaxUploadBytes+multipartOverhead)
	mr, err := r.MultipartReader()
	if err != nil {
		h.fail(w, r, errors.NewInvalidRequest("expected a multipart/form-data body"))
		return
	}

	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			h.fail(w, r, errors.NewInvalidRequest(`multipart field "file" is required`))
			return
		}
		if err != nil {
			h.fail(w, r, uploadReadError(err, h.deps.Cfg.MaxUploadBytes))
			return
		}
		if part.FormName() != "file" {
			part.Close()
			continue
		}

		f, err := ops.UploadFile(r.Context(), h.deps, ops.UploadFileInput{
			ClaimID:  claimID,
			Filename: part.FileName(),
			MimeType: declaredType(part.Header.Get("Content-Type")),
			Content:  part,
		})
		part.Close()
		if err != nil {
			h.fail(w, r, err)
			return
		}
		renderJSON(w, http.StatusCreated, f)
		return
	}
}

// declaredType drops the generic types browsers send for unknown files,
// leaving detection to the extension and content.
func declaredType(ct string) string {
	mt, _, err := mime.ParseMediaType(ct)
	if err != nil || mt == "application/octet-stream" {
		return ""
	}
	return ct
}

func uploadReadError(err error, limit int64) error {
	var tooLarge *http.MaxBytesError
	if stderrors.As(err, &tooLarge) {
		return errors.NewPayloadTooLarge(limit)
	}
	return errors.NewInvalidRequest("malformed multipart body: " + err.Error())
}

// HandleGetFile handles GET /claims/{id}/files/{fileId}.
func (h *Handlers) HandleGetFile(w http.ResponseWriter, r *http.Request) {
	claimID, fileID, err := fileParams(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	f, err := ops.GetFile(r.Context(), h.deps, claimID, fileID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	renderJSON(w, http.StatusOK, f)
}

// HandleDownloadFile handles GET /claims/{id}/files/{fileId}/download.
func (h *Handlers) HandleDownloadFile(w http.ResponseWriter, r *http.Request) {
	claimID, fileID, err := fileParams(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	f, data, err := ops.ReadFile(r.Context(), h.deps, claimID, fileID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	w.Header().Set("Content-Type", f.MimeType)
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": f.Filename}))
	w.Header().Set("Content-Length", fmt.Sprint(len(data)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

// HandleDeleteFile handles DELETE /claims/{id}/files/{fileId}.
func (h *Handlers) HandleDeleteFile(w http.ResponseWriter, r *http.Request) {
	claimID, fileID, err := fileParams(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if err := ops.DeleteFile(r.Context(), h.deps, claimID, fileID); err != nil {
		h.fail(w, r, err)
		return
	}
	renderJSON(w, http.StatusOK, map[string]any{"deleted": true, "id": fileID})
}

func fileParams(r *http.Request) (int64, int64, error) {
	claimID, err := pathID(r, "id")
	if err != nil {
		return 0, 0, err
	}
	fileID, err := pathID(r, "fileId")
	if err != nil {
		return 0, 0, err
	}
	return claimID, fileID, nil
}

// --- Artifacts ---

// HandleListArtifacts handles GET /claims/{id}/artifacts.
func (h *Handlers) HandleListArtifacts(w http.ResponseWriter, r *http.Request) {
	claimID, err := pathID(r, "id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	artifacts, err := ops.ListArtifacts(r.Context(), h.deps, claimID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	renderJSON(w, http.StatusOK, artifacts)
}

// HandleGetArtifact handles GET /claims/{id}/artifacts/{artifactId}.
func (h *Handlers) HandleGetArtifact(w http.ResponseWriter, r *http.Request) {
	claimID, artifactID, err := artifactParams(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	a, err := ops.GetArtifact(r.Context(), h.deps, claimID, artifactID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	renderJSON(w, http.StatusOK, a)
}

// HandleArtifactHistory handles GET /claims/{id}/artifacts/{artifactId}/history.
func (h *Handlers) HandleArtifactHistory(w http.ResponseWriter, r *http.Request) {
	claimID, artifactID, err := artifactParams(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	out, err := ops.ArtifactHistory(r.Context(), h.deps, claimID, artifactID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	renderJSON(w, http.StatusOK, out)
}

// HandleArtifactPreview handles GET /claims/{id}/artifacts/{artifactId}/preview,
// the current content rendered from markdown to HTML.
func (h *Handlers) HandleArtifactPreview(w http.ResponseWriter, r *http.Request) {
	claimID, artifactID, err := artifactParams(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	a, err := ops.GetArtifact(r.Context(), h.deps, claimID, artifactID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Content-Security-Policy", "default-src 'none'")
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, string(renderMarkdown(a.CurrentContent())))
}

type updateArtifactRequest struct {
	Content           *string `json:"content"`
	ExpectedVersionID *int64  `json:"expected_version_id"`
}

// HandleUpdateArtifact handles PUT /claims/{id}/artifacts/{artifactId}, a
// direct edit that appends a user-authored version.
func (h *Handlers) HandleUpdateArtifact(w http.ResponseWriter, r *http.Request) {
	claimID, artifactID, err := artifactParams(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var req updateArtifactRequest
	if err := decodeBody(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	if req.Content == nil {
		h.fail(w, r, errors.NewInvalidRequest("content is required"))
		return
	}
	a, err := ops.UpdateArtifact(r.Context(), h.deps, ops.UpdateArtifactInput{
		ClaimID:           claimID,
		ArtifactID:        artifactID,
		Content:           *req.Content,
		ExpectedVersionID: req.ExpectedVersionID,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	renderJSON(w, http.StatusOK, a)
}

func artifactParams(r *http.Request) (int64, int64, error) {
	claimID, err := pathID(r, "id")
	if err != nil {
		return 0, 0, err
	}
	artifactID, err := pathID(r, "artifactId")
	if err != nil {
		return 0, 0, err
	}
	return claimID, artifactID, nil
}

// --- Agent ---

type chatRequest struct {
	Message string `json:"message"`
}

// HandleChat handles POST /claims/{id}/agent/chat.
func (h *Handlers) HandleChat(w http.ResponseWriter, r *http.Request) {
	claimID, err := pathID(r, "id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var req chatRequest
	if err := decodeBody(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	out, err := ops.Chat(r.Context(), h.deps, ops.ChatInput{ClaimID: claimID, Message: req.Message})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	renderJSON(w, http.StatusOK, out)
}

// HandleGenerateSummary handles POST /claims/{id}/agent/generate-summary.
func (h *Handlers) HandleGenerateSummary(w http.ResponseWriter, r *http.Request) {
	claimID, err := pathID(r, "id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	out, err := ops.GenerateSummary(r.Context(), h.deps, claimID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	renderJSON(w, http.StatusOK, out)
}

type acceptRequest struct {
	Proposal json.RawMessage `json:"proposal"`
}

// HandleAccept handles POST /claims/{id}/agent/accept. The proposal is
// checked against the wire schema before anything is applied.
func (h *Handlers) HandleAccept(w http.ResponseWriter, r *http.Request) {
	claimID, err := pathID(r, "id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var req acceptRequest
	if err := decodeBody(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	p, err := proposal.Decode(req.Proposal)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	applied, err := ops.Accept(r.Context(), h.deps, ops.AcceptInput{ClaimID: claimID, Proposal: p})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	renderJSON(w, http.StatusOK, applied)
}
