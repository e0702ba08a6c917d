package web

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/hpungsan/claimdesk/internal/agent"
	"github.com/hpungsan/claimdesk/internal/blob"
	"github.com/hpungsan/claimdesk/internal/claim"
	"github.com/hpungsan/claimdesk/internal/config"
	"github.com/hpungsan/claimdesk/internal/db"
	"github.com/hpungsan/claimdesk/internal/ops"
	"github.com/hpungsan/claimdesk/internal/proposal"
	"github.com/hpungsan/claimdesk/internal/session"
)

type testServer struct {
	t      *testing.T
	deps   *ops.Deps
	router http.Handler
}

func setupTest(t *testing.T) *testServer {
	t.Helper()
	database, err := db.Init(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })

	cfg := config.DefaultConfig()
	cfg.MaxUploadBytes = 1024

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	deps := ops.NewDeps(database, cfg, blob.NewMemoryStore(), agent.NewKeywordGenerator(), logger)
	sessions := session.NewRegistry(&ops.Local{Deps: deps}, time.Minute, logger)
	t.Cleanup(sessions.CloseAll)

	return &testServer{t: t, deps: deps, router: NewRouter(NewHandlers(deps, sessions, "test"))}
}

func (s *testServer) do(method, path string, body any) *httptest.ResponseRecorder {
	s.t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(s.t, err)
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func (s *testServer) upload(claimID int64, filename, contentType, content string) *httptest.ResponseRecorder {
	s.t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	require.NoError(s.t, mw.WriteField("note", "ignored"))
	part, err := mw.CreatePart(map[string][]string{
		"Content-Disposition": {fmt.Sprintf(`form-data; name="file"; filename=%q`, filename)},
		"Content-Type":        {contentType},
	})
	require.NoError(s.t, err)
	_, err = part.Write([]byte(content))
	require.NoError(s.t, err)
	require.NoError(s.t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, fmt.Sprintf("/claims/%d/files", claimID), &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func (s *testServer) createClaim() *claim.Claim {
	s.t.Helper()
	w := s.do(http.MethodPost, "/claims", map[string]any{"title": "Kitchen water damage"})
	require.Equal(s.t, http.StatusCreated, w.Code, w.Body.String())
	var c claim.Claim
	decode(s.t, w, &c)
	return &c
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), v), w.Body.String())
}

func requireError(t *testing.T, w *httptest.ResponseRecorder, status int, code string) errorBody {
	t.Helper()
	require.Equal(t, status, w.Code, w.Body.String())
	var body errorBody
	decode(t, w, &body)
	require.Equal(t, code, body.Code)
	require.NotEmpty(t, body.Detail)
	return body
}

// --- Health and metrics ---

func TestHealth(t *testing.T) {
	s := setupTest(t)
	w := s.do(http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), `"status":"ok"`)
	require.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
}

func TestMetrics_UsesRoutePattern(t *testing.T) {
	s := setupTest(t)
	c := s.createClaim()
	s.do(http.MethodGet, fmt.Sprintf("/claims/%d/files", c.ID), nil)

	w := s.do(http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := w.Body.String()
	require.Contains(t, body, "claimdesk_http_requests_total")
	require.Contains(t, body, `path="/claims/{id}/files"`)
	require.NotContains(t, body, fmt.Sprintf(`path="/claims/%d/files"`, c.ID))
}

// --- Claims ---

func TestClaims_CreateGetList(t *testing.T) {
	s := setupTest(t)
	c := s.createClaim()
	require.Positive(t, c.ID)
	require.Equal(t, "Kitchen water damage", c.Title)

	w := s.do(http.MethodGet, fmt.Sprintf("/claims/%d", c.ID), nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = s.do(http.MethodGet, "/claims?limit=5", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var list ops.ListClaimsOutput
	decode(t, w, &list)
	require.Len(t, list.Items, 1)
	require.Equal(t, 5, list.Pagination.Limit)
	require.Equal(t, 1, list.Pagination.Total)
}

func TestClaims_Errors(t *testing.T) {
	s := setupTest(t)

	requireError(t, s.do(http.MethodPost, "/claims", map[string]any{"title": " "}), 400, "INVALID_REQUEST")
	requireError(t, s.do(http.MethodGet, "/claims/abc", nil), 400, "INVALID_REQUEST")
	requireError(t, s.do(http.MethodGet, "/claims/99", nil), 404, "NOT_FOUND")

	req := httptest.NewRequest(http.MethodPost, "/claims", strings.NewReader("{not json"))
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	requireError(t, w, 400, "INVALID_REQUEST")
}

// --- Files ---

func TestFiles_UploadListDownloadDelete(t *testing.T) {
	s := setupTest(t)
	c := s.createClaim()

	w := s.upload(c.ID, "notes.txt", "application/octet-stream", "Water under the sink.")
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var f claim.File
	decode(t, w, &f)
	require.Equal(t, "notes.txt", f.Filename)
	require.True(t, strings.HasPrefix(f.MimeType, "text/plain"), f.MimeType)
	require.Equal(t, int64(21), f.SizeBytes)

	w = s.do(http.MethodGet, fmt.Sprintf("/claims/%d/files", c.ID), nil)
	require.Equal(t, http.StatusOK, w.Code)
	var list struct {
		Items []claim.File `json:"items"`
	}
	decode(t, w, &list)
	require.Len(t, list.Items, 1)

	w = s.do(http.MethodGet, fmt.Sprintf("/claims/%d/files/%d/download", c.ID, f.ID), nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "Water under the sink.", w.Body.String())
	require.Contains(t, w.Header().Get("Content-Disposition"), `filename=notes.txt`)

	w = s.do(http.MethodDelete, fmt.Sprintf("/claims/%d/files/%d", c.ID, f.ID), nil)
	require.Equal(t, http.StatusOK, w.Code)

	requireError(t, s.do(http.MethodGet, fmt.Sprintf("/claims/%d/files/%d", c.ID, f.ID), nil), 404, "NOT_FOUND")
}

func TestFiles_UploadTooLarge(t *testing.T) {
	s := setupTest(t)
	c := s.createClaim()

	w := s.upload(c.ID, "big.txt", "text/plain", strings.Repeat("x", 1025))
	requireError(t, w, http.StatusRequestEntityTooLarge, "PAYLOAD_TOO_LARGE")
}

func TestFiles_UploadRequiresFilePart(t *testing.T) {
	s := setupTest(t)
	c := s.createClaim()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	require.NoError(t, mw.WriteField("title", "no file here"))
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, fmt.Sprintf("/claims/%d/files", c.ID), &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	requireError(t, w, 400, "INVALID_REQUEST")

	requireError(t, s.do(http.MethodPost, fmt.Sprintf("/claims/%d/files", c.ID), map[string]any{}), 400, "INVALID_REQUEST")
}

// --- Agent workflow ---

func TestAgent_ChatAcceptAndStaleAccept(t *testing.T) {
	s := setupTest(t)
	c := s.createClaim()
	require.Equal(t, http.StatusCreated, s.upload(c.ID, "notes.txt", "text/plain", "Water under the sink.").Code)

	w := s.do(http.MethodPost, fmt.Sprintf("/claims/%d/agent/chat", c.ID), map[string]any{"message": "create a summary"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var out struct {
		Proposals []json.RawMessage `json:"proposals"`
	}
	decode(t, w, &out)
	require.Len(t, out.Proposals, 1)

	acceptPath := fmt.Sprintf("/claims/%d/agent/accept", c.ID)
	w = s.do(http.MethodPost, acceptPath, map[string]any{"proposal": out.Proposals[0]})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var applied proposal.Applied
	decode(t, w, &applied)
	require.Equal(t, proposal.StatusAccepted, applied.Status)
	require.True(t, applied.Created)
	require.Equal(t, "summary", applied.TargetName)

	// Same proposal again: the summary no longer matches its old content.
	body := requireError(t, s.do(http.MethodPost, acceptPath, map[string]any{"proposal": out.Proposals[0]}), 409, "CONFLICT")
	require.Contains(t, body.Detail, `"summary" changed since this proposal was generated`)
}

func TestAgent_AcceptRejectsMalformedProposal(t *testing.T) {
	s := setupTest(t)
	c := s.createClaim()
	path := fmt.Sprintf("/claims/%d/agent/accept", c.ID)

	requireError(t, s.do(http.MethodPost, path, map[string]any{}), 400, "INVALID_REQUEST")
	requireError(t, s.do(http.MethodPost, path, map[string]any{
		"proposal": map[string]any{"type": "spreadsheet", "target_name": "x"},
	}), 400, "INVALID_REQUEST")

	p := proposal.New(proposal.TypeArtifact, nil, "summary", "", "new", "a", "b")
	p.NewContent = "tampered"
	requireError(t, s.do(http.MethodPost, path, map[string]any{"proposal": p}), 400, "INVALID_REQUEST")
}

func TestAgent_EmptyResults(t *testing.T) {
	s := setupTest(t)
	c := s.createClaim()

	w := s.do(http.MethodPost, fmt.Sprintf("/claims/%d/agent/generate-summary", c.ID), nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.JSONEq(t, `{"proposals":[]}`, w.Body.String())

	w = s.do(http.MethodPost, fmt.Sprintf("/claims/%d/agent/chat", c.ID), map[string]any{"message": "what's the weather"})
	require.Equal(t, http.StatusOK, w.Code)
	require.JSONEq(t, `{"proposals":[]}`, w.Body.String())

	requireError(t, s.do(http.MethodPost, fmt.Sprintf("/claims/%d/agent/chat", c.ID), map[string]any{"message": ""}), 400, "INVALID_REQUEST")
}

// --- Artifacts ---

func TestArtifacts_ListHistoryPreviewEdit(t *testing.T) {
	s := setupTest(t)
	c := s.createClaim()
	require.Equal(t, http.StatusCreated, s.upload(c.ID, "notes.txt", "text/plain", "Water under the sink.").Code)

	w := s.do(http.MethodPost, fmt.Sprintf("/claims/%d/agent/generate-summary", c.ID), nil)
	var out struct {
		Proposals []json.RawMessage `json:"proposals"`
	}
	decode(t, w, &out)
	require.Len(t, out.Proposals, 1)
	w = s.do(http.MethodPost, fmt.Sprintf("/claims/%d/agent/accept", c.ID), map[string]any{"proposal": out.Proposals[0]})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = s.do(http.MethodGet, fmt.Sprintf("/claims/%d/artifacts", c.ID), nil)
	require.Equal(t, http.StatusOK, w.Code)
	var artifacts []claim.Artifact
	decode(t, w, &artifacts)
	require.Len(t, artifacts, 1)
	a := artifacts[0]
	require.Equal(t, "summary", a.Type)
	require.NotNil(t, a.CurrentVersion)
	require.True(t, strings.HasPrefix(a.CurrentVersion.Content, "# Claim Summary"))

	w = s.do(http.MethodGet, fmt.Sprintf("/claims/%d/artifacts/%d/preview", c.ID, a.ID), nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), "<h1>Claim Summary</h1>")
	require.Equal(t, "text/html; charset=utf-8", w.Header().Get("Content-Type"))

	editPath := fmt.Sprintf("/claims/%d/artifacts/%d", c.ID, a.ID)
	requireError(t, s.do(http.MethodPut, editPath, map[string]any{
		"content": "stale edit", "expected_version_id": *a.CurrentVersionID + 100,
	}), 409, "CONFLICT")
	requireError(t, s.do(http.MethodPut, editPath, map[string]any{}), 400, "INVALID_REQUEST")

	w = s.do(http.MethodPut, editPath, map[string]any{
		"content": "# Edited\n", "expected_version_id": *a.CurrentVersionID,
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = s.do(http.MethodGet, editPath+"/history", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var history ops.ArtifactHistoryOutput
	decode(t, w, &history)
	require.Len(t, history.Versions, 2)
	require.Equal(t, "# Edited\n", history.Artifact.CurrentContent())
}

// --- Sessions ---

func TestSessions_Lifecycle(t *testing.T) {
	s := setupTest(t)
	c := s.createClaim()
	require.Equal(t, http.StatusCreated, s.upload(c.ID, "notes.txt", "text/plain", "Water under the sink.").Code)

	w := s.do(http.MethodPost, fmt.Sprintf("/claims/%d/sessions", c.ID), nil)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var view session.View
	decode(t, w, &view)
	require.Equal(t, session.StateIdle, view.State)
	require.Empty(t, view.Transcript)
	base := "/sessions/" + view.ID

	w = s.do(http.MethodPost, base+"/messages", map[string]any{"message": "create a summary"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var resp turnResponse
	decode(t, w, &resp)
	require.Equal(t, "I found 1 proposal(s) for you to review.", resp.Turn.Content)
	require.Len(t, resp.Pending, 1)
	token := resp.Pending[0].Token

	w = s.do(http.MethodPost, base+"/proposals/"+token+"/accept", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	resp = turnResponse{}
	decode(t, w, &resp)
	require.Equal(t, "Accepted changes to summary.", resp.Turn.Content)
	require.NotNil(t, resp.Turn.Applied)
	require.Empty(t, resp.Pending)

	// Accepted proposals can't be accepted or discarded again.
	requireError(t, s.do(http.MethodPost, base+"/proposals/"+token+"/discard", nil), 400, "INVALID_REQUEST")
	requireError(t, s.do(http.MethodPost, base+"/proposals/nope/accept", nil), 404, "NOT_FOUND")

	w = s.do(http.MethodGet, base, nil)
	require.Equal(t, http.StatusOK, w.Code)
	view = session.View{}
	decode(t, w, &view)
	require.Len(t, view.Transcript, 3)
	require.Equal(t, session.StatusAccepted, view.Proposals[0].Status)

	require.Equal(t, http.StatusOK, s.do(http.MethodDelete, base, nil).Code)
	requireError(t, s.do(http.MethodGet, base, nil), 404, "NOT_FOUND")
}

func TestSessions_SummaryAndDiscard(t *testing.T) {
	s := setupTest(t)
	c := s.createClaim()

	w := s.do(http.MethodPost, fmt.Sprintf("/claims/%d/sessions", c.ID), nil)
	var view session.View
	decode(t, w, &view)
	base := "/sessions/" + view.ID

	// No files yet: the agent says so and nothing is pending.
	w = s.do(http.MethodPost, base+"/summary", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var resp turnResponse
	decode(t, w, &resp)
	require.Equal(t, "No summary changes to propose. The current summary is up to date or no files could be read.", resp.Turn.Content)
	require.Empty(t, resp.Pending)

	require.Equal(t, http.StatusCreated, s.upload(c.ID, "notes.txt", "text/plain", "Water under the sink.").Code)
	w = s.do(http.MethodPost, base+"/summary", nil)
	resp = turnResponse{}
	decode(t, w, &resp)
	require.Equal(t, "Generated summary proposal. Review the changes below.", resp.Turn.Content)
	require.Len(t, resp.Pending, 1)

	w = s.do(http.MethodPost, base+"/proposals/"+resp.Pending[0].Token+"/discard", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var entry session.Entry
	decode(t, w, &entry)
	require.Equal(t, session.StatusDiscarded, entry.Status)

	// Discarding leaves the content store untouched.
	w = s.do(http.MethodGet, fmt.Sprintf("/claims/%d/artifacts", c.ID), nil)
	require.JSONEq(t, `[]`, w.Body.String())
}

func TestSessions_SummaryUpToDate(t *testing.T) {
	s := setupTest(t)
	c := s.createClaim()
	require.Equal(t, http.StatusCreated, s.upload(c.ID, "notes.txt", "text/plain", "Water under the sink.").Code)

	w := s.do(http.MethodPost, fmt.Sprintf("/claims/%d/sessions", c.ID), nil)
	var view session.View
	decode(t, w, &view)
	base := "/sessions/" + view.ID

	w = s.do(http.MethodPost, base+"/summary", nil)
	var resp turnResponse
	decode(t, w, &resp)
	require.Len(t, resp.Pending, 1)
	w = s.do(http.MethodPost, base+"/proposals/"+resp.Pending[0].Token+"/accept", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	// Files exist and the summary already matches them: nothing to propose,
	// and the agent must not ask for uploads.
	w = s.do(http.MethodPost, base+"/summary", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	resp = turnResponse{}
	decode(t, w, &resp)
	require.Empty(t, resp.Pending)
	require.Contains(t, resp.Turn.Content, "up to date")
	require.NotContains(t, resp.Turn.Content, "upload")
}

func TestSessions_Errors(t *testing.T) {
	s := setupTest(t)
	requireError(t, s.do(http.MethodPost, "/claims/42/sessions", nil), 404, "NOT_FOUND")
	requireError(t, s.do(http.MethodGet, "/sessions/missing", nil), 404, "NOT_FOUND")
	requireError(t, s.do(http.MethodDelete, "/sessions/missing", nil), 404, "NOT_FOUND")

	c := s.createClaim()
	w := s.do(http.MethodPost, fmt.Sprintf("/claims/%d/sessions", c.ID), nil)
	var view session.View
	decode(t, w, &view)
	requireError(t, s.do(http.MethodPost, "/sessions/"+view.ID+"/messages", map[string]any{"message": "  "}), 400, "INVALID_REQUEST")
}
