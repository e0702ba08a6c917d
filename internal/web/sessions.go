package web

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hpungsan/claimdesk/internal/ops"
	"github.com/hpungsan/claimdesk/internal/proposal"
	"github.com/hpungsan/claimdesk/internal/session"
)

// turnResponse is returned by every session action that adds to the
// transcript. Agent-side failures arrive as a turn with an error, not as
// an HTTP error.
type turnResponse struct {
	Turn    *session.Turn        `json:"turn"`
	Pending []*proposal.Proposal `json:"pending"`
}

// HandleCreateSession handles POST /claims/{id}/sessions.
func (h *Handlers) HandleCreateSession(w http.ResponseWriter, r *http.Request) {
	claimID, err := pathID(r, "id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if _, err := ops.GetClaim(r.Context(), h.deps, claimID); err != nil {
		h.fail(w, r, err)
		return
	}
	s := h.sessions.Create(claimID)
	renderJSON(w, http.StatusCreated, s.View())
}

// HandleGetSession handles GET /sessions/{sid}.
func (h *Handlers) HandleGetSession(w http.ResponseWriter, r *http.Request) {
	s, err := h.sessions.Get(chi.URLParam(r, "sid"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	renderJSON(w, http.StatusOK, s.View())
}

// HandleDeleteSession handles DELETE /sessions/{sid}. Pending proposals
// are discarded.
func (h *Handlers) HandleDeleteSession(w http.ResponseWriter, r *http.Request) {
	sid := chi.URLParam(r, "sid")
	if err := h.sessions.Delete(sid); err != nil {
		h.fail(w, r, err)
		return
	}
	renderJSON(w, http.StatusOK, map[string]any{"closed": true, "id": sid})
}

// HandleSessionMessage handles POST /sessions/{sid}/messages.
func (h *Handlers) HandleSessionMessage(w http.ResponseWriter, r *http.Request) {
	s, err := h.sessions.Get(chi.URLParam(r, "sid"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var req chatRequest
	if err := decodeBody(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	turn, err := s.SendMessage(r.Context(), req.Message)
	h.renderTurn(w, r, s, turn, err)
}

// HandleSessionSummary handles POST /sessions/{sid}/summary.
func (h *Handlers) HandleSessionSummary(w http.ResponseWriter, r *http.Request) {
	s, err := h.sessions.Get(chi.URLParam(r, "sid"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	turn, err := s.GenerateSummary(r.Context())
	h.renderTurn(w, r, s, turn, err)
}

// HandleSessionAccept handles POST /sessions/{sid}/proposals/{token}/accept.
func (h *Handlers) HandleSessionAccept(w http.ResponseWriter, r *http.Request) {
	s, err := h.sessions.Get(chi.URLParam(r, "sid"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	turn, err := s.Accept(r.Context(), chi.URLParam(r, "token"))
	h.renderTurn(w, r, s, turn, err)
}

// HandleSessionDiscard handles POST /sessions/{sid}/proposals/{token}/discard.
func (h *Handlers) HandleSessionDiscard(w http.ResponseWriter, r *http.Request) {
	s, err := h.sessions.Get(chi.URLParam(r, "sid"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	entry, err := s.Discard(chi.URLParam(r, "token"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	renderJSON(w, http.StatusOK, entry)
}

func (h *Handlers) renderTurn(w http.ResponseWriter, r *http.Request, s *session.Session, turn *session.Turn, err error) {
	if err != nil {
		h.fail(w, r, err)
		return
	}
	renderJSON(w, http.StatusOK, turnResponse{Turn: turn, Pending: s.Pending()})
}
