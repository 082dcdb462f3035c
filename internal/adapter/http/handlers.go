package http

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/Strob0t/repodeck/internal/domain/workcopy"
	"github.com/Strob0t/repodeck/internal/port/journal"
	"github.com/Strob0t/repodeck/internal/service"
	"github.com/Strob0t/repodeck/internal/uiprefs"
)

const (
	defaultJournalLimit = 50
	maxJournalLimit     = 500
)

// Handlers serves the UI-facing API of one session.
type Handlers struct {
	Session     *service.Session
	Journal     journal.Store  // nil when the journal is disabled
	Preferences *uiprefs.Store // nil when preferences are disabled
}

// sessionState is the full snapshot the UI renders after (re)connecting.
type sessionState struct {
	ID           string                    `json:"id"`
	Repository   *workcopy.Repository      `json:"repository"`
	Pending      *workcopy.Repository      `json:"pending,omitempty"`
	Files        []workcopy.FileChange     `json:"files"`
	Selected     string                    `json:"selected"`
	HasChanges   bool                      `json:"has_changes"`
	Status       workcopy.PullStatus       `json:"status"`
	Branches     workcopy.BranchState      `json:"branches"`
	SourceBranch string                    `json:"source_branch"`
	BranchPhase  service.BranchPhase       `json:"branch_phase"`
	Busy         map[workcopy.Action]bool  `json:"busy"`
	LastOutcome  *workcopy.Outcome         `json:"last_outcome"`
	Log          []workcopy.CommitLogEntry `json:"log"`
}

func (h *Handlers) state() sessionState {
	s := h.Session
	st := sessionState{
		ID:           s.ID(),
		Pending:      s.Pending(),
		Files:        s.Diff().Files(),
		Selected:     s.Diff().Selected(),
		HasChanges:   s.Diff().HasPendingChanges(),
		Status:       s.Diff().Status(),
		Branches:     s.Branches().Branches(),
		SourceBranch: s.Branches().SourceBranch(),
		BranchPhase:  s.Branches().State(),
		Busy:         h.busy(),
		LastOutcome:  s.LastOutcome(),
		Log:          s.Log().Entries(),
	}
	if repo := s.Repository(); !repo.IsZero() {
		st.Repository = &repo
	}
	return st
}

func (h *Handlers) busy() map[workcopy.Action]bool {
	busy := h.Session.Actions().Busy()
	phase := h.Session.Branches().State()
	busy[workcopy.ActionCheckout] = phase == service.BranchCheckingOut
	busy[workcopy.ActionCreateBranch] = phase == service.BranchCreating
	return busy
}

// GetSession handles GET /api/v1/session
func (h *Handlers) GetSession(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.state())
}

// OpenRepository handles POST /api/v1/session
func (h *Handlers) OpenRepository(w http.ResponseWriter, r *http.Request) {
	repo, ok := readJSON[workcopy.Repository](w, r, bodyLimit)
	if !ok {
		return
	}
	if !requireField(w, repo.Path, "path") {
		return
	}
	if err := h.Session.Open(r.Context(), repo); err != nil {
		writeDomainError(w, err, "Could not open repository")
		return
	}
	if h.Preferences != nil {
		h.Preferences.RememberRepository(h.Session.Repository())
	}
	writeJSON(w, http.StatusOK, h.state())
}

// DetachRepository handles DELETE /api/v1/session
func (h *Handlers) DetachRepository(w http.ResponseWriter, _ *http.Request) {
	h.Session.Detach()
	w.WriteHeader(http.StatusNoContent)
}

// ListFiles handles GET /api/v1/session/files
func (h *Handlers) ListFiles(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"files":    h.Session.Diff().Files(),
		"selected": h.Session.Diff().Selected(),
	})
}

// GetDiff handles GET /api/v1/session/diff?path=
// Without path the whole diff is returned.
func (h *Handlers) GetDiff(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Query().Get("path")
	writeJSON(w, http.StatusOK, map[string]string{
		"path": path,
		"diff": h.Session.Diff().DisplayedDiff(r.Context(), path),
	})
}

type selectionRequest struct {
	Path string `json:"path"`
}

// SelectFile handles PUT /api/v1/session/selection
func (h *Handlers) SelectFile(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[selectionRequest](w, r, bodyLimit)
	if !ok {
		return
	}
	if err := h.Session.Diff().Select(req.Path); err != nil {
		writeDomainError(w, err, "Could not select file")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"selected": req.Path,
		"diff":     h.Session.Diff().DisplayedDiff(r.Context(), req.Path),
	})
}

// GetStatus handles GET /api/v1/session/status
func (h *Handlers) GetStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.Session.Diff().Status())
}

// Refresh handles POST /api/v1/session/refresh
func (h *Handlers) Refresh(w http.ResponseWriter, r *http.Request) {
	if err := h.Session.Refresh(r.Context()); err != nil {
		writeDomainError(w, err, "Refresh failed")
		return
	}
	writeJSON(w, http.StatusOK, h.state())
}

type branchesResponse struct {
	workcopy.BranchState
	Source string              `json:"source"`
	Phase  service.BranchPhase `json:"phase"`
}

func (h *Handlers) branches() branchesResponse {
	b := h.Session.Branches()
	return branchesResponse{BranchState: b.Branches(), Source: b.SourceBranch(), Phase: b.State()}
}

// ListBranches handles GET /api/v1/session/branches
func (h *Handlers) ListBranches(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.branches())
}

type createBranchRequest struct {
	Name   string `json:"name"`
	Source string `json:"source"`
}

// CreateBranch handles POST /api/v1/session/branches
func (h *Handlers) CreateBranch(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[createBranchRequest](w, r, bodyLimit)
	if !ok {
		return
	}
	if err := h.Session.Branches().CreateBranch(r.Context(), req.Name, req.Source); err != nil {
		writeDomainError(w, err, "Branch creation failed")
		return
	}
	writeJSON(w, http.StatusCreated, h.branches())
}

type branchRequest struct {
	Branch string `json:"branch"`
}

// CheckoutBranch handles POST /api/v1/session/branches/checkout
func (h *Handlers) CheckoutBranch(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[branchRequest](w, r, bodyLimit)
	if !ok {
		return
	}
	if err := h.Session.Branches().Checkout(r.Context(), req.Branch); err != nil {
		writeDomainError(w, err, "Checkout failed")
		return
	}
	writeJSON(w, http.StatusOK, h.branches())
}

// SetSourceBranch handles PUT /api/v1/session/branches/source
func (h *Handlers) SetSourceBranch(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[branchRequest](w, r, bodyLimit)
	if !ok {
		return
	}
	if err := h.Session.Branches().SetSourceBranch(req.Branch); err != nil {
		writeDomainError(w, err, "Could not set source branch")
		return
	}
	writeJSON(w, http.StatusOK, h.branches())
}

// Pull handles POST /api/v1/session/pull
func (h *Handlers) Pull(w http.ResponseWriter, r *http.Request) {
	res, err := h.Session.Actions().Pull(r.Context())
	if err != nil {
		writeDomainError(w, err, "Pull failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"result":  res,
		"pulled":  res.Pulled(),
		"outcome": h.Session.LastOutcome(),
	})
}

// Push handles POST /api/v1/session/push
func (h *Handlers) Push(w http.ResponseWriter, r *http.Request) {
	hash, err := h.Session.Actions().CommitAndPush(r.Context())
	if err != nil {
		writeDomainError(w, err, "Push failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"commit":  hash,
		"outcome": h.Session.LastOutcome(),
	})
}

type rollbackRequest struct {
	Confirm bool `json:"confirm"`
}

// Rollback handles POST /api/v1/session/rollback
func (h *Handlers) Rollback(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[rollbackRequest](w, r, bodyLimit)
	if !ok {
		return
	}
	if err := h.Session.Actions().Rollback(r.Context(), req.Confirm); err != nil {
		writeDomainError(w, err, "Rollback failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"outcome": h.Session.LastOutcome()})
}

// GetLog handles GET /api/v1/session/log
func (h *Handlers) GetLog(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"commits": h.Session.Log().Entries()})
}

// GetActions handles GET /api/v1/session/actions
func (h *Handlers) GetActions(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"busy":         h.busy(),
		"last_outcome": h.Session.LastOutcome(),
	})
}

// ListJournal handles GET /api/v1/session/journal?limit=&repository=
func (h *Handlers) ListJournal(w http.ResponseWriter, r *http.Request) {
	if h.Journal == nil {
		writeError(w, http.StatusNotFound, "action journal is not enabled")
		return
	}

	limit := defaultJournalLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxJournalLimit)
	}
	repo := strings.TrimSpace(r.URL.Query().Get("repository"))
	if repo == "" {
		repo = h.Session.Repository().Key()
	}

	entries, err := h.Journal.List(r.Context(), repo, limit)
	if err != nil {
		writeDomainError(w, err, "Could not read journal")
		return
	}
	if entries == nil {
		entries = []journal.Entry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

// GetPreferences handles GET /api/v1/preferences
func (h *Handlers) GetPreferences(w http.ResponseWriter, _ *http.Request) {
	if h.Preferences == nil {
		writeError(w, http.StatusNotFound, "preferences are not enabled")
		return
	}
	writeJSON(w, http.StatusOK, h.Preferences.Get())
}

// UpdatePreferences handles PUT /api/v1/preferences
func (h *Handlers) UpdatePreferences(w http.ResponseWriter, r *http.Request) {
	if h.Preferences == nil {
		writeError(w, http.StatusNotFound, "preferences are not enabled")
		return
	}
	req, ok := readJSON[uiprefs.Preferences](w, r, bodyLimit)
	if !ok {
		return
	}
	prefs, err := h.Preferences.Update(req)
	if err != nil {
		writeDomainError(w, err, "Could not update preferences")
		return
	}
	if err := h.Preferences.Save(); err != nil {
		writeDomainError(w, err, "Could not save preferences")
		return
	}
	writeJSON(w, http.StatusOK, prefs)
}
