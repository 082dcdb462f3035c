package http

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/Strob0t/repodeck/internal/adapter/gitapi"
	"github.com/Strob0t/repodeck/internal/port/gitbackend"
)

// BackendHandlers exposes a gitbackend.Backend over the HTTP contract the
// gitapi client speaks, so a UI server can drive git on another host.
type BackendHandlers struct {
	Backend gitbackend.Backend
}

// MountBackendRoutes registers the /api/git routes.
func MountBackendRoutes(r chi.Router, h *BackendHandlers) {
	r.Get(gitapi.PathDiff, h.Diff)
	r.Get(gitapi.PathStatus, h.Status)
	r.Get(gitapi.PathBranches, h.Branches)
	r.Post(gitapi.PathBranches, h.CreateBranch)
	r.Post(gitapi.PathCheckout, h.Checkout)
	r.Post(gitapi.PathPull, h.Pull)
	r.Post(gitapi.PathPush, h.Push)
	r.Post(gitapi.PathRollback, h.Rollback)
	r.Get(gitapi.PathLog, h.Log)
}

// writeBackendError answers 422 with the git message when the failure is one
// the user can act on, 500 otherwise.
func writeBackendError(w http.ResponseWriter, r *http.Request, err error) {
	if msg := gitbackend.MessageOf(err); msg != "" {
		writeJSON(w, http.StatusUnprocessableEntity, gitapi.ErrorResponse{Error: msg})
		return
	}
	slog.ErrorContext(r.Context(), "git backend request failed", "path", r.URL.Path, "error", err)
	writeJSON(w, http.StatusInternalServerError, gitapi.ErrorResponse{Error: "internal error"})
}

func queryPath(w http.ResponseWriter, r *http.Request) (string, bool) {
	path := r.URL.Query().Get("path")
	return path, requireField(w, path, "path")
}

// Diff handles GET /api/git/diff?path=
func (h *BackendHandlers) Diff(w http.ResponseWriter, r *http.Request) {
	path, ok := queryPath(w, r)
	if !ok {
		return
	}
	diff, err := h.Backend.Diff(r.Context(), path)
	if err != nil {
		writeBackendError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, gitapi.DiffResponse{Diff: diff})
}

// Status handles GET /api/git/status?path=
func (h *BackendHandlers) Status(w http.ResponseWriter, r *http.Request) {
	path, ok := queryPath(w, r)
	if !ok {
		return
	}
	st, err := h.Backend.Status(r.Context(), path)
	if err != nil {
		writeBackendError(w, r, err)
		return
	}
	var resp gitapi.StatusResponse
	resp.Status.Ahead = st.Ahead
	resp.Status.Behind = st.Behind
	writeJSON(w, http.StatusOK, resp)
}

// Branches handles GET /api/git/branches?path=
func (h *BackendHandlers) Branches(w http.ResponseWriter, r *http.Request) {
	path, ok := queryPath(w, r)
	if !ok {
		return
	}
	bs, err := h.Backend.Branches(r.Context(), path)
	if err != nil {
		writeBackendError(w, r, err)
		return
	}
	all := bs.All
	if all == nil {
		all = []string{}
	}
	writeJSON(w, http.StatusOK, gitapi.BranchesResponse{Current: bs.Current, All: all})
}

// CreateBranch handles POST /api/git/branches
func (h *BackendHandlers) CreateBranch(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[gitapi.CreateBranchRequest](w, r, bodyLimit)
	if !ok || !requireField(w, req.Path, "path") || !requireField(w, req.Branch, "branch") {
		return
	}
	if err := h.Backend.CreateBranch(r.Context(), req.Path, req.Branch, req.Source); err != nil {
		writeBackendError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, gitapi.OKResponse{OK: true})
}

// Checkout handles POST /api/git/checkout
func (h *BackendHandlers) Checkout(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[gitapi.CheckoutRequest](w, r, bodyLimit)
	if !ok || !requireField(w, req.Path, "path") || !requireField(w, req.Branch, "branch") {
		return
	}
	if err := h.Backend.Checkout(r.Context(), req.Path, req.Branch); err != nil {
		writeBackendError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, gitapi.OKResponse{OK: true})
}

// Pull handles POST /api/git/pull
func (h *BackendHandlers) Pull(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[gitapi.PathRequest](w, r, bodyLimit)
	if !ok || !requireField(w, req.Path, "path") {
		return
	}
	res, err := h.Backend.Pull(r.Context(), req.Path)
	if err != nil {
		writeBackendError(w, r, err)
		return
	}
	var resp gitapi.PullResponse
	resp.Status.Before.Behind = res.BeforeBehind
	resp.Status.After.Behind = res.AfterBehind
	resp.Status.UpToDate = res.UpToDate
	writeJSON(w, http.StatusOK, resp)
}

// Push handles POST /api/git/push
func (h *BackendHandlers) Push(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[gitapi.PushRequest](w, r, bodyLimit)
	if !ok || !requireField(w, req.Path, "path") || !requireField(w, req.Message, "message") {
		return
	}
	hash, err := h.Backend.CommitAndPush(r.Context(), req.Path, req.Message)
	if err != nil {
		writeBackendError(w, r, err)
		return
	}
	var resp gitapi.PushResponse
	resp.Commit.Commit = hash
	writeJSON(w, http.StatusOK, resp)
}

// Rollback handles POST /api/git/rollback
func (h *BackendHandlers) Rollback(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[gitapi.PathRequest](w, r, bodyLimit)
	if !ok || !requireField(w, req.Path, "path") {
		return
	}
	if err := h.Backend.Rollback(r.Context(), req.Path); err != nil {
		writeBackendError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, gitapi.OKResponse{OK: true})
}

// Log handles GET /api/git/log?path=
func (h *BackendHandlers) Log(w http.ResponseWriter, r *http.Request) {
	path, ok := queryPath(w, r)
	if !ok {
		return
	}
	entries, err := h.Backend.Log(r.Context(), path)
	if err != nil {
		writeBackendError(w, r, err)
		return
	}
	commits := make([]gitapi.LogCommit, 0, len(entries))
	for _, e := range entries {
		commits = append(commits, gitapi.LogCommit{Hash: e.Hash, Message: e.Message, WebURL: e.WebURL})
	}
	writeJSON(w, http.StatusOK, gitapi.LogResponse{Commits: commits})
}
