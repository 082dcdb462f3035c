package http_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"

	rdhttp "github.com/Strob0t/repodeck/internal/adapter/http"
	"github.com/Strob0t/repodeck/internal/config"
	"github.com/Strob0t/repodeck/internal/domain/workcopy"
	"github.com/Strob0t/repodeck/internal/port/gitbackend"
	"github.com/Strob0t/repodeck/internal/port/journal"
	"github.com/Strob0t/repodeck/internal/service"
	"github.com/Strob0t/repodeck/internal/uiprefs"
)

const testDiff = `diff --git a/a.txt b/a.txt
index 1111111..2222222 100644
--- a/a.txt
+++ b/a.txt
@@ -1 +1 @@
-old
+new
diff --git a/b.txt b/b.txt
new file mode 100644
index 0000000..3333333
--- /dev/null
+++ b/b.txt
@@ -0,0 +1 @@
+hello
`

type displayError struct{ msg string }

func (e displayError) Error() string       { return "git: " + e.msg }
func (e displayError) UserMessage() string { return e.msg }

// stubBackend answers every call from fixed fields.
type stubBackend struct {
	mu          sync.Mutex
	diff        string
	branches    workcopy.BranchState
	pull        workcopy.PullResult
	pushHash    string
	pushErr     error
	log         []workcopy.CommitLogEntry
	lastPath    string
	lastMessage string
	lastSource  string
}

func newStubBackend() *stubBackend {
	return &stubBackend{
		diff:     testDiff,
		branches: workcopy.BranchState{Current: "main", All: []string{"main", "dev"}},
		pushHash: "0123456789abcdef",
	}
}

func (s *stubBackend) seen(path string) {
	s.mu.Lock()
	s.lastPath = path
	s.mu.Unlock()
}

func (s *stubBackend) recorded() (path, message, source string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastPath, s.lastMessage, s.lastSource
}

func (s *stubBackend) Diff(_ context.Context, path string) (string, error) {
	s.seen(path)
	return s.diff, nil
}

func (s *stubBackend) Status(_ context.Context, path string) (*gitbackend.Status, error) {
	s.seen(path)
	return &gitbackend.Status{Ahead: 1, Behind: 2}, nil
}

func (s *stubBackend) Branches(_ context.Context, path string) (*workcopy.BranchState, error) {
	s.seen(path)
	s.mu.Lock()
	defer s.mu.Unlock()
	b := workcopy.BranchState{Current: s.branches.Current, All: append([]string(nil), s.branches.All...)}
	return &b, nil
}

func (s *stubBackend) Checkout(_ context.Context, path, branch string) error {
	s.seen(path)
	s.mu.Lock()
	s.branches.Current = branch
	s.mu.Unlock()
	return nil
}

func (s *stubBackend) CreateBranch(_ context.Context, path, name, source string) error {
	s.seen(path)
	s.mu.Lock()
	s.branches.All = append(s.branches.All, name)
	s.branches.Current = name
	s.lastSource = source
	s.mu.Unlock()
	return nil
}

func (s *stubBackend) Pull(_ context.Context, path string) (*workcopy.PullResult, error) {
	s.seen(path)
	res := s.pull
	return &res, nil
}

func (s *stubBackend) CommitAndPush(_ context.Context, path, message string) (string, error) {
	s.seen(path)
	s.mu.Lock()
	s.lastMessage = message
	s.mu.Unlock()
	if s.pushErr != nil {
		return "", s.pushErr
	}
	return s.pushHash, nil
}

func (s *stubBackend) Rollback(_ context.Context, path string) error {
	s.seen(path)
	return nil
}

func (s *stubBackend) Log(_ context.Context, path string) ([]workcopy.CommitLogEntry, error) {
	s.seen(path)
	return s.log, nil
}

// memJournal is an in-memory journal.Store.
type memJournal struct {
	mu      sync.Mutex
	entries []journal.Entry
}

func (m *memJournal) Append(_ context.Context, e *journal.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e.ID = int64(len(m.entries) + 1)
	m.entries = append(m.entries, *e)
	return nil
}

func (m *memJournal) List(_ context.Context, repository string, limit int) ([]journal.Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []journal.Entry
	for i := len(m.entries) - 1; i >= 0 && len(out) < limit; i-- {
		if m.entries[i].Outcome.Repository == repository {
			out = append(out, m.entries[i])
		}
	}
	return out, nil
}

type testServer struct {
	router  chi.Router
	session *service.Session
	backend *stubBackend
}

func newTestServer(t *testing.T, h *rdhttp.Handlers) *testServer {
	t.Helper()
	backend := newStubBackend()
	sess := service.NewSession(backend, nil, config.Sync{}, config.Actions{CommitPrefix: "repodeck: update"})
	t.Cleanup(sess.Close)
	if h == nil {
		h = &rdhttp.Handlers{}
	}
	h.Session = sess

	r := chi.NewRouter()
	rdhttp.MountRoutes(r, h, nil)
	return &testServer{router: r, session: sess, backend: backend}
}

func (s *testServer) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

// openAndRefresh opens /work/alpha and loads every view.
func (s *testServer) openAndRefresh(t *testing.T) {
	t.Helper()
	if w := s.do(t, http.MethodPost, "/api/v1/session", map[string]string{"path": "/work/alpha"}); w.Code != http.StatusOK {
		t.Fatalf("open: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if w := s.do(t, http.MethodPost, "/api/v1/session/refresh", nil); w.Code != http.StatusOK {
		t.Fatalf("refresh: expected 200, got %d: %s", w.Code, w.Body.String())
	}
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(w.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return v
}

func errorOf(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	return decode[map[string]string](t, w)["error"]
}

func TestOpenAndReadWorkingCopy(t *testing.T) {
	s := newTestServer(t, nil)
	s.openAndRefresh(t)

	w := s.do(t, http.MethodGet, "/api/v1/session/files", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	files := decode[struct {
		Files []workcopy.FileChange `json:"files"`
	}](t, w).Files
	if len(files) != 2 || files[0].Path != "a.txt" || files[1].Path != "b.txt" {
		t.Fatalf("unexpected files: %+v", files)
	}

	w = s.do(t, http.MethodGet, "/api/v1/session/diff?path=b.txt", nil)
	section := decode[map[string]string](t, w)["diff"]
	if !strings.Contains(section, "+hello") || strings.Contains(section, "a.txt") {
		t.Fatalf("unexpected section: %q", section)
	}

	w = s.do(t, http.MethodGet, "/api/v1/session/status", nil)
	st := decode[workcopy.PullStatus](t, w)
	if st.Behind != 2 || st.UpToDate {
		t.Fatalf("unexpected status: %+v", st)
	}
}

func TestOpenRequiresPath(t *testing.T) {
	s := newTestServer(t, nil)
	w := s.do(t, http.MethodPost, "/api/v1/session", map[string]string{"path": " "})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
	if msg := errorOf(t, w); msg != "path is required" {
		t.Fatalf("unexpected error: %q", msg)
	}
}

func TestActionsWithoutRepository(t *testing.T) {
	s := newTestServer(t, nil)
	for _, path := range []string{"/api/v1/session/pull", "/api/v1/session/push", "/api/v1/session/refresh"} {
		w := s.do(t, http.MethodPost, path, nil)
		if w.Code != http.StatusConflict {
			t.Errorf("%s: expected 409, got %d", path, w.Code)
		}
	}
}

func TestSelectUnknownFile(t *testing.T) {
	s := newTestServer(t, nil)
	s.openAndRefresh(t)

	w := s.do(t, http.MethodPut, "/api/v1/session/selection", map[string]string{"path": "missing.txt"})
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}

	w = s.do(t, http.MethodPut, "/api/v1/session/selection", map[string]string{"path": "a.txt"})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if got := s.session.Diff().Selected(); got != "a.txt" {
		t.Fatalf("expected a.txt selected, got %q", got)
	}
}

func TestRollbackRequiresConfirmation(t *testing.T) {
	s := newTestServer(t, nil)
	s.openAndRefresh(t)

	w := s.do(t, http.MethodPost, "/api/v1/session/rollback", map[string]bool{"confirm": false})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
	if s.session.LastOutcome() != nil {
		t.Fatal("unconfirmed rollback must not publish an outcome")
	}

	w = s.do(t, http.MethodPost, "/api/v1/session/rollback", map[string]bool{"confirm": true})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if o := s.session.LastOutcome(); o == nil || !o.OK || o.Action != workcopy.ActionRollback {
		t.Fatalf("unexpected outcome: %+v", o)
	}
}

func TestPushSurfacesBackendMessage(t *testing.T) {
	s := newTestServer(t, nil)
	s.backend.pushErr = displayError{msg: "rejected: non-fast-forward"}
	s.openAndRefresh(t)

	w := s.do(t, http.MethodPost, "/api/v1/session/push", nil)
	if w.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d", w.Code)
	}
	if msg := errorOf(t, w); msg != "rejected: non-fast-forward" {
		t.Fatalf("unexpected error: %q", msg)
	}
	o := s.session.LastOutcome()
	if o == nil || o.OK || o.Message != "rejected: non-fast-forward" {
		t.Fatalf("unexpected outcome: %+v", o)
	}
}

func TestPushReturnsCommit(t *testing.T) {
	s := newTestServer(t, nil)
	s.openAndRefresh(t)

	w := s.do(t, http.MethodPost, "/api/v1/session/push", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	resp := decode[struct {
		Commit  string            `json:"commit"`
		Outcome *workcopy.Outcome `json:"outcome"`
	}](t, w)
	if resp.Commit != "0123456789abcdef" {
		t.Fatalf("unexpected commit: %q", resp.Commit)
	}
	if resp.Outcome == nil || resp.Outcome.Message != "Pushed 0123456" {
		t.Fatalf("unexpected outcome: %+v", resp.Outcome)
	}
	if _, msg, _ := s.backend.recorded(); !strings.HasPrefix(msg, "repodeck: update ") {
		t.Fatalf("unexpected commit message: %q", msg)
	}
}

func TestBranchEndpoints(t *testing.T) {
	s := newTestServer(t, nil)
	s.openAndRefresh(t)

	w := s.do(t, http.MethodPut, "/api/v1/session/branches/source", map[string]string{"branch": "dev"})
	if w.Code != http.StatusOK {
		t.Fatalf("set source: expected 200, got %d", w.Code)
	}
	w = s.do(t, http.MethodPost, "/api/v1/session/branches", map[string]string{"name": "feature"})
	if w.Code != http.StatusCreated {
		t.Fatalf("create: expected 201, got %d: %s", w.Code, w.Body.String())
	}
	if _, _, source := s.backend.recorded(); source != "dev" {
		t.Fatalf("expected remembered source dev, got %q", source)
	}

	w = s.do(t, http.MethodPost, "/api/v1/session/branches", map[string]string{"name": ""})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("empty name: expected 400, got %d", w.Code)
	}

	w = s.do(t, http.MethodPost, "/api/v1/session/branches/checkout", map[string]string{"branch": "main"})
	if w.Code != http.StatusOK {
		t.Fatalf("checkout: expected 200, got %d", w.Code)
	}
	if cur := s.session.Branches().Current(); cur != "main" {
		t.Fatalf("expected main checked out, got %q", cur)
	}
}

func TestJournalEndpoint(t *testing.T) {
	t.Run("disabled", func(t *testing.T) {
		s := newTestServer(t, nil)
		w := s.do(t, http.MethodGet, "/api/v1/session/journal", nil)
		if w.Code != http.StatusNotFound {
			t.Fatalf("expected 404, got %d", w.Code)
		}
	})

	t.Run("lists outcomes of the active repository", func(t *testing.T) {
		j := &memJournal{}
		s := newTestServer(t, &rdhttp.Handlers{Journal: j})
		s.session.SetJournal(j)
		s.openAndRefresh(t)

		if w := s.do(t, http.MethodPost, "/api/v1/session/pull", nil); w.Code != http.StatusOK {
			t.Fatalf("pull: expected 200, got %d", w.Code)
		}
		w := s.do(t, http.MethodGet, "/api/v1/session/journal?limit=5", nil)
		if w.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", w.Code)
		}
		entries := decode[struct {
			Entries []journal.Entry `json:"entries"`
		}](t, w).Entries
		if len(entries) != 1 || entries[0].Outcome.Action != workcopy.ActionPull {
			t.Fatalf("unexpected entries: %+v", entries)
		}
		if entries[0].SessionID != s.session.ID() {
			t.Fatalf("expected session id %q, got %q", s.session.ID(), entries[0].SessionID)
		}

		w = s.do(t, http.MethodGet, "/api/v1/session/journal?limit=0", nil)
		if w.Code != http.StatusBadRequest {
			t.Fatalf("limit=0: expected 400, got %d", w.Code)
		}
	})
}

func TestPreferencesEndpoints(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prefs.yaml")
	prefs, err := uiprefs.Load(path)
	if err != nil {
		t.Fatal(err)
	}
	s := newTestServer(t, &rdhttp.Handlers{Preferences: prefs})

	w := s.do(t, http.MethodPut, "/api/v1/preferences", map[string]string{"theme": "neon"})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("unknown theme: expected 400, got %d", w.Code)
	}

	w = s.do(t, http.MethodPut, "/api/v1/preferences", map[string]string{"theme": "dark", "last_route": "/branches"})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	s.openAndRefresh(t)
	reloaded, err := uiprefs.Load(path)
	if err != nil {
		t.Fatal(err)
	}
	got := reloaded.Get()
	if got.Theme != "dark" || got.LastRoute != "/branches" {
		t.Fatalf("unexpected persisted preferences: %+v", got)
	}
	if err := prefs.Close(); err != nil {
		t.Fatal(err)
	}
	reloaded, err = uiprefs.Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if last := reloaded.Get().LastRepository; last == nil || last.Path != "/work/alpha" {
		t.Fatalf("expected last repository to be remembered, got %+v", last)
	}
}

func TestHealth(t *testing.T) {
	s := newTestServer(t, nil)
	w := s.do(t, http.MethodGet, "/health", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	body := decode[map[string]any](t, w)
	if body["status"] != "ok" || body["session"] != s.session.ID() {
		t.Fatalf("unexpected body: %v", body)
	}
}
