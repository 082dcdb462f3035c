package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/Strob0t/repodeck/internal/config"
	"github.com/Strob0t/repodeck/internal/domain/workcopy"
	"github.com/Strob0t/repodeck/internal/port/gitbackend"
)

// fakeBackend is an in-memory gitbackend.Backend. Hooks run before a call
// returns and may block to simulate slow requests.
type fakeBackend struct {
	mu sync.Mutex

	diffs    map[string]string
	diffErr  error
	status   gitbackend.Status
	branches *workcopy.BranchState
	log      []workcopy.CommitLogEntry

	pull        *workcopy.PullResult
	pullErr     error
	pushHash    string
	pushErr     error
	rollbackErr error
	checkoutErr error
	createErr   error

	diffHook     func(path string)
	statusHook   func()
	checkoutHook func()

	calls       map[string]int
	lastMessage string
	lastSource  string
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		diffs:    make(map[string]string),
		branches: &workcopy.BranchState{Current: "main", All: []string{"main"}},
		calls:    make(map[string]int),
	}
}

func (f *fakeBackend) record(op string) {
	f.mu.Lock()
	f.calls[op]++
	f.mu.Unlock()
}

func (f *fakeBackend) count(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op]
}

func (f *fakeBackend) setDiff(path, raw string) {
	f.mu.Lock()
	f.diffs[path] = raw
	f.mu.Unlock()
}

func (f *fakeBackend) setBranches(s *workcopy.BranchState) {
	f.mu.Lock()
	f.branches = s
	f.mu.Unlock()
}

func (f *fakeBackend) Diff(_ context.Context, path string) (string, error) {
	f.record("diff")
	f.mu.Lock()
	hook := f.diffHook
	f.mu.Unlock()
	if hook != nil {
		hook(path)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.diffs[path], f.diffErr
}

func (f *fakeBackend) Status(context.Context, string) (*gitbackend.Status, error) {
	f.record("status")
	f.mu.Lock()
	hook := f.statusHook
	f.mu.Unlock()
	if hook != nil {
		hook()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	st := f.status
	return &st, nil
}

func (f *fakeBackend) Branches(context.Context, string) (*workcopy.BranchState, error) {
	f.record("branches")
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.branches == nil {
		return nil, nil
	}
	cp := cloneBranches(*f.branches)
	return &cp, nil
}

func (f *fakeBackend) Checkout(_ context.Context, _ string, branch string) error {
	f.record("checkout")
	f.mu.Lock()
	hook := f.checkoutHook
	f.mu.Unlock()
	if hook != nil {
		hook()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.checkoutErr != nil {
		return f.checkoutErr
	}
	if f.branches != nil {
		f.branches.Current = branch
	}
	return nil
}

func (f *fakeBackend) CreateBranch(_ context.Context, _ string, name, source string) error {
	f.record("create")
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastSource = source
	if f.createErr != nil {
		return f.createErr
	}
	if f.branches != nil {
		f.branches.All = append(f.branches.All, name)
		f.branches.Current = name
	}
	return nil
}

func (f *fakeBackend) Pull(context.Context, string) (*workcopy.PullResult, error) {
	f.record("pull")
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.pullErr != nil {
		return nil, f.pullErr
	}
	res := *f.pull
	// The merge leaves the branch as far behind as the result reports.
	f.status.Behind = res.AfterBehind
	return &res, nil
}

func (f *fakeBackend) CommitAndPush(_ context.Context, _ string, message string) (string, error) {
	f.record("push")
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastMessage = message
	return f.pushHash, f.pushErr
}

func (f *fakeBackend) Rollback(context.Context, string) error {
	f.record("rollback")
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.rollbackErr
}

func (f *fakeBackend) Log(context.Context, string) ([]workcopy.CommitLogEntry, error) {
	f.record("log")
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]workcopy.CommitLogEntry(nil), f.log...), nil
}

// preparingBackend adds clone-if-missing behaviour to fakeBackend.
type preparingBackend struct {
	*fakeBackend
	prepareErr error
}

func (p *preparingBackend) Prepare(context.Context, workcopy.Repository) error {
	p.record("prepare")
	return p.prepareErr
}

type userError struct{ msg string }

func (e *userError) Error() string       { return "backend: " + e.msg }
func (e *userError) UserMessage() string { return e.msg }

// mockBroadcaster records every event.
type mockBroadcaster struct {
	mu     sync.Mutex
	events []recordedEvent
}

type recordedEvent struct {
	eventType string
	payload   any
}

func (m *mockBroadcaster) BroadcastEvent(_ context.Context, eventType string, payload any) {
	m.mu.Lock()
	m.events = append(m.events, recordedEvent{eventType: eventType, payload: payload})
	m.mu.Unlock()
}

func (m *mockBroadcaster) count(eventType string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, e := range m.events {
		if e.eventType == eventType {
			n++
		}
	}
	return n
}

// memCache is a map-backed cache.Cache.
type memCache struct {
	mu   sync.Mutex
	data map[string][]byte
	gets int
	hits int
}

func newMemCache() *memCache { return &memCache{data: make(map[string][]byte)} }

func (c *memCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gets++
	v, ok := c.data[key]
	if ok {
		c.hits++
	}
	return v, ok, nil
}

func (c *memCache) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[key] = value
	return nil
}

func (c *memCache) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.data, key)
	return nil
}

var (
	repoA = workcopy.Repository{Provider: "github", Owner: "acme", Name: "alpha", Path: "/work/alpha"}
	repoB = workcopy.Repository{Provider: "github", Owner: "acme", Name: "beta", Path: "/work/beta"}
)

func syncDisabled() config.Sync { return config.Sync{} }

func actionsCfg() config.Actions { return config.Actions{CommitPrefix: "repodeck: update"} }

// newTestSession returns a session with polling disabled, opened on repoA.
func newTestSession(t *testing.T, backend gitbackend.Backend) (*Session, *mockBroadcaster) {
	t.Helper()
	hub := &mockBroadcaster{}
	s := NewSession(backend, hub, syncDisabled(), actionsCfg())
	t.Cleanup(s.Close)
	if err := s.Open(context.Background(), repoA); err != nil {
		t.Fatalf("open: %v", err)
	}
	return s, hub
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

const twoFileDiff = `diff --git a/a.txt b/a.txt
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

const oneFileDiff = `diff --git a/a.txt b/a.txt
index 1111111..2222222 100644
--- a/a.txt
+++ b/a.txt
@@ -1 +1 @@
-old
+new
`
