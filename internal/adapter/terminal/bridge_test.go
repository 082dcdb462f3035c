package terminal

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
)

// fakeTerminal echoes binary input upper-cased, records resize messages and
// ends the session with an exit message once it has seen "exit".
type fakeTerminal struct {
	mu      sync.Mutex
	resizes []Size
	code    int
}

func (f *fakeTerminal) sizes() []Size {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Size(nil), f.resizes...)
}

func (f *fakeTerminal) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		return
	}
	defer conn.CloseNow()

	ctx := r.Context()
	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			return
		}
		if typ == websocket.MessageText {
			var msg ControlMessage
			if json.Unmarshal(data, &msg) == nil && msg.Type == TypeResize {
				f.mu.Lock()
				f.resizes = append(f.resizes, Size{Cols: msg.Cols, Rows: msg.Rows})
				f.mu.Unlock()
			}
			continue
		}
		if err := conn.Write(ctx, websocket.MessageBinary, bytes.ToUpper(data)); err != nil {
			return
		}
		if strings.Contains(string(data), "exit") {
			exit, _ := json.Marshal(ControlMessage{Type: TypeExit, Code: f.code})
			_ = conn.Write(ctx, websocket.MessageText, exit)
			return
		}
	}
}

func wsURL(httpURL string) string {
	return "ws" + strings.TrimPrefix(httpURL, "http")
}

// syncBuffer is a bytes.Buffer safe for concurrent use.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestBridgeRoundTrip(t *testing.T) {
	term := &fakeTerminal{}
	srv := httptest.NewServer(term)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	b, err := Dial(ctx, wsURL(srv.URL), nil)
	if err != nil {
		t.Fatal(err)
	}

	// Sent before any input, so the server has recorded it by the time it
	// answers.
	if err := b.Resize(ctx, Size{Cols: 80, Rows: 24}); err != nil {
		t.Fatal(err)
	}

	var out syncBuffer
	if err := b.Run(ctx, strings.NewReader("ls\nexit\n"), &out, nil); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if got := out.String(); !strings.Contains(got, "EXIT") {
		t.Fatalf("expected echoed output, got %q", got)
	}
	sizes := term.sizes()
	if len(sizes) == 0 || sizes[0] != (Size{Cols: 80, Rows: 24}) {
		t.Fatalf("unexpected resizes: %+v", sizes)
	}
}

func TestBridgeNonZeroExit(t *testing.T) {
	srv := httptest.NewServer(&fakeTerminal{code: 3})
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	b, err := Dial(ctx, wsURL(srv.URL), nil)
	if err != nil {
		t.Fatal(err)
	}
	err = b.Run(ctx, strings.NewReader("exit"), &syncBuffer{}, nil)
	var exit *ExitError
	if !errors.As(err, &exit) || exit.Code != 3 {
		t.Fatalf("expected exit code 3, got %v", err)
	}
}

func TestDialFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := Dial(ctx, wsURL(srv.URL), nil); err == nil {
		t.Fatal("expected dial error")
	}
}
