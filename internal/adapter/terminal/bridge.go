// Package terminal bridges a local terminal to the assistant's terminal
// socket. Binary frames carry raw terminal bytes in both directions; text
// frames carry JSON control messages.
package terminal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/coder/websocket"
	"golang.org/x/sync/errgroup"
)

// Control message types.
const (
	TypeResize = "resize"
	TypeExit   = "exit"
)

// readLimit bounds a single frame from the server.
const readLimit = 1 << 20

// Size is a terminal window size in character cells.
type Size struct {
	Cols int `json:"cols"`
	Rows int `json:"rows"`
}

// ControlMessage is the JSON body of a text frame.
type ControlMessage struct {
	Type string `json:"type"`
	Cols int    `json:"cols,omitempty"`
	Rows int    `json:"rows,omitempty"`
	Code int    `json:"code,omitempty"`
}

// ExitError reports that the remote side ended the session with a non-zero code.
type ExitError struct {
	Code int
}

func (e *ExitError) Error() string { return fmt.Sprintf("remote terminal exited with code %d", e.Code) }

// Bridge is one attached terminal connection.
type Bridge struct {
	conn *websocket.Conn
}

// Dial connects to the terminal socket at url.
func Dial(ctx context.Context, url string, header http.Header) (*Bridge, error) {
	conn, _, err := websocket.Dial(ctx, url, &websocket.DialOptions{HTTPHeader: header})
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	conn.SetReadLimit(readLimit)
	return &Bridge{conn: conn}, nil
}

// Resize tells the remote side the new window size.
func (b *Bridge) Resize(ctx context.Context, s Size) error {
	data, err := json.Marshal(ControlMessage{Type: TypeResize, Cols: s.Cols, Rows: s.Rows})
	if err != nil {
		return err
	}
	return b.conn.Write(ctx, websocket.MessageText, data)
}

// Run copies in to the socket and the socket to out until the remote side
// closes, ctx is cancelled or a copy fails. Sizes received on resize are
// forwarded as control messages. The end of in does not end the session, and
// a read from in that never returns does not keep Run from finishing.
func (b *Bridge) Run(ctx context.Context, in io.Reader, out io.Writer, resize <-chan Size) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return b.pump(gctx, out) })
	g.Go(func() error { return b.forwardResizes(gctx, resize) })

	inErr := make(chan error, 1)
	go func() { inErr <- b.forwardInput(gctx, in) }()
	g.Go(func() error {
		select {
		case err := <-inErr:
			if err != nil && !errors.Is(err, io.EOF) {
				return err
			}
			// Input ended; output keeps flowing until the remote side closes.
			<-gctx.Done()
			return nil
		case <-gctx.Done():
			return nil
		}
	})

	err := g.Wait()
	_ = b.conn.Close(websocket.StatusNormalClosure, "")
	var exit *ExitError
	switch {
	case errors.As(err, &exit):
		if exit.Code == 0 {
			return nil
		}
		return err
	case err == nil, errors.Is(err, context.Canceled):
		return nil
	case websocket.CloseStatus(err) == websocket.StatusNormalClosure:
		return nil
	default:
		return err
	}
}

// pump writes terminal output to out and handles control messages.
func (b *Bridge) pump(ctx context.Context, out io.Writer) error {
	for {
		typ, data, err := b.conn.Read(ctx)
		if err != nil {
			return err
		}
		if typ == websocket.MessageBinary {
			if _, err := out.Write(data); err != nil {
				return fmt.Errorf("write output: %w", err)
			}
			continue
		}

		var msg ControlMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			slog.DebugContext(ctx, "ignoring malformed control message", "error", err)
			continue
		}
		if msg.Type == TypeExit {
			return &ExitError{Code: msg.Code}
		}
	}
}

func (b *Bridge) forwardInput(ctx context.Context, in io.Reader) error {
	buf := make([]byte, 4096)
	for {
		n, err := in.Read(buf)
		if n > 0 {
			if werr := b.conn.Write(ctx, websocket.MessageBinary, buf[:n]); werr != nil {
				return werr
			}
		}
		if err != nil {
			return err
		}
	}
}

func (b *Bridge) forwardResizes(ctx context.Context, resize <-chan Size) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case s, ok := <-resize:
			if !ok {
				// No more resizes; keep running until the session ends.
				<-ctx.Done()
				return nil
			}
			if err := b.Resize(ctx, s); err != nil {
				return err
			}
		}
	}
}
