// Package nats publishes session events to NATS JetStream so out-of-process
// observers can follow the working copy.
package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

const (
	// StreamName is the JetStream stream capturing all session events.
	StreamName = "REPODECK"

	// HeaderEventType carries the event type on every published message.
	HeaderEventType = "Repodeck-Event"

	maxAge = 24 * time.Hour
)

// Publisher implements broadcast.Broadcaster on top of JetStream.
type Publisher struct {
	nc     *nats.Conn
	js     jetstream.JetStream
	prefix string
}

// Connect establishes a connection to NATS and ensures the event stream exists.
// Events are published under "<prefix>.<event type>".
func Connect(ctx context.Context, url, prefix string) (*Publisher, error) {
	nc, err := nats.Connect(url, nats.Name("repodeck"))
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("jetstream init: %w", err)
	}

	_, err = js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:     StreamName,
		Subjects: []string{prefix + ".>"},
		MaxAge:   maxAge,
	})
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("jetstream stream create: %w", err)
	}

	slog.Info("nats connected", "url", url, "stream", StreamName, "prefix", prefix)
	return &Publisher{nc: nc, js: js, prefix: prefix}, nil
}

// Subject returns the subject an event type is published on.
func (p *Publisher) Subject(eventType string) string {
	return p.prefix + "." + eventType
}

// BroadcastEvent publishes asynchronously; failures are logged, never returned.
func (p *Publisher) BroadcastEvent(_ context.Context, eventType string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		slog.Error("marshal nats event payload", "type", eventType, "error", err)
		return
	}

	msg := nats.NewMsg(p.Subject(eventType))
	msg.Header.Set(HeaderEventType, eventType)
	msg.Data = data

	if _, err := p.js.PublishMsgAsync(msg); err != nil {
		slog.Warn("nats publish failed", "subject", msg.Subject, "error", err)
	}
}

// Close flushes pending publishes and shuts down the connection.
func (p *Publisher) Close() error {
	select {
	case <-p.js.PublishAsyncComplete():
	case <-time.After(2 * time.Second):
		slog.Warn("nats close: pending publishes not acknowledged")
	}
	p.nc.Close()
	return nil
}
