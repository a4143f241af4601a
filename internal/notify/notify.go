// Package notify publishes sync reports to interested parties.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"fixturecal/internal/changelog"
)

// Message is the published form of one sync run.
type Message struct {
	RunID      string            `json:"run_id"`
	StartedAt  time.Time         `json:"started_at"`
	FinishedAt time.Time         `json:"finished_at"`
	Failed     []string          `json:"failed,omitempty"`
	Changes    []changelog.Entry `json:"changes"`
}

// Notifier delivers a Message.
type Notifier interface {
	Notify(ctx context.Context, msg Message) error
}

// Nop discards every message.
type Nop struct{}

func (Nop) Notify(context.Context, Message) error { return nil }

// Publisher is the subset of a NATS connection NATS needs.
type Publisher interface {
	Publish(subject string, payload []byte) error
}

// NATS publishes each message as JSON on Subject.
type NATS struct {
	Pub     Publisher
	Subject string

	// SkipEmpty suppresses runs that changed nothing and had no failures.
	SkipEmpty bool
}

func (n *NATS) Notify(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if n.SkipEmpty && len(msg.Changes) == 0 && len(msg.Failed) == 0 {
		return nil
	}
	if msg.Changes == nil {
		msg.Changes = []changelog.Entry{}
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode run %s: %w", msg.RunID, err)
	}
	if err := n.Pub.Publish(n.Subject, payload); err != nil {
		return fmt.Errorf("publish run %s on %s: %w", msg.RunID, n.Subject, err)
	}
	return nil
}

// Conn wraps a core NATS connection.
type Conn struct {
	*nats.Conn
}

// Connect dials url with the client name set.
func Connect(url string) (*Conn, error) {
	nc, err := nats.Connect(url, nats.Name("fixturecal"), nats.MaxReconnects(-1))
	if err != nil {
		return nil, err
	}
	return &Conn{Conn: nc}, nil
}

// ConnectWithRetry keeps dialing until it succeeds or timeout elapses.
func ConnectWithRetry(url string, timeout time.Duration) (*Conn, error) {
	deadline := time.Now().Add(timeout)
	var lastErr error
	for time.Now().Before(deadline) {
		c, err := Connect(url)
		if err == nil {
			return c, nil
		}
		lastErr = err
		time.Sleep(500 * time.Millisecond)
	}
	return nil, fmt.Errorf("connect nats timeout after %s: %w", timeout, lastErr)
}

// Close drains and closes the connection.
func (c *Conn) Close() {
	if c == nil || c.Conn == nil {
		return
	}
	_ = c.Conn.Drain()
	c.Conn.Close()
}
