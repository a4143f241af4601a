package notify

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fixturecal/internal/changelog"
)

type fakePublisher struct {
	subject string
	payload []byte
	err     error
	calls   int
}

func (f *fakePublisher) Publish(subject string, payload []byte) error {
	f.calls++
	f.subject = subject
	f.payload = payload
	return f.err
}

func TestNATS_PublishesJSON(t *testing.T) {
	pub := &fakePublisher{}
	n := &NATS{Pub: pub, Subject: "fixturecal.changes"}
	started := time.Date(2025, 8, 1, 12, 0, 0, 0, time.UTC)

	err := n.Notify(context.Background(), Message{
		RunID:      "run-1",
		StartedAt:  started,
		FinishedAt: started.Add(time.Second),
		Changes:    []changelog.Entry{changelog.Removed("home", 3)},
	})
	require.NoError(t, err)
	assert.Equal(t, "fixturecal.changes", pub.subject)
	assert.JSONEq(t, `{
		"run_id": "run-1",
		"started_at": "2025-08-01T12:00:00Z",
		"finished_at": "2025-08-01T12:00:01Z",
		"changes": [{"kind": "removed", "calendar": "home", "game_id": 3}]
	}`, string(pub.payload))
}

func TestNATS_SkipEmpty(t *testing.T) {
	pub := &fakePublisher{}
	n := &NATS{Pub: pub, Subject: "s", SkipEmpty: true}
	require.NoError(t, n.Notify(context.Background(), Message{RunID: "r"}))
	assert.Zero(t, pub.calls)

	require.NoError(t, n.Notify(context.Background(), Message{RunID: "r", Failed: []string{"home"}}))
	assert.Equal(t, 1, pub.calls)

	var msg map[string]any
	require.NoError(t, json.Unmarshal(pub.payload, &msg))
	assert.Equal(t, []any{}, msg["changes"])
}

func TestNATS_PublishError(t *testing.T) {
	boom := errors.New("no responders")
	n := &NATS{Pub: &fakePublisher{err: boom}, Subject: "s"}
	assert.ErrorIs(t, n.Notify(context.Background(), Message{RunID: "r"}), boom)
}

func TestNop(t *testing.T) {
	var n Notifier = Nop{}
	assert.NoError(t, n.Notify(context.Background(), Message{}))
}

func TestConnectWithRetry_TimesOut(t *testing.T) {
	_, err := ConnectWithRetry("nats://127.0.0.1:1", 10*time.Millisecond)
	assert.Error(t, err)
}
