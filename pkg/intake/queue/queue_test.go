package queue

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phalanx-soar/phalanx/pkg/protocol"
)

type recorder struct {
	mu       sync.Mutex
	requests []protocol.TriggerRequest
	received chan struct{}
}

func newRecorder() *recorder {
	return &recorder{received: make(chan struct{}, 16)}
}

func (r *recorder) callback(_ context.Context, req protocol.TriggerRequest) error {
	r.mu.Lock()
	r.requests = append(r.requests, req)
	r.mu.Unlock()

	r.received <- struct{}{}

	return nil
}

func (r *recorder) all() []protocol.TriggerRequest {
	r.mu.Lock()
	defer r.mu.Unlock()

	return append([]protocol.TriggerRequest{}, r.requests...)
}

func startSource(t *testing.T, addr string) (*Source, *recorder) {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	source, err := NewSource(logger, Config{Addr: addr, Queue: "alerts"})
	require.NoError(t, err)

	rec := newRecorder()
	require.NoError(t, source.Start(context.Background(), rec.callback))

	t.Cleanup(func() { _ = source.Stop(context.Background()) })

	return source, rec
}

func TestQueueIntakeTriggersRuns(t *testing.T) {
	server := miniredis.RunT(t)
	_, rec := startSource(t, server.Addr())

	_, err := server.Lpush("alerts", `{
		"playbook_id": "phish-triage",
		"case_title": "Suspicious email",
		"severity": "high",
		"inputs": {"alert": {"message_id": "m-9"}}
	}`)
	require.NoError(t, err)

	select {
	case <-rec.received:
	case <-time.After(3 * time.Second):
		t.Fatal("no trigger request received")
	}

	requests := rec.all()
	require.Len(t, requests, 1)
	assert.Equal(t, "phish-triage", requests[0].PlaybookID)
	assert.Equal(t, "Suspicious email", requests[0].CaseTitle)
	assert.Equal(t, "high", requests[0].Severity)
	assert.Equal(t, map[string]any{"message_id": "m-9"}, requests[0].Inputs["alert"])
}

func TestQueueIntakeDropsMalformedMessages(t *testing.T) {
	server := miniredis.RunT(t)
	_, rec := startSource(t, server.Addr())

	_, err := server.Lpush("alerts", "not json at all")
	require.NoError(t, err)
	_, err = server.Lpush("alerts", `{"case_title": "missing playbook"}`)
	require.NoError(t, err)
	_, err = server.Lpush("alerts", `{"playbook_id": "phish-triage"}`)
	require.NoError(t, err)

	select {
	case <-rec.received:
	case <-time.After(3 * time.Second):
		t.Fatal("no trigger request received")
	}

	requests := rec.all()
	require.Len(t, requests, 1)
	assert.Equal(t, "phish-triage", requests[0].PlaybookID)
}

func TestQueueIntakeRequiresQueueName(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	_, err := NewSource(logger, Config{Addr: "localhost:6379"})
	require.Error(t, err)
}
