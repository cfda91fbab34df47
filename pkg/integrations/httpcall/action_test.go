package httpcall_test

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phalanx-soar/phalanx/pkg/integrations/httpcall"
	"github.com/phalanx-soar/phalanx/pkg/protocol"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestAction_SuccessParsesJSON(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/lookup", r.URL.Path)

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "mailer@example.com", body["sender"])

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"known_bad": true, "score": 97}`))
	}))
	defer server.Close()

	action, err := httpcall.NewAction(map[string]any{"url": server.URL}, testLogger())
	require.NoError(t, err)

	result, err := action.Execute(context.Background(), protocol.Invocation{
		RunID:  "run-1",
		NodeID: "check-sender",
		Parameters: map[string]any{
			"path": "/lookup",
			"body": map[string]any{"sender": "mailer@example.com"},
		},
	})
	require.NoError(t, err)

	assert.Equal(t, 200, result.Outputs["status"])

	body, ok := result.Outputs["body"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, true, body["known_bad"])
}

func TestAction_StatusClassification(t *testing.T) {
	tests := []struct {
		status    int
		kind      protocol.ErrorKind
		retryable bool
	}{
		{http.StatusUnauthorized, protocol.ErrAuthFailure, false},
		{http.StatusForbidden, protocol.ErrAuthFailure, false},
		{http.StatusTooManyRequests, protocol.ErrRateLimited, true},
		{http.StatusBadRequest, protocol.ErrInvalidParameters, false},
		{http.StatusServiceUnavailable, protocol.ErrTransientNetworkError, true},
		{http.StatusInternalServerError, protocol.ErrRemoteError, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
			}))
			defer server.Close()

			action, err := httpcall.NewAction(map[string]any{"url": server.URL, "method": "GET"}, testLogger())
			require.NoError(t, err)

			_, err = action.Execute(context.Background(), protocol.Invocation{RunID: "run-1", NodeID: "n"})
			require.Error(t, err)

			actionErr := protocol.AsActionError(err)
			assert.Equal(t, tt.kind, actionErr.Kind)
			assert.Equal(t, tt.retryable, actionErr.Retryable())
		})
	}
}

func TestAction_NetworkFailureIsTransient(t *testing.T) {
	action, err := httpcall.NewAction(map[string]any{"url": "http://127.0.0.1:1"}, testLogger())
	require.NoError(t, err)

	_, err = action.Execute(context.Background(), protocol.Invocation{RunID: "run-1", NodeID: "n"})
	require.Error(t, err)

	actionErr := protocol.AsActionError(err)
	assert.Equal(t, protocol.ErrTransientNetworkError, actionErr.Kind)
	assert.True(t, actionErr.Retryable())
}

func TestNewAction_RequiresURL(t *testing.T) {
	_, err := httpcall.NewAction(map[string]any{}, testLogger())
	require.ErrorIs(t, err, httpcall.ErrURLRequired)
}
