// Package httpcall provides the generic HTTP action used to reach external
// security tools: enrichment services, EDR consoles, mail gateways. Response
// status codes are mapped onto the action error kinds so the engine's retry
// policy can tell transient faults from permanent ones.
package httpcall

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/phalanx-soar/phalanx/pkg/protocol"
)

const defaultTimeout = 30 * time.Second

var ErrURLRequired = errors.New("http_call requires a 'url' in configuration")

// Action performs one HTTP request per invocation.
type Action struct {
	url     string
	method  string
	headers map[string]string
	client  *http.Client
	logger  *slog.Logger
}

// NewAction builds an HTTP call action from node configuration. Invocation
// parameters may add a path suffix, a JSON body, and query values.
func NewAction(config map[string]any, logger *slog.Logger) (*Action, error) {
	url, ok := config["url"].(string)
	if !ok || url == "" {
		return nil, ErrURLRequired
	}

	method, _ := config["method"].(string)
	if method == "" {
		method = http.MethodPost
	}

	headers := make(map[string]string)

	if headersConfig, exists := config["headers"]; exists {
		if headersMap, ok := headersConfig.(map[string]any); ok {
			for k, v := range headersMap {
				if strVal, ok := v.(string); ok {
					headers[k] = strVal
				}
			}
		}
	}

	return &Action{
		url:     url,
		method:  strings.ToUpper(method),
		headers: headers,
		client:  &http.Client{Timeout: defaultTimeout},
		logger:  logger.With("module", "http_call_action"),
	}, nil
}

func (a *Action) Execute(ctx context.Context, inv protocol.Invocation) (*protocol.ActionResult, error) {
	url := a.url
	if path, ok := inv.Parameters["path"].(string); ok {
		url += path
	}

	var body io.Reader

	if payload, exists := inv.Parameters["body"]; exists {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, protocol.NewActionError(protocol.ErrInvalidParameters, "failed to encode request body", err)
		}

		body = strings.NewReader(string(data))
	}

	req, err := http.NewRequestWithContext(ctx, a.method, url, body)
	if err != nil {
		return nil, protocol.NewActionError(protocol.ErrInvalidParameters, "failed to build request", err)
	}

	req.Header.Set("Content-Type", "application/json")

	for k, v := range a.headers {
		req.Header.Set(k, v)
	}

	a.logger.InfoContext(ctx, "Executing HTTP call",
		"method", a.method, "url", url, "run_id", inv.RunID, "node_id", inv.NodeID)

	resp, err := a.client.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, protocol.NewActionError(protocol.ErrTimeout, "request timed out", err)
		}

		return nil, protocol.NewActionError(protocol.ErrTransientNetworkError, "request failed", err)
	}

	defer func() {
		if err := resp.Body.Close(); err != nil {
			a.logger.ErrorContext(ctx, "failed to close response body", "error", err)
		}
	}()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, protocol.NewActionError(protocol.ErrTransientNetworkError, "failed to read response", err)
	}

	if err := classifyStatus(resp.StatusCode); err != nil {
		return nil, err
	}

	outputs := map[string]any{
		"status": resp.StatusCode,
	}

	var parsed any
	if json.Unmarshal(data, &parsed) == nil {
		outputs["body"] = parsed
	} else {
		outputs["body"] = string(data)
	}

	return &protocol.ActionResult{Outputs: outputs}, nil
}

// classifyStatus maps HTTP status codes onto action error kinds. Gateway
// level failures retry; authentication and validation failures do not.
func classifyStatus(status int) error {
	switch {
	case status < 400:
		return nil
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return protocol.NewActionError(protocol.ErrAuthFailure,
			fmt.Sprintf("remote rejected credentials (status %d)", status), nil)
	case status == http.StatusTooManyRequests:
		return protocol.NewActionError(protocol.ErrRateLimited, "remote rate limit hit", nil)
	case status == http.StatusRequestTimeout:
		return protocol.NewActionError(protocol.ErrTimeout, "remote timed out", nil)
	case status == http.StatusBadRequest || status == http.StatusUnprocessableEntity:
		return protocol.NewActionError(protocol.ErrInvalidParameters,
			fmt.Sprintf("remote rejected parameters (status %d)", status), nil)
	case status == http.StatusBadGateway || status == http.StatusServiceUnavailable || status == http.StatusGatewayTimeout:
		return protocol.NewActionError(protocol.ErrTransientNetworkError,
			fmt.Sprintf("remote unavailable (status %d)", status), nil)
	default:
		return protocol.NewActionError(protocol.ErrRemoteError,
			fmt.Sprintf("remote returned status %d", status), nil)
	}
}
