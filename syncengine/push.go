package syncengine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"time"

	"bitbucket.org/mmdatafocus/pos_device/models"
)

// Outcome classifies a push attempt. Retryable failures are re-queued with
// backoff; permanent ones burn through a bounded budget before the entry is
// parked dead; conflicts and auth failures get their own handling.
type Outcome string

const (
	OutcomeSuccess   Outcome = "success"
	OutcomeRetryable Outcome = "retryable"
	OutcomeConflict  Outcome = "conflict"
	OutcomePermanent Outcome = "permanent"
	OutcomeAuth      Outcome = "auth"
)

type PushRequest struct {
	ShopId          string            `json:"shopId"`
	EntityType      models.EntityType `json:"entityType"`
	Action          models.SyncAction `json:"action"`
	Payload         json.RawMessage   `json:"payload"`
	IdempotencyKey  string            `json:"idempotencyKey"`
	BaseUpdatedAtMs int64             `json:"baseUpdatedAtMs"`
	Force           bool              `json:"force"`
}

type pushResponseBody struct {
	Success bool            `json:"success"`
	Entity  json.RawMessage `json:"entity"`
	Server  json.RawMessage `json:"server"`
	Message string          `json:"message"`
}

// PushResult carries the classified outcome plus whatever snapshot the server
// attached. On conflict Server holds the server's current version of the
// entity; on success Entity may hold the acknowledged row.
type PushResult struct {
	Outcome    Outcome
	StatusCode int
	Entity     json.RawMessage
	Server     json.RawMessage
	Err        error
}

// ServerClient talks to the backend's offline sync endpoints. One instance per
// process; the underlying http.Client is safe for concurrent use.
type ServerClient struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

func NewServerClient() *ServerClient {
	baseURL := os.Getenv("SYNC_API_BASE_URL")
	if baseURL == "" {
		baseURL = "http://localhost:8080"
	}

	timeoutMs := 10000
	if raw := os.Getenv("SYNC_PUSH_TIMEOUT_MS"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			timeoutMs = parsed
		}
	}

	return &ServerClient{
		baseURL: baseURL,
		apiKey:  os.Getenv("SYNC_API_KEY"),
		client:  &http.Client{Timeout: time.Duration(timeoutMs) * time.Millisecond},
	}
}

func (c *ServerClient) BaseURL() string {
	return c.baseURL
}

// ProbeURL is the lightweight endpoint the connectivity observer pings.
func (c *ServerClient) ProbeURL() string {
	return c.baseURL + "/healthz"
}

// Push sends one queued mutation and classifies the response. Network errors
// and 5xx are retryable; 409 is a conflict carrying the server snapshot;
// 401/403 is an auth failure; any other 4xx is treated as permanent.
func (c *ServerClient) Push(ctx context.Context, req PushRequest) PushResult {
	body, err := json.Marshal(req)
	if err != nil {
		return PushResult{Outcome: OutcomePermanent, Err: fmt.Errorf("encode push request: %w", err)}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/offline/push", bytes.NewReader(body))
	if err != nil {
		return PushResult{Outcome: OutcomePermanent, Err: err}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("X-API-Key", c.apiKey)
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return PushResult{Outcome: OutcomeRetryable, Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return PushResult{Outcome: OutcomeRetryable, StatusCode: resp.StatusCode, Err: err}
	}

	var decoded pushResponseBody
	_ = json.Unmarshal(respBody, &decoded)

	result := PushResult{
		StatusCode: resp.StatusCode,
		Entity:     decoded.Entity,
		Server:     decoded.Server,
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		result.Outcome = OutcomeSuccess
	case resp.StatusCode == http.StatusConflict:
		result.Outcome = OutcomeConflict
		result.Err = fmt.Errorf("server rejected mutation: %s", messageOrStatus(decoded.Message, resp.StatusCode))
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		result.Outcome = OutcomeAuth
		result.Err = fmt.Errorf("authentication failed: %s", messageOrStatus(decoded.Message, resp.StatusCode))
	case resp.StatusCode == http.StatusRequestTimeout || resp.StatusCode == http.StatusTooManyRequests:
		result.Outcome = OutcomeRetryable
		result.Err = fmt.Errorf("server busy: %s", messageOrStatus(decoded.Message, resp.StatusCode))
	case resp.StatusCode >= 500:
		result.Outcome = OutcomeRetryable
		result.Err = fmt.Errorf("server error: %s", messageOrStatus(decoded.Message, resp.StatusCode))
	default:
		result.Outcome = OutcomePermanent
		result.Err = fmt.Errorf("server refused mutation: %s", messageOrStatus(decoded.Message, resp.StatusCode))
	}
	return result
}

// FetchSnapshot retrieves the server's current version of one entity. Returns
// found=false when the server no longer has it.
func (c *ServerClient) FetchSnapshot(ctx context.Context, entityType models.EntityType, entityId string) ([]byte, bool, error) {
	url := fmt.Sprintf("%s/offline/%s/%s", c.baseURL, entityType, entityId)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, false, err
	}
	if c.apiKey != "" {
		httpReq.Header.Set("X-API-Key", c.apiKey)
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, false, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, false, nil
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, false, fmt.Errorf("fetch snapshot %s/%s: status %d", entityType, entityId, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, false, err
	}

	// The endpoint may wrap the row in {"entity": ...}; unwrap when it does.
	var wrapped struct {
		Entity json.RawMessage `json:"entity"`
	}
	if err := json.Unmarshal(body, &wrapped); err == nil && len(wrapped.Entity) > 0 {
		return wrapped.Entity, true, nil
	}
	return body, true, nil
}

func messageOrStatus(message string, statusCode int) string {
	if message != "" {
		return message
	}
	return "status " + strconv.Itoa(statusCode)
}
