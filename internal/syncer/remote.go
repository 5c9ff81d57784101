package syncer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/lightfastai/switchboard/internal/protocol"
)

// HTTPRemote mirrors sessions to a REST endpoint. The remote owns its own
// storage semantics; this client only guarantees the payload shapes match
// the corresponding ledger events.
type HTTPRemote struct {
	baseURL string
	client  *http.Client
}

// NewHTTPRemote creates a remote store client for baseURL.
func NewHTTPRemote(baseURL string) *HTTPRemote {
	return &HTTPRemote{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

func (r *HTTPRemote) CreateSession(ctx context.Context, session protocol.Session) error {
	return r.post(ctx, "/sessions", session)
}

func (r *HTTPRemote) AppendMessage(ctx context.Context, sessionID string, msg protocol.ChatMessage) error {
	return r.post(ctx, "/sessions/"+url.PathEscape(sessionID)+"/messages", msg)
}

func (r *HTTPRemote) UpdateStatus(ctx context.Context, sessionID string, status protocol.SessionStatus) error {
	payload := map[string]any{"status": status}
	return r.post(ctx, "/sessions/"+url.PathEscape(sessionID)+"/status", payload)
}

func (r *HTTPRemote) post(ctx context.Context, path string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("remote returned %s for %s", resp.Status, path)
	}
	return nil
}

var _ RemoteStore = (*HTTPRemote)(nil)
