package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
)

// Telephony is the outbound messaging and calling collaborator. The engine
// only depends on this interface; the vendor binding lives behind it.
type Telephony interface {
	SendMessage(ctx context.Context, to, body string) (id string, err error)
	PlaceCall(ctx context.Context, to, script string) (id string, err error)
}

// httpTelephony posts JSON requests to a telephony relay endpoint.
type httpTelephony struct {
	baseURL string
	client  *http.Client
}

// NewHTTPTelephony creates a Telephony client against the given relay base
// URL. Timeouts are enforced by the caller's context, not the client.
func NewHTTPTelephony(baseURL string) Telephony {
	return &httpTelephony{baseURL: baseURL, client: &http.Client{}}
}

type telephonyRequest struct {
	To     string `json:"to"`
	Body   string `json:"body,omitempty"`
	Script string `json:"script,omitempty"`
}

type telephonyResponse struct {
	OK    bool   `json:"ok"`
	ID    string `json:"id,omitempty"`
	Error string `json:"error,omitempty"`
}

// SendMessage sends an SMS through the relay.
func (t *httpTelephony) SendMessage(ctx context.Context, to, body string) (string, error) {
	return t.post(ctx, t.baseURL+"/messages", telephonyRequest{To: to, Body: body})
}

// PlaceCall starts an outbound call that reads the given script.
func (t *httpTelephony) PlaceCall(ctx context.Context, to, script string) (string, error) {
	return t.post(ctx, t.baseURL+"/calls", telephonyRequest{To: to, Script: script})
}

func (t *httpTelephony) post(ctx context.Context, url string, payload telephonyRequest) (string, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshaling telephony request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("building telephony request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("posting to telephony relay: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("telephony relay returned status %d", resp.StatusCode)
	}

	var decoded telephonyResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return "", fmt.Errorf("decoding telephony response: %w", err)
	}
	if !decoded.OK {
		return "", fmt.Errorf("telephony relay rejected request: %s", decoded.Error)
	}
	return decoded.ID, nil
}
