// Package transport defines the boundary to the downstream messaging network.
// The queue depends only on the Transport interface; a concrete network
// client is wired in at startup. This keeps the dispatch pipeline free of any
// provider protocol knowledge and lets tests substitute deterministic fakes.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Transport delivers one payload to one destination and returns the
// provider-assigned message ID. Implementations may block on I/O; the caller
// bounds the call with a deadline. Destination suffixing or any other
// provider-specific addressing happens inside the implementation.
type Transport interface {
	Send(ctx context.Context, destination, payload string) (providerMessageID string, err error)
}

// LogTransport is the local/offline implementation used when no provider is
// configured: it logs the delivery and fabricates a provider message ID.
// Useful for development and demos; never for production.
type LogTransport struct{}

// Send logs the outbound message and returns a generated ID.
func (LogTransport) Send(ctx context.Context, destination, payload string) (string, error) {
	id := "local-" + uuid.NewString()
	log.Info().
		Str("destination", destination).
		Int("payload_bytes", len(payload)).
		Str("provider_message_id", id).
		Msg("log transport delivery")
	return id, nil
}

// HTTPTransport delivers messages by POSTing JSON to a provider endpoint.
// The provider is expected to answer 2xx with a body containing the
// assigned message ID.
type HTTPTransport struct {
	url    string
	token  string
	client *http.Client
}

// NewHTTPTransport builds a transport for the given provider endpoint.
// token may be empty; when set it is sent as a bearer token.
func NewHTTPTransport(url, token string, timeout time.Duration) *HTTPTransport {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPTransport{
		url:    url,
		token:  token,
		client: &http.Client{Timeout: timeout},
	}
}

type providerSendRequest struct {
	To      string `json:"to"`
	Content string `json:"content"`
}

type providerSendResponse struct {
	MessageID string `json:"messageId"`
}

// Send posts the payload and returns the provider's message ID. Non-2xx
// responses and responses without a message ID are errors so the dispatch
// pipeline retries them.
func (t *HTTPTransport) Send(ctx context.Context, destination, payload string) (string, error) {
	reqBody, err := json.Marshal(providerSendRequest{To: destination, Content: payload})
	if err != nil {
		return "", fmt.Errorf("transport: encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.url, bytes.NewReader(reqBody))
	if err != nil {
		return "", fmt.Errorf("transport: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if t.token != "" {
		req.Header.Set("Authorization", "Bearer "+t.token)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("transport: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("transport: provider status %d body=%q", resp.StatusCode, body)
	}

	var sr providerSendResponse
	if err := json.Unmarshal(body, &sr); err != nil {
		return "", fmt.Errorf("transport: decode response: %w body=%q", err, body)
	}
	if sr.MessageID == "" {
		return "", fmt.Errorf("transport: provider response missing messageId body=%q", body)
	}
	return sr.MessageID, nil
}
