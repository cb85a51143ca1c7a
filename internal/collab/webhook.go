package collab

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// WebhookPublisher posts vote and message events as JSON to a single
// downstream endpoint, authenticating each request with a token from the
// provider. The body wraps the event in an envelope carrying its kind.
type WebhookPublisher struct {
	url    string
	tokens TokenProvider
	client *http.Client
}

// NewWebhookPublisher returns a publisher posting to url. A nil tokens
// provider sends unauthenticated requests.
func NewWebhookPublisher(url string, tokens TokenProvider) *WebhookPublisher {
	if tokens == nil {
		tokens = NopTokenProvider{}
	}
	return &WebhookPublisher{
		url:    url,
		tokens: tokens,
		client: &http.Client{Timeout: 15 * time.Second},
	}
}

func (p *WebhookPublisher) PublishVote(ctx context.Context, ev VoteEvent) error {
	return p.post(ctx, "poll_vote", ev)
}

func (p *WebhookPublisher) PublishMessage(ctx context.Context, ev MessageEvent) error {
	return p.post(ctx, "message", ev)
}

func (p *WebhookPublisher) post(ctx context.Context, kind string, event any) error {
	body, err := json.Marshal(struct {
		Type  string `json:"type"`
		Event any    `json:"event"`
	}{Type: kind, Event: event})
	if err != nil {
		return fmt.Errorf("collab: encode %s event: %w", kind, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("collab: build %s request: %w", kind, err)
	}
	req.Header.Set("Content-Type", "application/json")

	token, err := p.tokens.Token(ctx)
	if err != nil {
		return fmt.Errorf("collab: token for %s event: %w", kind, err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("collab: post %s event: %w", kind, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	if resp.StatusCode >= http.StatusMultipleChoices {
		return fmt.Errorf("collab: post %s event: status %d", kind, resp.StatusCode)
	}
	return nil
}
