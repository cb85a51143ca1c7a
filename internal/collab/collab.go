// Package collab defines optional collaborator contracts around the session
// core: token issuance, event publishing, and inbound access policy. The core
// runs with the no-op defaults; deployments bind real integrations without
// the core depending on their presence.
package collab

import (
	"context"
	"time"
)

// TokenProvider issues bearer tokens for outbound calls to external services.
type TokenProvider interface {
	Token(ctx context.Context) (string, error)
}

// VoteEvent is a resolved (or partially resolved) poll vote handed to the
// event publisher.
type VoteEvent struct {
	InstanceID      string    `json:"instanceId"`
	TenantID        string    `json:"tenantId"`
	PhoneNumber     string    `json:"phoneNumber"`
	ChatID          string    `json:"chatId"`
	PollMessageID   string    `json:"pollMessageId"`
	Question        string    `json:"question"`
	Options         []string  `json:"options"`
	SelectedOptions []string  `json:"selectedOptions"`
	Voter           string    `json:"voter"`
	VoterName       string    `json:"voterName"`
	Resolved        bool      `json:"resolved"`
	Timestamp       time.Time `json:"timestamp"`
}

// MessageEvent is one inbound message accepted for downstream processing.
type MessageEvent struct {
	InstanceID  string    `json:"instanceId"`
	TenantID    string    `json:"tenantId"`
	PhoneNumber string    `json:"phoneNumber"`
	ChatID      string    `json:"chatId"`
	MessageID   string    `json:"messageId"`
	Sender      string    `json:"sender"`
	SenderName  string    `json:"senderName"`
	Text        string    `json:"text"`
	Timestamp   time.Time `json:"timestamp"`
}

// EventPublisher forwards vote and message events to an external consumer.
type EventPublisher interface {
	PublishVote(ctx context.Context, ev VoteEvent) error
	PublishMessage(ctx context.Context, ev MessageEvent) error
}

// AccessPolicy decides whether an inbound message should be processed.
type AccessPolicy interface {
	AllowInbound(ctx context.Context, tenantID, chatID, sender string) (bool, error)
}

// NopTokenProvider returns an empty token.
type NopTokenProvider struct{}

func (NopTokenProvider) Token(context.Context) (string, error) { return "", nil }

// StaticTokenProvider always returns the same pre-shared token.
type StaticTokenProvider string

func (t StaticTokenProvider) Token(context.Context) (string, error) { return string(t), nil }

// NopPublisher drops all events.
type NopPublisher struct{}

func (NopPublisher) PublishVote(context.Context, VoteEvent) error       { return nil }
func (NopPublisher) PublishMessage(context.Context, MessageEvent) error { return nil }

// AllowAll admits every inbound message.
type AllowAll struct{}

func (AllowAll) AllowInbound(context.Context, string, string, string) (bool, error) {
	return true, nil
}
