// Package engine defines the boundary contract with the external messaging
// protocol engine. The engine owns the wire protocol, handshake, and all
// cryptography; this package only names the lifecycle surface the rest of
// the gateway drives.
package engine

import (
	"context"
	"errors"
	"strings"
	"time"
)

var ErrSocketEnded = errors.New("engine: socket ended")

// DirectSuffix is appended to bare phone numbers to form a direct address.
const DirectSuffix = "@s.whatsapp.net"

// GroupSuffix marks group conversation addresses.
const GroupSuffix = "@g.us"

// Engine opens protocol sessions bound to on-disk credential stores and
// exposes the vote-decryption primitive.
type Engine interface {
	// OpenSession binds a new socket to the credential store at dir. The
	// directory must exist; an empty store begins an unauthenticated session
	// that will issue a QR payload.
	OpenSession(credentialDir string) (Socket, error)

	// DecryptVote decrypts one poll-vote ciphertext and returns the opaque
	// selected-option hashes. The engine implements the cryptography; callers
	// match the hashes against candidate option text themselves.
	DecryptVote(ctx context.Context, ciphertext []byte, params VoteDecryptionParams) ([][]byte, error)
}

// VoteDecryptionParams carries the material the engine needs to decrypt one
// poll vote.
type VoteDecryptionParams struct {
	CreatorAddress string
	PollMessageID  string
	Secret         []byte
	VoterAddress   string
}

// Socket is one live protocol session. Events are serialized per socket;
// sockets belonging to different instances may interleave arbitrarily.
type Socket interface {
	// Events returns the socket's event stream. The channel is closed when
	// the socket ends.
	Events() <-chan Event

	// SaveCredentials flushes updated credential material to the bound store.
	SaveCredentials() error

	// Send dispatches content to a conversation address and returns the sent
	// message as the engine recorded it.
	Send(ctx context.Context, target string, content Content) (Message, error)

	// CheckRegistered reports whether a direct address exists on the network.
	CheckRegistered(ctx context.Context, address string) (bool, error)

	// ListGroups returns all group conversations this session participates in.
	ListGroups(ctx context.Context) ([]GroupInfo, error)

	// End detaches all listeners and terminates the socket. Idempotent.
	End() error
}

// Event is a lifecycle or message event pushed by the engine.
type Event interface{ isEvent() }

// CredentialsUpdated signals that the session's credential material changed
// and must be persisted immediately.
type CredentialsUpdated struct{}

// QRIssued carries a fresh raw QR payload awaiting an end-user scan.
type QRIssued struct {
	Payload string
}

// ConnectionOpened signals an authenticated, usable session. Identity is the
// engine-reported address of the authenticated account, which may carry a
// device suffix after a colon.
type ConnectionOpened struct {
	Identity string
}

// ConnectionClosed signals a terminated connection with the engine's reason.
type ConnectionClosed struct {
	Reason CloseReason
	Err    error
}

// MessagesReceived delivers one inbound message batch.
type MessagesReceived struct {
	Messages []Message
}

func (CredentialsUpdated) isEvent() {}
func (QRIssued) isEvent()           {}
func (ConnectionOpened) isEvent()   {}
func (ConnectionClosed) isEvent()   {}
func (MessagesReceived) isEvent()   {}

// CloseReason classifies a connection close.
type CloseReason int

const (
	CloseUnknown CloseReason = iota
	// CloseConnectionLost covers transient socket-level faults; the session
	// may be reconnected with the same credentials.
	CloseConnectionLost
	// CloseRestartRequired is raised by the engine after pairing; reconnect.
	CloseRestartRequired
	// CloseLoggedOut is a definitive logout; credentials are invalid and the
	// session must not be reconnected.
	CloseLoggedOut
)

// LoggedOut reports whether the close is a definitive logout.
func (r CloseReason) LoggedOut() bool { return r == CloseLoggedOut }

// IsGroupAddress reports whether addr names a group conversation.
func IsGroupAddress(addr string) bool {
	return strings.Contains(addr, GroupSuffix)
}

// BareNumber strips any address suffix, leaving the plain phone number.
func BareNumber(addr string) string {
	if i := strings.IndexByte(addr, '@'); i >= 0 {
		return addr[:i]
	}
	return addr
}

// IdentityNumber strips the device suffix from an engine-reported identity,
// leaving the authenticated phone number.
func IdentityNumber(identity string) string {
	out := BareNumber(identity)
	if i := strings.IndexByte(out, ':'); i >= 0 {
		out = out[:i]
	}
	return out
}

// GroupInfo describes one group conversation the session participates in.
type GroupInfo struct {
	ID               string
	Subject          string
	ParticipantCount int
}

// MessageKey identifies a message within a conversation.
type MessageKey struct {
	ChatID      string
	ID          string
	Participant string
	FromMe      bool
}

// SenderAddress returns the address of whoever produced the message: the
// group participant when present, otherwise the conversation itself.
func (k MessageKey) SenderAddress() string {
	if k.Participant != "" {
		return k.Participant
	}
	return k.ChatID
}

// PollCreation is the poll payload of a poll-creation message, including the
// secret later needed to decrypt votes against it.
type PollCreation struct {
	Question        string
	Options         []string
	SelectableCount int
	Secret          []byte
}

// PollUpdate is an encrypted vote referencing an earlier poll creation.
type PollUpdate struct {
	CreationKey MessageKey
	Ciphertext  []byte
}

// EditInfo links an edit message to the original it modifies.
type EditInfo struct {
	Key  MessageKey
	Text string
}

// Message is one inbound or sent protocol message in the shape the engine
// reports it.
type Message struct {
	Key       MessageKey
	PushName  string
	Timestamp time.Time

	Text         string
	PollCreation *PollCreation
	PollUpdate   *PollUpdate
	Edit         *EditInfo
	HasMedia     bool
	HasReaction  bool
}

// HasContent reports whether the message carries a content kind the gateway
// handles (text, media, or reaction). Poll updates are routed separately and
// do not count as general content.
func (m Message) HasContent() bool {
	return m.Text != "" || m.HasMedia || m.HasReaction || m.Edit != nil
}

// ContentKind enumerates sendable content kinds.
type ContentKind string

const (
	ContentText     ContentKind = "text"
	ContentPoll     ContentKind = "poll"
	ContentImage    ContentKind = "image"
	ContentDocument ContentKind = "document"

	// ContentPDF is a caller-facing alias for a document send carrying a
	// PDF payload; it is normalized to ContentDocument before dispatch.
	ContentPDF ContentKind = "pdf"
)

// PollContent is an outbound poll definition.
type PollContent struct {
	Question        string
	Options         []string
	SelectableCount int
}

// MediaContent is resolved outbound media bytes plus presentation metadata.
type MediaContent struct {
	Data     []byte
	Caption  string
	MimeType string
	FileName string
}

// QuotedMessage references an earlier message an outbound send replies to.
type QuotedMessage struct {
	Key  MessageKey
	Text string
}

// Content is the outbound payload handed to Socket.Send. Exactly one of the
// kind-specific fields is set, matching Kind.
type Content struct {
	Kind  ContentKind
	Text  string
	Poll  *PollContent
	Media *MediaContent

	// Quoted, when set, sends the content as a quoted reply.
	Quoted *QuotedMessage
}
