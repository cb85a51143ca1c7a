// Package enginemem is an in-memory loopback engine adapter. It implements
// the engine contract without any network or cryptography and is used by
// tests and local development; its sockets replay whatever events the caller
// scripts onto them.
package enginemem

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/mxgate/mxgate/internal/engine"
)

func init() {
	engine.Register("mem", func(map[string]string) (engine.Engine, error) {
		return New(), nil
	})
}

// Engine is a scriptable in-memory protocol engine.
type Engine struct {
	mu sync.Mutex

	sockets      []*Socket
	openErr      error
	unregistered map[string]bool
	checkErr     error

	decryptHashes [][]byte
	decryptErr    error
}

// New returns an empty in-memory engine.
func New() *Engine {
	return &Engine{unregistered: make(map[string]bool)}
}

// OpenSession opens a loopback socket bound to dir. The directory must exist,
// matching the real engine's contract.
func (e *Engine) OpenSession(credentialDir string) (engine.Socket, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.openErr != nil {
		return nil, e.openErr
	}
	if _, err := os.Stat(credentialDir); err != nil {
		return nil, fmt.Errorf("enginemem: credential dir: %w", err)
	}
	s := &Socket{
		engine: e,
		dir:    credentialDir,
		events: make(chan engine.Event, 64),
	}
	e.sockets = append(e.sockets, s)
	return s, nil
}

// DecryptVote returns the scripted hash set.
func (e *Engine) DecryptVote(_ context.Context, _ []byte, _ engine.VoteDecryptionParams) ([][]byte, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.decryptErr != nil {
		return nil, e.decryptErr
	}
	out := make([][]byte, len(e.decryptHashes))
	copy(out, e.decryptHashes)
	return out, nil
}

// FailOpen makes subsequent OpenSession calls fail with err.
func (e *Engine) FailOpen(err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.openErr = err
}

// SetUnregistered marks a bare number as absent from the network.
func (e *Engine) SetUnregistered(number string, unregistered bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.unregistered[number] = unregistered
}

// FailRegistrationCheck makes CheckRegistered fail with err.
func (e *Engine) FailRegistrationCheck(err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.checkErr = err
}

// SetDecryptResult scripts the hashes DecryptVote returns.
func (e *Engine) SetDecryptResult(hashes [][]byte) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.decryptHashes = hashes
	e.decryptErr = nil
}

// FailDecrypt makes DecryptVote fail with err.
func (e *Engine) FailDecrypt(err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.decryptErr = err
}

// OpenCount returns how many sockets were opened so far.
func (e *Engine) OpenCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.sockets)
}

// SocketAt returns the i-th opened socket.
func (e *Engine) SocketAt(i int) *Socket {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sockets[i]
}

// LastSocket returns the most recently opened socket, or nil.
func (e *Engine) LastSocket() *Socket {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.sockets) == 0 {
		return nil
	}
	return e.sockets[len(e.sockets)-1]
}

// SentMessage records one Send call observed by a socket.
type SentMessage struct {
	Target  string
	Content engine.Content
}

// Socket is a scriptable loopback session.
type Socket struct {
	engine *Engine
	dir    string

	mu      sync.Mutex
	ended   bool
	saved   int
	nextID  int
	sent    []SentMessage
	sendErr error
	groups  []engine.GroupInfo

	// PollSecret is attached to sent poll messages so vote resolution can be
	// exercised end to end.
	PollSecret []byte

	events chan engine.Event
}

// Emit scripts one event onto the socket's stream. Emits after End are
// dropped, matching a real socket whose listeners were detached.
func (s *Socket) Emit(ev engine.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return
	}
	s.events <- ev
}

// Events implements engine.Socket.
func (s *Socket) Events() <-chan engine.Event { return s.events }

// SaveCredentials implements engine.Socket.
func (s *Socket) SaveCredentials() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return engine.ErrSocketEnded
	}
	s.saved++
	return nil
}

// Send implements engine.Socket, recording the call and synthesizing the
// sent message.
func (s *Socket) Send(_ context.Context, target string, content engine.Content) (engine.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return engine.Message{}, engine.ErrSocketEnded
	}
	if s.sendErr != nil {
		return engine.Message{}, s.sendErr
	}
	s.nextID++
	s.sent = append(s.sent, SentMessage{Target: target, Content: content})
	msg := engine.Message{
		Key: engine.MessageKey{
			ChatID: target,
			ID:     fmt.Sprintf("mem-%d", s.nextID),
			FromMe: true,
		},
		Text: content.Text,
	}
	if content.Kind == engine.ContentPoll && content.Poll != nil {
		secret := s.PollSecret
		if secret == nil {
			secret = []byte("mem-poll-secret")
		}
		msg.PollCreation = &engine.PollCreation{
			Question:        content.Poll.Question,
			Options:         append([]string(nil), content.Poll.Options...),
			SelectableCount: content.Poll.SelectableCount,
			Secret:          secret,
		}
	}
	return msg, nil
}

// CheckRegistered implements engine.Socket against the engine's script.
func (s *Socket) CheckRegistered(_ context.Context, address string) (bool, error) {
	s.engine.mu.Lock()
	defer s.engine.mu.Unlock()
	if s.engine.checkErr != nil {
		return false, s.engine.checkErr
	}
	return !s.engine.unregistered[engine.BareNumber(address)], nil
}

// ListGroups implements engine.Socket.
func (s *Socket) ListGroups(context.Context) ([]engine.GroupInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return nil, engine.ErrSocketEnded
	}
	out := make([]engine.GroupInfo, len(s.groups))
	copy(out, s.groups)
	return out, nil
}

// End implements engine.Socket. Idempotent; closes the event stream.
func (s *Socket) End() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return nil
	}
	s.ended = true
	close(s.events)
	return nil
}

// Ended reports whether End was called.
func (s *Socket) Ended() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ended
}

// SaveCount returns how many credential flushes were requested.
func (s *Socket) SaveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saved
}

// Sent returns a copy of the observed Send calls.
func (s *Socket) Sent() []SentMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]SentMessage, len(s.sent))
	copy(out, s.sent)
	return out
}

// FailSend makes subsequent Send calls fail with err.
func (s *Socket) FailSend(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sendErr = err
}

// SetGroups scripts the ListGroups result.
func (s *Socket) SetGroups(groups []engine.GroupInfo) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.groups = groups
}

// Dir returns the credential directory the socket was bound to.
func (s *Socket) Dir() string { return s.dir }
