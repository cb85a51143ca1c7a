// Package session owns the instance registry and the lifecycle state machine:
// connect, QR authentication, reconnect with a bounded retry budget, teardown,
// and the wiring of engine events into the poll and backup components.
package session

import (
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/mxgate/mxgate/internal/engine"
)

// State is an instance's connection state.
type State string

const (
	StateConnecting State = "connecting"
	StateQRPending  State = "qr_pending"
	StateOpen       State = "open"
	StateClosed     State = "closed"
)

// Session is the registry entry for one instance. All mutable fields are
// guarded by mu; engine event handlers, timer callbacks, and API calls all
// take the lock before reading state used for control decisions.
type Session struct {
	mu sync.Mutex

	id            string
	tenantID      string
	credentialDir string

	state       State
	phoneNumber string
	qrDataURL   string

	// gen increments every time a new socket is bound or the session is torn
	// down. Timer callbacks and event loops capture the generation they were
	// armed under and become no-ops once it moves on.
	gen  uint64
	sock engine.Socket

	retryBudget    int
	errorCount     int
	lastError      string
	reconnectDelay backoff.BackOff

	qrTimer     *time.Timer
	backupTimer *time.Timer

	createdAt      time.Time
	lastActivityAt time.Time

	// ready is closed the first time the session either issues a QR or
	// reaches open, releasing a blocked CreateInstance caller.
	ready     chan struct{}
	readyOnce sync.Once
}

func newSession(id, tenantID, credentialDir string, retryBudget int, reconnectBackoff time.Duration) *Session {
	now := time.Now()
	return &Session{
		id:             id,
		tenantID:       tenantID,
		credentialDir:  credentialDir,
		state:          StateConnecting,
		retryBudget:    retryBudget,
		reconnectDelay: backoff.NewConstantBackOff(reconnectBackoff),
		createdAt:      now,
		lastActivityAt: now,
		ready:          make(chan struct{}),
	}
}

func (s *Session) signalReady() {
	s.readyOnce.Do(func() { close(s.ready) })
}

// current reports whether gen is still the session's live generation.
func (s *Session) current(gen uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gen == gen
}

func (s *Session) touch() {
	s.lastActivityAt = time.Now()
}

// stopTimersLocked clears both owned timers. Callers hold mu.
func (s *Session) stopTimersLocked() {
	if s.qrTimer != nil {
		s.qrTimer.Stop()
		s.qrTimer = nil
	}
	if s.backupTimer != nil {
		s.backupTimer.Stop()
		s.backupTimer = nil
	}
}

// Snapshot is a point-in-time copy of a session's externally visible state.
type Snapshot struct {
	InstanceID     string    `json:"instanceId"`
	TenantID       string    `json:"tenantId,omitempty"`
	State          State     `json:"state"`
	PhoneNumber    string    `json:"phoneNumber,omitempty"`
	QRCode         string    `json:"qrCode,omitempty"`
	ErrorCount     int       `json:"errorCount"`
	RetryBudget    int       `json:"retryBudget"`
	LastError      string    `json:"lastError,omitempty"`
	CreatedAt      time.Time `json:"createdAt"`
	LastActivityAt time.Time `json:"lastActivityAt"`
}

func (s *Session) snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		InstanceID:     s.id,
		TenantID:       s.tenantID,
		State:          s.state,
		PhoneNumber:    s.phoneNumber,
		QRCode:         s.qrDataURL,
		ErrorCount:     s.errorCount,
		RetryBudget:    s.retryBudget,
		LastError:      s.lastError,
		CreatedAt:      s.createdAt,
		LastActivityAt: s.lastActivityAt,
	}
}
