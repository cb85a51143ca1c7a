package session

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/panjf2000/ants/v2"
	"github.com/rs/zerolog/log"

	"github.com/mxgate/mxgate/internal/backup"
	"github.com/mxgate/mxgate/internal/collab"
	"github.com/mxgate/mxgate/internal/engine"
	"github.com/mxgate/mxgate/internal/observability"
	"github.com/mxgate/mxgate/internal/pollcache"
	"github.com/mxgate/mxgate/internal/pollvote"
)

var (
	ErrInstanceNotFound       = errors.New("session: instance not found")
	ErrConnectionNotOpen      = errors.New("session: connection not open")
	ErrRecipientNotRegistered = errors.New("session: recipient not registered")
	ErrCreateTimeout          = errors.New("session: timed out waiting for qr or open")
)

// Timing bundles the lifecycle constants. Zero fields fall back to defaults.
type Timing struct {
	CreateWait       time.Duration
	QRExpiry         time.Duration
	ReconnectBackoff time.Duration
	RetryBudget      int
	BackupDelay      time.Duration
	BackupKeep       int
}

func DefaultTiming() Timing {
	return Timing{
		CreateWait:       60 * time.Second,
		QRExpiry:         3 * time.Minute,
		ReconnectBackoff: 15 * time.Second,
		RetryBudget:      10,
		BackupDelay:      30 * time.Second,
		BackupKeep:       backup.DefaultKeep,
	}
}

func (t Timing) withDefaults() Timing {
	d := DefaultTiming()
	if t.CreateWait <= 0 {
		t.CreateWait = d.CreateWait
	}
	if t.QRExpiry <= 0 {
		t.QRExpiry = d.QRExpiry
	}
	if t.ReconnectBackoff <= 0 {
		t.ReconnectBackoff = d.ReconnectBackoff
	}
	if t.RetryBudget <= 0 {
		t.RetryBudget = d.RetryBudget
	}
	if t.BackupDelay <= 0 {
		t.BackupDelay = d.BackupDelay
	}
	if t.BackupKeep <= 0 {
		t.BackupKeep = d.BackupKeep
	}
	return t
}

// Options configures a Controller. Engine and Backups are required; the
// collaborator interfaces default to their no-op implementations.
type Options struct {
	Engine    engine.Engine
	Backups   *backup.Service
	Cache     *pollcache.Cache
	Publisher collab.EventPublisher
	Policy    collab.AccessPolicy
	Pool      *ants.Pool
	Timing    Timing
}

// Controller is the session lifecycle controller: it owns the registry and
// drives connect, QR authentication, reconnect, teardown, sends, and inbound
// dispatch for every instance in the process.
type Controller struct {
	eng       engine.Engine
	reg       *Registry
	cache     *pollcache.Cache
	resolver  *pollvote.Resolver
	backups   *backup.Service
	publisher collab.EventPublisher
	policy    collab.AccessPolicy
	pool      *ants.Pool
	timing    Timing
	media     *http.Client
}

func NewController(opts Options) *Controller {
	cache := opts.Cache
	if cache == nil {
		cache = pollcache.New(pollcache.DefaultCapacity)
	}
	publisher := opts.Publisher
	if publisher == nil {
		publisher = collab.NopPublisher{}
	}
	policy := opts.Policy
	if policy == nil {
		policy = collab.AllowAll{}
	}
	return &Controller{
		eng:       opts.Engine,
		reg:       NewRegistry(),
		cache:     cache,
		resolver:  pollvote.New(cache, opts.Engine),
		backups:   opts.Backups,
		publisher: publisher,
		policy:    policy,
		pool:      opts.Pool,
		timing:    opts.Timing.withDefaults(),
		media:     &http.Client{Timeout: 30 * time.Second},
	}
}

// Registry exposes the controller's registry for read-side collaborators
// (recovery scanner, health checks).
func (c *Controller) Registry() *Registry { return c.reg }

// CreateInstance provisions a fresh instance for the tenant, starts its
// connection, and blocks until the session issues a QR or reaches open.
func (c *Controller) CreateInstance(ctx context.Context, tenantID string) (Snapshot, error) {
	instanceID := uuid.NewString()
	s, err := c.Connect(instanceID, tenantID)
	if err != nil {
		return Snapshot{}, err
	}

	select {
	case <-s.ready:
	case <-time.After(c.timing.CreateWait):
		log.Error().
			Str("instance", instanceID).
			Dur("waited", c.timing.CreateWait).
			Msg("instance produced neither qr nor open in time")
		return Snapshot{}, fmt.Errorf("%w: %s", ErrCreateTimeout, instanceID)
	case <-ctx.Done():
		return Snapshot{}, ctx.Err()
	}

	snap, ok := c.GetInstance(instanceID)
	if !ok {
		// Torn down between ready and lookup (e.g. tenant rejection).
		return Snapshot{}, fmt.Errorf("%w: %s", ErrInstanceNotFound, instanceID)
	}
	return snap, nil
}

// Connect is idempotent: an existing session has its prior socket fully
// disposed before a new one is bound, so no instance ever has two live
// engine handles.
func (c *Controller) Connect(instanceID, tenantID string) (*Session, error) {
	s, existed := c.reg.Get(instanceID)
	if existed {
		s.mu.Lock()
		if tenantID == "" {
			tenantID = s.tenantID
		} else {
			s.tenantID = tenantID
		}
		s.mu.Unlock()
		c.detachSocket(s)
	} else {
		dir := backup.CredentialDir(c.backups.CredentialRoot(), tenantID, instanceID)
		s = newSession(instanceID, tenantID, dir, c.timing.RetryBudget, c.timing.ReconnectBackoff)
		c.reg.Upsert(s)
	}

	if err := os.MkdirAll(s.credentialDir, 0o755); err != nil {
		return nil, fmt.Errorf("session: credential directory: %w", err)
	}

	sock, err := c.eng.OpenSession(s.credentialDir)
	if err != nil {
		s.mu.Lock()
		s.state = StateClosed
		s.errorCount++
		s.lastError = err.Error()
		s.mu.Unlock()
		c.publishStateGauge()
		return nil, fmt.Errorf("session: open session %s: %w", instanceID, err)
	}

	s.mu.Lock()
	s.gen++
	gen := s.gen
	s.sock = sock
	s.state = StateConnecting
	s.touch()
	s.mu.Unlock()
	c.publishStateGauge()

	go c.eventLoop(s, sock, gen)

	log.Info().
		Str("instance", instanceID).
		Str("tenant", tenantID).
		Msg("session connecting")
	return s, nil
}

// Reconnect restarts an existing instance's connection with a fresh retry
// budget.
func (c *Controller) Reconnect(instanceID, tenantID string) error {
	s, ok := c.reg.Get(instanceID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrInstanceNotFound, instanceID)
	}
	s.mu.Lock()
	s.retryBudget = c.timing.RetryBudget
	s.reconnectDelay.Reset()
	s.mu.Unlock()
	_, err := c.Connect(instanceID, tenantID)
	return err
}

// Delete permanently removes an instance: the socket is ended, the registry
// entry removed, and the credential directory deleted. It reports whether
// the instance existed.
func (c *Controller) Delete(instanceID string) bool {
	s, ok := c.reg.Get(instanceID)
	if !ok {
		return false
	}
	c.teardown(s, "deleted by caller")

	if err := os.RemoveAll(s.credentialDir); err != nil {
		// Partial deletion leaves credentials in an undefined state; bring the
		// instance back rather than strand them.
		log.Error().Err(err).
			Str("instance", instanceID).
			Msg("failed to delete credential directory, scheduling reconnect")
		s.mu.Lock()
		tenantID := s.tenantID
		s.mu.Unlock()
		time.AfterFunc(c.timing.ReconnectBackoff, func() {
			if _, err := c.Connect(instanceID, tenantID); err != nil {
				log.Error().Err(err).Str("instance", instanceID).Msg("post-delete reconnect failed")
			}
		})
	}
	return true
}

// ListInstances returns a snapshot of every registered instance.
func (c *Controller) ListInstances() []Snapshot {
	items := c.reg.Items()
	out := make([]Snapshot, 0, len(items))
	for _, s := range items {
		out = append(out, s.snapshot())
	}
	return out
}

// GetInstance returns the snapshot for one instance.
func (c *Controller) GetInstance(instanceID string) (Snapshot, bool) {
	s, ok := c.reg.Get(instanceID)
	if !ok {
		return Snapshot{}, false
	}
	return s.snapshot(), true
}

// OpenCount reports how many instances are currently open.
func (c *Controller) OpenCount() int {
	return c.reg.StateCounts()[string(StateOpen)]
}

// ListChats returns the group conversations of the session authenticated as
// phoneNumber.
func (c *Controller) ListChats(ctx context.Context, phoneNumber string) ([]engine.GroupInfo, error) {
	s, ok := c.reg.FindByPhone(phoneNumber)
	if !ok {
		return nil, fmt.Errorf("%w: phone %s", ErrInstanceNotFound, phoneNumber)
	}
	s.mu.Lock()
	sock := s.sock
	open := s.state == StateOpen
	s.mu.Unlock()
	if !open || sock == nil {
		return nil, fmt.Errorf("%w: phone %s", ErrConnectionNotOpen, phoneNumber)
	}
	return sock.ListGroups(ctx)
}

// KnownInstances lists the registry's (instance, tenant) pairs for the
// recovery scanner.
func (c *Controller) KnownInstances() []backup.Instance {
	items := c.reg.Items()
	out := make([]backup.Instance, 0, len(items))
	for _, s := range items {
		s.mu.Lock()
		out = append(out, backup.Instance{InstanceID: s.id, TenantID: s.tenantID})
		s.mu.Unlock()
	}
	return out
}

// ResumeExisting scans the credential root for pre-existing session
// directories and reconnects each, so sessions with valid credentials come
// back without an external trigger. It returns how many were started.
func (c *Controller) ResumeExisting() int {
	root := c.backups.CredentialRoot()
	entries, err := os.ReadDir(root)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Error().Err(err).Str("root", root).Msg("credential root scan failed")
		}
		return 0
	}

	resumed := 0
	resume := func(instanceID, tenantID string) {
		if _, err := c.Connect(instanceID, tenantID); err != nil {
			log.Error().Err(err).
				Str("instance", instanceID).
				Str("tenant", tenantID).
				Msg("failed to resume session")
			return
		}
		resumed++
	}

	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		name := e.Name()
		switch {
		case strings.HasPrefix(name, "tenant_"):
			tenantID := strings.TrimPrefix(name, "tenant_")
			inner, err := os.ReadDir(filepath.Join(root, name))
			if err != nil {
				log.Error().Err(err).Str("tenant", tenantID).Msg("tenant directory scan failed")
				continue
			}
			for _, se := range inner {
				if se.IsDir() && strings.HasPrefix(se.Name(), "session_") {
					resume(strings.TrimPrefix(se.Name(), "session_"), tenantID)
				}
			}
		case strings.HasPrefix(name, "session_"):
			// Legacy root-scoped session without a tenant.
			resume(strings.TrimPrefix(name, "session_"), "")
		}
	}
	if resumed > 0 {
		log.Info().Int("resumed", resumed).Msg("resumed existing sessions")
	}
	return resumed
}

// Shutdown ends every live socket and stops all timers. The registry is left
// intact; the process is going away.
func (c *Controller) Shutdown() {
	for _, s := range c.reg.Items() {
		c.detachSocket(s)
		s.mu.Lock()
		s.state = StateClosed
		s.mu.Unlock()
	}
}

// detachSocket disposes the session's current socket and timers and bumps
// the generation so in-flight callbacks for the old socket become no-ops.
func (c *Controller) detachSocket(s *Session) {
	s.mu.Lock()
	s.gen++
	s.stopTimersLocked()
	sock := s.sock
	s.sock = nil
	s.qrDataURL = ""
	s.mu.Unlock()
	if sock != nil {
		if err := sock.End(); err != nil {
			log.Warn().Err(err).Str("instance", s.id).Msg("ending prior socket failed")
		}
	}
}

// teardown removes the instance from the registry and ends its socket.
func (c *Controller) teardown(s *Session, reason string) {
	c.detachSocket(s)
	s.mu.Lock()
	s.state = StateClosed
	s.mu.Unlock()
	c.reg.RemoveIf(s.id, s)
	c.publishStateGauge()
	log.Info().Str("instance", s.id).Str("reason", reason).Msg("session torn down")
}

// teardownPermanent additionally deletes the credential directory.
func (c *Controller) teardownPermanent(s *Session, reason string) {
	c.teardown(s, reason)
	if err := os.RemoveAll(s.credentialDir); err != nil {
		log.Error().Err(err).Str("instance", s.id).Msg("failed to delete credential directory")
	}
}

func (c *Controller) publishStateGauge() {
	observability.SetSessionsByState(c.reg.StateCounts())
}
