package session

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/mxgate/mxgate/internal/collab"
	"github.com/mxgate/mxgate/internal/engine"
	"github.com/mxgate/mxgate/internal/observability"
)

// inboundTimeout bounds the downstream work done for one inbound batch.
const inboundTimeout = 30 * time.Second

// eventLoop consumes one socket's event stream. Events for a socket that has
// since been replaced are dropped via the generation check.
func (c *Controller) eventLoop(s *Session, sock engine.Socket, gen uint64) {
	for ev := range sock.Events() {
		if !s.current(gen) {
			return
		}
		switch ev := ev.(type) {
		case engine.CredentialsUpdated:
			if err := sock.SaveCredentials(); err != nil {
				log.Error().Err(err).Str("instance", s.id).Msg("failed to persist credentials")
			}
		case engine.QRIssued:
			c.handleQR(s, gen, ev.Payload)
		case engine.ConnectionOpened:
			c.handleOpen(s, gen, ev.Identity)
		case engine.ConnectionClosed:
			c.handleClose(s, gen, ev)
			return
		case engine.MessagesReceived:
			c.dispatchInbound(s, ev.Messages)
		}
	}
}

// handleQR moves the session to qr_pending and arms the expiry timer. An
// instance created without a tenant is invalid past this point and is torn
// down with its credentials.
func (c *Controller) handleQR(s *Session, gen uint64, payload string) {
	s.mu.Lock()
	tenantID := s.tenantID
	s.mu.Unlock()
	if tenantID == "" {
		log.Warn().Str("instance", s.id).Msg("qr issued for tenant-less instance, tearing down")
		c.teardownPermanent(s, "no tenant at qr issuance")
		s.signalReady()
		return
	}

	dataURL, err := renderQR(payload)
	if err != nil {
		log.Error().Err(err).Str("instance", s.id).Msg("failed to render qr payload")
		dataURL = payload
	}

	s.mu.Lock()
	if s.gen != gen {
		s.mu.Unlock()
		return
	}
	s.state = StateQRPending
	s.qrDataURL = dataURL
	s.touch()
	if s.qrTimer != nil {
		s.qrTimer.Stop()
	}
	s.qrTimer = time.AfterFunc(c.timing.QRExpiry, func() { c.expireQR(s, gen) })
	s.mu.Unlock()
	c.publishStateGauge()

	s.signalReady()
	log.Info().Str("instance", s.id).Msg("qr issued, awaiting scan")
}

// expireQR tears the session down if it is still awaiting a scan when the
// QR timer fires. A session that opened, reconnected, or was deleted in the
// interim is left alone. The stale check and the generation bump happen in
// one locked section, so an open racing the expiry loses cleanly: whichever
// acquires the lock second sees the other's write and no-ops.
func (c *Controller) expireQR(s *Session, gen uint64) {
	if cur, ok := c.reg.Get(s.id); !ok || cur != s {
		return
	}
	s.mu.Lock()
	if s.gen != gen || s.state != StateQRPending {
		s.mu.Unlock()
		return
	}
	s.gen++
	s.mu.Unlock()
	observability.RecordQRExpiration()
	log.Warn().Str("instance", s.id).Msg("qr never scanned, tearing session down")
	c.teardownPermanent(s, "qr expired")
}

// handleOpen records the authenticated identity, clears QR state, resets the
// retry budget, and schedules the delayed credential backup.
func (c *Controller) handleOpen(s *Session, gen uint64, identity string) {
	s.mu.Lock()
	if s.gen != gen {
		s.mu.Unlock()
		return
	}
	if s.qrTimer != nil {
		s.qrTimer.Stop()
		s.qrTimer = nil
	}
	s.qrDataURL = ""
	s.state = StateOpen
	s.phoneNumber = engine.IdentityNumber(identity)
	s.retryBudget = c.timing.RetryBudget
	s.reconnectDelay.Reset()
	s.touch()
	tenantID := s.tenantID
	phone := s.phoneNumber
	// Credential material keeps settling for a while after open; delay the
	// backup so the bundle captures all of it.
	if tenantID != "" {
		if s.backupTimer != nil {
			s.backupTimer.Stop()
		}
		s.backupTimer = time.AfterFunc(c.timing.BackupDelay, func() { c.backupAndPrune(s, gen) })
	}
	s.mu.Unlock()
	c.publishStateGauge()

	s.signalReady()
	log.Info().
		Str("instance", s.id).
		Str("phone", phone).
		Msg("session open")
}

func (c *Controller) backupAndPrune(s *Session, gen uint64) {
	s.mu.Lock()
	stale := s.gen != gen || s.state != StateOpen
	tenantID := s.tenantID
	s.mu.Unlock()
	if stale {
		return
	}

	_, err := c.backups.Backup(s.id, tenantID)
	observability.RecordBackupOp("backup", err == nil)
	if err != nil {
		log.Error().Err(err).Str("instance", s.id).Msg("post-open backup failed")
		return
	}
	if _, err := c.backups.Prune(s.id, c.timing.BackupKeep); err != nil {
		log.Error().Err(err).Str("instance", s.id).Msg("backup prune failed")
	}
}

// handleClose applies the close policy: logout destroys the instance, a
// transient fault consumes retry budget and schedules a reconnect, and an
// exhausted budget leaves the instance dormant in closed state awaiting
// external action.
func (c *Controller) handleClose(s *Session, gen uint64, ev engine.ConnectionClosed) {
	if ev.Reason.LoggedOut() {
		s.mu.Lock()
		if s.gen != gen {
			s.mu.Unlock()
			return
		}
		s.gen++
		s.mu.Unlock()
		log.Warn().Str("instance", s.id).Msg("logged out, destroying instance")
		c.teardownPermanent(s, "logged out")
		return
	}

	s.mu.Lock()
	if s.gen != gen {
		s.mu.Unlock()
		return
	}
	s.stopTimersLocked()
	s.state = StateClosed
	s.qrDataURL = ""
	s.errorCount++
	if ev.Err != nil {
		s.lastError = ev.Err.Error()
	}
	if s.retryBudget <= 0 {
		errorCount := s.errorCount
		s.mu.Unlock()
		c.publishStateGauge()
		log.Warn().
			Str("instance", s.id).
			Int("errors", errorCount).
			Msg("retry budget exhausted, leaving session closed")
		return
	}
	s.retryBudget--
	remaining := s.retryBudget
	delay := s.reconnectDelay.NextBackOff()
	s.mu.Unlock()
	c.publishStateGauge()

	observability.RecordReconnectScheduled()
	log.Info().
		Str("instance", s.id).
		Dur("delay", delay).
		Int("budget_remaining", remaining).
		Err(ev.Err).
		Msg("connection lost, reconnect scheduled")

	// The timer itself is not canceled on delete; the callback re-checks the
	// registry and generation and no-ops when the world moved on.
	time.AfterFunc(delay, func() {
		if cur, ok := c.reg.Get(s.id); !ok || cur != s {
			return
		}
		if !s.current(gen) {
			return
		}
		if _, err := c.Connect(s.id, ""); err != nil {
			log.Error().Err(err).Str("instance", s.id).Msg("reconnect failed")
		}
	})
}

// dispatchInbound hands a message batch to the shared worker pool so one
// instance's handlers never block another instance's event loop.
func (c *Controller) dispatchInbound(s *Session, msgs []engine.Message) {
	task := func() { c.processBatch(s, msgs) }
	if c.pool == nil {
		task()
		return
	}
	if err := c.pool.Submit(task); err != nil {
		log.Warn().Err(err).Str("instance", s.id).Msg("worker pool rejected batch, running inline")
		task()
	}
}

func (c *Controller) processBatch(s *Session, msgs []engine.Message) {
	ctx, cancel := context.WithTimeout(context.Background(), inboundTimeout)
	defer cancel()

	s.mu.Lock()
	tenantID := s.tenantID
	phone := s.phoneNumber
	s.mu.Unlock()

	for _, msg := range msgs {
		if msg.Key.FromMe {
			observability.RecordInboundMessage("self")
			continue
		}
		if msg.PollUpdate != nil {
			c.handleVote(ctx, s, msg, tenantID, phone)
			continue
		}
		if msg.PollCreation != nil {
			c.cache.Put(msg.Key.ChatID, msg.Key.ID, msg)
		}
		if !msg.HasContent() {
			observability.RecordInboundMessage("no_content")
			continue
		}

		sender := engine.BareNumber(msg.Key.SenderAddress())
		allowed, err := c.policy.AllowInbound(ctx, tenantID, msg.Key.ChatID, sender)
		if err != nil {
			log.Warn().Err(err).Str("instance", s.id).Msg("access policy check failed, allowing")
			allowed = true
		}
		if !allowed {
			observability.RecordInboundMessage("filtered")
			continue
		}

		ev := collab.MessageEvent{
			InstanceID:  s.id,
			TenantID:    tenantID,
			PhoneNumber: phone,
			ChatID:      msg.Key.ChatID,
			MessageID:   msg.Key.ID,
			Sender:      sender,
			SenderName:  msg.PushName,
			Text:        msg.Text,
			Timestamp:   msg.Timestamp,
		}
		if err := c.publisher.PublishMessage(ctx, ev); err != nil {
			log.Error().Err(err).Str("instance", s.id).Msg("failed to publish inbound message")
			observability.RecordInboundMessage("publish_failed")
			continue
		}
		observability.RecordInboundMessage("published")
	}

	s.mu.Lock()
	s.touch()
	s.mu.Unlock()
}

func (c *Controller) handleVote(ctx context.Context, s *Session, msg engine.Message, tenantID, phone string) {
	res := c.resolver.Resolve(ctx, msg, s.id, phone)
	observability.RecordPollVote(res.Resolved)

	ev := collab.VoteEvent{
		InstanceID:      s.id,
		TenantID:        tenantID,
		PhoneNumber:     phone,
		ChatID:          res.ChatID,
		PollMessageID:   res.PollMessageID,
		Question:        res.Question,
		Options:         res.Options,
		SelectedOptions: res.Selected,
		Voter:           res.Voter,
		VoterName:       res.VoterName,
		Resolved:        res.Resolved,
		Timestamp:       res.Timestamp,
	}
	if err := c.publisher.PublishVote(ctx, ev); err != nil {
		log.Error().Err(err).Str("instance", s.id).Msg("failed to publish poll vote")
	}
}
