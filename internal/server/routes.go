package server

import (
	"errors"
	"net/http"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/mxgate/mxgate/internal/backup"
	"github.com/mxgate/mxgate/internal/engine"
	"github.com/mxgate/mxgate/internal/session"
)

func (s *Server) registerRoutes() {
	s.router.GET("/ready", s.handleReady)
	s.router.GET("/live", gin.WrapF(s.health.LiveEndpoint))
	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	s.router.GET("/connection-status", s.handleConnectionStatus)

	api := s.router.Group("/api", requireToken(s.apiAuth))
	{
		api.GET("/instances", s.handleListInstances)
		api.POST("/create-instance", s.handleCreateInstance)
		api.GET("/instances/:id", s.handleGetInstance)
		api.GET("/instances/:id/qr", s.handleGetQR)
		api.POST("/instances/:id/reconnect", s.handleReconnect)
		api.DELETE("/instances/:id", s.handleDeleteInstance)
		api.GET("/instances/:id/chats", s.handleListChats)
		api.GET("/instances/:id/backups", s.handleListBackups)
		api.POST("/instances/:id/restore", s.handleRestore)
		api.POST("/send", s.handleSend)
	}

	admin := s.router.Group("/api/admin", requireToken(s.adminAuth))
	{
		admin.GET("/system-info", s.handleSystemInfo)
	}
}

func (s *Server) handleReady(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"ready":       true,
		"uptime":      time.Since(s.started).String(),
		"instances":   len(s.ctrl.ListInstances()),
		"connections": s.ctrl.OpenCount(),
	})
}

// handleConnectionStatus is an unauthenticated probe for a set of instance
// ids, used by upstream routers to pick a live gateway.
func (s *Server) handleConnectionStatus(c *gin.Context) {
	ids := c.QueryArray("instanceId")
	states := make(map[string]string, len(ids))
	for _, id := range ids {
		if snap, ok := s.ctrl.GetInstance(id); ok {
			states[id] = string(snap.State)
		} else {
			states[id] = "not_found"
		}
	}
	c.JSON(http.StatusOK, gin.H{"states": states})
}

func (s *Server) handleListInstances(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"instances": s.ctrl.ListInstances()})
}

type createInstanceRequest struct {
	TenantID string `json:"tenantId" binding:"required"`
}

func (s *Server) handleCreateInstance(c *gin.Context) {
	var req createInstanceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "tenantId is required"})
		return
	}
	snap, err := s.ctrl.CreateInstance(c.Request.Context(), req.TenantID)
	if err != nil {
		if errors.Is(err, session.ErrCreateTimeout) {
			c.JSON(http.StatusGatewayTimeout, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"instanceId": snap.InstanceID,
		"state":      snap.State,
		"qrCode":     snap.QRCode,
	})
}

func (s *Server) handleGetInstance(c *gin.Context) {
	snap, ok := s.ctrl.GetInstance(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "instance not found"})
		return
	}
	c.JSON(http.StatusOK, snap)
}

func (s *Server) handleGetQR(c *gin.Context) {
	snap, ok := s.ctrl.GetInstance(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "instance not found"})
		return
	}
	if snap.QRCode == "" {
		c.JSON(http.StatusNotFound, gin.H{"error": "no qr pending", "state": snap.State})
		return
	}
	c.JSON(http.StatusOK, gin.H{"instanceId": snap.InstanceID, "qrCode": snap.QRCode})
}

type reconnectRequest struct {
	TenantID string `json:"tenantId"`
}

func (s *Server) handleReconnect(c *gin.Context) {
	var req reconnectRequest
	_ = c.ShouldBindJSON(&req)

	err := s.ctrl.Reconnect(c.Param("id"), req.TenantID)
	if err != nil {
		if errors.Is(err, session.ErrInstanceNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "reconnecting"})
}

func (s *Server) handleDeleteInstance(c *gin.Context) {
	if !s.ctrl.Delete(c.Param("id")) {
		c.JSON(http.StatusNotFound, gin.H{"error": "instance not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "deleted"})
}

func (s *Server) handleListChats(c *gin.Context) {
	chats, err := s.ctrl.ListChats(c.Request.Context(), c.Param("id"))
	if err != nil {
		switch {
		case errors.Is(err, session.ErrInstanceNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		case errors.Is(err, session.ErrConnectionNotOpen):
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		}
		return
	}
	c.JSON(http.StatusOK, gin.H{"chats": chats})
}

func (s *Server) handleListBackups(c *gin.Context) {
	records, err := s.backups.List(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"backups": records})
}

type restoreRequest struct {
	TenantID string `json:"tenantId"`
}

func (s *Server) handleRestore(c *gin.Context) {
	instanceID := c.Param("id")
	var req restoreRequest
	_ = c.ShouldBindJSON(&req)
	if req.TenantID == "" {
		if snap, ok := s.ctrl.GetInstance(instanceID); ok {
			req.TenantID = snap.TenantID
		}
	}

	err := s.backups.Restore(instanceID, req.TenantID)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, backup.ErrNoBackupFound) {
			status = http.StatusNotFound
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "restored"})
}

type sendRequest struct {
	InstanceID string             `json:"instanceId" binding:"required"`
	Kind       string             `json:"kind" binding:"required"`
	Text       string             `json:"text"`
	Target     string             `json:"target"`
	Poll       *session.PollSpec  `json:"poll"`
	Media      *session.MediaSpec `json:"media"`
	// ReplyTo is the inbound message this send answers. When target is
	// empty it also supplies the conversation.
	ReplyTo *sendReplyRef `json:"replyTo"`
}

// sendReplyRef is the caller's reference to a triggering inbound message.
// An edit reference makes the send quote the edited original instead.
type sendReplyRef struct {
	ChatID      string       `json:"chatId" binding:"required"`
	MessageID   string       `json:"messageId" binding:"required"`
	Participant string       `json:"participant"`
	FromMe      bool         `json:"fromMe"`
	Text        string       `json:"text"`
	Edit        *sendEditRef `json:"edit"`
}

type sendEditRef struct {
	ChatID    string `json:"chatId"`
	MessageID string `json:"messageId" binding:"required"`
	Text      string `json:"text"`
}

func (r *sendReplyRef) message() engine.Message {
	msg := engine.Message{
		Key: engine.MessageKey{
			ChatID:      r.ChatID,
			ID:          r.MessageID,
			Participant: r.Participant,
			FromMe:      r.FromMe,
		},
		Text: r.Text,
	}
	if r.Edit != nil {
		chatID := r.Edit.ChatID
		if chatID == "" {
			chatID = r.ChatID
		}
		msg.Edit = &engine.EditInfo{
			Key:  engine.MessageKey{ChatID: chatID, ID: r.Edit.MessageID},
			Text: r.Edit.Text,
		}
	}
	return msg
}

func (s *Server) handleSend(c *gin.Context) {
	var req sendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	var replyTo *engine.QuotedMessage
	if req.ReplyTo != nil {
		replyTo = session.ReplyTarget(req.ReplyTo.message())
	}

	msg, err := s.ctrl.Send(c.Request.Context(), req.InstanceID, session.SendRequest{
		Kind:    engine.ContentKind(req.Kind),
		Text:    req.Text,
		Target:  req.Target,
		Poll:    req.Poll,
		Media:   req.Media,
		ReplyTo: replyTo,
	})
	if err != nil {
		switch {
		case errors.Is(err, session.ErrValidation):
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		case errors.Is(err, session.ErrInstanceNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		case errors.Is(err, session.ErrConnectionNotOpen):
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		case errors.Is(err, session.ErrRecipientNotRegistered):
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		default:
			log.Error().Err(err).Str("instance", req.InstanceID).Msg("send failed")
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":   true,
		"messageId": msg.Key.ID,
		"chatId":    msg.Key.ChatID,
	})
}

func (s *Server) handleSystemInfo(c *gin.Context) {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	states := make(map[string]int)
	for _, snap := range s.ctrl.ListInstances() {
		states[string(snap.State)]++
	}

	c.JSON(http.StatusOK, gin.H{
		"goVersion":      runtime.Version(),
		"goroutines":     runtime.NumGoroutine(),
		"uptime":         time.Since(s.started).String(),
		"heapAllocBytes": mem.HeapAlloc,
		"numGC":          mem.NumGC,
		"instanceStates": states,
	})
}
