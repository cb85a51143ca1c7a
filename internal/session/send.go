package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/mxgate/mxgate/internal/engine"
)

// ErrValidation marks a send request rejected before any side effect.
var ErrValidation = errors.New("session: invalid send request")

const (
	minPollOptions = 2
	maxPollOptions = 12
)

// PollSpec is a caller-supplied outbound poll.
type PollSpec struct {
	Question        string   `json:"question"`
	Options         []string `json:"options"`
	SelectableCount int      `json:"selectableCount"`
}

// MediaSpec is a caller-supplied media payload. Exactly one of URL, FilePath,
// or Data supplies the bytes.
type MediaSpec struct {
	URL      string `json:"url,omitempty"`
	FilePath string `json:"filePath,omitempty"`
	Data     []byte `json:"data,omitempty"`
	Caption  string `json:"caption,omitempty"`
	MimeType string `json:"mimeType,omitempty"`
	FileName string `json:"fileName,omitempty"`
}

// SendRequest is one outbound message. Target addresses a conversation
// directly; when empty, ReplyTo supplies the conversation and the send goes
// out as a quoted reply.
type SendRequest struct {
	Kind    engine.ContentKind
	Text    string
	Poll    *PollSpec
	Media   *MediaSpec
	Target  string
	ReplyTo *engine.QuotedMessage
}

// ReplyTarget derives the quoted-reply reference for an inbound message. An
// edit message is answered against the edited original.
func ReplyTarget(msg engine.Message) *engine.QuotedMessage {
	if msg.Edit != nil {
		return &engine.QuotedMessage{Key: msg.Edit.Key, Text: msg.Edit.Text}
	}
	return &engine.QuotedMessage{Key: msg.Key, Text: msg.Text}
}

// Send dispatches one message through an open instance. Validation failures
// are reported before any network side effect; direct (non-group) targets are
// checked for registration first, with check failures tolerated.
func (c *Controller) Send(ctx context.Context, instanceID string, req SendRequest) (engine.Message, error) {
	s, ok := c.reg.Get(instanceID)
	if !ok {
		return engine.Message{}, fmt.Errorf("%w: %s", ErrInstanceNotFound, instanceID)
	}
	s.mu.Lock()
	sock := s.sock
	open := s.state == StateOpen
	s.mu.Unlock()
	if !open || sock == nil {
		return engine.Message{}, fmt.Errorf("%w: %s", ErrConnectionNotOpen, instanceID)
	}

	if req.Kind == engine.ContentPDF {
		req.Kind = engine.ContentDocument
		if req.Media != nil && req.Media.MimeType == "" {
			req.Media.MimeType = "application/pdf"
		}
	}

	if err := validateSend(req); err != nil {
		return engine.Message{}, err
	}

	target := req.Target
	if target == "" && req.ReplyTo != nil {
		target = req.ReplyTo.Key.ChatID
	}
	if target == "" {
		return engine.Message{}, fmt.Errorf("%w: no target", ErrValidation)
	}
	if !strings.Contains(target, "@") {
		target = engine.BareNumber(target) + engine.DirectSuffix
	}

	if !engine.IsGroupAddress(target) {
		registered, err := sock.CheckRegistered(ctx, target)
		if err != nil {
			log.Warn().Err(err).
				Str("instance", instanceID).
				Str("target", target).
				Msg("registration check failed, proceeding with send")
		} else if !registered {
			return engine.Message{}, fmt.Errorf("%w: %s", ErrRecipientNotRegistered, engine.BareNumber(target))
		}
	}

	content, err := c.buildContent(req)
	if err != nil {
		return engine.Message{}, err
	}

	msg, err := sock.Send(ctx, target, content)
	if err != nil {
		return engine.Message{}, fmt.Errorf("session: send to %s: %w", target, err)
	}

	s.mu.Lock()
	s.touch()
	s.mu.Unlock()

	// A sent poll must be cached so later vote updates against it resolve.
	if req.Kind == engine.ContentPoll && msg.PollCreation != nil {
		c.cache.Put(msg.Key.ChatID, msg.Key.ID, msg)
	}
	return msg, nil
}

func validateSend(req SendRequest) error {
	switch req.Kind {
	case engine.ContentText:
		if req.Text == "" {
			return fmt.Errorf("%w: empty text", ErrValidation)
		}
	case engine.ContentPoll:
		if req.Poll == nil {
			return fmt.Errorf("%w: missing poll", ErrValidation)
		}
		n := len(req.Poll.Options)
		if n < minPollOptions || n > maxPollOptions {
			return fmt.Errorf("%w: poll needs %d-%d options, got %d",
				ErrValidation, minPollOptions, maxPollOptions, n)
		}
		if sc := req.Poll.SelectableCount; sc < 0 || sc > n {
			return fmt.Errorf("%w: selectableCount %d out of range", ErrValidation, sc)
		}
	case engine.ContentImage, engine.ContentDocument:
		if req.Media == nil {
			return fmt.Errorf("%w: missing media", ErrValidation)
		}
		sources := 0
		if req.Media.URL != "" {
			if _, err := url.ParseRequestURI(req.Media.URL); err != nil {
				return fmt.Errorf("%w: bad media url: %v", ErrValidation, err)
			}
			sources++
		}
		if req.Media.FilePath != "" {
			if _, err := os.Stat(req.Media.FilePath); err != nil {
				return fmt.Errorf("%w: media file: %v", ErrValidation, err)
			}
			sources++
		}
		if len(req.Media.Data) > 0 {
			sources++
		}
		if sources != 1 {
			return fmt.Errorf("%w: media needs exactly one of url, filePath, data", ErrValidation)
		}
	default:
		return fmt.Errorf("%w: unknown content kind %q", ErrValidation, req.Kind)
	}
	return nil
}

func (c *Controller) buildContent(req SendRequest) (engine.Content, error) {
	content := engine.Content{
		Kind:   req.Kind,
		Text:   req.Text,
		Quoted: req.ReplyTo,
	}
	switch req.Kind {
	case engine.ContentPoll:
		selectable := req.Poll.SelectableCount
		if selectable == 0 {
			selectable = 1
		}
		content.Poll = &engine.PollContent{
			Question:        req.Poll.Question,
			Options:         req.Poll.Options,
			SelectableCount: selectable,
		}
	case engine.ContentImage, engine.ContentDocument:
		media, err := c.resolveMedia(req.Media)
		if err != nil {
			return engine.Content{}, err
		}
		content.Media = media
	}
	return content, nil
}

// resolveMedia turns the request's media source into bytes plus presentation
// metadata before dispatch.
func (c *Controller) resolveMedia(spec *MediaSpec) (*engine.MediaContent, error) {
	media := &engine.MediaContent{
		Caption:  spec.Caption,
		MimeType: spec.MimeType,
		FileName: spec.FileName,
	}
	switch {
	case spec.URL != "":
		resp, err := c.media.Get(spec.URL)
		if err != nil {
			return nil, fmt.Errorf("session: fetch media: %w", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("session: fetch media: status %d", resp.StatusCode)
		}
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("session: fetch media: %w", err)
		}
		media.Data = data
		if media.MimeType == "" {
			media.MimeType = resp.Header.Get("Content-Type")
		}
		if media.FileName == "" {
			if u, err := url.Parse(spec.URL); err == nil {
				media.FileName = path.Base(u.Path)
			}
		}
	case spec.FilePath != "":
		data, err := os.ReadFile(spec.FilePath)
		if err != nil {
			return nil, fmt.Errorf("session: read media file: %w", err)
		}
		media.Data = data
		if media.FileName == "" {
			media.FileName = filepath.Base(spec.FilePath)
		}
	default:
		media.Data = spec.Data
	}
	if media.MimeType == "" {
		media.MimeType = http.DetectContentType(media.Data)
	}
	return media, nil
}
