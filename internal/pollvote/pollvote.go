// Package pollvote resolves encrypted poll-vote updates back to the
// human-readable options of the originating poll.
package pollvote

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/mxgate/mxgate/internal/engine"
	"github.com/mxgate/mxgate/internal/pollcache"
)

// ResolvedVote is the outcome of resolving one vote update. Resolved reports
// whether the selected options could be decrypted; when false the poll
// metadata and voter identity are still populated as far as they are known,
// so a failed decryption degrades to a partial report rather than an error.
type ResolvedVote struct {
	Resolved bool

	Question        string
	Options         []string
	SelectableCount int
	Selected        []string

	Voter         string
	VoterName     string
	ChatID        string
	PollMessageID string
	Timestamp     time.Time
}

// Resolver matches vote updates against cached poll creations and drives the
// engine's vote-decryption primitive.
type Resolver struct {
	cache  *pollcache.Cache
	engine engine.Engine
}

// New returns a resolver over the given cache and engine.
func New(cache *pollcache.Cache, eng engine.Engine) *Resolver {
	return &Resolver{cache: cache, engine: eng}
}

// Resolve decodes one poll-vote update for the session identified by
// instanceID. sessionNumber is the authenticated phone number of the session
// that created the poll; it forms the creator address handed to the engine.
// Resolve never fails hard: decryption problems yield a partial result.
func (r *Resolver) Resolve(ctx context.Context, msg engine.Message, instanceID, sessionNumber string) ResolvedVote {
	voterAddr := msg.Key.SenderAddress()
	out := ResolvedVote{
		Voter:     engine.BareNumber(voterAddr),
		VoterName: msg.PushName,
		ChatID:    msg.Key.ChatID,
		Timestamp: msg.Timestamp,
	}
	update := msg.PollUpdate
	if update == nil {
		return out
	}
	out.PollMessageID = update.CreationKey.ID

	creation, ok := r.cache.Get(update.CreationKey.ChatID, update.CreationKey.ID)
	if !ok {
		log.Info().
			Str("instance", instanceID).
			Str("voter", out.Voter).
			Str("poll_message_id", out.PollMessageID).
			Msg("original poll message not in cache, vote cannot be decoded")
		return out
	}

	poll := creation.PollCreation
	out.Question = poll.Question
	out.Options = append([]string(nil), poll.Options...)
	out.SelectableCount = poll.SelectableCount
	if out.SelectableCount == 0 {
		out.SelectableCount = 1
	}

	hashes, err := r.engine.DecryptVote(ctx, update.Ciphertext, engine.VoteDecryptionParams{
		CreatorAddress: sessionNumber + engine.DirectSuffix,
		PollMessageID:  update.CreationKey.ID,
		Secret:         poll.Secret,
		VoterAddress:   voterAddr,
	})
	if err != nil {
		log.Error().
			Err(err).
			Str("instance", instanceID).
			Str("voter", out.Voter).
			Str("poll_message_id", out.PollMessageID).
			Msg("failed to decrypt poll vote")
		return out
	}

	out.Resolved = true
	out.Selected = MatchOptionHashes(hashes, poll.Options)
	return out
}

// MatchOptionHashes maps decrypted option hashes to option text by comparing
// against the SHA-256 of each candidate, case-insensitively over uppercase
// hex. Hashes matching no option are dropped.
func MatchOptionHashes(hashes [][]byte, options []string) []string {
	selected := make([]string, 0, len(hashes))
	for _, h := range hashes {
		hashHex := strings.ToUpper(hex.EncodeToString(h))
		for _, opt := range options {
			sum := sha256.Sum256([]byte(opt))
			if hashHex == strings.ToUpper(hex.EncodeToString(sum[:])) {
				selected = append(selected, opt)
				break
			}
		}
	}
	return selected
}
