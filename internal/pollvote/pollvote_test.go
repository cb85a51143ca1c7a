package pollvote

import (
	"context"
	"crypto/sha256"
	"errors"
	"testing"
	"time"

	"github.com/mxgate/mxgate/internal/engine"
	"github.com/mxgate/mxgate/internal/engine/enginemem"
	"github.com/mxgate/mxgate/internal/pollcache"
)

func optionHash(text string) []byte {
	sum := sha256.Sum256([]byte(text))
	return sum[:]
}

func cachedPoll(t *testing.T, cache *pollcache.Cache, chatID, msgID string, options []string) {
	t.Helper()
	cache.Put(chatID, msgID, engine.Message{
		Key: engine.MessageKey{ChatID: chatID, ID: msgID},
		PollCreation: &engine.PollCreation{
			Question:        "favorite?",
			Options:         options,
			SelectableCount: 1,
			Secret:          []byte("poll-secret"),
		},
	})
}

func voteMsg(chatID, pollID, voter string) engine.Message {
	return engine.Message{
		Key:       engine.MessageKey{ChatID: chatID, ID: "vote-1", Participant: voter},
		PushName:  "Sam",
		Timestamp: time.Now(),
		PollUpdate: &engine.PollUpdate{
			CreationKey: engine.MessageKey{ChatID: chatID, ID: pollID},
			Ciphertext:  []byte("ciphertext"),
		},
	}
}

func TestResolveMatchesSelectedOption(t *testing.T) {
	eng := enginemem.New()
	eng.SetDecryptResult([][]byte{optionHash("B")})
	cache := pollcache.New(10)
	cachedPoll(t, cache, "group@g.us", "poll-1", []string{"A", "B"})

	r := New(cache, eng)
	out := r.Resolve(context.Background(), voteMsg("group@g.us", "poll-1", "15550002222@s.whatsapp.net"), "inst-1", "15550001111")

	if !out.Resolved {
		t.Fatal("expected resolved vote")
	}
	if len(out.Selected) != 1 || out.Selected[0] != "B" {
		t.Fatalf("unexpected selection: %v", out.Selected)
	}
	if out.Voter != "15550002222" {
		t.Fatalf("unexpected voter: %q", out.Voter)
	}
	if out.Question != "favorite?" {
		t.Fatalf("unexpected question: %q", out.Question)
	}
}

func TestResolveUnmatchedHashYieldsEmptySelection(t *testing.T) {
	eng := enginemem.New()
	eng.SetDecryptResult([][]byte{optionHash("Z")})
	cache := pollcache.New(10)
	cachedPoll(t, cache, "group@g.us", "poll-1", []string{"A", "B"})

	r := New(cache, eng)
	out := r.Resolve(context.Background(), voteMsg("group@g.us", "poll-1", "15550002222@s.whatsapp.net"), "inst-1", "15550001111")

	if !out.Resolved {
		t.Fatal("expected resolved vote even with no matching hash")
	}
	if len(out.Selected) != 0 {
		t.Fatalf("expected empty selection, got %v", out.Selected)
	}
}

func TestResolveMissingPollReturnsVoterOnly(t *testing.T) {
	eng := enginemem.New()
	r := New(pollcache.New(10), eng)
	out := r.Resolve(context.Background(), voteMsg("group@g.us", "poll-unknown", "15550002222@s.whatsapp.net"), "inst-1", "15550001111")

	if out.Resolved {
		t.Fatal("expected unresolved vote")
	}
	if out.Voter != "15550002222" {
		t.Fatalf("unexpected voter: %q", out.Voter)
	}
	if out.Question != "" || len(out.Options) != 0 {
		t.Fatalf("expected no poll metadata, got %+v", out)
	}
}

func TestResolveDecryptFailureDegradesToPartial(t *testing.T) {
	eng := enginemem.New()
	eng.FailDecrypt(errors.New("missing sender key"))
	cache := pollcache.New(10)
	cachedPoll(t, cache, "group@g.us", "poll-1", []string{"A", "B"})

	r := New(cache, eng)
	out := r.Resolve(context.Background(), voteMsg("group@g.us", "poll-1", "15550002222@s.whatsapp.net"), "inst-1", "15550001111")

	if out.Resolved {
		t.Fatal("expected unresolved vote on decrypt failure")
	}
	if out.Question != "favorite?" || len(out.Options) != 2 {
		t.Fatalf("expected partial poll metadata, got %+v", out)
	}
	if out.Voter != "15550002222" {
		t.Fatalf("unexpected voter: %q", out.Voter)
	}
}

func TestMatchOptionHashesDropsUnknown(t *testing.T) {
	selected := MatchOptionHashes([][]byte{optionHash("A"), optionHash("nope"), optionHash("C")}, []string{"A", "B", "C"})
	if len(selected) != 2 || selected[0] != "A" || selected[1] != "C" {
		t.Fatalf("unexpected selection: %v", selected)
	}
}
