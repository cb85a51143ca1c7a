package pollcache

import (
	"fmt"
	"testing"

	"github.com/mxgate/mxgate/internal/engine"
)

func pollMsg(id string) engine.Message {
	return engine.Message{
		Key: engine.MessageKey{ChatID: "group@g.us", ID: id},
		PollCreation: &engine.PollCreation{
			Question: "q",
			Options:  []string{"A", "B"},
			Secret:   []byte("secret"),
		},
	}
}

func TestPutIgnoresNonPollMessages(t *testing.T) {
	c := New(10)
	c.Put("group@g.us", "m1", engine.Message{Text: "hello"})
	if c.Len() != 0 {
		t.Fatalf("expected empty cache, got %d entries", c.Len())
	}
}

func TestGetReturnsStoredPoll(t *testing.T) {
	c := New(10)
	c.Put("group@g.us", "m1", pollMsg("m1"))

	got, ok := c.Get("group@g.us", "m1")
	if !ok {
		t.Fatal("expected hit")
	}
	if got.PollCreation == nil || got.PollCreation.Question != "q" {
		t.Fatalf("unexpected cached message: %+v", got)
	}
	if _, ok := c.Get("group@g.us", "missing"); ok {
		t.Fatal("expected miss for unknown id")
	}
	if _, ok := c.Get("other@g.us", "m1"); ok {
		t.Fatal("expected miss for other chat")
	}
}

func TestFIFOEvictionAtBound(t *testing.T) {
	c := New(500)
	for i := 0; i < 501; i++ {
		c.Put("group@g.us", fmt.Sprintf("m%d", i), pollMsg(fmt.Sprintf("m%d", i)))
	}
	if c.Len() != 500 {
		t.Fatalf("expected exactly 500 entries, got %d", c.Len())
	}
	if _, ok := c.Get("group@g.us", "m0"); ok {
		t.Fatal("first inserted key should have been evicted")
	}
	if _, ok := c.Get("group@g.us", "m1"); !ok {
		t.Fatal("second inserted key should survive")
	}
	if _, ok := c.Get("group@g.us", "m500"); !ok {
		t.Fatal("newest key should survive")
	}
}

func TestReadsDoNotAffectEvictionOrder(t *testing.T) {
	c := New(2)
	c.Put("g", "m1", pollMsg("m1"))
	c.Put("g", "m2", pollMsg("m2"))

	// Touch the oldest entry; FIFO order must not change.
	if _, ok := c.Get("g", "m1"); !ok {
		t.Fatal("expected hit on m1")
	}
	c.Put("g", "m3", pollMsg("m3"))
	if _, ok := c.Get("g", "m1"); ok {
		t.Fatal("m1 should have been evicted despite the read")
	}
	if _, ok := c.Get("g", "m2"); !ok {
		t.Fatal("m2 should survive")
	}
}

func TestReinsertKeepsPosition(t *testing.T) {
	c := New(2)
	c.Put("g", "m1", pollMsg("m1"))
	c.Put("g", "m2", pollMsg("m2"))
	c.Put("g", "m1", pollMsg("m1"))
	c.Put("g", "m3", pollMsg("m3"))
	if _, ok := c.Get("g", "m1"); ok {
		t.Fatal("re-inserted m1 should still be oldest and evicted")
	}
	if c.Len() != 2 {
		t.Fatalf("unexpected size %d", c.Len())
	}
}
