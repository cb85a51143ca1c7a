// Package pollcache keeps recently seen poll-creation messages so later
// anonymous votes can be decoded against their options and secret.
package pollcache

import (
	"container/list"
	"sync"

	"github.com/mxgate/mxgate/internal/engine"
)

// DefaultCapacity bounds the cache when no explicit capacity is configured.
const DefaultCapacity = 500

type entry struct {
	key string
	msg engine.Message
}

// Cache is a capacity-bounded store of poll-creation messages keyed by
// (chatId, messageId). Insertion evicts the oldest entry by insertion order
// once the bound is exceeded; entries are read-only once inserted.
//
// Eviction is strict FIFO: reads do not affect eviction order, which is why
// this is not an LRU.
type Cache struct {
	mu    sync.Mutex
	cap   int
	order *list.List
	byKey map[string]*list.Element
}

// New returns an empty cache bounded to capacity entries. A non-positive
// capacity falls back to DefaultCapacity.
func New(capacity int) *Cache {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Cache{
		cap:   capacity,
		order: list.New(),
		byKey: make(map[string]*list.Element),
	}
}

// Put stores a poll-creation message. Messages of any other kind are ignored.
// Re-inserting an existing key overwrites the value without changing its
// position in the eviction order.
func (c *Cache) Put(chatID, messageID string, msg engine.Message) {
	if msg.PollCreation == nil {
		return
	}
	key := mapKey(chatID, messageID)
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.byKey[key]; ok {
		el.Value.(*entry).msg = msg
		return
	}
	c.byKey[key] = c.order.PushBack(&entry{key: key, msg: msg})
	for c.order.Len() > c.cap {
		oldest := c.order.Front()
		c.order.Remove(oldest)
		delete(c.byKey, oldest.Value.(*entry).key)
	}
}

// Get returns the stored poll-creation message for (chatID, messageID).
func (c *Cache) Get(chatID, messageID string) (engine.Message, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	el, ok := c.byKey[mapKey(chatID, messageID)]
	if !ok {
		return engine.Message{}, false
	}
	return el.Value.(*entry).msg, true
}

// Len returns the number of cached entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

func mapKey(chatID, messageID string) string {
	return chatID + "_" + messageID
}
