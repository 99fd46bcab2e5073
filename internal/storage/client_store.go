package storage

import (
	"errors"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// ErrPHIWriteRejected means the classifier flagged a value bound for client
// storage. The rejection is strictly local: it happens before the value
// could leave the process.
var ErrPHIWriteRejected = errors.New("value looks like PHI and may not persist client-side")

type clientItem struct {
	value     []byte
	expiresAt time.Time // zero means no expiry
}

// ClientStore models the browser-side key/value store: non-sensitive UI
// preferences with optional per-item expiration, cleared wholesale at tab
// close. Every write passes through the classifier first.
type ClientStore struct {
	classify   Classifier
	rejections prometheus.Counter // may be nil
	now        func() time.Time

	mu    sync.RWMutex
	items map[string]clientItem
}

func NewClientStore(classify Classifier, rejections prometheus.Counter) *ClientStore {
	if classify == nil {
		classify = KeywordClassifier
	}
	return &ClientStore{
		classify:   classify,
		rejections: rejections,
		now:        time.Now,
		items:      make(map[string]clientItem),
	}
}

// Set stores a value, refusing anything the classifier flags as PHI.
// A ttl of zero means the item never expires on its own.
func (c *ClientStore) Set(key string, value []byte, ttl time.Duration) error {
	if c.classify(value) {
		if c.rejections != nil {
			c.rejections.Inc()
		}
		return ErrPHIWriteRejected
	}

	item := clientItem{value: value}
	if ttl > 0 {
		item.expiresAt = c.now().Add(ttl)
	}

	c.mu.Lock()
	c.items[key] = item
	c.mu.Unlock()
	return nil
}

// Get returns the stored value, or false if absent or expired. Expired
// items are removed lazily on read.
func (c *ClientStore) Get(key string) ([]byte, bool) {
	c.mu.RLock()
	item, ok := c.items[key]
	c.mu.RUnlock()
	if !ok {
		return nil, false
	}

	if !item.expiresAt.IsZero() && !c.now().Before(item.expiresAt) {
		c.Delete(key)
		return nil, false
	}
	return item.value, true
}

func (c *ClientStore) Delete(key string) {
	c.mu.Lock()
	delete(c.items, key)
	c.mu.Unlock()
}

// Keys returns all live keys.
func (c *ClientStore) Keys() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	keys := make([]string, 0, len(c.items))
	for k := range c.items {
		keys = append(keys, k)
	}
	return keys
}

// Clear drops everything, the equivalent of a tab close.
func (c *ClientStore) Clear() {
	c.mu.Lock()
	c.items = make(map[string]clientItem)
	c.mu.Unlock()
}
