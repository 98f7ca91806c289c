package reflector

import (
	"strconv"
	"sync"
)

// SDPCache persists the stripped SDP text for each published session,
// keyed by `<sourcePath><delimiter><channel>` (spec §6 "Persisted state").
// The core treats this as an opaque textual store; durability to disk is
// an external collaborator's concern.
type SDPCache struct {
	mu    sync.Mutex
	delim string
	texts map[string][]byte
}

// NewSDPCache builds an empty cache using delimiter to join path and
// channel into a key.
func NewSDPCache(delimiter string) *SDPCache {
	return &SDPCache{delim: delimiter, texts: make(map[string][]byte)}
}

// Key builds the cache key for a source path and channel number.
func (c *SDPCache) Key(sourcePath string, channel int) string {
	return sourcePath + c.delim + strconv.Itoa(channel)
}

// Put stores sdp under key, overwriting any prior entry.
func (c *SDPCache) Put(key string, sdp []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.texts[key] = sdp
}

// Get returns the cached SDP for key, if any.
func (c *SDPCache) Get(key string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	sdp, ok := c.texts[key]
	return sdp, ok
}

// Clear removes key, called when the corresponding session tears down
// (spec §6).
func (c *SDPCache) Clear(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.texts, key)
}
