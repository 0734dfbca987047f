package transport

import (
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/drblury/ringflow/internal/runtime/ids"
	statspkg "github.com/drblury/ringflow/internal/runtime/stats"
)

const defaultClientCacheSize = 4096

// ClientTracker remembers recently seen clients. The first sighting of a key
// counts as a new client in the statistics; keys evicted from the cache
// count again when they come back.
type ClientTracker struct {
	cache *lru.Cache[string, string]
	stats *statspkg.Collector
}

// NewClientTracker builds a tracker holding up to size keys. A non-positive
// size uses the default.
func NewClientTracker(size int, stats *statspkg.Collector) *ClientTracker {
	if size <= 0 {
		size = defaultClientCacheSize
	}
	// lru.New only fails on a non-positive size.
	cache, _ := lru.New[string, string](size)
	return &ClientTracker{cache: cache, stats: stats}
}

// Seen records clientID and reports whether it was already known.
func (t *ClientTracker) Seen(clientID string) bool {
	if clientID == "" {
		return false
	}
	if ok, _ := t.cache.ContainsOrAdd(clientID, clientID); ok {
		return true
	}
	t.countNew()
	return false
}

// Resolve returns a stable client id for a connectionless peer such as a
// UDP source address, allocating one on first sight.
func (t *ClientTracker) Resolve(peer string) string {
	if id, ok := t.cache.Get(peer); ok {
		return id
	}
	id := ids.NewClientID()
	if prev, ok, _ := t.cache.PeekOrAdd(peer, id); ok {
		return prev
	}
	t.countNew()
	return id
}

// Forget drops a key, for example when its connection closes.
func (t *ClientTracker) Forget(key string) {
	t.cache.Remove(key)
}

// Len returns how many keys are currently remembered.
func (t *ClientTracker) Len() int {
	return t.cache.Len()
}

func (t *ClientTracker) countNew() {
	if t.stats != nil {
		t.stats.ClientSeen()
	}
}
