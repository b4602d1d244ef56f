package op

import (
	"time"

	"github.com/ReneKroon/ttlcache"

	"glusterd/internal/metrics"
)

// pendingTable holds one entry per outstanding peer RPC. An entry that is
// still present when its TTL runs out is reported through onExpire.
type pendingTable struct {
	cache *ttlcache.Cache
}

func newPendingTable(ttl time.Duration, onExpire func(*peerAnswer)) *pendingTable {
	c := ttlcache.NewCache()
	c.SetTTL(ttl)
	c.SetExpirationCallback(func(key string, value interface{}) {
		if a, ok := value.(*peerAnswer); ok {
			onExpire(a)
		}
	})
	return &pendingTable{cache: c}
}

func (p *pendingTable) add(a *peerAnswer) {
	p.cache.Set(a.key, a)
	metrics.OpPendingReplies.Set(float64(p.len()))
}

func (p *pendingTable) done(key string) {
	p.cache.Remove(key)
	metrics.OpPendingReplies.Set(float64(p.len()))
}

func (p *pendingTable) len() int {
	return p.cache.Count()
}

func (p *pendingTable) close() {
	p.cache.Close()
}
