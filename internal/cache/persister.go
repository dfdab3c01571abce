package cache

import (
	"context"
	"sync"

	"sentinal-client/internal/domain/message"
)

// Persister serializes snapshot writes per conversation. Callers version
// snapshots under their own lock and write them from any goroutine; a
// snapshot older than the last one written for the same conversation is
// dropped, so the store always ends on the newest state.
type Persister struct {
	cache *TimelineCache

	mu    sync.Mutex
	lanes map[string]*lane
}

type lane struct {
	mu      sync.Mutex
	written uint64
}

func NewPersister(cache *TimelineCache) *Persister {
	return &Persister{cache: cache, lanes: make(map[string]*lane)}
}

// Save writes seq as version of conversationID's snapshot and reports
// whether it was written.
func (p *Persister) Save(ctx context.Context, conversationID string, version uint64, seq []message.Message) bool {
	l := p.lane(conversationID)
	l.mu.Lock()
	defer l.mu.Unlock()
	if version <= l.written {
		return false
	}
	p.cache.Write(ctx, conversationID, seq)
	l.written = version
	return true
}

func (p *Persister) lane(conversationID string) *lane {
	p.mu.Lock()
	defer p.mu.Unlock()
	l, ok := p.lanes[conversationID]
	if !ok {
		l = &lane{}
		p.lanes[conversationID] = l
	}
	return l
}
