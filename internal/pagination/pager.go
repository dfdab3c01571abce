package pagination

import (
	"context"
	"fmt"
	"sync"

	"sentinal-client/internal/domain/message"
	"sentinal-client/internal/metrics"
	"sentinal-client/internal/remote"
	sentinal_errors "sentinal-client/pkg/errors"
)

const DefaultPageSize = 30

// Pager loads older history of one opened conversation, one page at a time.
// At most one load is in flight; once history is exhausted it stays
// exhausted and no further I/O is made.
type Pager struct {
	cursor   remote.Cursor
	pageSize int

	mu        sync.Mutex
	inFlight  bool
	exhausted bool
}

// New wraps cursor. firstPage is the size of the page the conversation was
// opened with: a short first page means there is nothing older.
func New(cursor remote.Cursor, pageSize, firstPage int) *Pager {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	return &Pager{
		cursor:    cursor,
		pageSize:  pageSize,
		exhausted: cursor == nil || firstPage < pageSize,
	}
}

// LoadOlder fetches the next page of older messages. It returns ErrBusy
// while another load is running and (nil, true, nil) once exhausted. A
// failed load can be retried.
func (p *Pager) LoadOlder(ctx context.Context) ([]message.Message, bool, error) {
	p.mu.Lock()
	if p.exhausted {
		p.mu.Unlock()
		metrics.IncPagination("exhausted")
		return nil, true, nil
	}
	if p.inFlight {
		p.mu.Unlock()
		metrics.IncPagination("busy")
		return nil, false, sentinal_errors.ErrBusy
	}
	p.inFlight = true
	p.mu.Unlock()

	older, done, err := p.cursor.Next(ctx, p.pageSize)

	p.mu.Lock()
	defer p.mu.Unlock()
	p.inFlight = false
	if err != nil {
		metrics.IncPagination("error")
		return nil, false, fmt.Errorf("failed to load older messages: %w", err)
	}
	if done || len(older) < p.pageSize {
		p.exhausted = true
	}
	metrics.IncPagination("loaded")
	return older, p.exhausted, nil
}

func (p *Pager) Exhausted() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.exhausted
}

func (p *Pager) Loading() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.inFlight
}
