package session

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"sentinal-client/internal/domain/conversation"
	"sentinal-client/internal/domain/message"
	"sentinal-client/internal/pagination"
	"sentinal-client/internal/remote"
	sentinal_errors "sentinal-client/pkg/errors"
	"sentinal-client/pkg/logger"
)

// Conversations refreshes the conversation list from the remote and returns
// it newest first. Unread counts of known conversations stay as the session
// counted them.
func (s *Session) Conversations(ctx context.Context) ([]conversation.Summary, error) {
	s.mu.Lock()
	link := s.link
	s.mu.Unlock()
	if link == nil {
		return nil, sentinal_errors.ErrNotConnected
	}

	var listed []conversation.Summary
	err := remote.Retry(ctx, s.cfg.Retry, "list_conversations", func() error {
		var err error
		listed, err = link.ListConversations(ctx)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, in := range listed {
		sum, known := s.state.Summaries[in.ID]
		if !known {
			c := in
			if c.ID == s.state.ActiveID {
				c.UnreadCount = 0
			}
			s.state.Summaries[in.ID] = &c
			continue
		}
		if in.Name != "" {
			sum.Name = in.Name
		}
		if in.UpdatedAt > sum.UpdatedAt {
			sum.UpdatedAt = in.UpdatedAt
		}
		if in.LastMessage != nil {
			sum.SetLastMessage(*in.LastMessage)
		}
	}
	s.publishLocked()
	return s.summariesLocked(), nil
}

// Open makes conversationID the active conversation. The cached timeline is
// shown as soon as it is read; the remote's recent page then replaces it
// with the merged view. Opening another conversation before this one
// finishes makes this call return ErrStaleResult without touching state.
// Without a link the cached view is all there is.
func (s *Session) Open(ctx context.Context, conversationID string) error {
	if conversationID == "" {
		return fmt.Errorf("conversation id: %w", sentinal_errors.ErrInvalidInput)
	}
	ctx = logger.WithConversation(ctx, conversationID)

	s.mu.Lock()
	s.generation++
	gen := s.generation
	link := s.link
	s.state.ActiveID = conversationID
	s.state.Timeline = nil
	s.pager = nil
	s.summaryLocked(conversationID).UnreadCount = 0
	s.publishLocked()
	s.mu.Unlock()

	var (
		cached  []message.Message
		fetched []message.Message
		cursor  remote.Cursor
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		// the cached view survives a failed fetch, so it does not share gctx
		cached = s.cache.Read(ctx, conversationID)
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.generation == gen && s.state.Timeline == nil {
			s.state.Timeline = s.rec.Merge(conversationID, cached, nil, s.tracker.Pending(conversationID))
			s.publishLocked()
		}
		return nil
	})
	if link != nil {
		g.Go(func() error {
			return remote.Retry(gctx, s.cfg.Retry, "fetch_recent", func() error {
				msgs, cur, err := link.FetchRecent(gctx, conversationID, s.cfg.PageSize)
				if err != nil {
					return err
				}
				fetched, cursor = msgs, cur
				return nil
			})
		})
	}
	fetchErr := g.Wait()

	s.mu.Lock()
	if s.generation != gen {
		s.mu.Unlock()
		return fmt.Errorf("open %s: %w", conversationID, sentinal_errors.ErrStaleResult)
	}
	if fetchErr != nil || link == nil {
		s.adoptLocked(s.state.Timeline)
		s.publishLocked()
		s.mu.Unlock()
		if fetchErr != nil {
			s.log.Ctx(ctx).Warn("fetch_failed", zap.Error(fetchErr))
			return fmt.Errorf("failed to fetch %s: %w", conversationID, fetchErr)
		}
		return nil
	}

	// live events may have landed while the fetch was in flight
	known := append(copyTimeline(s.state.Timeline), cached...)
	merged := s.rec.Merge(conversationID, known, fetched, s.tracker.Pending(conversationID))
	s.adoptLocked(merged)
	s.state.Timeline = merged
	s.pager = pagination.New(cursor, s.cfg.PageSize, len(fetched))
	s.applier.MarkSeen(conversationID, fetched)
	sum := s.summaryLocked(conversationID)
	for i := len(merged) - 1; i >= 0; i-- {
		if m := merged[i]; m.IsConfirmed() && !m.IsSystem() {
			sum.SetLastMessage(m)
			break
		}
	}
	save := s.saveLocked(true)
	saved := copyTimeline(merged)
	s.publishLocked()
	s.mu.Unlock()

	save()
	if err := s.cache.MigrateReactions(ctx, s.cfg.UserID, saved); err != nil {
		s.log.Ctx(ctx).Warn("reaction_migration_failed", zap.Error(err))
	}
	return nil
}

// adoptLocked hands placeholders restored from the cache to the tracker so
// they can be retried.
func (s *Session) adoptLocked(seq []message.Message) {
	for _, m := range seq {
		if m.IsPlaceholder() {
			s.tracker.Adopt(m)
		}
	}
}

// LoadOlder prepends the next page of history to the active timeline and
// returns how many messages were added.
func (s *Session) LoadOlder(ctx context.Context) (int, bool, error) {
	s.mu.Lock()
	conv, gen, pager := s.state.ActiveID, s.generation, s.pager
	s.mu.Unlock()
	if conv == "" {
		return 0, false, sentinal_errors.ErrNoActive
	}
	if pager == nil {
		return 0, false, sentinal_errors.ErrNotConnected
	}

	older, exhausted, err := pager.LoadOlder(logger.WithConversation(ctx, conv))
	if err != nil {
		return 0, false, err
	}

	s.mu.Lock()
	if s.generation != gen {
		s.mu.Unlock()
		return 0, exhausted, fmt.Errorf("load older %s: %w", conv, sentinal_errors.ErrStaleResult)
	}
	seq, added := s.rec.Prepend(s.state.Timeline, older)
	s.applier.MarkSeen(conv, older)
	save := func() {}
	if added > 0 {
		s.state.Timeline = seq
		save = s.saveLocked(true)
	}
	s.publishLocked()
	s.mu.Unlock()

	save()
	return added, exhausted, nil
}
