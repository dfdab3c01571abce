package session

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"sentinal-client/internal/events"
	"sentinal-client/internal/live"
	"sentinal-client/internal/reconcile"
	sentinal_errors "sentinal-client/pkg/errors"
	"sentinal-client/pkg/logger"
)

// React adds or removes the user's key reaction on a confirmed message of
// the active conversation. The change shows at once and is reverted if the
// remote refuses it. Reacting twice the same way is a no-op.
func (s *Session) React(ctx context.Context, messageID, key string, remove bool) error {
	key = strings.TrimSpace(key)
	if messageID == "" || key == "" {
		return fmt.Errorf("reaction: %w", sentinal_errors.ErrInvalidInput)
	}

	s.mu.Lock()
	conv, gen, link := s.state.ActiveID, s.generation, s.link
	if conv == "" {
		s.mu.Unlock()
		return sentinal_errors.ErrNoActive
	}
	if i := reconcile.IndexOf(s.state.Timeline, messageID); i < 0 || s.state.Timeline[i].ID == "" {
		s.mu.Unlock()
		return fmt.Errorf("message %s: %w", messageID, sentinal_errors.ErrNotFound)
	}
	if link == nil {
		s.mu.Unlock()
		return sentinal_errors.ErrNotConnected
	}
	delta := events.ReactionChanged{
		MessageID:      messageID,
		ConversationID: conv,
		Key:            key,
		UserID:         s.cfg.UserID,
		Added:          !remove,
	}
	seq, changed := live.ApplyReaction(s.state.Timeline, delta)
	if !changed {
		s.mu.Unlock()
		return nil
	}
	s.state.Timeline = seq
	s.publishLocked()
	s.mu.Unlock()

	var err error
	if remove {
		_, err = link.RemoveReaction(ctx, conv, messageID, key)
	} else {
		_, err = link.AddReaction(ctx, conv, messageID, key)
	}

	s.mu.Lock()
	if s.generation != gen {
		s.mu.Unlock()
		return err
	}
	save := func() {}
	if err != nil {
		undo := delta
		undo.Added = !delta.Added
		if seq, ok := live.ApplyReaction(s.state.Timeline, undo); ok {
			s.state.Timeline = seq
		}
	} else {
		save = s.saveLocked(true)
	}
	s.publishLocked()
	s.mu.Unlock()

	save()
	if err != nil {
		s.log.Ctx(logger.WithConversation(ctx, conv)).Warn("reaction_failed",
			zap.String("message_id", messageID), zap.String("key", key), zap.Error(err))
		return fmt.Errorf("failed to update reaction: %w", err)
	}
	return nil
}
