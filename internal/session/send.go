package session

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"sentinal-client/internal/domain/message"
	"sentinal-client/internal/optimistic"
	"sentinal-client/internal/reconcile"
	"sentinal-client/internal/remote"
	sentinal_errors "sentinal-client/pkg/errors"
	"sentinal-client/pkg/logger"
)

// SendOutcome settles one send. Message is the confirmed message, or the
// failed placeholder when Err is set.
type SendOutcome struct {
	Message message.Message
	Err     error
}

// SendText shows a placeholder in the active conversation right away and
// sends text in the background. The returned channel yields exactly one
// outcome and is closed.
func (s *Session) SendText(ctx context.Context, text string) (message.Message, <-chan SendOutcome, error) {
	if strings.TrimSpace(text) == "" {
		return message.Message{}, nil, fmt.Errorf("empty message: %w", sentinal_errors.ErrInvalidInput)
	}
	return s.send(ctx, optimistic.Content{Text: text})
}

// SendFile is SendText for a file. A preview handle in f is released once
// the placeholder is confirmed or dropped.
func (s *Session) SendFile(ctx context.Context, f optimistic.FileContent) (message.Message, <-chan SendOutcome, error) {
	if f.Name == "" || len(f.Data) == 0 {
		return message.Message{}, nil, fmt.Errorf("empty file: %w", sentinal_errors.ErrInvalidInput)
	}
	if f.Preview != nil {
		f.Preview = message.ReleaseOnce(f.Preview.Release)
	}
	return s.send(ctx, optimistic.Content{File: &f})
}

func (s *Session) send(ctx context.Context, content optimistic.Content) (message.Message, <-chan SendOutcome, error) {
	s.mu.Lock()
	conv := s.state.ActiveID
	if conv == "" {
		s.mu.Unlock()
		return message.Message{}, nil, sentinal_errors.ErrNoActive
	}
	ph := s.tracker.CreatePlaceholder(conv, s.cfg.UserID, content)
	s.state.Timeline = s.rec.Append(s.state.Timeline, ph)
	link := s.link
	save := s.saveLocked(true)
	s.publishLocked()
	s.mu.Unlock()

	save()
	s.log.Ctx(logger.WithConversation(ctx, conv)).Debug("placeholder_created", zap.String("local_id", ph.LocalID))
	return ph, s.dispatch(link, ph, content), nil
}

// Retry resends a failed placeholder. The failed entry is replaced by a
// fresh placeholder with a new id.
func (s *Session) Retry(ctx context.Context, localID string) (message.Message, <-chan SendOutcome, error) {
	s.mu.Lock()
	fresh, content, err := s.tracker.Retry(localID)
	if err != nil {
		s.mu.Unlock()
		return message.Message{}, nil, err
	}
	save := func() {}
	if fresh.ConversationID == s.state.ActiveID {
		seq, _ := s.rec.Remove(s.state.Timeline, fresh.ConversationID, localID)
		s.state.Timeline = s.rec.Append(seq, fresh)
		save = s.saveLocked(true)
	}
	link := s.link
	s.publishLocked()
	s.mu.Unlock()

	save()
	s.log.Ctx(logger.WithConversation(ctx, fresh.ConversationID)).Info("send_retried",
		zap.String("failed_id", localID), zap.String("local_id", fresh.LocalID))
	return fresh, s.dispatch(link, fresh, content), nil
}

// Discard drops a failed placeholder for good.
func (s *Session) Discard(localID string) error {
	s.mu.Lock()
	m, ok := s.tracker.Get(localID)
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("placeholder %s: %w", localID, sentinal_errors.ErrNotFound)
	}
	if m.State != message.StateFailed {
		s.mu.Unlock()
		return fmt.Errorf("placeholder %s is %s: %w", localID, m.State, sentinal_errors.ErrConflict)
	}
	s.tracker.Remove(localID)
	save := func() {}
	if m.ConversationID == s.state.ActiveID {
		if seq, removed := s.rec.Remove(s.state.Timeline, m.ConversationID, localID); removed {
			s.state.Timeline = seq
			save = s.saveLocked(true)
		}
	}
	s.publishLocked()
	s.mu.Unlock()
	save()
	return nil
}

// dispatch runs the remote send for ph. The send is bound to the session,
// not to the caller: leaving the conversation does not cancel it.
func (s *Session) dispatch(link remote.Link, ph message.Message, content optimistic.Content) <-chan SendOutcome {
	out := make(chan SendOutcome, 1)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer close(out)

		var (
			sent message.Message
			err  error
		)
		switch {
		case link == nil:
			err = sentinal_errors.ErrNotConnected
		case content.File == nil:
			sent, err = link.SendText(s.ctx, ph.ConversationID, content.Text)
		default:
			sent, err = s.upload(link, ph, content.File)
		}

		if err != nil {
			out <- SendOutcome{Message: s.failed(ph, err), Err: err}
			return
		}
		out <- SendOutcome{Message: s.confirmed(ph, sent)}
	}()
	return out
}

func (s *Session) upload(link remote.Link, ph message.Message, f *optimistic.FileContent) (message.Message, error) {
	progress := make(chan int, 16)
	stop := make(chan struct{})
	drained := make(chan struct{})
	go func() {
		defer close(drained)
		for {
			select {
			case pct := <-progress:
				s.progress(ph.LocalID, pct)
			case <-stop:
				return
			}
		}
	}()

	sent, err := link.SendFile(s.ctx, ph.ConversationID, remote.FileUpload{
		Name:     f.Name,
		MimeType: f.MimeType,
		Data:     f.Data,
	}, progress)
	close(stop)
	<-drained
	return sent, err
}

func (s *Session) progress(localID string, pct int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, changed := s.tracker.Progress(localID, pct)
	if !changed || m.ConversationID != s.state.ActiveID {
		return
	}
	if seq, ok := reconcile.UpdateLocal(s.state.Timeline, m); ok {
		s.state.Timeline = seq
		s.publishLocked()
	}
}

// confirmed folds the remote copy of a sent message into the session. A
// live echo may have resolved the placeholder first; the timeline already
// holds the message then.
func (s *Session) confirmed(ph message.Message, sent message.Message) message.Message {
	s.mu.Lock()
	merged, err := s.tracker.Confirm(ph.LocalID, sent)
	if err != nil {
		// a live echo settled the placeholder first, possibly under a twin
		// with the same content, so sent may still be missing
		merged = sent
		if merged.LocalID == "" {
			merged.LocalID = ph.LocalID
		}
		if merged.ConversationID == "" {
			merged.ConversationID = ph.ConversationID
		}
		if merged.Body.IsEmpty() {
			merged.Body = ph.Body
		}
		merged.State = message.StateConfirmed
		merged.Preview = nil
	}
	conv := merged.ConversationID
	s.applier.MarkSeen(conv, []message.Message{merged})
	s.summaryLocked(conv).SetLastMessage(merged)

	var save func()
	if conv == s.state.ActiveID {
		seq, result, promoted := s.rec.Upsert(s.state.Timeline, merged)
		s.state.Timeline = seq
		save = s.saveLocked(result != reconcile.Unchanged || promoted != "")
		s.log.Logger.Debug("send_confirmed",
			zap.String("conversation_id", conv),
			zap.String("local_id", ph.LocalID),
			zap.String("message_id", merged.ID),
			zap.Int("result", int(result)),
		)
	} else {
		save = s.saveElsewhereLocked(merged)
	}
	s.publishLocked()
	s.mu.Unlock()
	save()
	return merged
}

// saveElsewhereLocked versions a confirmed message for a conversation that
// is not open. The write folds it into that conversation's stored snapshot
// so the placeholder there does not come back as failed.
func (s *Session) saveElsewhereLocked(m message.Message) func() {
	s.version++
	conv, version := m.ConversationID, s.version
	return func() {
		seq, result, promoted := s.rec.Upsert(s.cache.Read(s.ctx, conv), m)
		if result == reconcile.Unchanged && promoted == "" {
			return
		}
		s.persister.Save(s.ctx, conv, version, seq)
	}
}

func (s *Session) failed(ph message.Message, cause error) message.Message {
	s.log.Logger.Warn("send_failed",
		zap.String("conversation_id", ph.ConversationID),
		zap.String("local_id", ph.LocalID),
		zap.Error(cause),
	)
	s.mu.Lock()
	m, err := s.tracker.Fail(ph.LocalID, cause)
	if err != nil {
		s.mu.Unlock()
		return ph
	}
	save := func() {}
	if m.ConversationID == s.state.ActiveID {
		if seq, ok := reconcile.UpdateLocal(s.state.Timeline, m); ok {
			s.state.Timeline = seq
			save = s.saveLocked(true)
		}
	}
	s.publishLocked()
	s.mu.Unlock()
	save()
	return m
}
