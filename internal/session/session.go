// Package session is the explicit handle a client holds: one connected link,
// one active conversation with its canonical timeline, and the summaries of
// every other conversation.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"sentinal-client/internal/cache"
	"sentinal-client/internal/domain/conversation"
	"sentinal-client/internal/domain/message"
	"sentinal-client/internal/events"
	"sentinal-client/internal/live"
	"sentinal-client/internal/optimistic"
	"sentinal-client/internal/pagination"
	"sentinal-client/internal/reconcile"
	"sentinal-client/internal/remote"
	sentinal_errors "sentinal-client/pkg/errors"
	"sentinal-client/pkg/logger"
)

type Status string

const (
	StatusDisconnected Status = "disconnected"
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
)

type Config struct {
	UserID         string
	PageSize       int
	MatchSkew      time.Duration
	ConnectTimeout time.Duration
	Retry          remote.Policy
}

func DefaultConfig(userID string) Config {
	return Config{
		UserID:         userID,
		PageSize:       pagination.DefaultPageSize,
		MatchSkew:      reconcile.DefaultSkew,
		ConnectTimeout: 10 * time.Second,
		Retry:          remote.DefaultPolicy(),
	}
}

// Snapshot is what the session publishes after every visible change.
type Snapshot struct {
	Status        Status                 `json:"status"`
	Error         string                 `json:"error,omitempty"`
	ActiveID      string                 `json:"active_id,omitempty"`
	Timeline      []message.Message      `json:"timeline"`
	Conversations []conversation.Summary `json:"conversations"`
	Exhausted     bool                   `json:"exhausted"`
}

type Session struct {
	cfg       Config
	dialer    remote.Dialer
	cache     *cache.TimelineCache
	persister *cache.Persister
	rec       *reconcile.Reconciler
	tracker   *optimistic.Tracker
	applier   *live.Applier
	log       *logger.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu         sync.Mutex
	link       remote.Link
	stopEvents func()
	status     Status
	lastErr    error
	state      live.State
	generation uint64
	version    uint64
	pager      *pagination.Pager
	closed     bool

	updates chan Snapshot
}

// New builds a disconnected session. clock may be nil.
func New(cfg Config, dialer remote.Dialer, timelines *cache.TimelineCache, log *logger.Logger, clock func() time.Time) *Session {
	if log == nil {
		log = logger.Nop()
	}
	if clock == nil {
		clock = time.Now
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = pagination.DefaultPageSize
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 10 * time.Second
	}
	log = log.With(zap.String("user_id", cfg.UserID))

	rec := reconcile.New(cfg.MatchSkew, clock)
	tracker := optimistic.NewTracker(cfg.MatchSkew, clock)
	ctx, cancel := context.WithCancel(context.Background())
	return &Session{
		cfg:       cfg,
		dialer:    dialer,
		cache:     timelines,
		persister: cache.NewPersister(timelines),
		rec:       rec,
		tracker:   tracker,
		applier:   live.NewApplier(cfg.UserID, rec, tracker, log, clock),
		log:       log,
		ctx:       ctx,
		cancel:    cancel,
		status:    StatusDisconnected,
		state:     live.State{Summaries: make(map[string]*conversation.Summary)},
		updates:   make(chan Snapshot, 1),
	}
}

// Connect dials the remote, retrying each timed-out or failed attempt with
// backoff. When every attempt fails the session is disconnected with the
// last error; Connect may be called again. An active conversation is
// refreshed once the link is up.
func (s *Session) Connect(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return sentinal_errors.ErrNotConnected
	}
	if s.link != nil {
		s.mu.Unlock()
		return nil
	}
	s.status = StatusConnecting
	s.lastErr = nil
	s.publishLocked()
	s.mu.Unlock()

	var link remote.Link
	err := remote.Retry(ctx, s.cfg.Retry, "connect", func() error {
		attemptCtx, cancel := context.WithTimeout(ctx, s.cfg.ConnectTimeout)
		defer cancel()
		l, err := s.dialer.Connect(attemptCtx, s.cfg.UserID)
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
				return fmt.Errorf("connect after %s: %w", s.cfg.ConnectTimeout, sentinal_errors.ErrConnectTimeout)
			}
			return err
		}
		link = l
		return nil
	})

	var feed <-chan events.Event
	var stop func()
	if err == nil {
		feed, stop, err = link.Subscribe(s.ctx)
		if err != nil {
			_ = link.Close()
			err = fmt.Errorf("subscribe: %w", err)
		}
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		if err == nil {
			stop()
			_ = link.Close()
		}
		return sentinal_errors.ErrNotConnected
	}
	if err != nil {
		s.status = StatusDisconnected
		s.lastErr = err
		s.publishLocked()
		s.mu.Unlock()
		s.log.Ctx(ctx).Warn("connect_failed", zap.Error(err))
		return err
	}
	s.link = link
	s.stopEvents = stop
	s.status = StatusConnected
	active := s.state.ActiveID
	s.publishLocked()
	s.wg.Add(1)
	go s.consume(link, feed)
	s.mu.Unlock()

	s.log.Ctx(ctx).Info("connected")
	if active != "" {
		if err := s.Open(ctx, active); err != nil && !errors.Is(err, sentinal_errors.ErrStaleResult) {
			s.log.Ctx(ctx).Warn("refresh_failed", zap.String("conversation_id", active), zap.Error(err))
		}
	}
	return nil
}

// consume applies live events until the feed closes. A feed that closes
// while the session still holds its link means the link dropped.
func (s *Session) consume(link remote.Link, feed <-chan events.Event) {
	defer s.wg.Done()
	for ev := range feed {
		s.apply(ev)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.link != link {
		return
	}
	s.link = nil
	s.stopEvents = nil
	s.pager = nil
	s.status = StatusDisconnected
	s.lastErr = sentinal_errors.ErrNotConnected
	s.publishLocked()
	s.log.Logger.Warn("link_lost")
}

func (s *Session) apply(ev events.Event) {
	s.mu.Lock()
	out := s.applier.Apply(&s.state, ev)
	if !out.Timeline && !out.Summary {
		s.mu.Unlock()
		return
	}
	save := s.saveLocked(out.Timeline)
	s.publishLocked()
	s.mu.Unlock()
	save()
}

// saveLocked versions the active timeline and returns the write to run
// once the lock is released.
func (s *Session) saveLocked(changed bool) func() {
	if !changed || s.state.ActiveID == "" {
		return func() {}
	}
	s.version++
	conv, version := s.state.ActiveID, s.version
	seq := copyTimeline(s.state.Timeline)
	return func() {
		s.persister.Save(s.ctx, conv, version, seq)
	}
}

// publishLocked replaces whatever snapshot is waiting on the updates channel.
func (s *Session) publishLocked() {
	snap := s.snapshotLocked()
	select {
	case <-s.updates:
	default:
	}
	select {
	case s.updates <- snap:
	default:
	}
}

func (s *Session) snapshotLocked() Snapshot {
	snap := Snapshot{
		Status:        s.status,
		ActiveID:      s.state.ActiveID,
		Timeline:      copyTimeline(s.state.Timeline),
		Conversations: s.summariesLocked(),
		Exhausted:     s.pager == nil || s.pager.Exhausted(),
	}
	if s.lastErr != nil {
		snap.Error = s.lastErr.Error()
	}
	return snap
}

func (s *Session) summariesLocked() []conversation.Summary {
	out := make([]conversation.Summary, 0, len(s.state.Summaries))
	for _, sum := range s.state.Summaries {
		out = append(out, *sum)
	}
	conversation.SortByActivity(out)
	return out
}

// Updates delivers the latest snapshot. Only the newest one is kept, so a
// slow reader never blocks the session.
func (s *Session) Updates() <-chan Snapshot {
	return s.updates
}

// Snapshot returns the current view.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Session) Status() (Status, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status, s.lastErr
}

// Close disconnects and waits for in-flight sends to settle.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	link, stop := s.link, s.stopEvents
	s.link, s.stopEvents = nil, nil
	s.status = StatusDisconnected
	s.mu.Unlock()

	s.cancel()
	if stop != nil {
		stop()
	}
	var err error
	if link != nil {
		err = link.Close()
	}
	s.wg.Wait()
	return err
}

func (s *Session) summaryLocked(conversationID string) *conversation.Summary {
	sum, ok := s.state.Summaries[conversationID]
	if !ok {
		sum = &conversation.Summary{ID: conversationID}
		s.state.Summaries[conversationID] = sum
	}
	return sum
}

func copyTimeline(seq []message.Message) []message.Message {
	out := make([]message.Message, len(seq))
	copy(out, seq)
	return out
}
