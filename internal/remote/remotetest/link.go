// Package remotetest provides an in-memory remote for tests.
package remotetest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"sentinal-client/internal/domain/conversation"
	"sentinal-client/internal/domain/message"
	"sentinal-client/internal/events"
	"sentinal-client/internal/remote"
	sentinal_errors "sentinal-client/pkg/errors"
)

var ErrClosed = errors.New("link closed")

// Link is an in-memory remote.Link. History is kept per conversation in
// ascending time order.
type Link struct {
	mu       sync.Mutex
	userID   string
	clock    func() time.Time
	convs    []conversation.Summary
	history  map[string][]message.Message
	nextID   int
	subs     []chan events.Event
	gates    map[string]chan struct{}
	sendGate chan struct{}
	closed   bool

	sendErrs  []error
	fetchErrs []error
	pageErrs  []error

	// EchoSends pushes a received event for every successful send, the
	// way a real remote echoes the user's own messages on the live feed.
	EchoSends bool
	// Fetches counts FetchRecent calls.
	Fetches int
	// Pages counts cursor Next calls.
	Pages int
}

var _ remote.Link = (*Link)(nil)

func NewLink(userID string, clock func() time.Time) *Link {
	if clock == nil {
		clock = time.Now
	}
	return &Link{
		userID:  userID,
		clock:   clock,
		history: make(map[string][]message.Message),
		gates:   make(map[string]chan struct{}),
	}
}

// AddConversation registers a conversation summary.
func (l *Link) AddConversation(s conversation.Summary) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.convs = append(l.convs, s)
}

// Seed appends msgs to the history of conversationID.
func (l *Link) Seed(conversationID string, msgs ...message.Message) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, m := range msgs {
		m.ConversationID = conversationID
		m.State = message.StateConfirmed
		l.history[conversationID] = append(l.history[conversationID], m)
	}
}

// History returns what the remote has stored for conversationID.
func (l *Link) History(conversationID string) []message.Message {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]message.Message(nil), l.history[conversationID]...)
}

// FailSends makes the next sends fail with errs, in order.
func (l *Link) FailSends(errs ...error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.sendErrs = append(l.sendErrs, errs...)
}

// FailFetches makes the next FetchRecent calls fail with errs, in order.
func (l *Link) FailFetches(errs ...error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.fetchErrs = append(l.fetchErrs, errs...)
}

// FailPages makes the next cursor pages fail with errs, in order.
func (l *Link) FailPages(errs ...error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.pageErrs = append(l.pageErrs, errs...)
}

// Hold blocks FetchRecent for conversationID until the returned release
// function is called.
func (l *Link) Hold(conversationID string) (release func()) {
	l.mu.Lock()
	defer l.mu.Unlock()
	gate := make(chan struct{})
	l.gates[conversationID] = gate
	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			delete(l.gates, conversationID)
			l.mu.Unlock()
			close(gate)
		})
	}
}

// HoldSends blocks every send until the returned release function is
// called.
func (l *Link) HoldSends() (release func()) {
	l.mu.Lock()
	defer l.mu.Unlock()
	gate := make(chan struct{})
	l.sendGate = gate
	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			l.sendGate = nil
			l.mu.Unlock()
			close(gate)
		})
	}
}

// Push delivers ev to every subscriber. A subscriber with a full buffer
// misses the event.
func (l *Link) Push(ev events.Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, ch := range l.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

func (l *Link) ListConversations(ctx context.Context) ([]conversation.Summary, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil, ErrClosed
	}
	out := make([]conversation.Summary, len(l.convs))
	copy(out, l.convs)
	for i, s := range out {
		if h := l.history[s.ID]; len(h) > 0 {
			last := h[len(h)-1]
			out[i].LastMessage = &last
		}
	}
	return out, nil
}

func (l *Link) FetchRecent(ctx context.Context, conversationID string, limit int) ([]message.Message, remote.Cursor, error) {
	l.mu.Lock()
	gate := l.gates[conversationID]
	l.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, nil, ctx.Err()
		}
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.Fetches++
	if l.closed {
		return nil, nil, ErrClosed
	}
	if err := pop(&l.fetchErrs); err != nil {
		return nil, nil, err
	}
	h := l.history[conversationID]
	start := len(h) - limit
	if start < 0 {
		start = 0
	}
	page := append([]message.Message(nil), h[start:]...)
	return page, &cursor{link: l, conversationID: conversationID, end: start}, nil
}

func (l *Link) SendText(ctx context.Context, conversationID, text string) (message.Message, error) {
	return l.send(ctx, conversationID, message.Body{Text: text})
}

func (l *Link) SendFile(ctx context.Context, conversationID string, f remote.FileUpload, progress chan<- int) (message.Message, error) {
	remote.OfferProgress(progress, 50)
	m, err := l.send(ctx, conversationID, message.Body{File: &message.File{
		Name:     f.Name,
		MimeType: f.MimeType,
		Size:     int64(len(f.Data)),
		URL:      "https://files.test/" + f.Name,
	}})
	if err == nil {
		remote.OfferProgress(progress, 100)
	}
	return m, err
}

func (l *Link) send(ctx context.Context, conversationID string, body message.Body) (message.Message, error) {
	l.mu.Lock()
	gate := l.sendGate
	l.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return message.Message{}, ctx.Err()
		}
	}

	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return message.Message{}, ErrClosed
	}
	if err := pop(&l.sendErrs); err != nil {
		l.mu.Unlock()
		return message.Message{}, err
	}
	l.nextID++
	m := message.Message{
		ID:             fmt.Sprintf("r%d", l.nextID),
		ConversationID: conversationID,
		SenderID:       l.userID,
		Body:           body,
		CreatedAt:      l.clock().UnixMilli(),
		State:          message.StateConfirmed,
	}
	l.history[conversationID] = append(l.history[conversationID], m)
	echo := l.EchoSends
	l.mu.Unlock()

	if echo {
		l.Push(events.Received(m))
	}
	return m, nil
}

func (l *Link) AddReaction(ctx context.Context, conversationID, messageID, key string) (events.ReactionChanged, error) {
	return l.react(conversationID, messageID, key, true)
}

func (l *Link) RemoveReaction(ctx context.Context, conversationID, messageID, key string) (events.ReactionChanged, error) {
	return l.react(conversationID, messageID, key, false)
}

func (l *Link) react(conversationID, messageID, key string, added bool) (events.ReactionChanged, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return events.ReactionChanged{}, ErrClosed
	}
	if err := pop(&l.sendErrs); err != nil {
		return events.ReactionChanged{}, err
	}
	h := l.history[conversationID]
	for i := range h {
		if h[i].ID != messageID {
			continue
		}
		if added {
			h[i].Reactions.Add(key, l.userID)
		} else {
			h[i].Reactions.Remove(key, l.userID)
		}
		return events.ReactionChanged{
			MessageID:      messageID,
			ConversationID: conversationID,
			Key:            key,
			UserID:         l.userID,
			Added:          added,
		}, nil
	}
	return events.ReactionChanged{}, fmt.Errorf("message %s: %w", messageID, sentinal_errors.ErrNotFound)
}

func (l *Link) Subscribe(ctx context.Context) (<-chan events.Event, func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil, nil, ErrClosed
	}
	ch := make(chan events.Event, 64)
	l.subs = append(l.subs, ch)
	var once sync.Once
	cancel := func() {
		once.Do(func() {
			l.mu.Lock()
			defer l.mu.Unlock()
			for i, c := range l.subs {
				if c == ch {
					l.subs = append(l.subs[:i], l.subs[i+1:]...)
					close(ch)
					return
				}
			}
		})
	}
	return ch, cancel, nil
}

func (l *Link) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true
	for _, ch := range l.subs {
		close(ch)
	}
	l.subs = nil
	return nil
}

type cursor struct {
	link           *Link
	conversationID string
	end            int
}

func (c *cursor) Next(ctx context.Context, limit int) ([]message.Message, bool, error) {
	l := c.link
	l.mu.Lock()
	defer l.mu.Unlock()
	l.Pages++
	if err := pop(&l.pageErrs); err != nil {
		return nil, false, err
	}
	start := c.end - limit
	if start < 0 {
		start = 0
	}
	page := append([]message.Message(nil), l.history[c.conversationID][start:c.end]...)
	c.end = start
	return page, start == 0, nil
}

func pop(errs *[]error) error {
	if len(*errs) == 0 {
		return nil
	}
	err := (*errs)[0]
	*errs = (*errs)[1:]
	return err
}

// Dialer hands out a Link, optionally failing or hanging first.
type Dialer struct {
	mu    sync.Mutex
	link  *Link
	errs  []error
	hangs int
	Calls int
}

var _ remote.Dialer = (*Dialer)(nil)

func NewDialer(link *Link) *Dialer {
	return &Dialer{link: link}
}

// Fail makes the next Connect calls fail with errs, in order.
func (d *Dialer) Fail(errs ...error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.errs = append(d.errs, errs...)
}

// Hang makes the next n Connect calls block until their context ends.
func (d *Dialer) Hang(n int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.hangs += n
}

func (d *Dialer) Connect(ctx context.Context, userID string) (remote.Link, error) {
	d.mu.Lock()
	d.Calls++
	hang := d.hangs > 0
	if hang {
		d.hangs--
	}
	err := pop(&d.errs)
	d.mu.Unlock()

	if hang {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if err != nil {
		return nil, err
	}
	return d.link, nil
}
