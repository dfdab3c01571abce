package optimistic

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"sentinal-client/internal/domain/message"
	"sentinal-client/internal/metrics"
	"sentinal-client/internal/reconcile"
	sentinal_errors "sentinal-client/pkg/errors"
)

// FileContent is a file the user asked to send. Data holds the bytes still
// to be uploaded; it is empty for placeholders restored from the cache.
type FileContent struct {
	Name     string
	MimeType string
	Data     []byte
	Preview  message.Releaser
}

func (f *FileContent) Size() int64 {
	return int64(len(f.Data))
}

// Content is the user intent behind a placeholder, kept so a failed send
// can be retried verbatim.
type Content struct {
	Text string
	File *FileContent
}

func (c Content) body() message.Body {
	if c.File == nil {
		return message.Body{Text: c.Text}
	}
	return message.Body{File: &message.File{
		Name:     c.File.Name,
		MimeType: c.File.MimeType,
		Size:     c.File.Size(),
	}}
}

func (c Content) retryable() bool {
	if c.File != nil {
		return len(c.File.Data) > 0
	}
	return strings.TrimSpace(c.Text) != ""
}

type entry struct {
	msg     message.Message
	content Content
}

// Tracker is the registry of messages sent from this client that the remote
// has not confirmed yet.
type Tracker struct {
	mu      sync.Mutex
	clock   func() time.Time
	matcher *reconcile.Reconciler
	entries map[string]*entry
	order   []string

	// remote ids already paired with a placeholder, oldest first
	settled      map[string]string
	settledOrder []string
}

// settledLimit bounds how many paired remote ids are remembered.
const settledLimit = 512

func NewTracker(skew time.Duration, clock func() time.Time) *Tracker {
	if clock == nil {
		clock = time.Now
	}
	return &Tracker{
		clock:   clock,
		matcher: reconcile.New(skew, clock),
		entries: make(map[string]*entry),
		settled: make(map[string]string),
	}
}

// CreatePlaceholder registers a new local message and returns it. Text
// sends get a pending_<ms> id; file sends get upload_<ms> and start in the
// uploading state. Ids are unique within the tracker: a collision moves the
// timestamp forward by one millisecond.
func (t *Tracker) CreatePlaceholder(conversationID, senderID string, content Content) message.Message {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.create(conversationID, senderID, content)
}

func (t *Tracker) create(conversationID, senderID string, content Content) message.Message {
	kind, state := message.KindPending, message.StatePending
	if content.File != nil {
		kind = message.KindUpload
		if len(content.File.Data) > 0 {
			state = message.StateUploading
		}
	}

	ms := t.clock().UnixMilli()
	id := message.PlaceholderID(kind, ms)
	for t.entries[id] != nil {
		ms++
		id = message.PlaceholderID(kind, ms)
	}

	m := message.Message{
		LocalID:        id,
		ConversationID: conversationID,
		SenderID:       senderID,
		Body:           content.body(),
		CreatedAt:      ms,
		State:          state,
	}
	if content.File != nil {
		m.Preview = content.File.Preview
	}
	t.entries[id] = &entry{msg: m, content: content}
	t.order = append(t.order, id)
	metrics.IncPlaceholder("created")
	return m
}

// Adopt starts tracking a placeholder that was not created here, typically
// one restored from the cache. Already tracked ids are left alone.
func (t *Tracker) Adopt(m message.Message) {
	if !m.IsPlaceholder() || m.LocalID == "" {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.entries[m.LocalID] != nil {
		return
	}
	content := Content{Text: m.Body.Text}
	if f := m.Body.File; f != nil {
		content = Content{File: &FileContent{Name: f.Name, MimeType: f.MimeType}}
	}
	t.entries[m.LocalID] = &entry{msg: m, content: content}
	t.order = append(t.order, m.LocalID)
}

// Confirm resolves localID with the remote's copy of the message. The
// returned message carries the placeholder id; the user's content is kept
// when the remote echo has nothing usable. ErrNotFound means the
// placeholder was already resolved, usually by a live event. Either way
// remote.ID is remembered as belonging to localID, so a later echo of it
// cannot claim another placeholder.
func (t *Tracker) Confirm(localID string, remote message.Message) (message.Message, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.settle(remote.ID, localID)
	e, ok := t.entries[localID]
	if !ok {
		return message.Message{}, fmt.Errorf("placeholder %s: %w", localID, sentinal_errors.ErrNotFound)
	}
	merged := confirmWith(e.msg, remote)
	t.drop(localID)
	metrics.IncPlaceholder("confirmed")
	return merged, nil
}

func confirmWith(placeholder, remote message.Message) message.Message {
	merged := remote
	merged.LocalID = placeholder.LocalID
	merged.State = message.StateConfirmed
	merged.UploadProgress = 0
	merged.FailureReason = ""
	merged.Preview = nil
	if merged.ConversationID == "" {
		merged.ConversationID = placeholder.ConversationID
	}
	if merged.SenderID == "" {
		merged.SenderID = placeholder.SenderID
	}
	if ambiguous(remote.Body) {
		merged.Body = placeholder.Body
	}
	if merged.CreatedAt <= 0 {
		merged.CreatedAt = placeholder.CreatedAt
	}
	return merged
}

func ambiguous(b message.Body) bool {
	return b.IsEmpty() || (b.File == nil && b.Text == message.UnsupportedText)
}

// Fail marks localID as failed with cause. The placeholder stays visible
// and can be retried.
func (t *Tracker) Fail(localID string, cause error) (message.Message, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[localID]
	if !ok {
		return message.Message{}, fmt.Errorf("placeholder %s: %w", localID, sentinal_errors.ErrNotFound)
	}
	e.msg.State = message.StateFailed
	e.msg.FailureReason = "send failed"
	if cause != nil {
		e.msg.FailureReason = cause.Error()
	}
	metrics.IncPlaceholder("failed")
	return e.msg, nil
}

// Retry replaces a failed placeholder with a fresh one carrying the same
// content and returns it along with that content.
func (t *Tracker) Retry(localID string) (message.Message, Content, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[localID]
	if !ok {
		return message.Message{}, Content{}, fmt.Errorf("placeholder %s: %w", localID, sentinal_errors.ErrNotFound)
	}
	if e.msg.State != message.StateFailed || !e.content.retryable() {
		return message.Message{}, Content{}, fmt.Errorf("placeholder %s is %s: %w", localID, e.msg.State, sentinal_errors.ErrNotRetryable)
	}
	fresh := t.create(e.msg.ConversationID, e.msg.SenderID, e.content)
	t.forget(localID)
	metrics.IncPlaceholder("retried")
	return fresh, e.content, nil
}

// Progress records upload progress for localID, clamped to 0..100 and never
// moving backwards. It reports whether the visible value changed; a
// placeholder that is gone or no longer uploading is ignored.
func (t *Tracker) Progress(localID string, pct int) (message.Message, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[localID]
	if !ok || e.msg.State != message.StateUploading {
		return message.Message{}, false
	}
	if pct < 0 {
		pct = 0
	}
	if pct > 100 {
		pct = 100
	}
	if pct <= e.msg.UploadProgress {
		return e.msg, false
	}
	e.msg.UploadProgress = pct
	return e.msg, true
}

// Resolve looks for the tracked placeholder that confirmed supersedes and
// confirms it. ok is false when no placeholder matches.
func (t *Tracker) Resolve(confirmed message.Message) (localID string, merged message.Message, ok bool) {
	if confirmed.ID == "" {
		return "", message.Message{}, false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, done := t.settled[confirmed.ID]; done {
		return "", message.Message{}, false
	}
	for _, id := range t.order {
		e := t.entries[id]
		if e.msg.ConversationID != confirmed.ConversationID {
			continue
		}
		if !t.matcher.Matches(e.msg, confirmed) {
			continue
		}
		merged = confirmWith(e.msg, confirmed)
		t.settle(confirmed.ID, id)
		t.drop(id)
		metrics.IncPlaceholder("resolved")
		return id, merged, true
	}
	return "", message.Message{}, false
}

// Settled returns the placeholder id remoteID was paired with, if any.
func (t *Tracker) Settled(remoteID string) (string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	localID, ok := t.settled[remoteID]
	return localID, ok
}

func (t *Tracker) settle(remoteID, localID string) {
	if remoteID == "" {
		return
	}
	if _, ok := t.settled[remoteID]; ok {
		return
	}
	if len(t.settledOrder) >= settledLimit {
		delete(t.settled, t.settledOrder[0])
		t.settledOrder = t.settledOrder[1:]
	}
	t.settled[remoteID] = localID
	t.settledOrder = append(t.settledOrder, remoteID)
}

// Remove stops tracking localID and releases its preview.
func (t *Tracker) Remove(localID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.entries[localID] == nil {
		return false
	}
	t.drop(localID)
	return true
}

// Get returns the current state of localID.
func (t *Tracker) Get(localID string) (message.Message, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[localID]
	if !ok {
		return message.Message{}, false
	}
	return e.msg, true
}

// Pending returns the placeholders of conversationID in creation order.
func (t *Tracker) Pending(conversationID string) []message.Message {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []message.Message
	for _, id := range t.order {
		if e := t.entries[id]; e.msg.ConversationID == conversationID {
			out = append(out, e.msg)
		}
	}
	return out
}

// Content returns the original content behind localID.
func (t *Tracker) Content(localID string) (Content, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[localID]
	if !ok {
		return Content{}, false
	}
	return e.content, true
}

// drop forgets localID and releases its preview.
func (t *Tracker) drop(localID string) {
	if p := t.entries[localID].msg.Preview; p != nil {
		p.Release()
	}
	t.forget(localID)
}

func (t *Tracker) forget(localID string) {
	delete(t.entries, localID)
	for i, id := range t.order {
		if id == localID {
			t.order = append(t.order[:i:i], t.order[i+1:]...)
			break
		}
	}
}
