package reconcile

import (
	"sort"
	"strings"
	"time"

	"sentinal-client/internal/domain/message"
	"sentinal-client/internal/metrics"
)

// DefaultSkew is the tolerance used to pair a placeholder with its confirmed
// copy when no better signal than content and time is available.
const DefaultSkew = 60 * time.Second

// WelcomeText is the body of the notice shown for an empty conversation.
const WelcomeText = "No messages yet. Say hello!"

// Reconciler merges the sources of a conversation timeline into one ordered,
// duplicate-free canonical sequence. It holds no per-conversation state and
// is safe for concurrent use.
type Reconciler struct {
	skew  time.Duration
	clock func() time.Time
}

func New(skew time.Duration, clock func() time.Time) *Reconciler {
	if skew <= 0 {
		skew = DefaultSkew
	}
	if clock == nil {
		clock = time.Now
	}
	return &Reconciler{skew: skew, clock: clock}
}

func (r *Reconciler) Skew() time.Duration {
	return r.skew
}

// Merge builds the canonical sequence for conversationID from the cached
// snapshot, the authoritative fetch result and the in-memory placeholders.
//
// Fetched entries win over cached copies of the same remote id, taking the
// placeholder id a later copy carries when they have none; explicit
// placeholders win over cached copies of the same placeholder id. A
// placeholder survives only while no confirmed message claims it. The
// result is sorted by CreatedAt with confirmed entries ahead of placeholders
// on equal timestamps, and falls back to a single welcome notice when empty.
// Equal inputs and clock produce equal output, and re-merging an output with
// empty cache and placeholders returns it unchanged.
func (r *Reconciler) Merge(conversationID string, cached, fetched, placeholders []message.Message) []message.Message {
	metrics.IncMerge()
	now := r.clock().UnixMilli()

	var (
		confirmed  []message.Message
		pool       []message.Message
		seenRemote = make(map[string]int)
		seenLocal  = make(map[string]struct{})
		dupRemote  int
		dupLocal   int
	)

	add := func(m message.Message) {
		if m.IsSystem() {
			return
		}
		m = r.normalize(m, now)
		if m.ID != "" {
			if i, dup := seenRemote[m.ID]; dup {
				if confirmed[i].LocalID == "" {
					confirmed[i].LocalID = m.LocalID
				}
				dupRemote++
				return
			}
			seenRemote[m.ID] = len(confirmed)
			confirmed = append(confirmed, m)
			return
		}
		if m.LocalID == "" {
			return
		}
		if _, dup := seenLocal[m.LocalID]; dup {
			dupLocal++
			return
		}
		seenLocal[m.LocalID] = struct{}{}
		pool = append(pool, m)
	}

	for _, m := range fetched {
		add(m)
	}
	for _, m := range cached {
		if m.ID == "" {
			continue
		}
		add(m)
	}
	for _, m := range placeholders {
		add(m)
	}
	for _, m := range cached {
		if m.ID != "" {
			continue
		}
		add(m)
	}

	survivors, superseded := r.claim(confirmed, pool)

	combined := make([]message.Message, 0, len(confirmed)+len(survivors))
	combined = append(combined, confirmed...)
	combined = append(combined, survivors...)
	sortTimeline(combined)

	metrics.AddDuplicatesDropped("remote_id", dupRemote)
	metrics.AddDuplicatesDropped("placeholder_id", dupLocal)
	metrics.AddDuplicatesDropped("superseded", superseded)

	if len(combined) == 0 {
		return []message.Message{r.Welcome(conversationID)}
	}
	return combined
}

// claim pairs placeholders with the confirmed messages that supersede them.
// Each confirmed message claims at most one placeholder: first by an echoed
// placeholder id, then by content and time for messages that never carried
// one. A claimed confirmed message records the placeholder id so later
// merges treat it as already paired.
func (r *Reconciler) claim(confirmed, pool []message.Message) ([]message.Message, int) {
	if len(pool) == 0 {
		return nil, 0
	}
	byLocal := make(map[string]int)
	for i, c := range confirmed {
		if c.LocalID != "" {
			byLocal[c.LocalID] = i
		}
	}

	claimed := make([]bool, len(pool))
	taken := make(map[int]struct{})
	for pi, p := range pool {
		if ci, ok := byLocal[p.LocalID]; ok {
			claimed[pi] = true
			taken[ci] = struct{}{}
		}
	}
	for pi, p := range pool {
		if claimed[pi] {
			continue
		}
		for ci, c := range confirmed {
			if _, used := taken[ci]; used || c.LocalID != "" {
				continue
			}
			if r.contentMatch(p, c) {
				claimed[pi] = true
				taken[ci] = struct{}{}
				confirmed[ci].LocalID = p.LocalID
				if confirmed[ci].Body.IsEmpty() {
					confirmed[ci].Body = p.Body
				}
				break
			}
		}
	}

	var survivors []message.Message
	superseded := 0
	for pi, p := range pool {
		if claimed[pi] {
			superseded++
			continue
		}
		survivors = append(survivors, p)
	}
	return survivors, superseded
}

// Matches reports whether confirmed is the remote copy of placeholder.
func (r *Reconciler) Matches(placeholder, confirmed message.Message) bool {
	if confirmed.ID == "" || placeholder.LocalID == "" {
		return false
	}
	if confirmed.LocalID != "" {
		return confirmed.LocalID == placeholder.LocalID
	}
	return r.contentMatch(placeholder, confirmed)
}

func (r *Reconciler) contentMatch(placeholder, confirmed message.Message) bool {
	if placeholder.ConversationID != confirmed.ConversationID || placeholder.SenderID != confirmed.SenderID {
		return false
	}
	if !sameContent(placeholder.Body, confirmed.Body) {
		return false
	}
	delta := message.NormalizeMillis(confirmed.CreatedAt) - message.NormalizeMillis(placeholder.CreatedAt)
	if delta < 0 {
		delta = -delta
	}
	return delta <= r.skew.Milliseconds()
}

func sameContent(local, remote message.Body) bool {
	if local.File != nil || remote.File != nil {
		if local.File == nil || remote.File == nil {
			return false
		}
		return local.File.Name != "" && local.File.Name == remote.File.Name
	}
	text := strings.TrimSpace(local.Text)
	return text != "" && text == strings.TrimSpace(remote.Text)
}

// normalize brings a message into canonical shape before ordering: epoch
// seconds become milliseconds, unresolvable times fall back to now, and
// entries carrying a remote id are confirmed.
func (r *Reconciler) normalize(m message.Message, now int64) message.Message {
	m.CreatedAt = message.NormalizeMillis(m.CreatedAt)
	if m.CreatedAt <= 0 {
		m.CreatedAt = now
		m.TimeUnknown = true
	}
	m.EditedAt = message.NormalizeMillis(m.EditedAt)
	if m.ID != "" {
		m.State = message.StateConfirmed
		m.UploadProgress = 0
		m.FailureReason = ""
	} else if !m.State.IsPlaceholder() {
		m.State = message.StatePending
	}
	return m
}

// Welcome returns the synthesized notice for an empty conversation.
func (r *Reconciler) Welcome(conversationID string) message.Message {
	return message.Message{
		LocalID:        message.WelcomeID,
		ConversationID: conversationID,
		SenderID:       message.SystemSender,
		Body:           message.Body{Text: WelcomeText},
		CreatedAt:      r.clock().UnixMilli(),
		State:          message.StateSystem,
	}
}

// before reports whether a sorts ahead of b.
func before(a, b message.Message) bool {
	if a.CreatedAt != b.CreatedAt {
		return a.CreatedAt < b.CreatedAt
	}
	return !a.IsPlaceholder() && b.IsPlaceholder()
}

func sortTimeline(seq []message.Message) {
	sort.SliceStable(seq, func(i, j int) bool {
		return before(seq[i], seq[j])
	})
}
