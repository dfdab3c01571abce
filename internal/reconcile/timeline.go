package reconcile

import (
	"sentinal-client/internal/domain/message"
	"sentinal-client/internal/metrics"
)

// UpsertResult describes what Upsert did with a confirmed message.
type UpsertResult int

const (
	// Unchanged means the remote id was already present.
	Unchanged UpsertResult = iota
	// Inserted means the message was new to the sequence.
	Inserted
	// Promoted means the message replaced a local placeholder.
	Promoted
)

// Upsert applies a confirmed message to seq. A message whose remote id is
// already present is a no-op, which makes repeated delivery harmless. A
// message that matches a placeholder replaces it, keeping the user's text
// when the remote echo carries none. Anything else is inserted at its
// ordered position; existing entries never move relative to each other.
//
// The returned slice is always a fresh copy. promotedID is the placeholder
// id that was replaced, if any.
func (r *Reconciler) Upsert(seq []message.Message, confirmed message.Message) (out []message.Message, result UpsertResult, promotedID string) {
	if confirmed.ID == "" {
		return copyOf(seq), Unchanged, ""
	}
	confirmed = r.normalize(confirmed, r.clock().UnixMilli())

	exists := indexByID(seq, confirmed.ID) >= 0
	ph := -1
	if confirmed.LocalID != "" {
		ph = indexPlaceholder(seq, confirmed.LocalID)
	} else if !exists {
		for i, m := range seq {
			if m.IsPlaceholder() && r.contentMatch(m, confirmed) {
				ph = i
				break
			}
		}
	}

	out = make([]message.Message, 0, len(seq)+1)
	for i, m := range seq {
		if i == ph || m.IsSystem() {
			continue
		}
		out = append(out, m)
	}

	if ph >= 0 {
		p := seq[ph]
		promotedID = p.LocalID
		if p.Preview != nil {
			p.Preview.Release()
		}
		metrics.AddDuplicatesDropped("superseded", 1)
		if exists {
			return out, Unchanged, promotedID
		}
		confirmed.LocalID = p.LocalID
		if confirmed.Body.IsEmpty() {
			confirmed.Body = p.Body
		}
		return insertOrdered(out, confirmed), Promoted, promotedID
	}
	if exists {
		metrics.AddDuplicatesDropped("remote_id", 1)
		return copyOf(seq), Unchanged, ""
	}
	return insertOrdered(out, confirmed), Inserted, ""
}

// Replace swaps the entry carrying updated.ID for updated, in place. Unknown
// ids are ignored rather than inserted. Position, reactions and placeholder
// id of the existing entry are kept; an edit older than the one already
// applied is dropped as stale.
func (r *Reconciler) Replace(seq []message.Message, updated message.Message) ([]message.Message, bool) {
	i := indexByID(seq, updated.ID)
	if i < 0 {
		return seq, false
	}
	updated = r.normalize(updated, r.clock().UnixMilli())
	current := seq[i]
	if updated.EditedAt > 0 && current.EditedAt > updated.EditedAt {
		return seq, false
	}
	updated.CreatedAt = current.CreatedAt
	updated.TimeUnknown = current.TimeUnknown
	updated.Reactions = current.Reactions.Clone()
	if updated.LocalID == "" {
		updated.LocalID = current.LocalID
	}
	if updated.ConversationID == "" {
		updated.ConversationID = current.ConversationID
	}
	if updated.Body.IsEmpty() {
		updated.Body = current.Body
	}
	out := copyOf(seq)
	out[i] = updated
	return out, true
}

// Remove drops the entry keyed by key (remote id or placeholder id).
// Removing the last real message brings back the welcome notice.
func (r *Reconciler) Remove(seq []message.Message, conversationID, key string) ([]message.Message, bool) {
	i := indexByKey(seq, key)
	if i < 0 {
		return seq, false
	}
	if p := seq[i].Preview; p != nil {
		p.Release()
	}
	out := make([]message.Message, 0, len(seq))
	out = append(out, seq[:i]...)
	out = append(out, seq[i+1:]...)
	if len(out) == 0 {
		out = append(out, r.Welcome(conversationID))
	}
	return out, true
}

// UpdateLocal swaps the placeholder with m.LocalID for m, in place.
func UpdateLocal(seq []message.Message, m message.Message) ([]message.Message, bool) {
	i := indexPlaceholder(seq, m.LocalID)
	if i < 0 {
		return seq, false
	}
	out := copyOf(seq)
	out[i] = m
	return out, true
}

// Append adds a fresh placeholder at the tail of the sequence, dropping the
// welcome notice. Placeholders approximate "now" so the tail is their
// ordered position.
func (r *Reconciler) Append(seq []message.Message, placeholder message.Message) []message.Message {
	out := make([]message.Message, 0, len(seq)+1)
	for _, m := range seq {
		if m.IsSystem() {
			continue
		}
		out = append(out, m)
	}
	return insertOrdered(out, placeholder)
}

// Prepend puts a page of older history in front of seq. Entries already
// present (by remote id) are skipped, the page itself is ordered and
// de-duplicated, and nothing already in seq is moved or modified.
func (r *Reconciler) Prepend(seq, older []message.Message) ([]message.Message, int) {
	now := r.clock().UnixMilli()
	seen := make(map[string]struct{}, len(seq)+len(older))
	for _, m := range seq {
		if m.ID != "" {
			seen[m.ID] = struct{}{}
		}
	}

	var page []message.Message
	dups := 0
	for _, m := range older {
		if m.ID == "" || m.IsSystem() {
			continue
		}
		if _, dup := seen[m.ID]; dup {
			dups++
			continue
		}
		seen[m.ID] = struct{}{}
		page = append(page, r.normalize(m, now))
	}
	metrics.AddDuplicatesDropped("remote_id", dups)
	if len(page) == 0 {
		return copyOf(seq), 0
	}
	sortTimeline(page)

	out := make([]message.Message, 0, len(page)+len(seq))
	out = append(out, page...)
	for _, m := range seq {
		if m.IsSystem() {
			continue
		}
		out = append(out, m)
	}
	return out, len(page)
}

// insertOrdered places m after every entry that sorts at or before it,
// scanning from the tail so the common "newest message" case is cheap.
func insertOrdered(seq []message.Message, m message.Message) []message.Message {
	pos := len(seq)
	for pos > 0 && before(m, seq[pos-1]) {
		pos--
	}
	out := make([]message.Message, 0, len(seq)+1)
	out = append(out, seq[:pos]...)
	out = append(out, m)
	out = append(out, seq[pos:]...)
	return out
}

func indexByID(seq []message.Message, id string) int {
	if id == "" {
		return -1
	}
	for i, m := range seq {
		if m.ID == id {
			return i
		}
	}
	return -1
}

func indexPlaceholder(seq []message.Message, localID string) int {
	if localID == "" {
		return -1
	}
	for i, m := range seq {
		if m.ID == "" && m.LocalID == localID {
			return i
		}
	}
	return -1
}

func indexByKey(seq []message.Message, key string) int {
	if i := indexByID(seq, key); i >= 0 {
		return i
	}
	return indexPlaceholder(seq, key)
}

// IndexOf returns the position of the entry keyed by key, or -1.
func IndexOf(seq []message.Message, key string) int {
	return indexByKey(seq, key)
}

func copyOf(seq []message.Message) []message.Message {
	out := make([]message.Message, len(seq))
	copy(out, seq)
	return out
}
