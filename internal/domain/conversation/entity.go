package conversation

import (
	"sort"

	"sentinal-client/internal/domain/message"
)

// Summary is the part of a conversation the core tracks for every channel,
// active or not. Everything else about conversations belongs to the remote.
type Summary struct {
	ID          string           `json:"id"`
	Name        string           `json:"name,omitempty"`
	LastMessage *message.Message `json:"last_message,omitempty"`
	UnreadCount int              `json:"unread_count"`
	UpdatedAt   int64            `json:"updated_at,omitempty"`
}

// Patch carries the summary fields a channel-changed event may update.
// Nil fields are left untouched.
type Patch struct {
	Name        *string
	UnreadCount *int
	UpdatedAt   *int64
}

// Apply merges p into s and reports whether anything changed.
func (s *Summary) Apply(p Patch) bool {
	changed := false
	if p.Name != nil && *p.Name != s.Name {
		s.Name = *p.Name
		changed = true
	}
	if p.UnreadCount != nil && *p.UnreadCount != s.UnreadCount && *p.UnreadCount >= 0 {
		s.UnreadCount = *p.UnreadCount
		changed = true
	}
	if p.UpdatedAt != nil && *p.UpdatedAt > s.UpdatedAt {
		s.UpdatedAt = *p.UpdatedAt
		changed = true
	}
	return changed
}

// SetLastMessage replaces the last message when m is at least as recent.
func (s *Summary) SetLastMessage(m message.Message) bool {
	if s.LastMessage != nil && s.LastMessage.CreatedAt > m.CreatedAt {
		return false
	}
	c := m.Clone()
	c.Preview = nil
	s.LastMessage = &c
	if m.CreatedAt > s.UpdatedAt {
		s.UpdatedAt = m.CreatedAt
	}
	return true
}

// ActivityAt is the instant used to order conversation lists.
func (s Summary) ActivityAt() int64 {
	if s.LastMessage != nil && s.LastMessage.CreatedAt > s.UpdatedAt {
		return s.LastMessage.CreatedAt
	}
	return s.UpdatedAt
}

// SortByActivity orders summaries newest first; ties keep id order.
func SortByActivity(list []Summary) {
	sort.SliceStable(list, func(i, j int) bool {
		ai, aj := list[i].ActivityAt(), list[j].ActivityAt()
		if ai != aj {
			return ai > aj
		}
		return list[i].ID < list[j].ID
	})
}
