package events

// Remote event type constants. These follow the format: domain.action

// Message events
const (
	EventTypeMessageCreated = "message.created"
	EventTypeMessageUpdated = "message.updated"
	EventTypeMessageDeleted = "message.deleted"
)

// Reaction events
const (
	EventTypeReactionAdded   = "reaction.added"
	EventTypeReactionRemoved = "reaction.removed"
)

// Conversation events
const (
	EventTypeConversationUpdated = "conversation.updated"
)

// Aggregate type constants
const (
	AggregateTypeMessage      = "message"
	AggregateTypeReaction     = "reaction"
	AggregateTypeConversation = "conversation"
)

// Kind is the client-side classification of a live event.
type Kind string

const (
	KindReceived        Kind = "received"
	KindUpdated         Kind = "updated"
	KindDeleted         Kind = "deleted"
	KindReactionChanged Kind = "reaction-changed"
	KindChannelChanged  Kind = "channel-changed"
)

// KindOf maps a remote event type to its Kind. ok is false for event types
// the timeline does not consume.
func KindOf(eventType string) (Kind, bool) {
	switch eventType {
	case EventTypeMessageCreated:
		return KindReceived, true
	case EventTypeMessageUpdated:
		return KindUpdated, true
	case EventTypeMessageDeleted:
		return KindDeleted, true
	case EventTypeReactionAdded, EventTypeReactionRemoved:
		return KindReactionChanged, true
	case EventTypeConversationUpdated:
		return KindChannelChanged, true
	}
	return "", false
}
