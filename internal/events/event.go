package events

import (
	"sentinal-client/internal/domain/conversation"
	"sentinal-client/internal/domain/message"
)

// Event is a normalized live update for one conversation.
type Event struct {
	Kind           Kind
	ConversationID string

	// Message is set for received and updated events.
	Message message.Message
	// MessageID is set for deleted events.
	MessageID string
	// Reaction is set for reaction-changed events.
	Reaction ReactionChanged
	// Channel is set for channel-changed events.
	Channel conversation.Patch
}

// ReactionChanged is one per-user reaction delta.
type ReactionChanged struct {
	MessageID      string `json:"message_id"`
	ConversationID string `json:"conversation_id"`
	Key            string `json:"key"`
	UserID         string `json:"user_id"`
	Added          bool   `json:"added"`
}

func Received(m message.Message) Event {
	return Event{Kind: KindReceived, ConversationID: m.ConversationID, Message: m}
}

func Updated(m message.Message) Event {
	return Event{Kind: KindUpdated, ConversationID: m.ConversationID, Message: m}
}

func Deleted(conversationID, messageID string) Event {
	return Event{Kind: KindDeleted, ConversationID: conversationID, MessageID: messageID}
}

func Reaction(r ReactionChanged) Event {
	return Event{Kind: KindReactionChanged, ConversationID: r.ConversationID, Reaction: r}
}

func ChannelChanged(conversationID string, p conversation.Patch) Event {
	return Event{Kind: KindChannelChanged, ConversationID: conversationID, Channel: p}
}
