// Package remote describes the capabilities the timeline core needs from the
// managed messaging backend, and the boundary helpers shared by adapters.
package remote

import (
	"context"

	"sentinal-client/internal/domain/conversation"
	"sentinal-client/internal/domain/message"
	"sentinal-client/internal/events"
)

// Dialer opens an authenticated link for one user.
type Dialer interface {
	Connect(ctx context.Context, userID string) (Link, error)
}

// Cursor pages backwards through one conversation's history. Next returns
// the next page of older messages and whether history is exhausted.
type Cursor interface {
	Next(ctx context.Context, limit int) ([]message.Message, bool, error)
}

// FileUpload is a file to send as a message.
type FileUpload struct {
	Name     string
	MimeType string
	Data     []byte
}

// Link is a connected session with the remote. Every message it returns has
// already passed through Normalize.
type Link interface {
	ListConversations(ctx context.Context) ([]conversation.Summary, error)
	FetchRecent(ctx context.Context, conversationID string, limit int) ([]message.Message, Cursor, error)
	SendText(ctx context.Context, conversationID, text string) (message.Message, error)
	// SendFile uploads and sends f. Progress percentages are offered on
	// progress without blocking; progress may be nil.
	SendFile(ctx context.Context, conversationID string, f FileUpload, progress chan<- int) (message.Message, error)
	AddReaction(ctx context.Context, conversationID, messageID, key string) (events.ReactionChanged, error)
	RemoveReaction(ctx context.Context, conversationID, messageID, key string) (events.ReactionChanged, error)
	// Subscribe delivers live events for every conversation of the user
	// until cancel is called or the link closes.
	Subscribe(ctx context.Context) (<-chan events.Event, func(), error)
	Close() error
}

// OfferProgress sends pct on ch without blocking.
func OfferProgress(ch chan<- int, pct int) {
	if ch == nil {
		return
	}
	select {
	case ch <- pct:
	default:
	}
}
