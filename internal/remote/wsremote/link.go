package wsremote

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"sentinal-client/internal/domain/conversation"
	"sentinal-client/internal/domain/message"
	"sentinal-client/internal/events"
	"sentinal-client/internal/remote"
	"sentinal-client/internal/storage"
	sentinal_errors "sentinal-client/pkg/errors"
)

var _ remote.Link = (*Client)(nil)

type listRequest struct {
	ConversationID string `json:"conversation_id"`
	Limit          int    `json:"limit"`
	Before         string `json:"before,omitempty"`
}

type sendRequest struct {
	ConversationID string `json:"conversation_id"`
	Text           string `json:"text"`
}

type sendFileRequest struct {
	ConversationID string       `json:"conversation_id"`
	File           message.File `json:"file"`
}

type reactionRequest struct {
	ConversationID string `json:"conversation_id"`
	MessageID      string `json:"message_id"`
	Key            string `json:"key"`
}

func (c *Client) ListConversations(ctx context.Context) ([]conversation.Summary, error) {
	raw, err := c.call(ctx, TypeConversationList, struct{}{})
	if err != nil {
		return nil, err
	}
	m, err := decodeMap(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to decode conversations: %w", err)
	}
	items := list(m, "conversations", "channels")
	out := make([]conversation.Summary, 0, len(items))
	for _, it := range items {
		obj, ok := it.(map[string]any)
		if !ok {
			continue
		}
		s, err := remote.NormalizeSummary(obj)
		if err != nil {
			c.log.Logger.Warn("conversation dropped", zap.Error(err))
			continue
		}
		out = append(out, s)
	}
	return out, nil
}

func (c *Client) FetchRecent(ctx context.Context, conversationID string, limit int) ([]message.Message, remote.Cursor, error) {
	cur := &cursor{client: c, conversationID: conversationID}
	msgs, _, err := cur.page(ctx, limit)
	if err != nil {
		return nil, nil, err
	}
	return msgs, cur, nil
}

// cursor walks backwards using the opaque before token the remote hands out
// with every page.
type cursor struct {
	client         *Client
	conversationID string
	before         string
	done           bool
}

func (cur *cursor) Next(ctx context.Context, limit int) ([]message.Message, bool, error) {
	if cur.done {
		return nil, true, nil
	}
	return cur.page(ctx, limit)
}

func (cur *cursor) page(ctx context.Context, limit int) ([]message.Message, bool, error) {
	raw, err := cur.client.call(ctx, TypeMessageList, listRequest{
		ConversationID: cur.conversationID,
		Limit:          limit,
		Before:         cur.before,
	})
	if err != nil {
		return nil, false, err
	}
	m, err := decodeMap(raw)
	if err != nil {
		return nil, false, fmt.Errorf("failed to decode messages: %w", err)
	}
	msgs, skipped := remote.NormalizeMessages(list(m, "messages"))
	if skipped > 0 {
		cur.client.log.Logger.Warn("messages dropped", zap.Int("count", skipped), zap.String("conversation_id", cur.conversationID))
	}
	for i := range msgs {
		if msgs[i].ConversationID == "" {
			msgs[i].ConversationID = cur.conversationID
		}
	}

	p := remote.Payload(m)
	next, _ := p["cursor"].(string)
	if next == "" {
		next, _ = p["next_cursor"].(string)
	}
	hasMore, ok := p["has_more"].(bool)
	if !ok {
		hasMore = next != "" && len(msgs) >= limit
	}
	cur.before = next
	cur.done = !hasMore || next == ""
	return msgs, cur.done, nil
}

func (c *Client) SendText(ctx context.Context, conversationID, text string) (message.Message, error) {
	raw, err := c.call(ctx, TypeMessageSend, sendRequest{ConversationID: conversationID, Text: text})
	if err != nil {
		return message.Message{}, err
	}
	return c.sent(raw, conversationID)
}

func (c *Client) SendFile(ctx context.Context, conversationID string, f remote.FileUpload, progress chan<- int) (message.Message, error) {
	if c.uploader == nil {
		return message.Message{}, remote.Permanent(fmt.Errorf("file uploads: %w", sentinal_errors.ErrServiceUnavailable))
	}
	key := storage.ObjectKey(conversationID, f.Name)
	fileURL, err := c.uploader.Upload(ctx, key, f.MimeType, f.Data, func(pct int) {
		// the last step is the send itself
		remote.OfferProgress(progress, pct*9/10)
	})
	if err != nil {
		return message.Message{}, err
	}

	raw, err := c.call(ctx, TypeMessageSendFile, sendFileRequest{
		ConversationID: conversationID,
		File: message.File{
			Name:     f.Name,
			MimeType: f.MimeType,
			Size:     int64(len(f.Data)),
			URL:      fileURL,
		},
	})
	if err != nil {
		return message.Message{}, err
	}
	remote.OfferProgress(progress, 100)
	return c.sent(raw, conversationID)
}

func (c *Client) sent(raw json.RawMessage, conversationID string) (message.Message, error) {
	m, err := decodeMap(raw)
	if err != nil {
		return message.Message{}, fmt.Errorf("failed to decode sent message: %w", err)
	}
	if nested, ok := m["message"].(map[string]any); ok {
		m = nested
	}
	msg, err := remote.Normalize(m)
	if err != nil {
		return message.Message{}, err
	}
	if msg.ConversationID == "" {
		msg.ConversationID = conversationID
	}
	if msg.SenderID == "" {
		msg.SenderID = c.userID
	}
	return msg, nil
}

func (c *Client) AddReaction(ctx context.Context, conversationID, messageID, key string) (events.ReactionChanged, error) {
	return c.react(ctx, TypeReactionAdd, conversationID, messageID, key, true)
}

func (c *Client) RemoveReaction(ctx context.Context, conversationID, messageID, key string) (events.ReactionChanged, error) {
	return c.react(ctx, TypeReactionRemove, conversationID, messageID, key, false)
}

func (c *Client) react(ctx context.Context, reqType, conversationID, messageID, key string, added bool) (events.ReactionChanged, error) {
	raw, err := c.call(ctx, reqType, reactionRequest{ConversationID: conversationID, MessageID: messageID, Key: key})
	if err != nil {
		return events.ReactionChanged{}, err
	}
	fallback := events.ReactionChanged{
		MessageID:      messageID,
		ConversationID: conversationID,
		Key:            key,
		UserID:         c.userID,
		Added:          added,
	}
	m, err := decodeMap(raw)
	if err != nil || len(m) == 0 {
		return fallback, nil
	}
	r, err := remote.NormalizeReaction(m, added)
	if err != nil {
		return fallback, nil
	}
	if r.ConversationID == "" {
		r.ConversationID = conversationID
	}
	return r, nil
}
