package remote

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"sentinal-client/internal/domain/conversation"
	"sentinal-client/internal/domain/message"
	"sentinal-client/internal/events"
	sentinal_errors "sentinal-client/pkg/errors"
)

// Payload is a decoded JSON object as the remote sent it.
type Payload map[string]any

// Field fallback chains, tried in order. Dotted paths descend into nested
// objects; a trailing [0] picks the first element of an array.
var (
	idPaths           = []string{"id", "message_id", "messageId", "_id"}
	localIDPaths      = []string{"local_id", "localId", "client_id", "clientId"}
	conversationPaths = []string{"conversation_id", "conversationId", "channel_id", "channelId", "channel.id"}
	textPaths         = []string{"text", "content", "body", "message", "body.text", "data.text"}
	senderPaths       = []string{"sender_id", "senderId", "user.id", "user_id", "userId"}
	timePaths         = []string{"created_at", "createdAt", "timestamp", "ts"}
	editedPaths       = []string{"edited_at", "editedAt", "updated_at", "updatedAt"}
	filePaths         = []string{"file", "attachment", "attachments[0]"}
	fileURLPaths      = []string{"url", "file_url", "download_url"}
	fileNamePaths     = []string{"name", "file_name", "filename"}
	fileMimePaths     = []string{"mime_type", "mimeType", "type"}
	fileSizePaths     = []string{"size", "file_size"}
	thumbnailPaths    = []string{"thumbnails", "thumbs"}
	namePaths         = []string{"name", "title"}
	unreadPaths       = []string{"unread_count", "unreadCount", "unread"}
	reactionKeyPaths  = []string{"key", "reaction", "emoji"}
	messageRefPaths   = []string{"message_id", "messageId", "id"}
)

// Normalize maps one remote message payload onto message.Message. It is the
// only place that knows the remote's field spellings. A payload without any
// id fails with ErrInvalidInput; text that cannot be resolved becomes
// message.UnsupportedText; an unresolvable time is left at zero for the
// reconciler to treat as unknown.
func Normalize(p Payload) (message.Message, error) {
	id := p.str(idPaths...)
	if id == "" {
		return message.Message{}, fmt.Errorf("message payload without id: %w", sentinal_errors.ErrInvalidInput)
	}
	m := message.Message{
		ID:             id,
		LocalID:        p.str(localIDPaths...),
		ConversationID: p.str(conversationPaths...),
		SenderID:       p.str(senderPaths...),
		State:          message.StateConfirmed,
	}
	if ts, ok := p.time(timePaths...); ok {
		m.CreatedAt = ts
	}
	if ts, ok := p.time(editedPaths...); ok {
		m.EditedAt = ts
	}

	if f, ok := p.object(filePaths...); ok {
		m.Body.File = normalizeFile(f)
	}
	if m.Body.File == nil {
		m.Body.Text = p.str(textPaths...)
		if strings.TrimSpace(m.Body.Text) == "" {
			m.Body.Text = message.UnsupportedText
		}
	}
	m.Reactions = normalizeReactions(p["reactions"])
	return m, nil
}

// NormalizeMessages maps a list of payloads, skipping the ones Normalize
// rejects. It returns how many were skipped.
func NormalizeMessages(items []any) ([]message.Message, int) {
	out := make([]message.Message, 0, len(items))
	skipped := 0
	for _, it := range items {
		obj, ok := it.(map[string]any)
		if !ok {
			skipped++
			continue
		}
		m, err := Normalize(obj)
		if err != nil {
			skipped++
			continue
		}
		out = append(out, m)
	}
	return out, skipped
}

// NormalizeSummary maps a conversation payload.
func NormalizeSummary(p Payload) (conversation.Summary, error) {
	id := p.str("id", "conversation_id", "conversationId", "channel_id", "_id")
	if id == "" {
		return conversation.Summary{}, fmt.Errorf("conversation payload without id: %w", sentinal_errors.ErrInvalidInput)
	}
	s := conversation.Summary{ID: id, Name: p.str(namePaths...)}
	if n, ok := p.int(unreadPaths...); ok && n >= 0 {
		s.UnreadCount = int(n)
	}
	if ts, ok := p.time("updated_at", "updatedAt", "last_activity_at"); ok {
		s.UpdatedAt = ts
	}
	if last, ok := p.object("last_message", "lastMessage"); ok {
		if m, err := Normalize(last); err == nil {
			if m.ConversationID == "" {
				m.ConversationID = id
			}
			s.LastMessage = &m
		}
	}
	return s, nil
}

// NormalizePatch maps the fields of a conversation update that are present.
func NormalizePatch(p Payload) conversation.Patch {
	var patch conversation.Patch
	if _, ok := p.lookupAny(namePaths...); ok {
		name := p.str(namePaths...)
		patch.Name = &name
	}
	if n, ok := p.int(unreadPaths...); ok {
		v := int(n)
		patch.UnreadCount = &v
	}
	if ts, ok := p.time("updated_at", "updatedAt"); ok {
		patch.UpdatedAt = &ts
	}
	return patch
}

// NormalizeReaction maps a reaction delta payload.
func NormalizeReaction(p Payload, added bool) (events.ReactionChanged, error) {
	r := events.ReactionChanged{
		MessageID:      p.str(messageRefPaths...),
		ConversationID: p.str(conversationPaths...),
		Key:            p.str(reactionKeyPaths...),
		UserID:         p.str(senderPaths...),
		Added:          added,
	}
	if r.MessageID == "" || r.Key == "" || r.UserID == "" {
		return events.ReactionChanged{}, fmt.Errorf("incomplete reaction payload: %w", sentinal_errors.ErrInvalidInput)
	}
	return r, nil
}

func normalizeFile(f Payload) *message.File {
	file := &message.File{
		Name:     f.str(fileNamePaths...),
		MimeType: f.str(fileMimePaths...),
		URL:      f.str(fileURLPaths...),
	}
	if n, ok := f.int(fileSizePaths...); ok && n > 0 {
		file.Size = n
	}
	if file.Name == "" && file.URL != "" {
		file.Name = file.URL[strings.LastIndexByte(file.URL, '/')+1:]
	}
	if file.Name == "" && file.URL == "" {
		return nil
	}
	if raw, ok := f.lookupAny(thumbnailPaths...); ok {
		list, _ := raw.([]any)
		for _, it := range list {
			obj, ok := it.(map[string]any)
			if !ok {
				continue
			}
			t := Payload(obj)
			thumb := message.Thumbnail{URL: t.str(fileURLPaths...), MimeType: t.str(fileMimePaths...)}
			if thumb.URL == "" {
				continue
			}
			if w, ok := t.int("width", "w"); ok {
				thumb.Width = int(w)
			}
			if h, ok := t.int("height", "h"); ok {
				thumb.Height = int(h)
			}
			file.Thumbnails = append(file.Thumbnails, thumb)
		}
	}
	return file
}

// normalizeReactions accepts {key: [user, ...]} or a list of
// {key, user_id} objects.
func normalizeReactions(raw any) message.Reactions {
	var out message.Reactions
	switch v := raw.(type) {
	case map[string]any:
		for key, users := range v {
			list, _ := users.([]any)
			for _, u := range list {
				if s, ok := u.(string); ok {
					out.Add(key, s)
				}
			}
		}
	case []any:
		for _, it := range v {
			obj, ok := it.(map[string]any)
			if !ok {
				continue
			}
			p := Payload(obj)
			out.Add(p.str(reactionKeyPaths...), p.str(senderPaths...))
		}
	}
	return out
}

func (p Payload) lookup(path string) (any, bool) {
	var cur any = map[string]any(p)
	for _, seg := range strings.Split(path, ".") {
		index := -1
		if strings.HasSuffix(seg, "]") {
			if i := strings.IndexByte(seg, '['); i > 0 {
				n, err := strconv.Atoi(seg[i+1 : len(seg)-1])
				if err != nil {
					return nil, false
				}
				index = n
				seg = seg[:i]
			}
		}
		obj, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		if cur, ok = obj[seg]; !ok || cur == nil {
			return nil, false
		}
		if index >= 0 {
			list, ok := cur.([]any)
			if !ok || index >= len(list) {
				return nil, false
			}
			cur = list[index]
		}
	}
	return cur, true
}

func (p Payload) lookupAny(paths ...string) (any, bool) {
	for _, path := range paths {
		if v, ok := p.lookup(path); ok {
			return v, true
		}
	}
	return nil, false
}

// str returns the first non-empty scalar found along paths, rendered as a
// string. Numeric ids are common.
func (p Payload) str(paths ...string) string {
	for _, path := range paths {
		v, ok := p.lookup(path)
		if !ok {
			continue
		}
		switch s := v.(type) {
		case string:
			if s != "" {
				return s
			}
		case json.Number:
			return s.String()
		case float64:
			if s == math.Trunc(s) {
				return strconv.FormatInt(int64(s), 10)
			}
			return strconv.FormatFloat(s, 'f', -1, 64)
		case int:
			return strconv.Itoa(s)
		case int64:
			return strconv.FormatInt(s, 10)
		}
	}
	return ""
}

func (p Payload) int(paths ...string) (int64, bool) {
	for _, path := range paths {
		v, ok := p.lookup(path)
		if !ok {
			continue
		}
		switch n := v.(type) {
		case json.Number:
			if i, err := n.Int64(); err == nil {
				return i, true
			}
			if f, err := n.Float64(); err == nil {
				return int64(f), true
			}
		case float64:
			return int64(n), true
		case int:
			return int64(n), true
		case int64:
			return n, true
		case string:
			if i, err := strconv.ParseInt(strings.TrimSpace(n), 10, 64); err == nil {
				return i, true
			}
		}
	}
	return 0, false
}

func (p Payload) time(paths ...string) (int64, bool) {
	for _, path := range paths {
		v, ok := p.lookup(path)
		if !ok {
			continue
		}
		if ts, ok := message.ParseTimestamp(v); ok {
			return ts, true
		}
	}
	return 0, false
}

func (p Payload) object(paths ...string) (Payload, bool) {
	for _, path := range paths {
		v, ok := p.lookup(path)
		if !ok {
			continue
		}
		if obj, ok := v.(map[string]any); ok {
			return obj, true
		}
	}
	return nil, false
}
