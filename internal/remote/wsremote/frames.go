package wsremote

import (
	"bytes"
	"encoding/json"
)

// Request types
const (
	TypeConversationList = "conversation.list"
	TypeMessageList      = "message.list"
	TypeMessageSend      = "message.send"
	TypeMessageSendFile  = "message.send_file"
	TypeReactionAdd      = "reaction.add"
	TypeReactionRemove   = "reaction.remove"
	TypeResponse         = "response"
)

type Request struct {
	Type      string          `json:"type"`
	RequestID string          `json:"request_id"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

type Response struct {
	Type      string          `json:"type"`
	RequestID string          `json:"request_id"`
	OK        bool            `json:"ok"`
	Error     string          `json:"error,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// frameHead is enough of a frame to route it.
type frameHead struct {
	Type      string `json:"type"`
	EventType string `json:"event_type"`
}

var newline = []byte{'\n'}

// splitFrames breaks one websocket message into the JSON frames it carries.
// Writers may join several frames with newlines.
func splitFrames(data []byte) [][]byte {
	var out [][]byte
	for _, part := range bytes.Split(data, newline) {
		part = bytes.TrimSpace(part)
		if len(part) > 0 {
			out = append(out, part)
		}
	}
	return out
}

// decodeMap decodes a payload into a generic map, keeping numbers exact.
func decodeMap(raw json.RawMessage) (map[string]any, error) {
	out := map[string]any{}
	if len(raw) == 0 {
		return out, nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	switch t := v.(type) {
	case map[string]any:
		return t, nil
	case []any:
		out["items"] = t
	}
	return out, nil
}

// list returns the first array found under keys, or under "items".
func list(m map[string]any, keys ...string) []any {
	for _, k := range append(keys, "items") {
		if v, ok := m[k].([]any); ok {
			return v
		}
	}
	return nil
}
