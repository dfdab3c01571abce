package wsremote

import (
	"fmt"

	"sentinal-client/internal/events"
	"sentinal-client/internal/remote"
	sentinal_errors "sentinal-client/pkg/errors"
)

// decodeEvent turns a pushed envelope into a live event. ok is false for
// event types the timeline does not consume.
func decodeEvent(env events.Envelope) (events.Event, bool, error) {
	kind, ok := events.KindOf(env.EventType)
	if !ok {
		return events.Event{}, false, nil
	}
	m, err := decodeMap(env.Payload)
	if err != nil {
		return events.Event{}, false, fmt.Errorf("failed to decode %s payload: %w", env.EventType, err)
	}
	p := remote.Payload(m)

	switch kind {
	case events.KindReceived, events.KindUpdated:
		if nested, ok := p["message"].(map[string]any); ok {
			p = nested
		}
		if _, has := p["id"]; !has && env.AggregateID != "" {
			p["id"] = env.AggregateID
		}
		msg, err := remote.Normalize(p)
		if err != nil {
			return events.Event{}, false, err
		}
		if kind == events.KindReceived {
			return events.Received(msg), true, nil
		}
		return events.Updated(msg), true, nil

	case events.KindDeleted:
		id, _ := p["message_id"].(string)
		if id == "" {
			id, _ = p["id"].(string)
		}
		if id == "" {
			id = env.AggregateID
		}
		conv, _ := p["conversation_id"].(string)
		if id == "" || conv == "" {
			return events.Event{}, false, fmt.Errorf("incomplete delete: %w", sentinal_errors.ErrInvalidInput)
		}
		return events.Deleted(conv, id), true, nil

	case events.KindReactionChanged:
		r, err := remote.NormalizeReaction(p, env.EventType == events.EventTypeReactionAdded)
		if err != nil {
			return events.Event{}, false, err
		}
		return events.Reaction(r), true, nil

	case events.KindChannelChanged:
		conv, _ := p["conversation_id"].(string)
		if conv == "" {
			conv, _ = p["id"].(string)
		}
		if conv == "" {
			conv = env.AggregateID
		}
		if conv == "" {
			return events.Event{}, false, fmt.Errorf("conversation update without id: %w", sentinal_errors.ErrInvalidInput)
		}
		return events.ChannelChanged(conv, remote.NormalizePatch(p)), true, nil
	}
	return events.Event{}, false, nil
}
