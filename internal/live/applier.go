package live

import (
	"time"

	"go.uber.org/zap"

	"sentinal-client/internal/domain/conversation"
	"sentinal-client/internal/domain/message"
	"sentinal-client/internal/events"
	"sentinal-client/internal/metrics"
	"sentinal-client/internal/optimistic"
	"sentinal-client/internal/reconcile"
	"sentinal-client/pkg/logger"
)

// seenPerConversation bounds the remembered message ids per conversation.
const seenPerConversation = 512

// State is the part of the session a live event may touch. The caller owns
// it and serializes access.
type State struct {
	ActiveID  string
	Timeline  []message.Message
	Summaries map[string]*conversation.Summary
}

// Outcome tells the caller what changed.
type Outcome struct {
	Timeline bool
	Summary  bool
	// Resolved is the placeholder id a received message confirmed.
	Resolved string
}

// Applier folds live events into State. Every handler is idempotent, so a
// remote that delivers at least once cannot duplicate or double count.
type Applier struct {
	userID  string
	rec     *reconcile.Reconciler
	tracker *optimistic.Tracker
	log     *logger.Logger
	clock   func() time.Time
	seen    map[string]*ring
}

func NewApplier(userID string, rec *reconcile.Reconciler, tracker *optimistic.Tracker, log *logger.Logger, clock func() time.Time) *Applier {
	if log == nil {
		log = logger.Nop()
	}
	if clock == nil {
		clock = time.Now
	}
	return &Applier{
		userID:  userID,
		rec:     rec,
		tracker: tracker,
		log:     log,
		clock:   clock,
		seen:    make(map[string]*ring),
	}
}

// Apply folds ev into st.
func (a *Applier) Apply(st *State, ev events.Event) Outcome {
	var (
		out    Outcome
		result = "applied"
	)
	switch ev.Kind {
	case events.KindReceived:
		out = a.received(st, ev)
	case events.KindUpdated:
		out = a.updated(st, ev)
	case events.KindDeleted:
		out = a.deleted(st, ev)
	case events.KindReactionChanged:
		out = a.reaction(st, ev)
	case events.KindChannelChanged:
		out = a.channel(st, ev)
	default:
		result = "unknown"
	}
	if result == "applied" && !out.Timeline && !out.Summary {
		result = "noop"
	}
	metrics.IncLiveEvent(string(ev.Kind), result)
	a.log.Logger.Debug("live_event",
		zap.String("kind", string(ev.Kind)),
		zap.String("conversation_id", ev.ConversationID),
		zap.String("result", result),
	)
	return out
}

func (a *Applier) received(st *State, ev events.Event) Outcome {
	var out Outcome
	m := ev.Message
	if m.ID == "" {
		return out
	}
	if m.ConversationID == "" {
		m.ConversationID = ev.ConversationID
	}
	m.CreatedAt = message.NormalizeMillis(m.CreatedAt)
	if m.CreatedAt <= 0 {
		m.CreatedAt = a.clock().UnixMilli()
		m.TimeUnknown = true
	}
	duplicate := a.remember(m.ConversationID, m.ID)

	switch localID, settled := a.tracker.Settled(m.ID); {
	case settled:
		// echo of a send that was already confirmed
		if m.LocalID == "" {
			m.LocalID = localID
		}
	case m.ConversationID == st.ActiveID && reconcile.IndexOf(st.Timeline, m.ID) >= 0:
	default:
		if localID, merged, ok := a.tracker.Resolve(m); ok {
			m = merged
			out.Resolved = localID
		}
	}

	if m.ConversationID == st.ActiveID {
		seq, result, promoted := a.rec.Upsert(st.Timeline, m)
		if result != reconcile.Unchanged || promoted != "" {
			st.Timeline = seq
			out.Timeline = true
		}
		if promoted != "" {
			a.tracker.Remove(promoted)
			if out.Resolved == "" {
				out.Resolved = promoted
			}
		}
	}

	s := a.summary(st, m.ConversationID)
	if !duplicate {
		if s.SetLastMessage(m) {
			out.Summary = true
		}
		if m.ConversationID != st.ActiveID && m.SenderID != a.userID {
			s.UnreadCount++
			out.Summary = true
		}
	}
	return out
}

func (a *Applier) updated(st *State, ev events.Event) Outcome {
	var out Outcome
	m := ev.Message
	if m.ConversationID == "" {
		m.ConversationID = ev.ConversationID
	}
	if m.ConversationID == st.ActiveID {
		if seq, ok := a.rec.Replace(st.Timeline, m); ok {
			st.Timeline = seq
			out.Timeline = true
		}
	}
	if s, ok := st.Summaries[m.ConversationID]; ok && s.LastMessage != nil && s.LastMessage.ID == m.ID {
		next := *s.LastMessage
		next.Body = m.Body
		next.EditedAt = message.NormalizeMillis(m.EditedAt)
		s.LastMessage = &next
		out.Summary = true
	}
	return out
}

func (a *Applier) deleted(st *State, ev events.Event) Outcome {
	var out Outcome
	if ev.MessageID == "" {
		return out
	}
	if ev.ConversationID == st.ActiveID {
		if seq, ok := a.rec.Remove(st.Timeline, ev.ConversationID, ev.MessageID); ok {
			st.Timeline = seq
			out.Timeline = true
		}
	}
	if s, ok := st.Summaries[ev.ConversationID]; ok && s.LastMessage != nil && s.LastMessage.ID == ev.MessageID {
		s.LastMessage = nil
		if ev.ConversationID == st.ActiveID {
			for i := len(st.Timeline) - 1; i >= 0; i-- {
				if m := st.Timeline[i]; !m.IsSystem() {
					s.SetLastMessage(m)
					break
				}
			}
		}
		out.Summary = true
	}
	return out
}

func (a *Applier) reaction(st *State, ev events.Event) Outcome {
	var out Outcome
	r := ev.Reaction
	if r.ConversationID == "" {
		r.ConversationID = ev.ConversationID
	}
	if r.ConversationID != st.ActiveID {
		return out
	}
	if seq, ok := ApplyReaction(st.Timeline, r); ok {
		st.Timeline = seq
		out.Timeline = true
	}
	return out
}

func (a *Applier) channel(st *State, ev events.Event) Outcome {
	s := a.summary(st, ev.ConversationID)
	return Outcome{Summary: s.Apply(ev.Channel)}
}

func (a *Applier) summary(st *State, conversationID string) *conversation.Summary {
	if st.Summaries == nil {
		st.Summaries = make(map[string]*conversation.Summary)
	}
	s, ok := st.Summaries[conversationID]
	if !ok {
		s = &conversation.Summary{ID: conversationID}
		st.Summaries[conversationID] = s
	}
	return s
}

// MarkSeen records messages the caller obtained outside the live feed, so a
// late duplicate push of one of them is not counted as unread.
func (a *Applier) MarkSeen(conversationID string, seq []message.Message) {
	for _, m := range seq {
		if m.ID != "" {
			a.remember(conversationID, m.ID)
		}
	}
}

// remember records id and reports whether it had been seen already.
func (a *Applier) remember(conversationID, id string) bool {
	r, ok := a.seen[conversationID]
	if !ok {
		r = newRing(seenPerConversation)
		a.seen[conversationID] = r
	}
	return !r.add(id)
}

// ApplyReaction applies a single per-user reaction delta to the message it
// names. The rest of the reaction map is left as it is.
func ApplyReaction(seq []message.Message, r events.ReactionChanged) ([]message.Message, bool) {
	i := reconcile.IndexOf(seq, r.MessageID)
	if i < 0 || seq[i].ID == "" {
		return seq, false
	}
	reactions := seq[i].Reactions.Clone()
	var changed bool
	if r.Added {
		changed = reactions.Add(r.Key, r.UserID)
	} else {
		changed = reactions.Remove(r.Key, r.UserID)
	}
	if !changed {
		return seq, false
	}
	out := make([]message.Message, len(seq))
	copy(out, seq)
	out[i].Reactions = reactions
	return out, true
}
