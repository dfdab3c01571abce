package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"sentinal-client/internal/domain/message"
	"sentinal-client/internal/metrics"
	sentinal_errors "sentinal-client/pkg/errors"
	"sentinal-client/pkg/logger"
)

// Key patterns:
// - timeline:{conversation_id} - canonical snapshot of one conversation
// - reactions:{user_id} - legacy per-user reaction map, read for migration only
const (
	timelineKeyPrefix  = "timeline:"
	reactionsKeyPrefix = "reactions:"
)

// SnapshotVersion is the current snapshot record layout.
const SnapshotVersion = 1

// InterruptedReason is attached to placeholders restored from a snapshot:
// whatever send they belonged to did not survive the restart.
const InterruptedReason = "send interrupted"

var errVersion = errors.New("unsupported snapshot version")

type snapshot struct {
	Version        int               `json:"version"`
	ConversationID string            `json:"conversation_id"`
	SavedAt        time.Time         `json:"saved_at"`
	Messages       []message.Message `json:"messages"`
}

// legacyReactions maps message id to the reaction keys the user added.
type legacyReactions map[string][]string

func TimelineKey(conversationID string) string {
	return timelineKeyPrefix + conversationID
}

func ReactionsKey(userID string) string {
	return reactionsKeyPrefix + userID
}

// TimelineCache persists one canonical snapshot per conversation. It never
// fails its callers: every storage or decoding problem degrades to an empty
// read or a skipped write, logged and counted.
type TimelineCache struct {
	store  Store
	sealer *Sealer
	userID string
	log    *logger.Logger
	clock  func() time.Time
}

// NewTimelineCache wires a cache over store. sealer may be nil.
func NewTimelineCache(store Store, sealer *Sealer, userID string, log *logger.Logger) *TimelineCache {
	if log == nil {
		log = logger.Nop()
	}
	return &TimelineCache{
		store:  store,
		sealer: sealer,
		userID: userID,
		log:    log,
		clock:  time.Now,
	}
}

// Read returns the cached timeline of conversationID, or an empty slice.
// Placeholders found in the snapshot come back failed and retryable, and
// the user's legacy reactions are folded in. Read never writes; the folded
// view reaches the store with the caller's next versioned save.
func (c *TimelineCache) Read(ctx context.Context, conversationID string) []message.Message {
	snap, err := c.load(ctx, conversationID)
	if err != nil {
		if !errors.Is(err, sentinal_errors.ErrNotFound) {
			c.degraded(ctx, "read", conversationID, err)
		}
		return []message.Message{}
	}

	out := make([]message.Message, 0, len(snap.Messages))
	for _, m := range snap.Messages {
		if m.IsSystem() || m.Key() == "" {
			continue
		}
		out = append(out, restore(m))
	}

	c.foldLegacy(ctx, out)
	return out
}

// Write replaces the snapshot of conversationID with seq. System notices
// and preview handles are never persisted.
func (c *TimelineCache) Write(ctx context.Context, conversationID string, seq []message.Message) {
	snap := snapshot{
		Version:        SnapshotVersion,
		ConversationID: conversationID,
		SavedAt:        c.clock().UTC(),
		Messages:       make([]message.Message, 0, len(seq)),
	}
	for _, m := range seq {
		if m.IsSystem() {
			continue
		}
		m = m.Clone()
		m.Preview = nil
		snap.Messages = append(snap.Messages, m)
	}

	raw, err := json.Marshal(snap)
	if err != nil {
		c.degraded(ctx, "encode", conversationID, err)
		return
	}
	key := TimelineKey(conversationID)
	if c.sealer != nil {
		if raw, err = c.sealer.Seal(key, raw); err != nil {
			c.degraded(ctx, "seal", conversationID, err)
			return
		}
	}
	if err := c.store.Put(ctx, key, raw); err != nil {
		c.degraded(ctx, "write", conversationID, err)
	}
}

// Forget drops the snapshot of conversationID.
func (c *TimelineCache) Forget(ctx context.Context, conversationID string) {
	if err := c.store.Delete(ctx, TimelineKey(conversationID)); err != nil {
		c.degraded(ctx, "delete", conversationID, err)
	}
}

// MigrateReactions drops from the legacy reaction record of userID every
// message of seq that already carries those reactions, once seq (a
// timeline built from Read) has been saved. The record is removed when nothing is left.
// Snapshots are never touched here.
func (c *TimelineCache) MigrateReactions(ctx context.Context, userID string, seq []message.Message) error {
	legacy, err := c.loadLegacy(ctx, userID)
	if errors.Is(err, sentinal_errors.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read legacy reactions: %w", err)
	}

	retired := false
	for _, m := range seq {
		if m.ID == "" {
			continue
		}
		keys, ok := legacy[m.ID]
		if !ok || !hasAll(m, keys, userID) {
			continue
		}
		delete(legacy, m.ID)
		retired = true
	}

	key := ReactionsKey(userID)
	if len(legacy) == 0 {
		return c.store.Delete(ctx, key)
	}
	if !retired {
		return nil
	}
	raw, err := json.Marshal(legacy)
	if err != nil {
		return fmt.Errorf("failed to encode legacy reactions: %w", err)
	}
	return c.store.Put(ctx, key, raw)
}

func hasAll(m message.Message, keys []string, userID string) bool {
	for _, k := range keys {
		if !m.Reactions.Has(k, userID) {
			return false
		}
	}
	return true
}

func (c *TimelineCache) load(ctx context.Context, conversationID string) (*snapshot, error) {
	key := TimelineKey(conversationID)
	raw, err := c.store.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	if c.sealer != nil {
		if raw, err = c.sealer.Open(key, raw); err != nil {
			return nil, fmt.Errorf("failed to unseal snapshot: %w", err)
		}
	}
	var snap snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return nil, fmt.Errorf("corrupt snapshot: %w", err)
	}
	if snap.Version != SnapshotVersion {
		return nil, fmt.Errorf("%w: %d", errVersion, snap.Version)
	}
	if snap.ConversationID != conversationID {
		return nil, fmt.Errorf("snapshot belongs to %q", snap.ConversationID)
	}
	return &snap, nil
}

func (c *TimelineCache) loadLegacy(ctx context.Context, userID string) (legacyReactions, error) {
	raw, err := c.store.Get(ctx, ReactionsKey(userID))
	if err != nil {
		return nil, err
	}
	var legacy legacyReactions
	if err := json.Unmarshal(raw, &legacy); err != nil {
		return nil, fmt.Errorf("corrupt legacy reactions: %w", err)
	}
	if legacy == nil {
		legacy = legacyReactions{}
	}
	return legacy, nil
}

// foldLegacy adds the local user's legacy reactions to seq in place.
func (c *TimelineCache) foldLegacy(ctx context.Context, seq []message.Message) {
	if c.userID == "" || len(seq) == 0 {
		return
	}
	legacy, err := c.loadLegacy(ctx, c.userID)
	if err != nil {
		if !errors.Is(err, sentinal_errors.ErrNotFound) {
			c.degraded(ctx, "legacy_reactions", "", err)
		}
		return
	}
	for i := range seq {
		if seq[i].ID == "" {
			continue
		}
		for _, k := range legacy[seq[i].ID] {
			seq[i].Reactions.Add(k, c.userID)
		}
	}
}

func (c *TimelineCache) degraded(ctx context.Context, op, conversationID string, err error) {
	metrics.IncCacheDegraded(op)
	c.log.Ctx(ctx).Warn("cache_degraded",
		zap.String("op", op),
		zap.String("conversation_id", conversationID),
		zap.Error(err),
	)
}

// restore brings a persisted entry back into a state that is valid after a
// restart: nothing is in flight anymore.
func restore(m message.Message) message.Message {
	m.Reactions = m.Reactions.Normalize()
	if m.ID != "" {
		m.State = message.StateConfirmed
		return m
	}
	switch m.State {
	case message.StatePending, message.StateUploading:
		m.State = message.StateFailed
		m.FailureReason = InterruptedReason
		m.UploadProgress = 0
	case message.StateFailed:
		if m.FailureReason == "" {
			m.FailureReason = InterruptedReason
		}
	default:
		m.State = message.StateFailed
		m.FailureReason = InterruptedReason
	}
	return m
}
