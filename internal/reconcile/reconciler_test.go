package reconcile

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sentinal-client/internal/domain/message"
)

const (
	conv  = "c1"
	me    = "u1"
	other = "u2"
	t0    = int64(1_700_000_000_000)
)

var fixedNow = time.UnixMilli(t0 + 3_600_000)

func newReconciler() *Reconciler {
	return New(DefaultSkew, func() time.Time { return fixedNow })
}

func confirmed(id, sender, text string, at int64) message.Message {
	return message.Message{
		ID:             id,
		ConversationID: conv,
		SenderID:       sender,
		Body:           message.Body{Text: text},
		CreatedAt:      at,
		State:          message.StateConfirmed,
	}
}

func pending(text string, at int64) message.Message {
	return message.Message{
		LocalID:        message.PlaceholderID(message.KindPending, at),
		ConversationID: conv,
		SenderID:       me,
		Body:           message.Body{Text: text},
		CreatedAt:      at,
		State:          message.StatePending,
	}
}

func keys(seq []message.Message) []string {
	out := make([]string, len(seq))
	for i, m := range seq {
		out[i] = m.Key()
	}
	return out
}

func TestMergeFetchedWinsOverCached(t *testing.T) {
	r := newReconciler()
	cached := []message.Message{confirmed("m1", other, "stale", t0), confirmed("m0", other, "only cached", t0-1000)}
	fetched := []message.Message{confirmed("m1", other, "fresh", t0), confirmed("m2", me, "later", t0+1000)}

	out := r.Merge(conv, cached, fetched, nil)

	require.Len(t, out, 3)
	assert.Equal(t, []string{"m0", "m1", "m2"}, keys(out))
	assert.Equal(t, "fresh", out[1].Body.Text)
}

func TestMergeNoDuplicateRemoteIDs(t *testing.T) {
	r := newReconciler()
	m := confirmed("m1", other, "hello", t0)
	out := r.Merge(conv, []message.Message{m, m}, []message.Message{m, m}, nil)

	require.Len(t, out, 1)
	assert.Equal(t, "m1", out[0].ID)
}

func TestMergeIsIdempotent(t *testing.T) {
	r := newReconciler()
	cached := []message.Message{confirmed("m1", other, "a", t0), pending("queued", t0+5000)}
	fetched := []message.Message{confirmed("m2", me, "b", t0+1000)}
	placeholders := []message.Message{pending("typing", t0+2000)}

	once := r.Merge(conv, cached, fetched, placeholders)
	twice := r.Merge(conv, nil, once, nil)

	assert.Equal(t, once, twice)
}

func TestMergeIsDeterministic(t *testing.T) {
	r := newReconciler()
	cached := []message.Message{confirmed("m1", other, "a", t0), confirmed("m3", other, "c", t0)}
	fetched := []message.Message{confirmed("m2", me, "b", t0)}
	placeholders := []message.Message{pending("x", t0)}

	assert.Equal(t, r.Merge(conv, cached, fetched, placeholders), r.Merge(conv, cached, fetched, placeholders))
}

func TestMergePromotesPlaceholderByContent(t *testing.T) {
	r := newReconciler()
	ph := pending("hi there", t0)
	out := r.Merge(conv, nil, []message.Message{confirmed("m1", me, "hi there", t0+2000)}, []message.Message{ph})

	require.Len(t, out, 1)
	assert.Equal(t, "m1", out[0].ID)
	assert.Equal(t, ph.LocalID, out[0].LocalID)
	assert.Equal(t, message.StateConfirmed, out[0].State)
}

func TestMergePromotesPlaceholderByEchoedLocalID(t *testing.T) {
	r := newReconciler()
	ph := pending("draft", t0)
	echo := confirmed("m1", me, "edited on the way", t0+10*60_000)
	echo.LocalID = ph.LocalID

	out := r.Merge(conv, nil, []message.Message{echo}, []message.Message{ph})

	require.Len(t, out, 1)
	assert.Equal(t, "m1", out[0].ID)
}

func TestMergeKeepsPlaceholderOutsideSkew(t *testing.T) {
	r := newReconciler()
	out := r.Merge(conv, nil,
		[]message.Message{confirmed("m1", me, "hi", t0+2*60_000)},
		[]message.Message{pending("hi", t0)})

	assert.Len(t, out, 2)
}

func TestMergeKeepsPlaceholderFromOtherSender(t *testing.T) {
	r := newReconciler()
	out := r.Merge(conv, nil,
		[]message.Message{confirmed("m1", other, "hi", t0)},
		[]message.Message{pending("hi", t0)})

	assert.Len(t, out, 2)
}

func TestMergeDuplicateContentPlaceholdersClaimOnce(t *testing.T) {
	r := newReconciler()
	first := pending("ok", t0)
	second := pending("ok", t0+10)

	out := r.Merge(conv, nil, []message.Message{confirmed("m1", me, "ok", t0+500)}, []message.Message{first, second})

	require.Len(t, out, 2)
	assert.Equal(t, []string{second.LocalID, "m1"}, keys(out))
	assert.Equal(t, first.LocalID, out[1].LocalID)

	again := r.Merge(conv, nil, out, nil)
	assert.Equal(t, out, again)
}

func TestMergeKeepsPairingWhenFetchedCopyHasNoLocalID(t *testing.T) {
	first := pending("hi", t0)
	second := pending("hi", t0+1)
	sent := confirmed("r1", me, "hi", t0)
	known := sent
	known.LocalID = first.LocalID

	got := newReconciler().Merge(conv, []message.Message{known}, []message.Message{sent}, []message.Message{second})
	assert.Equal(t, []string{"r1", second.LocalID}, keys(got))
	assert.Equal(t, first.LocalID, got[0].LocalID)
}

func TestMergeExplicitPlaceholderWinsOverCachedCopy(t *testing.T) {
	r := newReconciler()
	live := pending("retrying", t0)
	stale := live
	stale.State = message.StateFailed
	stale.FailureReason = "send interrupted"

	out := r.Merge(conv, []message.Message{stale}, nil, []message.Message{live})

	require.Len(t, out, 1)
	assert.Equal(t, message.StatePending, out[0].State)
	assert.Empty(t, out[0].FailureReason)
}

func TestMergeOrdersSecondsAndMillisTogether(t *testing.T) {
	r := newReconciler()
	inSeconds := confirmed("sec", other, "a", t0/1000)
	inMillis := confirmed("ms", other, "b", t0-500)

	out := r.Merge(conv, nil, []message.Message{inSeconds, inMillis}, nil)

	assert.Equal(t, []string{"ms", "sec"}, keys(out))
	assert.Equal(t, t0, out[1].CreatedAt)
}

func TestMergeConfirmedBeforePlaceholderOnTie(t *testing.T) {
	r := newReconciler()
	out := r.Merge(conv, nil,
		[]message.Message{confirmed("m1", other, "theirs", t0)},
		[]message.Message{pending("mine", t0)})

	assert.Equal(t, "m1", out[0].Key())
	assert.True(t, out[1].IsPlaceholder())
}

func TestMergeTieKeepsDiscoveryOrder(t *testing.T) {
	r := newReconciler()
	out := r.Merge(conv, nil, []message.Message{
		confirmed("b", other, "1", t0),
		confirmed("a", other, "2", t0),
	}, nil)

	assert.Equal(t, []string{"b", "a"}, keys(out))
}

func TestMergeUnknownTimestampUsesNow(t *testing.T) {
	r := newReconciler()
	out := r.Merge(conv, nil, []message.Message{confirmed("m1", other, "?", 0)}, nil)

	require.Len(t, out, 1)
	assert.True(t, out[0].TimeUnknown)
	assert.Equal(t, fixedNow.UnixMilli(), out[0].CreatedAt)
}

func TestMergeEmptyYieldsWelcome(t *testing.T) {
	r := newReconciler()
	out := r.Merge(conv, nil, nil, nil)

	require.Len(t, out, 1)
	assert.Equal(t, message.WelcomeID, out[0].LocalID)
	assert.Equal(t, message.StateSystem, out[0].State)
	assert.Equal(t, WelcomeText, out[0].Body.Text)

	assert.Equal(t, out, r.Merge(conv, out, out, nil))
}

func TestMergeDropsSystemEntries(t *testing.T) {
	r := newReconciler()
	welcome := r.Welcome(conv)
	out := r.Merge(conv, []message.Message{welcome}, []message.Message{confirmed("m1", other, "x", t0)}, nil)

	assert.Equal(t, []string{"m1"}, keys(out))
}

func TestMatches(t *testing.T) {
	r := newReconciler()
	ph := pending("hello", t0)

	assert.True(t, r.Matches(ph, confirmed("m1", me, " hello ", t0+59_000)))
	assert.False(t, r.Matches(ph, confirmed("m1", me, "hello", t0+61_000)))
	assert.False(t, r.Matches(ph, confirmed("m1", me, "bye", t0)))

	echoed := confirmed("m1", me, "bye", t0)
	echoed.LocalID = "pending_1"
	assert.False(t, r.Matches(ph, echoed))

	file := func(name string) message.Body {
		return message.Body{File: &message.File{Name: name, Size: 10}}
	}
	up := ph
	up.Body = file("cat.png")
	remote := confirmed("m2", me, "", t0)
	remote.Body = file("cat.png")
	assert.True(t, r.Matches(up, remote))
	remote.Body = file("dog.png")
	assert.False(t, r.Matches(up, remote))
}

func TestUpsertIsIdempotent(t *testing.T) {
	r := newReconciler()
	seq := r.Merge(conv, nil, []message.Message{confirmed("m1", other, "a", t0)}, nil)
	m := confirmed("m2", other, "b", t0+1000)

	seq, result, _ := r.Upsert(seq, m)
	assert.Equal(t, Inserted, result)
	again, result, _ := r.Upsert(seq, m)
	assert.Equal(t, Unchanged, result)
	assert.Equal(t, seq, again)
	assert.Equal(t, []string{"m1", "m2"}, keys(again))
}

func TestUpsertPromotesPlaceholderAndReleasesPreview(t *testing.T) {
	r := newReconciler()
	released := 0
	ph := pending("hello", t0)
	ph.Preview = message.ReleaserFunc(func() { released++ })
	seq := []message.Message{confirmed("m0", other, "earlier", t0-1000), ph}

	echo := confirmed("m9", me, "", t0+100)
	echo.LocalID = ph.LocalID
	out, result, promoted := r.Upsert(seq, echo)

	assert.Equal(t, Promoted, result)
	assert.Equal(t, ph.LocalID, promoted)
	assert.Equal(t, 1, released)
	require.Len(t, out, 2)
	assert.Equal(t, "m9", out[1].ID)
	assert.Equal(t, "hello", out[1].Body.Text)
	assert.Len(t, seq, 2, "input must not be mutated")
}

func TestUpsertDropsPlaceholderWhenAlreadyConfirmed(t *testing.T) {
	r := newReconciler()
	ph := pending("hello", t0)
	c := confirmed("m1", me, "hello", t0)
	seq := []message.Message{c, ph}

	echo := c
	echo.LocalID = ph.LocalID
	out, result, promoted := r.Upsert(seq, echo)

	assert.Equal(t, Unchanged, result)
	assert.Equal(t, ph.LocalID, promoted)
	assert.Equal(t, []string{"m1"}, keys(out))
}

func TestUpsertInsertsWithoutMovingExisting(t *testing.T) {
	r := newReconciler()
	seq := []message.Message{
		confirmed("a", other, "1", t0),
		confirmed("b", other, "2", t0+2000),
		pending("mine", t0+3000),
	}
	out, _, _ := r.Upsert(seq, confirmed("late", other, "3", t0+1000))

	assert.Equal(t, []string{"a", "late", "b", seq[2].LocalID}, keys(out))
}

func TestUpsertRemovesWelcome(t *testing.T) {
	r := newReconciler()
	seq := r.Merge(conv, nil, nil, nil)
	out, _, _ := r.Upsert(seq, confirmed("m1", other, "hi", t0))

	assert.Equal(t, []string{"m1"}, keys(out))
}

func TestReplaceKeepsPositionAndReactions(t *testing.T) {
	r := newReconciler()
	orig := confirmed("m1", other, "before", t0)
	orig.Reactions = message.Reactions{"👍": {me}}
	seq := []message.Message{orig, confirmed("m2", other, "next", t0+1)}

	edit := confirmed("m1", other, "after", t0+999_999)
	edit.EditedAt = t0 + 5000
	out, ok := r.Replace(seq, edit)

	require.True(t, ok)
	assert.Equal(t, []string{"m1", "m2"}, keys(out))
	assert.Equal(t, "after", out[0].Body.Text)
	assert.Equal(t, t0, out[0].CreatedAt)
	assert.True(t, out[0].Reactions.Has("👍", me))
	assert.Equal(t, "before", seq[0].Body.Text)

	older := confirmed("m1", other, "older edit", t0)
	older.EditedAt = t0 + 1000
	_, ok = r.Replace(out, older)
	assert.False(t, ok)

	_, ok = r.Replace(out, confirmed("nope", other, "x", t0))
	assert.False(t, ok)
}

func TestRemove(t *testing.T) {
	r := newReconciler()
	seq := []message.Message{confirmed("m1", other, "a", t0)}

	out, ok := r.Remove(seq, conv, "m1")
	require.True(t, ok)
	require.Len(t, out, 1)
	assert.Equal(t, message.WelcomeID, out[0].LocalID)

	_, ok = r.Remove(seq, conv, "missing")
	assert.False(t, ok)
}

func TestPrependKeepsExistingOrder(t *testing.T) {
	r := newReconciler()
	current := r.Merge(conv, nil, []message.Message{
		confirmed("m10", other, "j", t0+10_000),
		confirmed("m11", other, "k", t0+11_000),
	}, []message.Message{pending("queued", t0+12_000)})

	older := []message.Message{
		confirmed("m9", other, "i", t0+9_000),
		confirmed("m10", other, "dup", t0+10_000),
		confirmed("m7", other, "g", t0+7_000),
	}
	out, added := r.Prepend(current, older)

	assert.Equal(t, 2, added)
	require.Len(t, out, 5)
	assert.Equal(t, []string{"m7", "m9"}, keys(out[:2]))
	assert.Equal(t, current, out[2:])
	assert.Equal(t, "j", out[2].Body.Text)
}

func TestPrependStripsWelcome(t *testing.T) {
	r := newReconciler()
	out, added := r.Prepend(r.Merge(conv, nil, nil, nil), []message.Message{confirmed("m1", other, "old", t0)})

	assert.Equal(t, 1, added)
	assert.Equal(t, []string{"m1"}, keys(out))
}

func TestUpdateLocal(t *testing.T) {
	ph := pending("x", t0)
	seq := []message.Message{confirmed("m1", other, "a", t0-1), ph}

	failed := ph
	failed.State = message.StateFailed
	out, ok := UpdateLocal(seq, failed)

	require.True(t, ok)
	assert.Equal(t, message.StateFailed, out[1].State)
	assert.Equal(t, message.StatePending, seq[1].State)
	assert.Equal(t, 1, IndexOf(out, ph.LocalID))
}
