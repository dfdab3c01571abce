package message

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReactionsAddIsIdempotent(t *testing.T) {
	var once, twice Reactions
	assert.True(t, once.Add("heart", "u1"))

	assert.True(t, twice.Add("heart", "u1"))
	assert.False(t, twice.Add("heart", "u1"))

	assert.Equal(t, once, twice)
	assert.Equal(t, 1, twice.Count("heart"))
}

func TestReactionsRemove(t *testing.T) {
	var r Reactions
	r.Add("heart", "u2")
	r.Add("heart", "u1")
	r.Add("thumbs", "u1")
	assert.Equal(t, []string{"u1", "u2"}, r["heart"])

	assert.True(t, r.Remove("heart", "u1"))
	assert.False(t, r.Remove("heart", "u1"))
	assert.Equal(t, []string{"u2"}, r["heart"])

	assert.True(t, r.Remove("heart", "u2"))
	_, ok := r["heart"]
	assert.False(t, ok)

	assert.True(t, r.Remove("thumbs", "u1"))
	assert.Nil(t, r)
}

func TestReactionsCloneDoesNotAlias(t *testing.T) {
	var r Reactions
	r.Add("heart", "u1")
	c := r.Clone()
	c.Add("heart", "u2")
	assert.False(t, r.Has("heart", "u2"))
	assert.True(t, c.Has("heart", "u2"))
}

func TestReactionsNormalize(t *testing.T) {
	r := Reactions{"heart": {"u2", "u1", "u2"}, "empty": {}}
	assert.Equal(t, Reactions{"heart": {"u1", "u2"}}, r.Normalize())
}

func TestNormalizeMillis(t *testing.T) {
	assert.Equal(t, int64(1700000000000), NormalizeMillis(1700000000))
	assert.Equal(t, int64(1700000000000), NormalizeMillis(1700000000000))
	assert.Equal(t, int64(0), NormalizeMillis(0))
	assert.Equal(t, int64(-5), NormalizeMillis(-5))
}

func TestParseTimestamp(t *testing.T) {
	cases := []struct {
		name string
		raw  any
		want int64
		ok   bool
	}{
		{"seconds float", float64(1700000000), 1700000000000, true},
		{"millis int", int64(1700000000000), 1700000000000, true},
		{"numeric string", "1700000000", 1700000000000, true},
		{"rfc3339", "2023-11-14T22:13:20Z", 1700000000000, true},
		{"json number", json.Number("1700000000000"), 1700000000000, true},
		{"garbage", "yesterday", 0, false},
		{"negative", -1, 0, false},
		{"nil", nil, 0, false},
		{"bool", true, 0, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := ParseTimestamp(tc.raw)
			assert.Equal(t, tc.ok, ok)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestFormatTimeSecondsAndMillisAgree(t *testing.T) {
	sec := Message{CreatedAt: 1700000000}
	ms := Message{CreatedAt: 1700000000000}
	assert.Equal(t, FormatTime(ms, time.UTC), FormatTime(sec, time.UTC))
	assert.Equal(t, "22:13", FormatTime(ms, time.UTC))
	assert.Equal(t, UnknownTimeLabel, FormatTime(Message{CreatedAt: 5, TimeUnknown: true}, time.UTC))
}

func TestPlaceholderIDRoundTrip(t *testing.T) {
	id := PlaceholderID(KindPending, 1000)
	assert.Equal(t, "pending_1000", id)

	kind, ts, ok := ParsePlaceholderID(id)
	require.True(t, ok)
	assert.Equal(t, KindPending, kind)
	assert.Equal(t, int64(1000), ts)

	_, _, ok = ParsePlaceholderID("m1")
	assert.False(t, ok)
	_, _, ok = ParsePlaceholderID("pending_")
	assert.False(t, ok)
}

func TestPreview(t *testing.T) {
	assert.Equal(t, "hello world", Preview(Message{Body: Body{Text: "  hello\n world "}}))
	assert.Equal(t, UnsupportedText, Preview(Message{}))
	assert.Equal(t, "📎 report.pdf (1.2 MB)", Preview(Message{Body: Body{File: &File{Name: "report.pdf", Size: 1200000}}}))

	long := make([]rune, 100)
	for i := range long {
		long[i] = 'a'
	}
	p := Preview(Message{Body: Body{Text: string(long)}})
	assert.Equal(t, previewMaxRunes, len([]rune(p)))
}

func TestMessageKeyAndState(t *testing.T) {
	p := Message{LocalID: "pending_1", State: StatePending}
	assert.Equal(t, "pending_1", p.Key())
	assert.True(t, p.IsPlaceholder())
	assert.False(t, p.IsConfirmed())

	c := Message{ID: "m1", LocalID: "pending_1", State: StateConfirmed}
	assert.Equal(t, "m1", c.Key())
	assert.True(t, c.IsConfirmed())
	assert.False(t, c.IsPlaceholder())

	assert.True(t, Message{SenderID: SystemSender}.IsSystem())
}

func TestCloneCopiesFile(t *testing.T) {
	m := Message{Body: Body{File: &File{Name: "a", Thumbnails: []Thumbnail{{URL: "t"}}}}}
	c := m.Clone()
	c.Body.File.Name = "b"
	c.Body.File.Thumbnails[0].URL = "x"
	assert.Equal(t, "a", m.Body.File.Name)
	assert.Equal(t, "t", m.Body.File.Thumbnails[0].URL)
}

func TestReleaseOnce(t *testing.T) {
	calls := 0
	r := ReleaseOnce(func() { calls++ })
	r.Release()
	r.Release()
	assert.Equal(t, 1, calls)
}
