package remote

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sentinal-client/internal/domain/message"
	sentinal_errors "sentinal-client/pkg/errors"
)

func decode(t *testing.T, raw string) Payload {
	t.Helper()
	dec := json.NewDecoder(bytes.NewReader([]byte(raw)))
	dec.UseNumber()
	var p map[string]any
	require.NoError(t, dec.Decode(&p))
	return p
}

func TestNormalizeFallbackChains(t *testing.T) {
	cases := []struct {
		name string
		raw  string
		want message.Message
	}{
		{
			name: "canonical",
			raw:  `{"id":"m1","conversation_id":"c1","sender_id":"u1","text":"hi","created_at":1700000000123}`,
			want: message.Message{ID: "m1", ConversationID: "c1", SenderID: "u1", Body: message.Body{Text: "hi"}, CreatedAt: 1700000000123},
		},
		{
			name: "camel case with seconds",
			raw:  `{"messageId":"m2","conversationId":"c1","senderId":"u2","content":"yo","createdAt":1700000000}`,
			want: message.Message{ID: "m2", ConversationID: "c1", SenderID: "u2", Body: message.Body{Text: "yo"}, CreatedAt: 1700000000000},
		},
		{
			name: "nested",
			raw:  `{"_id":42,"channel":{"id":"c9"},"user":{"id":"u3"},"body":{"text":"deep"},"ts":"2023-11-14T22:13:20Z"}`,
			want: message.Message{ID: "42", ConversationID: "c9", SenderID: "u3", Body: message.Body{Text: "deep"}, CreatedAt: 1700000000000},
		},
		{
			name: "unresolvable text and time",
			raw:  `{"id":"m4","type":"sticker","timestamp":"yesterday"}`,
			want: message.Message{ID: "m4", Body: message.Body{Text: message.UnsupportedText}},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := Normalize(decode(t, tc.raw))
			require.NoError(t, err)
			tc.want.State = message.StateConfirmed
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestNormalizeFile(t *testing.T) {
	got, err := Normalize(decode(t, `{
		"id":"m1","sender_id":"u1",
		"attachments":[{"file_url":"https://cdn/x/report.pdf","size":1200000,"mime_type":"application/pdf",
			"thumbnails":[{"url":"https://cdn/x/t.png","width":64,"height":64},{"width":1}]}]
	}`))
	require.NoError(t, err)
	require.NotNil(t, got.Body.File)
	assert.Equal(t, "report.pdf", got.Body.File.Name)
	assert.Equal(t, int64(1200000), got.Body.File.Size)
	assert.Equal(t, "https://cdn/x/report.pdf", got.Body.File.URL)
	require.Len(t, got.Body.File.Thumbnails, 1)
	assert.Equal(t, 64, got.Body.File.Thumbnails[0].Width)
	assert.Empty(t, got.Body.Text)
}

func TestNormalizeReactionsAndEcho(t *testing.T) {
	got, err := Normalize(decode(t, `{"id":"m1","text":"x","local_id":"pending_5","reactions":{"👍":["u2","u1","u2"]}}`))
	require.NoError(t, err)
	assert.Equal(t, "pending_5", got.LocalID)
	assert.Equal(t, []string{"u1", "u2"}, got.Reactions["👍"])

	list, err := Normalize(decode(t, `{"id":"m1","text":"x","reactions":[{"emoji":"🎉","user_id":"u1"}]}`))
	require.NoError(t, err)
	assert.True(t, list.Reactions.Has("🎉", "u1"))
}

func TestNormalizeRequiresID(t *testing.T) {
	_, err := Normalize(decode(t, `{"text":"orphan"}`))
	assert.ErrorIs(t, err, sentinal_errors.ErrInvalidInput)
}

func TestNormalizeMessagesSkipsBadEntries(t *testing.T) {
	p := decode(t, `{"items":[{"id":"a","text":"1"},{"text":"no id"},"junk",{"id":"b","text":"2"}]}`)
	items, _ := p["items"].([]any)

	msgs, skipped := NormalizeMessages(items)
	assert.Equal(t, 2, skipped)
	require.Len(t, msgs, 2)
	assert.Equal(t, "b", msgs[1].ID)
}

func TestNormalizeSummaryAndPatch(t *testing.T) {
	s, err := NormalizeSummary(decode(t, `{"id":"c1","title":"Team","unreadCount":"3","last_message":{"id":"m1","text":"hi","created_at":1700000000}}`))
	require.NoError(t, err)
	assert.Equal(t, "Team", s.Name)
	assert.Equal(t, 3, s.UnreadCount)
	require.NotNil(t, s.LastMessage)
	assert.Equal(t, "c1", s.LastMessage.ConversationID)

	patch := NormalizePatch(decode(t, `{"name":"Renamed"}`))
	require.NotNil(t, patch.Name)
	assert.Equal(t, "Renamed", *patch.Name)
	assert.Nil(t, patch.UnreadCount)
	assert.Nil(t, patch.UpdatedAt)
}

func TestNormalizeReaction(t *testing.T) {
	r, err := NormalizeReaction(decode(t, `{"message_id":"m1","conversation_id":"c1","key":"👍","user_id":"u2"}`), true)
	require.NoError(t, err)
	assert.Equal(t, "m1", r.MessageID)
	assert.True(t, r.Added)

	_, err = NormalizeReaction(decode(t, `{"message_id":"m1"}`), false)
	assert.ErrorIs(t, err, sentinal_errors.ErrInvalidInput)
}
