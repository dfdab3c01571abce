package wsremote

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sentinal-client/internal/events"
	"sentinal-client/internal/remote"
	sentinal_errors "sentinal-client/pkg/errors"
)

var secret = []byte("test-secret")

type fakeServer struct {
	t         *testing.T
	srv       *httptest.Server
	connected chan *serverConn
}

type serverConn struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (c *serverConn) write(frames ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteMessage(websocket.TextMessage, []byte(strings.Join(frames, "\n")))
}

func newFakeServer(t *testing.T) *fakeServer {
	f := &fakeServer{t: t, connected: make(chan *serverConn, 1)}
	upgrader := websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}
	f.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, err := ParseAccessToken(secret, r.URL.Query().Get("token"))
		if err != nil || claims.Subject != "u1" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		sc := &serverConn{conn: conn}
		f.connected <- sc
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			for _, frame := range splitFrames(data) {
				var req Request
				if json.Unmarshal(frame, &req) != nil {
					continue
				}
				resp := f.handle(req)
				raw, _ := json.Marshal(resp)
				if sc.write(string(raw)) != nil {
					return
				}
			}
		}
	}))
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeServer) handle(req Request) Response {
	ok := func(payload string) Response {
		return Response{Type: TypeResponse, RequestID: req.RequestID, OK: true, Payload: json.RawMessage(payload)}
	}
	var p map[string]any
	_ = json.Unmarshal(req.Payload, &p)

	switch req.Type {
	case TypeConversationList:
		return ok(`{"conversations":[{"id":"c1","name":"General","unread_count":2},{"name":"no id"}]}`)
	case TypeMessageList:
		if p["before"] == nil {
			return ok(`{"messages":[{"id":"m3","text":"c","created_at":1700000003},{"id":"m4","text":"d","created_at":1700000004}],"cursor":"tok1","has_more":true}`)
		}
		return ok(`{"messages":[{"id":"m1","text":"a","created_at":1700000001},{"text":"broken"}],"has_more":false}`)
	case TypeMessageSend:
		if p["text"] == "reject" {
			return Response{Type: TypeResponse, RequestID: req.RequestID, OK: false, Error: "blocked"}
		}
		raw, _ := json.Marshal(map[string]any{"message": map[string]any{"id": "r1", "text": p["text"], "created_at": 1700000010000}})
		return ok(string(raw))
	case TypeMessageSendFile:
		raw, _ := json.Marshal(map[string]any{"id": "f1", "file": p["file"], "created_at": 1700000010000})
		return ok(string(raw))
	case TypeReactionAdd, TypeReactionRemove:
		return ok(`{}`)
	}
	return Response{Type: TypeResponse, RequestID: req.RequestID, Error: "unknown request"}
}

func (f *fakeServer) url() string {
	return "ws" + strings.TrimPrefix(f.srv.URL, "http")
}

func connect(t *testing.T, f *fakeServer, uploader Uploader) (*Client, *serverConn) {
	t.Helper()
	d := &Dialer{URL: f.url(), Tokens: TokenSource{Secret: secret}, Uploader: uploader}
	link, err := d.Connect(context.Background(), "u1")
	require.NoError(t, err)
	c := link.(*Client)
	t.Cleanup(func() { c.Close() })
	select {
	case sc := <-f.connected:
		return c, sc
	case <-time.After(2 * time.Second):
		t.Fatal("server never saw the connection")
		return nil, nil
	}
}

func ctxWithTimeout(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestConnectRejectsBadToken(t *testing.T) {
	f := newFakeServer(t)
	d := &Dialer{URL: f.url(), Tokens: TokenSource{Secret: []byte("wrong")}}

	_, err := d.Connect(context.Background(), "u1")
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestTokenSource(t *testing.T) {
	static, err := TokenSource{Static: "abc", Secret: secret}.Token("u1")
	require.NoError(t, err)
	assert.Equal(t, "abc", static)

	minted, err := TokenSource{Secret: secret}.Token("u1")
	require.NoError(t, err)
	claims, err := ParseAccessToken(secret, minted)
	require.NoError(t, err)
	assert.Equal(t, "u1", claims.Subject)
	assert.NotEmpty(t, claims.SessionID)

	_, err = ParseAccessToken([]byte("other"), minted)
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestListConversations(t *testing.T) {
	c, _ := connect(t, newFakeServer(t), nil)

	convs, err := c.ListConversations(ctxWithTimeout(t))
	require.NoError(t, err)
	require.Len(t, convs, 1)
	assert.Equal(t, "General", convs[0].Name)
	assert.Equal(t, 2, convs[0].UnreadCount)
}

func TestFetchRecentAndPageBack(t *testing.T) {
	c, _ := connect(t, newFakeServer(t), nil)
	ctx := ctxWithTimeout(t)

	recent, cur, err := c.FetchRecent(ctx, "c1", 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, "c1", recent[0].ConversationID)
	assert.Equal(t, int64(1700000003000), recent[0].CreatedAt)

	older, exhausted, err := cur.Next(ctx, 2)
	require.NoError(t, err)
	assert.True(t, exhausted)
	require.Len(t, older, 1)
	assert.Equal(t, "m1", older[0].ID)

	older, exhausted, err = cur.Next(ctx, 2)
	assert.NoError(t, err)
	assert.True(t, exhausted)
	assert.Empty(t, older)
}

func TestSendText(t *testing.T) {
	c, _ := connect(t, newFakeServer(t), nil)
	ctx := ctxWithTimeout(t)

	m, err := c.SendText(ctx, "c1", "hello")
	require.NoError(t, err)
	assert.Equal(t, "r1", m.ID)
	assert.Equal(t, "hello", m.Body.Text)
	assert.Equal(t, "c1", m.ConversationID)
	assert.Equal(t, "u1", m.SenderID)

	_, err = c.SendText(ctx, "c1", "reject")
	assert.ErrorIs(t, err, ErrRejected)
	assert.Contains(t, err.Error(), "blocked")
}

type fakeUploader struct {
	key string
}

func (u *fakeUploader) Upload(ctx context.Context, key, contentType string, data []byte, progress func(int)) (string, error) {
	u.key = key
	progress(50)
	progress(100)
	return "https://cdn.test/" + key, nil
}

func TestSendFileUploadsThenSends(t *testing.T) {
	up := &fakeUploader{}
	c, _ := connect(t, newFakeServer(t), up)
	progress := make(chan int, 8)

	m, err := c.SendFile(ctxWithTimeout(t), "c1", remote.FileUpload{Name: "a.png", MimeType: "image/png", Data: []byte("png")}, progress)
	require.NoError(t, err)
	require.NotNil(t, m.Body.File)
	assert.Equal(t, "a.png", m.Body.File.Name)
	assert.Equal(t, "https://cdn.test/"+up.key, m.Body.File.URL)
	assert.True(t, strings.HasPrefix(up.key, "attachments/c1/"))

	close(progress)
	var seen []int
	for p := range progress {
		seen = append(seen, p)
	}
	assert.Equal(t, []int{45, 90, 100}, seen)
}

func TestSendFileWithoutUploader(t *testing.T) {
	c, _ := connect(t, newFakeServer(t), nil)
	_, err := c.SendFile(ctxWithTimeout(t), "c1", remote.FileUpload{Name: "a"}, nil)
	assert.ErrorIs(t, err, sentinal_errors.ErrServiceUnavailable)
}

func TestReactionFallsBackToRequest(t *testing.T) {
	c, _ := connect(t, newFakeServer(t), nil)

	r, err := c.AddReaction(ctxWithTimeout(t), "c1", "m1", "👍")
	require.NoError(t, err)
	assert.Equal(t, events.ReactionChanged{MessageID: "m1", ConversationID: "c1", Key: "👍", UserID: "u1", Added: true}, r)
}

func envelope(t *testing.T, eventType, aggregateID string, payload any) string {
	env, err := events.NewEnvelope(eventType, events.AggregateTypeMessage, aggregateID, payload)
	require.NoError(t, err)
	raw, err := json.Marshal(env)
	require.NoError(t, err)
	return string(raw)
}

func receive(t *testing.T, ch <-chan events.Event) events.Event {
	t.Helper()
	select {
	case ev, ok := <-ch:
		require.True(t, ok, "subscription closed")
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("no event")
		return events.Event{}
	}
}

func TestLiveEventsFromJoinedFrames(t *testing.T) {
	c, sc := connect(t, newFakeServer(t), nil)
	ch, cancel, err := c.Subscribe(context.Background())
	require.NoError(t, err)
	defer cancel()

	require.NoError(t, sc.write(
		envelope(t, events.EventTypeMessageCreated, "m9", map[string]any{"conversation_id": "c1", "sender_id": "u2", "text": "hi", "created_at": 1700000000}),
		envelope(t, "typing.started", "c1", map[string]any{"conversation_id": "c1"}),
		`{"event_type":"message.created","payload":{"text":"no id"}}`,
		envelope(t, events.EventTypeReactionRemoved, "m9", map[string]any{"message_id": "m9", "conversation_id": "c1", "key": "👍", "user_id": "u2"}),
		envelope(t, events.EventTypeMessageDeleted, "m8", map[string]any{"conversation_id": "c1"}),
		envelope(t, events.EventTypeConversationUpdated, "c1", map[string]any{"name": "Renamed"}),
	))

	ev := receive(t, ch)
	assert.Equal(t, events.KindReceived, ev.Kind)
	assert.Equal(t, "m9", ev.Message.ID)
	assert.Equal(t, "c1", ev.ConversationID)
	assert.Equal(t, int64(1700000000000), ev.Message.CreatedAt)

	ev = receive(t, ch)
	assert.Equal(t, events.KindReactionChanged, ev.Kind)
	assert.False(t, ev.Reaction.Added)

	ev = receive(t, ch)
	assert.Equal(t, events.KindDeleted, ev.Kind)
	assert.Equal(t, "m8", ev.MessageID)

	ev = receive(t, ch)
	assert.Equal(t, events.KindChannelChanged, ev.Kind)
	assert.Equal(t, "c1", ev.ConversationID)
	require.NotNil(t, ev.Channel.Name)
	assert.Equal(t, "Renamed", *ev.Channel.Name)
}

func TestCloseEndsSubscriptionsAndCalls(t *testing.T) {
	c, _ := connect(t, newFakeServer(t), nil)
	ch, _, err := c.Subscribe(context.Background())
	require.NoError(t, err)

	require.NoError(t, c.Close())
	_, open := <-ch
	assert.False(t, open)

	_, err = c.SendText(context.Background(), "c1", "late")
	assert.ErrorIs(t, err, sentinal_errors.ErrNotConnected)
	_, _, err = c.Subscribe(context.Background())
	assert.ErrorIs(t, err, sentinal_errors.ErrNotConnected)
}

func TestSlowSubscriberClosesLink(t *testing.T) {
	c, _ := connect(t, newFakeServer(t), nil)
	ch, _, err := c.Subscribe(context.Background())
	require.NoError(t, err)

	for i := 0; i <= cap(ch); i++ {
		c.publish(events.Deleted("c1", "m1"))
	}
	assert.ErrorIs(t, c.Err(), sentinal_errors.ErrNotConnected)

	n := 0
	for range ch {
		n++
	}
	assert.Equal(t, 256, n)
	_, err = c.SendText(context.Background(), "c1", "late")
	assert.ErrorIs(t, err, sentinal_errors.ErrNotConnected)
}
