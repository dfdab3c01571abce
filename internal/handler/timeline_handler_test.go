package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"sentinal-client/internal/domain/conversation"
	"sentinal-client/internal/domain/message"
	"sentinal-client/internal/middleware"
	"sentinal-client/internal/session"
	"sentinal-client/internal/transport/httpdto"
	sentinal_errors "sentinal-client/pkg/errors"
)

type mockTimeline struct {
	mock.Mock
}

func (m *mockTimeline) Snapshot() session.Snapshot {
	return m.Called().Get(0).(session.Snapshot)
}

func (m *mockTimeline) Conversations(ctx context.Context) ([]conversation.Summary, error) {
	args := m.Called(ctx)
	list, _ := args.Get(0).([]conversation.Summary)
	return list, args.Error(1)
}

func (m *mockTimeline) Open(ctx context.Context, conversationID string) error {
	return m.Called(ctx, conversationID).Error(0)
}

func (m *mockTimeline) LoadOlder(ctx context.Context) (int, bool, error) {
	args := m.Called(ctx)
	return args.Int(0), args.Bool(1), args.Error(2)
}

func (m *mockTimeline) SendText(ctx context.Context, text string) (message.Message, <-chan session.SendOutcome, error) {
	args := m.Called(ctx, text)
	ch, _ := args.Get(1).(<-chan session.SendOutcome)
	return args.Get(0).(message.Message), ch, args.Error(2)
}

func (m *mockTimeline) Retry(ctx context.Context, localID string) (message.Message, <-chan session.SendOutcome, error) {
	args := m.Called(ctx, localID)
	ch, _ := args.Get(1).(<-chan session.SendOutcome)
	return args.Get(0).(message.Message), ch, args.Error(2)
}

func (m *mockTimeline) Discard(localID string) error {
	return m.Called(localID).Error(0)
}

func (m *mockTimeline) React(ctx context.Context, messageID, key string, remove bool) error {
	return m.Called(ctx, messageID, key, remove).Error(0)
}

func router(tl Timeline) *gin.Engine {
	gin.SetMode(gin.TestMode)
	h := NewTimelineHandler(tl, nil)
	r := gin.New()
	r.Use(middleware.ErrorHandler(nil))
	r.GET("/conversations", h.Conversations)
	r.POST("/conversations/:id/open", h.Open)
	r.POST("/older", h.LoadOlder)
	r.POST("/messages", h.Send)
	r.DELETE("/messages/:id", h.Discard)
	r.POST("/messages/:id/reactions", h.React)
	return r
}

func call(r *gin.Engine, method, path, body string) (*httptest.ResponseRecorder, httpdto.Response[json.RawMessage]) {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	var out httpdto.Response[json.RawMessage]
	_ = json.Unmarshal(rec.Body.Bytes(), &out)
	return rec, out
}

func TestOpenMapsStaleResult(t *testing.T) {
	tl := &mockTimeline{}
	tl.On("Open", mock.Anything, "c1").Return(sentinal_errors.ErrStaleResult)

	rec, out := call(router(tl), http.MethodPost, "/conversations/c1/open", "")
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, httpdto.CodeStale, out.Code)
	tl.AssertExpectations(t)
}

func TestLoadOlderBusy(t *testing.T) {
	tl := &mockTimeline{}
	tl.On("LoadOlder", mock.Anything).Return(0, false, sentinal_errors.ErrBusy)

	rec, out := call(router(tl), http.MethodPost, "/older", "")
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, httpdto.CodeBusy, out.Code)
}

func TestSendWaitsForOutcome(t *testing.T) {
	tl := &mockTimeline{}
	outcome := make(chan session.SendOutcome, 1)
	failed := message.Message{LocalID: "pending_1", State: message.StateFailed, FailureReason: "boom"}
	outcome <- session.SendOutcome{Message: failed, Err: errors.New("boom")}
	tl.On("SendText", mock.Anything, "hi").
		Return(message.Message{LocalID: "pending_1", State: message.StatePending}, (<-chan session.SendOutcome)(outcome), nil)

	rec, out := call(router(tl), http.MethodPost, "/messages?wait=true", `{"text":"hi"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	var resp httpdto.SendResponse
	require.NoError(t, json.Unmarshal(out.Data, &resp))
	assert.Equal(t, "boom", resp.Error)
	assert.Equal(t, message.StateFailed, resp.Message.State)
	assert.Equal(t, "unknown time", resp.Message.Time)
}

func TestDiscardConflict(t *testing.T) {
	tl := &mockTimeline{}
	tl.On("Discard", "pending_1").Return(sentinal_errors.ErrConflict)

	rec, _ := call(router(tl), http.MethodDelete, "/messages/pending_1", "")
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestReactNotConnected(t *testing.T) {
	tl := &mockTimeline{}
	tl.On("React", mock.Anything, "m1", "👍", true).Return(sentinal_errors.ErrNotConnected)

	rec, out := call(router(tl), http.MethodPost, "/messages/m1/reactions", `{"key":"👍","remove":true}`)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, httpdto.CodeNotConnected, out.Code)
}

func TestConversationsFallBackToSnapshot(t *testing.T) {
	tl := &mockTimeline{}
	tl.On("Conversations", mock.Anything).Return(nil, sentinal_errors.ErrNotConnected)
	last := message.Message{ID: "m1", Body: message.Body{File: &message.File{Name: "a.pdf", Size: 2048}}}
	tl.On("Snapshot").Return(session.Snapshot{Conversations: []conversation.Summary{{ID: "c1", UnreadCount: 2, LastMessage: &last}}})

	rec, out := call(router(tl), http.MethodGet, "/conversations", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var list []httpdto.ConversationDTO
	require.NoError(t, json.Unmarshal(out.Data, &list))
	require.Len(t, list, 1)
	assert.Equal(t, 2, list[0].UnreadCount)
	assert.Equal(t, message.Preview(last), list[0].Preview)
}

func TestClassifyDefaultsToBadGateway(t *testing.T) {
	status, code := middleware.Classify(errors.New("remote exploded"))
	assert.Equal(t, http.StatusBadGateway, status)
	assert.Equal(t, httpdto.CodeRemoteFailed, code)
}
