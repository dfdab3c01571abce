package handler

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"sentinal-client/internal/domain/conversation"
	"sentinal-client/internal/domain/message"
	"sentinal-client/internal/session"
	"sentinal-client/internal/transport/httpdto"
	sentinal_errors "sentinal-client/pkg/errors"

	"github.com/gin-gonic/gin"
)

// Timeline is the part of the session the inspection API drives.
type Timeline interface {
	Snapshot() session.Snapshot
	Conversations(ctx context.Context) ([]conversation.Summary, error)
	Open(ctx context.Context, conversationID string) error
	LoadOlder(ctx context.Context) (int, bool, error)
	SendText(ctx context.Context, text string) (message.Message, <-chan session.SendOutcome, error)
	Retry(ctx context.Context, localID string) (message.Message, <-chan session.SendOutcome, error)
	Discard(localID string) error
	React(ctx context.Context, messageID, key string, remove bool) error
}

var _ Timeline = (*session.Session)(nil)

type TimelineHandler struct {
	timeline Timeline
	loc      *time.Location
}

// NewTimelineHandler renders times in loc; nil means UTC.
func NewTimelineHandler(timeline Timeline, loc *time.Location) *TimelineHandler {
	if loc == nil {
		loc = time.UTC
	}
	return &TimelineHandler{timeline: timeline, loc: loc}
}

func (h *TimelineHandler) Conversations(c *gin.Context) {
	list, err := h.timeline.Conversations(c.Request.Context())
	if err != nil {
		// offline: what the session already knows
		list = h.timeline.Snapshot().Conversations
	}
	out := make([]httpdto.ConversationDTO, 0, len(list))
	for _, s := range list {
		out = append(out, httpdto.ToConversationDTO(s))
	}
	c.JSON(http.StatusOK, httpdto.NewSuccessResponse(out))
}

func (h *TimelineHandler) Open(c *gin.Context) {
	if err := h.timeline.Open(c.Request.Context(), c.Param("id")); err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, httpdto.NewSuccessResponse(h.timelineResponse()))
}

func (h *TimelineHandler) Timeline(c *gin.Context) {
	c.JSON(http.StatusOK, httpdto.NewSuccessResponse(h.timelineResponse()))
}

func (h *TimelineHandler) LoadOlder(c *gin.Context) {
	added, exhausted, err := h.timeline.LoadOlder(c.Request.Context())
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, httpdto.NewSuccessResponse(httpdto.OlderResponse{Added: added, Exhausted: exhausted}))
}

// Send answers 202 with the placeholder, or waits for the outcome when the
// wait query parameter is set.
func (h *TimelineHandler) Send(c *gin.Context) {
	var req httpdto.SendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(fmt.Errorf("invalid request: %w", sentinal_errors.ErrInvalidInput))
		return
	}
	ph, outcome, err := h.timeline.SendText(c.Request.Context(), req.Text)
	if err != nil {
		_ = c.Error(err)
		return
	}
	h.respondSend(c, ph, outcome)
}

func (h *TimelineHandler) Retry(c *gin.Context) {
	ph, outcome, err := h.timeline.Retry(c.Request.Context(), c.Param("id"))
	if err != nil {
		_ = c.Error(err)
		return
	}
	h.respondSend(c, ph, outcome)
}

func (h *TimelineHandler) Discard(c *gin.Context) {
	if err := h.timeline.Discard(c.Param("id")); err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, httpdto.NewSuccessResponse(h.timelineResponse()))
}

func (h *TimelineHandler) React(c *gin.Context) {
	var req httpdto.ReactionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(fmt.Errorf("invalid request: %w", sentinal_errors.ErrInvalidInput))
		return
	}
	if err := h.timeline.React(c.Request.Context(), c.Param("id"), req.Key, req.Remove); err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, httpdto.NewSuccessResponse(h.timelineResponse()))
}

func (h *TimelineHandler) respondSend(c *gin.Context, ph message.Message, outcome <-chan session.SendOutcome) {
	if _, wait := c.GetQuery("wait"); !wait {
		c.JSON(http.StatusAccepted, httpdto.NewSuccessResponse(httpdto.SendResponse{Message: httpdto.ToMessageDTO(ph, h.loc)}))
		return
	}
	select {
	case res := <-outcome:
		resp := httpdto.SendResponse{Message: httpdto.ToMessageDTO(res.Message, h.loc)}
		if res.Err != nil {
			resp.Error = res.Err.Error()
		}
		c.JSON(http.StatusOK, httpdto.NewSuccessResponse(resp))
	case <-c.Request.Context().Done():
		c.JSON(http.StatusAccepted, httpdto.NewSuccessResponse(httpdto.SendResponse{Message: httpdto.ToMessageDTO(ph, h.loc)}))
	}
}

func (h *TimelineHandler) timelineResponse() httpdto.TimelineResponse {
	return h.Frame(h.timeline.Snapshot()).Timeline
}

// Health reports unhealthy while the session has no link.
func (h *TimelineHandler) Health(c *gin.Context) {
	snap := h.timeline.Snapshot()
	if snap.Status != session.StatusConnected {
		c.JSON(http.StatusServiceUnavailable, httpdto.NewErrorResponse(fmt.Sprintf("session %s: %s", snap.Status, snap.Error), "UNHEALTHY"))
		return
	}
	c.JSON(http.StatusOK, httpdto.NewSuccessResponse(gin.H{"status": "healthy"}))
}

// Frame renders a published snapshot for stream watchers.
func (h *TimelineHandler) Frame(snap session.Snapshot) httpdto.StreamFrame {
	frame := httpdto.StreamFrame{
		Timeline: httpdto.TimelineResponse{
			ConversationID: snap.ActiveID,
			Status:         string(snap.Status),
			Error:          snap.Error,
			Exhausted:      snap.Exhausted,
			Messages:       httpdto.ToMessageDTOs(snap.Timeline, h.loc),
		},
		Conversations: make([]httpdto.ConversationDTO, 0, len(snap.Conversations)),
	}
	for _, s := range snap.Conversations {
		frame.Conversations = append(frame.Conversations, httpdto.ToConversationDTO(s))
	}
	return frame
}
