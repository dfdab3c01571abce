package httpdto

import (
	"time"

	"sentinal-client/internal/domain/conversation"
	"sentinal-client/internal/domain/message"
)

// SendMessageRequest is used for POST /v1/messages
type SendMessageRequest struct {
	Text string `json:"text" binding:"required"`
}

// ReactionRequest is used for POST /v1/messages/:id/reactions
type ReactionRequest struct {
	Key    string `json:"key" binding:"required"`
	Remove bool   `json:"remove,omitempty"`
}

// MessageDTO is a timeline entry as the inspection API shows it
type MessageDTO struct {
	ID             string              `json:"id,omitempty"`
	LocalID        string              `json:"local_id,omitempty"`
	ConversationID string              `json:"conversation_id"`
	SenderID       string              `json:"sender_id"`
	Text           string              `json:"text,omitempty"`
	File           *message.File       `json:"file,omitempty"`
	CreatedAt      int64               `json:"created_at"`
	Time           string              `json:"time"`
	Edited         bool                `json:"edited,omitempty"`
	State          message.State       `json:"state"`
	UploadProgress int                 `json:"upload_progress,omitempty"`
	FailureReason  string              `json:"failure_reason,omitempty"`
	Reactions      map[string][]string `json:"reactions,omitempty"`
}

// TimelineResponse is returned by GET /v1/timeline
type TimelineResponse struct {
	ConversationID string       `json:"conversation_id,omitempty"`
	Status         string       `json:"status"`
	Error          string       `json:"error,omitempty"`
	Exhausted      bool         `json:"exhausted"`
	Messages       []MessageDTO `json:"messages"`
}

// OlderResponse is returned by POST /v1/timeline/older
type OlderResponse struct {
	Added     int  `json:"added"`
	Exhausted bool `json:"exhausted"`
}

// ConversationDTO is one row of GET /v1/conversations
type ConversationDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name,omitempty"`
	Preview     string `json:"preview,omitempty"`
	UnreadCount int    `json:"unread_count"`
	UpdatedAt   int64  `json:"updated_at,omitempty"`
}

// SendResponse is returned by the send and retry endpoints. Error is set
// when the caller waited and the send failed.
type SendResponse struct {
	Message MessageDTO `json:"message"`
	Error   string     `json:"error,omitempty"`
}

func ToMessageDTO(m message.Message, loc *time.Location) MessageDTO {
	return MessageDTO{
		ID:             m.ID,
		LocalID:        m.LocalID,
		ConversationID: m.ConversationID,
		SenderID:       m.SenderID,
		Text:           m.Body.Text,
		File:           m.Body.File,
		CreatedAt:      m.CreatedAt,
		Time:           message.FormatTime(m, loc),
		Edited:         m.EditedAt > 0,
		State:          m.State,
		UploadProgress: m.UploadProgress,
		FailureReason:  m.FailureReason,
		Reactions:      m.Reactions,
	}
}

func ToMessageDTOs(seq []message.Message, loc *time.Location) []MessageDTO {
	out := make([]MessageDTO, 0, len(seq))
	for _, m := range seq {
		out = append(out, ToMessageDTO(m, loc))
	}
	return out
}

func ToConversationDTO(s conversation.Summary) ConversationDTO {
	dto := ConversationDTO{
		ID:          s.ID,
		Name:        s.Name,
		UnreadCount: s.UnreadCount,
		UpdatedAt:   s.ActivityAt(),
	}
	if s.LastMessage != nil {
		dto.Preview = message.Preview(*s.LastMessage)
	}
	return dto
}

// StreamFrame is pushed to GET /v1/stream watchers after every change
type StreamFrame struct {
	Timeline      TimelineResponse  `json:"timeline"`
	Conversations []ConversationDTO `json:"conversations"`
}
