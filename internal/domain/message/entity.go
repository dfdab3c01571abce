package message

import (
	"strings"
	"sync"
)

// SystemSender is the reserved sender id for locally generated notices.
const SystemSender = "system"

type State string

const (
	StateConfirmed State = "confirmed"
	StatePending   State = "pending"
	StateUploading State = "uploading"
	StateFailed    State = "failed"
	StateSystem    State = "system"
)

// IsPlaceholder reports whether the state belongs to a message that has not
// been confirmed by the remote yet.
func (s State) IsPlaceholder() bool {
	return s == StatePending || s == StateUploading || s == StateFailed
}

// Thumbnail describes one rendition of an attached file.
type Thumbnail struct {
	URL      string `json:"url"`
	Width    int    `json:"width,omitempty"`
	Height   int    `json:"height,omitempty"`
	MimeType string `json:"mime_type,omitempty"`
}

// File is a reference to an attachment. URL stays empty until the upload completes.
type File struct {
	Name       string      `json:"name"`
	MimeType   string      `json:"mime_type,omitempty"`
	Size       int64       `json:"size"`
	URL        string      `json:"url,omitempty"`
	Thumbnails []Thumbnail `json:"thumbnails,omitempty"`
}

// Body carries either plain text or a file reference.
type Body struct {
	Text string `json:"text,omitempty"`
	File *File  `json:"file,omitempty"`
}

func (b Body) IsFile() bool {
	return b.File != nil
}

// IsEmpty reports whether the body carries no content at all.
func (b Body) IsEmpty() bool {
	return b.File == nil && strings.TrimSpace(b.Text) == ""
}

// Message is the canonical unit of a conversation timeline.
//
// ID is the remote id and is empty until the remote has persisted the
// message. LocalID is the placeholder id assigned when the message was
// created on this client; confirmed messages keep it so later copies of the
// placeholder can be recognised.
type Message struct {
	ID             string    `json:"id,omitempty"`
	LocalID        string    `json:"local_id,omitempty"`
	ConversationID string    `json:"conversation_id"`
	SenderID       string    `json:"sender_id"`
	Body           Body      `json:"body"`
	CreatedAt      int64     `json:"created_at"`
	TimeUnknown    bool      `json:"time_unknown,omitempty"`
	EditedAt       int64     `json:"edited_at,omitempty"`
	State          State     `json:"state"`
	UploadProgress int       `json:"upload_progress,omitempty"`
	FailureReason  string    `json:"failure_reason,omitempty"`
	Reactions      Reactions `json:"reactions,omitempty"`

	// Preview is the in-memory handle of a locally generated file preview.
	Preview Releaser `json:"-"`
}

// Key identifies the message inside a timeline: the remote id when there is
// one, the placeholder id otherwise.
func (m Message) Key() string {
	if m.ID != "" {
		return m.ID
	}
	return m.LocalID
}

func (m Message) IsConfirmed() bool {
	return m.State == StateConfirmed && m.ID != ""
}

func (m Message) IsPlaceholder() bool {
	return m.ID == "" && m.State.IsPlaceholder()
}

func (m Message) IsSystem() bool {
	return m.State == StateSystem || m.SenderID == SystemSender
}

// Clone returns a copy that shares no mutable state with m.
func (m Message) Clone() Message {
	out := m
	out.Reactions = m.Reactions.Clone()
	if m.Body.File != nil {
		f := *m.Body.File
		f.Thumbnails = append([]Thumbnail(nil), m.Body.File.Thumbnails...)
		out.Body.File = &f
	}
	return out
}

// CloneAll copies a sequence element-wise.
func CloneAll(seq []Message) []Message {
	if seq == nil {
		return nil
	}
	out := make([]Message, len(seq))
	for i := range seq {
		out[i] = seq[i].Clone()
	}
	return out
}

// Releaser frees a locally allocated resource such as a preview blob.
type Releaser interface {
	Release()
}

// ReleaserFunc adapts a function to Releaser.
type ReleaserFunc func()

func (f ReleaserFunc) Release() {
	if f != nil {
		f()
	}
}

// ReleaseOnce wraps f so that releasing more than once is harmless.
func ReleaseOnce(f func()) Releaser {
	var once sync.Once
	return ReleaserFunc(func() {
		once.Do(f)
	})
}
