package session

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ErrNotFound is returned by a Store when no session has the requested ID.
var ErrNotFound = errors.New("session not found")

// Message represents a single chat message
type Message struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// Session is the context of one client: the latest report text and the chat
// transcript grounded in it.
type Session struct {
	ID         string    `json:"id"`
	ReportText string    `json:"report_text"`
	Messages   []Message `json:"messages"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Store persists sessions by ID. Implementations return copies so callers
// never share mutable state with the store.
type Store interface {
	Get(ctx context.Context, id string) (*Session, error)
	Save(ctx context.Context, s *Session) error
	Delete(ctx context.Context, id string) error
}

// New creates an empty session with a fresh ID.
func New(now time.Time) *Session {
	return &Session{
		ID:        uuid.NewString(),
		Messages:  []Message{},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// ValidID reports whether id looks like an ID issued by New.
func ValidID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

// Reset replaces the report text and clears the transcript.
func (s *Session) Reset(reportText string, now time.Time) {
	s.ReportText = reportText
	s.Messages = []Message{}
	s.UpdatedAt = now
}

// Append adds messages to the end of the transcript.
func (s *Session) Append(msgs ...Message) {
	s.Messages = append(s.Messages, msgs...)
	for _, m := range msgs {
		if m.Timestamp.After(s.UpdatedAt) {
			s.UpdatedAt = m.Timestamp
		}
	}
}

// Clone returns a deep copy.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	c := *s
	c.Messages = make([]Message, len(s.Messages))
	copy(c.Messages, s.Messages)
	return &c
}
