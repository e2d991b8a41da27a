package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"euphoria-magic/internal/gemini"
	"euphoria-magic/internal/imageio"
	"euphoria-magic/internal/prompt"
)

var (
	ErrBusy           = errors.New("an edit is already in progress")
	ErrEmptyMessage   = errors.New("message is empty")
	ErrNotCommittable = errors.New("message has no image to add to canvas")
	ErrNotFound       = errors.New("session not found")
)

const (
	replyWithImage = "Here's your updated image:"
	replyFailure   = "Sorry, I encountered an error processing your request. Please try again."
	loadingText    = "Editing your image..."
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

type Message struct {
	ID             string    `json:"id"`
	Content        string    `json:"content"`
	Role           Role      `json:"role"`
	Timestamp      time.Time `json:"timestamp"`
	ImageURL       string    `json:"imageUrl,omitempty"`
	HasAddToCanvas bool      `json:"hasAddToCanvas,omitempty"`
	Loading        bool      `json:"loading,omitempty"`
}

type Editor interface {
	Edit(ctx context.Context, req gemini.EditRequest) (gemini.EditResult, error)
}

// Session is one chat-edit conversation over a committed current image.
// At most one Send runs at a time.
type Session struct {
	ID string

	editor Editor
	roles  prompt.Roles
	now    func() time.Time
	newID  func() string
	logger *slog.Logger

	mu           sync.Mutex
	messages     []Message
	current      imageio.Payload
	params       prompt.Params
	busy         bool
	lastActivity time.Time
}

// Snapshot is a copy of the session state safe to hand out.
type Snapshot struct {
	ID              string    `json:"id"`
	Messages        []Message `json:"messages"`
	CurrentImageURL string    `json:"currentImageUrl"`
	Busy            bool      `json:"busy"`
	LastActivity    time.Time `json:"lastActivity"`
}

func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	msgs := make([]Message, len(s.messages))
	copy(msgs, s.messages)
	return Snapshot{
		ID:              s.ID,
		Messages:        msgs,
		CurrentImageURL: s.current.DataURL(),
		Busy:            s.busy,
		LastActivity:    s.lastActivity,
	}
}

func (s *Session) SetParams(p prompt.Params) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.params = p
}

func (s *Session) CurrentImage() imageio.Payload {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// Send submits one edit turn and returns the assistant reply. The reply is
// also appended to the session, including on failure.
func (s *Session) Send(ctx context.Context, text string) (reply Message, err error) {
	if strings.TrimSpace(text) == "" {
		return Message{}, ErrEmptyMessage
	}

	s.mu.Lock()
	if s.busy {
		s.mu.Unlock()
		return Message{}, ErrBusy
	}
	s.busy = true

	history := textTurns(s.messages)
	user := s.newMessage(RoleUser, text)
	placeholder := s.newMessage(RoleAssistant, loadingText)
	placeholder.Loading = true
	s.messages = append(s.messages, user, placeholder)
	req := gemini.EditRequest{
		Message:      text,
		CurrentImage: s.current,
		History:      history,
		Params:       s.params,
		Roles:        s.roles,
	}
	s.mu.Unlock()

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("editor panic: %v", r)
		}

		s.mu.Lock()
		defer s.mu.Unlock()

		s.removeLocked(placeholder.ID)
		if err != nil {
			reply = s.newMessage(RoleAssistant, replyFailure)
			s.logger.Warn("chat edit failed", "session", s.ID, "error", err)
		}
		s.messages = append(s.messages, reply)
		s.lastActivity = s.now()
		s.busy = false
	}()

	result, err := s.editor.Edit(ctx, req)
	if err != nil {
		return Message{}, err
	}

	if result.HasImage() {
		reply = s.newMessage(RoleAssistant, replyWithImage)
		reply.ImageURL = result.ImageURL
		reply.HasAddToCanvas = true
		return reply, nil
	}
	return s.newMessage(RoleAssistant, result.Text), nil
}

// Commit makes the image proposed by messageID the current image.
func (s *Session) Commit(messageID string) (imageio.Payload, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, m := range s.messages {
		if m.ID != messageID {
			continue
		}
		if !m.HasAddToCanvas || m.ImageURL == "" {
			return imageio.Payload{}, ErrNotCommittable
		}
		mimeType, data, err := imageio.ParseDataURL(m.ImageURL)
		if err != nil {
			return imageio.Payload{}, fmt.Errorf("proposed image: %w", err)
		}
		s.current = imageio.Payload{Data: data, MIMEType: mimeType}
		s.lastActivity = s.now()
		return s.current, nil
	}
	return imageio.Payload{}, fmt.Errorf("message %q: %w", messageID, ErrNotFound)
}

func (s *Session) newMessage(role Role, content string) Message {
	return Message{
		ID:        s.newID(),
		Content:   content,
		Role:      role,
		Timestamp: s.now(),
	}
}

func (s *Session) removeLocked(id string) {
	out := s.messages[:0]
	for _, m := range s.messages {
		if m.ID != id {
			out = append(out, m)
		}
	}
	s.messages = out
}

func textTurns(msgs []Message) []gemini.Turn {
	turns := make([]gemini.Turn, 0, len(msgs))
	for _, m := range msgs {
		if m.Loading {
			continue
		}
		turns = append(turns, gemini.Turn{Role: string(m.Role), Content: m.Content})
	}
	return turns
}
