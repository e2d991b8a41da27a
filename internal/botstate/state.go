// Package botstate keeps the per-chat compositing state of the Telegram
// front-end: the two image slots, the toggles and the active chat session.
package botstate

import (
	"strings"
	"sync"
	"time"

	"euphoria-magic/internal/imageio"
	"euphoria-magic/internal/prompt"
)

// Option names used on the toggle keyboard.
const (
	OptionClothing    = "clothing"
	OptionAccessories = "accessories"
	OptionExpression  = "expression"
	OptionPose        = "pose"
)

var Options = []string{OptionClothing, OptionAccessories, OptionExpression, OptionPose}

type Slot int

const (
	SlotReference Slot = iota
	SlotSubject
)

type ChatState struct {
	Reference imageio.Payload
	Subject   imageio.Payload
	Params    prompt.Params

	// Variations are the images of the last generation, in order.
	Variations []string
	// SessionID is the chat-edit session over the picked variation.
	SessionID string

	MenuMessageID int
	AwaitingNote  bool

	// Telegram message IDs mapped to what their buttons act on.
	Proposals map[int]string
	Picks     map[int]int

	UpdatedAt time.Time
}

// AddPhoto fills the reference slot, then the subject slot. A photo sent when
// both are full starts a new pair.
func (s *ChatState) AddPhoto(p imageio.Payload) Slot {
	switch {
	case s.Reference.Empty():
		s.Reference = p
		return SlotReference
	case s.Subject.Empty():
		s.Subject = p
		return SlotSubject
	default:
		s.Reference = p
		s.Subject = imageio.Payload{}
		return SlotReference
	}
}

func (s *ChatState) SetPair(reference, subject imageio.Payload) {
	s.Reference = reference
	s.Subject = subject
}

func (s ChatState) Ready() bool {
	return !s.Reference.Empty() && !s.Subject.Empty()
}

// Toggle flips the named option and reports whether the name was known.
func (s *ChatState) Toggle(option string) bool {
	switch option {
	case OptionClothing:
		s.Params.PreserveClothing = !s.Params.PreserveClothing
	case OptionAccessories:
		s.Params.PreserveAccessories = !s.Params.PreserveAccessories
	case OptionExpression:
		s.Params.PreserveExpression = !s.Params.PreserveExpression
	case OptionPose:
		s.Params.CopyPose = !s.Params.CopyPose
	default:
		return false
	}
	return true
}

func (s ChatState) Enabled(option string) bool {
	switch option {
	case OptionClothing:
		return s.Params.PreserveClothing
	case OptionAccessories:
		return s.Params.PreserveAccessories
	case OptionExpression:
		return s.Params.PreserveExpression
	case OptionPose:
		return s.Params.CopyPose
	}
	return false
}

func (s *ChatState) SetNote(note string) {
	s.Params.CustomInstructions = strings.TrimSpace(note)
	s.AwaitingNote = false
}

func (s *ChatState) TrackProposal(telegramMsgID int, sessionMsgID string) {
	if s.Proposals == nil {
		s.Proposals = make(map[int]string)
	}
	s.Proposals[telegramMsgID] = sessionMsgID
}

func (s *ChatState) TrackPick(telegramMsgID, variation int) {
	if s.Picks == nil {
		s.Picks = make(map[int]int)
	}
	s.Picks[telegramMsgID] = variation
}

// StartGeneration records a fresh set of variations. Old buttons stop
// working because the session they pointed at is gone.
func (s *ChatState) StartGeneration(images []string, sessionID string) {
	s.Variations = append([]string(nil), images...)
	s.SessionID = sessionID
	s.Proposals = nil
	s.Picks = nil
}

type Store struct {
	mu sync.Mutex
	m  map[stateKey]*ChatState
}

type stateKey struct {
	ChatID int64
	UserID int64
}

func NewStore() *Store {
	return &Store{m: make(map[stateKey]*ChatState)}
}

func (s *Store) Get(chatID, userID int64) ChatState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getOrCreateLocked(chatID, userID).clone()
}

func (s *Store) Update(chatID, userID int64, fn func(*ChatState)) ChatState {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.getOrCreateLocked(chatID, userID)
	if fn != nil {
		fn(st)
	}
	st.UpdatedAt = time.Now()
	return st.clone()
}

func (s *Store) Reset(chatID, userID int64) ChatState {
	return s.Update(chatID, userID, func(st *ChatState) {
		*st = ChatState{}
	})
}

func (s *Store) getOrCreateLocked(chatID, userID int64) *ChatState {
	key := stateKey{ChatID: chatID, UserID: userID}
	if st, ok := s.m[key]; ok {
		return st
	}
	st := &ChatState{UpdatedAt: time.Now()}
	s.m[key] = st
	return st
}

func (s *ChatState) clone() ChatState {
	out := *s
	out.Variations = append([]string(nil), s.Variations...)
	if s.Proposals != nil {
		out.Proposals = make(map[int]string, len(s.Proposals))
		for k, v := range s.Proposals {
			out.Proposals[k] = v
		}
	}
	if s.Picks != nil {
		out.Picks = make(map[int]int, len(s.Picks))
		for k, v := range s.Picks {
			out.Picks[k] = v
		}
	}
	return out
}
