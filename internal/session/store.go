package session

import (
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"euphoria-magic/internal/imageio"
	"euphoria-magic/internal/prompt"
)

type Options struct {
	Editor Editor
	Roles  prompt.Roles
	Now    func() time.Time
	NewID  func() string
	Logger *slog.Logger
}

type Store struct {
	mu       sync.Mutex
	sessions map[string]*Session

	editor Editor
	roles  prompt.Roles
	now    func() time.Time
	newID  func() string
	logger *slog.Logger
}

func NewStore(opts Options) *Store {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	newID := opts.NewID
	if newID == nil {
		newID = uuid.NewString
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	return &Store{
		sessions: make(map[string]*Session),
		editor:   opts.Editor,
		roles:    opts.Roles,
		now:      now,
		newID:    newID,
		logger:   logger,
	}
}

// Create starts a session whose current image is the given image.
func (s *Store) Create(image imageio.Payload, params prompt.Params) (*Session, error) {
	if image.Empty() {
		return nil, errors.New("session needs a current image")
	}

	sess := &Session{
		ID:           s.newID(),
		editor:       s.editor,
		roles:        s.roles,
		now:          s.now,
		newID:        s.newID,
		logger:       s.logger,
		current:      image,
		params:       params,
		lastActivity: s.now(),
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[sess.ID] = sess
	return sess, nil
}

func (s *Store) Get(id string) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return sess, nil
}

func (s *Store) Delete(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, id)
}

// Prune drops idle sessions that have not been touched for maxIdle.
func (s *Store) Prune(maxIdle time.Duration) int {
	cutoff := s.now().Add(-maxIdle)

	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for id, sess := range s.sessions {
		sess.mu.Lock()
		idle := !sess.busy && sess.lastActivity.Before(cutoff)
		sess.mu.Unlock()
		if idle {
			delete(s.sessions, id)
			n++
		}
	}
	return n
}

func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}
