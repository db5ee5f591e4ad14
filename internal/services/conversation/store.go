package conversation

import (
	"sync"

	"github.com/kirillgpt-bot-go/internal/models"
)

// history is one user's turns, guarded by that user's lock
type history struct {
	mu    sync.Mutex
	turns []models.Turn
}

// Store keeps a bounded conversation history per user. Each user has an
// exclusive lock created on first reference and never removed; different
// users never contend with each other.
type Store struct {
	maxHistory int

	mu    sync.RWMutex // guards the users map only
	users map[int64]*history
}

// NewStore creates a store keeping at most maxHistory turns per user
func NewStore(maxHistory int) *Store {
	return &Store{
		maxHistory: maxHistory,
		users:      make(map[int64]*history),
	}
}

// Append adds a turn, trims to the cap and returns a copy of the history
func (s *Store) Append(userID int64, turn models.Turn) []models.Turn {
	h := s.get(userID)
	h.mu.Lock()
	defer h.mu.Unlock()

	s.appendLocked(h, turn)
	return cloneTurns(h.turns)
}

// AppendAndRender adds a turn and renders the trimmed history while still
// holding the user's lock. render must not block or call back into the store.
func (s *Store) AppendAndRender(userID int64, turn models.Turn, render func([]models.Turn) string) string {
	h := s.get(userID)
	h.mu.Lock()
	defer h.mu.Unlock()

	s.appendLocked(h, turn)
	return render(h.turns)
}

// History returns a copy of the user's turns, oldest first
func (s *Store) History(userID int64) []models.Turn {
	s.mu.RLock()
	h, ok := s.users[userID]
	s.mu.RUnlock()
	if !ok {
		return nil
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	return cloneTurns(h.turns)
}

// Clear drops the user's history. Clearing an unknown user is a no-op.
func (s *Store) Clear(userID int64) {
	s.mu.RLock()
	h, ok := s.users[userID]
	s.mu.RUnlock()
	if !ok {
		return
	}

	h.mu.Lock()
	h.turns = nil
	h.mu.Unlock()
}

// Users returns how many users have been seen
func (s *Store) Users() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.users)
}

func (s *Store) appendLocked(h *history, turn models.Turn) {
	h.turns = append(h.turns, turn)
	if s.maxHistory > 0 && len(h.turns) > s.maxHistory {
		// Copy so the evicted prefix can be collected.
		h.turns = cloneTurns(h.turns[len(h.turns)-s.maxHistory:])
	}
}

func (s *Store) get(userID int64) *history {
	s.mu.RLock()
	h, ok := s.users[userID]
	s.mu.RUnlock()
	if ok {
		return h
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if h, ok := s.users[userID]; ok {
		return h
	}
	h = &history{}
	s.users[userID] = h
	return h
}

func cloneTurns(turns []models.Turn) []models.Turn {
	if turns == nil {
		return nil
	}
	out := make([]models.Turn, len(turns))
	copy(out, turns)
	return out
}
