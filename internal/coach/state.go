package coach

import (
	"sync"

	"github.com/fanyicharllson/ai-agile-coach-scrum/internal/models"
)

type userState struct {
	mu      sync.RWMutex
	history map[string][]*models.Message

	taskCh chan chatTask
	stopCh chan struct{}
}

func newUserState() *userState {
	return &userState{
		history: make(map[string][]*models.Message),
		taskCh:  make(chan chatTask, queueLen),
		stopCh:  make(chan struct{}),
	}
}

func (s *userState) getHistory(sessionID string) ([]*models.Message, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	history, ok := s.history[sessionID]
	return history, ok
}

func (s *userState) setHistory(sessionID string, history []*models.Message) {
	s.mu.Lock()
	s.history[sessionID] = history
	s.mu.Unlock()
}

func (s *userState) appendHistory(sessionID string, msgs ...*models.Message) {
	s.mu.Lock()
	for _, msg := range msgs {
		if msg == nil {
			continue
		}
		copyMsg := *msg
		s.history[sessionID] = append(s.history[sessionID], &copyMsg)
	}
	s.mu.Unlock()
}

func (s *userState) purge(sessionID string) {
	s.mu.Lock()
	delete(s.history, sessionID)
	s.mu.Unlock()
}

func (s *userState) reset() {
	s.mu.Lock()
	s.history = make(map[string][]*models.Message)
	s.mu.Unlock()
}
