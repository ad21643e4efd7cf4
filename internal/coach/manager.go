package coach

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"sync"

	"github.com/fanyicharllson/ai-agile-coach-scrum/internal/models"
	"github.com/fanyicharllson/ai-agile-coach-scrum/internal/redis"
	"github.com/fanyicharllson/ai-agile-coach-scrum/internal/service/ai"
	"github.com/fanyicharllson/ai-agile-coach-scrum/internal/service/assistant"
)

const queueLen = 16

// ErrTrialLimitReached reports that the user spent their free messages.
var ErrTrialLimitReached = errors.New("trial limit reached")

// ErrWorkerStopped reports that the user's worker shut down before the
// queued send could run.
var ErrWorkerStopped = errors.New("coach worker stopped")

type ChatRequest struct {
	Context   context.Context
	UserID    string
	SessionID string
	Message   string
}

type ChatResult struct {
	UserMessage      *models.Message
	AssistantMessage *models.Message
	SessionID        string
	IsNewSession     bool
}

type chatTask struct {
	req      ChatRequest
	resultCh chan chatReturn
}

type chatReturn struct {
	result *ChatResult
	err    error
}

// Manager runs one worker goroutine per user so that a user's coach
// calls and pair writes happen strictly in order. Transcripts are
// cached in memory and in redis between sends.
type Manager struct {
	assistant *assistant.Service
	coach     ai.Coach
	cache     *historyCache

	mu      sync.Mutex
	workers map[string]*userState
}

func NewManager(asst *assistant.Service, coach ai.Coach, rdb *redis.Client) *Manager {
	m := &Manager{
		assistant: asst,
		coach:     coach,
		cache:     newHistoryCache(rdb),
		workers:   make(map[string]*userState),
	}
	m.cache.startListener(func(inv invalidateMessage) {
		if state := m.getWorker(inv.UserID); state != nil {
			if inv.SessionID == "" {
				state.reset()
			} else {
				state.purge(inv.SessionID)
			}
		}
	})
	return m
}

// Chat queues one send on the user's worker and waits for the outcome.
func (m *Manager) Chat(req ChatRequest) (*ChatResult, error) {
	state := m.ensureWorker(req.UserID)

	resultCh := make(chan chatReturn, 1)
	select {
	case state.taskCh <- chatTask{req: req, resultCh: resultCh}:
	case <-state.stopCh:
		return nil, ErrWorkerStopped
	default:
		return nil, errors.New("coach queue full")
	}

	select {
	case ret := <-resultCh:
		return ret.result, ret.err
	case <-state.stopCh:
		// the worker drains its queue on the way out; give a reply
		// written during that drain precedence over the shutdown
		select {
		case ret := <-resultCh:
			return ret.result, ret.err
		default:
			return nil, ErrWorkerStopped
		}
	}
}

// Purge drops cached transcript state for a session, locally and on peers.
func (m *Manager) Purge(userID, sessionID string) {
	if state := m.getWorker(userID); state != nil {
		state.purge(sessionID)
	}
	m.cache.invalidate(sessionID)
	m.cache.publishInvalidation(invalidateMessage{UserID: userID, SessionID: sessionID})
}

// Stop shuts down the user's worker if one is running. The entry leaves
// the map here, so a second Stop finds nothing and the channel is closed
// exactly once per worker.
func (m *Manager) Stop(userID string) {
	m.mu.Lock()
	state, ok := m.workers[userID]
	if ok {
		delete(m.workers, userID)
	}
	m.mu.Unlock()

	if ok {
		state.reset()
		close(state.stopCh)
	}
}

func (m *Manager) ensureWorker(userID string) *userState {
	m.mu.Lock()
	defer m.mu.Unlock()

	if state, ok := m.workers[userID]; ok {
		return state
	}
	state := newUserState()
	m.workers[userID] = state
	go m.runWorker(userID, state)
	return state
}

func (m *Manager) getWorker(userID string) *userState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.workers[userID]
}

func (m *Manager) runWorker(userID string, state *userState) {
	defer func() {
		m.mu.Lock()
		// a replacement worker may already occupy the slot
		if m.workers[userID] == state {
			delete(m.workers, userID)
		}
		m.mu.Unlock()
	}()

	for {
		select {
		case <-state.stopCh:
			m.drainTasks(state)
			log.Printf("coach worker for user %s stopped", userID)
			return
		case task := <-state.taskCh:
			result, err := m.handleChat(task.req, state)
			task.resultCh <- chatReturn{result: result, err: err}
		}
	}
}

// drainTasks answers every send still queued on a stopping worker so no
// caller is left waiting.
func (m *Manager) drainTasks(state *userState) {
	for {
		select {
		case task := <-state.taskCh:
			task.resultCh <- chatReturn{err: ErrWorkerStopped}
		default:
			return
		}
	}
}

func (m *Manager) handleChat(req ChatRequest, state *userState) (*ChatResult, error) {
	ctx := req.Context
	if ctx == nil {
		ctx = context.Background()
	}

	user, err := m.assistant.GetUser(ctx, req.UserID)
	if err != nil {
		return nil, fmt.Errorf("load user: %w", err)
	}
	if user.TrialStatus().HasReachedLimit {
		return nil, ErrTrialLimitReached
	}

	session, isNew, err := m.ensureSession(ctx, req)
	if err != nil {
		return nil, err
	}

	history := m.sessionHistory(ctx, state, session)

	reply, err := m.coach.Reply(ctx, history, req.Message)
	if err != nil {
		log.Printf("coach reply for session %s failed: %v", session.ID, err)
		reply = ai.FallbackReply
	}

	pair, err := m.assistant.CreateMessagePair(ctx, session.ID, req.Message, reply,
		map[string]string{"model": m.coach.ModelName()})
	if err != nil {
		return nil, fmt.Errorf("persist message pair: %w", err)
	}

	state.appendHistory(session.ID, pair.UserMessage, pair.AssistantMessage)
	if cached, ok := state.getHistory(session.ID); ok {
		m.cache.store(session.ID, cached)
	}

	// first exchange names the session
	if session.MessageCount == 0 {
		m.nameSession(ctx, session.ID, pair)
	}

	return &ChatResult{
		UserMessage:      pair.UserMessage,
		AssistantMessage: pair.AssistantMessage,
		SessionID:        session.ID,
		IsNewSession:     isNew,
	}, nil
}

// nameSession titles a fresh session: the first user message provides the
// truncated default, and a configured model may replace it with a
// generated title. Model failures keep the derived title.
func (m *Manager) nameSession(ctx context.Context, sessionID string, pair *assistant.MessagePair) {
	if _, err := m.assistant.DeriveSessionTitle(ctx, sessionID); err != nil {
		log.Printf("derive title for session %s failed: %v", sessionID, err)
	}
	title, err := m.coach.Title(ctx, []*models.Message{pair.UserMessage, pair.AssistantMessage})
	if err != nil || title == "" {
		return
	}
	if _, err := m.assistant.UpdateSession(ctx, sessionID, assistant.SessionUpdate{Title: &title}); err != nil {
		log.Printf("set generated title for session %s failed: %v", sessionID, err)
	}
}

// ensureSession resolves the target session, creating a replacement when
// the client holds an id that no longer exists. A session owned by another
// user is treated the same as a missing one, matching a lookup scoped to
// the caller.
func (m *Manager) ensureSession(ctx context.Context, req ChatRequest) (*models.Session, bool, error) {
	if req.SessionID != "" {
		session, err := m.assistant.GetSession(ctx, req.SessionID)
		if err == nil && (session.UserID == "" || session.UserID == req.UserID) {
			return session, false, nil
		}
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return nil, false, fmt.Errorf("load session: %w", err)
		}
		log.Printf("session %s not found for user, creating a replacement", req.SessionID)
	}

	session, err := m.assistant.CreateSession(ctx, req.UserID, "", "")
	if err != nil {
		return nil, false, fmt.Errorf("create session: %w", err)
	}
	return session, true, nil
}

func (m *Manager) sessionHistory(ctx context.Context, state *userState, session *models.Session) []*models.Message {
	if history, ok := state.getHistory(session.ID); ok {
		return history
	}
	if history, ok := m.cache.load(session.ID); ok {
		state.setHistory(session.ID, history)
		return history
	}
	history, err := m.assistant.GetSessionMessages(ctx, session.ID)
	if err != nil {
		log.Printf("load history for session %s failed: %v", session.ID, err)
		return nil
	}
	state.setHistory(session.ID, history)
	return history
}
