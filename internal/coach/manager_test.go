package coach

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fanyicharllson/ai-agile-coach-scrum/internal/config"
	"github.com/fanyicharllson/ai-agile-coach-scrum/internal/models"
	"github.com/fanyicharllson/ai-agile-coach-scrum/internal/service/assistant"
	"github.com/fanyicharllson/ai-agile-coach-scrum/internal/storage"
)

type stubCoach struct {
	mu       sync.Mutex
	calls    int
	inFlight int32
	maxSeen  int32
	delay    time.Duration
	failWith error
	title    string

	// hooks
	entered chan struct{}
	block   chan struct{}
}

func (s *stubCoach) ModelName() string { return "stub" }

func (s *stubCoach) Reply(_ context.Context, history []*models.Message, userMessage string) (string, error) {
	cur := atomic.AddInt32(&s.inFlight, 1)
	defer atomic.AddInt32(&s.inFlight, -1)
	for {
		max := atomic.LoadInt32(&s.maxSeen)
		if cur <= max || atomic.CompareAndSwapInt32(&s.maxSeen, max, cur) {
			break
		}
	}
	if s.entered != nil {
		select {
		case s.entered <- struct{}{}:
		default:
		}
	}
	if s.block != nil {
		<-s.block
	}
	if s.delay > 0 {
		time.Sleep(s.delay)
	}
	if s.failWith != nil {
		return "", s.failWith
	}
	s.mu.Lock()
	s.calls++
	n := s.calls
	s.mu.Unlock()
	return fmt.Sprintf("reply %d to %q with %d prior messages", n, userMessage, len(history)), nil
}

func (s *stubCoach) Title(context.Context, []*models.Message) (string, error) {
	if s.title == "" {
		return "", errors.New("no title configured")
	}
	return s.title, nil
}

func newTestManager(t *testing.T, coach *stubCoach) (*Manager, *assistant.Service, *sql.DB) {
	t.Helper()
	cfg := &config.Config{
		Databases: map[string]config.DatabaseConfig{
			"sqlite3": {DSN: ":memory:"},
		},
	}
	db, err := storage.Open("sqlite3", cfg)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := storage.Migrate(db, "sqlite3"); err != nil {
		t.Fatalf("migrate db: %v", err)
	}
	asst := assistant.NewService(db)
	return NewManager(asst, coach, nil), asst, db
}

func registerUser(t *testing.T, asst *assistant.Service, limit int) *models.User {
	t.Helper()
	email := fmt.Sprintf("coach_%d@example.com", time.Now().UnixNano())
	user, err := asst.RegisterUser(context.Background(), email, "Coach Tester", "pass123", limit)
	if err != nil {
		t.Fatalf("register user: %v", err)
	}
	return user
}

func TestChatCreatesSessionLazily(t *testing.T) {
	stub := &stubCoach{}
	m, asst, db := newTestManager(t, stub)
	defer db.Close()

	user := registerUser(t, asst, 10)
	result, err := m.Chat(ChatRequest{UserID: user.ID, Message: "How do I run a retrospective?"})
	if err != nil {
		t.Fatalf("chat: %v", err)
	}
	if !result.IsNewSession || result.SessionID == "" {
		t.Fatalf("expected a freshly created session, got %+v", result)
	}
	if result.UserMessage.Content != "How do I run a retrospective?" {
		t.Fatalf("user message mangled: %q", result.UserMessage.Content)
	}
	if result.AssistantMessage.Metadata["model"] != "stub" {
		t.Fatalf("model metadata missing: %+v", result.AssistantMessage.Metadata)
	}

	session, err := asst.GetSession(context.Background(), result.SessionID)
	if err != nil {
		t.Fatalf("load session: %v", err)
	}
	if session.MessageCount != 2 {
		t.Fatalf("message_count = %d, want 2", session.MessageCount)
	}
	if !strings.HasPrefix(session.Title, "How do I run a retrospective?") {
		t.Fatalf("title not derived from first question: %q", session.Title)
	}
}

func TestChatRepairsVanishedSession(t *testing.T) {
	stub := &stubCoach{}
	m, asst, db := newTestManager(t, stub)
	defer db.Close()

	user := registerUser(t, asst, 10)
	result, err := m.Chat(ChatRequest{UserID: user.ID, SessionID: "gone-session-id", Message: "hello?"})
	if err != nil {
		t.Fatalf("chat: %v", err)
	}
	if !result.IsNewSession {
		t.Fatalf("expected replacement session")
	}
	if result.SessionID == "gone-session-id" {
		t.Fatalf("replacement kept the dead id")
	}
	if _, err := asst.GetSession(context.Background(), result.SessionID); err != nil {
		t.Fatalf("replacement session not persisted: %v", err)
	}
}

func TestChatRejectsExhaustedTrial(t *testing.T) {
	stub := &stubCoach{}
	m, asst, db := newTestManager(t, stub)
	defer db.Close()

	user := registerUser(t, asst, 1)
	first, err := m.Chat(ChatRequest{UserID: user.ID, Message: "first question"})
	if err != nil {
		t.Fatalf("first chat: %v", err)
	}

	_, err = m.Chat(ChatRequest{UserID: user.ID, SessionID: first.SessionID, Message: "second question"})
	if !errors.Is(err, ErrTrialLimitReached) {
		t.Fatalf("expected ErrTrialLimitReached, got %v", err)
	}

	msgs, _ := asst.GetSessionMessages(context.Background(), first.SessionID)
	if len(msgs) != 2 {
		t.Fatalf("rejected send must not persist messages, found %d", len(msgs))
	}
}

func TestChatFallsBackWhenModelFails(t *testing.T) {
	stub := &stubCoach{failWith: errors.New("upstream down")}
	m, asst, db := newTestManager(t, stub)
	defer db.Close()

	user := registerUser(t, asst, 10)
	result, err := m.Chat(ChatRequest{UserID: user.ID, Message: "anyone there?"})
	if err != nil {
		t.Fatalf("chat should succeed with a fallback answer: %v", err)
	}
	if !strings.Contains(result.AssistantMessage.Content, "trouble connecting") {
		t.Fatalf("expected fallback answer, got %q", result.AssistantMessage.Content)
	}

	msgs, _ := asst.GetSessionMessages(context.Background(), result.SessionID)
	if len(msgs) != 2 {
		t.Fatalf("fallback send must persist the pair, found %d messages", len(msgs))
	}
}

func TestChatSerializesPerUser(t *testing.T) {
	stub := &stubCoach{delay: 20 * time.Millisecond}
	m, asst, db := newTestManager(t, stub)
	defer db.Close()

	user := registerUser(t, asst, 50)
	first, err := m.Chat(ChatRequest{UserID: user.ID, Message: "warm up"})
	if err != nil {
		t.Fatalf("warm up chat: %v", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if _, err := m.Chat(ChatRequest{
				UserID:    user.ID,
				SessionID: first.SessionID,
				Message:   fmt.Sprintf("concurrent question %d", i),
			}); err != nil {
				t.Errorf("concurrent chat %d: %v", i, err)
			}
		}(i)
	}
	wg.Wait()

	if max := atomic.LoadInt32(&stub.maxSeen); max > 1 {
		t.Fatalf("model saw %d concurrent calls for one user, want 1", max)
	}
	session, _ := asst.GetSession(context.Background(), first.SessionID)
	if session.MessageCount != 10 {
		t.Fatalf("message_count = %d, want 10", session.MessageCount)
	}
}

func TestChatRepairsForeignSession(t *testing.T) {
	stub := &stubCoach{}
	m, asst, db := newTestManager(t, stub)
	defer db.Close()

	owner := registerUser(t, asst, 10)
	intruder := registerUser(t, asst, 10)
	theirs, err := m.Chat(ChatRequest{UserID: owner.ID, Message: "owner question"})
	if err != nil {
		t.Fatalf("owner chat: %v", err)
	}

	result, err := m.Chat(ChatRequest{UserID: intruder.ID, SessionID: theirs.SessionID, Message: "borrowed id"})
	if err != nil {
		t.Fatalf("chat with a foreign session id: %v", err)
	}
	if !result.IsNewSession || result.SessionID == theirs.SessionID {
		t.Fatalf("expected a replacement session, got %+v", result)
	}

	session, err := asst.GetSession(context.Background(), result.SessionID)
	if err != nil {
		t.Fatalf("load replacement: %v", err)
	}
	if session.UserID != intruder.ID {
		t.Fatalf("replacement owned by %q, want %q", session.UserID, intruder.ID)
	}
	msgs, _ := asst.GetSessionMessages(context.Background(), theirs.SessionID)
	if len(msgs) != 2 {
		t.Fatalf("foreign session transcript altered, %d messages", len(msgs))
	}
}

func TestChatTitlesSessionFromModel(t *testing.T) {
	stub := &stubCoach{title: "Sprint Planning Basics"}
	m, asst, db := newTestManager(t, stub)
	defer db.Close()

	user := registerUser(t, asst, 10)
	result, err := m.Chat(ChatRequest{UserID: user.ID, Message: "How long should planning take for a two week sprint?"})
	if err != nil {
		t.Fatalf("chat: %v", err)
	}
	session, err := asst.GetSession(context.Background(), result.SessionID)
	if err != nil {
		t.Fatalf("load session: %v", err)
	}
	if session.Title != "Sprint Planning Basics" {
		t.Fatalf("title = %q, want the generated one", session.Title)
	}
}

func TestStopIsIdempotent(t *testing.T) {
	stub := &stubCoach{}
	m, asst, db := newTestManager(t, stub)
	defer db.Close()

	user := registerUser(t, asst, 10)
	if _, err := m.Chat(ChatRequest{UserID: user.ID, Message: "seed"}); err != nil {
		t.Fatalf("chat: %v", err)
	}

	m.Stop(user.ID)
	m.Stop(user.ID)

	// a later chat gets a fresh worker
	if _, err := m.Chat(ChatRequest{UserID: user.ID, Message: "after restart"}); err != nil {
		t.Fatalf("chat after stop: %v", err)
	}
}

func TestStopReleasesPendingChats(t *testing.T) {
	stub := &stubCoach{entered: make(chan struct{}, 1), block: make(chan struct{})}
	m, asst, db := newTestManager(t, stub)
	defer db.Close()

	user := registerUser(t, asst, 10)
	first := make(chan error, 1)
	go func() {
		_, err := m.Chat(ChatRequest{UserID: user.ID, Message: "long question"})
		first <- err
	}()
	<-stub.entered

	second := make(chan error, 1)
	go func() {
		_, err := m.Chat(ChatRequest{UserID: user.ID, Message: "queued question"})
		second <- err
	}()
	time.Sleep(10 * time.Millisecond)

	m.Stop(user.ID)
	close(stub.block)

	for name, ch := range map[string]chan error{"first": first, "second": second} {
		select {
		case <-ch:
		case <-time.After(2 * time.Second):
			t.Fatalf("%s chat never returned after stop", name)
		}
	}
}

func TestPurgeDropsCachedHistory(t *testing.T) {
	stub := &stubCoach{}
	m, asst, db := newTestManager(t, stub)
	defer db.Close()

	user := registerUser(t, asst, 10)
	result, err := m.Chat(ChatRequest{UserID: user.ID, Message: "seed"})
	if err != nil {
		t.Fatalf("chat: %v", err)
	}

	state := m.getWorker(user.ID)
	if state == nil {
		t.Fatalf("worker state missing")
	}
	if _, ok := state.getHistory(result.SessionID); !ok {
		t.Fatalf("history should be cached after a send")
	}
	m.Purge(user.ID, result.SessionID)
	if _, ok := state.getHistory(result.SessionID); ok {
		t.Fatalf("purge left history in cache")
	}
}
