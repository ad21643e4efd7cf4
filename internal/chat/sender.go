package chat

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/fanyicharllson/ai-agile-coach-scrum/internal/models"
)

// SendResult is the server's answer to one chat send.
type SendResult struct {
	Reply         string
	SessionID     string
	MessageID     string
	UserMessageID string
	IsNewSession  bool
}

// Backend is the server surface the sender drives. The HTTP implementation
// lives in this package; tests substitute their own.
type Backend interface {
	SendMessage(ctx context.Context, sessionID, message string) (*SendResult, error)
	CreateSession(ctx context.Context, title string) (string, error)
	History(ctx context.Context, sessionID string) ([]Message, error)
	UpdateMessage(ctx context.Context, messageID, content string) error
	DeleteMessage(ctx context.Context, messageID string) error
	TrialStatus(ctx context.Context) (*models.TrialStatus, error)
}

// DefaultSettleDelay keeps the optimistic flag raised briefly after a send
// resolves, so a refresh racing the confirmation cannot clip the transcript.
const DefaultSettleDelay = 500 * time.Millisecond

// Sender runs the optimistic send protocol against a Store: append the user
// message immediately, create the session lazily, send, then reconcile the
// provisional entry with the server's ids. One send at a time per Sender.
type Sender struct {
	store       *Store
	backend     Backend
	settleDelay time.Duration
}

func NewSender(store *Store, backend Backend) *Sender {
	return &Sender{
		store:       store,
		backend:     backend,
		settleDelay: DefaultSettleDelay,
	}
}

func (s *Sender) Store() *Store { return s.store }

// Send runs one exchange. The returned error is ErrSendInFlight when a
// previous send has not resolved, ErrTrialExhausted when the allowance is
// spent, and ErrEmptyMessage for blank input.
func (s *Sender) Send(ctx context.Context, text string) (*SendResult, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, ErrEmptyMessage
	}

	if status, err := s.backend.TrialStatus(ctx); err == nil && status.HasReachedLimit {
		return nil, ErrTrialExhausted
	}

	seq, ok := s.store.beginSend()
	if !ok {
		return nil, ErrSendInFlight
	}

	provisionalID := "local-" + uuid.NewString()
	s.store.Append(Message{
		ID:        provisionalID,
		Role:      "user",
		Content:   text,
		Timestamp: time.Now(),
		Pending:   true,
	})

	sentSessionID, result, err := s.resolveAndSend(ctx, text)
	if err != nil {
		s.store.RemoveByID(provisionalID)
		s.store.abortSend(seq)
		return nil, err
	}

	confirmed := Message{
		ID:        result.UserMessageID,
		Role:      "user",
		Content:   text,
		Timestamp: time.Now(),
	}
	reply := Message{
		ID:        result.MessageID,
		Role:      "assistant",
		Content:   result.Reply,
		Timestamp: time.Now(),
	}
	// rebind only when the server replaced a vanished session
	rebindTo := ""
	if result.IsNewSession && result.SessionID != "" {
		rebindTo = result.SessionID
	}
	if !s.store.ApplySendResult(sentSessionID, provisionalID, confirmed, reply, rebindTo) {
		// the user moved to another conversation while the call was in
		// flight; the server already holds the pair under the old session
		s.store.abortSend(seq)
		return result, nil
	}

	s.store.finishSend(seq)
	if s.settleDelay > 0 {
		time.AfterFunc(s.settleDelay, func() { s.store.settle(seq) })
	} else {
		s.store.settle(seq)
	}
	return result, nil
}

// resolveAndSend binds a session if none exists yet, then posts the message
// against the id captured before the call. The captured id is returned so
// the caller can scope its reconciliation to it.
func (s *Sender) resolveAndSend(ctx context.Context, text string) (string, *SendResult, error) {
	sessionID := s.store.SessionID()
	if sessionID == "" {
		created, err := s.backend.CreateSession(ctx, "")
		if err != nil {
			return "", nil, err
		}
		s.store.Bind(created)
		sessionID = created
	}
	result, err := s.backend.SendMessage(ctx, sessionID, text)
	return sessionID, result, err
}

// EditAndResend rewrites an earlier user message: everything from that
// message onward is discarded, the originals are deleted server-side, and
// the new content is sent as a fresh exchange.
func (s *Sender) EditAndResend(ctx context.Context, messageID, newContent string) (*SendResult, error) {
	newContent = strings.TrimSpace(newContent)
	if newContent == "" {
		return nil, ErrEmptyMessage
	}
	if s.store.IsSending() {
		return nil, ErrSendInFlight
	}

	removed := s.store.TruncateFrom(messageID)
	for _, msg := range removed {
		if msg.Pending {
			continue
		}
		// failures reconcile on the next refresh
		_ = s.backend.DeleteMessage(ctx, msg.ID)
	}
	return s.Send(ctx, newContent)
}

// Refresh pulls the server transcript and applies it under the store's
// staleness rules.
func (s *Sender) Refresh(ctx context.Context) (bool, error) {
	sessionID := s.store.SessionID()
	if sessionID == "" {
		return false, ErrNoSession
	}
	msgs, err := s.backend.History(ctx, sessionID)
	if err != nil {
		return false, err
	}
	return s.store.ApplyRefresh(sessionID, msgs), nil
}
