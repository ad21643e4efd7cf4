package chat

import (
	"sync"
	"time"
)

// Message is the client-side view of one transcript entry.
type Message struct {
	ID        string    `json:"id"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
	IsEdited  bool      `json:"isEdited"`

	// Pending marks an optimistic entry the server has not confirmed yet.
	Pending bool `json:"-"`
}

// Store holds the transcript state a chat client renders. All access is
// serialized; a background refresh never tramples an in-flight send.
type Store struct {
	mu            sync.Mutex
	sessionID     string
	messages      []Message
	sending       bool
	hasOptimistic bool

	// sendSeq numbers send attempts so flag updates from a send that
	// outlived a Clear cannot touch a successor's slot.
	sendSeq int
}

func NewStore() *Store {
	return &Store{}
}

func (s *Store) SessionID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessionID
}

// Bind points the store at a session without touching the transcript.
func (s *Store) Bind(sessionID string) {
	s.mu.Lock()
	s.sessionID = sessionID
	s.mu.Unlock()
}

// Messages returns a copy of the transcript in order.
func (s *Store) Messages() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Message, len(s.messages))
	copy(out, s.messages)
	return out
}

func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.messages)
}

func (s *Store) IsSending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sending
}

func (s *Store) Append(msg Message) {
	s.mu.Lock()
	s.messages = append(s.messages, msg)
	s.mu.Unlock()
}

// ReplaceByID swaps the message with the given id for its confirmed form.
// It reports whether the id was still present.
func (s *Store) ReplaceByID(id string, msg Message) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.replaceLocked(id, msg)
}

func (s *Store) replaceLocked(id string, msg Message) bool {
	for i := range s.messages {
		if s.messages[i].ID == id {
			s.messages[i] = msg
			return true
		}
	}
	return false
}

func (s *Store) RemoveByID(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.removeLocked(id)
}

func (s *Store) removeLocked(id string) bool {
	for i := range s.messages {
		if s.messages[i].ID == id {
			s.messages = append(s.messages[:i], s.messages[i+1:]...)
			return true
		}
	}
	return false
}

// ApplySendResult reconciles a resolved send against the session it was
// posted to. While the store still shows that session, the provisional
// entry is swapped for its confirmed form (re-added when a clear dropped
// it), the reply is appended, and the binding moves to rebindTo when the
// server replaced a vanished session. When the store was cleared or bound
// to a different session mid-flight, the whole result is dropped apart
// from removing a stray provisional entry; the exchange is persisted
// server-side and arrives with that session's next refresh.
func (s *Store) ApplySendResult(sentSessionID, provisionalID string, confirmed, reply Message, rebindTo string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sessionID != sentSessionID {
		s.removeLocked(provisionalID)
		return false
	}
	if !s.replaceLocked(provisionalID, confirmed) {
		s.messages = append(s.messages, confirmed)
	}
	s.messages = append(s.messages, reply)
	if rebindTo != "" {
		s.sessionID = rebindTo
	}
	return true
}

// TruncateFrom drops the message with the given id and everything after it,
// returning the removed entries. Used when an earlier message is edited and
// the tail of the conversation is replayed.
func (s *Store) TruncateFrom(id string) []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.messages {
		if s.messages[i].ID == id {
			removed := make([]Message, len(s.messages)-i)
			copy(removed, s.messages[i:])
			s.messages = s.messages[:i]
			return removed
		}
	}
	return nil
}

func (s *Store) Clear() {
	s.mu.Lock()
	s.sessionID = ""
	s.messages = nil
	s.sending = false
	s.hasOptimistic = false
	s.mu.Unlock()
}

// ApplyRefresh replaces the transcript with a server snapshot. The snapshot
// is dropped when a send is unresolved, when it belongs to a different
// session, or when it holds no more messages than the client already shows.
// The last rule stops a stale read from erasing a just-confirmed exchange.
func (s *Store) ApplyRefresh(sessionID string, msgs []Message) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sending || s.hasOptimistic {
		return false
	}
	if s.sessionID != "" && sessionID != s.sessionID {
		return false
	}
	if len(msgs) <= len(s.messages) {
		return false
	}
	s.sessionID = sessionID
	s.messages = make([]Message, len(msgs))
	copy(s.messages, msgs)
	return true
}

func (s *Store) beginSend() (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sending {
		return 0, false
	}
	s.sendSeq++
	s.sending = true
	s.hasOptimistic = true
	return s.sendSeq, true
}

func (s *Store) finishSend(seq int) {
	s.mu.Lock()
	if s.sendSeq == seq {
		s.sending = false
	}
	s.mu.Unlock()
}

func (s *Store) settle(seq int) {
	s.mu.Lock()
	if s.sendSeq == seq {
		s.hasOptimistic = false
	}
	s.mu.Unlock()
}

func (s *Store) abortSend(seq int) {
	s.mu.Lock()
	if s.sendSeq == seq {
		s.sending = false
		s.hasOptimistic = false
	}
	s.mu.Unlock()
}
