package chat

import (
	"testing"
	"time"
)

func snapshot(n int) []Message {
	msgs := make([]Message, n)
	for i := range msgs {
		msgs[i] = Message{ID: string(rune('a' + i)), Role: "user", Content: "m", Timestamp: time.Now()}
	}
	return msgs
}

func TestApplyRefreshRequiresStrictlyMore(t *testing.T) {
	store := NewStore()
	store.Bind("s1")
	store.Append(Message{ID: "1", Role: "user", Content: "hi"})
	store.Append(Message{ID: "2", Role: "assistant", Content: "hello"})

	if store.ApplyRefresh("s1", snapshot(2)) {
		t.Fatalf("equal-length snapshot must be dropped")
	}
	if store.ApplyRefresh("s1", snapshot(1)) {
		t.Fatalf("shorter snapshot must be dropped")
	}
	if !store.ApplyRefresh("s1", snapshot(3)) {
		t.Fatalf("longer snapshot must be applied")
	}
	if store.Len() != 3 {
		t.Fatalf("transcript length = %d, want 3", store.Len())
	}
}

func TestApplyRefreshIgnoredWhileUnresolved(t *testing.T) {
	store := NewStore()
	store.Bind("s1")
	seq, ok := store.beginSend()
	if !ok {
		t.Fatalf("beginSend failed on idle store")
	}
	if store.ApplyRefresh("s1", snapshot(5)) {
		t.Fatalf("refresh must be dropped while sending")
	}
	store.finishSend(seq)
	// optimistic flag still raised until the settle delay passes
	if store.ApplyRefresh("s1", snapshot(5)) {
		t.Fatalf("refresh must be dropped while optimistic flag is raised")
	}
	store.settle(seq)
	if !store.ApplyRefresh("s1", snapshot(5)) {
		t.Fatalf("refresh must apply once settled")
	}
}

func TestApplyRefreshRejectsOtherSession(t *testing.T) {
	store := NewStore()
	store.Bind("s1")
	if store.ApplyRefresh("s2", snapshot(4)) {
		t.Fatalf("snapshot for another session must be dropped")
	}
}

func TestBeginSendIsSingleSlot(t *testing.T) {
	store := NewStore()
	seq, ok := store.beginSend()
	if !ok {
		t.Fatalf("first beginSend should win the slot")
	}
	if _, ok := store.beginSend(); ok {
		t.Fatalf("second beginSend should lose the slot")
	}
	store.abortSend(seq)
	if _, ok := store.beginSend(); !ok {
		t.Fatalf("slot should free after abort")
	}
}

func TestStaleSendFlagsCannotTouchSuccessor(t *testing.T) {
	store := NewStore()
	stale, _ := store.beginSend()
	store.Clear()

	next, ok := store.beginSend()
	if !ok {
		t.Fatalf("slot should free after clear")
	}
	store.finishSend(stale)
	store.settle(stale)
	if !store.IsSending() {
		t.Fatalf("stale flags released the successor's slot")
	}
	store.finishSend(next)
	store.settle(next)
	if store.IsSending() {
		t.Fatalf("successor could not release its own slot")
	}
}

func TestApplySendResultScopedToSentSession(t *testing.T) {
	store := NewStore()
	store.Bind("s1")
	store.Append(Message{ID: "local-1", Role: "user", Content: "question", Pending: true})

	confirmed := Message{ID: "srv-1", Role: "user", Content: "question"}
	reply := Message{ID: "srv-2", Role: "assistant", Content: "answer"}

	// the store moved on; the late result must not land here
	store.Clear()
	store.Bind("s2")
	store.Append(Message{ID: "b1", Role: "user", Content: "other question"})
	if store.ApplySendResult("s1", "local-1", confirmed, reply, "") {
		t.Fatalf("result for another session must be dropped")
	}
	msgs := store.Messages()
	if len(msgs) != 1 || msgs[0].ID != "b1" {
		t.Fatalf("foreign transcript touched: %+v", msgs)
	}

	// bound to the sent session, the result applies and rebinds
	store.Clear()
	store.Bind("s1")
	store.Append(Message{ID: "local-1", Role: "user", Content: "question", Pending: true})
	if !store.ApplySendResult("s1", "local-1", confirmed, reply, "s1-replacement") {
		t.Fatalf("result for the sent session must apply")
	}
	msgs = store.Messages()
	if len(msgs) != 2 || msgs[0].ID != "srv-1" || msgs[1].ID != "srv-2" {
		t.Fatalf("exchange not reconciled: %+v", msgs)
	}
	if store.SessionID() != "s1-replacement" {
		t.Fatalf("rebind skipped, bound to %q", store.SessionID())
	}
}

func TestTruncateFrom(t *testing.T) {
	store := NewStore()
	store.Append(Message{ID: "1"})
	store.Append(Message{ID: "2"})
	store.Append(Message{ID: "3"})

	removed := store.TruncateFrom("2")
	if len(removed) != 2 || removed[0].ID != "2" || removed[1].ID != "3" {
		t.Fatalf("unexpected removed tail: %+v", removed)
	}
	if store.Len() != 1 {
		t.Fatalf("transcript length = %d after truncate, want 1", store.Len())
	}

	if removed := store.TruncateFrom("missing"); removed != nil {
		t.Fatalf("unknown id should remove nothing, got %+v", removed)
	}
}

func TestReplaceByID(t *testing.T) {
	store := NewStore()
	store.Append(Message{ID: "local-1", Content: "draft", Pending: true})

	if !store.ReplaceByID("local-1", Message{ID: "srv-9", Content: "draft"}) {
		t.Fatalf("replace should find the provisional entry")
	}
	msgs := store.Messages()
	if msgs[0].ID != "srv-9" || msgs[0].Pending {
		t.Fatalf("confirmed message wrong: %+v", msgs[0])
	}
	if store.ReplaceByID("local-1", Message{}) {
		t.Fatalf("replaced id should no longer match")
	}
}
