package reconcile

import (
	"testing"

	"support-inbox-backend/internal/model"
	"support-inbox-backend/internal/realtime"
)

func messageChange(kind realtime.ChangeKind, message model.MessageItem) realtime.ChangeEvent {
	return realtime.ChangeEvent{
		Kind:           kind,
		Table:          realtime.TableMessages,
		ConversationID: message.ConversationID,
		Message:        &message,
	}
}

func TestOptimisticSendConfirmThenEchoRendersOnce(t *testing.T) {
	view := NewView("p1_c1", nil)

	localID := NewLocalID()
	if err := view.AddOptimistic(localID, "a1", "Ann", "Hello", 1000); err != nil {
		t.Fatalf("add optimistic: %v", err)
	}

	if state, ok := view.PendingState(localID); !ok || state != SendPending {
		t.Fatalf("state = %v %v, want pending", state, ok)
	}
	if got := len(view.Messages()); got != 1 {
		t.Fatalf("visible messages = %d, want 1", got)
	}

	view.Confirm(localID, "mid-1")

	if state, _ := view.PendingState(localID); state != SendConfirmed {
		t.Fatalf("state after confirm = %v", state)
	}

	// Canonical echo arrives over the bus, twice.
	echo := model.MessageItem{
		MessageID:      "mid-1",
		ConversationID: "p1_c1",
		SenderID:       "a1",
		Body:           "Hello",
		Timestamp:      1002,
		Direction:      model.DirectionOutgoing,
	}
	view.ApplyChange(messageChange(realtime.ChangeInsert, echo))
	view.ApplyChange(messageChange(realtime.ChangeInsert, echo))

	messages := view.Messages()
	if len(messages) != 1 {
		t.Fatalf("visible messages = %d, want 1 (no double bubble)", len(messages))
	}
	if messages[0].MessageID != "mid-1" {
		t.Fatalf("surviving id = %q, want the canonical mid", messages[0].MessageID)
	}
}

func TestEchoArrivingBeforeConfirmMatchesPendingEntry(t *testing.T) {
	view := NewView("p1_c1", nil)

	localID := NewLocalID()
	if err := view.AddOptimistic(localID, "a1", "Ann", "Hello", 1000); err != nil {
		t.Fatalf("add optimistic: %v", err)
	}

	// The echo outran the send response: different id, same body, close
	// timestamp.
	echo := model.MessageItem{
		MessageID:      "mid-1",
		ConversationID: "p1_c1",
		SenderID:       "a1",
		Body:           "Hello",
		Timestamp:      1500,
		Direction:      model.DirectionOutgoing,
	}
	view.ApplyChange(messageChange(realtime.ChangeInsert, echo))

	messages := view.Messages()
	if len(messages) != 1 {
		t.Fatalf("visible messages = %d, want 1", len(messages))
	}
	if messages[0].MessageID != "mid-1" {
		t.Fatalf("surviving id = %q", messages[0].MessageID)
	}
	if state, _ := view.PendingState(localID); state != SendConfirmed {
		t.Fatalf("pending state = %v, want confirmed", state)
	}

	// The late Confirm with the same mid must not resurrect the local entry.
	view.Confirm(localID, "mid-1")
	if got := len(view.Messages()); got != 1 {
		t.Fatalf("visible messages after late confirm = %d, want 1", got)
	}
}

func TestEchoOutsideMatchWindowIsSeparateMessage(t *testing.T) {
	view := NewView("p1_c1", nil)

	localID := NewLocalID()
	if err := view.AddOptimistic(localID, "a1", "Ann", "Hello", 1000); err != nil {
		t.Fatalf("add optimistic: %v", err)
	}

	// Same body but far outside the proximity window: a genuinely different
	// send, perhaps from another device.
	other := model.MessageItem{
		MessageID:      "mid-9",
		ConversationID: "p1_c1",
		SenderID:       "a1",
		Body:           "Hello",
		Timestamp:      1000 + echoMatchWindow + 1,
		Direction:      model.DirectionOutgoing,
	}
	view.ApplyChange(messageChange(realtime.ChangeInsert, other))

	if got := len(view.Messages()); got != 2 {
		t.Fatalf("visible messages = %d, want 2", got)
	}
	if state, _ := view.PendingState(localID); state != SendPending {
		t.Fatalf("pending state = %v, want still pending", state)
	}
}

func TestFailRemovesOptimisticEntry(t *testing.T) {
	view := NewView("p1_c1", nil)

	localID := NewLocalID()
	if err := view.AddOptimistic(localID, "a1", "Ann", "Hello", 1000); err != nil {
		t.Fatalf("add optimistic: %v", err)
	}

	view.Fail(localID)

	if got := len(view.Messages()); got != 0 {
		t.Fatalf("visible messages after fail = %d, want 0", got)
	}
	if state, ok := view.PendingState(localID); !ok || state != SendFailed {
		t.Fatalf("state = %v %v, want failed", state, ok)
	}

	// Terminal states are sticky.
	view.Confirm(localID, "mid-1")
	if state, _ := view.PendingState(localID); state != SendFailed {
		t.Fatalf("confirm after fail changed state to %v", state)
	}
}

func TestAddOptimisticRejectsDuplicateLocalID(t *testing.T) {
	view := NewView("p1_c1", nil)

	localID := NewLocalID()
	if err := view.AddOptimistic(localID, "a1", "Ann", "Hello", 1000); err != nil {
		t.Fatalf("add optimistic: %v", err)
	}
	if err := view.AddOptimistic(localID, "a1", "Ann", "Hello again", 1001); err != ErrDuplicatePending {
		t.Fatalf("duplicate local id error = %v", err)
	}
}

func TestApplyChangeIgnoresOtherConversations(t *testing.T) {
	view := NewView("p1_c1", nil)

	view.ApplyChange(messageChange(realtime.ChangeInsert, model.MessageItem{
		MessageID:      "m1",
		ConversationID: "p1_c2",
		Body:           "wrong room",
		Timestamp:      1000,
	}))

	if got := len(view.Messages()); got != 0 {
		t.Fatalf("visible messages = %d, want 0", got)
	}
}

func TestApplyDeleteRemovesMessage(t *testing.T) {
	message := model.MessageItem{
		MessageID:      "m1",
		ConversationID: "p1_c1",
		Body:           "Hi",
		Timestamp:      1000,
		Direction:      model.DirectionIncoming,
	}
	view := NewView("p1_c1", []model.MessageItem{message})

	view.ApplyChange(messageChange(realtime.ChangeDelete, message))

	if got := len(view.Messages()); got != 0 {
		t.Fatalf("visible messages = %d, want 0", got)
	}
}

func TestMergeIsIdempotentAndOrdersByTimestamp(t *testing.T) {
	snapshot := []model.MessageItem{
		{MessageID: "m2", ConversationID: "p1_c1", Body: "second", Timestamp: 2000, Direction: model.DirectionIncoming},
		{MessageID: "m1", ConversationID: "p1_c1", Body: "first", Timestamp: 1000, Direction: model.DirectionIncoming},
		{MessageID: "m3", ConversationID: "p1_c1", Body: "tie-b", Timestamp: 3000, Direction: model.DirectionIncoming},
		{MessageID: "m0", ConversationID: "p1_c1", Body: "tie-a", Timestamp: 3000, Direction: model.DirectionIncoming},
	}

	view := NewView("p1_c1", snapshot)
	view.Merge(snapshot)
	view.Merge(snapshot)

	messages := view.Messages()
	if len(messages) != 4 {
		t.Fatalf("visible messages = %d, want 4", len(messages))
	}

	wantOrder := []string{"m1", "m2", "m0", "m3"}
	for i, want := range wantOrder {
		if messages[i].MessageID != want {
			t.Fatalf("position %d = %q, want %q", i, messages[i].MessageID, want)
		}
	}
}

func TestMergeRetiresConfirmedLocalEntries(t *testing.T) {
	view := NewView("p1_c1", nil)

	localID := NewLocalID()
	if err := view.AddOptimistic(localID, "a1", "Ann", "Hello", 1000); err != nil {
		t.Fatalf("add optimistic: %v", err)
	}
	view.Confirm(localID, "mid-1")

	// A refresher snapshot that includes the canonical row.
	view.Merge([]model.MessageItem{
		{MessageID: "mid-1", ConversationID: "p1_c1", Body: "Hello", Timestamp: 1001, Direction: model.DirectionOutgoing},
		{MessageID: "m1", ConversationID: "p1_c1", Body: "Hi", Timestamp: 900, Direction: model.DirectionIncoming},
	})

	messages := view.Messages()
	if len(messages) != 2 {
		t.Fatalf("visible messages = %d, want 2", len(messages))
	}
	for _, message := range messages {
		if message.MessageID == localID {
			t.Fatal("local id survived merge with canonical row")
		}
	}
}
