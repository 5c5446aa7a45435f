package ingest

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"support-inbox-backend/internal/model"
	"support-inbox-backend/internal/platform"
	"support-inbox-backend/internal/realtime"

	"github.com/rs/zerolog"
)

type memoryRepository struct {
	mu            sync.Mutex
	conversations map[string]model.ConversationItem
	messages      map[string]model.MessageItem
}

func newMemoryRepository() *memoryRepository {
	return &memoryRepository{
		conversations: make(map[string]model.ConversationItem),
		messages:      make(map[string]model.MessageItem),
	}
}

func (m *memoryRepository) InsertMessage(ctx context.Context, message model.MessageItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.messages[message.MessageID]; exists {
		return ErrDuplicateMessage
	}
	m.messages[message.MessageID] = message
	return nil
}

func (m *memoryRepository) UpsertConversation(ctx context.Context, up ConversationUpsert) (model.ConversationItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	conversation, exists := m.conversations[up.ConversationID]
	if !exists {
		conversation = model.ConversationItem{
			ConversationID: up.ConversationID,
			PageID:         up.PageID,
			CustomerID:     up.CustomerID,
			Status:         model.ConversationStatusOpen,
			CreatedAt:      up.Now,
		}
	}

	conversation.LastMessage = up.LastMessage
	conversation.LastMessageAt = up.LastMessageAt
	conversation.UpdatedAt = up.Now
	if up.IncrementUnread {
		conversation.Unread++
		conversation.LastInboundAt = up.LastMessageAt
	}
	if up.AssignAgentID != "" && conversation.AssignedAgentID == "" {
		conversation.AssignedAgentID = up.AssignAgentID
	}

	m.conversations[up.ConversationID] = conversation
	return conversation, nil
}

func (m *memoryRepository) SetCustomerProfile(ctx context.Context, conversationID, name, avatar, updatedAt string) (model.ConversationItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	conversation, ok := m.conversations[conversationID]
	if !ok {
		return model.ConversationItem{}, ErrNotFound
	}
	conversation.CustomerName = name
	conversation.CustomerAvatar = avatar
	conversation.UpdatedAt = updatedAt
	m.conversations[conversationID] = conversation
	return conversation, nil
}

func (m *memoryRepository) GetConversation(ctx context.Context, conversationID string) (model.ConversationItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	conversation, ok := m.conversations[conversationID]
	if !ok {
		return model.ConversationItem{}, ErrNotFound
	}
	return conversation, nil
}

func (m *memoryRepository) ListConversations(ctx context.Context, pageID string, limit int) ([]model.ConversationItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.ConversationItem, 0)
	for _, conversation := range m.conversations {
		if conversation.PageID == pageID {
			out = append(out, conversation)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].LastMessageAt > out[j].LastMessageAt
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memoryRepository) ListMessages(ctx context.Context, conversationID string, limit int, before int64) ([]model.MessageItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.MessageItem, 0)
	for _, message := range m.messages {
		if message.ConversationID != conversationID {
			continue
		}
		if before > 0 && message.Timestamp >= before {
			continue
		}
		out = append(out, message)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Timestamp < out[j].Timestamp
	})
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func (m *memoryRepository) MarkMessagesRead(ctx context.Context, conversationID string, messageIDs []string) ([]model.MessageItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	updated := make([]model.MessageItem, 0)
	for _, messageID := range messageIDs {
		message, ok := m.messages[messageID]
		if !ok || message.ConversationID != conversationID {
			continue
		}
		message.Read = true
		m.messages[messageID] = message
		updated = append(updated, message)
	}
	return updated, nil
}

func (m *memoryRepository) MarkReadThrough(ctx context.Context, conversationID string, watermark int64) ([]model.MessageItem, error) {
	m.mu.Lock()
	pending := make([]string, 0)
	for _, message := range m.messages {
		if message.ConversationID != conversationID {
			continue
		}
		if message.Direction != model.DirectionOutgoing || message.Read {
			continue
		}
		if message.Timestamp <= watermark {
			pending = append(pending, message.MessageID)
		}
	}
	m.mu.Unlock()
	return m.MarkMessagesRead(ctx, conversationID, pending)
}

func (m *memoryRepository) SetConversationStatus(ctx context.Context, conversationID string, status model.ConversationStatus, updatedAt string) (model.ConversationItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	conversation, ok := m.conversations[conversationID]
	if !ok {
		return model.ConversationItem{}, ErrNotFound
	}
	conversation.Status = status
	conversation.UpdatedAt = updatedAt
	m.conversations[conversationID] = conversation
	return conversation, nil
}

func (m *memoryRepository) SetAssignedAgent(ctx context.Context, conversationID, agentID, updatedAt string) (model.ConversationItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	conversation, ok := m.conversations[conversationID]
	if !ok {
		return model.ConversationItem{}, ErrNotFound
	}
	conversation.AssignedAgentID = agentID
	conversation.UpdatedAt = updatedAt
	m.conversations[conversationID] = conversation
	return conversation, nil
}

func (m *memoryRepository) ResetUnread(ctx context.Context, conversationID, updatedAt string) (model.ConversationItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	conversation, ok := m.conversations[conversationID]
	if !ok {
		return model.ConversationItem{}, ErrNotFound
	}
	conversation.Unread = 0
	conversation.UpdatedAt = updatedAt
	m.conversations[conversationID] = conversation
	return conversation, nil
}

type capturedEvent struct {
	channel string
	event   realtime.ChangeEvent
}

type memoryPublisher struct {
	mu     sync.Mutex
	events []capturedEvent
}

func (p *memoryPublisher) Publish(ctx context.Context, channel string, event realtime.ChangeEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, capturedEvent{channel: channel, event: event})
	return nil
}

func (p *memoryPublisher) captured() []capturedEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]capturedEvent, len(p.events))
	copy(out, p.events)
	return out
}

func (p *memoryPublisher) reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = nil
}

func fixedNow() time.Time {
	return time.Date(2024, time.March, 10, 12, 0, 0, 0, time.UTC)
}

func newTestService(repo Repository, bus Publisher) *Service {
	return NewWithRepository(repo, bus, nil, zerolog.Nop(), fixedNow)
}

func TestRecordInboundMessageCreatesConversation(t *testing.T) {
	repo := newMemoryRepository()
	bus := &memoryPublisher{}
	service := newTestService(repo, bus)

	result, err := service.RecordInboundMessage(context.Background(), platform.InboundMessage{
		PageID:     "p1",
		CustomerID: "c1",
		MessageID:  "m1",
		Text:       "Hi",
		Timestamp:  1700000000000,
	})
	if err != nil {
		t.Fatalf("record inbound message: %v", err)
	}
	if result.Duplicate {
		t.Fatal("first delivery flagged as duplicate")
	}

	conversation := result.Conversation
	if conversation.ConversationID != "p1_c1" {
		t.Fatalf("conversation id = %q, want p1_c1", conversation.ConversationID)
	}
	if conversation.Unread != 1 {
		t.Fatalf("unread = %d, want 1", conversation.Unread)
	}
	if conversation.LastMessage != "Hi" {
		t.Fatalf("last message = %q, want Hi", conversation.LastMessage)
	}
	if conversation.Status != model.ConversationStatusOpen {
		t.Fatalf("status = %q, want open", conversation.Status)
	}
	if conversation.LastInboundAt != 1700000000000 {
		t.Fatalf("lastInboundAt = %d, want event timestamp", conversation.LastInboundAt)
	}

	message := result.Message
	if message.MessageID != "m1" || message.Direction != model.DirectionIncoming {
		t.Fatalf("unexpected message: %+v", message)
	}

	events := bus.captured()
	if len(events) != 2 {
		t.Fatalf("published %d events, want 2", len(events))
	}
	if events[0].channel != realtime.ConversationChannel("p1_c1") {
		t.Fatalf("message event channel = %q", events[0].channel)
	}
	if events[1].channel != realtime.InboxChannel("p1") {
		t.Fatalf("conversation event channel = %q", events[1].channel)
	}
}

func TestRecordInboundMessageReplayIsNoOp(t *testing.T) {
	repo := newMemoryRepository()
	bus := &memoryPublisher{}
	service := newTestService(repo, bus)

	event := platform.InboundMessage{
		PageID:     "p1",
		CustomerID: "c1",
		MessageID:  "m1",
		Text:       "Hi",
		Timestamp:  1700000000000,
	}

	if _, err := service.RecordInboundMessage(context.Background(), event); err != nil {
		t.Fatalf("first delivery: %v", err)
	}
	bus.reset()

	result, err := service.RecordInboundMessage(context.Background(), event)
	if err != nil {
		t.Fatalf("replayed delivery: %v", err)
	}
	if !result.Duplicate {
		t.Fatal("replay not flagged as duplicate")
	}

	conversation, err := repo.GetConversation(context.Background(), "p1_c1")
	if err != nil {
		t.Fatalf("get conversation: %v", err)
	}
	if conversation.Unread != 1 {
		t.Fatalf("unread after replay = %d, want 1", conversation.Unread)
	}

	messages, err := repo.ListMessages(context.Background(), "p1_c1", 0, 0)
	if err != nil {
		t.Fatalf("list messages: %v", err)
	}
	if len(messages) != 1 {
		t.Fatalf("stored %d messages, want 1", len(messages))
	}

	if events := bus.captured(); len(events) != 0 {
		t.Fatalf("replay published %d events, want 0", len(events))
	}
}

func TestRedeliveryRebuildsLostConversationRow(t *testing.T) {
	repo := newMemoryRepository()
	bus := &memoryPublisher{}
	service := newTestService(repo, bus)

	// The first delivery committed the message but the conversation write
	// never landed: message present, no row.
	repo.messages["m1"] = model.MessageItem{
		MessageID:      "m1",
		ConversationID: "p1_c1",
		SenderID:       "c1",
		Body:           "Hi",
		Timestamp:      1700000000000,
		Direction:      model.DirectionIncoming,
	}

	result, err := service.RecordInboundMessage(context.Background(), platform.InboundMessage{
		PageID:     "p1",
		CustomerID: "c1",
		MessageID:  "m1",
		Text:       "Hi",
		Timestamp:  1700000000000,
	})
	if err != nil {
		t.Fatalf("redelivery: %v", err)
	}
	if !result.Duplicate {
		t.Fatal("redelivery not flagged as duplicate")
	}

	conversation, err := repo.GetConversation(context.Background(), "p1_c1")
	if err != nil {
		t.Fatalf("conversation row not rebuilt: %v", err)
	}
	if conversation.Unread != 1 {
		t.Fatalf("unread = %d, want 1", conversation.Unread)
	}
	if conversation.LastMessage != "Hi" || conversation.LastInboundAt != 1700000000000 {
		t.Fatalf("rebuilt row = %+v", conversation)
	}

	messages, err := repo.ListMessages(context.Background(), "p1_c1", 0, 0)
	if err != nil {
		t.Fatalf("list messages: %v", err)
	}
	if len(messages) != 1 {
		t.Fatalf("stored %d messages, want 1", len(messages))
	}

	events := bus.captured()
	if len(events) != 1 {
		t.Fatalf("published %d events, want the rebuilt conversation only", len(events))
	}
	if events[0].channel != realtime.InboxChannel("p1") {
		t.Fatalf("rebuild event channel = %q", events[0].channel)
	}
}

func TestConcurrentFirstContactConvergesOnOneRow(t *testing.T) {
	repo := newMemoryRepository()
	service := newTestService(repo, &memoryPublisher{})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			service.RecordInboundMessage(context.Background(), platform.InboundMessage{
				PageID:     "p1",
				CustomerID: "c1",
				MessageID:  "m1",
				Text:       "Hi",
				Timestamp:  1700000000000,
			})
		}()
	}
	wg.Wait()

	conversations, err := repo.ListConversations(context.Background(), "p1", 0)
	if err != nil {
		t.Fatalf("list conversations: %v", err)
	}
	if len(conversations) != 1 {
		t.Fatalf("stored %d conversations, want 1", len(conversations))
	}
	if conversations[0].Unread != 1 {
		t.Fatalf("unread = %d, want 1", conversations[0].Unread)
	}
}

func TestDeliveryReceiptUnknownIDIsIgnored(t *testing.T) {
	repo := newMemoryRepository()
	bus := &memoryPublisher{}
	service := newTestService(repo, bus)

	err := service.ApplyDeliveryReceipt(context.Background(), platform.DeliveryReceipt{
		PageID:     "p1",
		CustomerID: "c1",
		MessageIDs: []string{"zzz"},
	})
	if err != nil {
		t.Fatalf("delivery receipt for unknown id: %v", err)
	}
	if events := bus.captured(); len(events) != 0 {
		t.Fatalf("published %d events for unknown id, want 0", len(events))
	}
}

func TestDeliveryReceiptMarksMessagesRead(t *testing.T) {
	repo := newMemoryRepository()
	bus := &memoryPublisher{}
	service := newTestService(repo, bus)

	if _, err := service.RecordOutboundMessage(context.Background(), OutboundMessage{
		PageID:     "p1",
		CustomerID: "c1",
		MessageID:  "out-1",
		AgentID:    "a1",
		Body:       "Hello there",
	}); err != nil {
		t.Fatalf("record outbound: %v", err)
	}
	bus.reset()

	// Outbound records start read from the agent's perspective; flip it so
	// the receipt has something to update.
	repo.mu.Lock()
	message := repo.messages["out-1"]
	message.Read = false
	repo.messages["out-1"] = message
	repo.mu.Unlock()

	err := service.ApplyDeliveryReceipt(context.Background(), platform.DeliveryReceipt{
		PageID:     "p1",
		CustomerID: "c1",
		MessageIDs: []string{"out-1", "zzz"},
	})
	if err != nil {
		t.Fatalf("delivery receipt: %v", err)
	}

	repo.mu.Lock()
	read := repo.messages["out-1"].Read
	repo.mu.Unlock()
	if !read {
		t.Fatal("message not marked read")
	}

	events := bus.captured()
	if len(events) != 1 {
		t.Fatalf("published %d events, want 1", len(events))
	}
	if events[0].event.Kind != realtime.ChangeUpdate {
		t.Fatalf("event kind = %q, want update", events[0].event.Kind)
	}
}

func TestReadReceiptWatermarkIsInclusive(t *testing.T) {
	repo := newMemoryRepository()
	service := newTestService(repo, &memoryPublisher{})

	seed := []model.MessageItem{
		{MessageID: "out-1", ConversationID: "p1_c1", Timestamp: 1000, Direction: model.DirectionOutgoing},
		{MessageID: "out-2", ConversationID: "p1_c1", Timestamp: 2000, Direction: model.DirectionOutgoing},
		{MessageID: "out-3", ConversationID: "p1_c1", Timestamp: 3000, Direction: model.DirectionOutgoing},
		{MessageID: "in-1", ConversationID: "p1_c1", Timestamp: 1500, Direction: model.DirectionIncoming},
	}
	for _, message := range seed {
		if err := repo.InsertMessage(context.Background(), message); err != nil {
			t.Fatalf("seed message %s: %v", message.MessageID, err)
		}
	}

	err := service.ApplyReadReceipt(context.Background(), platform.ReadReceipt{
		PageID:     "p1",
		CustomerID: "c1",
		Watermark:  2000,
	})
	if err != nil {
		t.Fatalf("read receipt: %v", err)
	}

	repo.mu.Lock()
	defer repo.mu.Unlock()
	if !repo.messages["out-1"].Read {
		t.Error("out-1 before watermark not marked read")
	}
	if !repo.messages["out-2"].Read {
		t.Error("out-2 at watermark not marked read; boundary must be inclusive")
	}
	if repo.messages["out-3"].Read {
		t.Error("out-3 after watermark marked read")
	}
	if repo.messages["in-1"].Read {
		t.Error("incoming message marked read by a customer read receipt")
	}
}

func TestSetConversationStatusTransitions(t *testing.T) {
	statuses := []model.ConversationStatus{
		model.ConversationStatusOpen,
		model.ConversationStatusPending,
		model.ConversationStatusResolved,
	}

	for _, from := range statuses {
		for _, to := range statuses {
			if from == to {
				continue
			}
			repo := newMemoryRepository()
			repo.conversations["p1_c1"] = model.ConversationItem{
				ConversationID: "p1_c1",
				PageID:         "p1",
				Status:         from,
			}
			service := newTestService(repo, &memoryPublisher{})

			conversation, err := service.SetConversationStatus(context.Background(), "p1_c1", to)
			if err != nil {
				t.Fatalf("%s -> %s: %v", from, to, err)
			}
			if conversation.Status != to {
				t.Fatalf("%s -> %s: status = %q", from, to, conversation.Status)
			}
		}
	}
}

func TestSetConversationStatusRejectsUnknownStatus(t *testing.T) {
	service := newTestService(newMemoryRepository(), &memoryPublisher{})

	_, err := service.SetConversationStatus(context.Background(), "p1_c1", "archived")
	svcErr, ok := err.(*Error)
	if !ok || svcErr.Code != ErrorCodeValidation {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestSetConversationStatusUnknownConversation(t *testing.T) {
	service := newTestService(newMemoryRepository(), &memoryPublisher{})

	_, err := service.SetConversationStatus(context.Background(), "nope", model.ConversationStatusResolved)
	svcErr, ok := err.(*Error)
	if !ok || svcErr.Code != ErrorCodeNotFound {
		t.Fatalf("expected not_found error, got %v", err)
	}
}

func TestResetUnread(t *testing.T) {
	repo := newMemoryRepository()
	repo.conversations["p1_c1"] = model.ConversationItem{
		ConversationID: "p1_c1",
		PageID:         "p1",
		Status:         model.ConversationStatusOpen,
		Unread:         7,
	}
	service := newTestService(repo, &memoryPublisher{})

	conversation, err := service.ResetUnread(context.Background(), "p1_c1")
	if err != nil {
		t.Fatalf("reset unread: %v", err)
	}
	if conversation.Unread != 0 {
		t.Fatalf("unread = %d, want 0", conversation.Unread)
	}
}

func TestRecordOutboundMessageAssignsFirstResponder(t *testing.T) {
	repo := newMemoryRepository()
	service := newTestService(repo, &memoryPublisher{})

	if _, err := service.RecordInboundMessage(context.Background(), platform.InboundMessage{
		PageID:     "p1",
		CustomerID: "c1",
		MessageID:  "m1",
		Text:       "Hi",
	}); err != nil {
		t.Fatalf("record inbound: %v", err)
	}

	first, err := service.RecordOutboundMessage(context.Background(), OutboundMessage{
		PageID:     "p1",
		CustomerID: "c1",
		MessageID:  "out-1",
		AgentID:    "a1",
		AgentName:  "Ann",
		Body:       "Hello!",
	})
	if err != nil {
		t.Fatalf("first outbound: %v", err)
	}
	if first.Conversation.AssignedAgentID != "a1" {
		t.Fatalf("assigned agent = %q, want a1", first.Conversation.AssignedAgentID)
	}

	second, err := service.RecordOutboundMessage(context.Background(), OutboundMessage{
		PageID:     "p1",
		CustomerID: "c1",
		MessageID:  "out-2",
		AgentID:    "a2",
		Body:       "Anything else?",
	})
	if err != nil {
		t.Fatalf("second outbound: %v", err)
	}
	if second.Conversation.AssignedAgentID != "a1" {
		t.Fatalf("assignment overwritten to %q", second.Conversation.AssignedAgentID)
	}
	if second.Conversation.Unread != 1 {
		t.Fatalf("outbound send changed unread to %d", second.Conversation.Unread)
	}
}

type staticProfiles struct {
	profile platform.Profile
}

func (s staticProfiles) FetchProfile(ctx context.Context, pageID, customerID string) (platform.Profile, error) {
	return s.profile, nil
}

func TestInboundMessageEnrichesCustomerProfile(t *testing.T) {
	repo := newMemoryRepository()
	profiles := staticProfiles{profile: platform.Profile{Name: "Cleo Customer", AvatarURL: "https://cdn/p.jpg"}}
	service := NewWithRepository(repo, &memoryPublisher{}, profiles, zerolog.Nop(), fixedNow)

	result, err := service.RecordInboundMessage(context.Background(), platform.InboundMessage{
		PageID:     "p1",
		CustomerID: "c1",
		MessageID:  "m1",
		Text:       "Hi",
	})
	if err != nil {
		t.Fatalf("record inbound: %v", err)
	}
	if result.Conversation.CustomerName != "Cleo Customer" {
		t.Fatalf("customer name = %q", result.Conversation.CustomerName)
	}
	if result.Conversation.CustomerAvatar != "https://cdn/p.jpg" {
		t.Fatalf("customer avatar = %q", result.Conversation.CustomerAvatar)
	}
}

func TestProcessEventDispatch(t *testing.T) {
	repo := newMemoryRepository()
	service := newTestService(repo, &memoryPublisher{})

	if err := service.ProcessEvent(context.Background(), platform.InboundMessage{
		PageID:     "p1",
		CustomerID: "c1",
		MessageID:  "m1",
		Text:       "Hi",
	}); err != nil {
		t.Fatalf("process inbound event: %v", err)
	}
	if err := service.ProcessEvent(context.Background(), platform.ReadReceipt{
		PageID:     "p1",
		CustomerID: "c1",
		Watermark:  1,
	}); err != nil {
		t.Fatalf("process read receipt: %v", err)
	}

	if _, err := repo.GetConversation(context.Background(), "p1_c1"); err != nil {
		t.Fatalf("conversation not created by dispatch: %v", err)
	}
}
