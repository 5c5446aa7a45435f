package endpoints

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"support-inbox-backend/internal/dto"
	"support-inbox-backend/internal/env"
	internaljwt "support-inbox-backend/internal/jwt"
	"support-inbox-backend/internal/model"
	"support-inbox-backend/internal/platform"
	"support-inbox-backend/internal/policy"
	ingestservice "support-inbox-backend/internal/service/ingest"

	"github.com/rs/zerolog"
)

type fakeSender struct {
	mid     string
	err     error
	lastTag string
}

func (s *fakeSender) SendText(ctx context.Context, pageID, customerID, text, tag string) (string, error) {
	s.lastTag = tag
	if s.err != nil {
		return "", s.err
	}
	return s.mid, nil
}

func agentToken(t *testing.T) string {
	t.Helper()
	t.Setenv(env.AgentSecretKey, "test-secret")
	token, err := internaljwt.CreateToken(
		internaljwt.Agent{ID: "a1", Email: "ann@example.com", Name: "Ann"},
		internaljwt.RoleAgent,
		time.Now().Add(time.Hour).Unix(),
	)
	if err != nil {
		t.Fatalf("create agent token: %v", err)
	}
	return token
}

func seedConversation(repo *memoryRepo, lastInboundAt int64) {
	repo.conversations["p1_c1"] = model.ConversationItem{
		ConversationID: "p1_c1",
		PageID:         "p1",
		CustomerID:     "c1",
		Status:         model.ConversationStatusOpen,
		Unread:         2,
		LastMessage:    "Hi",
		LastMessageAt:  lastInboundAt,
		LastInboundAt:  lastInboundAt,
		CreatedAt:      "2024-03-10T11:00:00Z",
		UpdatedAt:      "2024-03-10T11:00:00Z",
	}
}

func TestListConversationsFiltersByPage(t *testing.T) {
	server, _ := newTestServer(t)
	repo := newMemoryRepo()
	seedConversation(repo, time.Now().UnixMilli())
	repo.conversations["p2_c9"] = model.ConversationItem{
		ConversationID: "p2_c9",
		PageID:         "p2",
		CustomerID:     "c9",
		Status:         model.ConversationStatusOpen,
	}

	service := ingestservice.NewWithRepository(repo, nil, nil, zerolog.Nop(), nil)
	inbox := NewInboxEndpoints(service, &fakeSender{}, "/api/agent/v1")
	handler := server.MakeHTTPHandleFunc(inbox.Conversations)

	req := httptest.NewRequest(http.MethodGet, "/api/agent/v1/conversations?pageId=p1", nil)
	rec := httptest.NewRecorder()
	handler(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body.String())
	}

	var resp dto.ListConversationsResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(resp.Conversations) != 1 {
		t.Fatalf("returned %d conversations, want 1", len(resp.Conversations))
	}
	if resp.Conversations[0].ConversationID != "p1_c1" {
		t.Fatalf("conversation id = %q", resp.Conversations[0].ConversationID)
	}
}

func TestPostAgentMessageInsideWindow(t *testing.T) {
	server, _ := newTestServer(t)
	repo := newMemoryRepo()
	seedConversation(repo, time.Now().Add(-time.Hour).UnixMilli())

	sender := &fakeSender{mid: "mid-1"}
	service := ingestservice.NewWithRepository(repo, nil, nil, zerolog.Nop(), nil)
	inbox := NewInboxEndpoints(service, sender, "/api/agent/v1")
	handler := server.MakeHTTPHandleFunc(inbox.ConversationResource)

	token := agentToken(t)
	req := httptest.NewRequest(http.MethodPost, "/api/agent/v1/conversations/p1_c1/messages",
		strings.NewReader(`{"body": "Hello!"}`))
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	handler(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201: %s", rec.Code, rec.Body.String())
	}

	var resp dto.PostAgentMessageResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Restricted {
		t.Fatal("send inside window flagged restricted")
	}
	if resp.Message.MessageID != "mid-1" || resp.Message.Direction != string(model.DirectionOutgoing) {
		t.Fatalf("unexpected message: %+v", resp.Message)
	}
	if sender.lastTag != "" {
		t.Fatalf("tag = %q, want none inside the window", sender.lastTag)
	}

	repo.mu.Lock()
	stored, ok := repo.messages["mid-1"]
	repo.mu.Unlock()
	if !ok || stored.SenderID != "a1" || stored.SenderName != "Ann" {
		t.Fatalf("stored message = %+v", stored)
	}
}

func TestPostAgentMessageOutsideWindowCarriesTag(t *testing.T) {
	server, _ := newTestServer(t)
	repo := newMemoryRepo()
	seedConversation(repo, time.Now().Add(-25*time.Hour).UnixMilli())

	sender := &fakeSender{mid: "mid-2"}
	service := ingestservice.NewWithRepository(repo, nil, nil, zerolog.Nop(), nil)
	inbox := NewInboxEndpoints(service, sender, "/api/agent/v1")
	handler := server.MakeHTTPHandleFunc(inbox.ConversationResource)

	token := agentToken(t)
	req := httptest.NewRequest(http.MethodPost, "/api/agent/v1/conversations/p1_c1/messages",
		strings.NewReader(`{"body": "Following up"}`))
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	handler(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201: %s", rec.Code, rec.Body.String())
	}

	var resp dto.PostAgentMessageResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !resp.Restricted || resp.Warning == "" {
		t.Fatalf("restricted send not surfaced: %+v", resp)
	}
	if sender.lastTag != policy.HumanAgentTag {
		t.Fatalf("tag = %q, want %q", sender.lastTag, policy.HumanAgentTag)
	}
}

func TestPostAgentMessagePlatformRejection(t *testing.T) {
	server, _ := newTestServer(t)
	repo := newMemoryRepo()
	seedConversation(repo, time.Now().UnixMilli())

	sender := &fakeSender{err: &platform.RejectionError{StatusCode: 400, Code: 10, Reason: "message blocked"}}
	service := ingestservice.NewWithRepository(repo, nil, nil, zerolog.Nop(), nil)
	inbox := NewInboxEndpoints(service, sender, "/api/agent/v1")
	handler := server.MakeHTTPHandleFunc(inbox.ConversationResource)

	token := agentToken(t)
	req := httptest.NewRequest(http.MethodPost, "/api/agent/v1/conversations/p1_c1/messages",
		strings.NewReader(`{"body": "Hello!"}`))
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	handler(rec, req)

	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422: %s", rec.Code, rec.Body.String())
	}

	repo.mu.Lock()
	stored := len(repo.messages)
	repo.mu.Unlock()
	if stored != 0 {
		t.Fatalf("rejected send stored %d messages", stored)
	}
}

func TestPostAgentMessageRequiresAuth(t *testing.T) {
	server, _ := newTestServer(t)
	repo := newMemoryRepo()
	seedConversation(repo, time.Now().UnixMilli())
	t.Setenv(env.AgentSecretKey, "test-secret")

	service := ingestservice.NewWithRepository(repo, nil, nil, zerolog.Nop(), nil)
	inbox := NewInboxEndpoints(service, &fakeSender{mid: "mid-1"}, "/api/agent/v1")
	handler := server.MakeHTTPHandleFunc(inbox.ConversationResource)

	req := httptest.NewRequest(http.MethodPost, "/api/agent/v1/conversations/p1_c1/messages",
		strings.NewReader(`{"body": "Hello!"}`))
	rec := httptest.NewRecorder()
	handler(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}

func TestUpdateConversationStatusAndRead(t *testing.T) {
	server, _ := newTestServer(t)
	repo := newMemoryRepo()
	seedConversation(repo, time.Now().UnixMilli())

	service := ingestservice.NewWithRepository(repo, nil, nil, zerolog.Nop(), nil)
	inbox := NewInboxEndpoints(service, &fakeSender{}, "/api/agent/v1")
	handler := server.MakeHTTPHandleFunc(inbox.ConversationResource)

	req := httptest.NewRequest(http.MethodPatch, "/api/agent/v1/conversations/p1_c1",
		strings.NewReader(`{"status": "resolved", "markRead": true}`))
	rec := httptest.NewRecorder()
	handler(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body.String())
	}

	var resp dto.UpdateConversationResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Conversation.Status != string(model.ConversationStatusResolved) {
		t.Fatalf("status = %q, want resolved", resp.Conversation.Status)
	}
	if resp.Conversation.Unread != 0 {
		t.Fatalf("unread = %d, want 0", resp.Conversation.Unread)
	}
}

func TestUpdateConversationRejectsUnknownStatus(t *testing.T) {
	server, _ := newTestServer(t)
	repo := newMemoryRepo()
	seedConversation(repo, time.Now().UnixMilli())

	service := ingestservice.NewWithRepository(repo, nil, nil, zerolog.Nop(), nil)
	inbox := NewInboxEndpoints(service, &fakeSender{}, "/api/agent/v1")
	handler := server.MakeHTTPHandleFunc(inbox.ConversationResource)

	req := httptest.NewRequest(http.MethodPatch, "/api/agent/v1/conversations/p1_c1",
		strings.NewReader(`{"status": "archived"}`))
	rec := httptest.NewRecorder()
	handler(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}
