package endpoints

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"support-inbox-backend/internal/dto"
	"support-inbox-backend/internal/model"
	"support-inbox-backend/internal/platform"
	"support-inbox-backend/internal/policy"
	ingestservice "support-inbox-backend/internal/service/ingest"
)

// Sender delivers a text message to the customer through the platform and
// returns the platform-assigned message id.
type Sender interface {
	SendText(ctx context.Context, pageID, customerID, text, tag string) (string, error)
}

type InboxEndpoints interface {
	Conversations(http.ResponseWriter, *http.Request) error
	ConversationResource(http.ResponseWriter, *http.Request) error
}

type InboxPaths struct {
	ConversationsPath  string
	ConversationPrefix string
}

type inboxEndpoints struct {
	service *ingestservice.Service
	sender  Sender
	paths   InboxPaths
	now     func() time.Time
}

func NewInboxEndpoints(service *ingestservice.Service, sender Sender, prefix string) InboxEndpoints {
	base := strings.TrimRight(prefix, "/")
	return NewInboxEndpointsWithPaths(service, sender, InboxPaths{
		ConversationsPath:  base + "/conversations",
		ConversationPrefix: base + "/conversations/",
	})
}

func NewInboxEndpointsWithPaths(service *ingestservice.Service, sender Sender, paths InboxPaths) InboxEndpoints {
	return &inboxEndpoints{
		service: service,
		sender:  sender,
		paths:   paths,
		now:     time.Now,
	}
}

func (h *inboxEndpoints) Conversations(w http.ResponseWriter, r *http.Request) error {
	return MethodHandler(w, r, map[string]func(http.ResponseWriter, *http.Request) error{
		http.MethodGet: h.handleListConversations,
	})
}

func (h *inboxEndpoints) ConversationResource(w http.ResponseWriter, r *http.Request) error {
	conversationID, action, err := h.extractConversationPath(r.URL.Path)
	if err != nil {
		return err
	}

	switch action {
	case "":
		return MethodHandler(w, r, map[string]func(http.ResponseWriter, *http.Request) error{
			http.MethodGet: func(w http.ResponseWriter, r *http.Request) error {
				return h.handleGetConversation(w, r, conversationID)
			},
			http.MethodPatch: func(w http.ResponseWriter, r *http.Request) error {
				return h.handleUpdateConversation(w, r, conversationID)
			},
		})
	case "messages":
		return MethodHandler(w, r, map[string]func(http.ResponseWriter, *http.Request) error{
			http.MethodGet: func(w http.ResponseWriter, r *http.Request) error {
				return h.handleListMessages(w, r, conversationID)
			},
			http.MethodPost: func(w http.ResponseWriter, r *http.Request) error {
				return h.handlePostAgentMessage(w, r, conversationID)
			},
		})
	default:
		return &HTTPError{
			StatusCode: http.StatusNotFound,
			Message:    "Not found",
			ErrorLog:   fmt.Errorf("unknown conversation action %q", action),
		}
	}
}

func (h *inboxEndpoints) handleListConversations(w http.ResponseWriter, r *http.Request) error {
	pageID := strings.TrimSpace(r.URL.Query().Get("pageId"))
	if pageID == "" {
		return &HTTPError{
			StatusCode: http.StatusBadRequest,
			Message:    "pageId is required",
			ErrorLog:   fmt.Errorf("list conversations without pageId"),
		}
	}

	limit := queryInt(r, "limit")

	conversations, err := h.service.ListConversations(r.Context(), pageID, limit)
	if err != nil {
		return h.serviceError(err)
	}

	resp := dto.ListConversationsResponse{Conversations: make([]dto.ConversationResponse, len(conversations))}
	for i, conversation := range conversations {
		resp.Conversations[i] = toConversationResponse(conversation)
	}

	return WriteJSON(w, http.StatusOK, resp)
}

func (h *inboxEndpoints) handleGetConversation(w http.ResponseWriter, r *http.Request, conversationID string) error {
	conversation, err := h.service.GetConversation(r.Context(), conversationID)
	if err != nil {
		return h.serviceError(err)
	}
	return WriteJSON(w, http.StatusOK, toConversationResponse(conversation))
}

func (h *inboxEndpoints) handleListMessages(w http.ResponseWriter, r *http.Request, conversationID string) error {
	conversation, err := h.service.GetConversation(r.Context(), conversationID)
	if err != nil {
		return h.serviceError(err)
	}

	limit := queryInt(r, "limit")
	before := queryInt64(r, "before")

	messages, err := h.service.ListMessages(r.Context(), conversationID, limit, before)
	if err != nil {
		return h.serviceError(err)
	}

	resp := dto.ListMessagesResponse{
		Conversation: toConversationResponse(conversation),
		Messages:     make([]dto.MessageResponse, len(messages)),
	}
	for i, message := range messages {
		resp.Messages[i] = toMessageResponse(message)
	}

	return WriteJSON(w, http.StatusOK, resp)
}

func (h *inboxEndpoints) handlePostAgentMessage(w http.ResponseWriter, r *http.Request, conversationID string) error {
	agent, err := agentFromRequest(r)
	if err != nil {
		return err
	}

	var req dto.PostAgentMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return &HTTPError{
			StatusCode: http.StatusBadRequest,
			Message:    "Invalid request payload",
			ErrorLog:   fmt.Errorf("decode agent message request: %w", err),
		}
	}

	body := strings.TrimSpace(req.Body)
	if body == "" {
		return &HTTPError{
			StatusCode: http.StatusBadRequest,
			Message:    "Message body is required",
			ErrorLog:   fmt.Errorf("agent message without body"),
		}
	}

	conversation, err := h.service.GetConversation(r.Context(), conversationID)
	if err != nil {
		return h.serviceError(err)
	}

	decision := policy.Evaluate(millisToTime(conversation.LastInboundAt), h.now().UTC())

	tag := ""
	warning := ""
	if decision.RequiresTag {
		tag = policy.HumanAgentTag
		warning = "conversation is outside the messaging window; message sent with the human agent tag"
	}

	mid, err := h.sender.SendText(r.Context(), conversation.PageID, conversation.CustomerID, body, tag)
	if err != nil {
		var rejection *platform.RejectionError
		if errors.As(err, &rejection) {
			return &HTTPError{
				StatusCode: http.StatusUnprocessableEntity,
				Message:    fmt.Sprintf("Platform rejected the message: %s", rejection.Reason),
				ErrorLog:   fmt.Errorf("platform rejection: %w", rejection),
			}
		}
		return &HTTPError{
			StatusCode: http.StatusBadGateway,
			Message:    "Failed to deliver message",
			ErrorLog:   fmt.Errorf("send text: %w", err),
		}
	}

	result, err := h.service.RecordOutboundMessage(r.Context(), ingestservice.OutboundMessage{
		PageID:     conversation.PageID,
		CustomerID: conversation.CustomerID,
		MessageID:  mid,
		AgentID:    agent.ID,
		AgentName:  agent.Name,
		Body:       body,
	})
	if err != nil {
		return h.serviceError(err)
	}

	resp := dto.PostAgentMessageResponse{
		Message:    toMessageResponse(result.Message),
		Restricted: decision.RequiresTag,
		Warning:    warning,
	}

	return WriteJSON(w, http.StatusCreated, resp)
}

func (h *inboxEndpoints) handleUpdateConversation(w http.ResponseWriter, r *http.Request, conversationID string) error {
	var req dto.UpdateConversationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return &HTTPError{
			StatusCode: http.StatusBadRequest,
			Message:    "Invalid request payload",
			ErrorLog:   fmt.Errorf("decode update conversation request: %w", err),
		}
	}

	if req.Status == "" && req.AssignedAgentID == "" && !req.MarkRead {
		return &HTTPError{
			StatusCode: http.StatusBadRequest,
			Message:    "Nothing to update",
			ErrorLog:   fmt.Errorf("update conversation request without changes"),
		}
	}

	var conversation model.ConversationItem
	var err error

	if req.Status != "" {
		conversation, err = h.service.SetConversationStatus(r.Context(), conversationID, model.ConversationStatus(req.Status))
		if err != nil {
			return h.serviceError(err)
		}
	}

	if req.AssignedAgentID != "" {
		conversation, err = h.service.AssignAgent(r.Context(), conversationID, req.AssignedAgentID)
		if err != nil {
			return h.serviceError(err)
		}
	}

	if req.MarkRead {
		conversation, err = h.service.ResetUnread(r.Context(), conversationID)
		if err != nil {
			return h.serviceError(err)
		}
	}

	return WriteJSON(w, http.StatusOK, dto.UpdateConversationResponse{
		Conversation: toConversationResponse(conversation),
	})
}

// extractConversationPath splits /conversations/{id}[/action] into its parts.
func (h *inboxEndpoints) extractConversationPath(path string) (string, string, error) {
	prefix := h.paths.ConversationPrefix
	if prefix == "" {
		return "", "", &HTTPError{StatusCode: http.StatusNotFound, Message: "Not found", ErrorLog: fmt.Errorf("conversation routes not configured")}
	}

	trimmed := strings.TrimPrefix(path, prefix)
	if trimmed == path {
		return "", "", &HTTPError{StatusCode: http.StatusNotFound, Message: "Not found", ErrorLog: fmt.Errorf("conversation path mismatch: %s", path)}
	}

	parts := strings.Split(strings.Trim(trimmed, "/"), "/")
	if parts[0] == "" {
		return "", "", &HTTPError{StatusCode: http.StatusNotFound, Message: "Not found", ErrorLog: fmt.Errorf("conversation id missing: %s", path)}
	}

	switch len(parts) {
	case 1:
		return parts[0], "", nil
	case 2:
		return parts[0], parts[1], nil
	default:
		return "", "", &HTTPError{StatusCode: http.StatusNotFound, Message: "Not found", ErrorLog: fmt.Errorf("invalid conversation path: %s", path)}
	}
}

func (h *inboxEndpoints) serviceError(err error) error {
	if err == nil {
		return nil
	}

	svcErr, ok := err.(*ingestservice.Error)
	if !ok {
		return &HTTPError{
			StatusCode: http.StatusInternalServerError,
			Message:    "Internal server error",
			ErrorLog:   fmt.Errorf("ingest service: %w", err),
		}
	}

	var logErr error
	if svcErr.Err != nil {
		logErr = fmt.Errorf("%s: %w", svcErr.Message, svcErr.Err)
	} else {
		logErr = svcErr
	}

	switch svcErr.Code {
	case ingestservice.ErrorCodeValidation:
		return &HTTPError{StatusCode: http.StatusBadRequest, Message: svcErr.Message, ErrorLog: logErr}
	case ingestservice.ErrorCodeNotFound:
		return &HTTPError{StatusCode: http.StatusNotFound, Message: svcErr.Message, ErrorLog: logErr}
	default:
		return &HTTPError{StatusCode: http.StatusInternalServerError, Message: "Internal server error", ErrorLog: logErr}
	}
}

func toConversationResponse(item model.ConversationItem) dto.ConversationResponse {
	return dto.ConversationResponse{
		ConversationID:  item.ConversationID,
		PageID:          item.PageID,
		CustomerID:      item.CustomerID,
		CustomerName:    item.CustomerName,
		CustomerAvatar:  item.CustomerAvatar,
		Status:          string(item.Status),
		AssignedAgentID: item.AssignedAgentID,
		Unread:          item.Unread,
		LastMessage:     item.LastMessage,
		LastMessageAt:   item.LastMessageAt,
		LastInboundAt:   item.LastInboundAt,
		CreatedAt:       item.CreatedAt,
		UpdatedAt:       item.UpdatedAt,
	}
}

func toMessageResponse(item model.MessageItem) dto.MessageResponse {
	return dto.MessageResponse{
		MessageID:      item.MessageID,
		ConversationID: item.ConversationID,
		SenderID:       item.SenderID,
		SenderName:     item.SenderName,
		Body:           item.Body,
		Timestamp:      item.Timestamp,
		Direction:      string(item.Direction),
		Read:           item.Read,
	}
}

func queryInt(r *http.Request, key string) int {
	v, err := strconv.Atoi(r.URL.Query().Get(key))
	if err != nil {
		return 0
	}
	return v
}

func queryInt64(r *http.Request, key string) int64 {
	v, err := strconv.ParseInt(r.URL.Query().Get(key), 10, 64)
	if err != nil {
		return 0
	}
	return v
}

func millisToTime(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}
