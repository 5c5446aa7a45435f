package ingest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"support-inbox-backend/internal/database"
	"support-inbox-backend/internal/model"
	"support-inbox-backend/internal/platform"
	"support-inbox-backend/internal/realtime"

	"github.com/rs/zerolog"
)

type ErrorCode string

const (
	ErrorCodeValidation  ErrorCode = "validation_error"
	ErrorCodeNotFound    ErrorCode = "not_found"
	ErrorCodePersistence ErrorCode = "persistence_error"
	ErrorCodeInternal    ErrorCode = "internal_error"
)

type Error struct {
	Code    ErrorCode
	Message string
	Err     error
}

func (e *Error) Error() string {
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(code ErrorCode, message string, err error) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// Publisher is the fan-out bus contract the mutator relies on: committed
// writes are handed to it for dispatch to subscribers.
type Publisher interface {
	Publish(ctx context.Context, channel string, event realtime.ChangeEvent) error
}

// ProfileSource enriches new conversations with the customer's display name
// and avatar. Lookups are best-effort.
type ProfileSource interface {
	FetchProfile(ctx context.Context, pageID, customerID string) (platform.Profile, error)
}

type OutboundMessage struct {
	PageID     string
	CustomerID string
	MessageID  string
	AgentID    string
	AgentName  string
	Body       string
	Timestamp  int64
}

type MessageResult struct {
	Conversation model.ConversationItem
	Message      model.MessageItem
	Duplicate    bool
}

// Service owns the write path for conversations and messages. Every
// operation is idempotent: replaying any event yields the same final state,
// which is what makes webhook redelivery the recovery mechanism for dropped
// writes.
type Service struct {
	repo     Repository
	bus      Publisher
	profiles ProfileSource
	log      zerolog.Logger
	now      func() time.Time
}

func New(db *database.Database, bus Publisher, profiles ProfileSource, log zerolog.Logger) *Service {
	return &Service{
		repo:     NewDynamoRepository(db),
		bus:      bus,
		profiles: profiles,
		log:      log,
		now:      time.Now,
	}
}

func NewWithRepository(repo Repository, bus Publisher, profiles ProfileSource, log zerolog.Logger, now func() time.Time) *Service {
	if now == nil {
		now = time.Now
	}
	return &Service{
		repo:     repo,
		bus:      bus,
		profiles: profiles,
		log:      log,
		now:      now,
	}
}

// ProcessEvent routes one decoded platform event to its mutator. A failure
// here affects only this event; the webhook worker moves on to the next one.
func (s *Service) ProcessEvent(ctx context.Context, event platform.Event) error {
	switch ev := event.(type) {
	case platform.InboundMessage:
		_, err := s.RecordInboundMessage(ctx, ev)
		return err
	case platform.DeliveryReceipt:
		return s.ApplyDeliveryReceipt(ctx, ev)
	case platform.ReadReceipt:
		return s.ApplyReadReceipt(ctx, ev)
	default:
		return newError(ErrorCodeValidation, fmt.Sprintf("unhandled event type %T", event), nil)
	}
}

// RecordInboundMessage inserts the message keyed on the platform mid and, on
// first insert only, bumps the conversation's unread counter and recency in
// one atomic upsert. A redelivered event is a no-op.
func (s *Service) RecordInboundMessage(ctx context.Context, ev platform.InboundMessage) (MessageResult, error) {
	if strings.TrimSpace(ev.MessageID) == "" {
		return MessageResult{}, newError(ErrorCodeValidation, "message id is required", nil)
	}
	if ev.PageID == "" || ev.CustomerID == "" {
		return MessageResult{}, newError(ErrorCodeValidation, "page and customer ids are required", nil)
	}

	now := s.now().UTC()
	timestamp := ev.Timestamp
	if timestamp == 0 {
		timestamp = now.UnixMilli()
	}

	conversationID := model.ConversationID(ev.PageID, ev.CustomerID)
	message := model.MessageItem{
		MessageID:      ev.MessageID,
		ConversationID: conversationID,
		SenderID:       ev.CustomerID,
		Body:           ev.Text,
		Timestamp:      timestamp,
		Direction:      model.DirectionIncoming,
		Read:           false,
	}

	if err := s.repo.InsertMessage(ctx, message); err != nil {
		if errors.Is(err, ErrDuplicateMessage) {
			duplicatesSuppressed.Inc()
			s.log.Debug().Str("mid", ev.MessageID).Msg("duplicate inbound delivery suppressed")
			return s.recoverConversation(ctx, ev, message, now)
		}
		ingestFailures.Inc()
		return MessageResult{}, newError(ErrorCodePersistence, "failed to store message", err)
	}

	conversation, err := s.repo.UpsertConversation(ctx, ConversationUpsert{
		ConversationID:  conversationID,
		PageID:          ev.PageID,
		CustomerID:      ev.CustomerID,
		LastMessage:     ev.Text,
		LastMessageAt:   timestamp,
		IncrementUnread: true,
		Now:             now.Format(time.RFC3339),
	})
	if err != nil {
		ingestFailures.Inc()
		return MessageResult{}, newError(ErrorCodePersistence, "failed to upsert conversation", err)
	}

	if conversation.CustomerName == "" && s.profiles != nil {
		conversation = s.enrichProfile(ctx, conversation, now)
	}

	inboundRecorded.Inc()
	s.publishMessage(ctx, realtime.ChangeInsert, message)
	s.publishConversation(ctx, conversationKind(conversation), conversation)

	return MessageResult{Conversation: conversation, Message: message}, nil
}

// RecordOutboundMessage persists a confirmed agent send under its
// platform-assigned mid. The first agent to reply is assigned the
// conversation if nobody holds it yet.
func (s *Service) RecordOutboundMessage(ctx context.Context, out OutboundMessage) (MessageResult, error) {
	if strings.TrimSpace(out.MessageID) == "" {
		return MessageResult{}, newError(ErrorCodeValidation, "message id is required", nil)
	}
	if out.PageID == "" || out.CustomerID == "" {
		return MessageResult{}, newError(ErrorCodeValidation, "page and customer ids are required", nil)
	}
	if strings.TrimSpace(out.Body) == "" {
		return MessageResult{}, newError(ErrorCodeValidation, "message body is required", nil)
	}

	now := s.now().UTC()
	timestamp := out.Timestamp
	if timestamp == 0 {
		timestamp = now.UnixMilli()
	}

	conversationID := model.ConversationID(out.PageID, out.CustomerID)
	message := model.MessageItem{
		MessageID:      out.MessageID,
		ConversationID: conversationID,
		SenderID:       out.AgentID,
		SenderName:     out.AgentName,
		Body:           out.Body,
		Timestamp:      timestamp,
		Direction:      model.DirectionOutgoing,
		Read:           true,
	}

	if err := s.repo.InsertMessage(ctx, message); err != nil {
		if errors.Is(err, ErrDuplicateMessage) {
			duplicatesSuppressed.Inc()
			s.log.Debug().Str("mid", out.MessageID).Msg("duplicate outbound record suppressed")
			return MessageResult{Duplicate: true}, nil
		}
		ingestFailures.Inc()
		return MessageResult{}, newError(ErrorCodePersistence, "failed to store message", err)
	}

	conversation, err := s.repo.UpsertConversation(ctx, ConversationUpsert{
		ConversationID: conversationID,
		PageID:         out.PageID,
		CustomerID:     out.CustomerID,
		LastMessage:    out.Body,
		LastMessageAt:  timestamp,
		AssignAgentID:  out.AgentID,
		Now:            now.Format(time.RFC3339),
	})
	if err != nil {
		ingestFailures.Inc()
		return MessageResult{}, newError(ErrorCodePersistence, "failed to upsert conversation", err)
	}

	outboundRecorded.Inc()
	s.publishMessage(ctx, realtime.ChangeInsert, message)
	s.publishConversation(ctx, conversationKind(conversation), conversation)

	return MessageResult{Conversation: conversation, Message: message}, nil
}

// ApplyDeliveryReceipt marks the referenced messages read. Unknown ids are
// silently ignored: the message may simply not be visible here yet.
func (s *Service) ApplyDeliveryReceipt(ctx context.Context, ev platform.DeliveryReceipt) error {
	if len(ev.MessageIDs) == 0 {
		return nil
	}

	conversationID := model.ConversationID(ev.PageID, ev.CustomerID)
	updated, err := s.repo.MarkMessagesRead(ctx, conversationID, ev.MessageIDs)
	if err != nil {
		ingestFailures.Inc()
		return newError(ErrorCodePersistence, "failed to apply delivery receipt", err)
	}

	for _, message := range updated {
		s.publishMessage(ctx, realtime.ChangeUpdate, message)
	}
	return nil
}

// ApplyReadReceipt marks every outgoing message at or before the watermark
// as read. The boundary is inclusive; two messages sharing the watermark
// timestamp are both marked.
func (s *Service) ApplyReadReceipt(ctx context.Context, ev platform.ReadReceipt) error {
	conversationID := model.ConversationID(ev.PageID, ev.CustomerID)
	updated, err := s.repo.MarkReadThrough(ctx, conversationID, ev.Watermark)
	if err != nil {
		ingestFailures.Inc()
		return newError(ErrorCodePersistence, "failed to apply read receipt", err)
	}

	for _, message := range updated {
		s.publishMessage(ctx, realtime.ChangeUpdate, message)
	}
	return nil
}

// SetConversationStatus performs one of the flat status transitions. Any
// state may move to any other; validity of the target is the only check.
func (s *Service) SetConversationStatus(ctx context.Context, conversationID string, status model.ConversationStatus) (model.ConversationItem, error) {
	if !model.ValidStatus(status) {
		return model.ConversationItem{}, newError(ErrorCodeValidation, fmt.Sprintf("invalid status %q", status), nil)
	}

	conversation, err := s.repo.SetConversationStatus(ctx, conversationID, status, s.now().UTC().Format(time.RFC3339))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return model.ConversationItem{}, newError(ErrorCodeNotFound, "conversation not found", err)
		}
		return model.ConversationItem{}, newError(ErrorCodePersistence, "failed to update status", err)
	}

	s.publishConversation(ctx, realtime.ChangeUpdate, conversation)
	return conversation, nil
}

// ResetUnread zeroes the unread counter; the only way it ever goes down.
func (s *Service) ResetUnread(ctx context.Context, conversationID string) (model.ConversationItem, error) {
	conversation, err := s.repo.ResetUnread(ctx, conversationID, s.now().UTC().Format(time.RFC3339))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return model.ConversationItem{}, newError(ErrorCodeNotFound, "conversation not found", err)
		}
		return model.ConversationItem{}, newError(ErrorCodePersistence, "failed to reset unread", err)
	}

	s.publishConversation(ctx, realtime.ChangeUpdate, conversation)
	return conversation, nil
}

// AssignAgent sets the conversation's assigned agent explicitly.
func (s *Service) AssignAgent(ctx context.Context, conversationID, agentID string) (model.ConversationItem, error) {
	if strings.TrimSpace(agentID) == "" {
		return model.ConversationItem{}, newError(ErrorCodeValidation, "agent id is required", nil)
	}

	conversation, err := s.repo.SetAssignedAgent(ctx, conversationID, agentID, s.now().UTC().Format(time.RFC3339))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return model.ConversationItem{}, newError(ErrorCodeNotFound, "conversation not found", err)
		}
		return model.ConversationItem{}, newError(ErrorCodePersistence, "failed to assign agent", err)
	}

	s.publishConversation(ctx, realtime.ChangeUpdate, conversation)
	return conversation, nil
}

func (s *Service) GetConversation(ctx context.Context, conversationID string) (model.ConversationItem, error) {
	conversation, err := s.repo.GetConversation(ctx, conversationID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return model.ConversationItem{}, newError(ErrorCodeNotFound, "conversation not found", err)
		}
		return model.ConversationItem{}, newError(ErrorCodePersistence, "failed to fetch conversation", err)
	}
	return conversation, nil
}

func (s *Service) ListConversations(ctx context.Context, pageID string, limit int) ([]model.ConversationItem, error) {
	if strings.TrimSpace(pageID) == "" {
		return nil, newError(ErrorCodeValidation, "page id is required", nil)
	}
	if limit <= 0 || limit > 100 {
		limit = 50
	}

	conversations, err := s.repo.ListConversations(ctx, pageID, limit)
	if err != nil {
		return nil, newError(ErrorCodePersistence, "failed to list conversations", err)
	}
	return conversations, nil
}

// ListMessages returns history for a conversation, oldest first. A non-zero
// before timestamp pages further back.
func (s *Service) ListMessages(ctx context.Context, conversationID string, limit int, before int64) ([]model.MessageItem, error) {
	if strings.TrimSpace(conversationID) == "" {
		return nil, newError(ErrorCodeValidation, "conversation id is required", nil)
	}
	if limit <= 0 || limit > 200 {
		limit = 100
	}

	messages, err := s.repo.ListMessages(ctx, conversationID, limit, before)
	if err != nil {
		return nil, newError(ErrorCodePersistence, "failed to list messages", err)
	}
	return messages, nil
}

// recoverConversation runs on redelivery of a mid that is already stored.
// Normally a no-op, but when the original delivery committed the message and
// then lost the conversation write entirely, the row is missing; redelivery
// rebuilds it. A lost unread bump on a row that does exist cannot be told
// apart from one that was applied, so it stays lost.
func (s *Service) recoverConversation(ctx context.Context, ev platform.InboundMessage, message model.MessageItem, now time.Time) (MessageResult, error) {
	if _, err := s.repo.GetConversation(ctx, message.ConversationID); !errors.Is(err, ErrNotFound) {
		return MessageResult{Duplicate: true}, nil
	}

	s.log.Warn().Str("conversationId", message.ConversationID).Msg("rebuilding conversation row lost after message commit")

	conversation, err := s.repo.UpsertConversation(ctx, ConversationUpsert{
		ConversationID:  message.ConversationID,
		PageID:          ev.PageID,
		CustomerID:      ev.CustomerID,
		LastMessage:     message.Body,
		LastMessageAt:   message.Timestamp,
		IncrementUnread: true,
		Now:             now.Format(time.RFC3339),
	})
	if err != nil {
		ingestFailures.Inc()
		return MessageResult{}, newError(ErrorCodePersistence, "failed to rebuild conversation", err)
	}

	s.publishConversation(ctx, conversationKind(conversation), conversation)
	return MessageResult{Conversation: conversation, Duplicate: true}, nil
}

func (s *Service) enrichProfile(ctx context.Context, conversation model.ConversationItem, now time.Time) model.ConversationItem {
	profileCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	profile, err := s.profiles.FetchProfile(profileCtx, conversation.PageID, conversation.CustomerID)
	if err != nil || profile.Name == "" {
		if err != nil {
			s.log.Warn().Err(err).Str("customerId", conversation.CustomerID).Msg("profile enrichment failed")
		}
		return conversation
	}

	enriched, err := s.repo.SetCustomerProfile(ctx, conversation.ConversationID, profile.Name, profile.AvatarURL, now.Format(time.RFC3339))
	if err != nil {
		s.log.Warn().Err(err).Str("conversationId", conversation.ConversationID).Msg("failed to store customer profile")
		return conversation
	}
	return enriched
}

func (s *Service) publishMessage(ctx context.Context, kind realtime.ChangeKind, message model.MessageItem) {
	if s.bus == nil {
		return
	}
	event := realtime.ChangeEvent{
		Kind:           kind,
		Table:          realtime.TableMessages,
		ConversationID: message.ConversationID,
		Message:        &message,
	}
	if err := s.bus.Publish(ctx, realtime.ConversationChannel(message.ConversationID), event); err != nil {
		s.log.Warn().Err(err).Str("conversationId", message.ConversationID).Msg("message fan-out publish failed")
	}
}

func (s *Service) publishConversation(ctx context.Context, kind realtime.ChangeKind, conversation model.ConversationItem) {
	if s.bus == nil {
		return
	}
	event := realtime.ChangeEvent{
		Kind:           kind,
		Table:          realtime.TableConversations,
		ConversationID: conversation.ConversationID,
		Conversation:   &conversation,
	}
	if err := s.bus.Publish(ctx, realtime.InboxChannel(conversation.PageID), event); err != nil {
		s.log.Warn().Err(err).Str("conversationId", conversation.ConversationID).Msg("conversation fan-out publish failed")
	}
}

// conversationKind distinguishes a freshly created row from an update of an
// existing one. On creation both stamps carry the same upsert time.
func conversationKind(conversation model.ConversationItem) realtime.ChangeKind {
	if conversation.CreatedAt == conversation.UpdatedAt && conversation.Unread <= 1 {
		return realtime.ChangeInsert
	}
	return realtime.ChangeUpdate
}
