package ingest

import (
	"context"
	"errors"
	"sort"
	"strconv"

	"support-inbox-backend/internal/database"
	"support-inbox-backend/internal/model"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

var (
	ErrNotFound         = errors.New("ingest repository: not found")
	ErrDuplicateMessage = errors.New("ingest repository: message id already stored")
)

// ConversationUpsert describes the single atomic write that creates or
// refreshes a conversation. Creation-only fields use if_not_exists so two
// concurrent first-contact events converge on one row; there is no
// check-then-insert anywhere on this path.
type ConversationUpsert struct {
	ConversationID  string
	PageID          string
	CustomerID      string
	LastMessage     string
	LastMessageAt   int64
	IncrementUnread bool
	AssignAgentID   string
	Now             string
}

type Repository interface {
	InsertMessage(ctx context.Context, message model.MessageItem) error
	UpsertConversation(ctx context.Context, up ConversationUpsert) (model.ConversationItem, error)
	SetCustomerProfile(ctx context.Context, conversationID, name, avatar, updatedAt string) (model.ConversationItem, error)
	GetConversation(ctx context.Context, conversationID string) (model.ConversationItem, error)
	ListConversations(ctx context.Context, pageID string, limit int) ([]model.ConversationItem, error)
	ListMessages(ctx context.Context, conversationID string, limit int, before int64) ([]model.MessageItem, error)
	MarkMessagesRead(ctx context.Context, conversationID string, messageIDs []string) ([]model.MessageItem, error)
	MarkReadThrough(ctx context.Context, conversationID string, watermark int64) ([]model.MessageItem, error)
	SetConversationStatus(ctx context.Context, conversationID string, status model.ConversationStatus, updatedAt string) (model.ConversationItem, error)
	SetAssignedAgent(ctx context.Context, conversationID, agentID, updatedAt string) (model.ConversationItem, error)
	ResetUnread(ctx context.Context, conversationID, updatedAt string) (model.ConversationItem, error)
}

type DynamoRepository struct {
	db *database.Database
}

func NewDynamoRepository(db *database.Database) Repository {
	return &DynamoRepository{db: db}
}

func (r *DynamoRepository) InsertMessage(ctx context.Context, message model.MessageItem) error {
	err := r.db.Client.PutItemIfAbsent(ctx, model.MessagesTable, "messageId", message)
	if errors.Is(err, database.ErrConditionFailed) {
		return ErrDuplicateMessage
	}
	return err
}

func (r *DynamoRepository) UpsertConversation(ctx context.Context, up ConversationUpsert) (model.ConversationItem, error) {
	updateExpr := "SET lastMessage = :lastMessage, lastMessageAt = :lastMessageAt, updatedAt = :now, " +
		"createdAt = if_not_exists(createdAt, :now), #status = if_not_exists(#status, :open), " +
		"pageId = if_not_exists(pageId, :pageId), customerId = if_not_exists(customerId, :customerId)"
	exprValues := map[string]types.AttributeValue{
		":lastMessage":   &types.AttributeValueMemberS{Value: up.LastMessage},
		":lastMessageAt": &types.AttributeValueMemberN{Value: formatInt(up.LastMessageAt)},
		":now":           &types.AttributeValueMemberS{Value: up.Now},
		":open":          &types.AttributeValueMemberS{Value: string(model.ConversationStatusOpen)},
		":pageId":        &types.AttributeValueMemberS{Value: up.PageID},
		":customerId":    &types.AttributeValueMemberS{Value: up.CustomerID},
	}
	attrNames := map[string]string{
		"#status": "status",
	}

	if up.AssignAgentID != "" {
		updateExpr += ", assignedAgentId = if_not_exists(assignedAgentId, :agentId)"
		exprValues[":agentId"] = &types.AttributeValueMemberS{Value: up.AssignAgentID}
	}

	if up.IncrementUnread {
		// Inbound contact: the messaging window is measured from this stamp.
		updateExpr += ", lastInboundAt = :lastMessageAt ADD unread :one"
		exprValues[":one"] = &types.AttributeValueMemberN{Value: "1"}
	} else {
		updateExpr += ", unread = if_not_exists(unread, :zero)"
		exprValues[":zero"] = &types.AttributeValueMemberN{Value: "0"}
	}

	var conversation model.ConversationItem
	err := r.db.Client.UpdateItem(
		ctx,
		model.ConversationsTable,
		conversationKey(up.ConversationID),
		updateExpr,
		nil,
		exprValues,
		attrNames,
		&conversation,
	)
	if err != nil {
		return model.ConversationItem{}, err
	}
	return conversation, nil
}

func (r *DynamoRepository) SetCustomerProfile(ctx context.Context, conversationID, name, avatar, updatedAt string) (model.ConversationItem, error) {
	var conversation model.ConversationItem
	err := r.db.Client.UpdateItem(
		ctx,
		model.ConversationsTable,
		conversationKey(conversationID),
		"SET customerName = :name, customerAvatar = :avatar, updatedAt = :now",
		aws.String("attribute_exists(conversationId)"),
		map[string]types.AttributeValue{
			":name":   &types.AttributeValueMemberS{Value: name},
			":avatar": &types.AttributeValueMemberS{Value: avatar},
			":now":    &types.AttributeValueMemberS{Value: updatedAt},
		},
		nil,
		&conversation,
	)
	if errors.Is(err, database.ErrConditionFailed) {
		return model.ConversationItem{}, ErrNotFound
	}
	if err != nil {
		return model.ConversationItem{}, err
	}
	return conversation, nil
}

func (r *DynamoRepository) GetConversation(ctx context.Context, conversationID string) (model.ConversationItem, error) {
	var conversation model.ConversationItem
	err := r.db.Client.GetItem(ctx, model.ConversationsTable, conversationKey(conversationID), &conversation)
	if errors.Is(err, database.ErrItemNotFound) {
		return model.ConversationItem{}, ErrNotFound
	}
	if err != nil {
		return model.ConversationItem{}, err
	}
	return conversation, nil
}

func (r *DynamoRepository) ListConversations(ctx context.Context, pageID string, limit int) ([]model.ConversationItem, error) {
	scanForward := false
	items, err := r.db.Client.QueryItems(
		ctx,
		model.ConversationsTable,
		aws.String("byPage"),
		"pageId = :pageId",
		map[string]types.AttributeValue{
			":pageId": &types.AttributeValueMemberS{Value: pageID},
		},
		nil,
		&scanForward,
	)
	if err != nil {
		items, err = r.db.Client.ScanItems(
			ctx,
			model.ConversationsTable,
			"pageId = :pageId",
			map[string]types.AttributeValue{
				":pageId": &types.AttributeValueMemberS{Value: pageID},
			},
			nil,
		)
		if err != nil {
			return nil, err
		}
	}

	conversations := make([]model.ConversationItem, 0, len(items))
	for _, item := range items {
		var conversation model.ConversationItem
		if err := attributevalue.UnmarshalMap(item, &conversation); err != nil {
			return nil, err
		}
		conversations = append(conversations, conversation)
	}

	sort.Slice(conversations, func(i, j int) bool {
		return conversations[i].LastMessageAt > conversations[j].LastMessageAt
	})

	if limit > 0 && len(conversations) > limit {
		conversations = conversations[:limit]
	}

	return conversations, nil
}

func (r *DynamoRepository) ListMessages(ctx context.Context, conversationID string, limit int, before int64) ([]model.MessageItem, error) {
	messages, err := r.messagesForConversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}

	if before > 0 {
		filtered := messages[:0]
		for _, message := range messages {
			if message.Timestamp < before {
				filtered = append(filtered, message)
			}
		}
		messages = filtered
	}

	sort.Slice(messages, func(i, j int) bool {
		return messages[i].Timestamp < messages[j].Timestamp
	})

	if limit > 0 && len(messages) > limit {
		messages = messages[len(messages)-limit:]
	}

	return messages, nil
}

func (r *DynamoRepository) MarkMessagesRead(ctx context.Context, conversationID string, messageIDs []string) ([]model.MessageItem, error) {
	updated := make([]model.MessageItem, 0, len(messageIDs))
	for _, messageID := range messageIDs {
		var message model.MessageItem
		err := r.db.Client.UpdateItem(
			ctx,
			model.MessagesTable,
			map[string]types.AttributeValue{
				"messageId": &types.AttributeValueMemberS{Value: messageID},
			},
			"SET #read = :true",
			aws.String("attribute_exists(messageId) AND conversationId = :conv"),
			map[string]types.AttributeValue{
				":true": &types.AttributeValueMemberBOOL{Value: true},
				":conv": &types.AttributeValueMemberS{Value: conversationID},
			},
			map[string]string{"#read": "read"},
			&message,
		)
		if errors.Is(err, database.ErrConditionFailed) {
			// Unknown id, or a message from another conversation: ignored.
			continue
		}
		if err != nil {
			return updated, err
		}
		updated = append(updated, message)
	}
	return updated, nil
}

func (r *DynamoRepository) MarkReadThrough(ctx context.Context, conversationID string, watermark int64) ([]model.MessageItem, error) {
	messages, err := r.messagesForConversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}

	pending := make([]string, 0)
	for _, message := range messages {
		if message.Direction != model.DirectionOutgoing || message.Read {
			continue
		}
		if message.Timestamp <= watermark {
			pending = append(pending, message.MessageID)
		}
	}

	return r.MarkMessagesRead(ctx, conversationID, pending)
}

func (r *DynamoRepository) SetConversationStatus(ctx context.Context, conversationID string, status model.ConversationStatus, updatedAt string) (model.ConversationItem, error) {
	var conversation model.ConversationItem
	err := r.db.Client.UpdateItem(
		ctx,
		model.ConversationsTable,
		conversationKey(conversationID),
		"SET #status = :status, updatedAt = :now",
		aws.String("attribute_exists(conversationId)"),
		map[string]types.AttributeValue{
			":status": &types.AttributeValueMemberS{Value: string(status)},
			":now":    &types.AttributeValueMemberS{Value: updatedAt},
		},
		map[string]string{"#status": "status"},
		&conversation,
	)
	if errors.Is(err, database.ErrConditionFailed) {
		return model.ConversationItem{}, ErrNotFound
	}
	if err != nil {
		return model.ConversationItem{}, err
	}
	return conversation, nil
}

func (r *DynamoRepository) SetAssignedAgent(ctx context.Context, conversationID, agentID, updatedAt string) (model.ConversationItem, error) {
	var conversation model.ConversationItem
	err := r.db.Client.UpdateItem(
		ctx,
		model.ConversationsTable,
		conversationKey(conversationID),
		"SET assignedAgentId = :agentId, updatedAt = :now",
		aws.String("attribute_exists(conversationId)"),
		map[string]types.AttributeValue{
			":agentId": &types.AttributeValueMemberS{Value: agentID},
			":now":     &types.AttributeValueMemberS{Value: updatedAt},
		},
		nil,
		&conversation,
	)
	if errors.Is(err, database.ErrConditionFailed) {
		return model.ConversationItem{}, ErrNotFound
	}
	if err != nil {
		return model.ConversationItem{}, err
	}
	return conversation, nil
}

func (r *DynamoRepository) ResetUnread(ctx context.Context, conversationID, updatedAt string) (model.ConversationItem, error) {
	var conversation model.ConversationItem
	err := r.db.Client.UpdateItem(
		ctx,
		model.ConversationsTable,
		conversationKey(conversationID),
		"SET unread = :zero, updatedAt = :now",
		aws.String("attribute_exists(conversationId)"),
		map[string]types.AttributeValue{
			":zero": &types.AttributeValueMemberN{Value: "0"},
			":now":  &types.AttributeValueMemberS{Value: updatedAt},
		},
		nil,
		&conversation,
	)
	if errors.Is(err, database.ErrConditionFailed) {
		return model.ConversationItem{}, ErrNotFound
	}
	if err != nil {
		return model.ConversationItem{}, err
	}
	return conversation, nil
}

func (r *DynamoRepository) messagesForConversation(ctx context.Context, conversationID string) ([]model.MessageItem, error) {
	scanForward := true
	items, err := r.db.Client.QueryItems(
		ctx,
		model.MessagesTable,
		aws.String("byConversation"),
		"conversationId = :conversationId",
		map[string]types.AttributeValue{
			":conversationId": &types.AttributeValueMemberS{Value: conversationID},
		},
		nil,
		&scanForward,
	)
	if err != nil {
		items, err = r.db.Client.ScanItems(
			ctx,
			model.MessagesTable,
			"conversationId = :conversationId",
			map[string]types.AttributeValue{
				":conversationId": &types.AttributeValueMemberS{Value: conversationID},
			},
			nil,
		)
		if err != nil {
			return nil, err
		}
	}

	messages := make([]model.MessageItem, 0, len(items))
	for _, item := range items {
		var message model.MessageItem
		if err := attributevalue.UnmarshalMap(item, &message); err != nil {
			return nil, err
		}
		messages = append(messages, message)
	}
	return messages, nil
}

func conversationKey(conversationID string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"conversationId": &types.AttributeValueMemberS{Value: conversationID},
	}
}

func formatInt(v int64) string {
	return strconv.FormatInt(v, 10)
}
