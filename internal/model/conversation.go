package model

import "fmt"

type ConversationStatus string

const (
	ConversationStatusOpen     ConversationStatus = "open"
	ConversationStatusPending  ConversationStatus = "pending"
	ConversationStatusResolved ConversationStatus = "resolved"
)

// ValidStatus reports whether s is one of the three conversation states.
// Every pairwise transition between them is allowed, so validity of the
// target state is the only transition check.
func ValidStatus(s ConversationStatus) bool {
	switch s {
	case ConversationStatusOpen, ConversationStatusPending, ConversationStatusResolved:
		return true
	}
	return false
}

// ConversationID derives the conversation identity from the page and the
// customer. It is a pure function so concurrent first-contact events for the
// same pair converge on the same row without coordination.
func ConversationID(pageID, customerID string) string {
	return fmt.Sprintf("%s_%s", pageID, customerID)
}

type MessageDirection string

const (
	DirectionIncoming MessageDirection = "in"
	DirectionOutgoing MessageDirection = "out"
)

type ConversationItem struct {
	ConversationID  string             `dynamodbav:"conversationId" json:"conversationId"`
	PageID          string             `dynamodbav:"pageId" json:"pageId"`
	CustomerID      string             `dynamodbav:"customerId" json:"customerId"`
	CustomerName    string             `dynamodbav:"customerName,omitempty" json:"customerName,omitempty"`
	CustomerAvatar  string             `dynamodbav:"customerAvatar,omitempty" json:"customerAvatar,omitempty"`
	Status          ConversationStatus `dynamodbav:"status" json:"status"`
	AssignedAgentID string             `dynamodbav:"assignedAgentId,omitempty" json:"assignedAgentId,omitempty"`
	Unread          int                `dynamodbav:"unread" json:"unread"`
	LastMessage     string             `dynamodbav:"lastMessage" json:"lastMessage"`
	LastMessageAt   int64              `dynamodbav:"lastMessageAt" json:"lastMessageAt"`
	LastInboundAt   int64              `dynamodbav:"lastInboundAt,omitempty" json:"lastInboundAt,omitempty"`
	CreatedAt       string             `dynamodbav:"createdAt" json:"createdAt"`
	UpdatedAt       string             `dynamodbav:"updatedAt" json:"updatedAt"`
}

// MessageItem is keyed on the platform message id for inbound messages and
// on the platform-assigned id returned by the send call for outbound ones.
// The key is what makes replayed webhook deliveries no-ops.
type MessageItem struct {
	MessageID      string           `dynamodbav:"messageId" json:"messageId"`
	ConversationID string           `dynamodbav:"conversationId" json:"conversationId"`
	SenderID       string           `dynamodbav:"senderId" json:"senderId"`
	SenderName     string           `dynamodbav:"senderName,omitempty" json:"senderName,omitempty"`
	Body           string           `dynamodbav:"body" json:"body"`
	Timestamp      int64            `dynamodbav:"timestamp" json:"timestamp"`
	Direction      MessageDirection `dynamodbav:"direction" json:"direction"`
	Read           bool             `dynamodbav:"read" json:"read"`
}
