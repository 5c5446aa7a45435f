package dto

type ConversationResponse struct {
	ConversationID  string `json:"conversationId"`
	PageID          string `json:"pageId"`
	CustomerID      string `json:"customerId"`
	CustomerName    string `json:"customerName,omitempty"`
	CustomerAvatar  string `json:"customerAvatar,omitempty"`
	Status          string `json:"status"`
	AssignedAgentID string `json:"assignedAgentId,omitempty"`
	Unread          int    `json:"unread"`
	LastMessage     string `json:"lastMessage"`
	LastMessageAt   int64  `json:"lastMessageAt"`
	LastInboundAt   int64  `json:"lastInboundAt,omitempty"`
	CreatedAt       string `json:"createdAt"`
	UpdatedAt       string `json:"updatedAt"`
}

type MessageResponse struct {
	MessageID      string `json:"messageId"`
	ConversationID string `json:"conversationId"`
	SenderID       string `json:"senderId"`
	SenderName     string `json:"senderName,omitempty"`
	Body           string `json:"body"`
	Timestamp      int64  `json:"timestamp"`
	Direction      string `json:"direction"`
	Read           bool   `json:"read"`
}

type ListConversationsResponse struct {
	Conversations []ConversationResponse `json:"conversations"`
}

type ListMessagesResponse struct {
	Conversation ConversationResponse `json:"conversation"`
	Messages     []MessageResponse    `json:"messages"`
}

type PostAgentMessageRequest struct {
	Body string `json:"body"`
}

type PostAgentMessageResponse struct {
	Message    MessageResponse `json:"message"`
	Restricted bool            `json:"restricted"`
	Warning    string          `json:"warning,omitempty"`
}

type UpdateConversationRequest struct {
	Status          string `json:"status,omitempty"`
	AssignedAgentID string `json:"assignedAgentId,omitempty"`
	MarkRead        bool   `json:"markRead,omitempty"`
}

type UpdateConversationResponse struct {
	Conversation ConversationResponse `json:"conversation"`
}
