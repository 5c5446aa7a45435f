package model

const (
	PagesTable         = "Pages"
	AgentsTable        = "Agents"
	ConversationsTable = "Conversations"
	MessagesTable      = "Messages"
)

type PageItem struct {
	PageID      string `dynamodbav:"pageId" json:"pageId"`
	Name        string `dynamodbav:"name" json:"name"`
	AccessToken string `dynamodbav:"accessToken" json:"-"`
	CreatedAt   string `dynamodbav:"createdAt" json:"createdAt"`
}

type AgentItem struct {
	AgentID   string `dynamodbav:"agentId" json:"agentId"`
	Email     string `dynamodbav:"email" json:"email"`
	Name      string `dynamodbav:"name" json:"name"`
	Status    string `dynamodbav:"status" json:"status"`
	CreatedAt string `dynamodbav:"createdAt" json:"createdAt"`
}
