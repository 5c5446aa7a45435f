package directory

import (
	"context"
	"errors"

	"support-inbox-backend/internal/database"
	"support-inbox-backend/internal/model"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

var ErrNotFound = errors.New("directory repository: not found")

type Repository interface {
	GetPage(ctx context.Context, pageID string) (model.PageItem, error)
	PutPage(ctx context.Context, page model.PageItem) error
	GetAgent(ctx context.Context, agentID string) (model.AgentItem, error)
}

type DynamoRepository struct {
	db *database.Database
}

func NewDynamoRepository(db *database.Database) Repository {
	return &DynamoRepository{db: db}
}

func (r *DynamoRepository) GetPage(ctx context.Context, pageID string) (model.PageItem, error) {
	var page model.PageItem
	err := r.db.Client.GetItem(
		ctx,
		model.PagesTable,
		map[string]types.AttributeValue{
			"pageId": &types.AttributeValueMemberS{Value: pageID},
		},
		&page,
	)
	if errors.Is(err, database.ErrItemNotFound) {
		return model.PageItem{}, ErrNotFound
	}
	if err != nil {
		return model.PageItem{}, err
	}
	return page, nil
}

func (r *DynamoRepository) PutPage(ctx context.Context, page model.PageItem) error {
	return r.db.Client.PutItem(ctx, model.PagesTable, page)
}

func (r *DynamoRepository) GetAgent(ctx context.Context, agentID string) (model.AgentItem, error) {
	var agent model.AgentItem
	err := r.db.Client.GetItem(
		ctx,
		model.AgentsTable,
		map[string]types.AttributeValue{
			"agentId": &types.AttributeValueMemberS{Value: agentID},
		},
		&agent,
	)
	if errors.Is(err, database.ErrItemNotFound) {
		return model.AgentItem{}, ErrNotFound
	}
	if err != nil {
		return model.AgentItem{}, err
	}
	return agent, nil
}
