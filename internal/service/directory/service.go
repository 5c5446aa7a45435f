// Package directory is the read surface over Pages and Agents. Provisioning
// them is an administrative concern elsewhere; the ingestion core only needs
// lookups, most importantly the page access token for outbound sends.
package directory

import (
	"context"
	"errors"
	"strings"

	"support-inbox-backend/internal/database"
	"support-inbox-backend/internal/model"
)

type Service struct {
	repo Repository
}

func New(db *database.Database) *Service {
	return &Service{repo: NewDynamoRepository(db)}
}

func NewWithRepository(repo Repository) *Service {
	return &Service{repo: repo}
}

func (s *Service) GetPage(ctx context.Context, pageID string) (model.PageItem, error) {
	if strings.TrimSpace(pageID) == "" {
		return model.PageItem{}, errors.New("page id is required")
	}
	return s.repo.GetPage(ctx, pageID)
}

func (s *Service) GetAgent(ctx context.Context, agentID string) (model.AgentItem, error) {
	if strings.TrimSpace(agentID) == "" {
		return model.AgentItem{}, errors.New("agent id is required")
	}
	return s.repo.GetAgent(ctx, agentID)
}

// PageAccessToken satisfies the platform client's TokenSource.
func (s *Service) PageAccessToken(ctx context.Context, pageID string) (string, error) {
	page, err := s.GetPage(ctx, pageID)
	if err != nil {
		return "", err
	}
	if page.AccessToken == "" {
		return "", errors.New("page has no access token configured")
	}
	return page.AccessToken, nil
}
