package catalog

import (
	"context"

	"github.com/bissquit/oncall-garden/internal/domain"
)

// Repository is the persistence boundary for services and policies.
type Repository interface {
	CreateService(ctx context.Context, svc *domain.Service) error
	GetService(ctx context.Context, id string) (*domain.Service, error)
	GetServiceBySlug(ctx context.Context, slug string) (*domain.Service, error)
	ListServices(ctx context.Context) ([]domain.Service, error)
	UpdateService(ctx context.Context, svc *domain.Service) error

	CreatePolicy(ctx context.Context, policy *domain.EscalationPolicy) error
	GetPolicy(ctx context.Context, id string) (*domain.EscalationPolicy, error)
	ListPolicies(ctx context.Context) ([]domain.EscalationPolicy, error)

	CreateStep(ctx context.Context, step *domain.EscalationStep) error
	DeleteStep(ctx context.Context, policyID, stepID string) error
	ReplaceSteps(ctx context.Context, policyID string, steps []domain.EscalationStep) error
}
