package identity

import (
	"context"
	"time"

	"github.com/bissquit/oncall-garden/internal/domain"
)

// IntegrationKey authenticates an external monitoring integration against
// one service. SecretHash is a bcrypt hash; the plaintext secret is shown
// once at creation and never stored.
type IntegrationKey struct {
	ID         string
	ServiceID  string
	Name       string
	SecretHash string
	CreatedAt  time.Time
	LastUsedAt *time.Time
}

// Repository is the persistence boundary for users, teams and keys.
type Repository interface {
	GetUser(ctx context.Context, id string) (*domain.User, error)
	GetUserByEmail(ctx context.Context, email string) (*domain.User, string, error)
	ListUsersByIDs(ctx context.Context, ids []string) ([]domain.User, error)

	GetTeam(ctx context.Context, id string) (*domain.Team, error)
	ListTeamMembers(ctx context.Context, teamID string) ([]domain.User, error)

	CreateIntegrationKey(ctx context.Context, key *IntegrationKey) error
	GetIntegrationKey(ctx context.Context, id string) (*IntegrationKey, error)
	TouchIntegrationKey(ctx context.Context, id string, usedAt time.Time) error
}
