// Package identity covers responders, teams and the two authentication
// paths: JWT access tokens for the operator API and per-integration API keys
// for the public events API.
package identity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/bissquit/oncall-garden/internal/domain"
	"github.com/bissquit/oncall-garden/internal/identity/jwt"
)

// Service implements authentication and directory lookups.
type Service struct {
	repo   Repository
	tokens *jwt.Authenticator
	logger *slog.Logger
}

// NewService creates an identity service.
func NewService(repo Repository, tokens *jwt.Authenticator, logger *slog.Logger) *Service {
	return &Service{repo: repo, tokens: tokens, logger: logger}
}

// Login verifies email/password and issues an access token.
func (s *Service) Login(ctx context.Context, email, password string) (string, *domain.User, error) {
	user, passwordHash, err := s.repo.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			// Same error as a bad password so the endpoint does not
			// reveal which accounts exist.
			return "", nil, ErrInvalidCredentials
		}
		return "", nil, fmt.Errorf("get user by email: %w", err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(passwordHash), []byte(password)); err != nil {
		return "", nil, ErrInvalidCredentials
	}

	token, err := s.tokens.Issue(user.ID, user.Role)
	if err != nil {
		return "", nil, fmt.Errorf("issue token: %w", err)
	}

	s.logger.Info("user logged in", "user_id", user.ID)
	return token, user, nil
}

// ValidateToken implements httputil.TokenValidator.
func (s *Service) ValidateToken(_ context.Context, token string) (string, domain.Role, error) {
	return s.tokens.Validate(token)
}

// GetUser returns one user by ID.
func (s *Service) GetUser(ctx context.Context, id string) (*domain.User, error) {
	return s.repo.GetUser(ctx, id)
}

// TeamMembers returns the members of a team. When leadOnly is set, only the
// team lead is returned (empty when the team has no lead configured).
func (s *Service) TeamMembers(ctx context.Context, teamID string, leadOnly bool) ([]domain.User, error) {
	team, err := s.repo.GetTeam(ctx, teamID)
	if err != nil {
		return nil, fmt.Errorf("get team: %w", err)
	}

	if leadOnly {
		if team.LeadID == nil {
			return nil, nil
		}
		lead, err := s.repo.GetUser(ctx, *team.LeadID)
		if err != nil {
			if errors.Is(err, ErrUserNotFound) {
				return nil, nil
			}
			return nil, fmt.Errorf("get team lead: %w", err)
		}
		return []domain.User{*lead}, nil
	}

	return s.repo.ListTeamMembers(ctx, teamID)
}

// keySecretCost keeps key verification cheap enough for the hot intake path.
const keySecretCost = bcrypt.MinCost + 2

// IssueIntegrationKey creates an API key for a service and returns the
// plaintext exactly once, in the form "<key id>.<secret>".
func (s *Service) IssueIntegrationKey(ctx context.Context, serviceID, name string) (string, *IntegrationKey, error) {
	secret := uuid.NewString()
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), keySecretCost)
	if err != nil {
		return "", nil, fmt.Errorf("hash key secret: %w", err)
	}

	key := &IntegrationKey{
		ID:         uuid.NewString(),
		ServiceID:  serviceID,
		Name:       name,
		SecretHash: string(hash),
		CreatedAt:  time.Now().UTC(),
	}
	if err := s.repo.CreateIntegrationKey(ctx, key); err != nil {
		return "", nil, fmt.Errorf("create integration key: %w", err)
	}

	s.logger.Info("integration key issued", "key_id", key.ID, "service_id", serviceID)
	return key.ID + "." + secret, key, nil
}

// VerifyIntegrationKey checks a presented "<key id>.<secret>" value and
// returns the matching key record. The key must belong to serviceID.
func (s *Service) VerifyIntegrationKey(ctx context.Context, serviceID, presented string) (*IntegrationKey, error) {
	keyID, secret, ok := strings.Cut(presented, ".")
	if !ok || keyID == "" || secret == "" {
		return nil, ErrInvalidKey
	}

	key, err := s.repo.GetIntegrationKey(ctx, keyID)
	if err != nil {
		if errors.Is(err, ErrKeyNotFound) {
			return nil, ErrInvalidKey
		}
		return nil, fmt.Errorf("get integration key: %w", err)
	}
	if key.ServiceID != serviceID {
		return nil, ErrInvalidKey
	}

	if err := bcrypt.CompareHashAndPassword([]byte(key.SecretHash), []byte(secret)); err != nil {
		return nil, ErrInvalidKey
	}

	if err := s.repo.TouchIntegrationKey(ctx, key.ID, time.Now().UTC()); err != nil {
		// Bookkeeping only; authentication already succeeded.
		s.logger.Warn("update key last_used_at", "key_id", key.ID, "error", err)
	}
	return key, nil
}
