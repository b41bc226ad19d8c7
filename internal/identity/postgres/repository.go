// Package postgres implements the identity repository on pgx.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bissquit/oncall-garden/internal/domain"
	"github.com/bissquit/oncall-garden/internal/identity"
)

// Repository implements identity.Repository.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a repository backed by the given pool.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const userColumns = `id, name, email, phone, role, created_at, updated_at`

func scanUser(row pgx.Row) (*domain.User, error) {
	var u domain.User
	err := row.Scan(&u.ID, &u.Name, &u.Email, &u.Phone, &u.Role, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// GetUser returns one user by ID.
func (r *Repository) GetUser(ctx context.Context, id string) (*domain.User, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
	u, err := scanUser(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, identity.ErrUserNotFound
		}
		return nil, fmt.Errorf("query user: %w", err)
	}
	return u, nil
}

// GetUserByEmail returns a user and their password hash.
func (r *Repository) GetUserByEmail(ctx context.Context, email string) (*domain.User, string, error) {
	var (
		u    domain.User
		hash string
	)
	err := r.pool.QueryRow(ctx,
		`SELECT `+userColumns+`, password_hash FROM users WHERE email = $1`, email,
	).Scan(&u.ID, &u.Name, &u.Email, &u.Phone, &u.Role, &u.CreatedAt, &u.UpdatedAt, &hash)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, "", identity.ErrUserNotFound
		}
		return nil, "", fmt.Errorf("query user by email: %w", err)
	}
	return &u, hash, nil
}

// ListUsersByIDs returns the users for the given IDs, preserving no
// particular order. Missing IDs are silently skipped.
func (r *Repository) ListUsersByIDs(ctx context.Context, ids []string) ([]domain.User, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := r.pool.Query(ctx, `SELECT `+userColumns+` FROM users WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, fmt.Errorf("query users: %w", err)
	}
	defer rows.Close()

	var users []domain.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		users = append(users, *u)
	}
	return users, rows.Err()
}

// GetTeam returns one team by ID.
func (r *Repository) GetTeam(ctx context.Context, id string) (*domain.Team, error) {
	var t domain.Team
	err := r.pool.QueryRow(ctx,
		`SELECT id, name, lead_id, created_at, updated_at FROM teams WHERE id = $1`, id,
	).Scan(&t.ID, &t.Name, &t.LeadID, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, identity.ErrTeamNotFound
		}
		return nil, fmt.Errorf("query team: %w", err)
	}
	return &t, nil
}

// ListTeamMembers returns the users belonging to a team.
func (r *Repository) ListTeamMembers(ctx context.Context, teamID string) ([]domain.User, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT u.id, u.name, u.email, u.phone, u.role, u.created_at, u.updated_at
		FROM users u
		JOIN team_members tm ON tm.user_id = u.id
		WHERE tm.team_id = $1
		ORDER BY u.name`, teamID)
	if err != nil {
		return nil, fmt.Errorf("query team members: %w", err)
	}
	defer rows.Close()

	var users []domain.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("scan team member: %w", err)
		}
		users = append(users, *u)
	}
	return users, rows.Err()
}

// CreateIntegrationKey stores a new key.
func (r *Repository) CreateIntegrationKey(ctx context.Context, key *identity.IntegrationKey) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO integration_keys (id, service_id, name, secret_hash, created_at)
		VALUES ($1, $2, $3, $4, $5)`,
		key.ID, key.ServiceID, key.Name, key.SecretHash, key.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert integration key: %w", err)
	}
	return nil
}

// GetIntegrationKey returns one key by ID.
func (r *Repository) GetIntegrationKey(ctx context.Context, id string) (*identity.IntegrationKey, error) {
	var k identity.IntegrationKey
	err := r.pool.QueryRow(ctx, `
		SELECT id, service_id, name, secret_hash, created_at, last_used_at
		FROM integration_keys WHERE id = $1`, id,
	).Scan(&k.ID, &k.ServiceID, &k.Name, &k.SecretHash, &k.CreatedAt, &k.LastUsedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, identity.ErrKeyNotFound
		}
		return nil, fmt.Errorf("query integration key: %w", err)
	}
	return &k, nil
}

// TouchIntegrationKey records key usage.
func (r *Repository) TouchIntegrationKey(ctx context.Context, id string, usedAt time.Time) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE integration_keys SET last_used_at = $2 WHERE id = $1`, id, usedAt)
	if err != nil {
		return fmt.Errorf("touch integration key: %w", err)
	}
	return nil
}
