package postgres

import (
	"context"

	"agentplane/internal/store"

	"github.com/google/uuid"
)

func (s *Store) CreateOrganization(ctx context.Context, org *store.Organization, hashedKey string) error {
	query := `
		INSERT INTO organizations (id, name, api_key_hash, tier, rate_limit, rate_limit_burst, max_concurrent_executions, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	_, err := s.db.ExecContext(ctx, query,
		org.ID,
		org.Name,
		hashedKey,
		org.Tier,
		org.RateLimit,
		org.RateLimitBurst,
		org.MaxConcurrentExecutions,
		org.CreatedAt,
	)
	return err
}

func (s *Store) GetOrganizationByID(ctx context.Context, id uuid.UUID) (*store.Organization, error) {
	query := "SELECT id, name, tier, rate_limit, rate_limit_burst, max_concurrent_executions, created_at FROM organizations WHERE id = $1"
	return s.scanOrganization(s.db.QueryRowContext(ctx, query, id))
}

func (s *Store) GetOrganizationByAPIKeyHash(ctx context.Context, hash string) (*store.Organization, error) {
	query := "SELECT id, name, tier, rate_limit, rate_limit_burst, max_concurrent_executions, created_at FROM organizations WHERE api_key_hash = $1"
	return s.scanOrganization(s.db.QueryRowContext(ctx, query, hash))
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func (s *Store) scanOrganization(row rowScanner) (*store.Organization, error) {
	var o store.Organization
	err := row.Scan(
		&o.ID,
		&o.Name,
		&o.Tier,
		&o.RateLimit,
		&o.RateLimitBurst,
		&o.MaxConcurrentExecutions,
		&o.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &o, nil
}
