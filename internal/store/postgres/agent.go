package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"agentplane/internal/store"

	"github.com/google/uuid"
)

// CreateAgent inserts a new agent row. The command slice is stored as a
// JSON array.
func (s *Store) CreateAgent(ctx context.Context, tx store.DBTransaction, agent *store.Agent) error {
	query := `
		INSERT INTO agents (id, owner_id, name, type, image, command, default_timeout, memory_limit_mb, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`

	cmdJSON, err := json.Marshal(agent.Command)
	if err != nil {
		return err
	}

	executor := s.getExecutor(tx)
	_, err = executor.ExecContext(ctx, query,
		agent.ID,
		agent.OwnerID,
		agent.Name,
		agent.Type,
		agent.Image,
		cmdJSON,
		agent.DefaultTimeout,
		agent.MemoryLimitMB,
		agent.Status,
		agent.CreatedAt,
	)
	return err
}

func (s *Store) GetAgentByID(ctx context.Context, id uuid.UUID) (*store.Agent, error) {
	query := `
		SELECT id, owner_id, name, type, image, command, default_timeout, memory_limit_mb, status, created_at
		FROM agents WHERE id = $1
	`

	var agent store.Agent
	var cmdJSON []byte

	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&agent.ID, &agent.OwnerID, &agent.Name, &agent.Type, &agent.Image,
		&cmdJSON, &agent.DefaultTimeout, &agent.MemoryLimitMB, &agent.Status,
		&agent.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	if len(cmdJSON) > 0 {
		if err := json.Unmarshal(cmdJSON, &agent.Command); err != nil {
			return nil, fmt.Errorf("corrupt command for agent %s: %w", id, err)
		}
	}

	return &agent, nil
}

// SetAgentStatus flips an agent between active and stopped, scoped to the
// owning organization.
func (s *Store) SetAgentStatus(ctx context.Context, tx store.DBTransaction, agentID, ownerID uuid.UUID, status store.AgentStatus) error {
	executor := s.getExecutor(tx)

	res, err := executor.ExecContext(ctx,
		"UPDATE agents SET status = $1 WHERE id = $2 AND owner_id = $3",
		status, agentID, ownerID,
	)
	if err != nil {
		return err
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("agent %s not found for owner %s", agentID, ownerID)
	}
	return nil
}

// HasActiveAccess reports whether the organization owns the agent or holds
// an active purchase for it.
func (s *Store) HasActiveAccess(ctx context.Context, orgID, agentID uuid.UUID) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1 FROM agents WHERE id = $2 AND owner_id = $1
			UNION ALL
			SELECT 1 FROM purchases WHERE organization_id = $1 AND agent_id = $2 AND status = 'active'
		)
	`

	var allowed bool
	if err := s.db.QueryRowContext(ctx, query, orgID, agentID).Scan(&allowed); err != nil {
		return false, err
	}
	return allowed, nil
}
