package subscription

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"marketplace-workers/internal/common/database"
	"marketplace-workers/internal/models"
)

const (
	selectPlanQuery = `SELECT plan_tier, plan_expires_at, plan_auto_renew FROM providers WHERE id = $1`

	lockPlanQuery = selectPlanQuery + ` FOR UPDATE`

	updatePlanQuery = `
		UPDATE providers
		SET plan_tier = $2, plan_expires_at = $3, plan_auto_renew = $4, updated_at = NOW()
		WHERE id = $1`
)

type PostgresStore struct {
	db *database.PostgresClient
}

func NewPostgresStore(db *database.PostgresClient) *PostgresStore {
	return &PostgresStore{db: db}
}

type rowQuerier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func loadState(ctx context.Context, q rowQuerier, query, providerID string) (State, error) {
	var (
		st      State
		tier    string
		expires sql.NullTime
	)
	err := q.QueryRowContext(ctx, query, providerID).Scan(&tier, &expires, &st.AutoRenew)
	if errors.Is(err, sql.ErrNoRows) {
		return st, fmt.Errorf("%w: %s", ErrProviderNotFound, providerID)
	}
	if err != nil {
		return st, fmt.Errorf("load plan: %w", err)
	}
	st.Tier = models.PlanTier(tier)
	if expires.Valid {
		st.ExpiresAt = &expires.Time
	}
	return st, nil
}

func (s *PostgresStore) Load(ctx context.Context, providerID string) (State, error) {
	return loadState(ctx, s.db.DB, selectPlanQuery, providerID)
}

func (s *PostgresStore) Update(ctx context.Context, providerID string, fn func(State) (State, error)) error {
	return s.db.WithTx(ctx, func(tx *sql.Tx) error {
		cur, err := loadState(ctx, tx, lockPlanQuery, providerID)
		if err != nil {
			return err
		}
		next, err := fn(cur)
		if err != nil {
			return err
		}

		var expires sql.NullTime
		if next.ExpiresAt != nil {
			expires = sql.NullTime{Time: *next.ExpiresAt, Valid: true}
		}
		if _, err := tx.ExecContext(ctx, updatePlanQuery, providerID, string(next.Tier), expires, next.AutoRenew); err != nil {
			return fmt.Errorf("update plan: %w", err)
		}
		return nil
	})
}
