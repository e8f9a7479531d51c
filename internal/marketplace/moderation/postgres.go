package moderation

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"marketplace-workers/internal/common/database"
	"marketplace-workers/internal/models"
)

const (
	lockProviderQuery = `SELECT is_verified, is_active FROM providers WHERE id = $1 FOR UPDATE`

	setFlagsQuery = `UPDATE providers SET is_verified = $2, is_active = $3, updated_at = $4 WHERE id = $1`

	deactivateOffersQuery = `UPDATE offers SET is_active = FALSE, updated_at = $2 WHERE provider_id = $1 AND is_active`

	countActiveOffersQuery = `SELECT COUNT(*) FROM offers WHERE provider_id = $1 AND is_active`

	insertNotificationQuery = `
		INSERT INTO notification_outbox (id, recipient_id, recipient_type, type, payload, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

	insertAuditQuery = `
		INSERT INTO audit_log (event_type, entity_id, actor_role, details, created_at)
		VALUES ($1, $2, $3, $4, $5)`
)

type PostgresStore struct {
	db *database.PostgresClient
}

func NewPostgresStore(db *database.PostgresClient) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) WithProvider(ctx context.Context, providerID string, fn func(Tx, Flags) error) error {
	return s.db.WithTx(ctx, func(tx *sql.Tx) error {
		var f Flags
		err := tx.QueryRowContext(ctx, lockProviderQuery, providerID).Scan(&f.IsVerified, &f.IsActive)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: %s", ErrProviderNotFound, providerID)
		}
		if err != nil {
			return fmt.Errorf("lock provider: %w", err)
		}
		return fn(&pgTx{tx: tx, providerID: providerID}, f)
	})
}

type pgTx struct {
	tx         *sql.Tx
	providerID string
}

func (p *pgTx) SetFlags(ctx context.Context, f Flags, now time.Time) error {
	if _, err := p.tx.ExecContext(ctx, setFlagsQuery, p.providerID, f.IsVerified, f.IsActive, now); err != nil {
		return fmt.Errorf("update provider flags: %w", err)
	}
	return nil
}

func (p *pgTx) DeactivateOffers(ctx context.Context, now time.Time) (int64, error) {
	res, err := p.tx.ExecContext(ctx, deactivateOffersQuery, p.providerID, now)
	if err != nil {
		return 0, fmt.Errorf("deactivate offers: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("deactivate offers: %w", err)
	}
	return n, nil
}

func (p *pgTx) CountActiveOffers(ctx context.Context) (int, error) {
	var n int
	if err := p.tx.QueryRowContext(ctx, countActiveOffersQuery, p.providerID).Scan(&n); err != nil {
		return 0, fmt.Errorf("count active offers: %w", err)
	}
	return n, nil
}

func (p *pgTx) EnqueueNotification(ctx context.Context, n *models.Notification) error {
	payload, err := json.Marshal(n.Payload)
	if err != nil {
		return fmt.Errorf("encode notification payload: %w", err)
	}
	if _, err := p.tx.ExecContext(ctx, insertNotificationQuery,
		n.ID, n.RecipientID, n.RecipientType, n.Type, string(payload), n.Status, n.CreatedAt,
	); err != nil {
		return fmt.Errorf("enqueue notification: %w", err)
	}
	return nil
}

func (p *pgTx) AppendAudit(ctx context.Context, e AuditEntry) error {
	details, err := json.Marshal(e.Details)
	if err != nil {
		return fmt.Errorf("encode audit details: %w", err)
	}
	if _, err := p.tx.ExecContext(ctx, insertAuditQuery,
		e.EventType, e.EntityID, e.ActorRole, string(details), e.CreatedAt,
	); err != nil {
		return fmt.Errorf("append audit log: %w", err)
	}
	return nil
}
