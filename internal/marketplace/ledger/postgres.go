package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"marketplace-workers/internal/common/database"
	"marketplace-workers/internal/models"
)

const pgCheckViolation = "23514"

const (
	lockSponsorQuery = `SELECT id FROM providers WHERE id = $1 FOR UPDATE`

	totalsQuery = `
		SELECT
			(SELECT COALESCE(SUM(points), 0) FROM referral_events WHERE sponsor_id = p.id),
			(SELECT COALESCE(SUM(points_debited), 0) FROM boost_conversions WHERE sponsor_id = p.id),
			p.boost_credits
		FROM providers p
		WHERE p.id = $1`

	insertEventQuery = `
		INSERT INTO referral_events (id, sponsor_id, referee_id, kind, points, recorded_at)
		VALUES ($1, $2, NULLIF($3, ''), $4, $5, $6)`

	creditPointsQuery = `
		UPDATE providers
		SET referral_points = referral_points + $2, updated_at = $3
		WHERE id = $1`

	findConversionQuery = `
		SELECT id, points_debited, boosts_credited, created_at
		FROM boost_conversions
		WHERE sponsor_id = $1 AND request_id = $2`

	insertConversionQuery = `
		INSERT INTO boost_conversions (id, sponsor_id, request_id, points_debited, boosts_credited, created_at)
		VALUES ($1, $2, NULLIF($3, ''), $4, $5, $6)`

	debitPointsQuery = `
		UPDATE providers
		SET referral_points = referral_points - $2, boost_credits = boost_credits + $3, updated_at = $4
		WHERE id = $1`
)

// PostgresStore keeps ledger facts in referral_events and boost_conversions.
// providers.referral_points and providers.boost_credits are projections
// updated in the same transaction as each append.
type PostgresStore struct {
	db *database.PostgresClient
}

func NewPostgresStore(db *database.PostgresClient) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) WithSponsor(ctx context.Context, sponsorID string, fn func(Account) error) error {
	return s.db.WithTx(ctx, func(tx *sql.Tx) error {
		var id string
		err := tx.QueryRowContext(ctx, lockSponsorQuery, sponsorID).Scan(&id)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: %s", ErrSponsorNotFound, sponsorID)
		}
		if err != nil {
			return fmt.Errorf("lock sponsor: %w", err)
		}
		return fn(&pgAccount{tx: tx, sponsorID: sponsorID})
	})
}

func (s *PostgresStore) Totals(ctx context.Context, sponsorID string) (Totals, error) {
	return scanTotals(s.db.QueryRow(ctx, totalsQuery, sponsorID), sponsorID)
}

func scanTotals(row *sql.Row, sponsorID string) (Totals, error) {
	var t Totals
	err := row.Scan(&t.Earned, &t.Spent, &t.BoostCredits)
	if errors.Is(err, sql.ErrNoRows) {
		return Totals{}, fmt.Errorf("%w: %s", ErrSponsorNotFound, sponsorID)
	}
	if err != nil {
		return Totals{}, fmt.Errorf("read ledger totals: %w", err)
	}
	return t, nil
}

type pgAccount struct {
	tx        *sql.Tx
	sponsorID string
}

func (a *pgAccount) Totals(ctx context.Context) (Totals, error) {
	return scanTotals(a.tx.QueryRowContext(ctx, totalsQuery, a.sponsorID), a.sponsorID)
}

func (a *pgAccount) AppendEvent(ctx context.Context, ev *models.ReferralEvent) error {
	if _, err := a.tx.ExecContext(ctx, insertEventQuery,
		ev.ID, ev.SponsorID, ev.RefereeID, string(ev.Kind), ev.Points, ev.RecordedAt,
	); err != nil {
		return fmt.Errorf("insert referral event: %w", err)
	}
	if _, err := a.tx.ExecContext(ctx, creditPointsQuery, ev.SponsorID, ev.Points, ev.RecordedAt); err != nil {
		return fmt.Errorf("credit referral points: %w", err)
	}
	return nil
}

func (a *pgAccount) FindConversion(ctx context.Context, requestID string) (*models.BoostConversion, error) {
	c := &models.BoostConversion{SponsorID: a.sponsorID, RequestID: requestID}
	err := a.tx.QueryRowContext(ctx, findConversionQuery, a.sponsorID, requestID).
		Scan(&c.ID, &c.PointsDebited, &c.BoostsCredited, &c.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find conversion: %w", err)
	}
	return c, nil
}

func (a *pgAccount) AppendConversion(ctx context.Context, c *models.BoostConversion) error {
	if _, err := a.tx.ExecContext(ctx, insertConversionQuery,
		c.ID, c.SponsorID, c.RequestID, c.PointsDebited, c.BoostsCredited, c.CreatedAt,
	); err != nil {
		if database.IsUniqueViolation(err) {
			return fmt.Errorf("%w: %s", ErrDuplicateRequest, c.RequestID)
		}
		return fmt.Errorf("insert conversion: %w", err)
	}
	if _, err := a.tx.ExecContext(ctx, debitPointsQuery,
		c.SponsorID, c.PointsDebited, c.BoostsCredited, c.CreatedAt,
	); err != nil {
		if database.PgErrorCode(err) == pgCheckViolation {
			return fmt.Errorf("%w: debit of %d rejected by projection", ErrNegativeBalance, c.PointsDebited)
		}
		return fmt.Errorf("debit referral points: %w", err)
	}
	return nil
}
