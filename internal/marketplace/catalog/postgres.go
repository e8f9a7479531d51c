package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"marketplace-workers/internal/common/database"
	"marketplace-workers/internal/marketplace/ranking"
	"marketplace-workers/internal/models"

	"github.com/lib/pq"
)

const (
	lockProviderQuery = `SELECT plan_tier, plan_expires_at, is_active FROM providers WHERE id = $1 FOR UPDATE`

	countActiveOffersQuery = `SELECT COUNT(*) FROM offers WHERE provider_id = $1 AND is_active`

	insertOfferQuery = `
		INSERT INTO offers (id, provider_id, title, city, category, is_active, rating, review_count, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, TRUE, 0, 0, $6, $6)`

	lockOfferQuery = `
		SELECT id, provider_id, title, city, category, is_active, rating, review_count, created_at, updated_at
		FROM offers
		WHERE id = $1 AND provider_id = $2
		FOR UPDATE`

	setOfferActiveQuery = `UPDATE offers SET is_active = $3, updated_at = $4 WHERE id = $1 AND provider_id = $2`

	// candidateSelect joins the newest live boost of each offer. $1 is now.
	candidateSelect = `
		SELECT o.id, p.plan_tier, p.plan_expires_at, o.rating, o.review_count,
			b.kind, b.starts_at, b.ends_at, b.is_active
		FROM offers o
		JOIN providers p ON p.id = o.provider_id
		LEFT JOIN LATERAL (
			SELECT kind, starts_at, ends_at, is_active
			FROM offer_boosts
			WHERE offer_id = o.id AND is_active AND ends_at > $1
			ORDER BY ends_at DESC
			LIMIT 1
		) b ON TRUE
		WHERE o.is_active AND p.is_active`

	candidatesByFilterQuery = candidateSelect + `
			AND ($2 = '' OR o.city = $2)
			AND ($3 = '' OR o.category = $3)
			AND ($4 = '' OR o.title ILIKE '%' || $4 || '%' ESCAPE '\')
		ORDER BY o.id
		LIMIT $5`

	candidatesByIDQuery = candidateSelect + `
			AND o.id = ANY($2)
		ORDER BY o.id`
)

type PostgresStore struct {
	db *database.PostgresClient
}

func NewPostgresStore(db *database.PostgresClient) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) WithProvider(ctx context.Context, providerID string, fn func(Tx, ProviderPlan) error) error {
	return s.db.WithTx(ctx, func(tx *sql.Tx) error {
		var (
			p       ProviderPlan
			tier    string
			expires sql.NullTime
		)
		err := tx.QueryRowContext(ctx, lockProviderQuery, providerID).Scan(&tier, &expires, &p.IsActive)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: %s", ErrProviderNotFound, providerID)
		}
		if err != nil {
			return fmt.Errorf("lock provider: %w", err)
		}
		p.Tier = models.PlanTier(tier)
		if expires.Valid {
			p.ExpiresAt = &expires.Time
		}
		return fn(&pgTx{tx: tx, providerID: providerID}, p)
	})
}

func (s *PostgresStore) LoadCandidates(ctx context.Context, f Filters, limit int, now time.Time) ([]ranking.Candidate, error) {
	rows, err := s.db.Query(ctx, candidatesByFilterQuery, now, f.City, f.Category, escapeLike(f.Keywords), limit)
	if err != nil {
		return nil, fmt.Errorf("load candidates: %w", err)
	}
	return scanCandidates(rows)
}

func (s *PostgresStore) LoadCandidatesByID(ctx context.Context, ids []string, now time.Time) ([]ranking.Candidate, error) {
	rows, err := s.db.Query(ctx, candidatesByIDQuery, now, pq.Array(ids))
	if err != nil {
		return nil, fmt.Errorf("load candidates by id: %w", err)
	}
	return scanCandidates(rows)
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// escapeLike makes keywords match literally inside an ILIKE pattern.
func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}

type scanner interface {
	Scan(dest ...any) error
}

func scanCandidates(rows *sql.Rows) ([]ranking.Candidate, error) {
	defer rows.Close()

	var out []ranking.Candidate
	for rows.Next() {
		c, err := scanCandidate(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate candidates: %w", err)
	}
	return out, nil
}

func scanCandidate(row scanner) (ranking.Candidate, error) {
	var (
		c           ranking.Candidate
		tier        string
		expires     sql.NullTime
		boostKind   sql.NullString
		boostStart  sql.NullTime
		boostEnd    sql.NullTime
		boostActive sql.NullBool
	)
	if err := row.Scan(&c.OfferID, &tier, &expires, &c.Rating, &c.ReviewCount,
		&boostKind, &boostStart, &boostEnd, &boostActive); err != nil {
		return c, fmt.Errorf("scan candidate: %w", err)
	}
	c.PlanTier = models.PlanTier(tier)
	if expires.Valid {
		c.PlanExpiresAt = &expires.Time
	}
	if boostKind.Valid {
		c.Boost = &models.Boost{
			Kind:     models.BoostKind(boostKind.String),
			StartsAt: boostStart.Time,
			EndsAt:   boostEnd.Time,
			IsActive: boostActive.Bool,
		}
	}
	return c, nil
}

type pgTx struct {
	tx         *sql.Tx
	providerID string
}

func (p *pgTx) CountActiveOffers(ctx context.Context) (int, error) {
	var n int
	if err := p.tx.QueryRowContext(ctx, countActiveOffersQuery, p.providerID).Scan(&n); err != nil {
		return 0, fmt.Errorf("count active offers: %w", err)
	}
	return n, nil
}

func (p *pgTx) InsertOffer(ctx context.Context, o *models.Offer) error {
	if _, err := p.tx.ExecContext(ctx, insertOfferQuery,
		o.ID, o.ProviderID, o.Title, o.City, o.Category, o.CreatedAt,
	); err != nil {
		return fmt.Errorf("insert offer: %w", err)
	}
	return nil
}

func (p *pgTx) LockOffer(ctx context.Context, offerID string) (*models.Offer, error) {
	var o models.Offer
	err := p.tx.QueryRowContext(ctx, lockOfferQuery, offerID, p.providerID).Scan(
		&o.ID, &o.ProviderID, &o.Title, &o.City, &o.Category, &o.IsActive,
		&o.Rating, &o.ReviewCount, &o.CreatedAt, &o.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrOfferNotFound, offerID)
	}
	if err != nil {
		return nil, fmt.Errorf("lock offer: %w", err)
	}
	return &o, nil
}

func (p *pgTx) SetOfferActive(ctx context.Context, offerID string, active bool, now time.Time) error {
	if _, err := p.tx.ExecContext(ctx, setOfferActiveQuery, offerID, p.providerID, active, now); err != nil {
		return fmt.Errorf("update offer: %w", err)
	}
	return nil
}
