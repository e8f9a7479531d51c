// internal/models/offer.go
package models

import "time"

// BoostKind is ordered BASIC < TOP < FEATURED.
type BoostKind string

const (
	BoostBasic    BoostKind = "BASIC"
	BoostTop      BoostKind = "TOP"
	BoostFeatured BoostKind = "FEATURED"
)

func (k BoostKind) Rank() int {
	switch k {
	case BoostBasic:
		return 1
	case BoostTop:
		return 2
	case BoostFeatured:
		return 3
	default:
		return 0
	}
}

func (k BoostKind) Valid() bool {
	return k.Rank() > 0
}

type Boost struct {
	ID       string    `json:"id,omitempty"`
	Kind     BoostKind `json:"kind"`
	StartsAt time.Time `json:"startsAt"`
	EndsAt   time.Time `json:"endsAt"`
	IsActive bool      `json:"isActive"`
}

// ActiveAt reports whether the boost counts for ranking at now: the flag is
// set and the end lies strictly in the future.
func (b *Boost) ActiveAt(now time.Time) bool {
	return b != nil && b.IsActive && now.Before(b.EndsAt)
}

type Offer struct {
	ID          string    `json:"id"`
	ProviderID  string    `json:"providerId"`
	Title       string    `json:"title"`
	City        string    `json:"city,omitempty"`
	Category    string    `json:"category,omitempty"`
	IsActive    bool      `json:"isActive"`
	Rating      float64   `json:"rating"`
	ReviewCount int       `json:"reviewCount"`
	Boost       *Boost    `json:"boost,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}
