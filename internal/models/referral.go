// internal/models/referral.go
package models

import "time"

type ReferralEventKind string

const (
	EventSignupValidated       ReferralEventKind = "SIGNUP_VALIDATED"
	EventFirstListingPublished ReferralEventKind = "FIRST_LISTING_PUBLISHED"
	EventBookingCompleted      ReferralEventKind = "BOOKING_COMPLETED"
	EventPremiumPurchased      ReferralEventKind = "PREMIUM_PURCHASED"
)

var referralPoints = map[ReferralEventKind]int64{
	EventSignupValidated:       100,
	EventFirstListingPublished: 50,
	EventBookingCompleted:      150,
	EventPremiumPurchased:      500,
}

// Points returns the tariff for the kind. The value is copied onto the event
// when it is recorded and never re-read afterwards.
func (k ReferralEventKind) Points() (int64, bool) {
	p, ok := referralPoints[k]
	return p, ok
}

// ReferralEvent is an immutable point-earning fact.
type ReferralEvent struct {
	ID         string            `json:"id"`
	SponsorID  string            `json:"sponsorId"`
	RefereeID  string            `json:"refereeId,omitempty"`
	Kind       ReferralEventKind `json:"kind"`
	Points     int64             `json:"points"`
	RecordedAt time.Time         `json:"recordedAt"`
}

// BoostConversion is an immutable debit of points against boost credits.
type BoostConversion struct {
	ID             string    `json:"id"`
	SponsorID      string    `json:"sponsorId"`
	RequestID      string    `json:"requestId,omitempty"`
	PointsDebited  int64     `json:"pointsDebited"`
	BoostsCredited int64     `json:"boostsCredited"`
	CreatedAt      time.Time `json:"createdAt"`
}
