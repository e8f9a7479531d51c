package recordreferralevent

import "time"

type Input struct {
	SponsorID string `json:"sponsorId"`
	RefereeID string `json:"refereeId,omitempty"`
	Kind      string `json:"eventKind"`
}

type Output struct {
	EventID       string    `json:"referralEventId"`
	PointsAwarded int64     `json:"pointsAwarded"`
	RecordedAt    time.Time `json:"recordedAt"`
}
