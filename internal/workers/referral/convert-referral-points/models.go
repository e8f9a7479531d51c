package convertreferralpoints

type Input struct {
	SponsorID string `json:"sponsorId"`
	Points    int64  `json:"points"`
	// RequestID deduplicates retried conversions. Defaults to the job key.
	RequestID string `json:"requestId,omitempty"`
}

type Output struct {
	ConversionID    string `json:"conversionId"`
	PointsDebited   int64  `json:"pointsDebited"`
	BoostsGranted   int64  `json:"boostsGranted"`
	RemainingPoints int64  `json:"remainingPoints"`
	BoostCredits    int64  `json:"boostCredits"`
	Replayed        bool   `json:"replayed"`
}
