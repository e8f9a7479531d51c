package rankoffers

import (
	"marketplace-workers/internal/marketplace/catalog"
	"marketplace-workers/internal/marketplace/ranking"
)

// Input either carries the candidate set inline or asks the catalog to
// select one by filters. An empty "candidates" array is an inline set; only
// an absent or null one selects by filters.
type Input struct {
	Candidates []ranking.Candidate `json:"candidates"`
	Filters    catalog.Filters     `json:"filters"`
	Page       int                 `json:"page,omitempty"`
	PageSize   int                 `json:"pageSize,omitempty"`
}

type Output struct {
	Offers     []catalog.RankedOffer `json:"rankedOffers"`
	Page       int                   `json:"page"`
	PageSize   int                   `json:"pageSize"`
	Total      int                   `json:"totalOffers"`
	TotalPages int                   `json:"totalPages"`
}
