package convertreferralpoints

import "marketplace-workers/internal/common/validation"

// The amount rule (positive multiple of the exchange rate) is left to the
// ledger so it surfaces as INVALID_CONVERSION_AMOUNT, not a schema error.
var inputSchema = validation.MustCompile(`{
	"type": "object",
	"required": ["sponsorId", "points"],
	"properties": {
		"sponsorId": {"type": "string", "minLength": 1, "maxLength": 64},
		"points":    {"type": "integer"},
		"requestId": {"type": "string", "maxLength": 128}
	}
}`)
