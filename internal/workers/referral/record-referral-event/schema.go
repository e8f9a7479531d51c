package recordreferralevent

import "marketplace-workers/internal/common/validation"

var inputSchema = validation.MustCompile(`{
	"type": "object",
	"required": ["sponsorId", "eventKind"],
	"properties": {
		"sponsorId": {"type": "string", "minLength": 1, "maxLength": 64},
		"refereeId": {"type": "string", "maxLength": 64},
		"eventKind": {
			"type": "string",
			"enum": ["SIGNUP_VALIDATED", "FIRST_LISTING_PUBLISHED", "BOOKING_COMPLETED", "PREMIUM_PURCHASED"]
		}
	}
}`)
