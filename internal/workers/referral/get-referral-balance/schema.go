package getreferralbalance

import "marketplace-workers/internal/common/validation"

var inputSchema = validation.MustCompile(`{
	"type": "object",
	"required": ["sponsorId"],
	"properties": {
		"sponsorId": {"type": "string", "minLength": 1, "maxLength": 64}
	}
}`)
