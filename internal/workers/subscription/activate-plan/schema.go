package activateplan

import "marketplace-workers/internal/common/validation"

var inputSchema = validation.MustCompile(`{
	"type": "object",
	"required": ["providerId", "planTier"],
	"properties": {
		"providerId": {"type": "string", "minLength": 1, "maxLength": 64},
		"planTier":   {"type": "string", "enum": ["PRO", "PREMIUM"]}
	}
}`)
