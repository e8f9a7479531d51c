package activateoffer

import "marketplace-workers/internal/common/validation"

var inputSchema = validation.MustCompile(`{
	"type": "object",
	"required": ["providerId", "offerId"],
	"properties": {
		"providerId": {"type": "string", "minLength": 1, "maxLength": 64},
		"offerId":    {"type": "string", "minLength": 1, "maxLength": 64}
	}
}`)
