package cancelplan

import "marketplace-workers/internal/common/validation"

var inputSchema = validation.MustCompile(`{
	"type": "object",
	"required": ["providerId"],
	"properties": {
		"providerId": {"type": "string", "minLength": 1, "maxLength": 64}
	}
}`)
