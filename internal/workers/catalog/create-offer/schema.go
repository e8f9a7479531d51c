package createoffer

import "marketplace-workers/internal/common/validation"

var inputSchema = validation.MustCompile(`{
	"type": "object",
	"required": ["providerId", "title"],
	"properties": {
		"providerId": {"type": "string", "minLength": 1, "maxLength": 64},
		"title":      {"type": "string", "minLength": 1, "maxLength": 200},
		"city":       {"type": "string", "maxLength": 100},
		"category":   {"type": "string", "maxLength": 100}
	}
}`)
