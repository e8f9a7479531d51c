package rankoffers

import "marketplace-workers/internal/common/validation"

var inputSchema = validation.MustCompile(`{
	"type": "object",
	"properties": {
		"candidates": {
			"type": "array",
			"maxItems": 5000,
			"items": {
				"type": "object",
				"required": ["offerId", "planTier"],
				"properties": {
					"offerId":       {"type": "string", "minLength": 1},
					"planTier":      {"type": "string", "enum": ["FREE", "PRO", "PREMIUM"]},
					"planExpiresAt": {"type": ["string", "null"], "format": "date-time"},
					"rating":        {"type": "number", "minimum": 0},
					"reviewCount":   {"type": "integer", "minimum": 0},
					"boost": {
						"type": ["object", "null"],
						"required": ["kind", "endsAt"],
						"properties": {
							"kind":     {"type": "string", "enum": ["BASIC", "TOP", "FEATURED"]},
							"startsAt": {"type": "string", "format": "date-time"},
							"endsAt":   {"type": "string", "format": "date-time"},
							"isActive": {"type": "boolean"}
						}
					}
				}
			}
		},
		"filters": {
			"type": "object",
			"properties": {
				"city":     {"type": "string", "maxLength": 100},
				"category": {"type": "string", "maxLength": 100},
				"keywords": {"type": "string", "maxLength": 200}
			}
		},
		"page":     {"type": "integer", "minimum": 1},
		"pageSize": {"type": "integer", "minimum": 1}
	}
}`)
