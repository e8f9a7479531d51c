package moderateprovider

import "marketplace-workers/internal/common/validation"

var inputSchema = validation.MustCompile(`{
	"type": "object",
	"required": ["providerId", "action", "actorRole"],
	"properties": {
		"providerId": {"type": "string", "minLength": 1, "maxLength": 64},
		"action":     {"type": "string", "enum": ["validate", "reject", "suspend", "unsuspend"]},
		"actorRole":  {"type": "string", "minLength": 1},
		"reason":     {"type": "string", "maxLength": 1000}
	}
}`)
