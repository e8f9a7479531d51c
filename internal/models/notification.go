// internal/models/notification.go
package models

import "time"

const (
	NotificationProviderVerified   = "provider_verified"
	NotificationProviderRejected   = "provider_rejected"
	NotificationProviderSuspended  = "provider_suspended"
	NotificationProviderReinstated = "provider_reinstated"

	NotificationStatusPending = "pending"
)

// Notification is an outbox row consumed by the delivery service.
type Notification struct {
	ID            string                 `json:"id"`
	RecipientID   string                 `json:"recipientId"`
	RecipientType string                 `json:"recipientType"` // "provider"
	Type          string                 `json:"type"`
	Status        string                 `json:"status"`
	Payload       map[string]interface{} `json:"payload"`
	CreatedAt     time.Time              `json:"createdAt"`
}
