package moderateprovider

type Input struct {
	ProviderID string `json:"providerId"`
	Action     string `json:"action"`
	ActorRole  string `json:"actorRole"`
	Reason     string `json:"reason,omitempty"`
}

type Output struct {
	ProviderID        string `json:"providerId"`
	Action            string `json:"action"`
	IsVerified        bool   `json:"isVerified"`
	IsActive          bool   `json:"isActive"`
	OffersDeactivated int64  `json:"offersDeactivated"`
	NotificationID    string `json:"notificationId"`
}
