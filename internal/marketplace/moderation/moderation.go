// Package moderation applies administrator verification and suspension
// decisions to a provider and the offers it owns.
package moderation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"marketplace-workers/internal/common/logger"
	"marketplace-workers/internal/common/metrics"
	"marketplace-workers/internal/models"

	"github.com/google/uuid"
)

type Action string

const (
	ActionValidate  Action = "validate"
	ActionReject    Action = "reject"
	ActionSuspend   Action = "suspend"
	ActionUnsuspend Action = "unsuspend"
)

// AdminRole is the only caller role allowed to moderate.
const AdminRole = "admin"

var (
	ErrForbidden         = errors.New("only administrators may moderate providers")
	ErrUnknownAction     = errors.New("unknown moderation action")
	ErrProviderNotFound  = errors.New("provider not found")
	ErrCascadeIncomplete = errors.New("suspension left active offers behind")
)

var notificationTypes = map[Action]string{
	ActionValidate:  models.NotificationProviderVerified,
	ActionReject:    models.NotificationProviderRejected,
	ActionSuspend:   models.NotificationProviderSuspended,
	ActionUnsuspend: models.NotificationProviderReinstated,
}

// Flags is the moderated state of a provider.
type Flags struct {
	IsVerified bool `json:"isVerified"`
	IsActive   bool `json:"isActive"`
}

// Transition returns the flags after action. validate and reject leave
// IsActive as it was.
func Transition(current Flags, action Action) (Flags, error) {
	switch action {
	case ActionValidate:
		return Flags{IsVerified: true, IsActive: current.IsActive}, nil
	case ActionReject:
		return Flags{IsVerified: false, IsActive: current.IsActive}, nil
	case ActionSuspend:
		return Flags{IsVerified: false, IsActive: false}, nil
	case ActionUnsuspend:
		return Flags{IsVerified: true, IsActive: true}, nil
	default:
		return current, fmt.Errorf("%w: %q", ErrUnknownAction, action)
	}
}

type AuditEntry struct {
	EventType string
	EntityID  string
	ActorRole string
	Details   map[string]interface{}
	CreatedAt time.Time
}

// Store runs a moderation decision as one transaction.
type Store interface {
	// WithProvider locks the provider row and passes its current flags.
	// Nothing fn writes survives if fn fails.
	WithProvider(ctx context.Context, providerID string, fn func(Tx, Flags) error) error
}

type Tx interface {
	SetFlags(ctx context.Context, f Flags, now time.Time) error
	// DeactivateOffers forces every active offer of the provider inactive
	// and returns how many changed.
	DeactivateOffers(ctx context.Context, now time.Time) (int64, error)
	CountActiveOffers(ctx context.Context) (int, error)
	EnqueueNotification(ctx context.Context, n *models.Notification) error
	AppendAudit(ctx context.Context, e AuditEntry) error
}

type Command struct {
	ProviderID string
	Action     Action
	ActorRole  string
	Reason     string
}

type Result struct {
	ProviderID        string `json:"providerId"`
	Action            Action `json:"action"`
	Previous          Flags  `json:"previous"`
	Current           Flags  `json:"current"`
	OffersDeactivated int64  `json:"offersDeactivated"`
	NotificationID    string `json:"notificationId"`
}

type Service struct {
	store  Store
	logger logger.Logger
}

func NewService(store Store, log logger.Logger) *Service {
	return &Service{store: store, logger: log}
}

// Apply runs one moderation transition. Suspension deactivates every offer
// of the provider in the same transaction; reinstatement never reactivates
// them.
func (s *Service) Apply(ctx context.Context, cmd Command, now time.Time) (*Result, error) {
	if cmd.ActorRole != AdminRole {
		return nil, fmt.Errorf("%w: role %q", ErrForbidden, cmd.ActorRole)
	}
	if _, ok := notificationTypes[cmd.Action]; !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownAction, cmd.Action)
	}

	var result *Result
	err := s.store.WithProvider(ctx, cmd.ProviderID, func(tx Tx, current Flags) error {
		next, err := Transition(current, cmd.Action)
		if err != nil {
			return err
		}
		if err := tx.SetFlags(ctx, next, now); err != nil {
			return err
		}

		var deactivated int64
		if cmd.Action == ActionSuspend {
			if deactivated, err = tx.DeactivateOffers(ctx, now); err != nil {
				return err
			}
			remaining, err := tx.CountActiveOffers(ctx)
			if err != nil {
				return err
			}
			if remaining != 0 {
				s.logger.Error("moderation cascade invariant violated", map[string]interface{}{
					"providerId":   cmd.ProviderID,
					"activeOffers": remaining,
				})
				return fmt.Errorf("%w: provider %s still has %d", ErrCascadeIncomplete, cmd.ProviderID, remaining)
			}
		}

		n := &models.Notification{
			ID:            uuid.NewString(),
			RecipientID:   cmd.ProviderID,
			RecipientType: "provider",
			Type:          notificationTypes[cmd.Action],
			Status:        models.NotificationStatusPending,
			Payload: map[string]interface{}{
				"action":            string(cmd.Action),
				"reason":            cmd.Reason,
				"isVerified":        next.IsVerified,
				"isActive":          next.IsActive,
				"offersDeactivated": deactivated,
			},
			CreatedAt: now.UTC(),
		}
		if err := tx.EnqueueNotification(ctx, n); err != nil {
			return err
		}

		if err := tx.AppendAudit(ctx, AuditEntry{
			EventType: "provider_" + string(cmd.Action),
			EntityID:  cmd.ProviderID,
			ActorRole: cmd.ActorRole,
			Details: map[string]interface{}{
				"reason":            cmd.Reason,
				"previous":          current,
				"current":           next,
				"offersDeactivated": deactivated,
			},
			CreatedAt: now.UTC(),
		}); err != nil {
			return err
		}

		result = &Result{
			ProviderID:        cmd.ProviderID,
			Action:            cmd.Action,
			Previous:          current,
			Current:           next,
			OffersDeactivated: deactivated,
			NotificationID:    n.ID,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	metrics.ModerationTransitions.WithLabelValues(string(cmd.Action)).Inc()
	metrics.OffersDeactivatedByCascade.Add(float64(result.OffersDeactivated))
	s.logger.Info("provider moderated", map[string]interface{}{
		"providerId":        cmd.ProviderID,
		"action":            cmd.Action,
		"isVerified":        result.Current.IsVerified,
		"isActive":          result.Current.IsActive,
		"offersDeactivated": result.OffersDeactivated,
	})
	return result, nil
}
