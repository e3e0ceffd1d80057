package payment

import (
	"context"

	"github.com/rs/zerolog"
)

// OrderNotifier is the outbound hook into the order collaborator. The core
// calls it after every verified webhook application and after every
// synchronous process outcome.
type OrderNotifier interface {
	UpdateOrderStatus(ctx context.Context, intentID string, status IntentStatus, detail *ResultError) error
	NotifyDispute(ctx context.Context, chargeID string, details map[string]any) error
}

// LogNotifier is a stand-in order collaborator for development and tests.
type LogNotifier struct {
	Logger zerolog.Logger
}

// UpdateOrderStatus logs the status change.
func (n LogNotifier) UpdateOrderStatus(_ context.Context, intentID string, status IntentStatus, detail *ResultError) error {
	evt := n.Logger.Info().Str("intent_id", intentID).Str("status", string(status))
	if detail != nil {
		evt = evt.Str("error_code", detail.Code).Str("error_type", string(detail.Type))
	}
	evt.Msg("order_status_update")
	return nil
}

// NotifyDispute logs the dispute notification.
func (n LogNotifier) NotifyDispute(_ context.Context, chargeID string, details map[string]any) error {
	n.Logger.Warn().Str("charge_id", chargeID).Interface("details", details).Msg("dispute_raised")
	return nil
}
