package execution

import (
	"context"

	"StockPulse/internal/domain/models"
)

// Adapter places orders and reports their outcomes asynchronously. Submit
// returns once the order is accepted for routing; fills, rejections and
// cancel confirmations arrive on Reports keyed by the returned handle.
// Cancel only requests cancellation.
type Adapter interface {
	SubmitEntry(ctx context.Context, order models.Order) (models.OrderHandle, error)
	SubmitExit(ctx context.Context, order models.Order) (models.OrderHandle, error)
	Cancel(ctx context.Context, handle models.OrderHandle) error
	Reports() <-chan models.ExecutionReport
}
