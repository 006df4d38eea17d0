package execution

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"StockPulse/internal/domain/models"
)

// OrderIDs derives name-based UUIDs so identical runs produce identical
// order ids. Not safe for concurrent use; each scheduler owns one.
type OrderIDs struct {
	ns  uuid.UUID
	seq uint64
}

// NewOrderIDs scopes ids to runKey, e.g. a backtest window or the live trading day.
func NewOrderIDs(runKey string) *OrderIDs {
	return &OrderIDs{ns: uuid.NewSHA1(uuid.NameSpaceOID, []byte("stockpulse/"+runKey))}
}

func (g *OrderIDs) Next(instrumentID string, side models.Side, at time.Time) models.OrderHandle {
	g.seq++
	name := fmt.Sprintf("%s|%s|%d|%d", instrumentID, side, at.UnixNano(), g.seq)
	return models.OrderHandle(uuid.NewSHA1(g.ns, []byte(name)).String())
}
