package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"StockPulse/internal/domain/models"
	domrepo "StockPulse/internal/domain/repository"
	mid "StockPulse/internal/middleware"
	pkgkafka "StockPulse/pkg/kafka"
)

// KafkaBarsHandler consumes bars published on the bars topic and passes
// them to the pipeline.
type KafkaBarsHandler struct {
	topic   string
	next    mid.Proc
	metrics domrepo.Metrics
}

func NewKafkaBarsHandler(topic string, next mid.Proc, metrics domrepo.Metrics) *KafkaBarsHandler {
	return &KafkaBarsHandler{topic: topic, next: next, metrics: metrics}
}

func (h *KafkaBarsHandler) Topic() string { return h.topic }

// Handle expects a JSON models.MarketEvent. Undecodable and invalid bars
// are dropped without error so they are not retried into the DLQ.
func (h *KafkaBarsHandler) Handle(ctx context.Context, b []byte) error {
	var ev models.MarketEvent
	if err := json.Unmarshal(b, &ev); err != nil {
		h.metrics.RecordError("consumer_unmarshal")
		return nil
	}
	if err := mid.ValidateBar(ev); err != nil {
		h.metrics.RecordError("consumer_invalid")
		return nil
	}
	// event time to now
	h.metrics.RecordLatency("ingest_e2e", time.Since(ev.Timestamp).Seconds())

	if err := h.next.Process(ctx, ev); err != nil {
		return fmt.Errorf("handle bar %s: %w", ev.InstrumentID, err)
	}
	return nil
}

var _ pkgkafka.MessageHandler = (*KafkaBarsHandler)(nil)
