package usecase

import (
	"context"
	"fmt"
	"time"

	"StockPulse/internal/domain/models"
	xhttp "StockPulse/pkg/http"
)

// BarsUseCase serves archived bars.
type BarsUseCase struct {
	loader BarLoader
}

func NewBarsUseCase(loader BarLoader) *BarsUseCase {
	return &BarsUseCase{loader: loader}
}

type GetBarsParams struct {
	Instrument string
	From       time.Time
	To         time.Time
	Limit      int
}

type GetBarsResult struct {
	Instrument string               `json:"instrument"`
	From       time.Time            `json:"from"`
	To         time.Time            `json:"to"`
	Count      int                  `json:"count"`
	Bars       []models.MarketEvent `json:"bars"`
}

func (uc *BarsUseCase) GetBars(ctx context.Context, p GetBarsParams) (*GetBarsResult, error) {
	if p.Instrument == "" {
		return nil, xhttp.BadRequestError("instrument required")
	}
	if !p.From.Before(p.To) {
		return nil, xhttp.BadRequestError("from must be before to")
	}
	if p.Limit <= 0 {
		p.Limit = 10000
	}
	if p.Limit > 50000 {
		p.Limit = 50000
	}

	bars, err := uc.loader.LoadBars(ctx, []string{p.Instrument}, p.From, p.To)
	if err != nil {
		return nil, fmt.Errorf("load bars: %w", err)
	}
	if len(bars) > p.Limit {
		bars = bars[:p.Limit]
	}

	return &GetBarsResult{
		Instrument: p.Instrument,
		From:       p.From,
		To:         p.To,
		Count:      len(bars),
		Bars:       bars,
	}, nil
}
