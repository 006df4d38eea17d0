package signal

import "StockPulse/internal/domain/models"

// GradualRiseFilter admits only a muted first bar followed by a sustained,
// volume-confirmed climb with limited pullback over the opening window.
type GradualRiseFilter struct {
	p models.GradualRiseParams
}

func NewGradualRiseFilter(p models.GradualRiseParams) *GradualRiseFilter {
	return &GradualRiseFilter{p: p}
}

func (f *GradualRiseFilter) Name() string { return models.FilterGradualRise }

func (f *GradualRiseFilter) Allow(s models.IndicatorSnapshot) bool {
	if !s.OpeningComplete || s.PrevDayVolume <= 0 {
		return false
	}
	if s.FirstBarReturn < f.p.ThetaSpikeLow || s.FirstBarReturn >= f.p.ThetaSpike {
		return false
	}
	if s.OpeningReturn < f.p.Theta15m {
		return false
	}
	if s.OpeningDrawdown < -f.p.ThetaPull {
		return false
	}
	return s.OpeningVolume/s.PrevDayVolume >= f.p.ThetaVol
}

type VWAPFilter struct{}

func (VWAPFilter) Name() string { return models.FilterVWAP }

func (VWAPFilter) Allow(s models.IndicatorSnapshot) bool {
	return s.VWAP > 0 && s.Close > s.VWAP
}

type RSIBandFilter struct {
	Min, Max float64
}

func (RSIBandFilter) Name() string { return models.FilterRSIBand }

func (f RSIBandFilter) Allow(s models.IndicatorSnapshot) bool {
	return s.RSIReady && s.RSI14 >= f.Min && s.RSI14 <= f.Max
}
