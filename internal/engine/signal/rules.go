package signal

import "StockPulse/internal/domain/models"

// BreakoutRule fires when close clears the prior N-bar high by more than the
// rise threshold inside the post-opening-range window.
type BreakoutRule struct {
	p models.BreakoutParams
}

func NewBreakoutRule(p models.BreakoutParams) *BreakoutRule { return &BreakoutRule{p: p} }

func (r *BreakoutRule) ID() string { return models.RuleBreakout }

func (r *BreakoutRule) Evaluate(s models.IndicatorSnapshot) (bool, float64) {
	if !s.PriorHighReady || s.PriorHigh <= 0 {
		return false, 0
	}
	if s.SinceOpen < r.p.OpeningRangeDelay || s.SinceOpen > r.p.MaxDelay {
		return false, 0
	}
	if s.Close <= s.PriorHigh*(1+r.p.RiseThreshold) {
		return false, 0
	}
	return true, confidence(s.Close/s.PriorHigh-1, r.p.RiseThreshold)
}

func (r *BreakoutRule) Reset(string) {}

// MomentumRule requires its conditions to hold on K consecutive events for the
// same instrument. Any miss, and any firing, restarts the count.
type MomentumRule struct {
	p      models.MomentumParams
	streak map[string]int
}

func NewMomentumRule(p models.MomentumParams) *MomentumRule {
	return &MomentumRule{p: p, streak: make(map[string]int)}
}

func (r *MomentumRule) ID() string { return models.RuleMomentum }

func (r *MomentumRule) Evaluate(s models.IndicatorSnapshot) (bool, float64) {
	if !r.satisfied(s) {
		delete(r.streak, s.InstrumentID)
		return false, 0
	}
	n := r.streak[s.InstrumentID] + 1
	if n < r.p.ConsecutiveTicks {
		r.streak[s.InstrumentID] = n
		return false, 0
	}
	delete(r.streak, s.InstrumentID)
	return true, confidence(s.ExecutionStrength, r.p.ExecutionStrength)
}

func (r *MomentumRule) satisfied(s models.IndicatorSnapshot) bool {
	if !s.HasStrength || s.ExecutionStrength < r.p.ExecutionStrength {
		return false
	}
	if s.ChangeFromOpen() < r.p.MinPriceChange {
		return false
	}
	if s.Close*s.Volume < r.p.MinTradeValue {
		return false
	}
	if r.p.MinVolumeRatio > 0 {
		if s.PrevDayVolume <= 0 || s.SessionVolume/s.PrevDayVolume < r.p.MinVolumeRatio {
			return false
		}
	}
	return true
}

// Streak returns the current consecutive count for an instrument.
func (r *MomentumRule) Streak(instrumentID string) int { return r.streak[instrumentID] }

func (r *MomentumRule) Reset(instrumentID string) { delete(r.streak, instrumentID) }

// VolumeSpikeRule compares rolling 15m volume with the previous session's volume.
type VolumeSpikeRule struct {
	p models.VolumeSpikeParams
}

func NewVolumeSpikeRule(p models.VolumeSpikeParams) *VolumeSpikeRule {
	return &VolumeSpikeRule{p: p}
}

func (r *VolumeSpikeRule) ID() string { return models.RuleVolumeSpike }

func (r *VolumeSpikeRule) Evaluate(s models.IndicatorSnapshot) (bool, float64) {
	if s.PrevDayVolume <= 0 {
		return false, 0
	}
	ratio := s.VolumeRatio()
	if ratio < r.p.ThetaVol {
		return false, 0
	}
	if r.p.MaxRatio > 0 && ratio > r.p.MaxRatio {
		return false, 0
	}
	return true, confidence(ratio, r.p.ThetaVol)
}

func (r *VolumeSpikeRule) Reset(string) {}
