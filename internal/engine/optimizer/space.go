package optimizer

import (
	"fmt"
	"math"
	"math/rand"
	"sort"
	"time"

	"StockPulse/internal/domain/models"
)

// Range is one searchable parameter. Grid search walks Min..Max by Step;
// random search draws uniformly from [Min, Max] and snaps to Step when set.
type Range struct {
	Name string  `yaml:"name" json:"name" validate:"required"`
	Min  float64 `yaml:"min" json:"min"`
	Max  float64 `yaml:"max" json:"max"`
	Step float64 `yaml:"step" json:"step" validate:"gte=0"`
}

// Trial is one candidate assignment, keyed by parameter name.
type Trial map[string]float64

type setter func(p *models.StrategyParams, v float64)

func minutes(v float64) time.Duration { return time.Duration(math.Round(v)) * time.Minute }

var setters = map[string]setter{
	"entry.cooldown_minutes":             func(p *models.StrategyParams, v float64) { p.Entry.Cooldown = minutes(v) },
	"entry.volume_spike.theta_vol":       func(p *models.StrategyParams, v float64) { p.Entry.VolumeSpike.ThetaVol = v },
	"entry.breakout.lookback":            func(p *models.StrategyParams, v float64) { p.Entry.Breakout.Lookback = int(math.Round(v)) },
	"entry.breakout.rise_threshold":      func(p *models.StrategyParams, v float64) { p.Entry.Breakout.RiseThreshold = v },
	"entry.momentum.consecutive_ticks":   func(p *models.StrategyParams, v float64) { p.Entry.Momentum.ConsecutiveTicks = int(math.Round(v)) },
	"entry.momentum.execution_strength":  func(p *models.StrategyParams, v float64) { p.Entry.Momentum.ExecutionStrength = v },
	"entry.momentum.min_price_change":    func(p *models.StrategyParams, v float64) { p.Entry.Momentum.MinPriceChange = v },
	"entry.gradual_rise.theta_spike":     func(p *models.StrategyParams, v float64) { p.Entry.GradualRise.ThetaSpike = v },
	"entry.gradual_rise.theta_spike_low": func(p *models.StrategyParams, v float64) { p.Entry.GradualRise.ThetaSpikeLow = v },
	"entry.gradual_rise.theta_15m":       func(p *models.StrategyParams, v float64) { p.Entry.GradualRise.Theta15m = v },
	"entry.gradual_rise.theta_vol":       func(p *models.StrategyParams, v float64) { p.Entry.GradualRise.ThetaVol = v },
	"entry.gradual_rise.theta_pull":      func(p *models.StrategyParams, v float64) { p.Entry.GradualRise.ThetaPull = v },
	"exit.stop_loss":                     func(p *models.StrategyParams, v float64) { p.Exit.StopLoss = v },
	"exit.take_profit":                   func(p *models.StrategyParams, v float64) { p.Exit.TakeProfit = v },
	"exit.trailing_stop":                 func(p *models.StrategyParams, v float64) { p.Exit.TrailingStop = v },
	"exit.trailing_activation":           func(p *models.StrategyParams, v float64) { p.Exit.TrailingActivation = v },
	"exit.max_hold_minutes":              func(p *models.StrategyParams, v float64) { p.Exit.MaxHold = minutes(v) },
	"risk.position_size_ratio":           func(p *models.StrategyParams, v float64) { p.Risk.PositionSizeRatio = v },
}

// ParamNames lists the searchable parameter names in sorted order.
func ParamNames() []string {
	names := make([]string, 0, len(setters))
	for n := range setters {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Apply returns a copy of base with the trial's values set. The result is
// not validated.
func Apply(base models.StrategyParams, t Trial) (models.StrategyParams, error) {
	p := base
	names := make([]string, 0, len(t))
	for n := range t {
		names = append(names, n)
	}
	sort.Strings(names)
	for _, n := range names {
		set, ok := setters[n]
		if !ok {
			return p, fmt.Errorf("%w: unknown parameter %q", models.ErrConfigInvalid, n)
		}
		set(&p, t[n])
	}
	return p, nil
}

func validateSpace(space []Range) error {
	if len(space) == 0 {
		return fmt.Errorf("%w: empty search space", models.ErrConfigInvalid)
	}
	seen := make(map[string]bool, len(space))
	for _, r := range space {
		if _, ok := setters[r.Name]; !ok {
			return fmt.Errorf("%w: unknown parameter %q", models.ErrConfigInvalid, r.Name)
		}
		if seen[r.Name] {
			return fmt.Errorf("%w: parameter %q listed twice", models.ErrConfigInvalid, r.Name)
		}
		seen[r.Name] = true
		if r.Max < r.Min {
			return fmt.Errorf("%w: %s max %.6g below min %.6g", models.ErrConfigInvalid, r.Name, r.Max, r.Min)
		}
		if r.Step < 0 {
			return fmt.Errorf("%w: %s negative step", models.ErrConfigInvalid, r.Name)
		}
	}
	return nil
}

func (r Range) values() []float64 {
	if r.Step <= 0 || r.Max == r.Min {
		if r.Max == r.Min {
			return []float64{r.Min}
		}
		return []float64{r.Min, r.Max}
	}
	n := int(math.Floor((r.Max-r.Min)/r.Step+1e-9)) + 1
	out := make([]float64, n)
	for i := range out {
		out[i] = r.Min + float64(i)*r.Step
	}
	return out
}

// gridTrials enumerates the cartesian product in space order, the last
// range varying fastest, truncated to limit when limit > 0.
func gridTrials(space []Range, limit int) []Trial {
	out := []Trial{{}}
	for _, r := range space {
		vals := r.values()
		next := make([]Trial, 0, len(out)*len(vals))
		for _, t := range out {
			for _, v := range vals {
				c := make(Trial, len(t)+1)
				for k, x := range t {
					c[k] = x
				}
				c[r.Name] = v
				next = append(next, c)
			}
		}
		out = next
		// the first limit trials of the full product descend from the
		// first limit entries of every partial product
		if limit > 0 && len(out) > limit {
			out = out[:limit]
		}
	}
	return out
}

// randomTrials draws n trials from rng.
func randomTrials(space []Range, n int, rng *rand.Rand) []Trial {
	out := make([]Trial, n)
	for i := range out {
		t := make(Trial, len(space))
		for _, r := range space {
			v := r.Min + rng.Float64()*(r.Max-r.Min)
			if r.Step > 0 {
				v = r.Min + math.Round((v-r.Min)/r.Step)*r.Step
				v = math.Min(v, r.Max)
			}
			t[r.Name] = v
		}
		out[i] = t
	}
	return out
}
