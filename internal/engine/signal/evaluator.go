package signal

import (
	"time"

	"StockPulse/internal/domain/models"
	"StockPulse/pkg/util"
)

// Verdict says why Evaluate did or did not produce a candidate.
type Verdict string

const (
	VerdictEmitted       Verdict = "emitted"
	VerdictHolding       Verdict = "holding"
	VerdictOutsideWindow Verdict = "outside_window"
	VerdictCooldown      Verdict = "cooldown"
	VerdictNoRule        Verdict = "no_rule"
	VerdictFiltered      Verdict = "filtered"
)

// Outcome carries the verdict plus the rule that fired and the filter that
// vetoed it, when either applies.
type Outcome struct {
	Verdict Verdict
	Rule    string
	Filter  string
}

// Holdings answers whether an instrument has a non-terminal position.
type Holdings interface {
	HasActive(instrumentID string) bool
}

// Evaluator turns snapshots into at most one candidate per event. Rules are
// held in precedence order; all are evaluated so stateful rules see every
// event, and the first match wins.
type Evaluator struct {
	rules    []Rule
	filters  []Filter
	cal      *util.Calendar
	holdings Holdings
	cooldown time.Duration
	last     map[string]time.Time
}

// NewEvaluator fixes the rule and filter set from params.
func NewEvaluator(p models.StrategyParams, cal *util.Calendar, holdings Holdings) *Evaluator {
	e := &Evaluator{
		cal:      cal,
		holdings: holdings,
		cooldown: p.Entry.Cooldown,
		last:     make(map[string]time.Time),
	}
	if p.Entry.Breakout.Enabled {
		e.rules = append(e.rules, NewBreakoutRule(p.Entry.Breakout))
	}
	if p.Entry.Momentum.Enabled {
		e.rules = append(e.rules, NewMomentumRule(p.Entry.Momentum))
	}
	if p.Entry.VolumeSpike.Enabled {
		e.rules = append(e.rules, NewVolumeSpikeRule(p.Entry.VolumeSpike))
	}

	if p.Entry.GradualRise.Enabled {
		e.filters = append(e.filters, NewGradualRiseFilter(p.Entry.GradualRise))
	}
	if p.Entry.Filters.VWAP {
		e.filters = append(e.filters, VWAPFilter{})
	}
	if p.Entry.Filters.RSIBand {
		e.filters = append(e.filters, RSIBandFilter{Min: p.Entry.Filters.RSIMin, Max: p.Entry.Filters.RSIMax})
	}
	return e
}

// Rules returns the enabled rule ids in precedence order.
func (e *Evaluator) Rules() []string {
	ids := make([]string, 0, len(e.rules))
	for _, r := range e.rules {
		ids = append(ids, r.ID())
	}
	return ids
}

func (e *Evaluator) Evaluate(instrumentID string, snap models.IndicatorSnapshot) (models.SignalCandidate, Outcome) {
	if e.holdings != nil && e.holdings.HasActive(instrumentID) {
		e.reset(instrumentID)
		return models.SignalCandidate{}, Outcome{Verdict: VerdictHolding}
	}
	if !e.cal.InScanWindow(snap.Timestamp) {
		e.reset(instrumentID)
		return models.SignalCandidate{}, Outcome{Verdict: VerdictOutsideWindow}
	}
	if last, ok := e.last[instrumentID]; ok && e.cooldown > 0 && snap.Timestamp.Before(last.Add(e.cooldown)) {
		e.reset(instrumentID)
		return models.SignalCandidate{}, Outcome{Verdict: VerdictCooldown}
	}

	var (
		winner     Rule
		winnerConf float64
	)
	for _, r := range e.rules {
		ok, conf := r.Evaluate(snap)
		if ok && winner == nil {
			winner, winnerConf = r, conf
		}
	}
	if winner == nil {
		return models.SignalCandidate{}, Outcome{Verdict: VerdictNoRule}
	}

	for _, f := range e.filters {
		if !f.Allow(snap) {
			return models.SignalCandidate{}, Outcome{Verdict: VerdictFiltered, Rule: winner.ID(), Filter: f.Name()}
		}
	}

	e.last[instrumentID] = snap.Timestamp
	return models.SignalCandidate{
		InstrumentID:   instrumentID,
		Timestamp:      snap.Timestamp,
		Direction:      models.DirectionBuy,
		Confidence:     winnerConf,
		RuleID:         winner.ID(),
		ReferencePrice: snap.Close,
	}, Outcome{Verdict: VerdictEmitted, Rule: winner.ID()}
}

func (e *Evaluator) reset(instrumentID string) {
	for _, r := range e.rules {
		r.Reset(instrumentID)
	}
}
