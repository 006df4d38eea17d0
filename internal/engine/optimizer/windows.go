package optimizer

import (
	"sort"

	"StockPulse/internal/domain/models"
	"StockPulse/pkg/util"
)

// Window is one walk-forward step over trading days. InSample and
// OutSample are contiguous and disjoint, and OutSample follows InSample.
type Window struct {
	Index     int
	InSample  []string
	OutSample []string
}

// TradingDays returns the distinct session dates present in events, ascending.
func TradingDays(events []models.MarketEvent, cal *util.Calendar) []string {
	seen := make(map[string]struct{})
	for _, ev := range events {
		seen[cal.SessionDate(ev.Timestamp)] = struct{}{}
	}
	days := make([]string, 0, len(seen))
	for d := range seen {
		days = append(days, d)
	}
	sort.Strings(days)
	return days
}

// SplitWindows slides an in+out window across days by step days.
func SplitWindows(days []string, in, out, step int) []Window {
	if step <= 0 {
		step = out
	}
	var ws []Window
	for start := 0; in > 0 && out > 0 && start+in+out <= len(days); start += step {
		ws = append(ws, Window{
			Index:     len(ws),
			InSample:  days[start : start+in],
			OutSample: days[start+in : start+in+out],
		})
	}
	return ws
}

// dayIndex buckets events by session date, keeping the input order.
type dayIndex struct {
	days   []string
	events map[string][]models.MarketEvent
}

func indexByDay(events []models.MarketEvent, cal *util.Calendar) *dayIndex {
	idx := &dayIndex{events: make(map[string][]models.MarketEvent)}
	for _, ev := range events {
		d := cal.SessionDate(ev.Timestamp)
		if _, ok := idx.events[d]; !ok {
			idx.days = append(idx.days, d)
		}
		idx.events[d] = append(idx.events[d], ev)
	}
	sort.Strings(idx.days)
	return idx
}

func (x *dayIndex) slice(days []string) []models.MarketEvent {
	var out []models.MarketEvent
	for _, d := range days {
		out = append(out, x.events[d]...)
	}
	return out
}

// volumesBefore sums each instrument's volume on the last trading day
// before day. Only data strictly earlier than day is read.
func (x *dayIndex) volumesBefore(day string) map[string]float64 {
	i := sort.SearchStrings(x.days, day)
	if i == 0 {
		return nil
	}
	prev := x.days[i-1]
	vols := make(map[string]float64)
	for _, ev := range x.events[prev] {
		vols[ev.InstrumentID] += ev.Volume
	}
	return vols
}
