package repository

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"StockPulse/internal/domain/models"
	"StockPulse/pkg/util"
)

// column aliases accepted in the header row
var csvColumns = map[string][]string{
	"instrument": {"instrument_id", "instrument", "symbol", "code"},
	"timestamp":  {"timestamp", "ts", "time", "datetime"},
	"open":       {"open"},
	"high":       {"high"},
	"low":        {"low"},
	"close":      {"close", "price"},
	"volume":     {"volume", "vol"},
	"strength":   {"execution_strength", "strength"},
}

// CSVBarLoader reads minute bars from a CSV file with a header row.
// Timestamps without a zone are read in loc.
type CSVBarLoader struct {
	path string
	loc  *time.Location
}

func NewCSVBarLoader(path string, loc *time.Location) *CSVBarLoader {
	if loc == nil {
		loc = time.UTC
	}
	return &CSVBarLoader{path: path, loc: loc}
}

// LoadBars returns the file's bars for instruments in [from, to), ordered
// by time, then instrument. An empty instrument list keeps every row.
func (l *CSVBarLoader) LoadBars(ctx context.Context, instruments []string, from, to time.Time) ([]models.MarketEvent, error) {
	all, err := l.readAll(ctx)
	if err != nil {
		return nil, err
	}
	keep := instrumentFilter(instruments)
	out := make([]models.MarketEvent, 0, len(all))
	for _, ev := range all {
		if !keep(ev.InstrumentID) {
			continue
		}
		if ev.Timestamp.Before(from) || !ev.Timestamp.Before(to) {
			continue
		}
		out = append(out, ev)
	}
	return out, nil
}

// PrevDayVolumes sums volume per instrument over the latest date before
// day that has any bars.
func (l *CSVBarLoader) PrevDayVolumes(ctx context.Context, instruments []string, day time.Time) (map[string]float64, error) {
	all, err := l.readAll(ctx)
	if err != nil {
		return nil, err
	}
	keep := instrumentFilter(instruments)
	dayStart := startOfDay(day, l.loc)

	var last time.Time
	for _, ev := range all {
		if keep(ev.InstrumentID) && ev.Timestamp.Before(dayStart) {
			last = ev.Timestamp
		}
	}
	out := make(map[string]float64)
	if last.IsZero() {
		return out, nil
	}
	prevStart := startOfDay(last, l.loc)
	for _, ev := range all {
		if keep(ev.InstrumentID) && !ev.Timestamp.Before(prevStart) && ev.Timestamp.Before(dayStart) {
			out[ev.InstrumentID] += ev.Volume
		}
	}
	return out, nil
}

func (l *CSVBarLoader) readAll(ctx context.Context) ([]models.MarketEvent, error) {
	f, err := os.Open(l.path)
	if err != nil {
		return nil, fmt.Errorf("open bars: %w", err)
	}
	defer f.Close()

	bars, err := ReadBarsCSV(ctx, f, l.loc)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", l.path, err)
	}
	return bars, nil
}

// ReadBarsCSV parses bars and sorts them by (timestamp, instrument).
func ReadBarsCSV(ctx context.Context, r io.Reader, loc *time.Location) ([]models.MarketEvent, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true
	cr.ReuseRecord = true

	header, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, fmt.Errorf("read header: %w", err)
	}
	idx, err := columnIndex(header)
	if err != nil {
		return nil, err
	}

	var out []models.MarketEvent
	for line := 2; ; line++ {
		if line%10000 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		ev, err := parseBar(rec, idx, loc)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		out = append(out, ev)
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out, nil
}

func columnIndex(header []string) (map[string]int, error) {
	pos := make(map[string]int, len(header))
	for i, h := range header {
		pos[strings.ToLower(strings.TrimSpace(h))] = i
	}
	idx := make(map[string]int, len(csvColumns))
	for col, aliases := range csvColumns {
		for _, a := range aliases {
			if i, ok := pos[a]; ok {
				idx[col] = i
				break
			}
		}
	}
	for _, req := range []string{"instrument", "timestamp", "close"} {
		if _, ok := idx[req]; !ok {
			return nil, fmt.Errorf("missing %s column", req)
		}
	}
	return idx, nil
}

func parseBar(rec []string, idx map[string]int, loc *time.Location) (models.MarketEvent, error) {
	field := func(col string) (string, bool) {
		i, ok := idx[col]
		if !ok || i >= len(rec) {
			return "", false
		}
		v := strings.TrimSpace(rec[i])
		return v, v != ""
	}
	num := func(col string) (float64, bool, error) {
		s, ok := field(col)
		if !ok {
			return 0, false, nil
		}
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, false, fmt.Errorf("%s: %w", col, err)
		}
		return v, true, nil
	}

	id, _ := field("instrument")
	if id == "" {
		return models.MarketEvent{}, errors.New("empty instrument")
	}
	raw, _ := field("timestamp")
	ts, ok := util.ParseTimeIn(raw, loc)
	if !ok {
		return models.MarketEvent{}, fmt.Errorf("bad timestamp %q", raw)
	}

	ev := models.MarketEvent{InstrumentID: id, Timestamp: ts}
	var err error
	if ev.Close, ok, err = num("close"); err != nil {
		return ev, err
	} else if !ok || ev.Close <= 0 {
		return ev, errors.New("close must be positive")
	}
	if ev.Open, _, err = num("open"); err != nil {
		return ev, err
	}
	if ev.High, _, err = num("high"); err != nil {
		return ev, err
	}
	if ev.Low, _, err = num("low"); err != nil {
		return ev, err
	}
	if ev.Volume, _, err = num("volume"); err != nil {
		return ev, err
	}
	if ev.Open == 0 {
		ev.Open = ev.Close
	}
	strength, has, err := num("strength")
	if err != nil {
		return ev, err
	}
	if has {
		ev.ExecutionStrength = &strength
	}
	return ev, nil
}

func instrumentFilter(instruments []string) func(string) bool {
	if len(instruments) == 0 {
		return func(string) bool { return true }
	}
	set := make(map[string]struct{}, len(instruments))
	for _, id := range instruments {
		set[id] = struct{}{}
	}
	return func(id string) bool {
		_, ok := set[id]
		return ok
	}
}
