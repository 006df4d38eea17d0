package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"StockPulse/internal/domain/models"
	domrepo "StockPulse/internal/domain/repository"
	pkgch "StockPulse/pkg/clickhouse"
	applogger "StockPulse/pkg/logger"
)

const insertChunk = 2000

// BarSchema creates the minute bar table. Rows are keyed by instrument and
// bar time so a re-import of the same bars collapses on merge.
func BarSchema(database string) []string {
	return []string{
		fmt.Sprintf("CREATE DATABASE IF NOT EXISTS %s", database),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s.bars_1m (
    instrument_id String,
    ts DateTime64(3, 'UTC'),
    open Float64,
    high Float64,
    low Float64,
    close Float64,
    volume Float64,
    execution_strength Nullable(Float64)
) ENGINE = ReplacingMergeTree
ORDER BY (instrument_id, ts)`, database),
	}
}

// ClickHouseBarStore implements BarStore on the bars_1m table.
type ClickHouseBarStore struct {
	db    *sql.DB
	table string
	loc   *time.Location
	l     *applogger.Logger
}

// NewClickHouseBarStore reads and writes database.bars_1m. loc is the
// exchange zone used to split sessions for PrevDayVolumes.
func NewClickHouseBarStore(ch *pkgch.Client, database string, loc *time.Location, l *applogger.Logger) *ClickHouseBarStore {
	if loc == nil {
		loc = time.UTC
	}
	if l == nil {
		l = applogger.NewNop()
	}
	return &ClickHouseBarStore{db: ch.DB(), table: database + ".bars_1m", loc: loc, l: l}
}

var _ domrepo.BarStore = (*ClickHouseBarStore)(nil)

func (s *ClickHouseBarStore) Init(ctx context.Context) error {
	database := strings.SplitN(s.table, ".", 2)[0]
	for i, stmt := range BarSchema(database) {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("bar schema stmt %d: %w", i, err)
		}
	}
	return nil
}

func (s *ClickHouseBarStore) StoreBars(ctx context.Context, bars []models.MarketEvent) error {
	for start := 0; start < len(bars); start += insertChunk {
		end := start + insertChunk
		if end > len(bars) {
			end = len(bars)
		}

		values := make([]string, 0, end-start)
		args := make([]interface{}, 0, (end-start)*8)
		for _, b := range bars[start:end] {
			if b.InstrumentID == "" || b.Timestamp.IsZero() {
				continue
			}
			values = append(values, "(?, ?, ?, ?, ?, ?, ?, ?)")
			args = append(args,
				b.InstrumentID,
				b.Timestamp.UTC(),
				b.Open,
				b.High,
				b.Low,
				b.Close,
				b.Volume,
				b.ExecutionStrength,
			)
		}
		if len(values) == 0 {
			continue
		}
		q := fmt.Sprintf("INSERT INTO %s (instrument_id, ts, open, high, low, close, volume, execution_strength) VALUES %s",
			s.table, strings.Join(values, ","))
		if _, err := s.db.ExecContext(ctx, q, args...); err != nil {
			return fmt.Errorf("insert bars: %w", err)
		}
	}
	return nil
}

// LoadBars returns bars in [from, to) ordered by time, then instrument.
func (s *ClickHouseBarStore) LoadBars(ctx context.Context, instruments []string, from, to time.Time) ([]models.MarketEvent, error) {
	if len(instruments) == 0 {
		return nil, nil
	}
	start := time.Now()

	q := fmt.Sprintf(`
        SELECT instrument_id, ts, open, high, low, close, volume, execution_strength
        FROM %s FINAL
        WHERE instrument_id IN (%s) AND ts >= ? AND ts < ?
        ORDER BY ts ASC, instrument_id ASC
    `, s.table, placeholders(len(instruments)))
	args := append(stringArgs(instruments), from.UTC(), to.UTC())

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		s.l.Error("clickhouse load_bars query error", applogger.Strings("instruments", instruments), applogger.Error(err))
		return nil, fmt.Errorf("load bars: %w", err)
	}
	defer rows.Close()

	out := make([]models.MarketEvent, 0, 4096)
	for rows.Next() {
		var (
			ev       models.MarketEvent
			strength sql.NullFloat64
		)
		if err := rows.Scan(&ev.InstrumentID, &ev.Timestamp, &ev.Open, &ev.High, &ev.Low, &ev.Close, &ev.Volume, &strength); err != nil {
			return nil, fmt.Errorf("scan bar: %w", err)
		}
		if strength.Valid {
			v := strength.Float64
			ev.ExecutionStrength = &v
		}
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}

	s.l.Info("clickhouse load_bars ok",
		applogger.Int("instruments", len(instruments)),
		applogger.Int("rows", len(out)),
		applogger.Duration("duration_ms", time.Since(start)),
	)
	return out, nil
}

// PrevDayVolumes sums the volume of the latest session date before day.
// Instruments with no bars on that date are absent from the result.
func (s *ClickHouseBarStore) PrevDayVolumes(ctx context.Context, instruments []string, day time.Time) (map[string]float64, error) {
	out := make(map[string]float64, len(instruments))
	if len(instruments) == 0 {
		return out, nil
	}
	dayStart := startOfDay(day, s.loc)

	var last sql.NullTime
	q := fmt.Sprintf("SELECT max(ts) FROM %s WHERE instrument_id IN (%s) AND ts < ?", s.table, placeholders(len(instruments)))
	args := append(stringArgs(instruments), dayStart.UTC())
	if err := s.db.QueryRowContext(ctx, q, args...).Scan(&last); err != nil {
		return nil, fmt.Errorf("last session: %w", err)
	}
	// max over no rows yields the epoch
	if !last.Valid || last.Time.Unix() <= 0 {
		return out, nil
	}
	prevStart := startOfDay(last.Time, s.loc)
	prevEnd := prevStart.AddDate(0, 0, 1)

	q = fmt.Sprintf(`
        SELECT instrument_id, sum(volume)
        FROM %s FINAL
        WHERE instrument_id IN (%s) AND ts >= ? AND ts < ?
        GROUP BY instrument_id
    `, s.table, placeholders(len(instruments)))
	args = append(stringArgs(instruments), prevStart.UTC(), prevEnd.UTC())
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("prev day volumes: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			id  string
			vol float64
		)
		if err := rows.Scan(&id, &vol); err != nil {
			return nil, fmt.Errorf("scan volume: %w", err)
		}
		out[id] = vol
	}
	return out, rows.Err()
}

func (s *ClickHouseBarStore) Health(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close is a no-op; the pkg client owns the connection.
func (s *ClickHouseBarStore) Close() error { return nil }

func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func stringArgs(ss []string) []interface{} {
	out := make([]interface{}, len(ss), len(ss)+2)
	for i, s := range ss {
		out[i] = s
	}
	return out
}

func startOfDay(t time.Time, loc *time.Location) time.Time {
	t = t.In(loc)
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
}
