package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"StockPulse/internal/domain/models"
	domrepo "StockPulse/internal/domain/repository"
	pkgch "StockPulse/pkg/clickhouse"
	pkgkafka "StockPulse/pkg/kafka"
)

// TradeSchema creates the trade log and walk-forward report tables.
func TradeSchema(database string) []string {
	return []string{
		fmt.Sprintf("CREATE DATABASE IF NOT EXISTS %s", database),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s.trades (
    run String,
    instrument_id String,
    rule_id String,
    entry_time DateTime64(3, 'UTC'),
    entry_price Float64,
    exit_time DateTime64(3, 'UTC'),
    exit_price Float64,
    exit_reason LowCardinality(String),
    quantity Int64,
    gross_pnl Float64,
    commission Float64,
    tax Float64,
    slippage Float64,
    fees Float64,
    realized_pnl Float64
) ENGINE = MergeTree
ORDER BY (run, instrument_id, exit_time)`, database),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s.walkforward_reports (
    id String,
    created_at DateTime64(3, 'UTC'),
    windows UInt32,
    mean_out_sample_score Float64,
    report String
) ENGINE = MergeTree
ORDER BY (created_at, id)`, database),
	}
}

// ClickHouseTradeStore persists closed trades under a run label, "live"
// for the trader or the backtest's run key.
type ClickHouseTradeStore struct {
	db       *sql.DB
	database string
	run      string
}

func NewClickHouseTradeStore(ch *pkgch.Client, database, run string) *ClickHouseTradeStore {
	return &ClickHouseTradeStore{db: ch.DB(), database: database, run: run}
}

var _ domrepo.TradeStore = (*ClickHouseTradeStore)(nil)

func (s *ClickHouseTradeStore) Init(ctx context.Context) error {
	for i, stmt := range TradeSchema(s.database) {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("trade schema stmt %d: %w", i, err)
		}
	}
	return nil
}

func (s *ClickHouseTradeStore) SaveTrades(ctx context.Context, trades []models.TradeRecord) error {
	for start := 0; start < len(trades); start += insertChunk {
		end := start + insertChunk
		if end > len(trades) {
			end = len(trades)
		}

		values := make([]string, 0, end-start)
		args := make([]interface{}, 0, (end-start)*15)
		for _, t := range trades[start:end] {
			values = append(values, "(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)")
			args = append(args,
				s.run,
				t.InstrumentID,
				t.RuleID,
				t.EntryTime.UTC(),
				t.EntryPrice,
				t.ExitTime.UTC(),
				t.ExitPrice,
				string(t.ExitReason),
				t.Quantity,
				t.GrossPnL,
				t.Commission,
				t.Tax,
				t.Slippage,
				t.Fees,
				t.RealizedPnL,
			)
		}
		q := fmt.Sprintf(`INSERT INTO %s.trades (run, instrument_id, rule_id, entry_time, entry_price, exit_time, exit_price,
    exit_reason, quantity, gross_pnl, commission, tax, slippage, fees, realized_pnl) VALUES %s`,
			s.database, strings.Join(values, ","))
		if _, err := s.db.ExecContext(ctx, q, args...); err != nil {
			return fmt.Errorf("insert trades: %w", err)
		}
	}
	return nil
}

// QueryTrades returns the newest trades of this run first. An empty
// instrument matches all.
func (s *ClickHouseTradeStore) QueryTrades(ctx context.Context, instrument string, limit int) ([]models.TradeRecord, error) {
	where := "run = ?"
	args := []interface{}{s.run}
	if instrument != "" {
		where += " AND instrument_id = ?"
		args = append(args, instrument)
	}
	args = append(args, limit)

	q := fmt.Sprintf(`
        SELECT instrument_id, rule_id, entry_time, entry_price, exit_time, exit_price, exit_reason,
               quantity, gross_pnl, commission, tax, slippage, fees, realized_pnl
        FROM %s.trades
        WHERE %s
        ORDER BY exit_time DESC
        LIMIT ?
    `, s.database, where)
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query trades: %w", err)
	}
	defer rows.Close()

	var out []models.TradeRecord
	for rows.Next() {
		var (
			t      models.TradeRecord
			reason string
		)
		if err := rows.Scan(&t.InstrumentID, &t.RuleID, &t.EntryTime, &t.EntryPrice, &t.ExitTime, &t.ExitPrice, &reason,
			&t.Quantity, &t.GrossPnL, &t.Commission, &t.Tax, &t.Slippage, &t.Fees, &t.RealizedPnL); err != nil {
			return nil, fmt.Errorf("scan trade: %w", err)
		}
		t.ExitReason = models.ExitReason(reason)
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *ClickHouseTradeStore) SaveWalkForward(ctx context.Context, report models.WalkForwardReport) error {
	raw, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("marshal report: %w", err)
	}
	q := fmt.Sprintf("INSERT INTO %s.walkforward_reports (id, created_at, windows, mean_out_sample_score, report) VALUES (?, ?, ?, ?, ?)", s.database)
	_, err = s.db.ExecContext(ctx, q, report.ID, report.CreatedAt.UTC(), uint32(len(report.Windows)), report.MeanOutSampleScore, string(raw))
	if err != nil {
		return fmt.Errorf("insert report: %w", err)
	}
	return nil
}

// Close is a no-op; the pkg client owns the connection.
func (s *ClickHouseTradeStore) Close() error { return nil }

// batchPublisher is the slice of *pkgkafka.Producer the publisher uses.
type batchPublisher interface {
	PublishBatch(ctx context.Context, topic string, messages []pkgkafka.Message) error
}

// KafkaTradePublisher emits closed trades keyed by instrument, so one
// instrument's trades stay ordered within its partition.
type KafkaTradePublisher struct {
	producer batchPublisher
	topic    string
	source   string
}

func NewKafkaTradePublisher(producer batchPublisher, topic, source string) *KafkaTradePublisher {
	return &KafkaTradePublisher{producer: producer, topic: topic, source: source}
}

var _ domrepo.TradeSink = (*KafkaTradePublisher)(nil)

func (p *KafkaTradePublisher) SaveTrades(ctx context.Context, trades []models.TradeRecord) error {
	if len(trades) == 0 {
		return nil
	}
	msgs := make([]pkgkafka.Message, len(trades))
	for i, t := range trades {
		msgs[i] = pkgkafka.Message{
			Key:     []byte(t.InstrumentID),
			Value:   t,
			Headers: map[string]string{"source": p.source, "exit_reason": string(t.ExitReason)},
		}
	}
	return p.producer.PublishBatch(ctx, p.topic, msgs)
}

// Close leaves the shared producer open.
func (p *KafkaTradePublisher) Close() error { return nil }

// MultiSink fans trades out to every sink and joins their errors.
type MultiSink []domrepo.TradeSink

func (m MultiSink) SaveTrades(ctx context.Context, trades []models.TradeRecord) error {
	var errs []error
	for _, s := range m {
		if err := s.SaveTrades(ctx, trades); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m MultiSink) Close() error {
	for _, s := range m {
		_ = s.Close()
	}
	return nil
}

// NopSink drops trades.
type NopSink struct{}

func (NopSink) SaveTrades(context.Context, []models.TradeRecord) error { return nil }
func (NopSink) Close() error                                           { return nil }
