package report

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"time"

	"StockPulse/internal/domain/models"
)

var tradeLogHeader = []string{
	"instrument_id", "rule_id",
	"entry_time", "entry_price",
	"exit_time", "exit_price", "exit_reason",
	"quantity", "gross_pnl", "commission", "tax", "slippage", "fees", "realized_pnl",
}

// WriteTradeLog writes trades as CSV in the order given. Identical inputs
// produce byte-identical output.
func WriteTradeLog(w io.Writer, trades []models.TradeRecord) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(tradeLogHeader); err != nil {
		return fmt.Errorf("write trade log header: %w", err)
	}
	for i, t := range trades {
		row := []string{
			t.InstrumentID,
			t.RuleID,
			formatTime(t.EntryTime),
			formatFloat(t.EntryPrice),
			formatTime(t.ExitTime),
			formatFloat(t.ExitPrice),
			string(t.ExitReason),
			strconv.FormatInt(t.Quantity, 10),
			formatFloat(t.GrossPnL),
			formatFloat(t.Commission),
			formatFloat(t.Tax),
			formatFloat(t.Slippage),
			formatFloat(t.Fees),
			formatFloat(t.RealizedPnL),
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("write trade %d: %w", i, err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// ReadTradeLog parses a log written by WriteTradeLog.
func ReadTradeLog(r io.Reader) ([]models.TradeRecord, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = len(tradeLogHeader)
	rows, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read trade log: %w", err)
	}
	if len(rows) == 0 {
		return nil, nil
	}

	out := make([]models.TradeRecord, 0, len(rows)-1)
	for i, row := range rows[1:] {
		var (
			t    models.TradeRecord
			perr error
		)
		p := func(s string) float64 {
			v, err := strconv.ParseFloat(s, 64)
			if err != nil && perr == nil {
				perr = err
			}
			return v
		}
		ts := func(s string) time.Time {
			if s == "" {
				return time.Time{}
			}
			v, err := time.Parse(time.RFC3339Nano, s)
			if err != nil && perr == nil {
				perr = err
			}
			return v
		}
		t.InstrumentID = row[0]
		t.RuleID = row[1]
		t.EntryTime = ts(row[2])
		t.EntryPrice = p(row[3])
		t.ExitTime = ts(row[4])
		t.ExitPrice = p(row[5])
		t.ExitReason = models.ExitReason(row[6])
		q, err := strconv.ParseInt(row[7], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("trade log row %d quantity: %w", i+1, err)
		}
		t.Quantity = q
		t.GrossPnL = p(row[8])
		t.Commission = p(row[9])
		t.Tax = p(row[10])
		t.Slippage = p(row[11])
		t.Fees = p(row[12])
		t.RealizedPnL = p(row[13])
		if perr != nil {
			return nil, fmt.Errorf("trade log row %d: %w", i+1, perr)
		}
		out = append(out, t)
	}
	return out, nil
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(time.RFC3339Nano)
}
