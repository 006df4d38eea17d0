package report

import (
	"bytes"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"StockPulse/internal/domain/models"
)

func trade(id string, entry, pnl float64, qty int64) models.TradeRecord {
	t0 := time.Date(2024, 3, 4, 9, 10, 0, 0, time.UTC)
	return models.TradeRecord{
		InstrumentID: id,
		RuleID:       models.RuleBreakout,
		EntryTime:    t0,
		EntryPrice:   entry,
		ExitTime:     t0.Add(30 * time.Minute),
		ExitPrice:    entry + pnl/float64(qty),
		ExitReason:   models.ExitTakeProfit,
		Quantity:     qty,
		GrossPnL:     pnl,
		RealizedPnL:  pnl,
	}
}

func TestSummarizeEmpty(t *testing.T) {
	s := Summarize(nil)
	assert.Equal(t, models.Summary{}, s)
}

func TestSummarize(t *testing.T) {
	// returns: +10%, -5%, +2%
	trades := []models.TradeRecord{
		trade("A", 100, 100, 10),
		trade("B", 100, -50, 10),
		trade("C", 100, 20, 10),
	}
	s := Summarize(trades)

	assert.Equal(t, 3, s.Trades)
	assert.Equal(t, 2, s.Wins)
	assert.Equal(t, 1, s.Losses)
	assert.InDelta(t, 2.0/3, s.WinRate, 1e-12)
	assert.InDelta(t, 0.07, s.TotalReturn, 1e-12)
	assert.InDelta(t, 0.07/3, s.AvgReturn, 1e-12)
	assert.InDelta(t, 0.10, s.BestTrade, 1e-12)
	assert.InDelta(t, -0.05, s.WorstTrade, 1e-12)
	// cumulative: 0.10, 0.05, 0.07 -> peak 0.10, deepest 0.05 below
	assert.InDelta(t, 0.05, s.MaxDrawdown, 1e-12)
	assert.InDelta(t, 70.0, s.NetPnL, 1e-9)

	mean := 0.07 / 3
	ss := math.Pow(0.10-mean, 2) + math.Pow(-0.05-mean, 2) + math.Pow(0.02-mean, 2)
	assert.InDelta(t, mean/math.Sqrt(ss/2), s.Sharpe, 1e-12)

	// (2/3)*0.06 + (1/3)*(-0.05)
	assert.InDelta(t, 2.0/3*0.06-0.05/3, s.Expectancy, 1e-12)
}

func TestSummarizeSingleTradeHasNoSharpe(t *testing.T) {
	s := Summarize([]models.TradeRecord{trade("A", 100, 100, 10)})
	assert.Zero(t, s.Sharpe)
	assert.Zero(t, s.MaxDrawdown)
}

func TestTradeLogRoundTripAndStableBytes(t *testing.T) {
	trades := []models.TradeRecord{trade("A", 10000, -10400, 20), trade("B", 5230.5, 1200, 7)}
	trades[0].Commission, trades[0].Tax, trades[0].Slippage, trades[0].Fees = 58, 341, 390, 789
	trades[0].RealizedPnL = -11189

	var a, b bytes.Buffer
	require.NoError(t, WriteTradeLog(&a, trades))
	require.NoError(t, WriteTradeLog(&b, trades))
	assert.Equal(t, a.Bytes(), b.Bytes())

	lines := strings.Split(strings.TrimSpace(a.String()), "\n")
	require.Len(t, lines, 3)
	assert.True(t, strings.HasPrefix(lines[0], "instrument_id,rule_id,entry_time"))
	assert.Contains(t, lines[1], ",-11189")

	back, err := ReadTradeLog(&a)
	require.NoError(t, err)
	require.Len(t, back, 2)
	assert.Equal(t, trades[1].EntryPrice, back[1].EntryPrice)
	assert.True(t, trades[0].ExitTime.Equal(back[0].ExitTime))
	assert.Equal(t, trades[0].RealizedPnL, back[0].RealizedPnL)
}
