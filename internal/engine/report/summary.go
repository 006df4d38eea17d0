package report

import (
	"math"

	"StockPulse/internal/domain/models"
)

// Summarize computes trade-level statistics over a trade log. Returns are
// per-trade net returns on the entry notional. Sharpe uses the sample
// standard deviation and is 0 with fewer than two trades. MaxDrawdown is the
// largest fall of the cumulative return from its running peak, as a
// non-negative number.
func Summarize(trades []models.TradeRecord) models.Summary {
	s := models.Summary{Trades: len(trades)}
	if len(trades) == 0 {
		return s
	}

	returns := make([]float64, len(trades))
	var (
		winSum, lossSum float64
		cum, peak, mdd  float64
	)
	s.BestTrade = math.Inf(-1)
	s.WorstTrade = math.Inf(1)

	for i, t := range trades {
		r := t.Return()
		returns[i] = r

		if t.RealizedPnL > 0 {
			s.Wins++
			winSum += r
		} else {
			s.Losses++
			lossSum += r
		}
		s.TotalReturn += r
		s.GrossPnL += t.GrossPnL
		s.Fees += t.Fees
		s.NetPnL += t.RealizedPnL
		s.BestTrade = math.Max(s.BestTrade, r)
		s.WorstTrade = math.Min(s.WorstTrade, r)

		cum += r
		peak = math.Max(peak, cum)
		mdd = math.Max(mdd, peak-cum)
	}

	n := float64(len(trades))
	s.WinRate = float64(s.Wins) / n
	s.AvgReturn = s.TotalReturn / n
	s.MaxDrawdown = mdd

	var avgWin, avgLoss float64
	if s.Wins > 0 {
		avgWin = winSum / float64(s.Wins)
	}
	if s.Losses > 0 {
		avgLoss = lossSum / float64(s.Losses)
	}
	s.Expectancy = s.WinRate*avgWin + (1-s.WinRate)*avgLoss

	if len(returns) > 1 {
		var ss float64
		for _, r := range returns {
			d := r - s.AvgReturn
			ss += d * d
		}
		if std := math.Sqrt(ss / (n - 1)); std > 0 {
			s.Sharpe = s.AvgReturn / std
		}
	}
	return s
}
