package optimizer

import "StockPulse/internal/domain/models"

// Objective scores a backtest summary. The weighted sum is scaled by
// Penalty when fewer than MinTrades trades happened, and a run with no
// trades scores NoTradeScore.
type Objective struct {
	SharpeWeight      float64 `yaml:"sharpe_weight" json:"sharpe_weight" default:"0.4"`
	WinRateWeight     float64 `yaml:"win_rate_weight" json:"win_rate_weight" default:"0.3"`
	TotalReturnWeight float64 `yaml:"total_return_weight" json:"total_return_weight" default:"0.3"`
	MinTrades         int     `yaml:"min_trades" json:"min_trades" default:"10" validate:"gte=0"`
	Penalty           float64 `yaml:"penalty" json:"penalty" default:"0.5" validate:"gte=0,lte=1"`
	NoTradeScore      float64 `yaml:"no_trade_score" json:"no_trade_score" default:"-1000"`
}

func DefaultObjective() Objective {
	return Objective{
		SharpeWeight:      0.4,
		WinRateWeight:     0.3,
		TotalReturnWeight: 0.3,
		MinTrades:         10,
		Penalty:           0.5,
		NoTradeScore:      -1000,
	}
}

func (o Objective) Score(s models.Summary) float64 {
	if s.Trades == 0 {
		return o.NoTradeScore
	}
	score := o.SharpeWeight*s.Sharpe + o.WinRateWeight*s.WinRate + o.TotalReturnWeight*s.TotalReturn
	if s.Trades < o.MinTrades {
		score *= o.Penalty
	}
	return score
}
