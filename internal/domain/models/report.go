package models

import "time"

// Summary aggregates a trade log.
type Summary struct {
	Trades      int     `json:"trades"`
	Wins        int     `json:"wins"`
	Losses      int     `json:"losses"`
	WinRate     float64 `json:"win_rate"`
	AvgReturn   float64 `json:"avg_return"`
	TotalReturn float64 `json:"total_return"`
	Sharpe      float64 `json:"sharpe"`
	MaxDrawdown float64 `json:"max_drawdown"`
	Expectancy  float64 `json:"expectancy"`
	BestTrade   float64 `json:"best_trade"`
	WorstTrade  float64 `json:"worst_trade"`
	GrossPnL    float64 `json:"gross_pnl"`
	Fees        float64 `json:"fees"`
	NetPnL      float64 `json:"net_pnl"`
}

// BacktestResult is the output of one scheduler run over a finite source.
type BacktestResult struct {
	Trades      []TradeRecord  `json:"trades"`
	Summary     Summary        `json:"summary"`
	Events      int64          `json:"events"`
	StaleEvents int64          `json:"stale_events"`
	Signals     int64          `json:"signals"`
	Rejections  map[string]int `json:"rejections"`
	FinalBudget RiskBudget     `json:"final_budget"`
}

// WindowResult is one in-sample search plus its out-sample replay.
type WindowResult struct {
	Index          int                `json:"index"`
	InSampleFrom   string             `json:"in_sample_from"`
	InSampleTo     string             `json:"in_sample_to"`
	OutSampleFrom  string             `json:"out_sample_from"`
	OutSampleTo    string             `json:"out_sample_to"`
	BestParams     map[string]float64 `json:"best_params"`
	BestTrial      int                `json:"best_trial"`
	InSampleScore  float64            `json:"in_sample_score"`
	OutSampleScore float64            `json:"out_sample_score"`
	OutSample      Summary            `json:"out_sample"`
	Trials         int                `json:"trials"`
	SkippedTrials  int                `json:"skipped_trials"`
}

type WalkForwardReport struct {
	ID                 string         `json:"id"`
	CreatedAt          time.Time      `json:"created_at"`
	Windows            []WindowResult `json:"windows"`
	MeanOutSampleScore float64        `json:"mean_out_sample_score"`
	OutSample          Summary        `json:"out_sample"`
}
