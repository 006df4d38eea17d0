package models

import (
	"fmt"
	"time"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"

	"StockPulse/pkg/util"
)

var paramsValidator = validator.New()

// DefaultStrategyParams returns the params with every default tag applied.
func DefaultStrategyParams() StrategyParams {
	var p StrategyParams
	if err := defaults.Set(&p); err != nil {
		panic(fmt.Sprintf("strategy defaults: %v", err))
	}
	return p
}

// StrategyParams is every threshold the engine reads. It is immutable once a
// run starts; the optimizer produces modified copies per trial.
type StrategyParams struct {
	Entry   EntryParams   `yaml:"entry" json:"entry"`
	Risk    RiskParams    `yaml:"risk" json:"risk"`
	Exit    ExitParams    `yaml:"exit" json:"exit"`
	Session SessionParams `yaml:"session" json:"session"`
	Cost    CostParams    `yaml:"cost" json:"cost"`
}

type EntryParams struct {
	VolumeSpike VolumeSpikeParams `yaml:"volume_spike" json:"volume_spike"`
	Breakout    BreakoutParams    `yaml:"breakout" json:"breakout"`
	Momentum    MomentumParams    `yaml:"momentum" json:"momentum"`
	GradualRise GradualRiseParams `yaml:"gradual_rise" json:"gradual_rise"`
	Filters     FilterParams      `yaml:"filters" json:"filters"`
	// Cooldown suppresses new candidates for an instrument after it last produced one.
	Cooldown time.Duration `yaml:"cooldown" json:"cooldown" default:"5m" validate:"gte=0"`
}

type VolumeSpikeParams struct {
	Enabled  bool    `yaml:"enabled" json:"enabled" default:"true"`
	ThetaVol float64 `yaml:"theta_vol" json:"theta_vol" default:"0.05" validate:"gt=0"`
	MaxRatio float64 `yaml:"max_ratio" json:"max_ratio" validate:"gte=0"` // 0 means unbounded
}

type BreakoutParams struct {
	Enabled           bool          `yaml:"enabled" json:"enabled" default:"true"`
	Lookback          int           `yaml:"lookback" json:"lookback" default:"5" validate:"min=1,max=500"`
	RiseThreshold     float64       `yaml:"rise_threshold" json:"rise_threshold" default:"0.01" validate:"gte=0"`
	OpeningRangeDelay time.Duration `yaml:"opening_range_delay" json:"opening_range_delay" default:"5m" validate:"gte=0"`
	MaxDelay          time.Duration `yaml:"max_delay" json:"max_delay" default:"30m" validate:"gt=0"`
}

type MomentumParams struct {
	Enabled           bool    `yaml:"enabled" json:"enabled" default:"true"`
	ExecutionStrength float64 `yaml:"execution_strength" json:"execution_strength" default:"1.1" validate:"gt=0"`
	ConsecutiveTicks  int     `yaml:"consecutive_ticks" json:"consecutive_ticks" default:"3" validate:"min=1"`
	MinPriceChange    float64 `yaml:"min_price_change" json:"min_price_change" default:"0.02" validate:"gte=0"`
	MinTradeValue     float64 `yaml:"min_trade_value" json:"min_trade_value" default:"100000000" validate:"gte=0"`
	MinVolumeRatio    float64 `yaml:"min_volume_ratio" json:"min_volume_ratio" validate:"gte=0"`
}

// GradualRiseParams describe a muted opening followed by a volume-confirmed climb.
type GradualRiseParams struct {
	Enabled       bool          `yaml:"enabled" json:"enabled" default:"true"`
	ThetaSpike    float64       `yaml:"theta_spike" json:"theta_spike" default:"0.02" validate:"gt=0"`
	ThetaSpikeLow float64       `yaml:"theta_spike_low" json:"theta_spike_low" default:"0.005"`
	Theta15m      float64       `yaml:"theta_15m" json:"theta_15m" default:"0.01"`
	ThetaVol      float64       `yaml:"theta_vol" json:"theta_vol" default:"0.05" validate:"gte=0"`
	ThetaPull     float64       `yaml:"theta_pull" json:"theta_pull" default:"0.02" validate:"gte=0"`
	Window        time.Duration `yaml:"window" json:"window" default:"15m" validate:"gt=0"`
}

type FilterParams struct {
	VWAP    bool    `yaml:"vwap" json:"vwap"`
	RSIBand bool    `yaml:"rsi_band" json:"rsi_band"`
	RSIMin  float64 `yaml:"rsi_min" json:"rsi_min" default:"60" validate:"gte=0,lte=100"`
	RSIMax  float64 `yaml:"rsi_max" json:"rsi_max" default:"70" validate:"gte=0,lte=100"`
}

type RiskParams struct {
	TotalCapital      float64 `yaml:"total_capital" json:"total_capital" default:"10000000" validate:"gt=0"`
	MaxPositionSize   float64 `yaml:"max_position_size" json:"max_position_size" default:"0.5" validate:"gt=0,lte=1"`
	PositionSizeRatio float64 `yaml:"position_size_ratio" json:"position_size_ratio" default:"0.02" validate:"gt=0,lte=1"`
	MaxDailyLoss      float64 `yaml:"max_daily_loss" json:"max_daily_loss" default:"0.03" validate:"gt=0,lte=1"`
	MaxPositions      int     `yaml:"max_positions" json:"max_positions" default:"10" validate:"min=1"`
	MinTradeAmount    float64 `yaml:"min_trade_amount" json:"min_trade_amount" default:"100000" validate:"gte=0"`
	MinPositionSize   int64   `yaml:"min_position_size" json:"min_position_size" default:"1" validate:"gte=1"`
	MaxPerStock       float64 `yaml:"max_per_stock" json:"max_per_stock" default:"1000000" validate:"gt=0"`
	LotSize           int64   `yaml:"lot_size" json:"lot_size" default:"1" validate:"gte=1"`
}

type ExitParams struct {
	StopLoss           float64       `yaml:"stop_loss" json:"stop_loss" default:"-0.05" validate:"lt=0,gt=-1"`
	TakeProfit         float64       `yaml:"take_profit" json:"take_profit" default:"0.15" validate:"gt=0"`
	TrailingStop       float64       `yaml:"trailing_stop" json:"trailing_stop" default:"0.03" validate:"gte=0,lt=1"` // 0 disables
	TrailingActivation float64       `yaml:"trailing_activation" json:"trailing_activation" default:"0.02" validate:"gte=0"`
	MaxHold            time.Duration `yaml:"max_hold" json:"max_hold" default:"2h" validate:"gte=0"` // 0 disables
	MinHold            time.Duration `yaml:"min_hold" json:"min_hold" validate:"gte=0"`
	OrderTimeout       time.Duration `yaml:"order_timeout" json:"order_timeout" default:"30s" validate:"gt=0"`
	ExitRetries        int           `yaml:"exit_retries" json:"exit_retries" validate:"gte=0,lte=10"`
}

type SessionParams struct {
	Timezone   string `yaml:"timezone" json:"timezone" default:"Asia/Seoul" validate:"required"`
	Open       string `yaml:"open" json:"open" default:"09:00" validate:"required"`
	Close      string `yaml:"close" json:"close" default:"15:30" validate:"required"`
	ScanStart  string `yaml:"scan_start" json:"scan_start" default:"09:00" validate:"required"`
	ScanEnd    string `yaml:"scan_end" json:"scan_end" default:"11:00" validate:"required"`
	ForceClose string `yaml:"force_close" json:"force_close" default:"15:20"`
}

// Calendar compiles the session clock strings.
func (s SessionParams) Calendar() (*util.Calendar, error) {
	return util.NewCalendar(util.CalendarSpec{
		Timezone:   s.Timezone,
		Open:       s.Open,
		Close:      s.Close,
		ScanStart:  s.ScanStart,
		ScanEnd:    s.ScanEnd,
		ForceClose: s.ForceClose,
	})
}

type CostParams struct {
	CommissionRate    float64 `yaml:"commission_rate" json:"commission_rate" default:"0.00015" validate:"gte=0,lt=0.1"`
	TaxRate           float64 `yaml:"tax_rate" json:"tax_rate" default:"0.0018" validate:"gte=0,lt=0.1"`
	SlippageRate      float64 `yaml:"slippage_rate" json:"slippage_rate" default:"0.001" validate:"gte=0,lt=0.1"`
	CurrencyPrecision int32   `yaml:"currency_precision" json:"currency_precision" validate:"gte=0,lte=8"`
}

// Validate checks field ranges and cross-field conflicts. It never adjusts a
// value; every failure wraps ErrConfigInvalid.
func (p StrategyParams) Validate() error {
	if err := paramsValidator.Struct(p); err != nil {
		return fmt.Errorf("%w: %v", ErrConfigInvalid, err)
	}

	e := p.Entry
	if !e.Breakout.Enabled && !e.Momentum.Enabled && !e.VolumeSpike.Enabled {
		return fmt.Errorf("%w: no entry rule enabled", ErrConfigInvalid)
	}
	if e.VolumeSpike.MaxRatio > 0 && e.VolumeSpike.MaxRatio < e.VolumeSpike.ThetaVol {
		return fmt.Errorf("%w: volume_spike.max_ratio %.4f below theta_vol %.4f",
			ErrConfigInvalid, e.VolumeSpike.MaxRatio, e.VolumeSpike.ThetaVol)
	}
	if e.Breakout.OpeningRangeDelay > e.Breakout.MaxDelay {
		return fmt.Errorf("%w: breakout.opening_range_delay %s exceeds max_delay %s",
			ErrConfigInvalid, e.Breakout.OpeningRangeDelay, e.Breakout.MaxDelay)
	}
	if e.GradualRise.ThetaSpikeLow >= e.GradualRise.ThetaSpike {
		return fmt.Errorf("%w: gradual_rise.theta_spike_low %.4f must be below theta_spike %.4f",
			ErrConfigInvalid, e.GradualRise.ThetaSpikeLow, e.GradualRise.ThetaSpike)
	}
	if e.Filters.RSIBand && e.Filters.RSIMin >= e.Filters.RSIMax {
		return fmt.Errorf("%w: filters.rsi_min %.2f must be below rsi_max %.2f",
			ErrConfigInvalid, e.Filters.RSIMin, e.Filters.RSIMax)
	}

	r := p.Risk
	if r.PositionSizeRatio > r.MaxPositionSize {
		return fmt.Errorf("%w: risk.position_size_ratio %.4f exceeds max_position_size %.4f",
			ErrConfigInvalid, r.PositionSizeRatio, r.MaxPositionSize)
	}
	if r.MinTradeAmount > r.MaxPerStock {
		return fmt.Errorf("%w: risk.min_trade_amount %.0f exceeds max_per_stock %.0f",
			ErrConfigInvalid, r.MinTradeAmount, r.MaxPerStock)
	}
	if r.MinTradeAmount > r.MaxPositionSize*r.TotalCapital {
		return fmt.Errorf("%w: risk.min_trade_amount %.0f can never be admitted", ErrConfigInvalid, r.MinTradeAmount)
	}

	x := p.Exit
	if x.TrailingStop > 0 && x.TrailingActivation >= x.TakeProfit {
		return fmt.Errorf("%w: exit.trailing_activation %.4f never reached before take_profit %.4f",
			ErrConfigInvalid, x.TrailingActivation, x.TakeProfit)
	}
	if x.MaxHold > 0 && x.MinHold > x.MaxHold {
		return fmt.Errorf("%w: exit.min_hold %s exceeds max_hold %s", ErrConfigInvalid, x.MinHold, x.MaxHold)
	}

	if _, err := p.Session.Calendar(); err != nil {
		return fmt.Errorf("%w: %v", ErrConfigInvalid, err)
	}
	return nil
}
