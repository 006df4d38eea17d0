package models

// Requests for the trader HTTP endpoints. Defined in domain for consistency and reuse.

type TradesRequest struct {
	Instrument string `query:"instrument" json:"instrument"`
	Limit      int    `query:"limit" json:"limit" default:"100" validate:"gte=1,lte=5000"`
}

// BarsRequest reads archived bars; From and To are RFC3339 or session dates.
type BarsRequest struct {
	Instrument string `query:"instrument" json:"instrument" validate:"required"`
	From       string `query:"from" json:"from" validate:"required"`
	To         string `query:"to" json:"to" validate:"required"`
	Limit      int    `query:"limit" json:"limit" default:"1000" validate:"gte=1,lte=50000"`
}

type HaltRequest struct {
	Reason string `json:"reason" default:"manual" validate:"max=200"`
}

// OptimizeRequest enqueues a walk-forward job over stored bars.
type OptimizeRequest struct {
	Instruments   []string `json:"instruments" validate:"required,min=1,dive,required"`
	From          string   `json:"from" validate:"required"`
	To            string   `json:"to" validate:"required"`
	InSampleDays  int      `json:"in_sample_days" default:"20" validate:"gte=1,lte=250"`
	OutSampleDays int      `json:"out_sample_days" default:"5" validate:"gte=1,lte=120"`
	StepDays      int      `json:"step_days" validate:"gte=0,lte=120"`
	Search        string   `json:"search" default:"random" validate:"oneof=grid random"`
	Trials        int      `json:"trials" default:"50" validate:"gte=1,lte=5000"`
	Seed          int64    `json:"seed" default:"42"`
}

type OptimizeJobStatus string

const (
	JobQueued    OptimizeJobStatus = "queued"
	JobRunning   OptimizeJobStatus = "running"
	JobSucceeded OptimizeJobStatus = "succeeded"
	JobFailed    OptimizeJobStatus = "failed"
)

// OptimizeJobState is what GET /api/optimize/:id returns.
type OptimizeJobState struct {
	ID     string             `json:"id"`
	Status OptimizeJobStatus  `json:"status"`
	Error  string             `json:"error,omitempty"`
	Report *WalkForwardReport `json:"report,omitempty"`
}
