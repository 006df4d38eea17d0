package models

import "time"

type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

type OrderKind string

const (
	OrderMarket OrderKind = "MARKET"
	OrderLimit  OrderKind = "LIMIT"
)

// OrderHandle identifies a submitted order.
type OrderHandle string

// Order is handed to an ExecutionAdapter.
type Order struct {
	ID           OrderHandle
	InstrumentID string
	Side         Side
	Quantity     int64
	Kind         OrderKind
	RefPrice     float64 // bar close at decision time; limit price for LIMIT orders
	RequestedAt  time.Time
	Reason       ExitReason // set on exits
}

type ReportStatus string

const (
	ReportFilled          ReportStatus = "FILLED"
	ReportPartiallyFilled ReportStatus = "PARTIALLY_FILLED"
	ReportRejected        ReportStatus = "REJECTED"
	ReportCancelConfirmed ReportStatus = "CANCEL_CONFIRMED"
)

// ExecutionReport is an asynchronous order outcome keyed by handle.
type ExecutionReport struct {
	Handle       OrderHandle
	InstrumentID string
	Side         Side
	Status       ReportStatus
	FillPrice    float64
	FilledQty    int64 // quantity filled by this report
	Reason       string
	At           time.Time
}
