package cost

import (
	"github.com/shopspring/decimal"

	"StockPulse/internal/domain/models"
)

// Breakdown is the cost lines of one round trip, each rounded to the
// currency precision. Net = Gross - Fees.
type Breakdown struct {
	Gross      float64
	Commission float64
	Tax        float64
	Slippage   float64
	Fees       float64
	Net        float64
}

// Model charges commission and slippage on both legs and transaction tax on
// the sell leg only.
type Model struct {
	commission decimal.Decimal
	tax        decimal.Decimal
	slippage   decimal.Decimal
	precision  int32
}

func New(p models.CostParams) *Model {
	return &Model{
		commission: decimal.NewFromFloat(p.CommissionRate),
		tax:        decimal.NewFromFloat(p.TaxRate),
		slippage:   decimal.NewFromFloat(p.SlippageRate),
		precision:  p.CurrencyPrecision,
	}
}

// RoundTrip prices a long position bought at entry and sold at exit.
func (m *Model) RoundTrip(entry, exit float64, qty int64) Breakdown {
	q := decimal.NewFromInt(qty)
	entryN := decimal.NewFromFloat(entry).Mul(q)
	exitN := decimal.NewFromFloat(exit).Mul(q)
	both := entryN.Add(exitN)

	gross := exitN.Sub(entryN).Round(m.precision)
	commission := m.commission.Mul(both).Round(m.precision)
	tax := m.tax.Mul(exitN).Round(m.precision)
	slippage := m.slippage.Mul(both).Round(m.precision)
	fees := commission.Add(tax).Add(slippage)

	return Breakdown{
		Gross:      gross.InexactFloat64(),
		Commission: commission.InexactFloat64(),
		Tax:        tax.InexactFloat64(),
		Slippage:   slippage.InexactFloat64(),
		Fees:       fees.InexactFloat64(),
		Net:        gross.Sub(fees).InexactFloat64(),
	}
}

// Notional rounds price*qty to the currency precision.
func (m *Model) Notional(price float64, qty int64) float64 {
	return decimal.NewFromFloat(price).Mul(decimal.NewFromInt(qty)).Round(m.precision).InexactFloat64()
}
