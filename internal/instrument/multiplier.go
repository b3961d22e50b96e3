// Package instrument resolves futures instruments to their point
// multipliers (dollars per point per contract).
package instrument

import (
	"strings"

	"github.com/shopspring/decimal"
	"github.com/tradejournal/position-engine/internal/builder"
)

// Standard CME/CBOT point values. Overrides from configuration take
// precedence; an instrument found in neither place is a hard error.
var defaultMultipliers = map[string]decimal.Decimal{
	"ES":  decimal.NewFromInt(50),
	"MES": decimal.NewFromInt(5),
	"NQ":  decimal.NewFromInt(20),
	"MNQ": decimal.NewFromInt(2),
	"YM":  decimal.NewFromInt(5),
	"MYM": decimal.NewFromFloat(0.5),
	"RTY": decimal.NewFromInt(50),
	"M2K": decimal.NewFromInt(5),
	"CL":  decimal.NewFromInt(1000),
	"MCL": decimal.NewFromInt(100),
	"GC":  decimal.NewFromInt(100),
	"MGC": decimal.NewFromInt(10),
	"SI":  decimal.NewFromInt(5000),
	"ZB":  decimal.NewFromInt(1000),
	"ZN":  decimal.NewFromInt(1000),
	"6E":  decimal.NewFromInt(125000),
}

// Table maps instruments to point multipliers. Lookup tries the exact
// instrument name first (month-specific overrides win), then the root
// symbol. Continuous-contract mapping stays with the market-data layer.
type Table struct {
	overrides map[string]decimal.Decimal
}

// NewTable creates a Table with the given overrides layered on top of
// the built-in defaults. overrides may be nil.
func NewTable(overrides map[string]decimal.Decimal) *Table {
	t := &Table{overrides: make(map[string]decimal.Decimal, len(overrides))}
	for symbol, mult := range overrides {
		t.overrides[strings.ToUpper(strings.TrimSpace(symbol))] = mult
	}
	return t
}

// PointValue returns the dollars-per-point multiplier for instrument
// (e.g. "MNQ 12-25" or "MNQ"). A missing multiplier returns
// *builder.MissingMultiplierError, never a silent default.
func (t *Table) PointValue(instrument string) (decimal.Decimal, error) {
	name := strings.ToUpper(strings.TrimSpace(instrument))
	if name == "" {
		return decimal.Zero, &builder.MissingMultiplierError{Instrument: instrument}
	}

	if m, ok := t.overrides[name]; ok {
		return m, nil
	}

	root := RootSymbol(name)
	if m, ok := t.overrides[root]; ok {
		return m, nil
	}
	if m, ok := defaultMultipliers[root]; ok {
		return m, nil
	}

	return decimal.Zero, &builder.MissingMultiplierError{Instrument: instrument}
}

// RootSymbol extracts the root from a contract name: the leading token
// before the expiry ("MNQ 12-25" -> "MNQ").
func RootSymbol(instrument string) string {
	name := strings.TrimSpace(instrument)
	if i := strings.IndexByte(name, ' '); i > 0 {
		return name[:i]
	}
	return name
}
