package models

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Execution side constants (NinjaTrader action names)
const (
	SideBuy        = "Buy"
	SideSell       = "Sell"
	SideSellShort  = "SellShort"
	SideBuyToCover = "BuyToCover"
)

// Execution represents a single fill reported by the trading platform.
// Executions are immutable once committed to the store.
type Execution struct {
	ID          int             `json:"id"`
	ExecutionID string          `json:"execution_id"`
	Account     string          `json:"account"`
	Instrument  string          `json:"instrument"`
	Side        string          `json:"side"`
	Quantity    int             `json:"quantity"`
	Price       decimal.Decimal `json:"price"`
	Commission  decimal.Decimal `json:"commission"`
	ExecutedAt  time.Time       `json:"executed_at"`
	CreatedAt   time.Time       `json:"created_at"`
}

// ValidSide reports whether s is one of the four recognized sides.
func ValidSide(s string) bool {
	switch s {
	case SideBuy, SideSell, SideSellShort, SideBuyToCover:
		return true
	}
	return false
}

// SignedQuantity returns the execution's contribution to the running
// position quantity: buys and covers add, sells and shorts subtract.
func (e *Execution) SignedQuantity() int {
	switch e.Side {
	case SideBuy, SideBuyToCover:
		return e.Quantity
	case SideSell, SideSellShort:
		return -e.Quantity
	}
	return 0
}

// FallbackExecutionID builds a deterministic identifier for fills whose
// source did not supply one. The composite must be stable across re-reads
// of the same file so deduplication still works.
func (e *Execution) FallbackExecutionID() string {
	return fmt.Sprintf("%s|%s|%s|%s|%d|%s",
		e.ExecutedAt.Format("2006-01-02T15:04:05"),
		e.Account, e.Instrument, e.Side, e.Quantity, e.Price.String())
}

// GroupKey identifies the (account, instrument) pair an execution belongs
// to. Position state is never shared across keys; code that fetches,
// groups, or caches executions must carry both fields together.
type GroupKey struct {
	Account    string `json:"account"`
	Instrument string `json:"instrument"`
}

// Group returns the execution's grouping key.
func (e *Execution) Group() GroupKey {
	return GroupKey{Account: e.Account, Instrument: e.Instrument}
}

func (k GroupKey) String() string {
	return k.Account + "/" + k.Instrument
}

// Valid reports whether both fields are present. An empty account or
// instrument must fail fast rather than silently aggregate across groups.
func (k GroupKey) Valid() bool {
	return k.Account != "" && k.Instrument != ""
}
