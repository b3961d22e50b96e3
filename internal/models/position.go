package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Position type constants
const (
	PositionLong  = "Long"
	PositionShort = "Short"
)

// Position status constants
const (
	StatusOpen   = "Open"
	StatusClosed = "Closed"
)

// PositionExecution role constants
const (
	RoleEntry = "entry"
	RoleExit  = "exit"
)

// Position represents a derived round-trip (or still open) holding in one
// instrument for one account, rebuilt in full from its executions.
type Position struct {
	ID                int             `json:"id"`
	Account           string          `json:"account"`
	Instrument        string          `json:"instrument"`
	PositionType      string          `json:"position_type"`
	Status            string          `json:"status"`
	TotalQuantity     int             `json:"total_quantity"`
	AverageEntryPrice decimal.Decimal `json:"average_entry_price"`
	AverageExitPrice  decimal.Decimal `json:"average_exit_price"`
	TotalPointsPnl    decimal.Decimal `json:"total_points_pnl"`
	TotalDollarsPnl   decimal.Decimal `json:"total_dollars_pnl"`
	TotalCommission   decimal.Decimal `json:"total_commission"`
	EntryTime         time.Time       `json:"entry_time"`
	ExitTime          *time.Time      `json:"exit_time,omitempty"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`

	// Executions carries the join rows when the position was loaded or
	// built with its composition; nil otherwise.
	Executions []*PositionExecution `json:"executions,omitempty"`
}

// Group returns the position's grouping key.
func (p *Position) Group() GroupKey {
	return GroupKey{Account: p.Account, Instrument: p.Instrument}
}

// PositionExecution links a position to one contributing execution,
// preserving the quantity portion and role for display and audit. A
// reversal execution produces two rows: an exit row on the closing
// position and an entry row on the new one.
type PositionExecution struct {
	ID          int             `json:"id"`
	PositionID  int             `json:"position_id"`
	ExecutionID int             `json:"execution_id"`
	Role        string          `json:"role"`
	Quantity    int             `json:"quantity"`
	Price       decimal.Decimal `json:"price"`
	Commission  decimal.Decimal `json:"commission"`
	SortOrder   int             `json:"sort_order"`
}
