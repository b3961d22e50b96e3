// Package builder derives Position records from the execution store.
// Each rebuild recomputes the full position set for one (account,
// instrument) pair and replaces the previous set in a single
// transaction; a new execution can retroactively change which boundary
// an earlier execution belongs to, so partial patching is never safe.
package builder

import (
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"github.com/tradejournal/position-engine/internal/flow"
	"github.com/tradejournal/position-engine/internal/models"
)

// ExecutionSource provides the executions of one group in storage order.
type ExecutionSource interface {
	GetExecutionsForGroup(account, instrument string) ([]*models.Execution, error)
}

// PositionWriter atomically replaces the derived positions of one group.
// Implementations assign IDs into the passed positions on success.
type PositionWriter interface {
	ReplacePositionsForGroup(account, instrument string, positions []*models.Position) error
}

// MultiplierSource resolves an instrument to its dollars-per-point value.
type MultiplierSource interface {
	PointValue(instrument string) (decimal.Decimal, error)
}

// Builder computes and persists positions for execution groups.
type Builder struct {
	executions  ExecutionSource
	positions   PositionWriter
	multipliers MultiplierSource
}

// New creates a Builder.
func New(executions ExecutionSource, positions PositionWriter, multipliers MultiplierSource) *Builder {
	return &Builder{
		executions:  executions,
		positions:   positions,
		multipliers: multipliers,
	}
}

// Rebuild recomputes every position for (account, instrument) and
// replaces the stored set. It returns the IDs of the persisted positions
// in entry-time order. Both parameters are required; an empty account
// must fail rather than aggregate across accounts.
func (b *Builder) Rebuild(account, instrument string) ([]int, error) {
	key := models.GroupKey{Account: account, Instrument: instrument}
	if !key.Valid() {
		return nil, &InvalidGroupError{Reason: fmt.Sprintf("account=%q instrument=%q, both required", account, instrument)}
	}

	multiplier, err := b.multipliers.PointValue(instrument)
	if err != nil {
		return nil, err
	}

	execs, err := b.executions.GetExecutionsForGroup(account, instrument)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch executions for %s: %w", key, err)
	}

	positions, err := Compute(key, execs, multiplier)
	if err != nil {
		return nil, err
	}

	if err := b.positions.ReplacePositionsForGroup(account, instrument, positions); err != nil {
		return nil, err
	}

	ids := make([]int, len(positions))
	for i, p := range positions {
		ids[i] = p.ID
	}
	return ids, nil
}

// Compute derives the full position set for one group from its
// executions. It is pure apart from reading the inputs, which makes the
// rebuild path deterministic: the same executions always produce the
// same positions, field for field.
func Compute(key models.GroupKey, execs []*models.Execution, multiplier decimal.Decimal) ([]*models.Position, error) {
	for _, e := range execs {
		if e.Group() != key {
			return nil, &InvalidGroupError{
				Reason: fmt.Sprintf("execution %q has group %s, expected %s", e.ExecutionID, e.Group(), key),
			}
		}
	}

	sorted := make([]*models.Execution, len(execs))
	copy(sorted, execs)
	if err := orderExecutions(key, sorted); err != nil {
		return nil, err
	}

	events, err := flow.Analyze(sorted)
	if err != nil {
		return nil, fmt.Errorf("failed to analyze quantity flow for %s: %w", key, err)
	}

	return assemble(key, events, multiplier), nil
}

// orderExecutions sorts by executed_at ascending, breaking ties by the
// store's serial row id and then by execution id. Committed rows always
// carry a serial id, so ambiguity can only arise for in-memory batches
// with neither key; those are rejected rather than ordered by guesswork.
func orderExecutions(key models.GroupKey, execs []*models.Execution) error {
	sort.SliceStable(execs, func(i, j int) bool {
		a, b := execs[i], execs[j]
		if !a.ExecutedAt.Equal(b.ExecutedAt) {
			return a.ExecutedAt.Before(b.ExecutedAt)
		}
		if a.ID != b.ID {
			return a.ID < b.ID
		}
		return a.ExecutionID < b.ExecutionID
	})

	for i := 1; i < len(execs); i++ {
		a, b := execs[i-1], execs[i]
		if !a.ExecutedAt.Equal(b.ExecutedAt) {
			continue
		}
		if a.ID != b.ID || a.ExecutionID != b.ExecutionID {
			continue
		}
		return &OrderingAmbiguityError{
			Account:    key.Account,
			Instrument: key.Instrument,
			At:         a.ExecutedAt,
		}
	}
	return nil
}

// accum aggregates one position while its boundary events stream in.
type accum struct {
	positionType  string
	entryTime     time.Time
	lastTime      time.Time
	entryQty      int
	exitQty       int
	peakQty       int
	entryNotional decimal.Decimal
	exitNotional  decimal.Decimal
	commission    decimal.Decimal
	closed        bool
	rows          []*models.PositionExecution
}

func assemble(key models.GroupKey, events []flow.Event, multiplier decimal.Decimal) []*models.Position {
	var accums []*accum

	for _, ev := range events {
		for len(accums) <= ev.PositionIndex {
			accums = append(accums, &accum{})
		}
		a := accums[ev.PositionIndex]
		e := ev.Execution
		qty := decimal.NewFromInt(int64(ev.Quantity))
		notional := e.Price.Mul(qty)

		// A reversal execution is split across two positions; its
		// commission follows the quantity portions. The opening side
		// takes the remainder rather than its own rounded quotient, so
		// the two portions sum to the execution total exactly.
		commission := e.Commission
		if ev.Quantity != e.Quantity {
			total := decimal.NewFromInt(int64(e.Quantity))
			if ev.Kind == flow.PositionReversal {
				closed := decimal.NewFromInt(int64(e.Quantity - ev.Quantity))
				commission = e.Commission.Sub(e.Commission.Mul(closed).Div(total))
			} else {
				commission = e.Commission.Mul(qty).Div(total)
			}
		}
		a.commission = a.commission.Add(commission)

		if abs(ev.RunningAfter) > a.peakQty {
			a.peakQty = abs(ev.RunningAfter)
		}

		role := models.RoleEntry
		switch ev.Kind {
		case flow.PositionStart, flow.PositionReversal:
			a.positionType = models.PositionLong
			if ev.RunningAfter < 0 {
				a.positionType = models.PositionShort
			}
			a.entryTime = e.ExecutedAt
			a.entryQty += ev.Quantity
			a.entryNotional = a.entryNotional.Add(notional)
		case flow.PositionScale:
			a.entryQty += ev.Quantity
			a.entryNotional = a.entryNotional.Add(notional)
		case flow.PositionReduce:
			role = models.RoleExit
			a.exitQty += ev.Quantity
			a.exitNotional = a.exitNotional.Add(notional)
		case flow.PositionClose:
			role = models.RoleExit
			a.exitQty += ev.Quantity
			a.exitNotional = a.exitNotional.Add(notional)
			a.closed = true
		}
		a.lastTime = e.ExecutedAt

		a.rows = append(a.rows, &models.PositionExecution{
			ExecutionID: e.ID,
			Role:        role,
			Quantity:    ev.Quantity,
			Price:       e.Price,
			Commission:  commission,
			SortOrder:   len(a.rows),
		})
	}

	positions := make([]*models.Position, 0, len(accums))
	for _, a := range accums {
		positions = append(positions, a.finish(key, multiplier))
	}
	return positions
}

func (a *accum) finish(key models.GroupKey, multiplier decimal.Decimal) *models.Position {
	p := &models.Position{
		Account:         key.Account,
		Instrument:      key.Instrument,
		PositionType:    a.positionType,
		Status:          models.StatusOpen,
		TotalQuantity:   a.peakQty,
		TotalCommission: a.commission,
		EntryTime:       a.entryTime,
		Executions:      a.rows,
	}
	// exit_time is the fill that flattened the position when closed, and
	// the most recent fill so far when still open.
	if !a.lastTime.IsZero() {
		t := a.lastTime
		p.ExitTime = &t
	}
	if a.closed {
		p.Status = models.StatusClosed
	}

	if a.entryQty > 0 {
		p.AverageEntryPrice = a.entryNotional.Div(decimal.NewFromInt(int64(a.entryQty)))
	}
	if a.exitQty > 0 {
		p.AverageExitPrice = a.exitNotional.Div(decimal.NewFromInt(int64(a.exitQty)))
	}

	// Realized P&L over the exited quantity. For a closed position the
	// exited quantity equals the entered quantity, so this conserves
	// sum((exit_price - avg_entry) * qty) exactly; for an open position
	// it covers the realized portion only.
	if a.exitQty > 0 {
		sign := decimal.NewFromInt(1)
		if p.PositionType == models.PositionShort {
			sign = decimal.NewFromInt(-1)
		}
		p.TotalPointsPnl = p.AverageExitPrice.Sub(p.AverageEntryPrice).
			Mul(decimal.NewFromInt(int64(a.exitQty))).
			Mul(sign)
		p.TotalDollarsPnl = p.TotalPointsPnl.Mul(multiplier)
	}

	return p
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
