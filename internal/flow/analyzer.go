// Package flow implements the quantity-flow analysis that turns an
// ordered stream of executions for one (account, instrument) pair into
// position boundary events. The running signed quantity (positive long,
// negative short) defines the boundaries: leaving zero starts a position,
// returning to exactly zero closes it, and crossing zero in one fill is a
// reversal that closes the current position and opens a new one.
package flow

import (
	"fmt"

	"github.com/tradejournal/position-engine/internal/models"
)

// EventKind classifies what an execution (or a portion of one) did to the
// running position.
type EventKind string

const (
	PositionStart    EventKind = "position_start"
	PositionScale    EventKind = "position_scale"
	PositionReduce   EventKind = "position_reduce"
	PositionClose    EventKind = "position_close"
	PositionReversal EventKind = "position_reversal"
)

// Event is one boundary-tagged slice of an execution. Quantity is the
// portion of the execution's contracts assigned to this event; for all
// non-reversal executions it equals the full execution quantity. A
// reversal execution yields two events: a PositionClose for the portion
// that brings the running quantity to zero, and a PositionReversal for
// the remainder that opens the next position.
type Event struct {
	Execution     *models.Execution
	Kind          EventKind
	Quantity      int
	PositionIndex int
	RunningAfter  int
}

// Analyze walks execs, which must all share one (account, instrument)
// pair and already be sorted into deterministic time order, and emits the
// boundary events in stream order. The initial state is flat; a stream
// that ends with non-zero running quantity leaves its last position open.
func Analyze(execs []*models.Execution) ([]Event, error) {
	if len(execs) == 0 {
		return nil, nil
	}

	group := execs[0].Group()
	events := make([]Event, 0, len(execs))
	running := 0
	posIdx := -1

	for _, e := range execs {
		if e.Group() != group {
			return nil, fmt.Errorf("execution %q belongs to %s, expected %s",
				e.ExecutionID, e.Group(), group)
		}
		if e.Quantity <= 0 {
			return nil, fmt.Errorf("execution %q has non-positive quantity %d",
				e.ExecutionID, e.Quantity)
		}
		delta := e.SignedQuantity()
		if delta == 0 {
			return nil, fmt.Errorf("execution %q has unknown side %q", e.ExecutionID, e.Side)
		}

		switch {
		case running == 0:
			posIdx++
			running = delta
			events = append(events, Event{
				Execution:     e,
				Kind:          PositionStart,
				Quantity:      e.Quantity,
				PositionIndex: posIdx,
				RunningAfter:  running,
			})

		case sameSign(running, delta):
			running += delta
			events = append(events, Event{
				Execution:     e,
				Kind:          PositionScale,
				Quantity:      e.Quantity,
				PositionIndex: posIdx,
				RunningAfter:  running,
			})

		case abs(delta) < abs(running):
			running += delta
			events = append(events, Event{
				Execution:     e,
				Kind:          PositionReduce,
				Quantity:      e.Quantity,
				PositionIndex: posIdx,
				RunningAfter:  running,
			})

		case abs(delta) == abs(running):
			// Reduce to exactly zero: a close, not a reversal.
			running = 0
			events = append(events, Event{
				Execution:     e,
				Kind:          PositionClose,
				Quantity:      e.Quantity,
				PositionIndex: posIdx,
				RunningAfter:  0,
			})

		default:
			// Crosses zero: split into close + start attributed to the
			// same execution row. The closing portion is priced against
			// the position's pre-event average entry; the opening portion
			// starts a fresh average at the execution's price. Both facts
			// fall out of the quantity split here and the builder's
			// per-portion weighting.
			closing := abs(running)
			opening := e.Quantity - closing
			events = append(events, Event{
				Execution:     e,
				Kind:          PositionClose,
				Quantity:      closing,
				PositionIndex: posIdx,
				RunningAfter:  0,
			})
			posIdx++
			if delta > 0 {
				running = opening
			} else {
				running = -opening
			}
			events = append(events, Event{
				Execution:     e,
				Kind:          PositionReversal,
				Quantity:      opening,
				PositionIndex: posIdx,
				RunningAfter:  running,
			})
		}
	}

	return events, nil
}

func sameSign(a, b int) bool {
	return (a > 0) == (b > 0)
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
