package builder

import (
	"fmt"
	"time"
)

// InvalidGroupError reports an execution batch that mixes accounts or
// instruments where a single group was expected, or is missing either
// field. It is never recovered automatically.
type InvalidGroupError struct {
	Reason string
}

func (e *InvalidGroupError) Error() string {
	return "invalid execution group: " + e.Reason
}

// MissingMultiplierError reports that no point multiplier is configured
// for an instrument. A missing multiplier is a hard failure for the
// affected pair, never a silent default of 1.
type MissingMultiplierError struct {
	Instrument string
}

func (e *MissingMultiplierError) Error() string {
	return fmt.Sprintf("no point multiplier configured for instrument %q", e.Instrument)
}

// OrderingAmbiguityError reports two executions that share a timestamp
// and carry no deterministic tie-break key. The engine refuses to guess
// an order that could alter P&L.
type OrderingAmbiguityError struct {
	Account    string
	Instrument string
	At         time.Time
}

func (e *OrderingAmbiguityError) Error() string {
	return fmt.Sprintf("cannot deterministically order executions for %s/%s at %s",
		e.Account, e.Instrument, e.At.Format(time.RFC3339))
}
