package packet

import (
	"fmt"

	"github.com/sarchlab/fabricsim/timing"
)

// Debt is the fractional remainder of a bytes-per-tick timing division, kept
// as an exact ratio so accumulated timing stays bit-exact across platforms.
// The value Num/Den is always in [0, 1).
type Debt struct {
	Num int
	Den int
}

// IsZero reports whether the debt carries no fraction.
func (d Debt) IsZero() bool {
	return d.Num == 0
}

// A DebtAccumulator carries fractional transmit-time remainders across
// packets for one direction of one port. When the accumulated fraction
// reaches one whole tick, the tick rolls into the next transfer.
type DebtAccumulator struct {
	bytesPerTick int
	num          int
}

// NewDebtAccumulator creates an accumulator for a channel that moves
// bytesPerTick bytes each tick.
func NewDebtAccumulator(bytesPerTick int) *DebtAccumulator {
	if bytesPerTick <= 0 {
		panic("bytesPerTick must be positive")
	}

	return &DebtAccumulator{bytesPerTick: bytesPerTick}
}

// Add accumulates a fractional remainder and returns the number of whole
// ticks that the accumulated debt now rolls into the next transfer.
func (a *DebtAccumulator) Add(d Debt) timing.VTimeInTick {
	if d.Den != a.bytesPerTick {
		panic(fmt.Sprintf(
			"debt denominator %d does not match channel width %d",
			d.Den, a.bytesPerTick,
		))
	}

	a.num += d.Num
	carry := timing.VTimeInTick(a.num / a.bytesPerTick)
	a.num %= a.bytesPerTick

	return carry
}

// Fraction returns the currently accumulated fraction.
func (a *DebtAccumulator) Fraction() Debt {
	return Debt{Num: a.num, Den: a.bytesPerTick}
}
