package lending

import (
	"fmt"

	"marginchain/core/fixed"
)

// RatioCurve prices an auction by the number of blocks elapsed since it
// started. Implementations must be deterministic, monotonically
// non-decreasing in elapsed and never exceed Ceiling.
type RatioCurve interface {
	Ratio(elapsed uint64) fixed.Dec
	Ceiling() fixed.Dec
}

// LinearCurve grows by Step per block from Start and saturates at Max.
type LinearCurve struct {
	Start fixed.Dec
	Step  fixed.Dec
	Max   fixed.Dec
}

// DefaultCurve starts at zero, adds 0.01 per block and stops at 2.
var DefaultCurve = LinearCurve{
	Start: fixed.Dec{},
	Step:  fixed.MustDec("0.01"),
	Max:   fixed.NewDec(2),
}

// Validate requires Start <= 1 < Max and a positive step so every auction
// eventually crosses into the above-one regime.
func (c LinearCurve) Validate() error {
	if c.Step.IsZero() {
		return fmt.Errorf("%w: curve step must be positive", ErrValidation)
	}
	if c.Start.GT(fixed.One()) {
		return fmt.Errorf("%w: curve start %s above 1", ErrValidation, c.Start)
	}
	if c.Max.LTE(fixed.One()) {
		return fmt.Errorf("%w: curve ceiling %s must exceed 1", ErrValidation, c.Max)
	}
	return nil
}

func (c LinearCurve) Ratio(elapsed uint64) fixed.Dec {
	grown, err := c.Step.MulUint64(elapsed)
	if err != nil {
		return c.Max
	}
	ratio, err := c.Start.Add(grown)
	if err != nil || ratio.GT(c.Max) {
		return c.Max
	}
	return ratio
}

func (c LinearCurve) Ceiling() fixed.Dec { return c.Max }
