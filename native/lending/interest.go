package lending

import (
	"fmt"

	"github.com/holiman/uint256"

	"marginchain/core/fixed"
)

// InterestModel encapsulates the parameters that shape how interest rates react
// to pool utilisation. All rates are annual.
type InterestModel struct {
	// BaseRate is the minimum borrow APR applied when utilisation is zero.
	BaseRate fixed.Dec
	// Slope1 is the borrow APR increase per unit of utilisation up to the
	// kink point.
	Slope1 fixed.Dec
	// Slope2 governs the additional APR increase applied when utilisation
	// exceeds the kink point.
	Slope2 fixed.Dec
	// Kink represents the utilisation ratio where the borrow rate slope
	// changes to encourage liquidity.
	Kink fixed.Dec
}

// DefaultInterestModel provides a reasonable starting configuration featuring a
// kinked interest rate curve with a modest base rate.
var DefaultInterestModel = InterestModel{
	BaseRate: fixed.MustDec("0.02"),
	Slope1:   fixed.MustDec("0.15"),
	Slope2:   fixed.MustDec("0.6"),
	Kink:     fixed.MustDec("0.8"),
}

// Validate rejects a kink outside (0, 1].
func (m InterestModel) Validate() error {
	if m.Kink.IsZero() || m.Kink.GT(fixed.One()) {
		return fmt.Errorf("%w: kink must be in (0, 1], got %s", ErrValidation, m.Kink)
	}
	return nil
}

// Utilisation computes U = totalBorrow / totalSupply rounded down. When no
// liquidity exists the utilisation is defined as zero.
func Utilisation(totalBorrow, totalSupply *uint256.Int) (fixed.Dec, error) {
	if fixed.IsZero(totalBorrow) || fixed.IsZero(totalSupply) {
		return fixed.Dec{}, nil
	}
	return fixed.Ratio(totalBorrow, totalSupply)
}

// BorrowRate derives the annual borrow rate for utilisation u.
func (m InterestModel) BorrowRate(u fixed.Dec) (fixed.Dec, error) {
	if u.IsZero() {
		return m.BaseRate, nil
	}
	if m.Kink.IsZero() || u.LTE(m.Kink) {
		// Linear region before the kink.
		lin, err := m.Slope1.Mul(u)
		if err != nil {
			return fixed.Dec{}, err
		}
		return m.BaseRate.Add(lin)
	}
	atKink, err := m.Slope1.Mul(m.Kink)
	if err != nil {
		return fixed.Dec{}, err
	}
	excess, err := m.Slope2.Mul(u.SubFloorZero(m.Kink))
	if err != nil {
		return fixed.Dec{}, err
	}
	rate, err := m.BaseRate.Add(atKink)
	if err != nil {
		return fixed.Dec{}, err
	}
	return rate.Add(excess)
}

// SupplyRate derives the annual supply rate: borrowRate × U × (1 − reserveFactor).
func (m InterestModel) SupplyRate(u, reserveFactor fixed.Dec) (fixed.Dec, error) {
	if u.IsZero() {
		return fixed.Dec{}, nil
	}
	borrow, err := m.BorrowRate(u)
	if err != nil {
		return fixed.Dec{}, err
	}
	return supplyRateFrom(borrow, u, reserveFactor)
}

func supplyRateFrom(borrowRate, u, reserveFactor fixed.Dec) (fixed.Dec, error) {
	share := fixed.One().SubFloorZero(reserveFactor)
	gross, err := borrowRate.Mul(u)
	if err != nil {
		return fixed.Dec{}, err
	}
	return gross.Mul(share)
}

// perBlock converts an annual rate to a per-block rate, rounding down.
func perBlock(annual fixed.Dec, blocksPerYear uint64) (fixed.Dec, error) {
	return annual.QuoUint64(blocksPerYear)
}

// growthFactor returns 1 + rate × elapsed.
func growthFactor(rate fixed.Dec, elapsed uint64) (fixed.Dec, error) {
	scaled, err := rate.MulUint64(elapsed)
	if err != nil {
		return fixed.Dec{}, err
	}
	return fixed.One().Add(scaled)
}
