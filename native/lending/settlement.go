package lending

import (
	"fmt"

	"github.com/holiman/uint256"

	"marginchain/core/fixed"
)

// Regime selects the settlement algorithm for an auction fill. It is resolved
// once per fill from the auction's current ratio.
type Regime uint8

const (
	// RegimeAtMostOne: the bidder repays debt one for one and receives
	// ratio × the released collateral; the rest is split between the
	// initiator and the borrower.
	RegimeAtMostOne Regime = iota
	// RegimeAboveOne: each unit the bidder pays clears ratio units of debt,
	// the difference is claimed from the insurance fund and the bidder takes
	// all released collateral.
	RegimeAboveOne
)

func (r Regime) String() string {
	if r == RegimeAboveOne {
		return "above_one"
	}
	return "at_most_one"
}

// RegimeFor returns the regime matching ratio.
func RegimeFor(ratio fixed.Dec) Regime {
	if ratio.GT(fixed.One()) {
		return RegimeAboveOne
	}
	return RegimeAtMostOne
}

// SettlementInput is the state snapshot and bid a fill is settled against.
type SettlementInput struct {
	LeftDebt             *uint256.Int
	LeftCollateral       *uint256.Int
	RepayAmount          *uint256.Int
	Ratio                fixed.Dec
	InitiatorRewardRatio fixed.Dec
}

// Settlement is the outcome of one fill. BidderPays + InsuranceClaim equals
// ActualRepay and the three collateral shares add up to CollateralToProcess.
type Settlement struct {
	Regime Regime
	Ratio  fixed.Dec
	// RepayAmount is the nominal debt the bid is worth before capping.
	RepayAmount *uint256.Int
	// ActualRepay is the debt cleared, never above the outstanding debt.
	ActualRepay    *uint256.Int
	BidderPays     *uint256.Int
	InsuranceClaim *uint256.Int

	CollateralToProcess *uint256.Int
	ForBidder           *uint256.Int
	ForInitiator        *uint256.Int
	ForBorrower         *uint256.Int
}

// Settle dispatches in on its regime.
func Settle(in SettlementInput) (Settlement, error) {
	if RegimeFor(in.Ratio) == RegimeAboveOne {
		return SettleAboveOne(in)
	}
	return SettleAtMostOne(in)
}

// SettleAtMostOne settles a fill while the auction ratio is <= 1.
func SettleAtMostOne(in SettlementInput) (Settlement, error) {
	out := emptySettlement(RegimeAtMostOne, in)
	out.RepayAmount = fixed.Copy(in.RepayAmount)
	out.ActualRepay = fixed.Min(in.RepayAmount, in.LeftDebt)
	out.BidderPays = fixed.Copy(out.ActualRepay)

	ctp, err := releasedCollateral(in.LeftCollateral, out.ActualRepay, in.LeftDebt)
	if err != nil {
		return Settlement{}, err
	}
	out.CollateralToProcess = ctp
	if out.ForBidder, err = fixed.MulFloor(ctp, in.Ratio); err != nil {
		return Settlement{}, err
	}
	rest, err := fixed.Sub(ctp, out.ForBidder)
	if err != nil {
		return Settlement{}, err
	}
	if out.ForInitiator, err = fixed.MulFloor(rest, in.InitiatorRewardRatio); err != nil {
		return Settlement{}, err
	}
	if out.ForBorrower, err = fixed.Sub(rest, out.ForInitiator); err != nil {
		return Settlement{}, err
	}
	return out, out.check(in)
}

// SettleAboveOne settles a fill while the auction ratio is > 1. The bid is
// in.RepayAmount; it is worth floor(bid × ratio) of debt.
func SettleAboveOne(in SettlementInput) (Settlement, error) {
	out := emptySettlement(RegimeAboveOne, in)
	repay, err := fixed.MulFloor(in.RepayAmount, in.Ratio)
	if err != nil {
		return Settlement{}, err
	}
	out.RepayAmount = repay
	out.ActualRepay = fixed.Min(repay, in.LeftDebt)
	if out.ActualRepay.Lt(repay) {
		if out.BidderPays, err = fixed.DivCeil(out.ActualRepay, in.Ratio); err != nil {
			return Settlement{}, err
		}
	} else {
		out.BidderPays = fixed.Copy(in.RepayAmount)
	}
	if out.InsuranceClaim, err = fixed.Sub(out.ActualRepay, out.BidderPays); err != nil {
		return Settlement{}, err
	}

	ctp, err := releasedCollateral(in.LeftCollateral, out.ActualRepay, in.LeftDebt)
	if err != nil {
		return Settlement{}, err
	}
	out.CollateralToProcess = ctp
	out.ForBidder = fixed.Copy(ctp)
	return out, out.check(in)
}

func emptySettlement(regime Regime, in SettlementInput) Settlement {
	return Settlement{
		Regime:              regime,
		Ratio:               in.Ratio,
		RepayAmount:         fixed.Zero(),
		ActualRepay:         fixed.Zero(),
		BidderPays:          fixed.Zero(),
		InsuranceClaim:      fixed.Zero(),
		CollateralToProcess: fixed.Zero(),
		ForBidder:           fixed.Zero(),
		ForInitiator:        fixed.Zero(),
		ForBorrower:         fixed.Zero(),
	}
}

// releasedCollateral returns floor(leftCollateral × actualRepay / leftDebt).
func releasedCollateral(leftCollateral, actualRepay, leftDebt *uint256.Int) (*uint256.Int, error) {
	if fixed.IsZero(leftDebt) || fixed.IsZero(actualRepay) {
		return fixed.Zero(), nil
	}
	return fixed.MulDivFloor(leftCollateral, actualRepay, leftDebt)
}

func (s Settlement) check(in SettlementInput) error {
	shares, err := fixed.Add(s.ForBidder, s.ForInitiator)
	if err != nil {
		return err
	}
	if shares, err = fixed.Add(shares, s.ForBorrower); err != nil {
		return err
	}
	if !shares.Eq(s.CollateralToProcess) {
		return fmt.Errorf("%w: shares %s != released %s", ErrConservation, shares, s.CollateralToProcess)
	}
	if s.CollateralToProcess.Gt(fixed.Copy(in.LeftCollateral)) {
		return fmt.Errorf("%w: released %s exceeds collateral %s", ErrConservation, s.CollateralToProcess, fixed.Copy(in.LeftCollateral))
	}
	if s.ActualRepay.Gt(fixed.Copy(in.LeftDebt)) {
		return fmt.Errorf("%w: repay %s exceeds debt %s", ErrConservation, s.ActualRepay, fixed.Copy(in.LeftDebt))
	}
	paid, err := fixed.Add(s.BidderPays, s.InsuranceClaim)
	if err != nil {
		return err
	}
	if !paid.Eq(s.ActualRepay) {
		return fmt.Errorf("%w: bidder %s + insurance %s != repay %s", ErrConservation, s.BidderPays, s.InsuranceClaim, s.ActualRepay)
	}
	if s.Regime == RegimeAboveOne && s.BidderPays.Gt(fixed.Copy(in.RepayAmount)) {
		return fmt.Errorf("%w: bidder pays %s above bid %s", ErrConservation, s.BidderPays, fixed.Copy(in.RepayAmount))
	}
	return nil
}
