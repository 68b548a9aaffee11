package lending

import (
	"errors"
	"fmt"

	"marginchain/core/fixed"
)

// Error classes. Every error returned by the engine wraps exactly one of them
// so callers can branch with errors.Is without matching individual sentinels.
var (
	ErrValidation      = errors.New("lending engine: validation failed")
	ErrArithmetic      = fixed.ErrArithmetic
	ErrNotLiquidatable = errors.New("lending engine: account not liquidatable")
)

var (
	ErrInsufficientLiquidity = fmt.Errorf("%w: insufficient liquidity", ErrValidation)
	ErrInsufficientBalance   = fmt.Errorf("%w: insufficient balance", ErrValidation)
	ErrInvalidAmount         = fmt.Errorf("%w: amount must be positive", ErrValidation)
	ErrHealthCheckFailed     = fmt.Errorf("%w: collateral ratio below withdraw rate", ErrValidation)
	ErrUnknownMarket         = fmt.Errorf("%w: unknown market", ErrValidation)
	ErrUnknownAsset          = fmt.Errorf("%w: unknown asset", ErrValidation)
	ErrAssetNotInMarket      = fmt.Errorf("%w: asset not part of market", ErrValidation)
	ErrUnknownAuction        = fmt.Errorf("%w: unknown auction", ErrValidation)
	ErrAuctionFinished       = fmt.Errorf("%w: auction already finished", ErrValidation)
	ErrAccountNotNormal      = fmt.Errorf("%w: account is being liquidated", ErrValidation)
	ErrBorrowDisabled        = fmt.Errorf("%w: borrowing disabled for market", ErrValidation)
	ErrInvalidMarket         = fmt.Errorf("%w: invalid market parameters", ErrValidation)
	ErrAssetExists           = fmt.Errorf("%w: asset already listed", ErrValidation)
	ErrLengthMismatch        = fmt.Errorf("%w: users and markets length mismatch", ErrValidation)
	ErrPaused                = fmt.Errorf("%w: paused", ErrValidation)
	ErrLedger                = fmt.Errorf("%w: ledger transfer rejected", ErrValidation)
	ErrPriceUnavailable      = fmt.Errorf("%w: price unavailable", ErrValidation)
	ErrUnsupported           = fmt.Errorf("%w: operation not supported by ledger", ErrValidation)

	ErrConservation = fmt.Errorf("%w: settlement does not conserve value", fixed.ErrArithmetic)
)

var errNilState = fmt.Errorf("%w: state not configured", ErrValidation)

// ledgerError keeps arithmetic failures in their class and files every other
// ledger rejection under ErrLedger.
func ledgerError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, fixed.ErrArithmetic) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrLedger, err)
}

func priceError(asset string, err error) error {
	if errors.Is(err, fixed.ErrArithmetic) {
		return err
	}
	return fmt.Errorf("%w: %s: %w", ErrPriceUnavailable, asset, err)
}
