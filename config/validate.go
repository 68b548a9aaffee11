package config

import (
	"fmt"
	"strings"

	"marginchain/core/fixed"
	"marginchain/native/lending"
)

// MaxReserveFactor caps the share of interest diverted to insurance.
var MaxReserveFactor = fixed.MustDec("0.5")

// ValidateGenesis checks g after normalisation. Engine-level checks run again
// when the genesis is applied; this pass reports every problem by path.
func ValidateGenesis(g *Genesis) error {
	if g == nil {
		return fmt.Errorf("genesis: nil")
	}
	if g.BlocksPerYear == 0 {
		return fmt.Errorf("genesis: BlocksPerYear must be positive")
	}
	if err := g.LinearCurve().Validate(); err != nil {
		return fmt.Errorf("genesis: curve: %w", err)
	}
	listed := make(map[string]struct{}, len(g.Assets))
	for i, asset := range g.Assets {
		if asset.Symbol == "" {
			return fmt.Errorf("genesis: assets[%d]: symbol required", i)
		}
		if _, dup := listed[asset.Symbol]; dup {
			return fmt.Errorf("genesis: assets[%d]: duplicate symbol %s", i, asset.Symbol)
		}
		listed[asset.Symbol] = struct{}{}
		if asset.ReserveFactor.GT(MaxReserveFactor) {
			return fmt.Errorf("genesis: assets[%d]: reserve factor %s above %s", i, asset.ReserveFactor, MaxReserveFactor)
		}
		if err := asset.model().Validate(); err != nil {
			return fmt.Errorf("genesis: assets[%d]: %w", i, err)
		}
	}
	for i, market := range g.Markets {
		for _, symbol := range []string{market.BaseAsset, market.QuoteAsset} {
			if _, ok := listed[symbol]; !ok {
				return fmt.Errorf("genesis: markets[%d]: asset %q not listed", i, symbol)
			}
		}
		if market.BaseAsset == market.QuoteAsset {
			return fmt.Errorf("genesis: markets[%d]: base and quote are both %s", i, market.BaseAsset)
		}
		if market.LiquidateRate.LTE(fixed.One()) {
			return fmt.Errorf("genesis: markets[%d]: LiquidateRate must exceed 1", i)
		}
		if market.WithdrawRate.LT(market.LiquidateRate) {
			return fmt.Errorf("genesis: markets[%d]: WithdrawRate below LiquidateRate", i)
		}
		if market.InitiatorRewardRatio.GT(fixed.One()) {
			return fmt.Errorf("genesis: markets[%d]: InitiatorRewardRatio above 1", i)
		}
	}
	for symbol, price := range g.Prices {
		if _, ok := listed[symbol]; !ok {
			return fmt.Errorf("genesis: price for unlisted asset %s", symbol)
		}
		if price.IsZero() {
			return fmt.Errorf("genesis: price for %s must be positive", symbol)
		}
	}
	return nil
}

func normalizeSymbol(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}

func (a Asset) model() lending.InterestModel {
	if a.InterestModel == nil {
		return lending.DefaultInterestModel
	}
	return lending.InterestModel{
		BaseRate: a.InterestModel.BaseRate,
		Slope1:   a.InterestModel.Slope1,
		Slope2:   a.InterestModel.Slope2,
		Kink:     a.InterestModel.Kink,
	}
}
