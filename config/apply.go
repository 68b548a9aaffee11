package config

import (
	"errors"
	"fmt"
	"sort"

	"marginchain/core/fixed"
	"marginchain/native/lending"
)

// PriceSetter records an oracle quote. *oracle.Writer satisfies it.
type PriceSetter interface {
	Set(asset string, price fixed.Dec, source string) error
}

// Apply lists the genesis assets and markets on engine and seeds prices.
// Already listed assets and markets that already exist are left alone, so
// Apply can run on every start against a persisted store. Prices are only
// seeded on a store without markets.
func (g *Genesis) Apply(engine *lending.Engine, prices PriceSetter) error {
	engine.SetCurve(g.LinearCurve())

	for _, asset := range g.Assets {
		err := engine.ListAsset(asset.Symbol, asset.model(), asset.ReserveFactor)
		if err != nil && !errors.Is(err, lending.ErrAssetExists) {
			return fmt.Errorf("genesis: list %s: %w", asset.Symbol, err)
		}
	}

	existing, err := engine.Markets()
	if err != nil {
		return fmt.Errorf("genesis: read markets: %w", err)
	}
	for i := len(existing); i < len(g.Markets); i++ {
		m := g.Markets[i]
		if _, err := engine.CreateMarket(lending.Market{
			BaseAsset:            m.BaseAsset,
			QuoteAsset:           m.QuoteAsset,
			LiquidateRate:        m.LiquidateRate,
			WithdrawRate:         m.WithdrawRate,
			InitiatorRewardRatio: m.InitiatorRewardRatio,
			BorrowEnabled:        m.BorrowEnabled,
		}); err != nil {
			return fmt.Errorf("genesis: markets[%d]: %w", i, err)
		}
	}

	if prices == nil || len(existing) > 0 {
		return nil
	}
	symbols := make([]string, 0, len(g.Prices))
	for symbol := range g.Prices {
		symbols = append(symbols, symbol)
	}
	sort.Strings(symbols)
	for _, symbol := range symbols {
		if err := prices.Set(symbol, g.Prices[symbol], "genesis"); err != nil {
			return fmt.Errorf("genesis: price %s: %w", symbol, err)
		}
	}
	return nil
}
