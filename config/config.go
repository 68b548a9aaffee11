// Package config loads the TOML genesis of a lending deployment: engine
// constants, the auction curve, listed assets, markets and initial prices.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"

	"marginchain/core/fixed"
	"marginchain/native/lending"
)

// Default returns a two-asset genesis suitable for local runs.
func Default() *Genesis {
	return &Genesis{
		BlocksPerYear: lending.DefaultBlocksPerYear,
		Curve: Curve{
			Start: lending.DefaultCurve.Start,
			Step:  lending.DefaultCurve.Step,
			Max:   lending.DefaultCurve.Max,
		},
		Oracle: Oracle{MaxAgeBlocks: 600},
		Assets: []Asset{
			{Symbol: "BASE", ReserveFactor: fixed.MustDec("0.1")},
			{Symbol: "QUOTE", ReserveFactor: fixed.MustDec("0.1")},
		},
		Markets: []Market{{
			BaseAsset:            "BASE",
			QuoteAsset:           "QUOTE",
			LiquidateRate:        fixed.MustDec("1.1"),
			WithdrawRate:         fixed.MustDec("1.25"),
			InitiatorRewardRatio: fixed.MustDec("0.5"),
			BorrowEnabled:        true,
		}},
		Prices: map[string]fixed.Dec{
			"BASE":  fixed.One(),
			"QUOTE": fixed.One(),
		},
	}
}

// Load reads the genesis at path. A missing file is created with Default.
// Unknown keys are rejected so typos do not silently fall back to defaults.
func Load(path string) (*Genesis, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		g := Default()
		if err := persist(path, g); err != nil {
			return nil, err
		}
		return g, nil
	}

	g := &Genesis{}
	meta, err := toml.DecodeFile(path, g)
	if err != nil {
		return nil, fmt.Errorf("genesis %s: %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, key := range undecoded {
			keys[i] = key.String()
		}
		return nil, fmt.Errorf("genesis %s: unknown keys %s", path, strings.Join(keys, ", "))
	}
	g.normalize()
	if err := ValidateGenesis(g); err != nil {
		return nil, err
	}
	return g, nil
}

// Parse decodes a genesis held in memory.
func Parse(data string) (*Genesis, error) {
	g := &Genesis{}
	if _, err := toml.Decode(data, g); err != nil {
		return nil, fmt.Errorf("genesis: %w", err)
	}
	g.normalize()
	if err := ValidateGenesis(g); err != nil {
		return nil, err
	}
	return g, nil
}

func (g *Genesis) normalize() {
	if g.BlocksPerYear == 0 {
		g.BlocksPerYear = lending.DefaultBlocksPerYear
	}
	if g.Curve.Step.IsZero() && g.Curve.Max.IsZero() {
		g.Curve = Curve{Start: lending.DefaultCurve.Start, Step: lending.DefaultCurve.Step, Max: lending.DefaultCurve.Max}
	}
	for i := range g.Assets {
		g.Assets[i].Symbol = normalizeSymbol(g.Assets[i].Symbol)
	}
	for i := range g.Markets {
		m := &g.Markets[i]
		m.BaseAsset = normalizeSymbol(m.BaseAsset)
		m.QuoteAsset = normalizeSymbol(m.QuoteAsset)
		if m.WithdrawRate.IsZero() {
			m.WithdrawRate = m.LiquidateRate
		}
	}
	if len(g.Prices) > 0 {
		prices := make(map[string]fixed.Dec, len(g.Prices))
		for symbol, price := range g.Prices {
			prices[normalizeSymbol(symbol)] = price
		}
		g.Prices = prices
	}
}

// LinearCurve converts the configured curve for the engine.
func (g *Genesis) LinearCurve() lending.LinearCurve {
	return lending.LinearCurve{Start: g.Curve.Start, Step: g.Curve.Step, Max: g.Curve.Max}
}

// Params returns the engine constants.
func (g *Genesis) Params() lending.Params {
	return lending.Params{BlocksPerYear: g.BlocksPerYear}
}

func persist(path string, g *Genesis) error {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(g)
}
