package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"marginchain/core/fixed"
	"marginchain/core/state"
	"marginchain/native/bank"
	"marginchain/native/lending"
	"marginchain/native/oracle"
	"marginchain/storage"
)

const sampleGenesis = `
BlocksPerYear = 1000
StartHeight = 5

[curve]
Start = "0.5"
Step = "0.1"
Max = "2"

[oracle]
MaxAgeBlocks = 30

[[assets]]
Symbol = " eth "
ReserveFactor = "0.2"

[assets.InterestModel]
BaseRate = "0.01"
Slope1 = "0.1"
Slope2 = "1"
Kink = "0.9"

[[assets]]
Symbol = "usd"
ReserveFactor = "0.1"

[[markets]]
BaseAsset = "eth"
QuoteAsset = "USD"
LiquidateRate = "1.15"
InitiatorRewardRatio = "0.25"
BorrowEnabled = true

[prices]
eth = "2500"
USD = "1"
`

func TestParseNormalizesGenesis(t *testing.T) {
	g, err := Parse(sampleGenesis)
	require.NoError(t, err)

	require.EqualValues(t, 1000, g.BlocksPerYear)
	require.EqualValues(t, 5, g.StartHeight)
	require.Equal(t, "ETH", g.Assets[0].Symbol)
	require.Equal(t, "0.9", g.Assets[0].InterestModel.Kink.String())
	require.Nil(t, g.Assets[1].InterestModel)
	require.Equal(t, "ETH", g.Markets[0].BaseAsset)
	require.Equal(t, "1.15", g.Markets[0].WithdrawRate.String(), "withdraw rate defaults to liquidate rate")
	require.Equal(t, "2500", g.Prices["ETH"].String())
	require.Equal(t, "0.1", g.LinearCurve().Step.String())
	require.EqualValues(t, 1000, g.Params().BlocksPerYear)
}

func TestValidateRejectsBadGenesis(t *testing.T) {
	cases := map[string]func(g *Genesis){
		"duplicate asset": func(g *Genesis) { g.Assets = append(g.Assets, Asset{Symbol: "BASE"}) },
		"unlisted market asset": func(g *Genesis) {
			g.Markets[0].QuoteAsset = "DOGE"
		},
		"same base and quote":   func(g *Genesis) { g.Markets[0].QuoteAsset = "BASE" },
		"liquidate rate at one": func(g *Genesis) { g.Markets[0].LiquidateRate = fixed.One() },
		"withdraw below liquidate": func(g *Genesis) {
			g.Markets[0].WithdrawRate = fixed.MustDec("1.05")
		},
		"reward above one":      func(g *Genesis) { g.Markets[0].InitiatorRewardRatio = fixed.NewDec(2) },
		"reserve factor too high": func(g *Genesis) {
			g.Assets[0].ReserveFactor = fixed.MustDec("0.9")
		},
		"bad kink": func(g *Genesis) {
			g.Assets[0].InterestModel = &InterestModel{Kink: fixed.NewDec(2)}
		},
		"curve capped at one": func(g *Genesis) { g.Curve.Max = fixed.One() },
		"zero price":          func(g *Genesis) { g.Prices["BASE"] = fixed.Dec{} },
		"unlisted price":      func(g *Genesis) { g.Prices["DOGE"] = fixed.One() },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			g := Default()
			mutate(g)
			require.Error(t, ValidateGenesis(g))
		})
	}
	require.NoError(t, ValidateGenesis(Default()))
}

func TestLoadCreatesDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "genesis.toml")
	g, err := Load(path)
	require.NoError(t, err)
	require.Len(t, g.Markets, 1)
	require.FileExists(t, path)

	reloaded, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, g.Markets[0].LiquidateRate.String(), reloaded.Markets[0].LiquidateRate.String())
	require.Equal(t, g.Prices["BASE"].String(), reloaded.Prices["BASE"].String())
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	for name, tc := range map[string]struct {
		doc string
		key string
	}{
		"top level": {"BlocksPerYaer = 5\n" + sampleGenesis, "BlocksPerYaer"},
		"in table":  {strings.Replace(sampleGenesis, "[curve]\n", "[curve]\nStpe = \"0.2\"\n", 1), "curve.Stpe"},
	} {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "genesis.toml")
			require.NoError(t, os.WriteFile(path, []byte(tc.doc), 0o644))
			_, err := Load(path)
			require.ErrorContains(t, err, "unknown keys")
			require.ErrorContains(t, err, tc.key)
		})
	}
}

func TestApplyIsIdempotent(t *testing.T) {
	g, err := Parse(sampleGenesis)
	require.NoError(t, err)

	manager := state.NewManager(storage.NewMemDB())
	engine := lending.NewEngine(g.Params())
	engine.SetState(manager)
	engine.SetLedger(func(store state.KVStore) lending.Ledger { return bank.NewLedger(store) })
	engine.SetMetrics(nil)
	engine.SetBlockHeight(g.StartHeight)
	writer := oracle.NewWriter(manager, engine.BlockHeight)

	require.NoError(t, g.Apply(engine, writer))
	require.NoError(t, g.Apply(engine, writer))

	assets, err := engine.Assets()
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"ETH", "USD"}, assets)

	markets, err := engine.Markets()
	require.NoError(t, err)
	require.Len(t, markets, 1)
	require.EqualValues(t, 1, markets[0].ID)
	require.Equal(t, "0.25", markets[0].InitiatorRewardRatio.String())

	pool, err := engine.Pool("ETH")
	require.NoError(t, err)
	require.Equal(t, "0.2", pool.ReserveFactor.String())
	require.Equal(t, "0.9", pool.InterestModel.Kink.String())

	quote, err := oracle.NewFeed(manager, 0, 5).Quote("ETH")
	require.NoError(t, err)
	require.Equal(t, "2500", quote.Price.String())
	require.EqualValues(t, 5, quote.Height)
	require.Equal(t, "0.1", engine.Curve().(lending.LinearCurve).Step.String())
}
