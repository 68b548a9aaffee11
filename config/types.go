package config

import "marginchain/core/fixed"

// Curve is the linear auction ratio curve.
type Curve struct {
	Start fixed.Dec `toml:"Start"`
	Step  fixed.Dec `toml:"Step"`
	Max   fixed.Dec `toml:"Max"`
}

// Oracle bounds how old a quote may be before the engine refuses it.
type Oracle struct {
	MaxAgeBlocks uint64 `toml:"MaxAgeBlocks"`
}

// InterestModel is the kinked annual borrow rate curve of one pool.
type InterestModel struct {
	BaseRate fixed.Dec `toml:"BaseRate"`
	Slope1   fixed.Dec `toml:"Slope1"`
	Slope2   fixed.Dec `toml:"Slope2"`
	Kink     fixed.Dec `toml:"Kink"`
}

// Asset lists one pool. A missing interest model falls back to the engine
// default.
type Asset struct {
	Symbol        string         `toml:"Symbol"`
	ReserveFactor fixed.Dec      `toml:"ReserveFactor"`
	InterestModel *InterestModel `toml:"InterestModel,omitempty"`
}

// Market creates one isolated margin pair. WithdrawRate defaults to
// LiquidateRate.
type Market struct {
	BaseAsset            string    `toml:"BaseAsset"`
	QuoteAsset           string    `toml:"QuoteAsset"`
	LiquidateRate        fixed.Dec `toml:"LiquidateRate"`
	WithdrawRate         fixed.Dec `toml:"WithdrawRate"`
	InitiatorRewardRatio fixed.Dec `toml:"InitiatorRewardRatio"`
	BorrowEnabled        bool      `toml:"BorrowEnabled"`
}

// Genesis is the initial parameter set of a lending deployment.
type Genesis struct {
	BlocksPerYear uint64               `toml:"BlocksPerYear"`
	StartHeight   uint64               `toml:"StartHeight"`
	Curve         Curve                `toml:"curve"`
	Oracle        Oracle               `toml:"oracle"`
	Assets        []Asset              `toml:"assets"`
	Markets       []Market             `toml:"markets"`
	Prices        map[string]fixed.Dec `toml:"prices"`
}
