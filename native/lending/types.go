package lending

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"marginchain/core/fixed"
)

// Market is an isolated margin pair. Markets are immutable once created.
type Market struct {
	ID         uint64
	BaseAsset  string
	QuoteAsset string
	// LiquidateRate is the collateral/debt ratio below which an account may
	// be liquidated.
	LiquidateRate fixed.Dec
	// WithdrawRate is the minimum ratio an account must keep after a borrow
	// or a collateral withdrawal.
	WithdrawRate fixed.Dec
	// InitiatorRewardRatio is the share of the non-bidder collateral paid to
	// the liquidation initiator while the auction ratio is at most one.
	InitiatorRewardRatio fixed.Dec
	BorrowEnabled        bool
}

// HasAsset reports whether asset is the market's base or quote asset.
func (m *Market) HasAsset(asset string) bool {
	return m != nil && (asset == m.BaseAsset || asset == m.QuoteAsset)
}

// Other returns the counterpart of asset within the market.
func (m *Market) Other(asset string) string {
	if asset == m.BaseAsset {
		return m.QuoteAsset
	}
	return m.BaseAsset
}

// PoolAsset is the shared liquidity pool of one asset. TotalSupply includes
// the insurance reserve held inside the pool.
type PoolAsset struct {
	Asset             string
	TotalSupply       *uint256.Int
	TotalBorrow       *uint256.Int
	Cash              *uint256.Int
	SupplyIndex       fixed.Dec
	BorrowIndex       fixed.Dec
	LastAccrualHeight uint64
	InsuranceBalance  *uint256.Int
	InterestModel     InterestModel
	ReserveFactor     fixed.Dec

	InsuranceClaimed    *uint256.Int
	InsuranceCovered    *uint256.Int
	InsuranceSocialized *uint256.Int
}

// UserSupply is a supplier's position in one pool.
type UserSupply struct {
	Principal *uint256.Int
	Index     fixed.Dec
}

// AccountStatus is the liquidation state of a collateral account.
type AccountStatus uint8

const (
	AccountNormal AccountStatus = iota
	AccountLiquid
)

func (s AccountStatus) String() string {
	switch s {
	case AccountNormal:
		return "normal"
	case AccountLiquid:
		return "liquid"
	default:
		return "unknown"
	}
}

// AssetPosition is the borrow position of one market asset.
type AssetPosition struct {
	Asset     string
	Principal *uint256.Int
	Index     fixed.Dec
}

// CollateralAccount is a user's isolated position in one market. Balances are
// not stored here: they live in the ledger under the account's owner path.
type CollateralAccount struct {
	Owner    common.Address
	MarketID uint64
	Status   AccountStatus
	Base     AssetPosition
	Quote    AssetPosition
}

func (a *CollateralAccount) position(asset string) *AssetPosition {
	if a.Base.Asset == asset {
		return &a.Base
	}
	if a.Quote.Asset == asset {
		return &a.Quote
	}
	return nil
}

// AuctionStatus is the lifecycle state of an auction.
type AuctionStatus uint8

const (
	AuctionInProgress AuctionStatus = iota
	AuctionFinished
)

func (s AuctionStatus) String() string {
	switch s {
	case AuctionInProgress:
		return "in_progress"
	case AuctionFinished:
		return "finished"
	default:
		return "unknown"
	}
}

// Auction sells the collateral of a liquidated account for its debt asset.
type Auction struct {
	ID              uint64
	Status          AuctionStatus
	StartHeight     uint64
	EndHeight       uint64
	MarketID        uint64
	Borrower        common.Address
	Initiator       common.Address
	DebtAsset       string
	CollateralAsset string
}

// AssetDetails is the valued view of one market asset inside an account.
type AssetDetails struct {
	Asset   string
	Balance *uint256.Int
	Debt    *uint256.Int
	Price   fixed.Dec
}

// AccountDetails is the risk view of a collateral account.
type AccountDetails struct {
	Owner           common.Address
	MarketID        uint64
	Status          AccountStatus
	Base            AssetDetails
	Quote           AssetDetails
	CollateralValue *uint256.Int
	DebtValue       *uint256.Int
	// Ratio is CollateralValue / DebtValue and is zero when there is no debt.
	Ratio        fixed.Dec
	Liquidatable bool
}

// HasDebt reports whether either asset carries debt.
func (d AccountDetails) HasDebt() bool {
	return !fixed.IsZero(d.Base.Debt) || !fixed.IsZero(d.Quote.Debt)
}

// LiquidationResult describes the outcome of liquidating one account. Auction
// is nil when the forced repayment cleared every debt.
type LiquidationResult struct {
	Owner       common.Address
	MarketID    uint64
	BaseRepaid  *uint256.Int
	QuoteRepaid *uint256.Int
	Auction     *Auction
}

// AuctionDetails is the live view of an auction.
type AuctionDetails struct {
	Auction        Auction
	Ratio          fixed.Dec
	Regime         Regime
	LeftDebt       *uint256.Int
	LeftCollateral *uint256.Int
}

// InsuranceFund is the per-asset reserve that absorbs liquidation shortfalls.
type InsuranceFund struct {
	Asset string
	// Balance is the reserve still available inside the pool.
	Balance *uint256.Int
	// TotalClaimed is every shortfall credited to the fund.
	TotalClaimed *uint256.Int
	// TotalCovered is the part of TotalClaimed paid out of Balance.
	TotalCovered *uint256.Int
	// TotalSocialized is the part the fund could not cover and that was
	// passed on to suppliers.
	TotalSocialized *uint256.Int
}

// FillResult reports what a single auction fill settled.
type FillResult struct {
	AuctionID  uint64
	Settlement Settlement
	Finished   bool
}
