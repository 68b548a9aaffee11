package server

import (
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"marginchain/core/fixed"
	"marginchain/native/lending"
	"marginchain/services/lendingd/indexer"
)

// Amounts and decimals are rendered as base-10 strings so clients never lose
// precision.

type marketView struct {
	ID                   uint64 `json:"id"`
	BaseAsset            string `json:"baseAsset"`
	QuoteAsset           string `json:"quoteAsset"`
	LiquidateRate        string `json:"liquidateRate"`
	WithdrawRate         string `json:"withdrawRate"`
	InitiatorRewardRatio string `json:"initiatorRewardRatio"`
	BorrowEnabled        bool   `json:"borrowEnabled"`
}

func newMarketView(m *lending.Market) marketView {
	return marketView{
		ID:                   m.ID,
		BaseAsset:            m.BaseAsset,
		QuoteAsset:           m.QuoteAsset,
		LiquidateRate:        m.LiquidateRate.String(),
		WithdrawRate:         m.WithdrawRate.String(),
		InitiatorRewardRatio: m.InitiatorRewardRatio.String(),
		BorrowEnabled:        m.BorrowEnabled,
	}
}

type interestModelView struct {
	BaseRate string `json:"baseRate"`
	Slope1   string `json:"slope1"`
	Slope2   string `json:"slope2"`
	Kink     string `json:"kink"`
}

type poolView struct {
	Asset             string            `json:"asset"`
	TotalSupply       string            `json:"totalSupply"`
	TotalBorrow       string            `json:"totalBorrow"`
	Cash              string            `json:"cash"`
	SupplyIndex       string            `json:"supplyIndex"`
	BorrowIndex       string            `json:"borrowIndex"`
	LastAccrualHeight uint64            `json:"lastAccrualHeight"`
	InsuranceBalance  string            `json:"insuranceBalance"`
	ReserveFactor     string            `json:"reserveFactor"`
	InterestModel     interestModelView `json:"interestModel"`
}

func newPoolView(p *lending.PoolAsset) poolView {
	return poolView{
		Asset:             p.Asset,
		TotalSupply:       fixed.FormatAmount(p.TotalSupply),
		TotalBorrow:       fixed.FormatAmount(p.TotalBorrow),
		Cash:              fixed.FormatAmount(p.Cash),
		SupplyIndex:       p.SupplyIndex.String(),
		BorrowIndex:       p.BorrowIndex.String(),
		LastAccrualHeight: p.LastAccrualHeight,
		InsuranceBalance:  fixed.FormatAmount(p.InsuranceBalance),
		ReserveFactor:     p.ReserveFactor.String(),
		InterestModel: interestModelView{
			BaseRate: p.InterestModel.BaseRate.String(),
			Slope1:   p.InterestModel.Slope1.String(),
			Slope2:   p.InterestModel.Slope2.String(),
			Kink:     p.InterestModel.Kink.String(),
		},
	}
}

type assetDetailsView struct {
	Asset   string `json:"asset"`
	Balance string `json:"balance"`
	Debt    string `json:"debt"`
	Price   string `json:"price"`
}

func newAssetDetailsView(d lending.AssetDetails) assetDetailsView {
	return assetDetailsView{
		Asset:   d.Asset,
		Balance: fixed.FormatAmount(d.Balance),
		Debt:    fixed.FormatAmount(d.Debt),
		Price:   d.Price.String(),
	}
}

type accountView struct {
	Owner           string           `json:"owner"`
	MarketID        uint64           `json:"marketId"`
	Status          string           `json:"status"`
	Base            assetDetailsView `json:"base"`
	Quote           assetDetailsView `json:"quote"`
	CollateralValue string           `json:"collateralValue"`
	DebtValue       string           `json:"debtValue"`
	Ratio           string           `json:"ratio"`
	Liquidatable    bool             `json:"liquidatable"`
}

func newAccountView(d *lending.AccountDetails) accountView {
	return accountView{
		Owner:           addr(d.Owner),
		MarketID:        d.MarketID,
		Status:          d.Status.String(),
		Base:            newAssetDetailsView(d.Base),
		Quote:           newAssetDetailsView(d.Quote),
		CollateralValue: fixed.FormatAmount(d.CollateralValue),
		DebtValue:       fixed.FormatAmount(d.DebtValue),
		Ratio:           d.Ratio.String(),
		Liquidatable:    d.Liquidatable,
	}
}

type auctionView struct {
	ID              uint64 `json:"id"`
	Status          string `json:"status"`
	StartHeight     uint64 `json:"startHeight"`
	EndHeight       uint64 `json:"endHeight,omitempty"`
	MarketID        uint64 `json:"marketId"`
	Borrower        string `json:"borrower"`
	Initiator       string `json:"initiator"`
	DebtAsset       string `json:"debtAsset"`
	CollateralAsset string `json:"collateralAsset"`
}

func newAuctionView(a *lending.Auction) *auctionView {
	if a == nil {
		return nil
	}
	return &auctionView{
		ID:              a.ID,
		Status:          a.Status.String(),
		StartHeight:     a.StartHeight,
		EndHeight:       a.EndHeight,
		MarketID:        a.MarketID,
		Borrower:        addr(a.Borrower),
		Initiator:       addr(a.Initiator),
		DebtAsset:       a.DebtAsset,
		CollateralAsset: a.CollateralAsset,
	}
}

type auctionDetailsView struct {
	Auction        *auctionView `json:"auction"`
	Ratio          string       `json:"ratio"`
	Regime         string       `json:"regime"`
	LeftDebt       string       `json:"leftDebt"`
	LeftCollateral string       `json:"leftCollateral"`
}

func newAuctionDetailsView(d *lending.AuctionDetails) auctionDetailsView {
	return auctionDetailsView{
		Auction:        newAuctionView(&d.Auction),
		Ratio:          d.Ratio.String(),
		Regime:         d.Regime.String(),
		LeftDebt:       fixed.FormatAmount(d.LeftDebt),
		LeftCollateral: fixed.FormatAmount(d.LeftCollateral),
	}
}

type liquidationView struct {
	Owner       string       `json:"owner"`
	MarketID    uint64       `json:"marketId"`
	BaseRepaid  string       `json:"baseRepaid"`
	QuoteRepaid string       `json:"quoteRepaid"`
	Auction     *auctionView `json:"auction"`
}

func newLiquidationView(r *lending.LiquidationResult) liquidationView {
	return liquidationView{
		Owner:       addr(r.Owner),
		MarketID:    r.MarketID,
		BaseRepaid:  fixed.FormatAmount(r.BaseRepaid),
		QuoteRepaid: fixed.FormatAmount(r.QuoteRepaid),
		Auction:     newAuctionView(r.Auction),
	}
}

type settlementView struct {
	Regime              string `json:"regime"`
	Ratio               string `json:"ratio"`
	RepayAmount         string `json:"repayAmount"`
	ActualRepay         string `json:"actualRepay"`
	BidderPays          string `json:"bidderPays"`
	InsuranceClaim      string `json:"insuranceClaim"`
	CollateralToProcess string `json:"collateralToProcess"`
	ForBidder           string `json:"forBidder"`
	ForInitiator        string `json:"forInitiator"`
	ForBorrower         string `json:"forBorrower"`
}

type fillView struct {
	AuctionID  uint64         `json:"auctionId"`
	Finished   bool           `json:"finished"`
	Settlement settlementView `json:"settlement"`
}

func newFillView(r *lending.FillResult) fillView {
	s := r.Settlement
	return fillView{
		AuctionID: r.AuctionID,
		Finished:  r.Finished,
		Settlement: settlementView{
			Regime:              s.Regime.String(),
			Ratio:               s.Ratio.String(),
			RepayAmount:         fixed.FormatAmount(s.RepayAmount),
			ActualRepay:         fixed.FormatAmount(s.ActualRepay),
			BidderPays:          fixed.FormatAmount(s.BidderPays),
			InsuranceClaim:      fixed.FormatAmount(s.InsuranceClaim),
			CollateralToProcess: fixed.FormatAmount(s.CollateralToProcess),
			ForBidder:           fixed.FormatAmount(s.ForBidder),
			ForInitiator:        fixed.FormatAmount(s.ForInitiator),
			ForBorrower:         fixed.FormatAmount(s.ForBorrower),
		},
	}
}

type insuranceView struct {
	Asset           string `json:"asset"`
	Balance         string `json:"balance"`
	TotalClaimed    string `json:"totalClaimed"`
	TotalCovered    string `json:"totalCovered"`
	TotalSocialized string `json:"totalSocialized"`
}

func newInsuranceView(f *lending.InsuranceFund) insuranceView {
	return insuranceView{
		Asset:           f.Asset,
		Balance:         fixed.FormatAmount(f.Balance),
		TotalClaimed:    fixed.FormatAmount(f.TotalClaimed),
		TotalCovered:    fixed.FormatAmount(f.TotalCovered),
		TotalSocialized: fixed.FormatAmount(f.TotalSocialized),
	}
}

type amountView struct {
	Amount string `json:"amount"`
}

func newAmountView(v *uint256.Int) amountView {
	return amountView{Amount: fixed.FormatAmount(v)}
}

type ratesView struct {
	BorrowRate string `json:"borrowRate"`
	SupplyRate string `json:"supplyRate"`
}

type eventView struct {
	Sequence   uint64 `json:"sequence"`
	Type       string `json:"type"`
	AuctionID  uint64 `json:"auctionId,omitempty"`
	MarketID   uint64 `json:"marketId,omitempty"`
	Asset      string `json:"asset,omitempty"`
	Attributes string `json:"attributes"`
	CreatedAt  int64  `json:"createdAt"`
}

func newEventViews(records []indexer.EventRecord) []eventView {
	out := make([]eventView, 0, len(records))
	for _, rec := range records {
		out = append(out, eventView{
			Sequence:   rec.Sequence,
			Type:       rec.Type,
			AuctionID:  rec.AuctionID,
			MarketID:   rec.MarketID,
			Asset:      rec.Asset,
			Attributes: rec.Attributes,
			CreatedAt:  rec.CreatedAt.Unix(),
		})
	}
	return out
}

type auctionHistoryView struct {
	ID              uint64 `json:"id"`
	MarketID        uint64 `json:"marketId"`
	Borrower        string `json:"borrower"`
	Initiator       string `json:"initiator"`
	DebtAsset       string `json:"debtAsset"`
	CollateralAsset string `json:"collateralAsset"`
	Status          string `json:"status"`
	StartHeight     uint64 `json:"startHeight"`
	EndHeight       uint64 `json:"endHeight,omitempty"`
	Fills           int    `json:"fills"`
	TotalRepaid     string `json:"totalRepaid"`
	TotalCollateral string `json:"totalCollateral"`
	TotalClaimed    string `json:"totalClaimed"`
}

func newAuctionHistoryView(rec *indexer.AuctionRecord) auctionHistoryView {
	return auctionHistoryView{
		ID:              rec.ID,
		MarketID:        rec.MarketID,
		Borrower:        rec.Borrower,
		Initiator:       rec.Initiator,
		DebtAsset:       rec.DebtAsset,
		CollateralAsset: rec.CollateralAsset,
		Status:          rec.Status,
		StartHeight:     rec.StartHeight,
		EndHeight:       rec.EndHeight,
		Fills:           rec.Fills,
		TotalRepaid:     rec.TotalRepaid,
		TotalCollateral: rec.TotalCollateral,
		TotalClaimed:    rec.TotalClaimed,
	}
}

func addr(a common.Address) string {
	return strings.ToLower(a.Hex())
}
