package lending

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"marginchain/core/fixed"
)

func (tx *txn) createAuction(market *Market, borrower, initiator common.Address, debtAsset string) (*Auction, error) {
	id, err := tx.store.nextAuctionID()
	if err != nil {
		return nil, err
	}
	auction := &Auction{
		ID:              id,
		Status:          AuctionInProgress,
		StartHeight:     tx.height,
		MarketID:        market.ID,
		Borrower:        borrower,
		Initiator:       initiator,
		DebtAsset:       debtAsset,
		CollateralAsset: market.Other(debtAsset),
	}
	if err := tx.store.putAuction(auction); err != nil {
		return nil, err
	}
	set, err := tx.store.activeSet()
	if err != nil {
		return nil, err
	}
	set.Add(id)
	if err := tx.store.putActiveSet(set); err != nil {
		return nil, err
	}
	tx.emit(AuctionCreatedEvent(auction))
	active := set.Len()
	tx.onCommit(func() {
		tx.e.telemetry.ObserveAuctionCreated()
		tx.e.telemetry.SetActiveAuctions(active)
		tx.e.logger.Info("auction created",
			"auction", id, "market", market.ID, "borrower", hexAddr(borrower),
			"debtAsset", debtAsset, "collateralAsset", auction.CollateralAsset)
	})
	return auction, nil
}

func (tx *txn) endAuction(auction *Auction, account *CollateralAccount) error {
	auction.Status = AuctionFinished
	auction.EndHeight = tx.height
	if err := tx.store.putAuction(auction); err != nil {
		return err
	}
	account.Status = AccountNormal
	if err := tx.store.putAccount(account); err != nil {
		return err
	}
	set, err := tx.store.activeSet()
	if err != nil {
		return err
	}
	set.Remove(auction.ID)
	if err := tx.store.putActiveSet(set); err != nil {
		return err
	}
	tx.emit(AuctionFinishedEvent(auction))
	active, id := set.Len(), auction.ID
	tx.onCommit(func() {
		tx.e.telemetry.ObserveAuctionFinished()
		tx.e.telemetry.SetActiveAuctions(active)
		tx.e.logger.Info("auction finished", "auction", id)
	})
	return nil
}

// auctionState reads the live debt and collateral of an in-progress auction.
type auctionState struct {
	auction        *Auction
	market         *Market
	account        *CollateralAccount
	pool           *PoolAsset
	leftDebt       *uint256.Int
	leftCollateral *uint256.Int
	ratio          fixed.Dec
}

func (tx *txn) auctionState(id uint64) (*auctionState, error) {
	auction, err := tx.store.auction(id)
	if err != nil {
		return nil, err
	}
	market, err := tx.store.market(auction.MarketID)
	if err != nil {
		return nil, err
	}
	account, err := tx.store.account(market, auction.Borrower)
	if err != nil {
		return nil, err
	}
	p, err := tx.pool(auction.DebtAsset)
	if err != nil {
		return nil, err
	}
	leftDebt, err := debtOf(account.position(auction.DebtAsset), p)
	if err != nil {
		return nil, err
	}
	leftCollateral, err := tx.ledger.BalanceOf(AccountPath(market.ID, auction.Borrower), auction.CollateralAsset)
	if err != nil {
		return nil, ledgerError(err)
	}
	st := &auctionState{
		auction:        auction,
		market:         market,
		account:        account,
		pool:           p,
		leftDebt:       leftDebt,
		leftCollateral: leftCollateral,
	}
	if auction.Status == AuctionInProgress {
		st.ratio = tx.e.curve.Ratio(tx.height - min(tx.height, auction.StartHeight))
	}
	return st, nil
}

// fill settles one bid against an auction. The auction ends if and only if
// the remaining debt is exactly zero afterwards.
func (tx *txn) fill(bidder common.Address, id uint64, repayAmount *uint256.Int) (*FillResult, error) {
	st, err := tx.auctionState(id)
	if err != nil {
		return nil, err
	}
	auction := st.auction
	if auction.Status != AuctionInProgress {
		return nil, fmt.Errorf("%w: %d", ErrAuctionFinished, id)
	}
	result := &FillResult{AuctionID: id}
	if st.leftDebt.IsZero() {
		result.Settlement = emptySettlement(RegimeFor(st.ratio), SettlementInput{Ratio: st.ratio})
		result.Finished = true
		return result, tx.endAuction(auction, st.account)
	}

	s, err := Settle(SettlementInput{
		LeftDebt:             st.leftDebt,
		LeftCollateral:       st.leftCollateral,
		RepayAmount:          repayAmount,
		Ratio:                st.ratio,
		InitiatorRewardRatio: st.market.InitiatorRewardRatio,
	})
	if err != nil {
		return nil, err
	}
	result.Settlement = s

	p := st.pool
	pos := st.account.position(auction.DebtAsset)
	if err := applyRepay(p, pos, st.leftDebt, s.ActualRepay, s.BidderPays); err != nil {
		return nil, err
	}
	if !s.InsuranceClaim.IsZero() {
		if err := tx.claimInsurance(p, s.InsuranceClaim); err != nil {
			return nil, err
		}
	}
	if err := tx.savePool(p); err != nil {
		return nil, err
	}
	if err := tx.store.putAccount(st.account); err != nil {
		return nil, err
	}

	if err := tx.transfer(auction.DebtAsset, WalletPath(bidder), PoolPath(auction.DebtAsset), s.BidderPays); err != nil {
		return nil, err
	}
	from := AccountPath(st.market.ID, auction.Borrower)
	shares := []struct {
		to     string
		amount *uint256.Int
	}{
		{WalletPath(bidder), s.ForBidder},
		{WalletPath(auction.Initiator), s.ForInitiator},
		{WalletPath(auction.Borrower), s.ForBorrower},
	}
	for _, share := range shares {
		if err := tx.transfer(auction.CollateralAsset, from, share.to, share.amount); err != nil {
			return nil, err
		}
	}
	tx.emit(AuctionFilledEvent(auction, bidder, s))

	left, err := fixed.Sub(st.leftDebt, s.ActualRepay)
	if err != nil {
		return nil, err
	}
	regime := s.Regime.String()
	tx.onCommit(func() {
		tx.e.telemetry.ObserveFill(regime)
		tx.e.logger.Info("auction filled",
			"auction", id, "bidder", hexAddr(bidder), "regime", regime,
			"actualRepay", fixed.FormatAmount(s.ActualRepay), "collateral", fixed.FormatAmount(s.CollateralToProcess))
	})
	if left.IsZero() {
		result.Finished = true
		if err := tx.endAuction(auction, st.account); err != nil {
			return nil, err
		}
	}
	return result, nil
}

func (tx *txn) auctionDetails(id uint64) (*AuctionDetails, error) {
	st, err := tx.auctionState(id)
	if err != nil {
		return nil, err
	}
	return &AuctionDetails{
		Auction:        *st.auction,
		Ratio:          st.ratio,
		Regime:         RegimeFor(st.ratio),
		LeftDebt:       st.leftDebt,
		LeftCollateral: st.leftCollateral,
	}, nil
}
