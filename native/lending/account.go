package lending

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"marginchain/core/fixed"
)

// details values both sides of an account at the call height. Collateral is
// valued rounding down and debt rounding up.
func (tx *txn) details(market *Market, account *CollateralAccount) (*AccountDetails, error) {
	out := &AccountDetails{
		Owner:           account.Owner,
		MarketID:        market.ID,
		Status:          account.Status,
		CollateralValue: fixed.Zero(),
		DebtValue:       fixed.Zero(),
	}
	path := AccountPath(market.ID, account.Owner)
	for _, side := range []struct {
		pos *AssetPosition
		dst *AssetDetails
	}{{&account.Base, &out.Base}, {&account.Quote, &out.Quote}} {
		p, err := tx.pool(side.pos.Asset)
		if err != nil {
			return nil, err
		}
		debt, err := debtOf(side.pos, p)
		if err != nil {
			return nil, err
		}
		balance, err := tx.ledger.BalanceOf(path, side.pos.Asset)
		if err != nil {
			return nil, ledgerError(err)
		}
		*side.dst = AssetDetails{Asset: side.pos.Asset, Balance: balance, Debt: debt}
		if balance.IsZero() && debt.IsZero() {
			continue
		}
		price, err := tx.price(side.pos.Asset)
		if err != nil {
			return nil, err
		}
		side.dst.Price = price
		value, err := fixed.MulFloor(balance, price)
		if err != nil {
			return nil, err
		}
		if out.CollateralValue, err = fixed.Add(out.CollateralValue, value); err != nil {
			return nil, err
		}
		owed, err := fixed.MulCeil(debt, price)
		if err != nil {
			return nil, err
		}
		if out.DebtValue, err = fixed.Add(out.DebtValue, owed); err != nil {
			return nil, err
		}
	}
	if out.DebtValue.IsZero() {
		return out, nil
	}
	ratio, err := fixed.Ratio(out.CollateralValue, out.DebtValue)
	if err != nil {
		return nil, err
	}
	out.Ratio = ratio
	out.Liquidatable = account.Status == AccountNormal && ratio.LT(market.LiquidateRate)
	return out, nil
}

// requireHealthy fails unless the account keeps at least the market's
// withdraw rate.
func (tx *txn) requireHealthy(market *Market, account *CollateralAccount) error {
	d, err := tx.details(market, account)
	if err != nil {
		return err
	}
	if d.DebtValue.IsZero() {
		return nil
	}
	if d.Ratio.LT(market.WithdrawRate) {
		return fmt.Errorf("%w: ratio %s, required %s", ErrHealthCheckFailed, d.Ratio, market.WithdrawRate)
	}
	return nil
}

func (tx *txn) depositCollateral(user common.Address, marketID uint64, asset string, amount *uint256.Int) error {
	market, err := tx.store.market(marketID)
	if err != nil {
		return err
	}
	if !market.HasAsset(asset) {
		return fmt.Errorf("%w: %s not in market %d", ErrAssetNotInMarket, asset, marketID)
	}
	account, err := tx.store.account(market, user)
	if err != nil {
		return err
	}
	if err := tx.store.putAccount(account); err != nil {
		return err
	}
	return ledgerError(tx.ledger.DepositFor(asset, WalletPath(user), AccountPath(marketID, user), amount))
}

func (tx *txn) withdrawCollateral(user common.Address, marketID uint64, asset string, amount *uint256.Int) error {
	market, err := tx.store.market(marketID)
	if err != nil {
		return err
	}
	if !market.HasAsset(asset) {
		return fmt.Errorf("%w: %s not in market %d", ErrAssetNotInMarket, asset, marketID)
	}
	account, err := tx.store.account(market, user)
	if err != nil {
		return err
	}
	if account.Status != AccountNormal {
		return ErrAccountNotNormal
	}
	path := AccountPath(marketID, user)
	balance, err := tx.ledger.BalanceOf(path, asset)
	if err != nil {
		return ledgerError(err)
	}
	if balance.Lt(amount) {
		return fmt.Errorf("%w: account holds %s, requested %s", ErrInsufficientBalance, balance, amount)
	}
	if err := ledgerError(tx.ledger.WithdrawFrom(asset, path, WalletPath(user), amount)); err != nil {
		return err
	}
	return tx.requireHealthy(market, account)
}

func (tx *txn) repayFromAccount(user common.Address, marketID uint64, asset string, amount *uint256.Int) (*uint256.Int, error) {
	market, err := tx.store.market(marketID)
	if err != nil {
		return nil, err
	}
	if !market.HasAsset(asset) {
		return nil, fmt.Errorf("%w: %s not in market %d", ErrAssetNotInMarket, asset, marketID)
	}
	account, err := tx.store.account(market, user)
	if err != nil {
		return nil, err
	}
	if account.Status != AccountNormal {
		return nil, ErrAccountNotNormal
	}
	return tx.repay(account, asset, amount)
}

// liquidate force-repays both debts from the account's own balances and
// opens an auction for whatever debt is left.
func (tx *txn) liquidate(initiator, user common.Address, marketID uint64) (*LiquidationResult, error) {
	market, err := tx.store.market(marketID)
	if err != nil {
		return nil, err
	}
	account, err := tx.store.account(market, user)
	if err != nil {
		return nil, err
	}
	d, err := tx.details(market, account)
	if err != nil {
		return nil, err
	}
	if !d.Liquidatable {
		return nil, fmt.Errorf("%w: market %d account %s status %s ratio %s threshold %s",
			ErrNotLiquidatable, marketID, hexAddr(user), account.Status, d.Ratio, market.LiquidateRate)
	}

	result := &LiquidationResult{Owner: user, MarketID: marketID}
	path := AccountPath(marketID, user)
	remaining := map[string]*uint256.Int{}
	for _, asset := range []string{market.BaseAsset, market.QuoteAsset} {
		balance, err := tx.ledger.BalanceOf(path, asset)
		if err != nil {
			return nil, ledgerError(err)
		}
		repaid, err := tx.repay(account, asset, balance)
		if err != nil {
			return nil, err
		}
		if asset == market.BaseAsset {
			result.BaseRepaid = repaid
		} else {
			result.QuoteRepaid = repaid
		}
		p, err := tx.pool(asset)
		if err != nil {
			return nil, err
		}
		if remaining[asset], err = debtOf(account.position(asset), p); err != nil {
			return nil, err
		}
	}

	auctioned := false
	defer func() {
		tx.onCommit(func() {
			tx.e.telemetry.ObserveLiquidation(marketID, auctioned)
		})
	}()

	var debtAsset string
	switch {
	case !remaining[market.BaseAsset].IsZero():
		debtAsset = market.BaseAsset
	case !remaining[market.QuoteAsset].IsZero():
		debtAsset = market.QuoteAsset
	default:
		if err := tx.store.putAccount(account); err != nil {
			return nil, err
		}
		tx.onCommit(func() {
			tx.e.logger.Info("account liquidated without auction",
				"market", marketID, "borrower", hexAddr(user), "initiator", hexAddr(initiator))
		})
		return result, nil
	}

	account.Status = AccountLiquid
	if err := tx.store.putAccount(account); err != nil {
		return nil, err
	}
	auction, err := tx.createAuction(market, user, initiator, debtAsset)
	if err != nil {
		return nil, err
	}
	auctioned = true
	result.Auction = auction
	return result, nil
}
