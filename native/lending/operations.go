package lending

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"marginchain/core/fixed"
)

// Supply moves amount of asset from the user's wallet into the pool.
func (e *Engine) Supply(user common.Address, asset string, amount *uint256.Int) error {
	if err := requirePositive(amount); err != nil {
		return err
	}
	return e.execute(ActionSupply, func(tx *txn) error {
		return tx.supply(user, normalizeAsset(asset), amount)
	})
}

// Withdraw returns amount of asset from the pool to the user's wallet.
func (e *Engine) Withdraw(user common.Address, asset string, amount *uint256.Int) error {
	if err := requirePositive(amount); err != nil {
		return err
	}
	return e.execute(ActionWithdraw, func(tx *txn) error {
		return tx.withdraw(user, normalizeAsset(asset), amount)
	})
}

// Borrow draws amount of asset from the pool into the user's collateral
// account in marketID. The call fails with ErrHealthCheckFailed when the
// account would fall below the market's withdraw rate.
func (e *Engine) Borrow(user common.Address, marketID uint64, asset string, amount *uint256.Int) error {
	if err := requirePositive(amount); err != nil {
		return err
	}
	return e.execute(ActionBorrow, func(tx *txn) error {
		return tx.borrow(user, marketID, normalizeAsset(asset), amount)
	})
}

// Repay pays down the account's debt in asset from the account's own
// balance. The amount applied is clamped to the outstanding debt and
// returned.
func (e *Engine) Repay(user common.Address, marketID uint64, asset string, amount *uint256.Int) (*uint256.Int, error) {
	if err := requirePositive(amount); err != nil {
		return nil, err
	}
	var actual *uint256.Int
	err := e.execute(ActionRepay, func(tx *txn) error {
		var err error
		actual, err = tx.repayFromAccount(user, marketID, normalizeAsset(asset), amount)
		return err
	})
	if err != nil {
		return nil, err
	}
	return actual, nil
}

// DepositCollateral moves amount of asset from the user's wallet into the
// collateral account.
func (e *Engine) DepositCollateral(user common.Address, marketID uint64, asset string, amount *uint256.Int) error {
	if err := requirePositive(amount); err != nil {
		return err
	}
	return e.execute(ActionDepositCollateral, func(tx *txn) error {
		return tx.depositCollateral(user, marketID, normalizeAsset(asset), amount)
	})
}

// WithdrawCollateral moves amount of asset from the collateral account back
// to the user's wallet, subject to the withdraw rate.
func (e *Engine) WithdrawCollateral(user common.Address, marketID uint64, asset string, amount *uint256.Int) error {
	if err := requirePositive(amount); err != nil {
		return err
	}
	return e.execute(ActionWithdrawCollateral, func(tx *txn) error {
		return tx.withdrawCollateral(user, marketID, normalizeAsset(asset), amount)
	})
}

// Liquidate liquidates one account. A nil Auction in the result means the
// forced repayment cleared the debt and no auction was needed.
func (e *Engine) Liquidate(initiator, user common.Address, marketID uint64) (*LiquidationResult, error) {
	var result *LiquidationResult
	err := e.execute(ActionLiquidate, func(tx *txn) error {
		var err error
		result, err = tx.liquidate(initiator, user, marketID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// LiquidateMulti liquidates every (user, market) pair atomically: if any
// entry fails, including with ErrNotLiquidatable, none takes effect.
func (e *Engine) LiquidateMulti(initiator common.Address, users []common.Address, marketIDs []uint64) ([]*LiquidationResult, error) {
	if len(users) != len(marketIDs) {
		return nil, fmt.Errorf("%w: %d users, %d markets", ErrLengthMismatch, len(users), len(marketIDs))
	}
	var results []*LiquidationResult
	err := e.execute(ActionLiquidate, func(tx *txn) error {
		results = make([]*LiquidationResult, 0, len(users))
		for i := range users {
			result, err := tx.liquidate(initiator, users[i], marketIDs[i])
			if err != nil {
				return fmt.Errorf("entry %d: %w", i, err)
			}
			results = append(results, result)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return results, nil
}

// FillAuction repays up to repayAmount of the auction's debt on behalf of
// bidder, who receives collateral according to the auction's current regime.
func (e *Engine) FillAuction(bidder common.Address, auctionID uint64, repayAmount *uint256.Int) (*FillResult, error) {
	if err := requirePositive(repayAmount); err != nil {
		return nil, err
	}
	var result *FillResult
	err := e.execute(ActionFill, func(tx *txn) error {
		var err error
		result, err = tx.fill(bidder, auctionID, repayAmount)
		return err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// FundInsurance donates amount of asset from the payer's wallet to the
// asset's insurance reserve.
func (e *Engine) FundInsurance(payer common.Address, asset string, amount *uint256.Int) error {
	if err := requirePositive(amount); err != nil {
		return err
	}
	return e.execute(ActionInsurance, func(tx *txn) error {
		return tx.fundInsurance(payer, normalizeAsset(asset), amount)
	})
}

// Deposit credits value entering the system to the user's wallet.
func (e *Engine) Deposit(user common.Address, asset string, amount *uint256.Int) error {
	if err := requirePositive(amount); err != nil {
		return err
	}
	return e.execute(ActionWallet, func(tx *txn) error {
		asset := normalizeAsset(asset)
		issuer, err := tx.issuer(asset)
		if err != nil {
			return err
		}
		return ledgerError(issuer.Mint(WalletPath(user), asset, amount))
	})
}

// WithdrawWallet removes value from the user's wallet and the system.
func (e *Engine) WithdrawWallet(user common.Address, asset string, amount *uint256.Int) error {
	if err := requirePositive(amount); err != nil {
		return err
	}
	return e.execute(ActionWallet, func(tx *txn) error {
		asset := normalizeAsset(asset)
		issuer, err := tx.issuer(asset)
		if err != nil {
			return err
		}
		balance, err := tx.ledger.BalanceOf(WalletPath(user), asset)
		if err != nil {
			return ledgerError(err)
		}
		if balance.Lt(amount) {
			return fmt.Errorf("%w: wallet holds %s, requested %s", ErrInsufficientBalance, balance, amount)
		}
		return ledgerError(issuer.Burn(WalletPath(user), asset, amount))
	})
}

func (tx *txn) issuer(asset string) (Issuer, error) {
	if ok, err := tx.store.hasPool(asset); err != nil {
		return nil, err
	} else if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownAsset, asset)
	}
	issuer, ok := tx.ledger.(Issuer)
	if !ok {
		return nil, ErrUnsupported
	}
	return issuer, nil
}

// ListAsset opens a pool for asset.
func (e *Engine) ListAsset(asset string, model InterestModel, reserveFactor fixed.Dec) error {
	asset = normalizeAsset(asset)
	if asset == "" {
		return fmt.Errorf("%w: asset symbol required", ErrValidation)
	}
	if err := model.Validate(); err != nil {
		return err
	}
	if reserveFactor.GT(fixed.One()) {
		return fmt.Errorf("%w: reserve factor %s above 1", ErrValidation, reserveFactor)
	}
	return e.execute(ActionAdmin, func(tx *txn) error {
		exists, err := tx.store.hasPool(asset)
		if err != nil {
			return err
		}
		if exists {
			return fmt.Errorf("%w: %s", ErrAssetExists, asset)
		}
		p := &PoolAsset{
			Asset:             asset,
			SupplyIndex:       fixed.One(),
			BorrowIndex:       fixed.One(),
			LastAccrualHeight: tx.height,
			InterestModel:     model,
			ReserveFactor:     reserveFactor,
		}
		p.ensureDefaults()
		if err := tx.store.putPool(p); err != nil {
			return err
		}
		return tx.store.addAsset(asset)
	})
}

// CreateMarket registers a market and returns it with its assigned id. A
// zero WithdrawRate defaults to the LiquidateRate.
func (e *Engine) CreateMarket(m Market) (*Market, error) {
	m.BaseAsset = normalizeAsset(m.BaseAsset)
	m.QuoteAsset = normalizeAsset(m.QuoteAsset)
	if m.WithdrawRate.IsZero() {
		m.WithdrawRate = m.LiquidateRate
	}
	if err := validateMarket(&m); err != nil {
		return nil, err
	}
	var created *Market
	err := e.execute(ActionAdmin, func(tx *txn) error {
		for _, asset := range []string{m.BaseAsset, m.QuoteAsset} {
			ok, err := tx.store.hasPool(asset)
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("%w: %s", ErrUnknownAsset, asset)
			}
		}
		ids, err := tx.store.marketIDs()
		if err != nil {
			return err
		}
		var next uint64 = 1
		for _, id := range ids {
			if id >= next {
				next = id + 1
			}
		}
		m.ID = next
		if err := tx.store.putMarket(&m); err != nil {
			return err
		}
		created = &m
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

func validateMarket(m *Market) error {
	switch {
	case m.BaseAsset == "" || m.QuoteAsset == "":
		return fmt.Errorf("%w: base and quote assets required", ErrInvalidMarket)
	case m.BaseAsset == m.QuoteAsset:
		return fmt.Errorf("%w: base and quote must differ", ErrInvalidMarket)
	case m.LiquidateRate.LTE(fixed.One()):
		return fmt.Errorf("%w: liquidate rate %s must exceed 1", ErrInvalidMarket, m.LiquidateRate)
	case m.WithdrawRate.LT(m.LiquidateRate):
		return fmt.Errorf("%w: withdraw rate %s below liquidate rate %s", ErrInvalidMarket, m.WithdrawRate, m.LiquidateRate)
	case m.InitiatorRewardRatio.GT(fixed.One()):
		return fmt.Errorf("%w: initiator reward ratio %s above 1", ErrInvalidMarket, m.InitiatorRewardRatio)
	}
	return nil
}
