package lending

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"marginchain/core/fixed"
)

// Read-only projections. Each one accrues pools to the current height on a
// throwaway journal, so results include interest up to now without writing.

// Market returns the market registered under id.
func (e *Engine) Market(id uint64) (*Market, error) {
	var out *Market
	err := e.view(func(tx *txn) error {
		var err error
		out, err = tx.store.market(id)
		return err
	})
	return out, err
}

// Markets lists every market in creation order.
func (e *Engine) Markets() ([]*Market, error) {
	var out []*Market
	err := e.view(func(tx *txn) error {
		ids, err := tx.store.marketIDs()
		if err != nil {
			return err
		}
		for _, id := range ids {
			m, err := tx.store.market(id)
			if err != nil {
				return err
			}
			out = append(out, m)
		}
		return nil
	})
	return out, err
}

// Assets lists the listed pool assets.
func (e *Engine) Assets() ([]string, error) {
	var out []string
	err := e.view(func(tx *txn) error {
		var err error
		out, err = tx.store.assets()
		return err
	})
	return out, err
}

// Pool returns asset's pool projected to the current height.
func (e *Engine) Pool(asset string) (*PoolAsset, error) {
	var out *PoolAsset
	err := e.view(func(tx *txn) error {
		var err error
		out, err = tx.pool(normalizeAsset(asset))
		return err
	})
	return out, err
}

// PoolTotalBorrow is the asset's outstanding debt including accrued interest.
func (e *Engine) PoolTotalBorrow(asset string) (*uint256.Int, error) {
	p, err := e.Pool(asset)
	if err != nil {
		return nil, err
	}
	return p.TotalBorrow, nil
}

// PoolTotalSupply is the asset's supplied liquidity including the
// insurance reserve.
func (e *Engine) PoolTotalSupply(asset string) (*uint256.Int, error) {
	p, err := e.Pool(asset)
	if err != nil {
		return nil, err
	}
	return p.TotalSupply, nil
}

// PoolSupplyOf is user's supply balance in asset.
func (e *Engine) PoolSupplyOf(asset string, user common.Address) (*uint256.Int, error) {
	var out *uint256.Int
	err := e.view(func(tx *txn) error {
		asset := normalizeAsset(asset)
		p, err := tx.pool(asset)
		if err != nil {
			return err
		}
		position, err := tx.store.userSupply(asset, user)
		if err != nil {
			return err
		}
		out, err = supplyBalance(position, p)
		return err
	})
	return out, err
}

// PoolInterestRate returns the annual borrow and supply rates the pool would
// have with extraBorrow more outstanding. Pass nil or zero for current rates.
func (e *Engine) PoolInterestRate(asset string, extraBorrow *uint256.Int) (borrowRate, supplyRate fixed.Dec, err error) {
	p, err := e.Pool(asset)
	if err != nil {
		return fixed.Dec{}, fixed.Dec{}, err
	}
	return interestRates(p, fixed.Copy(extraBorrow))
}

// AmountBorrowed is user's current debt in asset within marketID.
func (e *Engine) AmountBorrowed(user common.Address, marketID uint64, asset string) (*uint256.Int, error) {
	var out *uint256.Int
	err := e.view(func(tx *txn) error {
		asset := normalizeAsset(asset)
		market, err := tx.store.market(marketID)
		if err != nil {
			return err
		}
		if !market.HasAsset(asset) {
			return ErrAssetNotInMarket
		}
		account, err := tx.store.account(market, user)
		if err != nil {
			return err
		}
		p, err := tx.pool(asset)
		if err != nil {
			return err
		}
		out, err = debtOf(account.position(asset), p)
		return err
	})
	return out, err
}

// AccountDetails values the collateral account of user in marketID.
func (e *Engine) AccountDetails(user common.Address, marketID uint64) (*AccountDetails, error) {
	var out *AccountDetails
	err := e.view(func(tx *txn) error {
		market, err := tx.store.market(marketID)
		if err != nil {
			return err
		}
		account, err := tx.store.account(market, user)
		if err != nil {
			return err
		}
		out, err = tx.details(market, account)
		return err
	})
	return out, err
}

// IsLiquidatable reports whether the account can be liquidated right now.
func (e *Engine) IsLiquidatable(user common.Address, marketID uint64) (bool, error) {
	d, err := e.AccountDetails(user, marketID)
	if err != nil {
		return false, err
	}
	return d.Liquidatable, nil
}

// Auction returns the stored auction record.
func (e *Engine) Auction(id uint64) (*Auction, error) {
	var out *Auction
	err := e.view(func(tx *txn) error {
		var err error
		out, err = tx.store.auction(id)
		return err
	})
	return out, err
}

// AuctionDetails returns the auction with its live ratio and balances.
func (e *Engine) AuctionDetails(id uint64) (*AuctionDetails, error) {
	var out *AuctionDetails
	err := e.view(func(tx *txn) error {
		var err error
		out, err = tx.auctionDetails(id)
		return err
	})
	return out, err
}

// ActiveAuctions lists in-progress auction ids. The order is unspecified.
func (e *Engine) ActiveAuctions() ([]uint64, error) {
	var out []uint64
	err := e.view(func(tx *txn) error {
		set, err := tx.store.activeSet()
		if err != nil {
			return err
		}
		out = set.IDs()
		return nil
	})
	return out, err
}

// InsuranceFund returns the insurance book of asset.
func (e *Engine) InsuranceFund(asset string) (*InsuranceFund, error) {
	p, err := e.Pool(asset)
	if err != nil {
		return nil, err
	}
	return insuranceView(p), nil
}

// WalletBalance returns the user's wallet balance of asset.
func (e *Engine) WalletBalance(user common.Address, asset string) (*uint256.Int, error) {
	return e.balance(WalletPath(user), asset)
}

// AccountBalance returns the collateral account's balance of asset.
func (e *Engine) AccountBalance(user common.Address, marketID uint64, asset string) (*uint256.Int, error) {
	return e.balance(AccountPath(marketID, user), asset)
}

func (e *Engine) balance(path, asset string) (*uint256.Int, error) {
	var out *uint256.Int
	err := e.view(func(tx *txn) error {
		var err error
		out, err = tx.ledger.BalanceOf(path, normalizeAsset(asset))
		return ledgerError(err)
	})
	return out, err
}
