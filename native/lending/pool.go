package lending

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"marginchain/core/fixed"
)

// accrue compounds the pool's indexes up to height. Debt grows with a
// rounded-up borrow index and suppliers are credited with a rounded-down
// supply index; the difference between interest charged and interest
// credited goes to the insurance reserve.
func (p *PoolAsset) accrue(height, blocksPerYear uint64) error {
	if height <= p.LastAccrualHeight {
		return nil
	}
	elapsed := height - p.LastAccrualHeight
	p.LastAccrualHeight = height
	if p.TotalBorrow.IsZero() {
		return nil
	}

	u, err := Utilisation(p.TotalBorrow, p.TotalSupply)
	if err != nil {
		return err
	}
	borrowAPR, err := p.InterestModel.BorrowRate(u)
	if err != nil {
		return err
	}
	supplyAPR, err := supplyRateFrom(borrowAPR, u, p.ReserveFactor)
	if err != nil {
		return err
	}
	borrowRate, err := perBlock(borrowAPR, blocksPerYear)
	if err != nil {
		return err
	}
	supplyRate, err := perBlock(supplyAPR, blocksPerYear)
	if err != nil {
		return err
	}

	borrowGrowth, err := growthFactor(borrowRate, elapsed)
	if err != nil {
		return err
	}
	newBorrowIndex, err := p.BorrowIndex.MulCeil(borrowGrowth)
	if err != nil {
		return err
	}
	grown, err := fixed.MulDivCeil(p.TotalBorrow, newBorrowIndex.Raw(), p.BorrowIndex.Raw())
	if err != nil {
		return err
	}
	interest, err := fixed.Sub(grown, p.TotalBorrow)
	if err != nil {
		return err
	}

	supplierBase, err := fixed.Sub(p.TotalSupply, p.InsuranceBalance)
	if err != nil {
		return err
	}
	supplyGrowth, err := growthFactor(supplyRate, elapsed)
	if err != nil {
		return err
	}
	supplierInterest, err := fixed.MulFloor(supplierBase, supplyGrowth.SubFloorZero(fixed.One()))
	if err != nil {
		return err
	}
	if supplierInterest.Gt(interest) {
		// Only reachable through rounding on tiny pools.
		supplierInterest = fixed.Copy(interest)
		credited, err := fixed.Add(supplierBase, supplierInterest)
		if err != nil {
			return err
		}
		if supplyGrowth, err = fixed.Ratio(credited, supplierBase); err != nil {
			return err
		}
	}
	newSupplyIndex, err := p.SupplyIndex.Mul(supplyGrowth)
	if err != nil {
		return err
	}
	reserve, err := fixed.Sub(interest, supplierInterest)
	if err != nil {
		return err
	}

	if p.TotalBorrow, err = fixed.Add(p.TotalBorrow, interest); err != nil {
		return err
	}
	if p.TotalSupply, err = fixed.Add(p.TotalSupply, interest); err != nil {
		return err
	}
	if p.InsuranceBalance, err = fixed.Add(p.InsuranceBalance, reserve); err != nil {
		return err
	}
	p.BorrowIndex = newBorrowIndex
	p.SupplyIndex = newSupplyIndex
	return nil
}

// available is min(Cash, TotalSupply − TotalBorrow).
func (p *PoolAsset) available() *uint256.Int {
	free, err := fixed.Sub(p.TotalSupply, p.TotalBorrow)
	if err != nil {
		return fixed.Zero()
	}
	return fixed.Min(p.Cash, free)
}

func (p *PoolAsset) utilisation() fixed.Dec {
	u, err := Utilisation(p.TotalBorrow, p.TotalSupply)
	if err != nil {
		return fixed.Dec{}
	}
	return u
}

// supplyBalance is principal × currentIndex / snapshot, rounded down.
func supplyBalance(u *UserSupply, p *PoolAsset) (*uint256.Int, error) {
	if fixed.IsZero(u.Principal) {
		return fixed.Zero(), nil
	}
	return fixed.MulDivFloor(u.Principal, p.SupplyIndex.Raw(), u.Index.Raw())
}

// debtOf is principal × currentIndex / snapshot, rounded up.
func debtOf(pos *AssetPosition, p *PoolAsset) (*uint256.Int, error) {
	if fixed.IsZero(pos.Principal) {
		return fixed.Zero(), nil
	}
	return fixed.MulDivCeil(pos.Principal, p.BorrowIndex.Raw(), pos.Index.Raw())
}

// pool loads asset's pool accrued to the call height.
func (tx *txn) pool(asset string) (*PoolAsset, error) {
	p, err := tx.store.pool(asset)
	if err != nil {
		return nil, err
	}
	if err := p.accrue(tx.height, tx.e.blocksPerYear); err != nil {
		return nil, err
	}
	return p, nil
}

func (tx *txn) savePool(p *PoolAsset) error {
	if err := tx.store.putPool(p); err != nil {
		return err
	}
	asset, u := p.Asset, p.utilisation().Float64()
	tx.onCommit(func() { tx.e.telemetry.SetUtilisation(asset, u) })
	return nil
}

func (tx *txn) supply(user common.Address, asset string, amount *uint256.Int) error {
	p, err := tx.pool(asset)
	if err != nil {
		return err
	}
	position, err := tx.store.userSupply(asset, user)
	if err != nil {
		return err
	}
	balance, err := supplyBalance(position, p)
	if err != nil {
		return err
	}
	if position.Principal, err = fixed.Add(balance, amount); err != nil {
		return err
	}
	position.Index = p.SupplyIndex
	if p.TotalSupply, err = fixed.Add(p.TotalSupply, amount); err != nil {
		return err
	}
	if p.Cash, err = fixed.Add(p.Cash, amount); err != nil {
		return err
	}
	if err := tx.savePool(p); err != nil {
		return err
	}
	if err := tx.store.putUserSupply(asset, user, position); err != nil {
		return err
	}
	return ledgerError(tx.ledger.DepositFor(asset, WalletPath(user), PoolPath(asset), amount))
}

func (tx *txn) withdraw(user common.Address, asset string, amount *uint256.Int) error {
	p, err := tx.pool(asset)
	if err != nil {
		return err
	}
	position, err := tx.store.userSupply(asset, user)
	if err != nil {
		return err
	}
	balance, err := supplyBalance(position, p)
	if err != nil {
		return err
	}
	if balance.Lt(amount) {
		return fmt.Errorf("%w: supplied %s, requested %s", ErrInsufficientBalance, balance, amount)
	}
	if avail := p.available(); avail.Lt(amount) {
		return fmt.Errorf("%w: available %s, requested %s", ErrInsufficientLiquidity, avail, amount)
	}
	if position.Principal, err = fixed.Sub(balance, amount); err != nil {
		return err
	}
	position.Index = p.SupplyIndex
	if p.TotalSupply, err = fixed.Sub(p.TotalSupply, amount); err != nil {
		return err
	}
	if p.Cash, err = fixed.Sub(p.Cash, amount); err != nil {
		return err
	}
	if err := tx.savePool(p); err != nil {
		return err
	}
	if err := tx.store.putUserSupply(asset, user, position); err != nil {
		return err
	}
	return ledgerError(tx.ledger.WithdrawFrom(asset, PoolPath(asset), WalletPath(user), amount))
}

func (tx *txn) borrow(user common.Address, marketID uint64, asset string, amount *uint256.Int) error {
	market, err := tx.store.market(marketID)
	if err != nil {
		return err
	}
	if !market.BorrowEnabled {
		return fmt.Errorf("%w: market %d", ErrBorrowDisabled, marketID)
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
	p, err := tx.pool(asset)
	if err != nil {
		return err
	}
	if avail := p.available(); avail.Lt(amount) {
		return fmt.Errorf("%w: available %s, requested %s", ErrInsufficientLiquidity, avail, amount)
	}
	pos := account.position(asset)
	debt, err := debtOf(pos, p)
	if err != nil {
		return err
	}
	if pos.Principal, err = fixed.Add(debt, amount); err != nil {
		return err
	}
	pos.Index = p.BorrowIndex
	if p.TotalBorrow, err = fixed.Add(p.TotalBorrow, amount); err != nil {
		return err
	}
	if p.Cash, err = fixed.Sub(p.Cash, amount); err != nil {
		return err
	}
	if err := tx.savePool(p); err != nil {
		return err
	}
	if err := tx.store.putAccount(account); err != nil {
		return err
	}
	if err := ledgerError(tx.ledger.WithdrawFrom(asset, PoolPath(asset), AccountPath(marketID, user), amount)); err != nil {
		return err
	}
	return tx.requireHealthy(market, account)
}

// repay clears up to amount of the account's debt in asset using the
// account's own balance and returns the amount actually consumed.
func (tx *txn) repay(account *CollateralAccount, asset string, amount *uint256.Int) (*uint256.Int, error) {
	p, err := tx.pool(asset)
	if err != nil {
		return nil, err
	}
	pos := account.position(asset)
	debt, err := debtOf(pos, p)
	if err != nil {
		return nil, err
	}
	actual := fixed.Min(amount, debt)
	if actual.IsZero() {
		return actual, nil
	}
	if err := applyRepay(p, pos, debt, actual, actual); err != nil {
		return nil, err
	}
	if err := tx.savePool(p); err != nil {
		return nil, err
	}
	if err := tx.store.putAccount(account); err != nil {
		return nil, err
	}
	from := AccountPath(account.MarketID, account.Owner)
	if err := ledgerError(tx.ledger.Transfer(asset, from, PoolPath(asset), actual)); err != nil {
		return nil, err
	}
	return actual, nil
}

// applyRepay books a repayment of cleared debt against pos, of which cashIn
// reaches the pool. TotalBorrow absorbs rounding dust by never going below
// zero.
func applyRepay(p *PoolAsset, pos *AssetPosition, debt, cleared, cashIn *uint256.Int) error {
	var err error
	if pos.Principal, err = fixed.Sub(debt, cleared); err != nil {
		return err
	}
	pos.Index = p.BorrowIndex
	if p.TotalBorrow, err = fixed.Sub(p.TotalBorrow, fixed.Min(cleared, p.TotalBorrow)); err != nil {
		return err
	}
	if p.Cash, err = fixed.Add(p.Cash, cashIn); err != nil {
		return err
	}
	return nil
}

// interestRates projects the annual borrow and supply rates with an optional
// hypothetical extra borrow.
func interestRates(p *PoolAsset, extraBorrow *uint256.Int) (fixed.Dec, fixed.Dec, error) {
	borrowed, err := fixed.Add(p.TotalBorrow, extraBorrow)
	if err != nil {
		return fixed.Dec{}, fixed.Dec{}, err
	}
	if borrowed.Gt(p.TotalSupply) {
		return fixed.Dec{}, fixed.Dec{}, fmt.Errorf("%w: borrow %s exceeds supply %s", ErrInsufficientLiquidity, borrowed, p.TotalSupply)
	}
	u, err := Utilisation(borrowed, p.TotalSupply)
	if err != nil {
		return fixed.Dec{}, fixed.Dec{}, err
	}
	borrowRate, err := p.InterestModel.BorrowRate(u)
	if err != nil {
		return fixed.Dec{}, fixed.Dec{}, err
	}
	if u.IsZero() {
		return borrowRate, fixed.Dec{}, nil
	}
	supplyRate, err := supplyRateFrom(borrowRate, u, p.ReserveFactor)
	if err != nil {
		return fixed.Dec{}, fixed.Dec{}, err
	}
	return borrowRate, supplyRate, nil
}
