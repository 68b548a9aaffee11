package lending

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"marginchain/core/fixed"
)

// claimInsurance books a liquidation shortfall against the pool. The reserve
// pays what it can; the rest is socialized by scaling the supply index down,
// so TotalSupply always drops by the full claim.
func (tx *txn) claimInsurance(p *PoolAsset, claim *uint256.Int) error {
	covered := fixed.Min(claim, p.InsuranceBalance)
	uncovered, err := fixed.Sub(claim, covered)
	if err != nil {
		return err
	}
	supplierBase, err := fixed.Sub(p.TotalSupply, p.InsuranceBalance)
	if err != nil {
		return err
	}
	socialized := fixed.Min(uncovered, supplierBase)

	if p.InsuranceBalance, err = fixed.Sub(p.InsuranceBalance, covered); err != nil {
		return err
	}
	if !socialized.IsZero() {
		kept, err := fixed.Sub(supplierBase, socialized)
		if err != nil {
			return err
		}
		scaled, err := fixed.MulDivFloor(p.SupplyIndex.Raw(), kept, supplierBase)
		if err != nil {
			return err
		}
		if scaled.IsZero() {
			scaled = uint256.NewInt(1)
		}
		p.SupplyIndex = fixed.NewDecFromRaw(scaled)
	}
	lost, err := fixed.Add(covered, socialized)
	if err != nil {
		return err
	}
	if p.TotalSupply, err = fixed.Sub(p.TotalSupply, lost); err != nil {
		return err
	}
	if p.InsuranceClaimed, err = fixed.Add(p.InsuranceClaimed, claim); err != nil {
		return err
	}
	if p.InsuranceCovered, err = fixed.Add(p.InsuranceCovered, covered); err != nil {
		return err
	}
	if p.InsuranceSocialized, err = fixed.Add(p.InsuranceSocialized, socialized); err != nil {
		return err
	}

	tx.emit(InsuranceClaimedEvent(p.Asset, claim, covered, socialized))
	asset, full := p.Asset, socialized.IsZero()
	tx.onCommit(func() {
		tx.e.telemetry.ObserveInsuranceClaim(asset, full)
		if !full {
			tx.e.logger.Warn("insurance fund exhausted, loss socialized",
				"asset", asset, "claimed", fixed.FormatAmount(claim), "socialized", fixed.FormatAmount(socialized))
		}
	})
	return nil
}

func (tx *txn) fundInsurance(payer common.Address, asset string, amount *uint256.Int) error {
	p, err := tx.pool(asset)
	if err != nil {
		return err
	}
	if p.TotalSupply, err = fixed.Add(p.TotalSupply, amount); err != nil {
		return err
	}
	if p.Cash, err = fixed.Add(p.Cash, amount); err != nil {
		return err
	}
	if p.InsuranceBalance, err = fixed.Add(p.InsuranceBalance, amount); err != nil {
		return err
	}
	if err := tx.savePool(p); err != nil {
		return err
	}
	return ledgerError(tx.ledger.DepositFor(asset, WalletPath(payer), PoolPath(asset), amount))
}

func insuranceView(p *PoolAsset) *InsuranceFund {
	return &InsuranceFund{
		Asset:           p.Asset,
		Balance:         fixed.Copy(p.InsuranceBalance),
		TotalClaimed:    fixed.Copy(p.InsuranceClaimed),
		TotalCovered:    fixed.Copy(p.InsuranceCovered),
		TotalSocialized: fixed.Copy(p.InsuranceSocialized),
	}
}
