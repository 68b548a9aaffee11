package lending

import (
	"fmt"
	"testing"

	"github.com/holiman/uint256"

	"marginchain/core/events"
	"marginchain/core/fixed"
)

func newTestPool(supply, borrow uint64) *PoolAsset {
	p := &PoolAsset{
		Asset:         "BASE",
		TotalSupply:   amt(supply),
		TotalBorrow:   amt(borrow),
		Cash:          amt(supply - borrow),
		SupplyIndex:   fixed.One(),
		BorrowIndex:   fixed.One(),
		InterestModel: DefaultInterestModel,
		ReserveFactor: fixed.MustDec("0.1"),
	}
	p.ensureDefaults()
	return p
}

func TestAccrueRoundsInFavourOfPool(t *testing.T) {
	const unit = 1_000_000_000_000_000_000
	supply := new(uint256.Int).Mul(amt(1_000_000), amt(unit))
	borrow := new(uint256.Int).Mul(amt(600_000), amt(unit))
	p := newTestPool(0, 0)
	p.TotalSupply, p.TotalBorrow = supply, borrow
	p.Cash = new(uint256.Int).Sub(supply, borrow)

	if err := p.accrue(1000, DefaultBlocksPerYear); err != nil {
		t.Fatalf("accrue: %v", err)
	}
	if !p.BorrowIndex.GT(fixed.One()) || !p.SupplyIndex.GT(fixed.One()) {
		t.Fatalf("indexes did not grow: borrow %s supply %s", p.BorrowIndex, p.SupplyIndex)
	}
	if !p.SupplyIndex.LT(p.BorrowIndex) {
		t.Fatalf("supply index %s must trail borrow index %s", p.SupplyIndex, p.BorrowIndex)
	}
	interest := new(uint256.Int).Sub(p.TotalBorrow, borrow)
	if interest.IsZero() {
		t.Fatalf("no interest accrued")
	}
	if !new(uint256.Int).Sub(p.TotalSupply, supply).Eq(interest) {
		t.Fatalf("supply and borrow grew by different amounts")
	}
	if p.InsuranceBalance.IsZero() {
		t.Fatalf("reserve factor produced no insurance")
	}
	// Suppliers are credited no more than what borrowers are charged.
	credited, err := fixed.MulFloor(supply, p.SupplyIndex)
	if err != nil {
		t.Fatalf("credited: %v", err)
	}
	total := new(uint256.Int).Add(credited, p.InsuranceBalance)
	if total.Gt(p.TotalSupply) {
		t.Fatalf("suppliers %s + reserve %s exceed supply %s", credited, p.InsuranceBalance, p.TotalSupply)
	}
	owed, err := debtOf(&AssetPosition{Principal: borrow, Index: fixed.One()}, p)
	if err != nil {
		t.Fatalf("debt: %v", err)
	}
	if owed.Lt(p.TotalBorrow) && new(uint256.Int).Sub(p.TotalBorrow, owed).Uint64() > 1 {
		t.Fatalf("single borrower owes %s of %s", owed, p.TotalBorrow)
	}
	if p.LastAccrualHeight != 1000 {
		t.Fatalf("accrual height not advanced: %d", p.LastAccrualHeight)
	}
}

func TestAccrueIsNoOpWithoutElapsedBlocksOrDebt(t *testing.T) {
	p := newTestPool(1000, 500)
	p.LastAccrualHeight = 10
	if err := p.accrue(10, DefaultBlocksPerYear); err != nil {
		t.Fatalf("accrue: %v", err)
	}
	if p.BorrowIndex.Cmp(fixed.One()) != 0 {
		t.Fatalf("index moved without elapsed blocks")
	}
	if err := p.accrue(5, DefaultBlocksPerYear); err != nil || p.LastAccrualHeight != 10 {
		t.Fatalf("accrual went backwards: %v height %d", err, p.LastAccrualHeight)
	}

	idle := newTestPool(1000, 0)
	if err := idle.accrue(100, DefaultBlocksPerYear); err != nil {
		t.Fatalf("accrue: %v", err)
	}
	if idle.SupplyIndex.Cmp(fixed.One()) != 0 || idle.LastAccrualHeight != 100 {
		t.Fatalf("idle pool accrued: %s at %d", idle.SupplyIndex, idle.LastAccrualHeight)
	}
}

func TestDebtRoundsUpSupplyRoundsDown(t *testing.T) {
	p := newTestPool(0, 0)
	p.BorrowIndex = fixed.MustDec("1.000000000000000001")
	p.SupplyIndex = fixed.MustDec("1.000000000000000001")
	debt, err := debtOf(&AssetPosition{Principal: amt(10), Index: fixed.One()}, p)
	if err != nil || debt.Uint64() != 11 {
		t.Fatalf("debt: %v %v", debt, err)
	}
	balance, err := supplyBalance(&UserSupply{Principal: amt(10), Index: fixed.One()}, p)
	if err != nil || balance.Uint64() != 10 {
		t.Fatalf("supply balance: %v %v", balance, err)
	}
}

func TestInterestModelKink(t *testing.T) {
	m := DefaultInterestModel
	cases := []struct {
		u    string
		want string
	}{
		{"0", "0.02"},
		{"0.5", "0.095"},
		{"0.8", "0.14"},
		{"1", "0.26"},
	}
	for _, tc := range cases {
		got, err := m.BorrowRate(fixed.MustDec(tc.u))
		if err != nil {
			t.Fatalf("rate at %s: %v", tc.u, err)
		}
		if got.String() != tc.want {
			t.Fatalf("rate at %s: got %s want %s", tc.u, got, tc.want)
		}
	}
	if err := (InterestModel{Kink: fixed.NewDec(2)}).Validate(); err == nil {
		t.Fatalf("kink above one accepted")
	}
}

func TestInterestRatesProjection(t *testing.T) {
	p := newTestPool(1000, 400)
	borrowRate, supplyRate, err := interestRates(p, amt(100))
	if err != nil {
		t.Fatalf("rates: %v", err)
	}
	if borrowRate.String() != "0.095" {
		t.Fatalf("borrow rate at 50%%: %s", borrowRate)
	}
	// 0.095 × 0.5 × 0.9
	if supplyRate.String() != "0.04275" {
		t.Fatalf("supply rate: %s", supplyRate)
	}
	if _, _, err := interestRates(p, amt(601)); err == nil {
		t.Fatalf("projection beyond supply accepted")
	}
}

func TestClaimInsurance(t *testing.T) {
	buffer := &events.Buffer{}
	tx := &txn{e: NewEngine(Params{}), events: buffer}
	p := newTestPool(1000, 0)
	p.InsuranceBalance = amt(10)

	if err := tx.claimInsurance(p, amt(30)); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if !p.InsuranceBalance.IsZero() || p.TotalSupply.Uint64() != 970 {
		t.Fatalf("unexpected pool: insurance %s supply %s", p.InsuranceBalance, p.TotalSupply)
	}
	if p.InsuranceCovered.Uint64() != 10 || p.InsuranceSocialized.Uint64() != 20 || p.InsuranceClaimed.Uint64() != 30 {
		t.Fatalf("unexpected totals: %+v", insuranceView(p))
	}
	// Suppliers held 990 before the loss and 970 after.
	balance, err := supplyBalance(&UserSupply{Principal: amt(990), Index: fixed.One()}, p)
	if err != nil || balance.Uint64() != 969 && balance.Uint64() != 970 {
		t.Fatalf("supplier balance after socialization: %v %v", balance, err)
	}
	staged := buffer.Events()
	if len(staged) != 1 || staged[0].EventType() != EventTypeInsuranceClaimed {
		t.Fatalf("expected one claim event, got %v", staged)
	}
	if len(tx.after) != 1 {
		t.Fatalf("expected a post-commit hook")
	}
}

func TestClaimInsuranceFullyCovered(t *testing.T) {
	tx := &txn{e: NewEngine(Params{}), events: &events.Buffer{}}
	p := newTestPool(1000, 0)
	p.InsuranceBalance = amt(50)
	if err := tx.claimInsurance(p, amt(30)); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if p.InsuranceBalance.Uint64() != 20 || p.SupplyIndex.Cmp(fixed.One()) != 0 || p.TotalSupply.Uint64() != 970 {
		t.Fatalf("covered claim touched suppliers: %+v", p)
	}
}

func TestLinearCurve(t *testing.T) {
	if err := DefaultCurve.Validate(); err != nil {
		t.Fatalf("default curve invalid: %v", err)
	}
	prev := DefaultCurve.Ratio(0)
	for elapsed := uint64(1); elapsed < 300; elapsed++ {
		r := DefaultCurve.Ratio(elapsed)
		if r.LT(prev) {
			t.Fatalf("curve decreased at %d: %s < %s", elapsed, r, prev)
		}
		if r.GT(DefaultCurve.Ceiling()) {
			t.Fatalf("curve above ceiling at %d: %s", elapsed, r)
		}
		prev = r
	}
	if got := DefaultCurve.Ratio(^uint64(0)); got.Cmp(fixed.NewDec(2)) != 0 {
		t.Fatalf("overflowing elapsed not capped: %s", got)
	}
	if got := DefaultCurve.Ratio(100); got.Cmp(fixed.One()) != 0 {
		t.Fatalf("ratio after 100 blocks: %s", got)
	}
	bad := LinearCurve{Step: fixed.MustDec("0.1"), Max: fixed.One()}
	if err := bad.Validate(); err == nil {
		t.Fatalf("curve capped at one accepted")
	}
}

func TestActiveSetSwapRemove(t *testing.T) {
	set := newActiveSet([]uint64{1, 2, 3, 4})
	set.Add(2)
	if set.Len() != 4 {
		t.Fatalf("duplicate added")
	}
	if !set.Remove(2) {
		t.Fatalf("remove reported missing id")
	}
	if fmt.Sprint(set.IDs()) != "[1 4 3]" {
		t.Fatalf("unexpected order after swap-remove: %v", set.IDs())
	}
	if set.Remove(2) || set.Len() != 3 {
		t.Fatalf("id 2 still present")
	}
	set.Remove(3)
	set.Remove(1)
	if fmt.Sprint(set.IDs()) != "[4]" || set.Len() != 1 {
		t.Fatalf("unexpected remaining ids: %v", set.IDs())
	}
}
