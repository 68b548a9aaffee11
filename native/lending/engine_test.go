package lending

import (
	"errors"
	"fmt"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"marginchain/core/events"
	"marginchain/core/fixed"
	"marginchain/core/state"
	nativecommon "marginchain/native/common"
	"marginchain/native/bank"
	"marginchain/storage"
)

var (
	supplier  = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	borrower  = common.HexToAddress("0x00000000000000000000000000000000000000b2")
	bidder    = common.HexToAddress("0x00000000000000000000000000000000000000c3")
	initiator = common.HexToAddress("0x00000000000000000000000000000000000000d4")
)

// zeroRateModel keeps indexes flat so scenario numbers stay exact across
// height changes.
var zeroRateModel = InterestModel{Kink: fixed.MustDec("0.8")}

type staticPrices map[string]fixed.Dec

func (p staticPrices) Price(asset string) (fixed.Dec, error) {
	price, ok := p[asset]
	if !ok {
		return fixed.Dec{}, fmt.Errorf("no price for %s", asset)
	}
	return price, nil
}

type testEnv struct {
	t        *testing.T
	db       *storage.MemDB
	engine   *Engine
	prices   staticPrices
	recorder *events.Recorder
	pauses   *nativecommon.Pauses
	market   *Market
}

func newTestEnv(t *testing.T, model InterestModel) *testEnv {
	t.Helper()
	env := &testEnv{
		t:        t,
		db:       storage.NewMemDB(),
		prices:   staticPrices{"BASE": fixed.One(), "QUOTE": fixed.One()},
		recorder: &events.Recorder{},
		pauses:   nativecommon.NewPauses(),
	}
	engine := NewEngine(Params{})
	engine.SetState(state.NewManager(env.db))
	engine.SetLedger(func(store state.KVStore) Ledger { return bank.NewLedger(store) })
	engine.SetPriceSource(func(state.KVStore, uint64) PriceSource { return env.prices })
	engine.SetEmitter(env.recorder)
	engine.SetPauses(env.pauses)
	engine.SetCurve(LinearCurve{Start: fixed.MustDec("0.5"), Step: fixed.MustDec("0.1"), Max: fixed.NewDec(2)})
	engine.SetBlockHeight(1)
	env.engine = engine

	for _, asset := range []string{"BASE", "QUOTE"} {
		if err := engine.ListAsset(asset, model, fixed.MustDec("0.1")); err != nil {
			t.Fatalf("list %s: %v", asset, err)
		}
	}
	market, err := engine.CreateMarket(Market{
		BaseAsset:            "base",
		QuoteAsset:           "quote",
		LiquidateRate:        fixed.MustDec("1.1"),
		WithdrawRate:         fixed.MustDec("1.2"),
		InitiatorRewardRatio: fixed.MustDec("0.5"),
		BorrowEnabled:        true,
	})
	if err != nil {
		t.Fatalf("create market: %v", err)
	}
	env.market = market
	return env
}

func amt(v uint64) *uint256.Int { return uint256.NewInt(v) }

func (env *testEnv) fund(user common.Address, asset string, amount uint64) {
	env.t.Helper()
	if err := env.engine.Deposit(user, asset, amt(amount)); err != nil {
		env.t.Fatalf("deposit %s for %s: %v", asset, user.Hex(), err)
	}
}

func (env *testEnv) requireWallet(user common.Address, asset string, want uint64) {
	env.t.Helper()
	got, err := env.engine.WalletBalance(user, asset)
	if err != nil {
		env.t.Fatalf("wallet balance: %v", err)
	}
	if got.Uint64() != want {
		env.t.Fatalf("wallet %s %s: got %s want %d", user.Hex(), asset, got, want)
	}
}

// requirePoolConserved checks Cash against custody and the solvency bound.
func (env *testEnv) requirePoolConserved(asset string) *PoolAsset {
	env.t.Helper()
	p, err := env.engine.Pool(asset)
	if err != nil {
		env.t.Fatalf("pool %s: %v", asset, err)
	}
	var custody *uint256.Int
	if err := env.engine.view(func(tx *txn) error {
		var err error
		custody, err = tx.ledger.BalanceOf(PoolPath(asset), asset)
		return err
	}); err != nil {
		env.t.Fatalf("custody: %v", err)
	}
	if !custody.Eq(p.Cash) {
		env.t.Fatalf("pool %s cash %s != custody %s", asset, p.Cash, custody)
	}
	backing := new(uint256.Int).Add(p.Cash, p.TotalBorrow)
	if backing.Lt(p.TotalSupply) {
		env.t.Fatalf("pool %s insolvent: cash+borrow %s < supply %s", asset, backing, p.TotalSupply)
	}
	if p.TotalBorrow.Gt(p.TotalSupply) {
		env.t.Fatalf("pool %s over-lent: borrow %s > supply %s", asset, p.TotalBorrow, p.TotalSupply)
	}
	return p
}

// openShortfall leaves the borrower with 100 BASE of debt backed only by
// 120 QUOTE and then doubles the BASE price so the account is liquidatable.
func (env *testEnv) openShortfall(user common.Address) {
	env.t.Helper()
	e := env.engine
	env.fund(supplier, "BASE", 1000)
	if err := e.Supply(supplier, "BASE", amt(1000)); err != nil {
		env.t.Fatalf("supply: %v", err)
	}
	env.fund(user, "QUOTE", 120)
	if err := e.DepositCollateral(user, env.market.ID, "QUOTE", amt(120)); err != nil {
		env.t.Fatalf("deposit collateral: %v", err)
	}
	if err := e.Borrow(user, env.market.ID, "BASE", amt(100)); err != nil {
		env.t.Fatalf("borrow: %v", err)
	}
	if err := e.WithdrawCollateral(user, env.market.ID, "BASE", amt(100)); err != nil {
		env.t.Fatalf("withdraw borrowed funds: %v", err)
	}
	env.prices["BASE"] = fixed.NewDec(2)
}

func eventTypes(recorder *events.Recorder) []string {
	var out []string
	for _, evt := range recorder.Events() {
		out = append(out, evt.EventType())
	}
	return out
}

func TestEngineRequiresState(t *testing.T) {
	e := NewEngine(Params{})
	if err := e.Supply(supplier, "BASE", amt(1)); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected validation error without state, got %v", err)
	}
}

func TestSupplyWithdrawRoundTrip(t *testing.T) {
	env := newTestEnv(t, DefaultInterestModel)
	e := env.engine
	env.fund(supplier, "BASE", 500)

	if err := e.Supply(supplier, "base", amt(300)); err != nil {
		t.Fatalf("supply: %v", err)
	}
	env.requireWallet(supplier, "BASE", 200)
	balance, err := e.PoolSupplyOf("BASE", supplier)
	if err != nil || balance.Uint64() != 300 {
		t.Fatalf("supply balance: %v %v", balance, err)
	}
	if err := e.Withdraw(supplier, "BASE", amt(300)); err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	env.requireWallet(supplier, "BASE", 500)
	p := env.requirePoolConserved("BASE")
	if !p.TotalSupply.IsZero() || !p.Cash.IsZero() {
		t.Fatalf("pool not emptied: supply %s cash %s", p.TotalSupply, p.Cash)
	}
}

func TestInvalidInputsRejected(t *testing.T) {
	env := newTestEnv(t, DefaultInterestModel)
	e := env.engine
	if err := e.Supply(supplier, "BASE", amt(0)); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("zero supply: %v", err)
	}
	if err := e.Supply(supplier, "BASE", nil); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("nil supply: %v", err)
	}
	if err := e.Supply(supplier, "NOPE", amt(1)); !errors.Is(err, ErrUnknownAsset) {
		t.Fatalf("unknown asset: %v", err)
	}
	if err := e.Borrow(borrower, 99, "BASE", amt(1)); !errors.Is(err, ErrUnknownMarket) {
		t.Fatalf("unknown market: %v", err)
	}
	if err := e.Withdraw(supplier, "BASE", amt(1)); !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("withdraw without supply: %v", err)
	}
	if _, err := e.FillAuction(bidder, 7, amt(1)); !errors.Is(err, ErrUnknownAuction) {
		t.Fatalf("unknown auction: %v", err)
	}
	if err := e.ListAsset("base", DefaultInterestModel, fixed.Dec{}); !errors.Is(err, ErrAssetExists) {
		t.Fatalf("relist: %v", err)
	}
	if _, err := e.CreateMarket(Market{BaseAsset: "BASE", QuoteAsset: "BASE", LiquidateRate: fixed.NewDec(2)}); !errors.Is(err, ErrInvalidMarket) {
		t.Fatalf("same-asset market: %v", err)
	}
	if _, err := e.CreateMarket(Market{BaseAsset: "BASE", QuoteAsset: "QUOTE", LiquidateRate: fixed.One()}); !errors.Is(err, ErrInvalidMarket) {
		t.Fatalf("liquidate rate of one: %v", err)
	}
}

func TestMarketIDsAreSequential(t *testing.T) {
	env := newTestEnv(t, DefaultInterestModel)
	second, err := env.engine.CreateMarket(Market{BaseAsset: "QUOTE", QuoteAsset: "BASE", LiquidateRate: fixed.MustDec("1.5")})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if second.ID != env.market.ID+1 {
		t.Fatalf("expected id %d, got %d", env.market.ID+1, second.ID)
	}
	if second.WithdrawRate.Cmp(second.LiquidateRate) != 0 {
		t.Fatalf("withdraw rate did not default to liquidate rate: %s", second.WithdrawRate)
	}
	markets, err := env.engine.Markets()
	if err != nil || len(markets) != 2 {
		t.Fatalf("markets: %v %v", markets, err)
	}
}

// Withdrawing beyond available liquidity fails and changes nothing.
func TestWithdrawBeyondLiquidity(t *testing.T) {
	env := newTestEnv(t, zeroRateModel)
	e := env.engine
	env.fund(supplier, "BASE", 100)
	if err := e.Supply(supplier, "BASE", amt(100)); err != nil {
		t.Fatalf("supply: %v", err)
	}
	env.fund(borrower, "QUOTE", 200)
	if err := e.DepositCollateral(borrower, env.market.ID, "QUOTE", amt(200)); err != nil {
		t.Fatalf("collateral: %v", err)
	}
	if err := e.Borrow(borrower, env.market.ID, "BASE", amt(80)); err != nil {
		t.Fatalf("borrow: %v", err)
	}
	before := env.requirePoolConserved("BASE")
	emitted := len(env.recorder.Events())

	err := e.Withdraw(supplier, "BASE", amt(50))
	if !errors.Is(err, ErrInsufficientLiquidity) {
		t.Fatalf("expected ErrInsufficientLiquidity, got %v", err)
	}
	after := env.requirePoolConserved("BASE")
	if !after.Cash.Eq(before.Cash) || !after.TotalSupply.Eq(before.TotalSupply) || !after.TotalBorrow.Eq(before.TotalBorrow) {
		t.Fatalf("pool changed by failed withdraw: %+v -> %+v", before, after)
	}
	env.requireWallet(supplier, "BASE", 0)
	if len(env.recorder.Events()) != emitted {
		t.Fatalf("failed call emitted events")
	}
}

func TestBorrowHealthCheck(t *testing.T) {
	env := newTestEnv(t, zeroRateModel)
	e := env.engine
	env.fund(supplier, "BASE", 1000)
	if err := e.Supply(supplier, "BASE", amt(1000)); err != nil {
		t.Fatalf("supply: %v", err)
	}
	env.fund(borrower, "QUOTE", 100)
	if err := e.DepositCollateral(borrower, env.market.ID, "QUOTE", amt(100)); err != nil {
		t.Fatalf("collateral: %v", err)
	}
	if err := e.Borrow(borrower, env.market.ID, "BASE", amt(400)); err != nil {
		t.Fatalf("borrow within limit: %v", err)
	}
	// (100 QUOTE + 400 BASE) / 400 = 1.25; withdrawing 50 BASE drops it to
	// 100/400 + 350/400 = 1.125 < 1.2.
	if err := e.WithdrawCollateral(borrower, env.market.ID, "BASE", amt(50)); !errors.Is(err, ErrHealthCheckFailed) {
		t.Fatalf("expected health check failure, got %v", err)
	}
	balance, err := e.AccountBalance(borrower, env.market.ID, "BASE")
	if err != nil || balance.Uint64() != 400 {
		t.Fatalf("account balance after rejected withdraw: %v %v", balance, err)
	}
	debt, err := e.AmountBorrowed(borrower, env.market.ID, "BASE")
	if err != nil || debt.Uint64() != 400 {
		t.Fatalf("debt: %v %v", debt, err)
	}
	repaid, err := e.Repay(borrower, env.market.ID, "BASE", amt(1000))
	if err != nil {
		t.Fatalf("repay: %v", err)
	}
	if repaid.Uint64() != 400 {
		t.Fatalf("repay not clamped to debt: %s", repaid)
	}
	p := env.requirePoolConserved("BASE")
	if !p.TotalBorrow.IsZero() {
		t.Fatalf("borrow left after full repay: %s", p.TotalBorrow)
	}
}

func TestBorrowDisabledMarket(t *testing.T) {
	env := newTestEnv(t, zeroRateModel)
	m, err := env.engine.CreateMarket(Market{BaseAsset: "QUOTE", QuoteAsset: "BASE", LiquidateRate: fixed.MustDec("1.5")})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := env.engine.Borrow(borrower, m.ID, "BASE", amt(1)); !errors.Is(err, ErrBorrowDisabled) {
		t.Fatalf("expected ErrBorrowDisabled, got %v", err)
	}
}

func TestPausedAction(t *testing.T) {
	env := newTestEnv(t, zeroRateModel)
	env.fund(supplier, "BASE", 10)
	env.pauses.SetAction(moduleName, ActionSupply, true)
	if err := env.engine.Supply(supplier, "BASE", amt(10)); !errors.Is(err, ErrPaused) {
		t.Fatalf("expected ErrPaused, got %v", err)
	}
	env.pauses.SetAction(moduleName, ActionSupply, false)
	if err := env.engine.Supply(supplier, "BASE", amt(10)); err != nil {
		t.Fatalf("supply after unpause: %v", err)
	}
	env.pauses.SetModule(moduleName, true)
	if err := env.engine.Withdraw(supplier, "BASE", amt(1)); !errors.Is(err, ErrPaused) {
		t.Fatalf("expected module pause, got %v", err)
	}
}

// A healthy account cannot be liquidated and nothing changes.
func TestLiquidateHealthyAccount(t *testing.T) {
	env := newTestEnv(t, zeroRateModel)
	e := env.engine
	env.fund(supplier, "BASE", 1000)
	if err := e.Supply(supplier, "BASE", amt(1000)); err != nil {
		t.Fatalf("supply: %v", err)
	}
	env.fund(borrower, "QUOTE", 300)
	if err := e.DepositCollateral(borrower, env.market.ID, "QUOTE", amt(300)); err != nil {
		t.Fatalf("collateral: %v", err)
	}
	if err := e.Borrow(borrower, env.market.ID, "BASE", amt(100)); err != nil {
		t.Fatalf("borrow: %v", err)
	}
	emitted := len(env.recorder.Events())

	_, err := e.Liquidate(initiator, borrower, env.market.ID)
	if !errors.Is(err, ErrNotLiquidatable) {
		t.Fatalf("expected ErrNotLiquidatable, got %v", err)
	}
	if errors.Is(err, ErrValidation) {
		t.Fatalf("not-liquidatable must be its own class")
	}
	d, err := e.AccountDetails(borrower, env.market.ID)
	if err != nil {
		t.Fatalf("details: %v", err)
	}
	if d.Status != AccountNormal || d.Liquidatable {
		t.Fatalf("unexpected account state: %+v", d)
	}
	ids, _ := e.ActiveAuctions()
	if len(ids) != 0 || len(env.recorder.Events()) != emitted {
		t.Fatalf("rejected liquidation left traces: auctions=%v", ids)
	}
}

func TestLiquidationWithoutAuction(t *testing.T) {
	env := newTestEnv(t, zeroRateModel)
	e := env.engine
	env.fund(supplier, "BASE", 1000)
	if err := e.Supply(supplier, "BASE", amt(1000)); err != nil {
		t.Fatalf("supply: %v", err)
	}
	env.fund(borrower, "QUOTE", 120)
	if err := e.DepositCollateral(borrower, env.market.ID, "QUOTE", amt(120)); err != nil {
		t.Fatalf("collateral: %v", err)
	}
	if err := e.Borrow(borrower, env.market.ID, "BASE", amt(100)); err != nil {
		t.Fatalf("borrow: %v", err)
	}
	// Ratio becomes 1 + 120/2000 = 1.06.
	env.prices["BASE"] = fixed.NewDec(20)
	ok, err := e.IsLiquidatable(borrower, env.market.ID)
	if err != nil || !ok {
		t.Fatalf("expected liquidatable: %v %v", ok, err)
	}
	result, err := e.Liquidate(initiator, borrower, env.market.ID)
	if err != nil {
		t.Fatalf("liquidate: %v", err)
	}
	if result.Auction != nil {
		t.Fatalf("auction opened although debt was cleared")
	}
	if result.BaseRepaid.Uint64() != 100 {
		t.Fatalf("base repaid %s", result.BaseRepaid)
	}
	d, err := e.AccountDetails(borrower, env.market.ID)
	if err != nil {
		t.Fatalf("details: %v", err)
	}
	if d.HasDebt() || d.Status != AccountNormal {
		t.Fatalf("account not settled: %+v", d)
	}
	env.requirePoolConserved("BASE")
}

func TestLiquidateMultiIsAtomic(t *testing.T) {
	env := newTestEnv(t, zeroRateModel)
	e := env.engine
	env.openShortfall(borrower)

	other := common.HexToAddress("0x00000000000000000000000000000000000000e5")
	env.fund(other, "QUOTE", 1000)
	if err := e.DepositCollateral(other, env.market.ID, "QUOTE", amt(1000)); err != nil {
		t.Fatalf("collateral: %v", err)
	}
	if err := e.Borrow(other, env.market.ID, "BASE", amt(10)); err != nil {
		t.Fatalf("borrow: %v", err)
	}
	emitted := len(env.recorder.Events())

	_, err := e.LiquidateMulti(initiator, []common.Address{borrower, other}, []uint64{env.market.ID, env.market.ID})
	if !errors.Is(err, ErrNotLiquidatable) {
		t.Fatalf("expected ErrNotLiquidatable, got %v", err)
	}
	d, err := e.AccountDetails(borrower, env.market.ID)
	if err != nil {
		t.Fatalf("details: %v", err)
	}
	if d.Status != AccountNormal || !d.Liquidatable {
		t.Fatalf("first entry took effect despite batch failure: %+v", d)
	}
	ids, _ := e.ActiveAuctions()
	if len(ids) != 0 || len(env.recorder.Events()) != emitted {
		t.Fatalf("batch left auctions %v", ids)
	}

	if _, err := e.LiquidateMulti(initiator, []common.Address{borrower}, nil); !errors.Is(err, ErrLengthMismatch) {
		t.Fatalf("expected length mismatch, got %v", err)
	}
	results, err := e.LiquidateMulti(initiator, []common.Address{borrower}, []uint64{env.market.ID})
	if err != nil {
		t.Fatalf("liquidate multi: %v", err)
	}
	if len(results) != 1 || results[0].Auction == nil {
		t.Fatalf("expected one auction, got %+v", results)
	}
}

func TestAuctionLifecycle(t *testing.T) {
	env := newTestEnv(t, zeroRateModel)
	e := env.engine
	env.fund(initiator, "BASE", 10)
	if err := e.FundInsurance(initiator, "BASE", amt(10)); err != nil {
		t.Fatalf("fund insurance: %v", err)
	}
	env.openShortfall(borrower)
	env.fund(bidder, "BASE", 200)

	result, err := e.Liquidate(initiator, borrower, env.market.ID)
	if err != nil {
		t.Fatalf("liquidate: %v", err)
	}
	auction := result.Auction
	if auction == nil || auction.ID != 1 {
		t.Fatalf("expected auction 1, got %+v", auction)
	}
	if auction.DebtAsset != "BASE" || auction.CollateralAsset != "QUOTE" {
		t.Fatalf("unexpected auction assets: %+v", auction)
	}
	if err := e.Borrow(borrower, env.market.ID, "BASE", amt(1)); !errors.Is(err, ErrAccountNotNormal) {
		t.Fatalf("borrow during liquidation: %v", err)
	}

	// Ratio 0.5: bidder repays 50 and takes half of the 60 released.
	fill, err := e.FillAuction(bidder, auction.ID, amt(50))
	if err != nil {
		t.Fatalf("fill at 0.5: %v", err)
	}
	s := fill.Settlement
	if s.Regime != RegimeAtMostOne || s.ActualRepay.Uint64() != 50 || s.CollateralToProcess.Uint64() != 60 {
		t.Fatalf("unexpected settlement: %+v", s)
	}
	if s.ForBidder.Uint64() != 30 || s.ForInitiator.Uint64() != 15 || s.ForBorrower.Uint64() != 15 {
		t.Fatalf("unexpected split: %s/%s/%s", s.ForBidder, s.ForInitiator, s.ForBorrower)
	}
	if fill.Finished {
		t.Fatalf("auction finished with debt left")
	}
	env.requireWallet(bidder, "BASE", 150)
	env.requireWallet(bidder, "QUOTE", 30)
	env.requireWallet(initiator, "QUOTE", 15)
	env.requireWallet(borrower, "QUOTE", 15)

	// Ten blocks later the ratio is 1.5 and the insurance reserve covers
	// the shortfall.
	e.SetBlockHeight(11)
	details, err := e.AuctionDetails(auction.ID)
	if err != nil {
		t.Fatalf("details: %v", err)
	}
	if details.Regime != RegimeAboveOne || details.LeftDebt.Uint64() != 50 || details.LeftCollateral.Uint64() != 60 {
		t.Fatalf("unexpected auction details: %+v", details)
	}
	fill, err = e.FillAuction(bidder, auction.ID, amt(20))
	if err != nil {
		t.Fatalf("fill at 1.5: %v", err)
	}
	s = fill.Settlement
	if s.ActualRepay.Uint64() != 30 || s.BidderPays.Uint64() != 20 || s.InsuranceClaim.Uint64() != 10 || s.ForBidder.Uint64() != 36 {
		t.Fatalf("unexpected settlement: %+v", s)
	}
	fund, err := e.InsuranceFund("BASE")
	if err != nil {
		t.Fatalf("insurance: %v", err)
	}
	if !fund.Balance.IsZero() || fund.TotalCovered.Uint64() != 10 || !fund.TotalSocialized.IsZero() {
		t.Fatalf("unexpected insurance book: %+v", fund)
	}

	// An oversized bid is capped at the remaining debt; the reserve is empty
	// so the shortfall is socialized.
	fill, err = e.FillAuction(bidder, auction.ID, amt(100))
	if err != nil {
		t.Fatalf("final fill: %v", err)
	}
	s = fill.Settlement
	if s.ActualRepay.Uint64() != 20 || s.BidderPays.Uint64() != 14 || s.InsuranceClaim.Uint64() != 6 || s.ForBidder.Uint64() != 24 {
		t.Fatalf("unexpected settlement: %+v", s)
	}
	if !fill.Finished {
		t.Fatalf("auction not finished at zero debt")
	}
	if _, err := e.FillAuction(bidder, auction.ID, amt(1)); !errors.Is(err, ErrAuctionFinished) {
		t.Fatalf("fill after finish: %v", err)
	}

	fund, _ = e.InsuranceFund("BASE")
	if fund.TotalClaimed.Uint64() != 16 || fund.TotalSocialized.Uint64() != 6 {
		t.Fatalf("unexpected insurance totals: %+v", fund)
	}
	p := env.requirePoolConserved("BASE")
	if !p.TotalBorrow.IsZero() || p.TotalSupply.Uint64() != 994 || p.Cash.Uint64() != 994 {
		t.Fatalf("unexpected pool: supply %s borrow %s cash %s", p.TotalSupply, p.TotalBorrow, p.Cash)
	}
	owed, err := e.PoolSupplyOf("BASE", supplier)
	if err != nil || owed.Uint64() != 994 {
		t.Fatalf("supplier balance after socialized loss: %v %v", owed, err)
	}
	d, err := e.AccountDetails(borrower, env.market.ID)
	if err != nil || d.Status != AccountNormal || d.HasDebt() {
		t.Fatalf("borrower not released: %+v %v", d, err)
	}
	ids, _ := e.ActiveAuctions()
	if len(ids) != 0 {
		t.Fatalf("active auctions left: %v", ids)
	}

	want := []string{
		EventTypeAuctionCreated,
		EventTypeAuctionFilled,
		EventTypeInsuranceClaimed,
		EventTypeAuctionFilled,
		EventTypeInsuranceClaimed,
		EventTypeAuctionFilled,
		EventTypeAuctionFinished,
	}
	got := eventTypes(env.recorder)
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Fatalf("events: got %v want %v", got, want)
	}
	evt, ok := Payload(env.recorder.Events()[1])
	if !ok || evt.Attributes["actualRepay"] != "50" || evt.Attributes["regime"] != "at_most_one" {
		t.Fatalf("unexpected fill payload: %+v", evt)
	}
}

func TestInterestBearingLiquidationStaysSolvent(t *testing.T) {
	env := newTestEnv(t, InterestModel{
		BaseRate: fixed.MustDec("0.1"),
		Slope1:   fixed.MustDec("0.2"),
		Slope2:   fixed.One(),
		Kink:     fixed.MustDec("0.8"),
	})
	e := env.engine
	env.fund(initiator, "BASE", 3)
	if err := e.FundInsurance(initiator, "BASE", amt(3)); err != nil {
		t.Fatalf("fund insurance: %v", err)
	}
	env.openShortfall(borrower)
	env.fund(bidder, "BASE", 1000)

	const later = 20_000_001
	e.SetBlockHeight(later)
	debt, err := e.AmountBorrowed(borrower, env.market.ID, "BASE")
	if err != nil {
		t.Fatalf("debt: %v", err)
	}
	if debt.Uint64() <= 100 {
		t.Fatalf("debt did not accrue: %s", debt)
	}
	env.requirePoolConserved("BASE")

	result, err := e.Liquidate(initiator, borrower, env.market.ID)
	if err != nil {
		t.Fatalf("liquidate: %v", err)
	}
	if result.Auction == nil {
		t.Fatalf("expected an auction")
	}
	id := result.Auction.ID
	env.requirePoolConserved("BASE")

	// Fifteen blocks in the curve sits at its ceiling of 2.
	e.SetBlockHeight(later + 15)
	fill, err := e.FillAuction(bidder, id, amt(10))
	if err != nil {
		t.Fatalf("first fill: %v", err)
	}
	s := fill.Settlement
	if s.Regime != RegimeAboveOne || s.ActualRepay.Uint64() != 20 || s.InsuranceClaim.Uint64() != 10 || fill.Finished {
		t.Fatalf("unexpected first settlement: %+v", s)
	}
	env.requirePoolConserved("BASE")

	fill, err = e.FillAuction(bidder, id, amt(1000))
	if err != nil {
		t.Fatalf("second fill: %v", err)
	}
	if fill.Settlement.Regime != RegimeAboveOne || !fill.Finished {
		t.Fatalf("auction not closed by an oversized bid: %+v", fill)
	}
	p := env.requirePoolConserved("BASE")
	if !p.TotalBorrow.IsZero() {
		t.Fatalf("debt left after auction: %s", p.TotalBorrow)
	}
	fund, err := e.InsuranceFund("BASE")
	if err != nil {
		t.Fatalf("insurance: %v", err)
	}
	if fund.TotalSocialized.IsZero() || fund.TotalCovered.IsZero() {
		t.Fatalf("expected the reserve to be drained and the rest socialized: %+v", fund)
	}
	claimed := new(uint256.Int).Add(fund.TotalCovered, fund.TotalSocialized)
	if !claimed.Eq(fund.TotalClaimed) {
		t.Fatalf("claimed %s != covered + socialized %s", fund.TotalClaimed, claimed)
	}

	owed, err := e.PoolSupplyOf("BASE", supplier)
	if err != nil {
		t.Fatalf("supplier balance: %v", err)
	}
	if owed.IsZero() || owed.Uint64() >= 1000 {
		t.Fatalf("supplier should carry part of the loss: %s", owed)
	}
	if err := e.Withdraw(supplier, "BASE", owed); err != nil {
		t.Fatalf("full withdrawal: %v", err)
	}
	env.requireWallet(supplier, "BASE", owed.Uint64())
	env.requirePoolConserved("BASE")
}

func TestActiveAuctionsSwapRemove(t *testing.T) {
	env := newTestEnv(t, zeroRateModel)
	e := env.engine
	users := []common.Address{
		common.HexToAddress("0x0000000000000000000000000000000000000101"),
		common.HexToAddress("0x0000000000000000000000000000000000000102"),
		common.HexToAddress("0x0000000000000000000000000000000000000103"),
	}
	env.fund(supplier, "BASE", 1000)
	if err := e.Supply(supplier, "BASE", amt(1000)); err != nil {
		t.Fatalf("supply: %v", err)
	}
	for _, user := range users {
		env.fund(user, "QUOTE", 12)
		if err := e.DepositCollateral(user, env.market.ID, "QUOTE", amt(12)); err != nil {
			t.Fatalf("collateral: %v", err)
		}
		if err := e.Borrow(user, env.market.ID, "BASE", amt(10)); err != nil {
			t.Fatalf("borrow: %v", err)
		}
		if err := e.WithdrawCollateral(user, env.market.ID, "BASE", amt(10)); err != nil {
			t.Fatalf("withdraw: %v", err)
		}
	}
	env.prices["BASE"] = fixed.NewDec(2)
	if _, err := e.LiquidateMulti(initiator, users, []uint64{1, 1, 1}); err != nil {
		t.Fatalf("liquidate: %v", err)
	}
	env.fund(bidder, "BASE", 100)
	if _, err := e.FillAuction(bidder, 1, amt(10)); err != nil {
		t.Fatalf("fill: %v", err)
	}
	ids, err := e.ActiveAuctions()
	if err != nil {
		t.Fatalf("active: %v", err)
	}
	if fmt.Sprint(ids) != "[3 2]" {
		t.Fatalf("expected swap-removed order [3 2], got %v", ids)
	}
}

func TestFailedCallLeavesStoreUntouched(t *testing.T) {
	env := newTestEnv(t, zeroRateModel)
	env.fund(supplier, "BASE", 100)
	keys := env.db.Len()
	emitted := len(env.recorder.Events())
	// The pool accrual and supply bookkeeping run before the ledger debit
	// fails on the missing 50 units.
	err := env.engine.Supply(supplier, "BASE", amt(150))
	if !errors.Is(err, ErrLedger) {
		t.Fatalf("expected ledger rejection, got %v", err)
	}
	if env.db.Len() != keys || len(env.recorder.Events()) != emitted {
		t.Fatalf("failed call leaked state")
	}
	p := env.requirePoolConserved("BASE")
	if !p.TotalSupply.IsZero() {
		t.Fatalf("supply recorded despite failure: %s", p.TotalSupply)
	}
}

func TestViewsDoNotPersistAccrual(t *testing.T) {
	env := newTestEnv(t, DefaultInterestModel)
	e := env.engine
	env.fund(supplier, "BASE", 1_000_000)
	if err := e.Supply(supplier, "BASE", amt(1_000_000)); err != nil {
		t.Fatalf("supply: %v", err)
	}
	env.fund(borrower, "QUOTE", 1_000_000)
	if err := e.DepositCollateral(borrower, env.market.ID, "QUOTE", amt(1_000_000)); err != nil {
		t.Fatalf("collateral: %v", err)
	}
	if err := e.Borrow(borrower, env.market.ID, "BASE", amt(500_000)); err != nil {
		t.Fatalf("borrow: %v", err)
	}
	e.SetBlockHeight(1_000_001)
	projected, err := e.PoolTotalBorrow("BASE")
	if err != nil {
		t.Fatalf("total borrow: %v", err)
	}
	if projected.Uint64() <= 500_000 {
		t.Fatalf("expected accrued interest, got %s", projected)
	}
	var stored *PoolAsset
	if err := e.view(func(tx *txn) error {
		var err error
		stored, err = tx.store.pool("BASE")
		return err
	}); err != nil {
		t.Fatalf("stored pool: %v", err)
	}
	if stored.LastAccrualHeight != 1 || stored.TotalBorrow.Uint64() != 500_000 {
		t.Fatalf("view persisted accrual: height %d borrow %s", stored.LastAccrualHeight, stored.TotalBorrow)
	}
	debt, err := e.AmountBorrowed(borrower, env.market.ID, "BASE")
	if err != nil {
		t.Fatalf("debt: %v", err)
	}
	if debt.Lt(projected) && new(uint256.Int).Sub(projected, debt).Uint64() > 1 {
		t.Fatalf("borrower debt %s drifted from pool borrow %s", debt, projected)
	}
}
