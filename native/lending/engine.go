package lending

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/holiman/uint256"

	"marginchain/core/events"
	"marginchain/core/fixed"
	"marginchain/core/state"
	"marginchain/core/types"
	nativecommon "marginchain/native/common"
	"marginchain/observability/metrics"
)

const moduleName = "lending"

// Module is the pause switch that stops every engine call.
const Module = moduleName

// DefaultBlocksPerYear assumes one block per second.
const DefaultBlocksPerYear = 31_536_000

// Action names double as pause switches and metric labels.
const (
	ActionSupply             = "supply"
	ActionWithdraw           = "withdraw"
	ActionBorrow             = "borrow"
	ActionRepay              = "repay"
	ActionDepositCollateral  = "deposit_collateral"
	ActionWithdrawCollateral = "withdraw_collateral"
	ActionLiquidate          = "liquidate"
	ActionFill               = "fill"
	ActionInsurance          = "insurance"
	ActionWallet             = "wallet"
	ActionAdmin              = "admin"
)

// Ledger is the custody primitive. The engine never moves value except
// through it.
type Ledger interface {
	DepositFor(asset, payer, path string, amount *uint256.Int) error
	WithdrawFrom(asset, path, payee string, amount *uint256.Int) error
	Transfer(asset, from, to string, amount *uint256.Int) error
	BalanceOf(path, asset string) (*uint256.Int, error)
}

// Issuer is implemented by ledgers that accept value from outside the system.
type Issuer interface {
	Mint(path, asset string, amount *uint256.Int) error
	Burn(path, asset string, amount *uint256.Int) error
}

// PriceSource values assets in a common unit of account.
type PriceSource interface {
	Price(asset string) (fixed.Dec, error)
}

// LedgerFactory binds a ledger to the store of the running call so that
// custody moves commit or roll back together with engine state.
type LedgerFactory func(store state.KVStore) Ledger

// PriceFactory binds a price source to the store and height of a call.
type PriceFactory func(store state.KVStore, height uint64) PriceSource

type engineState interface {
	Begin() *state.Journal
}

// Params are the engine-wide constants.
type Params struct {
	BlocksPerYear uint64
}

// Engine orchestrates the state transitions of the lending pools, collateral
// accounts and liquidation auctions. Each public call runs inside one state
// journal: it either commits entirely, events included, or leaves no trace.
type Engine struct {
	state         engineState
	ledgers       LedgerFactory
	prices        PriceFactory
	curve         RatioCurve
	blocksPerYear uint64
	blockHeight   uint64
	pauses        nativecommon.PauseView
	emitter       events.Emitter
	logger        *slog.Logger
	telemetry     *metrics.LendingMetrics

	mu sync.RWMutex
}

// NewEngine constructs an engine. State, ledger and prices are wired with
// the setters before use.
func NewEngine(params Params) *Engine {
	bpy := params.BlocksPerYear
	if bpy == 0 {
		bpy = DefaultBlocksPerYear
	}
	return &Engine{
		blocksPerYear: bpy,
		curve:         DefaultCurve,
		emitter:       events.NoopEmitter{},
		logger:        slog.Default(),
		telemetry:     metrics.Lending(),
	}
}

// SetState wires the engine to the external persistence layer.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetLedger configures how the custody ledger is bound to each call.
func (e *Engine) SetLedger(factory LedgerFactory) { e.ledgers = factory }

// SetPriceSource configures how the price source is bound to each call.
func (e *Engine) SetPriceSource(factory PriceFactory) { e.prices = factory }

// SetCurve replaces the auction ratio curve.
func (e *Engine) SetCurve(curve RatioCurve) {
	if e == nil || curve == nil {
		return
	}
	e.curve = curve
}

// Curve returns the auction ratio curve in use.
func (e *Engine) Curve() RatioCurve { return e.curve }

func (e *Engine) SetPauses(p nativecommon.PauseView) {
	if e == nil {
		return
	}
	e.pauses = p
}

// SetEmitter configures the event emitter used by the engine.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

func (e *Engine) SetLogger(logger *slog.Logger) {
	if logger == nil {
		return
	}
	e.logger = logger
}

// SetMetrics overrides the metrics registry. Nil disables metrics.
func (e *Engine) SetMetrics(m *metrics.LendingMetrics) { e.telemetry = m }

// SetBlockHeight records the block height used when computing accrual deltas
// and auction ratios.
func (e *Engine) SetBlockHeight(height uint64) {
	if e == nil {
		return
	}
	e.mu.Lock()
	e.blockHeight = height
	e.mu.Unlock()
	e.telemetry.SetBlockHeight(height)
}

// BlockHeight returns the current execution height.
func (e *Engine) BlockHeight() uint64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.blockHeight
}

// txn is the context of one engine call.
type txn struct {
	e       *Engine
	journal *state.Journal
	store   store
	ledger  Ledger
	prices  PriceSource
	height  uint64
	events  *events.Buffer
	after   []func()
}

func (e *Engine) begin() *txn {
	journal := e.state.Begin()
	tx := &txn{
		e:       e,
		journal: journal,
		store:   store{kv: journal},
		ledger:  e.ledgers(journal),
		height:  e.blockHeight,
		events:  &events.Buffer{},
	}
	if e.prices != nil {
		tx.prices = e.prices(journal, e.blockHeight)
	}
	return tx
}

func (e *Engine) ready() error {
	if e == nil || e.state == nil || e.ledgers == nil {
		return errNilState
	}
	return nil
}

// execute runs fn as one atomic call. Events and post-commit hooks only run
// once the journal has been committed.
func (e *Engine) execute(action string, fn func(tx *txn) error) error {
	if err := e.ready(); err != nil {
		return err
	}
	if err := nativecommon.GuardAction(e.pauses, moduleName, action); err != nil {
		return fmt.Errorf("%w: %w", ErrPaused, err)
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	tx := e.begin()
	err := fn(tx)
	written := tx.journal.Dirty()
	if err != nil {
		tx.journal.Discard()
	} else {
		err = tx.journal.Commit()
	}
	e.telemetry.ObserveAction(action, err)
	if err != nil {
		e.logger.Debug("lending call rejected", slog.String("action", action), slog.Any("error", err))
		return err
	}
	e.logger.Debug("lending call committed", slog.String("action", action), slog.Int("keys", written))
	tx.events.Flush(e.emitter)
	for _, hook := range tx.after {
		hook()
	}
	return nil
}

// view runs fn against a throwaway journal. Accrual performed while reading
// is projected, never persisted.
func (e *Engine) view(fn func(tx *txn) error) error {
	if err := e.ready(); err != nil {
		return err
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	tx := e.begin()
	defer tx.journal.Discard()
	return fn(tx)
}

func (tx *txn) emit(evt *types.Event) {
	if evt == nil {
		return
	}
	tx.events.Emit(WrapEvent(evt))
}

// onCommit schedules hook to run after a successful commit.
func (tx *txn) onCommit(hook func()) {
	tx.after = append(tx.after, hook)
}

func (tx *txn) price(asset string) (fixed.Dec, error) {
	if tx.prices == nil {
		return fixed.Dec{}, fmt.Errorf("%w: %s: no price source configured", ErrPriceUnavailable, asset)
	}
	price, err := tx.prices.Price(asset)
	if err != nil {
		return fixed.Dec{}, priceError(asset, err)
	}
	if price.IsZero() {
		return fixed.Dec{}, fmt.Errorf("%w: %s: zero price", ErrPriceUnavailable, asset)
	}
	return price, nil
}

func (tx *txn) transfer(asset, from, to string, amount *uint256.Int) error {
	if fixed.IsZero(amount) {
		return nil
	}
	return ledgerError(tx.ledger.Transfer(asset, from, to, amount))
}

func requirePositive(amount *uint256.Int) error {
	if fixed.IsZero(amount) {
		return ErrInvalidAmount
	}
	return nil
}
