// Package indexer persists committed lending events to SQL through gorm so
// that auction history can be queried without replaying state.
package indexer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/holiman/uint256"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"marginchain/core/events"
	"marginchain/core/fixed"
	"marginchain/core/types"
	"marginchain/native/lending"
	"marginchain/observability"
)

const (
	StatusInProgress = "in_progress"
	StatusFinished   = "finished"

	queueSize = 1024
)

var ErrClosed = errors.New("indexer: closed")

// Open connects to driver ("sqlite" or "postgres") and migrates the schema.
func Open(driver, dsn string) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch driver {
	case "", "sqlite":
		dialector = sqlite.Open(dsn)
	case "postgres":
		dialector = postgres.Open(dsn)
	default:
		return nil, fmt.Errorf("indexer: unsupported driver %q", driver)
	}
	db, err := gorm.Open(dialector, &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("indexer: open %s: %w", driver, err)
	}
	if err := AutoMigrate(db); err != nil {
		return nil, fmt.Errorf("indexer: migrate: %w", err)
	}
	return db, nil
}

// Indexer is an events.Emitter. Emit only queues; Run drains the queue into
// the database so engine calls never wait on SQL.
type Indexer struct {
	db     *gorm.DB
	logger *slog.Logger
	queue  chan *types.Event

	mu     sync.Mutex
	seq    uint64
	closed bool
}

// New binds an indexer to db. The sequence resumes after the highest stored
// event.
func New(db *gorm.DB, logger *slog.Logger) (*Indexer, error) {
	if logger == nil {
		logger = slog.Default()
	}
	var last EventRecord
	err := db.Order("sequence desc").Limit(1).Find(&last).Error
	if err != nil {
		return nil, fmt.Errorf("indexer: read sequence: %w", err)
	}
	return &Indexer{
		db:     db,
		logger: logger.With("component", "indexer"),
		queue:  make(chan *types.Event, queueSize),
		seq:    last.Sequence,
	}, nil
}

// Emit implements events.Emitter. Events arriving while the queue is full
// are dropped and counted.
func (ix *Indexer) Emit(evt events.Event) {
	payload, ok := lending.Payload(evt)
	if !ok {
		return
	}
	ix.mu.Lock()
	defer ix.mu.Unlock()
	if ix.closed {
		return
	}
	select {
	case ix.queue <- payload.Clone():
	default:
		observability.Events().RecordDelivery("indexer", payload.Type, errors.New("queue full"))
		ix.logger.Warn("indexer queue full, event dropped", slog.String("type", payload.Type))
	}
}

// Run writes queued events until ctx ends or Close is called, then drains
// what is left.
func (ix *Indexer) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			ix.drain()
			return
		case evt, ok := <-ix.queue:
			if !ok {
				return
			}
			ix.store(ctx, evt)
		}
	}
}

func (ix *Indexer) drain() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for {
		select {
		case evt, ok := <-ix.queue:
			if !ok {
				return
			}
			ix.store(ctx, evt)
		default:
			return
		}
	}
}

// Close stops accepting events. Run returns once the queue is empty.
func (ix *Indexer) Close() {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	if ix.closed {
		return
	}
	ix.closed = true
	close(ix.queue)
}

func (ix *Indexer) store(ctx context.Context, evt *types.Event) {
	err := ix.Index(ctx, evt)
	observability.Events().RecordDelivery("indexer", evt.Type, err)
	if err != nil {
		ix.logger.Error("index event", slog.String("type", evt.Type), slog.Any("error", err))
	}
}

// Index persists evt and folds it into the auction summary in one
// transaction.
func (ix *Indexer) Index(ctx context.Context, evt *types.Event) error {
	if evt == nil {
		return nil
	}
	attrs, err := json.Marshal(evt.Attributes)
	if err != nil {
		return fmt.Errorf("indexer: encode attributes: %w", err)
	}
	ix.mu.Lock()
	ix.seq++
	seq := ix.seq
	ix.mu.Unlock()

	record := EventRecord{
		ID:         uuid.New(),
		Sequence:   seq,
		Type:       evt.Type,
		AuctionID:  parseUint(evt.Attr("auctionId")),
		MarketID:   parseUint(evt.Attr("marketId")),
		Asset:      evt.Attr("asset"),
		Attributes: string(attrs),
	}
	return ix.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&record).Error; err != nil {
			return fmt.Errorf("indexer: insert event: %w", err)
		}
		return applyAuction(tx, evt)
	})
}

func applyAuction(tx *gorm.DB, evt *types.Event) error {
	id := parseUint(evt.Attr("auctionId"))
	switch evt.Type {
	case lending.EventTypeAuctionCreated:
		row := AuctionRecord{
			ID:              id,
			MarketID:        parseUint(evt.Attr("marketId")),
			Borrower:        evt.Attr("borrower"),
			Initiator:       evt.Attr("initiator"),
			DebtAsset:       evt.Attr("debtAsset"),
			CollateralAsset: evt.Attr("collateralAsset"),
			Status:          StatusInProgress,
			StartHeight:     parseUint(evt.Attr("startHeight")),
			TotalRepaid:     "0",
			TotalCollateral: "0",
			TotalClaimed:    "0",
		}
		return tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&row).Error
	case lending.EventTypeAuctionFilled:
		var row AuctionRecord
		if err := tx.First(&row, id).Error; err != nil {
			return fmt.Errorf("indexer: fill for auction %d: %w", id, err)
		}
		row.Fills++
		row.TotalRepaid = addDecimal(row.TotalRepaid, evt.Attr("actualRepay"))
		row.TotalCollateral = addDecimal(row.TotalCollateral, evt.Attr("collateral"))
		row.TotalClaimed = addDecimal(row.TotalClaimed, evt.Attr("insuranceClaim"))
		return tx.Save(&row).Error
	case lending.EventTypeAuctionFinished:
		return tx.Model(&AuctionRecord{}).Where("id = ?", id).Updates(map[string]any{
			"status":     StatusFinished,
			"end_height": parseUint(evt.Attr("endHeight")),
		}).Error
	}
	return nil
}

// EventFilter narrows Events. Zero fields match everything.
type EventFilter struct {
	Type      string
	AuctionID uint64
	MarketID  uint64
	After     uint64
	Limit     int
}

// Events lists stored events in sequence order.
func (ix *Indexer) Events(ctx context.Context, filter EventFilter) ([]EventRecord, error) {
	q := ix.db.WithContext(ctx).Model(&EventRecord{}).Where("sequence > ?", filter.After)
	if filter.Type != "" {
		q = q.Where("type = ?", filter.Type)
	}
	if filter.AuctionID != 0 {
		q = q.Where("auction_id = ?", filter.AuctionID)
	}
	if filter.MarketID != 0 {
		q = q.Where("market_id = ?", filter.MarketID)
	}
	limit := filter.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	var out []EventRecord
	if err := q.Order("sequence asc").Limit(limit).Find(&out).Error; err != nil {
		return nil, fmt.Errorf("indexer: query events: %w", err)
	}
	return out, nil
}

// Auction returns the summary of auction id.
func (ix *Indexer) Auction(ctx context.Context, id uint64) (*AuctionRecord, error) {
	var row AuctionRecord
	err := ix.db.WithContext(ctx).First(&row, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("indexer: query auction: %w", err)
	}
	return &row, nil
}

// AuctionsByBorrower lists the auctions of borrower, newest first.
func (ix *Indexer) AuctionsByBorrower(ctx context.Context, borrower string) ([]AuctionRecord, error) {
	var out []AuctionRecord
	err := ix.db.WithContext(ctx).Where("borrower = ?", borrower).Order("id desc").Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("indexer: query auctions: %w", err)
	}
	return out, nil
}

func parseUint(value string) uint64 {
	out, _ := strconv.ParseUint(value, 10, 64)
	return out
}

func addDecimal(total, delta string) string {
	a, err := fixed.ParseAmount(total)
	if err != nil {
		a = new(uint256.Int)
	}
	b, err := fixed.ParseAmount(delta)
	if err != nil {
		return fixed.FormatAmount(a)
	}
	sum, err := fixed.Add(a, b)
	if err != nil {
		return fixed.FormatAmount(a)
	}
	return fixed.FormatAmount(sum)
}
