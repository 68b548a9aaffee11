package indexer

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// EventRecord is one committed engine event.
type EventRecord struct {
	ID         uuid.UUID `gorm:"type:uuid;primaryKey"`
	Sequence   uint64    `gorm:"uniqueIndex"`
	Type       string    `gorm:"size:64;index"`
	AuctionID  uint64    `gorm:"index"`
	MarketID   uint64    `gorm:"index"`
	Asset      string    `gorm:"size:32;index"`
	Attributes string    `gorm:"type:text"`
	CreatedAt  time.Time
}

// AuctionRecord summarises an auction from its events.
type AuctionRecord struct {
	ID              uint64 `gorm:"primaryKey;autoIncrement:false"`
	MarketID        uint64 `gorm:"index"`
	Borrower        string `gorm:"size:42;index"`
	Initiator       string `gorm:"size:42"`
	DebtAsset       string `gorm:"size:32"`
	CollateralAsset string `gorm:"size:32"`
	Status          string `gorm:"size:16;index"`
	StartHeight     uint64
	EndHeight       uint64
	Fills           int
	// Decimal strings; amounts exceed every SQL integer type.
	TotalRepaid     string `gorm:"size:80"`
	TotalCollateral string `gorm:"size:80"`
	TotalClaimed    string `gorm:"size:80"`
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// AutoMigrate performs all schema migrations for the indexer.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&EventRecord{},
		&AuctionRecord{},
	)
}
