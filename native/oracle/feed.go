// Package oracle provides the store-backed price source consumed by the
// lending engine. Prices are quoted in a common unit of account and are
// rejected once they are older than the configured number of blocks.
package oracle

import (
	"errors"
	"fmt"
	"strings"

	"marginchain/core/fixed"
	"marginchain/core/state"
)

var (
	ErrNoPrice    = errors.New("oracle: no price for asset")
	ErrStalePrice = errors.New("oracle: price is stale")
	ErrZeroPrice  = errors.New("oracle: price must be positive")
)

var pricePrefix = "oracle/price/"

// Quote is a single price observation.
type Quote struct {
	Asset  string
	Price  fixed.Dec
	Height uint64
	Source string
}

type storedQuote struct {
	Price  fixed.Dec
	Height uint64
	Source string
}

// Feed reads and writes quotes through a KVStore. A zero MaxAgeBlocks disables
// the staleness check.
type Feed struct {
	store        state.KVStore
	maxAgeBlocks uint64
	height       uint64
}

// NewFeed binds a feed to store at the given chain height.
func NewFeed(store state.KVStore, maxAgeBlocks, height uint64) *Feed {
	return &Feed{store: store, maxAgeBlocks: maxAgeBlocks, height: height}
}

// Set records price for asset at the feed's current height.
func (f *Feed) Set(asset string, price fixed.Dec, source string) error {
	asset = normalize(asset)
	if asset == "" {
		return fmt.Errorf("oracle: asset required")
	}
	if price.IsZero() {
		return ErrZeroPrice
	}
	return f.store.KVPut(priceKey(asset), storedQuote{
		Price:  price,
		Height: f.height,
		Source: strings.TrimSpace(source),
	})
}

// Quote returns the stored observation for asset without freshness checks.
func (f *Feed) Quote(asset string) (Quote, error) {
	asset = normalize(asset)
	var stored storedQuote
	ok, err := f.store.KVGet(priceKey(asset), &stored)
	if err != nil {
		return Quote{}, err
	}
	if !ok {
		return Quote{}, fmt.Errorf("%w: %s", ErrNoPrice, asset)
	}
	return Quote{Asset: asset, Price: stored.Price, Height: stored.Height, Source: stored.Source}, nil
}

// Price returns the latest fresh price for asset.
func (f *Feed) Price(asset string) (fixed.Dec, error) {
	quote, err := f.Quote(asset)
	if err != nil {
		return fixed.Dec{}, err
	}
	if f.maxAgeBlocks > 0 && f.height > quote.Height && f.height-quote.Height > f.maxAgeBlocks {
		return fixed.Dec{}, fmt.Errorf("%w: %s last updated at %d, now %d", ErrStalePrice, quote.Asset, quote.Height, f.height)
	}
	return quote.Price, nil
}

func normalize(asset string) string {
	return strings.ToUpper(strings.TrimSpace(asset))
}

func priceKey(asset string) []byte {
	return []byte(pricePrefix + asset)
}

// Committer runs fn in its own journal and commits it on success.
// *state.Manager satisfies it.
type Committer interface {
	Update(fn func(*state.Journal) error) error
}

// Writer publishes quotes outside of engine calls, each in its own commit.
type Writer struct {
	state  Committer
	height func() uint64
}

// NewWriter stamps every quote with the height reported by height.
func NewWriter(state Committer, height func() uint64) *Writer {
	return &Writer{state: state, height: height}
}

// Set records price for asset at the current height.
func (w *Writer) Set(asset string, price fixed.Dec, source string) error {
	var height uint64
	if w.height != nil {
		height = w.height()
	}
	return w.state.Update(func(j *state.Journal) error {
		return NewFeed(j, 0, height).Set(asset, price, source)
	})
}
