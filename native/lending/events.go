package lending

import (
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"marginchain/core/events"
	"marginchain/core/fixed"
	"marginchain/core/types"
)

const (
	// EventTypeAuctionCreated is emitted when a liquidation opens an auction.
	EventTypeAuctionCreated = "lending.auction.created"
	// EventTypeAuctionFilled is emitted for every successful fill.
	EventTypeAuctionFilled = "lending.auction.filled"
	// EventTypeAuctionFinished is emitted when an auction's debt reaches zero.
	EventTypeAuctionFinished = "lending.auction.finished"
	// EventTypeInsuranceClaimed is emitted when a fill claims a shortfall
	// from the insurance fund.
	EventTypeInsuranceClaimed = "lending.insurance.claimed"
)

type eventEnvelope struct {
	evt *types.Event
}

func (e eventEnvelope) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e eventEnvelope) Event() *types.Event { return e.evt }

// WrapEvent converts a raw event payload into the emitter-friendly envelope.
func WrapEvent(evt *types.Event) events.Event { return eventEnvelope{evt: evt} }

// Payload extracts the structured payload from an emitted lending event.
func Payload(evt events.Event) (*types.Event, bool) {
	env, ok := evt.(eventEnvelope)
	if !ok || env.evt == nil {
		return nil, false
	}
	return env.evt, true
}

func hexAddr(addr common.Address) string {
	return strings.ToLower(addr.Hex())
}

func u64(v uint64) string { return strconv.FormatUint(v, 10) }

// AuctionCreatedEvent returns the payload announcing a new auction.
func AuctionCreatedEvent(a *Auction) *types.Event {
	return &types.Event{
		Type: EventTypeAuctionCreated,
		Attributes: map[string]string{
			"auctionId":       u64(a.ID),
			"marketId":        u64(a.MarketID),
			"borrower":        hexAddr(a.Borrower),
			"initiator":       hexAddr(a.Initiator),
			"debtAsset":       a.DebtAsset,
			"collateralAsset": a.CollateralAsset,
			"startHeight":     u64(a.StartHeight),
		},
	}
}

// AuctionFilledEvent returns the payload describing a settled fill.
func AuctionFilledEvent(a *Auction, bidder common.Address, s Settlement) *types.Event {
	return &types.Event{
		Type: EventTypeAuctionFilled,
		Attributes: map[string]string{
			"auctionId":      u64(a.ID),
			"bidder":         hexAddr(bidder),
			"regime":         s.Regime.String(),
			"ratio":          s.Ratio.String(),
			"repayAmount":    fixed.FormatAmount(s.RepayAmount),
			"actualRepay":    fixed.FormatAmount(s.ActualRepay),
			"bidderRepay":    fixed.FormatAmount(s.BidderPays),
			"insuranceClaim": fixed.FormatAmount(s.InsuranceClaim),
			"collateral":     fixed.FormatAmount(s.CollateralToProcess),
			"forBidder":      fixed.FormatAmount(s.ForBidder),
			"forInitiator":   fixed.FormatAmount(s.ForInitiator),
			"forBorrower":    fixed.FormatAmount(s.ForBorrower),
		},
	}
}

// AuctionFinishedEvent returns the payload announcing a closed auction.
func AuctionFinishedEvent(a *Auction) *types.Event {
	return &types.Event{
		Type: EventTypeAuctionFinished,
		Attributes: map[string]string{
			"auctionId": u64(a.ID),
			"marketId":  u64(a.MarketID),
			"borrower":  hexAddr(a.Borrower),
			"endHeight": u64(a.EndHeight),
		},
	}
}

// InsuranceClaimedEvent returns the payload for an insurance claim.
func InsuranceClaimedEvent(asset string, claimed, covered, socialized *uint256.Int) *types.Event {
	return &types.Event{
		Type: EventTypeInsuranceClaimed,
		Attributes: map[string]string{
			"asset":      asset,
			"claimed":    fixed.FormatAmount(claimed),
			"covered":    fixed.FormatAmount(covered),
			"socialized": fixed.FormatAmount(socialized),
		},
	}
}
