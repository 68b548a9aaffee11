package metrics

import (
	"strconv"
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// LendingMetrics tracks engine activity: call outcomes, liquidations, auction
// lifecycle, insurance usage and per-pool utilisation.
type LendingMetrics struct {
	actions          *prometheus.CounterVec
	liquidations     *prometheus.CounterVec
	auctionsCreated  prometheus.Counter
	auctionsFinished prometheus.Counter
	activeAuctions   prometheus.Gauge
	fills            *prometheus.CounterVec
	insuranceClaims  *prometheus.CounterVec
	utilisation      *prometheus.GaugeVec
	blockHeight      prometheus.Gauge
}

var (
	lendingOnce     sync.Once
	lendingRegistry *LendingMetrics
)

// Lending returns the process wide lending metrics registry.
func Lending() *LendingMetrics {
	lendingOnce.Do(func() {
		lendingRegistry = &LendingMetrics{
			actions: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "marginchain",
				Subsystem: "lending",
				Name:      "actions_total",
				Help:      "Count of lending engine calls segmented by action and outcome.",
			}, []string{"action", "outcome"}),
			liquidations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "marginchain",
				Subsystem: "lending",
				Name:      "liquidations_total",
				Help:      "Count of account liquidations by market and whether an auction was opened.",
			}, []string{"market", "auctioned"}),
			auctionsCreated: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "marginchain",
				Subsystem: "lending",
				Name:      "auctions_created_total",
				Help:      "Count of liquidation auctions opened.",
			}),
			auctionsFinished: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "marginchain",
				Subsystem: "lending",
				Name:      "auctions_finished_total",
				Help:      "Count of liquidation auctions closed.",
			}),
			activeAuctions: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "marginchain",
				Subsystem: "lending",
				Name:      "auctions_active",
				Help:      "Number of auctions currently in progress.",
			}),
			fills: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "marginchain",
				Subsystem: "lending",
				Name:      "auction_fills_total",
				Help:      "Count of auction fills segmented by pricing regime.",
			}, []string{"regime"}),
			insuranceClaims: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "marginchain",
				Subsystem: "lending",
				Name:      "insurance_claims_total",
				Help:      "Count of insurance claims by asset and whether the fund covered them in full.",
			}, []string{"asset", "covered"}),
			utilisation: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: "marginchain",
				Subsystem: "lending",
				Name:      "pool_utilisation",
				Help:      "Borrow utilisation of each pool after its last accrual.",
			}, []string{"asset"}),
			blockHeight: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "marginchain",
				Subsystem: "lending",
				Name:      "block_height",
				Help:      "Height the lending engine is executing at.",
			}),
		}
		prometheus.MustRegister(
			lendingRegistry.actions,
			lendingRegistry.liquidations,
			lendingRegistry.auctionsCreated,
			lendingRegistry.auctionsFinished,
			lendingRegistry.activeAuctions,
			lendingRegistry.fills,
			lendingRegistry.insuranceClaims,
			lendingRegistry.utilisation,
			lendingRegistry.blockHeight,
		)
	})
	return lendingRegistry
}

func (m *LendingMetrics) ObserveAction(action string, err error) {
	if m == nil {
		return
	}
	action = strings.TrimSpace(action)
	if action == "" {
		action = "unknown"
	}
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	m.actions.WithLabelValues(action, outcome).Inc()
}

func (m *LendingMetrics) ObserveLiquidation(marketID uint64, auctioned bool) {
	if m == nil {
		return
	}
	m.liquidations.WithLabelValues(strconv.FormatUint(marketID, 10), strconv.FormatBool(auctioned)).Inc()
}

func (m *LendingMetrics) ObserveAuctionCreated() {
	if m == nil {
		return
	}
	m.auctionsCreated.Inc()
}

func (m *LendingMetrics) ObserveAuctionFinished() {
	if m == nil {
		return
	}
	m.auctionsFinished.Inc()
}

func (m *LendingMetrics) SetActiveAuctions(n int) {
	if m == nil {
		return
	}
	m.activeAuctions.Set(float64(n))
}

func (m *LendingMetrics) ObserveFill(regime string) {
	if m == nil {
		return
	}
	if regime == "" {
		regime = "unknown"
	}
	m.fills.WithLabelValues(regime).Inc()
}

func (m *LendingMetrics) ObserveInsuranceClaim(asset string, fullyCovered bool) {
	if m == nil {
		return
	}
	m.insuranceClaims.WithLabelValues(strings.ToUpper(strings.TrimSpace(asset)), strconv.FormatBool(fullyCovered)).Inc()
}

// SetUtilisation records utilisation as a float in [0,1].
func (m *LendingMetrics) SetUtilisation(asset string, value float64) {
	if m == nil {
		return
	}
	m.utilisation.WithLabelValues(strings.ToUpper(strings.TrimSpace(asset))).Set(value)
}

func (m *LendingMetrics) SetBlockHeight(height uint64) {
	if m == nil {
		return
	}
	m.blockHeight.Set(float64(height))
}
