// Package server exposes the lending engine over HTTP. Mutating calls act on
// behalf of the address in the X-Caller header, which an upstream signature
// layer is trusted to have authenticated. Admin routes require an HS256
// bearer token carrying the lending-admin role.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"

	"marginchain/core/fixed"
	nativecommon "marginchain/native/common"
	"marginchain/native/lending"
	telemetry "marginchain/observability/otel"
	"marginchain/services/lendingd/indexer"
)

const (
	// CallerHeader names the acting principal of a mutating request.
	CallerHeader = "X-Caller"

	requestLimit = 1 << 20 // 1 MiB
)

// PriceSetter publishes oracle quotes. *oracle.Writer satisfies it.
type PriceSetter interface {
	Set(asset string, price fixed.Dec, source string) error
}

// History serves indexed events. *indexer.Indexer satisfies it.
type History interface {
	Events(ctx context.Context, filter indexer.EventFilter) ([]indexer.EventRecord, error)
	Auction(ctx context.Context, id uint64) (*indexer.AuctionRecord, error)
}

// Config wires the server. Prices, Pauses, History and Stream are optional;
// their routes answer 501 when unset.
type Config struct {
	Engine    *lending.Engine
	Prices    PriceSetter
	Pauses    *nativecommon.Pauses
	History   History
	Stream    http.Handler
	Auth      AuthConfig
	RateLimit RateLimit
	Logger    *slog.Logger
	// Tracing wraps the router with otelhttp.
	Tracing bool
}

// Server holds the HTTP handlers.
type Server struct {
	engine  *lending.Engine
	prices  PriceSetter
	pauses  *nativecommon.Pauses
	history History
	stream  http.Handler
	auth    *authenticator
	limiter *rateLimiter
	logger  *slog.Logger
	tracing bool
	calls   metric.Int64Counter
}

// New validates cfg and builds a server.
func New(cfg Config) (*Server, error) {
	if cfg.Engine == nil {
		return nil, errors.New("server: engine required")
	}
	if strings.TrimSpace(cfg.Auth.HMACSecret) == "" {
		return nil, errors.New("server: admin secret required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "http")
	calls, err := telemetry.Meter().Int64Counter("lending.calls",
		metric.WithDescription("Engine calls made through the HTTP API by action and outcome."))
	if err != nil {
		return nil, fmt.Errorf("server: register call counter: %w", err)
	}
	return &Server{
		engine:  cfg.Engine,
		prices:  cfg.Prices,
		pauses:  cfg.Pauses,
		history: cfg.History,
		stream:  cfg.Stream,
		auth:    newAuthenticator(cfg.Auth, logger),
		limiter: newRateLimiter(cfg.RateLimit),
		logger:  logger,
		tracing: cfg.Tracing,
		calls:   calls,
	}, nil
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(s.observe)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())
	if s.stream != nil {
		r.Handle("/v1/stream", s.stream)
	}

	r.Route("/v1", func(v1 chi.Router) {
		v1.Use(s.limiter.middleware)

		v1.Get("/status", s.status)
		v1.Get("/assets", s.listAssets)
		v1.Get("/markets", s.listMarkets)
		v1.Get("/markets/{marketID}", s.getMarket)
		v1.Get("/pools/{asset}", s.getPool)
		v1.Get("/pools/{asset}/rates", s.getRates)
		v1.Get("/pools/{asset}/suppliers/{user}", s.getSupplyOf)
		v1.Get("/insurance/{asset}", s.getInsurance)
		v1.Get("/wallets/{user}/{asset}", s.getWalletBalance)
		v1.Get("/accounts/{user}/{marketID}", s.getAccount)
		v1.Get("/accounts/{user}/{marketID}/balances/{asset}", s.getAccountBalance)
		v1.Get("/accounts/{user}/{marketID}/debt/{asset}", s.getDebt)
		v1.Get("/auctions", s.listActiveAuctions)
		v1.Get("/auctions/{auctionID}", s.getAuction)
		v1.Get("/history/events", s.listEvents)
		v1.Get("/history/auctions/{auctionID}", s.getAuctionHistory)

		v1.Post("/wallet/withdraw", s.withdrawWallet)
		v1.Post("/supply", s.supply)
		v1.Post("/withdraw", s.withdraw)
		v1.Post("/borrow", s.borrow)
		v1.Post("/repay", s.repay)
		v1.Post("/collateral/deposit", s.depositCollateral)
		v1.Post("/collateral/withdraw", s.withdrawCollateral)
		v1.Post("/liquidate", s.liquidate)
		v1.Post("/liquidate/batch", s.liquidateBatch)
		v1.Post("/auctions/{auctionID}/fill", s.fillAuction)
		v1.Post("/insurance/fund", s.fundInsurance)

		v1.Route("/admin", func(admin chi.Router) {
			admin.Use(s.auth.middleware)
			admin.Post("/assets", s.listAsset)
			admin.Post("/markets", s.createMarket)
			admin.Post("/prices", s.setPrice)
			admin.Post("/pauses", s.setPause)
			admin.Post("/deposits", s.deposit)
		})
	})

	if s.tracing {
		return otelhttp.NewHandler(r, "lendingd")
	}
	return r
}

// Run sweeps idle rate limiter entries until ctx ends.
func (s *Server) Run(ctx context.Context) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.limiter.sweep()
		}
	}
}

// traced runs one engine call inside a span named after action and counts
// its outcome.
func (s *Server) traced(r *http.Request, action string, caller common.Address, call func() error) error {
	ctx, span := telemetry.Tracer().Start(r.Context(), "lending."+action)
	defer span.End()
	span.SetAttributes(
		attribute.String("lending.action", action),
		attribute.String("lending.caller", addr(caller)),
	)
	err := call()
	outcome := "ok"
	if err != nil {
		outcome = "error"
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	s.calls.Add(ctx, 1, metric.WithAttributes(
		attribute.String("action", action),
		attribute.String("outcome", outcome),
	))
	return err
}

func callerFrom(r *http.Request) (common.Address, error) {
	raw := strings.TrimSpace(r.Header.Get(CallerHeader))
	if raw == "" {
		return common.Address{}, fmt.Errorf("%s header required", CallerHeader)
	}
	return parseAddress(raw)
}

func parseAddress(raw string) (common.Address, error) {
	raw = strings.TrimSpace(raw)
	if !common.IsHexAddress(raw) {
		return common.Address{}, fmt.Errorf("invalid address %q", raw)
	}
	return common.HexToAddress(raw), nil
}

func decodeRequest(r *http.Request, dst any) error {
	if r.Body == nil {
		return errors.New("missing request body")
	}
	defer r.Body.Close()

	decoder := json.NewDecoder(io.LimitReader(r.Body, requestLimit))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is empty")
		}
		return fmt.Errorf("decode request: %w", err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, fmt.Errorf("marshal response: %w", err))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

func writeBadRequest(w http.ResponseWriter, err error) {
	writeJSONError(w, http.StatusBadRequest, err)
}

func writeJSONError(w http.ResponseWriter, status int, err error) {
	message := http.StatusText(status)
	if err != nil {
		if trimmed := strings.TrimSpace(err.Error()); trimmed != "" {
			message = trimmed
		}
	}
	data, marshalErr := json.Marshal(map[string]string{"error": message})
	if marshalErr != nil {
		data = []byte(`{"error":"` + http.StatusText(status) + `"}`)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

// writeEngineError maps engine error classes onto HTTP statuses.
func writeEngineError(w http.ResponseWriter, err error) {
	writeJSONError(w, engineStatus(err), err)
}

func engineStatus(err error) int {
	switch {
	case errors.Is(err, lending.ErrNotLiquidatable):
		return http.StatusConflict
	case errors.Is(err, lending.ErrUnknownMarket),
		errors.Is(err, lending.ErrUnknownAsset),
		errors.Is(err, lending.ErrUnknownAuction):
		return http.StatusNotFound
	case errors.Is(err, lending.ErrPaused):
		return http.StatusServiceUnavailable
	case errors.Is(err, lending.ErrValidation):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}
