package main

import (
	"context"
	"crypto/tls"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"marginchain/config"
	"marginchain/core/events"
	"marginchain/core/state"
	nativecommon "marginchain/native/common"
	"marginchain/native/bank"
	"marginchain/native/lending"
	"marginchain/native/oracle"
	"marginchain/observability/logging"
	"marginchain/observability/metrics"
	telemetry "marginchain/observability/otel"
	lendingdconfig "marginchain/services/lendingd/config"
	"marginchain/services/lendingd/indexer"
	"marginchain/services/lendingd/publisher"
	"marginchain/services/lendingd/server"
	"marginchain/services/lendingd/stream"
	"marginchain/storage"
)

func main() {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "services/lendingd/config.yaml", "path to lendingd config")
	flag.Parse()

	cfg, err := lendingdconfig.Load(cfgPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logger := logging.SetupWithOptions(logging.Options{
		Service:    "lendingd",
		Env:        cfg.Log.Env,
		Level:      cfg.Log.Level,
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
	})

	shutdownTelemetry, err := telemetry.Init(context.Background(), telemetry.Config{
		ServiceName: "lendingd",
		Environment: cfg.Log.Env,
		Endpoint:    cfg.Telemetry.Endpoint,
		Insecure:    cfg.Telemetry.Insecure,
		Headers:     telemetry.ParseHeaders(cfg.Telemetry.Headers),
		Metrics:     cfg.Telemetry.Metrics,
		Traces:      cfg.Telemetry.Traces,
		SampleRatio: cfg.Telemetry.SampleRatio,
	})
	if err != nil {
		log.Fatalf("init telemetry: %v", err)
	}
	defer func() {
		_ = shutdownTelemetry(context.Background())
	}()

	if err := run(cfg, logger); err != nil {
		logger.Error("lendingd stopped", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(cfg lendingdconfig.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := openDatabase(cfg.Storage)
	if err != nil {
		return err
	}
	defer db.Close()
	mgr := state.NewManager(db)

	genesis, err := config.Load(cfg.Genesis)
	if err != nil {
		return fmt.Errorf("load genesis: %w", err)
	}

	pauses := nativecommon.NewPauses()
	engine := lending.NewEngine(genesis.Params())
	engine.SetState(mgr)
	engine.SetLedger(func(store state.KVStore) lending.Ledger { return bank.NewLedger(store) })
	maxAge := genesis.Oracle.MaxAgeBlocks
	engine.SetPriceSource(func(store state.KVStore, height uint64) lending.PriceSource {
		return oracle.NewFeed(store, maxAge, height)
	})
	engine.SetPauses(pauses)
	engine.SetLogger(logger)
	engine.SetMetrics(metrics.Lending())
	engine.SetBlockHeight(genesis.StartHeight)

	// Sinks drain on cancellation; wait for them before closing their
	// backends.
	var (
		workers sync.WaitGroup
		closers []func()
	)
	defer func() {
		stop()
		workers.Wait()
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}()

	hub := stream.NewHub(0)
	sinks := events.Fanout{hub}

	var history server.History
	if cfg.Indexer.DSN != "" {
		gdb, err := indexer.Open(cfg.Indexer.Driver, cfg.Indexer.DSN)
		if err != nil {
			return fmt.Errorf("open indexer: %w", err)
		}
		if sqlDB, err := gdb.DB(); err == nil {
			closers = append(closers, func() { _ = sqlDB.Close() })
		}
		ix, err := indexer.New(gdb, logger)
		if err != nil {
			return fmt.Errorf("start indexer: %w", err)
		}
		closers = append(closers, ix.Close)
		workers.Add(1)
		go func() {
			defer workers.Done()
			ix.Run(ctx)
		}()
		sinks = append(sinks, ix)
		history = ix
		logger.Info("event indexer enabled",
			slog.String("driver", cfg.Indexer.Driver),
			logging.MaskField("dsn", cfg.Indexer.DSN))
	}

	if cfg.Redis.Addr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		closers = append(closers, func() { _ = client.Close() })
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := client.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			return fmt.Errorf("connect redis %s: %w", cfg.Redis.Addr, err)
		}
		pub := publisher.New(client, publisher.Config{
			Channel:   cfg.Redis.Channel,
			Stream:    cfg.Redis.Stream,
			StreamLen: cfg.Redis.StreamLen,
		}, logger)
		closers = append(closers, pub.Close)
		workers.Add(1)
		go func() {
			defer workers.Done()
			pub.Run(ctx)
		}()
		sinks = append(sinks, pub)
	}
	engine.SetEmitter(sinks)

	prices := oracle.NewWriter(mgr, engine.BlockHeight)
	if err := genesis.Apply(engine, prices); err != nil {
		return fmt.Errorf("apply genesis: %w", err)
	}

	srv, err := server.New(server.Config{
		Engine:  engine,
		Prices:  prices,
		Pauses:  pauses,
		History: history,
		Stream:  hub,
		Auth: server.AuthConfig{
			HMACSecret: cfg.Auth.JWTSecret,
			Issuer:     cfg.Auth.Issuer,
			Audience:   cfg.Auth.Audience,
			Leeway:     cfg.Auth.Leeway,
		},
		RateLimit: server.RateLimit{
			PerSecond: cfg.RateLimit.RatePerSecond,
			Burst:     cfg.RateLimit.Burst,
			IdleTTL:   cfg.RateLimit.IdleTTL,

			TrustProxyHeaders: cfg.RateLimit.TrustProxyHeaders,
		},
		Logger:  logger,
		Tracing: cfg.Telemetry.Traces,
	})
	if err != nil {
		return err
	}
	go srv.Run(ctx)
	go advanceHeight(ctx, engine, cfg.BlockInterval)

	listener, err := net.Listen("tcp", cfg.ListenAddress)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", cfg.ListenAddress, err)
	}
	if !cfg.TLS.Enabled() {
		tcpAddr, _ := listener.Addr().(*net.TCPAddr)
		loopback := tcpAddr != nil && tcpAddr.IP != nil && tcpAddr.IP.IsLoopback()
		if !strings.EqualFold(cfg.Log.Env, "dev") && !loopback {
			_ = listener.Close()
			return errors.New("plaintext lendingd mode is restricted to loopback listeners or dev environment")
		}
	}

	httpServer := &http.Server{
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	serverErr := make(chan error, 1)
	go func() {
		logger.Info("lendingd listening",
			slog.String("address", cfg.ListenAddress),
			slog.Bool("tls", cfg.TLS.Enabled()),
			slog.Uint64("height", engine.BlockHeight()))
		if cfg.TLS.Enabled() {
			httpServer.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
			serverErr <- httpServer.ServeTLS(listener, cfg.TLS.CertPath, cfg.TLS.KeyPath)
			return
		}
		serverErr <- httpServer.Serve(listener)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn("forcing server stop", slog.Any("error", err))
			_ = httpServer.Close()
		}
		return nil
	case err := <-serverErr:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve http: %w", err)
	}
}

func openDatabase(cfg lendingdconfig.StorageConfig) (storage.Database, error) {
	switch cfg.Backend {
	case lendingdconfig.BackendMemory:
		return storage.NewMemDB(), nil
	case lendingdconfig.BackendBolt:
		if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
		db, err := storage.NewBoltDB(cfg.Path, nil)
		if err != nil {
			return nil, fmt.Errorf("open bolt store: %w", err)
		}
		return db, nil
	default:
		db, err := storage.NewLevelDB(cfg.Path)
		if err != nil {
			return nil, fmt.Errorf("open leveldb store: %w", err)
		}
		return db, nil
	}
}

// advanceHeight moves the engine one block forward per interval.
func advanceHeight(ctx context.Context, engine *lending.Engine, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			engine.SetBlockHeight(engine.BlockHeight() + 1)
		}
	}
}
