// Package main runs the live storefront monitor: it binds the inventory,
// drops, overview and wallet dashboards to the realtime feed and serves
// their state and Prometheus metrics over HTTP.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"storefront-live/internal/cache"
	"storefront-live/internal/config"
	"storefront-live/internal/dashboard"
	"storefront-live/internal/invalidation"
	"storefront-live/internal/observability"
	"storefront-live/internal/realtime"
	"storefront-live/internal/storage"
	"storefront-live/internal/storage/memory"
	"storefront-live/internal/storage/migrations"
	pgstore "storefront-live/internal/storage/postgres"
	"storefront-live/internal/transport"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		configPath  string
		envFile     string
		wsURL       string
		postgresDSN string
		userID      string
		useMemory   bool
		metricsAddr string
		logLevel    string
	)

	flagSet := pflag.NewFlagSet("monitor", pflag.ContinueOnError)
	flagSet.StringVarP(&configPath, "config", "c", "", "path to YAML config file")
	flagSet.StringVar(&envFile, "env-file", ".env", "KEY=VALUE file loaded into the environment")
	flagSet.StringVar(&wsURL, "ws-url", "", "realtime websocket endpoint")
	flagSet.StringVar(&postgresDSN, "postgres-dsn", "", "PostgreSQL connection string for persisted state")
	flagSet.StringVar(&userID, "user-id", "", "user whose wallet and profile are tracked")
	flagSet.BoolVar(&useMemory, "use-memory", false, "keep state in memory even if a DSN is configured")
	flagSet.StringVar(&metricsAddr, "metrics-addr", "", "HTTP address for /metrics, /status and /health")
	flagSet.StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error)")

	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	if err := config.LoadEnvFile(envFile); err != nil {
		return fmt.Errorf("load env file: %w", err)
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	// Flags win over file and environment.
	if flagSet.Changed("ws-url") {
		cfg.Transport.URL = wsURL
	}
	if flagSet.Changed("postgres-dsn") {
		cfg.Storage.PostgresDSN = postgresDSN
	}
	if flagSet.Changed("user-id") {
		cfg.Profile.UserID = userID
	}
	if flagSet.Changed("metrics-addr") {
		cfg.Metrics.Addr = metricsAddr
	}
	if flagSet.Changed("log-level") {
		cfg.Log.Level = logLevel
	}
	if useMemory {
		cfg.Storage.PostgresDSN = ""
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger := cfg.NewLogger(os.Stderr)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, cleanup, err := createStore(ctx, cfg.Storage.PostgresDSN, logger)
	if err != nil {
		return err
	}
	defer cleanup()

	m := newMonitor(cfg, store, logger)
	return m.Run(ctx)
}

// createStore opens the Postgres state store, or an in-memory one when dsn
// is empty.
func createStore(ctx context.Context, dsn string, logger *slog.Logger) (storage.StateStore, func(), error) {
	if dsn == "" {
		logger.Info("using in-memory state store")
		return memory.NewStateStore(), func() {}, nil
	}

	pool, err := pgstore.NewPool(ctx, dsn)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to postgres: %w", err)
	}
	if err := migrations.RunPostgresMigrations(ctx, pool); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("migrate postgres: %w", err)
	}
	logger.Info("using postgres state store")
	return pgstore.NewStateStore(pool), pool.Close, nil
}

// monitor holds the dashboards and the connection they share.
type monitor struct {
	cfg    config.Config
	logger *slog.Logger

	cache    *cache.QueryCache
	client   *realtime.Client
	poller   *realtime.ProfilePoller
	inv      *dashboard.Inventory
	drops    *dashboard.Drops
	overview *dashboard.Overview
	wallet   *dashboard.Wallet
}

func newMonitor(cfg config.Config, store storage.StateStore, logger *slog.Logger) *monitor {
	qc := cache.New(cfg.CacheConfig(), cache.WithLogger(logger))
	client := realtime.New(cfg.ClientConfig(), cfg.Dialer(),
		realtime.WithLogger(logger),
		realtime.WithCache(qc, invalidation.DefaultTable()))

	m := &monitor{
		cfg:      cfg,
		logger:   logger.With("component", "monitor"),
		cache:    qc,
		client:   client,
		inv:      dashboard.NewInventory(cfg.Dashboards.LowStockThreshold),
		drops:    dashboard.NewDrops(),
		overview: dashboard.NewOverview(cfg.Dashboards.TrendBucket),
	}
	if uid := cfg.Profile.UserID; uid != "" {
		m.wallet = dashboard.NewWallet(store, uid, logger)
		m.poller = realtime.NewProfilePoller(client, uid, cfg.Profile.PollInterval)
	}

	// Stand-ins for the REST layer: with no HTTP backend in this binary the
	// stats and alert fetchers re-read the local reducers, and the profile
	// fetcher reads the wallet balance store.
	qc.Register(invalidation.KeyDashboardStats, func(context.Context) (any, error) {
		return m.overview.Snapshot().Metrics, nil
	})
	qc.Register(invalidation.KeyInventoryAlert, func(context.Context) (any, error) {
		return m.inv.Snapshot().Alerts, nil
	})
	if m.wallet != nil {
		qc.Register(invalidation.KeyProfile, func(ctx context.Context) (any, error) {
			coins, err := m.wallet.Balance(ctx)
			return coins, err
		})
	}
	return m
}

// Run binds the dashboards and blocks until ctx is cancelled.
func (m *monitor) Run(ctx context.Context) error {
	defer m.client.Close()

	bindings := []realtime.Options{m.inv.Options(), m.drops.Options(), m.overview.Options()}
	if m.wallet != nil {
		bindings = append(bindings, m.wallet.Options())
	}
	for _, opts := range bindings {
		if _, err := m.client.Bind(ctx, opts); err != nil {
			return fmt.Errorf("bind dashboard: %w", err)
		}
	}

	cancelWatch := m.client.Watch(func(st transport.Status) {
		if st.State == transport.Failed {
			m.logger.Error("realtime connection failed, restart required", "err", st.LastError)
		}
	})
	defer cancelWatch()

	m.cache.Start()
	defer m.cache.Stop()
	if m.poller != nil {
		m.poller.Start()
		defer m.poller.Stop()
	}

	srv := &http.Server{Addr: m.cfg.Metrics.Addr, Handler: m.routes()}
	go func() {
		m.logger.Info("starting HTTP server", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			m.logger.Error("HTTP server error", "err", err)
		}
	}()

	trend := time.NewTicker(m.cfg.Dashboards.TrendBucket)
	defer trend.Stop()
	var snapshots <-chan time.Time
	if iv := m.cfg.Dashboards.SnapshotInterval; iv > 0 {
		t := time.NewTicker(iv)
		defer t.Stop()
		snapshots = t.C
	}

	for {
		select {
		case <-ctx.Done():
			m.logger.Info("shutting down")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		case now := <-trend.C:
			m.overview.Tick(now)
		case <-snapshots:
			m.logSnapshot()
		}
	}
}

func (m *monitor) logSnapshot() {
	st := m.client.Status()
	inv := m.inv.Snapshot()
	drops := m.drops.Snapshot()
	ov := m.overview.Snapshot()
	m.logger.Info("dashboard snapshot",
		"state", st.State,
		"subscriptions", len(m.client.Subscriptions()),
		"products", inv.Metrics.Get(dashboard.MetricTotalProducts),
		"low_stock", len(inv.Alerts),
		"active_drops", drops.Metrics.Get(dashboard.MetricActiveDrops),
		"orders", ov.Metrics.Get(dashboard.MetricOrders),
		"revenue", ov.Metrics.Get(dashboard.MetricRevenue),
		"conversion", ov.Metrics.Get(dashboard.MetricConversion))
}

func (m *monitor) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.Handle("/metrics", observability.Handler())
	mux.HandleFunc("/status", m.handleStatus)
	return mux
}

type connectionStatus struct {
	State      string `json:"state"`
	Connected  bool   `json:"connected"`
	Attempt    int    `json:"attempt"`
	Generation uint64 `json:"generation"`
	Error      string `json:"error,omitempty"`
}

type statusResponse struct {
	Connection    connectionStatus            `json:"connection"`
	Subscriptions []string                    `json:"subscriptions"`
	Inventory     dashboard.InventorySnapshot `json:"inventory"`
	Drops         dashboard.DropsSnapshot     `json:"drops"`
	Overview      dashboard.OverviewSnapshot  `json:"overview"`
	Coins         *int64                      `json:"coins,omitempty"`
}

func (m *monitor) handleStatus(w http.ResponseWriter, r *http.Request) {
	st := m.client.Status()
	resp := statusResponse{
		Connection: connectionStatus{
			State:      st.State.String(),
			Connected:  st.Connected,
			Attempt:    st.Attempt,
			Generation: st.Generation,
		},
		Inventory:  m.inv.Snapshot(),
		Drops:      m.drops.Snapshot(),
		Overview:   m.overview.Snapshot(),
	}
	if st.LastError != nil {
		resp.Connection.Error = st.LastError.Error()
	}
	for _, k := range m.client.Subscriptions() {
		resp.Subscriptions = append(resp.Subscriptions, k.String())
	}
	if m.wallet != nil {
		if coins, err := m.wallet.Balance(r.Context()); err == nil {
			resp.Coins = &coins
		}
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		m.logger.Warn("encode status", "err", err)
	}
}
