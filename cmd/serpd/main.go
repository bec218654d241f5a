package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"

	"github.com/serpworks/serpd/internal/attest"
	"github.com/serpworks/serpd/internal/config"
	"github.com/serpworks/serpd/internal/engine"
	"github.com/serpworks/serpd/internal/handler"
	"github.com/serpworks/serpd/internal/ledger"
	"github.com/serpworks/serpd/internal/middleware"
	"github.com/serpworks/serpd/internal/model"
	"github.com/serpworks/serpd/internal/oracle"
	"github.com/serpworks/serpd/internal/pkg/logger"
	"github.com/serpworks/serpd/internal/registry"
	"github.com/serpworks/serpd/internal/repository"
)

func main() {
	// 1. Load Configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	logger.Init(cfg.Logging.Level)

	ctx := context.Background()

	// 2. Initialize Persistence
	// Settlement log + peg store (Postgres > Memory)
	var (
		txLog    engine.Log
		pegStore registry.Store
	)
	if cfg.Database.DSN != "" {
		db, err := repository.NewDB(cfg)
		if err == nil {
			logger.Info("Connected to PostgreSQL")
			txLog = repository.NewPostgresTxLog(db)
			pegStore = repository.NewPostgresPegStore(db)
		} else {
			logger.Error("Failed to connect to DB, settlement log will be in-memory", "error", err)
		}
	}
	if txLog == nil {
		txLog = repository.NewMemoryTxLog()
	}

	// Watermarks (Redis > Memory)
	var marks engine.WatermarkStore
	if cfg.Redis.Addr != "" {
		redisClient, err := repository.NewRedisClient(cfg)
		if err == nil {
			logger.Info("Connected to Redis")
			marks = repository.NewRedisWatermarkStore(redisClient)
		} else {
			logger.Error("Failed to connect to Redis, falling back to memory watermarks", "error", err)
		}
	}
	if marks == nil {
		marks = engine.NewMemoryWatermarks()
	}

	// 3. Initialize Core Services
	reg := registry.New(pegStore)
	if pegStore != nil {
		if err := reg.LoadFromStore(ctx); err != nil {
			log.Fatalf("Failed to load peg configs: %v", err)
		}
	}

	book := ledger.NewMemory()
	seedPegs(ctx, cfg, reg, book)

	manualSource := oracle.NewStaticSource()
	adapter := oracle.NewAdapter(
		time.Duration(cfg.Oracle.FreshnessWindowSeconds)*time.Second,
		cfg.Oracle.MaxDeviationBps,
		manualSource,
	)

	var feed *oracle.WSFeed
	if cfg.Oracle.FeedURL != "" {
		feed = oracle.NewWSFeed(cfg.Oracle.FeedURL)
		pairs := make([]model.Pair, 0)
		for _, peg := range reg.List() {
			pairs = append(pairs, peg.Pair())
		}
		feed.Subscribe(pairs)
		feed.Start()
		adapter.AddSource(feed)
	}

	settler := engine.NewSettler(book, txLog)
	if cfg.Attest.KeyHex != "" {
		attestor, err := attest.NewAttestor(cfg.Attest.KeyHex)
		if err != nil {
			log.Fatalf("Failed to load attestation key: %v", err)
		}
		settler.SetAttestor(attestor)
		logger.Info("Settlement attestation enabled", "signer", attestor.Address().Hex())
	}
	runner := engine.NewRunner(reg, adapter, settler, book, marks)
	seedRunnerHeight(ctx, runner, reg, marks)

	// 4. Initialize Handlers
	pegHandler := handler.NewPegHandler(reg)
	serpHandler := handler.NewSerpHandler(runner, txLog, manualSource)

	// 5. Setup Router
	r := gin.Default()

	r.Use(middleware.ErrorHandler())
	r.Use(middleware.MetricsMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok", "service": "serpd"})
	})

	if cfg.Metrics.Enabled {
		r.GET(cfg.Metrics.Path, gin.WrapH(promhttp.Handler()))
	}

	v1 := r.Group("/v1")
	{
		v1.GET("/pegs", pegHandler.List)
		v1.GET("/pegs/:currency", pegHandler.Get)
		v1.GET("/settlements", serpHandler.ListSettlements)
		v1.GET("/supply/:currency", serpHandler.SupplyAudit)
		v1.POST("/cycle",
			middleware.TriggerRateLimit(cfg.Engine.TriggerQPS, cfg.Engine.TriggerBurst),
			serpHandler.TriggerCycle)
	}

	admin := r.Group("/v1")
	admin.Use(
		middleware.AdminMiddleware(cfg),
		middleware.TriggerRateLimit(cfg.Engine.TriggerQPS, cfg.Engine.TriggerBurst),
	)
	{
		admin.PUT("/pegs/:currency", pegHandler.Set)
		admin.DELETE("/pegs/:currency", pegHandler.Delete)
		admin.POST("/oracle/price", serpHandler.PushPrice)
	}

	// 6. Cycle ticker
	tickerCtx, tickerCancel := context.WithCancel(ctx)
	if cfg.Engine.BlockIntervalSeconds > 0 {
		go func() {
			ticker := time.NewTicker(time.Duration(cfg.Engine.BlockIntervalSeconds) * time.Second)
			defer ticker.Stop()
			for {
				select {
				case <-tickerCtx.Done():
					return
				case <-ticker.C:
					height := runner.NextHeight()
					resp := runner.RunCycle(tickerCtx, height)
					logger.Debug("Cycle complete",
						"height", height,
						"processed", resp.Processed,
						"skipped", resp.Skipped,
						"records", len(resp.Records))
				}
			}
		}()
	}

	// 7. Start Server with Graceful Shutdown
	srv := &http.Server{
		Addr:    ":" + cfg.Server.Port,
		Handler: r,
	}

	go func() {
		logger.Info("serpd started", "port", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server listen failed: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	tickerCancel()
	if feed != nil {
		feed.Stop()
	}

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatal("Server forced to shutdown: ", err)
	}

	logger.Info("Server exiting")
}

// seedPegs bootstraps configured pegs and funds the memory ledger with their
// initial supply and reserve. Persisted configs win over seeds.
func seedPegs(ctx context.Context, cfg *config.Config, reg *registry.Registry, book *ledger.Memory) {
	for _, seed := range cfg.Pegs {
		currency := model.Currency(seed.Currency)
		if _, exists := reg.Get(currency); exists {
			continue
		}
		pegCfg, err := parseSeed(seed)
		if err != nil {
			logger.Error("Invalid peg seed, skipping", "currency", seed.Currency, "error", err)
			continue
		}
		if err := reg.Set(ctx, pegCfg); err != nil {
			logger.Error("Failed to register peg seed", "currency", seed.Currency, "error", err)
			continue
		}
		if supply, err := decimal.NewFromString(seed.InitialSupply); err == nil && supply.IsPositive() {
			_ = book.Mint(ctx, pegCfg.Currency, model.TreasuryAccountID, supply)
		}
		if reserve, err := decimal.NewFromString(seed.InitialReserve); err == nil && reserve.IsPositive() {
			_ = book.Mint(ctx, pegCfg.ReserveCurrency, model.ReserveAccountID(pegCfg.Currency), reserve)
		}
		if float, err := decimal.NewFromString(seed.TreasuryFloat); err == nil && float.IsPositive() {
			_ = book.Mint(ctx, pegCfg.ReserveCurrency, model.TreasuryAccountID, float)
		}
		logger.Info("Peg registered from seed", "currency", pegCfg.Currency)
	}
}

func parseSeed(seed config.PegSeed) (model.PegConfig, error) {
	var (
		cfg model.PegConfig
		err error
	)
	if cfg.PegPrice, err = decimal.NewFromString(seed.PegPrice); err != nil {
		return cfg, err
	}
	if cfg.ToleranceBand, err = decimal.NewFromString(seed.ToleranceBand); err != nil {
		return cfg, err
	}
	if cfg.MaxStep, err = decimal.NewFromString(seed.MaxStep); err != nil {
		return cfg, err
	}
	if cfg.ReserveRatio, err = decimal.NewFromString(seed.ReserveRatio); err != nil {
		return cfg, err
	}
	cfg.Currency = model.Currency(seed.Currency)
	cfg.ReserveCurrency = model.Currency(seed.ReserveCurrency)
	cfg.ReferenceQuote = model.Currency(seed.ReferenceQuote)
	return cfg, cfg.Validate()
}

// seedRunnerHeight fast-forwards the tick counter past any persisted
// watermark so restarts never re-issue old heights.
func seedRunnerHeight(ctx context.Context, runner *engine.Runner, reg *registry.Registry, marks engine.WatermarkStore) {
	var max uint64
	for _, peg := range reg.List() {
		last, err := marks.Last(ctx, peg.Currency)
		if err != nil {
			continue
		}
		if last > max {
			max = last
		}
	}
	runner.SeedHeight(max)
}
