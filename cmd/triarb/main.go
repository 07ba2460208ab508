package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"
	"triarb/internal/api"
	"triarb/internal/arbitrage"
	"triarb/internal/config"
	"triarb/internal/controller"
	"triarb/internal/database"
	"triarb/internal/exchange"
	"triarb/internal/execution"
	"triarb/internal/feed"
	"triarb/internal/logging"
	"triarb/internal/metrics"
	"triarb/internal/risk"
	"triarb/internal/session"
)

// streamWarmup bounds the wait for the first streamed quotes.
const streamWarmup = 30 * time.Second

type streamer interface {
	StartStream(ctx context.Context) error
}

func main() {
	configDir := flag.String("config", ".", "directory containing config.yaml")
	flag.Parse()

	// Credentials may live in a .env file next to the binary.
	_ = godotenv.Load()

	cfg, err := config.LoadConfig(*configDir)
	if err != nil {
		log.Fatalf("cannot load config: %v", err)
	}

	logger, closer, err := logging.New(cfg.Log)
	if err != nil {
		logger.Warn("Log file unavailable, logging to stdout only", "error", err)
	}

	err = run(logger, &cfg)
	if err != nil {
		logger.Error("Bot exited with error", "error", err)
	}
	_ = closer.Close()
	if err != nil {
		os.Exit(1)
	}
}

func run(logger *slog.Logger, cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	state := session.NewFromConfig(cfg.Trading, nil)
	assessor := risk.NewAssessor(cfg.Risk)
	scanner := arbitrage.NewScanner(logger, cfg.Trading.Triangles, assessor, arbitrage.NewFeeSchedule(cfg.Exchange))

	symbols := scanner.Symbols()
	if asset := cfg.Exchange.FeeDiscountAsset; asset != "" {
		symbols = append(symbols, asset+cfg.Trading.QuoteAsset)
	}
	client, err := exchange.NewClient(logger, cfg, symbols)
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	engine := execution.NewEngine(logger, client, state, cfg.Trading.QuoteAsset, cfg.Trading.StepDelay())
	ctrl := controller.New(logger, cfg, client, state, scanner, engine, m)
	engine.UsePrices(ctrl.Quotes())

	logger.Info("Starting triangular arbitrage bot",
		"exchange", client.GetName(),
		"testnet", cfg.Exchange.Testnet,
		"quote_source", cfg.Exchange.QuoteSource,
		"max_position_fraction", cfg.Trading.MaxPositionFraction,
		"min_profit", cfg.Trading.MinProfit,
		"min_profit_percent", cfg.Trading.MinProfitPercent,
		"max_daily_trades", cfg.Trading.MaxDailyTrades)
	if !cfg.Exchange.Testnet && cfg.Exchange.Name != "paper" {
		logger.Warn("LIVE TRADING: real funds at risk")
	}

	g, gctx := errgroup.WithContext(ctx)

	if s, ok := client.(streamer); ok {
		g.Go(func() error { return s.StartStream(gctx) })
		if err := awaitQuotes(gctx, client); err != nil {
			stop()
			_ = g.Wait()
			return err
		}
	}

	if err := ctrl.Verify(gctx); err != nil {
		stop()
		_ = g.Wait()
		return err
	}

	var archive api.Archive
	if cfg.Database.Enabled() {
		repo, err := database.NewPostgresRepository(gctx, cfg.Database.DSN())
		if err != nil {
			logger.Error("Outcome journal disabled, database unavailable", "error", err)
		} else {
			defer repo.Close()
			if err := repo.Migrate(gctx); err != nil {
				logger.Error("Outcome journal migration failed", "error", err)
			} else {
				ctrl.AddJournal(repo)
				archive = repo
			}
		}
	}

	if cfg.Redis.Addr != "" {
		pub := feed.NewPublisher(cfg.Redis)
		defer pub.Close()
		if err := pub.Ping(gctx); err != nil {
			logger.Error("Outcome feed disabled, redis unavailable", "error", err)
		} else {
			ctrl.AddJournal(pub)
			ctrl.AddStatusPublisher(pub)
		}
	}

	if cfg.API.Addr != "" {
		srv := api.NewServer(logger, cfg.API.Addr, ctrl, archive, reg)
		g.Go(func() error { return srv.Run(gctx) })
	}

	g.Go(func() error {
		if err := ctrl.Start(gctx); err != nil {
			return err
		}
		if cfg.API.Addr == "" || gctx.Err() != nil {
			stop()
			return nil
		}
		logger.Warn("Trading halted; API stays up for inspection until shutdown signal", "status", ctrl.Status().String())
		<-gctx.Done()
		return nil
	})

	err = g.Wait()
	logger.Info("Shutdown complete", "status", ctrl.Status().String())
	return err
}

// awaitQuotes blocks until the stream has delivered its first quotes.
func awaitQuotes(ctx context.Context, client exchange.ExchangeClient) error {
	ctx, cancel := context.WithTimeout(ctx, streamWarmup)
	defer cancel()
	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()
	for {
		if quotes, err := client.TopOfBook(ctx); err == nil && len(quotes) > 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return &exchange.TransportError{Op: "await streamed quotes", Err: ctx.Err()}
		case <-ticker.C:
		}
	}
}
