package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"marketpulse/cache"
	"marketpulse/config"
	"marketpulse/ingest"
	"marketpulse/internal/channel"
	"marketpulse/logger"
	"marketpulse/reader/binance"
	"marketpulse/source"
	"marketpulse/store"
	"marketpulse/tracker"
	"marketpulse/writer"
)

func main() {
	log := logger.GetLogger()

	// Load environment variables from .env if present
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.WithError(err).Warn("Error loading .env file")
	}

	configPath := flag.String("config", "config/config.yml", "Path to configuration file")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.WithError(err).Error("Failed to load configuration")
		os.Exit(1)
	}

	if err := log.Configure(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output, cfg.Logging.MaxAge); err != nil {
		log.WithError(err).Error("Failed to configure logger")
		os.Exit(1)
	}

	log.WithFields(logger.Fields{
		"service": cfg.Marketpulse.Name,
		"version": cfg.Marketpulse.Version,
	}).Info("starting marketpulse")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.Metrics.CloudWatch {
		logger.InitCloudWatch("", cfg.Metrics.Namespace, cfg.Metrics.Namespace)
	}
	if strings.ToLower(cfg.Logging.Level) == "report" {
		logger.StartReport(ctx, log, 30*time.Second)
	}

	channels := channel.NewChannels(cfg.Channels.RawBuffer, cfg.Channels.RawBuffer)
	defer channels.Close()

	if cfg.Metrics.ChannelSize {
		channels.StartMetricsReporting(ctx, 30*time.Second)
	}

	pg, err := store.Open(ctx, cfg.Storage.Postgres)
	if err != nil {
		log.WithError(err).Error("failed to connect to postgres")
		os.Exit(1)
	}
	defer pg.Close()

	if err := pg.EnsureSchema(ctx); err != nil {
		log.WithError(err).Error("failed to ensure database schema")
		os.Exit(1)
	}

	var dashboardCache *cache.RedisCache
	if cfg.Storage.Redis.Enabled {
		dashboardCache, err = cache.NewRedisCache(ctx, cfg.Storage.Redis)
		if err != nil {
			log.WithError(err).Error("failed to connect to redis")
			os.Exit(1)
		}
		defer dashboardCache.Close()
	} else {
		log.WithComponent("main").Info("redis disabled; dashboard payload not cached")
	}

	var archive *writer.ArchiveWriter
	if cfg.Storage.Archive.Enabled {
		archive, err = writer.NewArchiveWriter(cfg.Storage.Archive)
		if err != nil {
			log.WithError(err).Error("failed to create archive writer")
			os.Exit(1)
		}
	} else {
		log.WithComponent("main").Info("archive storage disabled; skipping cold writer")
	}

	liqReader := binance.NewLiquidationReader(cfg, channels)
	tradeReader := binance.NewTradeReader(cfg, channels)

	liqTracker := tracker.NewLiquidationTracker(cfg, channels.Liquidations(), liqReader)
	tradeTracker := tracker.NewTradeTracker(cfg, channels.Trades(), tradeReader)

	opts := ingest.Options{
		Store:        pg,
		Liquidations: liqTracker,
		Trades:       tradeTracker,
	}
	if cfg.Sources.Hyperliquid.Enabled {
		opts.Market = source.NewHyperliquidClient(cfg.Sources)
	}
	if cfg.Sources.CoinGecko.Enabled {
		opts.Enrichment = source.NewCoinGeckoClient(cfg.Sources)
	}
	if cfg.Sources.Binance.Enabled {
		opts.Funding = source.NewFundingClient(cfg.Sources)
	}
	if dashboardCache != nil {
		opts.Cache = dashboardCache
	}
	if archive != nil {
		opts.Archiver = archive
	}

	ingestor, err := ingest.NewIngestor(cfg, opts)
	if err != nil {
		log.WithError(err).Error("failed to create ingestor")
		os.Exit(1)
	}

	if cfg.Streams.LiquidationStreams {
		if err := liqReader.Start(ctx); err != nil {
			log.WithError(err).Error("failed to start liquidation reader")
			os.Exit(1)
		}
	}
	if cfg.Streams.TradeStreams {
		if err := tradeReader.Start(ctx); err != nil {
			log.WithError(err).Error("failed to start trade reader")
			os.Exit(1)
		}
	}
	if err := liqTracker.Start(ctx); err != nil {
		log.WithError(err).Error("failed to start liquidation tracker")
		os.Exit(1)
	}
	if err := tradeTracker.Start(ctx); err != nil {
		log.WithError(err).Error("failed to start trade tracker")
		os.Exit(1)
	}
	if archive != nil {
		if err := archive.Start(ctx); err != nil {
			log.WithError(err).Error("failed to start archive writer")
			os.Exit(1)
		}
	}
	if err := ingestor.Start(ctx); err != nil {
		log.WithError(err).Error("failed to start ingestor")
		os.Exit(1)
	}

	log.Info("all components started successfully")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigChan
	log.WithFields(logger.Fields{"signal": sig.String()}).Info("shutdown signal received")

	log.Info("starting graceful shutdown")
	cancel()

	done := make(chan struct{})
	go func() {
		ingestor.Stop()
		if archive != nil {
			archive.Stop()
		}
		tradeTracker.Stop()
		liqTracker.Stop()
		tradeReader.Stop()
		liqReader.Stop()
		close(done)
	}()

	select {
	case <-done:
		log.Info("graceful shutdown completed")
	case <-time.After(30 * time.Second):
		log.Warn("graceful shutdown timeout exceeded")
	}

	log.Info("marketpulse stopped")
}
