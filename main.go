package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"car-watchdog/api"
	"car-watchdog/config"
	"car-watchdog/metrics"
	"car-watchdog/models"
	"car-watchdog/notify"
	"car-watchdog/observability"
	"car-watchdog/scraper"
	"car-watchdog/scraper/bazos"
	"car-watchdog/scraper/sauto"
	"car-watchdog/services"
	"car-watchdog/storage"
	"car-watchdog/utils"
)

func main() {
	cfg := config.Load()
	logger := utils.NewLogger(utils.ParseLevel(cfg.LogLevel))

	logger.Info("=== Car watchdog starting ===")
	logger.Info("Config | store: %s | bazos every %v | sauto every %v | http: %s",
		cfg.StoreDriver, cfg.BazosPollInterval, cfg.SautoPollInterval, cfg.HTTPAddr)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	metrics.Init()

	shutdownTracing, err := observability.SetupTracing(ctx, cfg.OTLPEndpoint, logger)
	if err != nil {
		logger.Error("Tracing setup failed: %v", err)
		os.Exit(1)
	}
	defer shutdownTracing()

	store, err := storage.NewSQLStore(ctx, cfg.StoreDriver, cfg.DSN())
	if err != nil {
		logger.Error("Failed to open %s store: %v", cfg.StoreDriver, err)
		if cfg.StoreDriver == storage.DriverPostgres {
			logger.Error("Make sure Docker is running: docker compose up -d")
		}
		os.Exit(1)
	}
	defer store.Close()

	var opts []services.PipelineOption
	if cfg.CSVArchivePath != "" {
		archive, err := storage.NewCSVWriter(cfg.CSVArchivePath)
		if err != nil {
			logger.Error("Failed to open CSV archive: %v", err)
			os.Exit(1)
		}
		defer archive.Close()
		opts = append(opts, services.WithArchive(archive))
		logger.Info("Archiving new listings to %s", cfg.CSVArchivePath)
	}

	var mirror notify.Mirror
	if len(cfg.KafkaBrokers) > 0 {
		producer, err := notify.NewKafkaProducer(cfg.KafkaBrokers)
		if err != nil {
			logger.Error("Failed to create Kafka producer: %v", err)
			os.Exit(1)
		}
		kafkaMirror := notify.NewKafkaMirror(producer, cfg.KafkaTopic, logger)
		defer kafkaMirror.Close()
		mirror = kafkaMirror
		logger.Info("Mirroring broadcasts to Kafka topic %s", cfg.KafkaTopic)
	}

	hub := notify.NewHub(mirror, logger)
	push := notify.NewPushChannel(store, notify.VAPIDKeys{
		PublicKey:  cfg.VAPIDPublicKey,
		PrivateKey: cfg.VAPIDPrivateKey,
		Subject:    cfg.VAPIDSubject,
	}, cfg.PushConcurrency, cfg.HTTPTimeout, logger)
	bazosRanges := make([]bazos.PriceRange, 0, len(cfg.BazosPriceRanges))
	feedChats := make(map[string]string, len(cfg.BazosPriceRanges))
	for _, r := range cfg.BazosPriceRanges {
		pr := bazos.PriceRange{From: r.From, To: r.To}
		bazosRanges = append(bazosRanges, pr)
		if r.Chat != "" {
			feedChats[pr.Feed()] = r.Chat
		}
	}

	telegram := notify.NewTelegramChannel(notify.TelegramConfig{
		Token:  cfg.TelegramToken,
		APIURL: cfg.TelegramAPIURL,
		Chats: map[models.Source]string{
			models.SourceBazos: cfg.TelegramBazosChat,
			models.SourceSauto: cfg.TelegramSautoChat,
		},
		FeedChats:  feedChats,
		Timeout:    cfg.HTTPTimeout,
		MaxRetries: cfg.MaxRetries,
	}, logger)
	fanout := notify.NewFanout(logger, hub, push, telegram)

	if _, err := push.PublicKey(); err != nil {
		logger.Warn("Web push disabled: %v", err)
	}
	if cfg.TelegramToken == "" {
		logger.Warn("Telegram disabled: TELEGRAM_BOT_TOKEN is empty")
	}

	bazosScraper, err := bazos.New(bazos.Options{
		SearchURL:     cfg.BazosURL,
		Ranges:        bazosRanges,
		UserAgent:     cfg.UserAgent,
		Timeout:       cfg.HTTPTimeout,
		RenderBrowser: cfg.BazosRenderBrowser,
		ChromeBin:     cfg.ChromeBin,
	}, logger)
	if err != nil {
		logger.Error("Invalid Bazos configuration: %v", err)
		os.Exit(1)
	}
	sautoClient := sauto.New(cfg.SautoURL, cfg.UserAgent, cfg.HTTPTimeout, logger)

	pipeline := services.NewPipeline([]scraper.Adapter{bazosScraper, sautoClient}, store, fanout, logger, opts...)
	scheduler := services.NewScheduler(pipeline, map[models.Source]time.Duration{
		models.SourceBazos: cfg.BazosPollInterval,
		models.SourceSauto: cfg.SautoPollInterval,
	}, logger)

	printInsights(ctx, store, logger)

	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           api.NewRouter(api.NewHandler(store, store, push, logger), hub, logger),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logger.Info("HTTP server listening on %s", cfg.HTTPAddr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("HTTP server failed: %v", err)
			stop()
		}
	}()

	scheduler.Start(ctx)

	<-ctx.Done()
	logger.Info("Shutting down...")

	scheduler.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP shutdown: %v", err)
	}

	logger.Info("Bye")
}

// printInsights writes a summary of the already stored data at startup.
func printInsights(ctx context.Context, store *storage.SQLStore, logger *utils.Logger) {
	now := time.Now()
	stats, err := store.Stats(ctx, time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location()))
	if err != nil {
		logger.Warn("Could not load stats: %v", err)
		return
	}
	recent, err := store.Recent(ctx, "", 500)
	if err != nil {
		logger.Warn("Could not load recent listings: %v", err)
		return
	}

	svc := services.NewInsightService(logger)
	svc.Print(os.Stdout, svc.Generate(recent, stats))
}
