package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"tintbook/internal/api"
	"tintbook/internal/broker"
	"tintbook/internal/config"
	"tintbook/internal/database"
	"tintbook/internal/domain"
	"tintbook/internal/events"
	"tintbook/internal/google"
	"tintbook/internal/logging"
	"tintbook/internal/metrics"
	"tintbook/internal/models"
	"tintbook/internal/repository"
	"tintbook/internal/service"
	"tintbook/internal/slots"
	"tintbook/internal/worker"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v2"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("Fatal error: %v", err)
	}
}

func run() error {
	cfg, logger, closer, err := loadConfigAndLogger()
	if err != nil {
		return err
	}
	if closer != nil {
		defer (func() { _ = closer.Close() })()
	}

	if err := loadServices(cfg, &logger); err != nil {
		return err
	}

	hours, err := cfg.BusinessHours.ToBusinessHours()
	if err != nil {
		return fmt.Errorf("business hours: %w", err)
	}
	codec, err := slots.NewCodec(hours)
	if err != nil {
		return fmt.Errorf("slot codec: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := initDatabase(cfg, &logger)
	if err != nil {
		return err
	}
	defer db.Close()

	redisClient := initRedis(ctx, cfg, &logger)
	if redisClient != nil {
		defer func() { _ = repository.Close(redisClient) }()
	}

	locker, cache := initLocking(redisClient, &logger)

	mode, err := service.ParseOverlapMode(cfg.Allocation.OverlapMode)
	if err != nil {
		return err
	}
	cacheTTL := time.Duration(cfg.Allocation.CacheTTLSeconds) * time.Second

	allocator := service.NewAllocator(
		codec, db, db, locker,
		service.NewRandSource(cfg.Allocation.RandomSeed),
		cache,
		service.AllocatorOptions{
			OverlapMode: mode,
			MaxRetries:  cfg.Allocation.MaxRetries,
			LockTTL:     time.Duration(cfg.Allocation.LockTTLMs) * time.Millisecond,
			LockWait:    time.Duration(cfg.Allocation.LockWaitMs) * time.Millisecond,
			Retry: worker.RetryPolicy{
				InitialDelay: time.Duration(cfg.Allocation.RetryInitialDelay) * time.Millisecond,
				MaxDelay:     time.Duration(cfg.Allocation.RetryMaxDelay) * time.Millisecond,
			},
			CacheTTL: cacheTTL,
		},
		logging.Component(&logger, "allocator"),
	)
	aggregator := service.NewAggregator(codec, db, db, cache, mode, cacheTTL, logging.Component(&logger, "availability"))
	catalog := service.NewCatalog(cfg.Services, hours.DefaultJobHours)
	staffService := service.NewStaffService(db, logging.Component(&logger, "staff"))

	if err := staffService.SeedStaff(ctx, cfg.Staff); err != nil {
		return fmt.Errorf("seed staff: %w", err)
	}

	eventBus := events.NewEventBus()
	bookingService := service.NewBookingService(allocator, db, catalog, eventBus, logging.Component(&logger, "booking"))

	var wg sync.WaitGroup
	startBackground(ctx, &wg, cfg, db, bookingService, eventBus, redisClient, &logger)

	if !cfg.API.Enabled {
		logger.Warn().Msg("API is disabled in config, but starting API application. Check your config.")
	}

	limiter := api.NewRateLimiter(cfg.API.RateLimit)
	grpcServer, err := api.NewGRPCServer(cfg.API, aggregator, limiter, nil, &logger)
	if err != nil {
		logger.Error().Err(err).Msg("create grpc server")
		return err
	}

	httpServer := api.NewHTTPServer(cfg.API, api.HTTPDeps{
		Availability: aggregator,
		Bookings:     bookingService,
		Staff:        staffService,
		Codec:        codec,
		Limiter:      limiter,
		Logger:       &logger,
	})

	startMetrics(ctx, cfg, &logger)

	err = startServers(ctx, grpcServer, httpServer, cfg, &logger)
	wg.Wait()
	return err
}

func loadConfigAndLogger() (*config.Config, zerolog.Logger, io.Closer, error) {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "configs/config.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, zerolog.Logger{}, nil, fmt.Errorf("load config: %w", err)
	}

	baseLogger, closer, err := logging.New(cfg.Logging, cfg.App)
	if err != nil {
		return nil, zerolog.Logger{}, nil, fmt.Errorf("init logger: %w", err)
	}
	logger := baseLogger.With().Str("component", "api-main").Logger()

	return cfg, logger, closer, nil
}

// loadServices replaces the config catalog with configs/services.yaml when present.
func loadServices(cfg *config.Config, logger *zerolog.Logger) error {
	servicesPath := os.Getenv("SERVICES_PATH")
	if servicesPath == "" {
		servicesPath = "configs/services.yaml"
	}
	data, err := os.ReadFile(servicesPath)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		logger.Error().Err(err).Str("services_path", servicesPath).Msg("read services")
		return err
	}

	var servicesConfig struct {
		Services []models.Service `yaml:"services"`
	}
	if err := yaml.Unmarshal(data, &servicesConfig); err != nil {
		logger.Error().Err(err).Str("services_path", servicesPath).Msg("parse services")
		return err
	}
	if err := config.ValidateServices(servicesConfig.Services); err != nil {
		return fmt.Errorf("%s: %w", servicesPath, err)
	}
	if len(servicesConfig.Services) > 0 {
		cfg.Services = servicesConfig.Services
	}
	logger.Info().Int("services", len(cfg.Services)).Msg("service catalog loaded")
	return nil
}

func initDatabase(cfg *config.Config, logger *zerolog.Logger) (*database.DB, error) {
	db, err := database.NewDB(cfg.Database.Path, logging.Component(logger, "database"))
	if err != nil {
		logger.Error().Err(err).Str("db_path", cfg.Database.Path).Msg("init database")
		return nil, err
	}
	return db, nil
}

func initRedis(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) *redis.Client {
	if cfg.Redis.Address == "" {
		return nil
	}

	redisClient := repository.NewRedisClient(cfg.Redis)
	if err := repository.Ping(ctx, redisClient); err != nil {
		logger.Warn().Err(err).Msg("redis connection failed, continuing without redis")
		_ = redisClient.Close()
		return nil
	}

	logger.Info().Str("addr", cfg.Redis.Address).Msg("redis connected")
	return redisClient
}

func initLocking(redisClient *redis.Client, logger *zerolog.Logger) (domain.Locker, domain.AvailabilityCache) {
	memoryLocker := repository.NewMemoryLocker()
	if redisClient == nil {
		return memoryLocker, repository.NewMemoryAvailabilityCache()
	}
	repoLogger := logging.Component(logger, "repository")
	locker := repository.NewFailoverLocker(repository.NewRedisLocker(redisClient, repoLogger), memoryLocker, repoLogger)
	return locker, repository.NewRedisAvailabilityCache(redisClient, repoLogger)
}

func startBackground(
	ctx context.Context,
	wg *sync.WaitGroup,
	cfg *config.Config,
	db *database.DB,
	bookings *service.BookingService,
	bus *events.EventBus,
	redisClient *redis.Client,
	logger *zerolog.Logger,
) {
	backup := database.NewBackupService(db, cfg.Database.Path, cfg.Backup, logging.Component(logger, "backup"))
	wg.Add(1)
	go func() {
		defer wg.Done()
		backup.Start(ctx)
	}()

	if cfg.Notifications.Enabled {
		notifier := initNotifier(cfg, db, bookings, redisClient, logger)
		notifier.Subscribe(bus)
		wg.Add(1)
		go func() {
			defer wg.Done()
			notifier.Start(ctx)
		}()
	}

	if cfg.Kafka.Enabled {
		writer, err := broker.NewKafkaWriter(cfg.Kafka)
		if err != nil {
			logger.Warn().Err(err).Msg("kafka init failed, continuing without event stream")
			return
		}
		forwarder := broker.NewKafkaForwarder(writer, 0, logging.Component(logger, "kafka"))
		forwarder.Subscribe(bus)
		wg.Add(1)
		go func() {
			defer wg.Done()
			forwarder.Run(ctx)
		}()
	}
}

func initNotifier(
	cfg *config.Config,
	db *database.DB,
	bookings *service.BookingService,
	redisClient *redis.Client,
	logger *zerolog.Logger,
) *worker.NotificationWorker {
	workerLogger := logging.Component(logger, "notifications")

	var messenger worker.Sender = worker.NewLogSender(workerLogger)
	if cfg.Telegram.BotToken != "" && cfg.Telegram.ChatID != 0 {
		bot, err := tgbotapi.NewBotAPI(cfg.Telegram.BotToken)
		if err != nil {
			logger.Warn().Err(err).Msg("telegram init failed, notifications go to the log")
		} else {
			bot.Debug = cfg.Telegram.Debug
			messenger = worker.NewTelegramSender(bot, cfg.Telegram.ChatID)
			logger.Info().Str("bot", bot.Self.UserName).Msg("telegram connected")
		}
	}

	var sheetsSender worker.Sender
	if sheet := initGoogleSheets(cfg, logger); sheet != nil {
		sheetsSender = worker.NewSheetsSender(sheet)
	}

	loc := time.Local
	if cfg.App.Timezone != "" {
		if l, err := time.LoadLocation(cfg.App.Timezone); err == nil {
			loc = l
		} else {
			logger.Warn().Err(err).Str("timezone", cfg.App.Timezone).Msg("unknown timezone, using local")
		}
	}

	return worker.NewNotificationWorker(
		db,
		bookings,
		messenger,
		sheetsSender,
		redisClient,
		worker.RetryPolicy{MaxRetries: cfg.Notifications.MaxRetries},
		worker.NotificationOptions{
			ReminderLead: time.Duration(cfg.Notifications.ReminderLeadMinutes) * time.Minute,
			PollInterval: time.Duration(cfg.Notifications.PollIntervalSeconds) * time.Second,
			Location:     loc,
		},
		workerLogger,
	)
}

func initGoogleSheets(cfg *config.Config, logger *zerolog.Logger) *google.AppointmentSheet {
	if cfg.Google.GoogleCredentialsFile == "" || cfg.Google.AppointmentsSpreadsheetID == "" {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	sheet, err := google.NewAppointmentSheet(ctx, cfg.Google)
	if err != nil {
		logger.Warn().Err(err).Msg("google sheets init failed, continuing without sheets")
		return nil
	}
	if err := sheet.WarmUpCache(ctx); err != nil {
		logger.Warn().Err(err).Msg("google sheets warm up failed")
	}

	logger.Info().Msg("google sheets connected")
	return sheet
}

func startMetrics(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) {
	if !cfg.Monitoring.PrometheusEnabled {
		return
	}

	metrics.Register()
	port := cfg.Monitoring.PrometheusPort
	if port == 0 {
		port = 9090
	}
	go startMetricsServer(ctx, port, logger)
}

func startServers(
	ctx context.Context,
	grpcServer *api.GRPCServer,
	httpServer *api.HTTPServer,
	cfg *config.Config,
	logger *zerolog.Logger,
) error {
	go func() {
		if !cfg.API.GRPC.Enabled {
			return
		}
		if err := grpcServer.Serve(); err != nil {
			logger.Error().Err(err).Msg("grpc server stopped")
		}
	}()

	go func() {
		if !cfg.API.HTTP.Enabled {
			return
		}
		if err := httpServer.Start(); err != nil {
			logger.Error().Err(err).Msg("http server stopped")
		}
	}()

	logger.Info().Str("grpc_addr", grpcServer.Addr()).Int("http_port", cfg.API.HTTP.Port).Msg("API server started")

	<-ctx.Done()
	logger.Info().Msg("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	grpcServer.Shutdown(shutdownCtx)
	_ = httpServer.Shutdown(shutdownCtx)

	logger.Info().Msg("API server stopped")
	return nil
}

func startMetricsServer(ctx context.Context, port int, logger *zerolog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctxShutdown)
	}()
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error().Err(err).Msg("metrics server error")
	}
}
