package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/Spok95/school-transport/internal/api"
	"github.com/Spok95/school-transport/internal/auth"
	"github.com/Spok95/school-transport/internal/checkout"
	"github.com/Spok95/school-transport/internal/config"
	"github.com/Spok95/school-transport/internal/db"
	"github.com/Spok95/school-transport/internal/enrollment"
	"github.com/Spok95/school-transport/internal/eta"
	"github.com/Spok95/school-transport/internal/jobs"
	"github.com/Spok95/school-transport/internal/livelocation"
	"github.com/Spok95/school-transport/internal/logging"
	"github.com/Spok95/school-transport/internal/notify"
	"github.com/Spok95/school-transport/internal/notify/channels"
	"github.com/Spok95/school-transport/internal/observability"
	"github.com/Spok95/school-transport/internal/tracking"
)

var release = "dev"

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("Не удалось загрузить .env файл, используем переменные окружения")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if err := run(cfg); err != nil {
		os.Exit(1)
	}
}

// run держит все defer: при ошибке старта логгер и sentry успевают сброситься до выхода.
func run(cfg *config.Config) error {
	lg, err := logging.Init(cfg.LogLevel, cfg.Env)
	if err != nil {
		log.Printf("logger: %v", err)
		return err
	}
	defer lg.Closer()
	zap.ReplaceGlobals(lg.Base)
	logger := lg.Base
	if fb := cfg.UsingFallbacks(); len(fb) > 0 {
		logger.Warn("dev fallbacks in use", zap.Strings("keys", fb))
	}

	flush, err := observability.InitSentry(cfg.SentryDSN, cfg.Env, release)
	if err != nil {
		logger.Warn("sentry init failed", zap.Error(err))
	}
	defer flush()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	database, err := db.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("db open", zap.Error(err))
		observability.CaptureErr(err)
		return err
	}
	defer func() { _ = database.Close() }()
	if err := db.Migrate(ctx, database); err != nil {
		logger.Error("migrations", zap.Error(err))
		observability.CaptureErr(err)
		return err
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	defer func() { _ = rdb.Close() }()
	locations := livelocation.NewStore(rdb, cfg.LocationTTL, logger)
	if err := locations.Ping(ctx); err != nil {
		logger.Warn("redis is not reachable, live tracking degraded", zap.Error(err))
	}

	// каналы доставки: websocket всегда, остальные, если заданы ключи
	hub := channels.NewHub(logger)
	chs := []notify.Channel{hub}
	if cfg.RabbitURL != "" {
		rabbit, err := channels.DialRabbit(cfg.RabbitURL, logger)
		if err != nil {
			logger.Warn("rabbitmq disabled", zap.Error(err))
		} else {
			defer func() { _ = rabbit.Close() }()
			chs = append(chs, rabbit)
		}
	}
	if cfg.TelegramToken != "" {
		tg, err := channels.NewTelegram(cfg.TelegramToken, logger)
		if err != nil {
			logger.Warn("telegram disabled", zap.Error(err))
		} else {
			chs = append(chs, tg)
		}
	}
	if cfg.SendgridAPIKey != "" {
		chs = append(chs, channels.NewEmail(cfg.SendgridAPIKey, "School Transport", cfg.MailFrom))
	}

	notifications := notify.NewService(database, logger)
	relay := notify.NewRelay(database, logger, chs...)

	opts := enrollment.Options{
		MonthlyFee: cfg.DefaultMonthlyFee,
		Currency:   cfg.DefaultCurrency,
	}
	if cfg.CheckoutURL != "" {
		opts.Checkout = checkout.New(cfg.CheckoutURL)
	}
	enroll := enrollment.NewService(database, notifications, logger, opts)
	track := tracking.NewService(database, notifications, logger, tracking.Options{
		Strict:   cfg.StrictTransitions,
		Location: cfg.Location,
	})
	tokens := auth.NewTokens(cfg.JWTSecret, cfg.JWTTTL)
	accounts := auth.NewService(database, tokens, logger)

	runner := jobs.New(ctx, logger)
	runner.Every(cfg.RelayInterval, "notify_relay", jobs.RelayJob(relay))
	runner.Every(time.Hour, "subscription_expiring",
		jobs.ExpiringJob(database, notifications, cfg.ExpiringNoticeDays, cfg.Location, logger))

	if cfg.IsProd() {
		gin.SetMode(gin.ReleaseMode)
	}
	router := api.New(api.Deps{
		DB:            database,
		Log:           logger,
		Location:      cfg.Location,
		Tokens:        tokens,
		Accounts:      accounts,
		Tracking:      track,
		Enrollment:    enroll,
		Notifications: notifications,
		Locations:     locations,
		Hub:           hub,
		Estimator:     eta.NewEstimator(cfg.Location),
	})
	srv := api.Start(ctx, cfg.HTTPAddr, router, logger)

	<-ctx.Done()
	logger.Info("shutting down")
	srv.Wait()
	return nil
}
