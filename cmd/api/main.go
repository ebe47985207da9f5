package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"classattend/internal/attendance"
	"classattend/internal/clock"
	"classattend/internal/cloudinary"
	"classattend/internal/config"
	"classattend/internal/devices"
	"classattend/internal/httpapi"
	"classattend/internal/httpmiddleware"
	"classattend/internal/logging"
	"classattend/internal/metrics"
	"classattend/internal/queue"
	"classattend/internal/store"
	"classattend/internal/tally"
	"classattend/internal/users"
	"classattend/internal/worker"
)

func main() {
	cfg := config.Load()
	logger := logging.New(cfg.Env, cfg.LogLevel)

	if cfg.Production() {
		gin.SetMode(gin.ReleaseMode)
	}

	if err := runHTTP(cfg, logger); err != nil {
		logger.Fatal().Err(err).Msg("http server failed")
	}
}

func runHTTP(cfg config.App, logger zerolog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	checks := map[string]httpapi.HealthCheck{}

	var (
		classes  attendance.Store
		accounts users.Store
		sessions devices.Store
	)
	switch cfg.StoreBackend {
	case "memory":
		logger.Warn().Msg("using in-memory store, data is lost on restart")
		classes = attendance.NewMemoryStore()
		accounts = users.NewMemoryStore()
		sessions = devices.NewMemoryStore()
	default:
		db, err := store.NewDB(ctx, cfg.DatabaseURL)
		if err != nil {
			return err
		}
		defer db.Close()
		repo := attendance.NewRepository(db.Client)
		userRepo := users.NewRepository(db.Client)
		sessionRepo := devices.NewRepository(db.Client)
		if err := store.Migrate(ctx, repo, userRepo, sessionRepo); err != nil {
			return err
		}
		classes, accounts, sessions = repo, userRepo, sessionRepo
		checks["postgres"] = db.Healthy
	}

	redisClient := store.NewRedis(cfg.RedisAddr)
	defer redisClient.Close()
	redisUp := redisClient.Healthy(ctx)
	if !redisUp {
		logger.Warn().Str("addr", cfg.RedisAddr).Msg("redis not reachable, live tally and shared rate limits degraded")
	}

	live := tally.New(redisClient.Client, cfg.TallyTTL)

	var q queue.Queue
	switch cfg.QueueBackend {
	case "memory":
		mem := queue.NewInMemory(256)
		q = mem
		// No separate worker can reach an in-process queue.
		go func() {
			if _, err := worker.Run(ctx, mem, live, logger); err != nil {
				logger.Error().Err(err).Msg("in-process worker failed")
			}
		}()
	case "nats":
		nc, err := nats.Connect(cfg.NATSURL, nats.Name("classattend-api"))
		if err != nil {
			return err
		}
		defer nc.Close()
		q = queue.NewNATSQueue(nc, cfg.NATSSubject, "")
		checks["nats"] = func(context.Context) bool { return nc.IsConnected() }
	default:
		q = queue.NewRedisQueue(redisClient.Client, cfg.QueueKey)
		checks["redis"] = redisClient.Healthy
	}

	metrics.Register()
	att := attendance.NewService(classes,
		attendance.WithPublisher(q),
		attendance.WithObserver(metrics.NewObserver()),
		attendance.WithLogger(logger),
	)
	accountSvc := users.NewService(accounts, classes, users.TokenConfig{
		Issuer:     cfg.JWTIssuer,
		SigningKey: cfg.JWTSigningKey,
		TTL:        cfg.AccessTTL,
		RefreshTTL: cfg.RefreshTTL,
	}, logger)

	deps := httpapi.Deps{
		Attendance:     att,
		Users:          accountSvc,
		Devices:        devices.NewService(sessions, clock.System{}, logger),
		Tally:          live,
		Checks:         checks,
		QRImageSize:    cfg.QRImageSize,
		MaxUploadBytes: cfg.MaxUploadBytes,
		Logger:         logger,
	}
	cloudCfg := cloudinary.Config{
		CloudName: cfg.CloudinaryCloudName,
		APIKey:    cfg.CloudinaryAPIKey,
		APISecret: cfg.CloudinaryAPISecret,
		Folder:    cfg.CloudinaryFolder,
	}
	if cloudCfg.Configured() {
		cdn, err := cloudinary.New(cloudCfg, logger)
		if err != nil {
			return err
		}
		deps.Cloud = cdn
		logger.Info().Str("cloud", cfg.CloudinaryCloudName).Msg("cloudinary configured")
	} else {
		logger.Info().Msg("cloudinary not configured, qr images are returned inline only")
	}

	var limiter httpmiddleware.Limiter
	if cfg.RateLimitPerMin > 0 {
		if cfg.RateLimitBackend == "redis" && redisUp {
			limiter = httpmiddleware.NewRedisWindow(redisClient.Client, cfg.RateLimitPerMin, clock.System{})
		} else {
			limiter = httpmiddleware.NewTokenBucket(cfg.RateLimitPerMin, cfg.RateLimitPerMin, clock.System{})
		}
	}

	r := httpapi.Router(httpapi.New(deps), httpapi.RouterConfig{
		SigningKey:  cfg.JWTSigningKey,
		Issuer:      cfg.JWTIssuer,
		CORSOrigins: cfg.CORSOrigins,
		Limiter:     limiter,
		Logger:      logger,
	})

	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("port", cfg.HTTPPort).Msg("starting server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	logger.Info().Msg("shutting down server")

	// Give outstanding requests 10 seconds to complete
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("server forced shutdown")
	}
	logger.Info().Msg("server exited")
	return nil
}
