package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kirinyoku/clubtix/internal/config"
	"github.com/kirinyoku/clubtix/internal/media"
	"github.com/kirinyoku/clubtix/internal/notify"
	"github.com/kirinyoku/clubtix/internal/postgres"
	redisx "github.com/kirinyoku/clubtix/internal/redis"
	postgresrepo "github.com/kirinyoku/clubtix/internal/repository/postgres"
	redisrepo "github.com/kirinyoku/clubtix/internal/repository/redis"
	"github.com/kirinyoku/clubtix/internal/service"
	"github.com/kirinyoku/clubtix/internal/service/outbox"
	"github.com/kirinyoku/clubtix/internal/service/registration"
	httpgin "github.com/kirinyoku/clubtix/internal/transport/http/gin"
	goredis "github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
)

const (
	idempotencyTTL  = 24 * time.Hour
	shutdownTimeout = 10 * time.Second
)

type App struct {
	cfg        *config.Config
	logger     *slog.Logger
	pool       *pgxpool.Pool
	rdb        *goredis.Client
	services   *service.Services
	pubsub     *redisx.OutboxPubSub
	httpServer *http.Server
}

func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	const op = "app.New"

	pool, err := postgres.New(ctx, postgres.Config{
		DSN:         cfg.Postgres.URL,
		MaxConns:    cfg.Postgres.MaxConns,
		PingTimeout: cfg.Postgres.PingTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}
	if err := postgres.Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("%s:%w", op, err)
	}
	store := postgresrepo.NewStore(pool)

	gw, err := media.NewCloudinary(media.CloudinaryConfig{
		CloudName: cfg.Cloudinary.CloudName,
		APIKey:    cfg.Cloudinary.APIKey,
		APISecret: cfg.Cloudinary.APISecret,
		MaxBytes:  cfg.Cloudinary.MaxUploadBytes,
		APIPrefix: cfg.Cloudinary.APIPrefix,
	}, logger)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("%s:%w", op, err)
	}
	if err := gw.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("%s: media store:%w", op, err)
	}

	var mail notify.Sender
	if cfg.Mail.ResendAPIKey != "" {
		mail = notify.NewResend(notify.ResendConfig{APIKey: cfg.Mail.ResendAPIKey, From: cfg.Mail.From}, logger)
	} else {
		logger.Warn("RESEND_API_KEY not set, confirmation emails are only logged")
		mail = notify.NewLogSender(logger)
	}

	a := &App{cfg: cfg, logger: logger, pool: pool}

	var (
		cache *redisrepo.Cache
		opts  = httpgin.Options{
			TokenSecret:    cfg.Auth.AccessTokenSecret,
			AllowedOrigins: cfg.Server.AllowedOrigins,
			RequestTimeout: cfg.Server.RequestTimeout,
			MaxUploadBytes: cfg.Cloudinary.MaxUploadBytes,
			Ready:          a.ready,
		}
	)
	if cfg.Redis.URL != "" {
		rdb, err := redisx.New(ctx, redisx.Config{URL: cfg.Redis.URL})
		if err != nil {
			pool.Close()
			return nil, fmt.Errorf("%s:%w", op, err)
		}
		a.rdb = rdb
		a.pubsub = redisx.NewOutboxPubSub(rdb)

		cache = redisrepo.NewCache(rdb)
		opts.Idempotency = redisrepo.NewIdempotencyStore(rdb, idempotencyTTL)
		opts.RegisterLimiter = redisrepo.NewSlidingWindowLimiter(rdb, "register", cfg.RateLimit.RegisterPerMinute, time.Minute)
		opts.AvailabilityLimit = redisrepo.NewSlidingWindowLimiter(rdb, "availability", cfg.RateLimit.RegisterPerMinute*3, time.Minute)
	} else {
		logger.Warn("REDIS_URL not set, running without cache, idempotency and rate limits")
	}

	a.services = service.NewServices(store, cache, gw, mail, logger, service.Config{
		Registration: registration.Config{DispatchTimeout: cfg.Outbox.DispatchTimeout},
		Outbox: outbox.Config{
			PollInterval: cfg.Outbox.PollInterval,
			JobTimeout:   cfg.Outbox.DispatchTimeout,
		},
	})
	if a.pubsub != nil {
		a.services.Outbox.SetPublisher(a.pubsub)
	}

	if !cfg.IsDevelopment() {
		gin.SetMode(gin.ReleaseMode)
	}
	router := httpgin.NewRouter(a.services, opts, logger)

	a.httpServer = &http.Server{
		Addr:              cfg.Server.Addr(),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return a, nil
}

func (a *App) ready(ctx context.Context) error {
	return a.pool.Ping(ctx)
}

// Run serves HTTP and drains the outbox until ctx is done or a signal
// arrives, then shuts down gracefully.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	defer a.close()

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.logger.Info("HTTP server listening", slog.String("addr", a.httpServer.Addr))
		if err := a.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("app.Run: http server:%w", err)
		}
		return nil
	})

	g.Go(func() error {
		if err := a.services.Outbox.Run(gCtx); err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("app.Run: outbox worker:%w", err)
		}
		return nil
	})

	if a.pubsub != nil {
		g.Go(func() error {
			err := a.pubsub.Subscribe(gCtx, func(_ context.Context, code string) {
				a.services.Outbox.Wake(code)
			})
			if err != nil && !errors.Is(err, context.Canceled) {
				// The poller still picks every job up.
				a.logger.Warn("outbox subscription ended", slog.Any("err", err))
			}
			return nil
		})
	}

	g.Go(func() error {
		<-gCtx.Done()
		a.logger.Info("shutting down HTTP server")
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return a.httpServer.Shutdown(ctx)
	})

	return g.Wait()
}

func (a *App) close() {
	if a.rdb != nil {
		_ = a.rdb.Close()
	}
	a.pool.Close()
}
