// Command churnguard-server starts the ChurnGuard tenant gateway: the client
// HTTP API plus an admin gRPC health endpoint.
package main

import (
	"context"
	"errors"
	"flag"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc/reflection"

	"github.com/and161185/churnguard/internal/archive"
	"github.com/and161185/churnguard/internal/config"
	pkgcrypto "github.com/and161185/churnguard/internal/crypto"
	"github.com/and161185/churnguard/internal/idempotency"
	"github.com/and161185/churnguard/internal/inference"
	"github.com/and161185/churnguard/internal/limiter"
	"github.com/and161185/churnguard/internal/migrate"
	"github.com/and161185/churnguard/internal/repository/postgres"
	grpcserver "github.com/and161185/churnguard/internal/server/grpc"
	httpserver "github.com/and161185/churnguard/internal/server/http"
	"github.com/and161185/churnguard/internal/service"
	"github.com/and161185/churnguard/internal/session"
)

var (
	version   = "dev"
	buildDate = "unknown"
)

// main loads configuration, runs migrations and serves until SIGINT/SIGTERM.
func main() {
	cfgPath := flag.String("config", "", "YAML config file (optional)")
	addr := flag.String("addr", "", "HTTP listen address (overrides http.addr)")
	dev := flag.Bool("dev", false, "development logging and gRPC reflection")
	flag.Parse()

	var logger *zap.Logger
	if *dev {
		logger, _ = zap.NewDevelopment()
	} else {
		logger, _ = zap.NewProduction()
	}
	defer func() { _ = logger.Sync() }()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		logger.Fatal("config", zap.Error(err))
	}
	if *addr != "" {
		cfg.HTTP.Addr = *addr
	}
	logger.Info("starting",
		zap.String("version", version),
		zap.String("buildDate", buildDate),
		zap.String("http", cfg.HTTP.Addr),
		zap.String("health", cfg.Health.Addr),
	)

	// Context with OS signals
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, *dev, logger); err != nil {
		logger.Error("server error", zap.Error(err))
		os.Exit(1)
	}
	logger.Info("shutdown complete")
}

func run(ctx context.Context, cfg config.Config, dev bool, logger *zap.Logger) error {
	if err := migrate.Up(ctx, cfg.Database.DSN, logger); err != nil {
		return err
	}

	// DB pool
	db, err := postgres.New(ctx, cfg.Database.DSN, postgres.PoolOptions{
		MaxConns:        cfg.Database.MaxConns,
		MaxConnIdleTime: cfg.Database.MaxConnIdle,
	})
	if err != nil {
		return err
	}
	defer db.Close()

	codec, err := session.NewCodec([]byte(cfg.JWT.Secret), cfg.JWT.TTL)
	if err != nil {
		return err
	}
	backend, err := inference.New(inference.Config{
		BaseURL:        cfg.Backend.URL,
		RequestTimeout: cfg.Backend.RequestTimeout,
		TrainTimeout:   cfg.Backend.TrainTimeout,
	})
	if err != nil {
		return err
	}

	var lim limiter.Limiter = limiter.Noop{}
	if cfg.Limiter.Enabled {
		lim = limiter.NewPG(db.Pool, cfg.Limiter.Window, cfg.Limiter.MaxFails, cfg.Limiter.BlockFor)
	}

	var idem idempotency.Store = idempotency.Noop{}
	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			logger.Warn("redis unavailable; signups are not resumable", zap.Error(err))
		}
		idem = idempotency.NewRedisStore(rdb, cfg.Idempotency.TTL)
	}

	var arch archive.Archiver = archive.Noop{}
	if cfg.S3.Bucket != "" {
		s3a, err := archive.NewS3(ctx, archive.S3Config{
			Bucket:    cfg.S3.Bucket,
			Region:    cfg.S3.Region,
			Endpoint:  cfg.S3.Endpoint,
			AccessKey: cfg.S3.AccessKey,
			SecretKey: cfg.S3.SecretKey,
		})
		if err != nil {
			return err
		}
		arch = s3a
	}

	// Services
	authSvc, err := service.NewAuthService(service.AuthDeps{
		Accounts: postgres.NewAccountRepo(db),
		Hasher: pkgcrypto.NewHasher(pkgcrypto.Params{
			Time:    cfg.Password.Time,
			Memory:  cfg.Password.Memory,
			Threads: cfg.Password.Threads,
		}),
		Codec:       codec,
		Trainer:     backend,
		Limiter:     lim,
		Idempotency: idem,
		Archive:     arch,
		Log:         logger.Named("auth"),
	})
	if err != nil {
		return err
	}
	gw := service.NewGateway(backend, logger.Named("gateway"))

	httpSrv := &http.Server{
		Addr: cfg.HTTP.Addr,
		Handler: httpserver.NewRouter(httpserver.Deps{
			Auth:            authSvc,
			Gateway:         gw,
			Verifier:        codec,
			Log:             logger.Named("http"),
			CORSOrigins:     cfg.HTTP.CORSOrigins,
			MaxDatasetBytes: cfg.Backend.MaxDatasetBytes,
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	health := grpcserver.NewHealth(db.Ping, 0, logger.Named("health"))
	gs := grpcserver.NewServer(health, logger.Named("grpc"))
	if dev {
		reflection.Register(gs)
	}
	lis, err := net.Listen("tcp", cfg.Health.Addr)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		health.Run(gctx)
		return nil
	})
	g.Go(func() error {
		logger.Info("health listening", zap.String("addr", cfg.Health.Addr))
		return gs.Serve(lis)
	})
	g.Go(func() error {
		logger.Info("http listening", zap.String("addr", cfg.HTTP.Addr))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		// graceful shutdown
		sctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		err := httpSrv.Shutdown(sctx)

		done := make(chan struct{})
		go func() {
			gs.GracefulStop()
			close(done)
		}()
		select {
		case <-done:
		case <-sctx.Done():
			gs.Stop()
		}
		return err
	})
	return g.Wait()
}
