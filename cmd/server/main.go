package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sifan077/ShortRank/config"
	appcache "github.com/sifan077/ShortRank/internal/app/cache"
	appmetrics "github.com/sifan077/ShortRank/internal/app/metrics"
	appmodel "github.com/sifan077/ShortRank/internal/app/model"
	apprepository "github.com/sifan077/ShortRank/internal/app/repository"
	appserver "github.com/sifan077/ShortRank/internal/app/server"
	appservice "github.com/sifan077/ShortRank/internal/app/service"
	"github.com/sifan077/ShortRank/internal/infra/logger"
	infraNATS "github.com/sifan077/ShortRank/internal/infra/nats"
	infraPostgres "github.com/sifan077/ShortRank/internal/infra/postgres"
	infraPrometheus "github.com/sifan077/ShortRank/internal/infra/prometheus"
	infraRedis "github.com/sifan077/ShortRank/internal/infra/redis"
	"go.uber.org/zap"
)

func main() {
	ctx := context.Background()

	isDev := os.Getenv("APP_ENV") != "production"
	log := logger.MustInit(logger.Config{
		Development: isDev,
		Level:       os.Getenv("LOG_LEVEL"),
	})
	defer func() { _ = logger.Sync() }()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal("Failed to load config", zap.Error(err))
	}

	log.Info("Configuration loaded successfully",
		zap.Int("server_port", cfg.Server.Port),
		zap.String("postgres_user", cfg.Postgres.User),
		zap.String("postgres_host", cfg.Postgres.Host),
		zap.Int("postgres_port", cfg.Postgres.Port),
		zap.String("postgres_db", cfg.Postgres.Database),
		zap.String("redis_host", cfg.Redis.Host),
		zap.Int("redis_port", cfg.Redis.Port),
		zap.String("nats_host", cfg.NATS.Host),
		zap.Int("nats_port", cfg.NATS.Port),
		zap.Int("ranking_capacity", cfg.Cache.RankingCapacity),
	)

	gormDB, err := infraPostgres.NewGorm(cfg.Postgres)
	if err != nil {
		log.Fatal("Failed to open GORM connection", zap.Error(err))
	}
	sqlDB, err := gormDB.DB()
	if err != nil {
		log.Fatal("Failed to access underlying SQL DB", zap.Error(err))
	}
	defer sqlDB.Close()

	if err := infraPostgres.AutoMigrate(ctx, gormDB, &appmodel.ShortLink{}, &appmodel.AccessEvent{}); err != nil {
		log.Fatal("Failed to run database migrations", zap.Error(err))
	}

	pool, err := infraPostgres.NewPool(ctx, cfg.Postgres)
	if err != nil {
		log.Fatal("Failed to connect to Postgres", zap.Error(err))
	}
	defer pool.Close()

	log.Info("Connected to Postgres successfully")

	redisClient, err := infraRedis.NewClient(ctx, cfg.Redis)
	if err != nil {
		log.Fatal("Failed to connect to Redis", zap.Error(err))
	}
	defer redisClient.Close()
	log.Info("Connected to Redis successfully")

	natsConn, js, err := infraNATS.Connect(cfg.NATS)
	if err != nil {
		log.Fatal("Failed to connect to NATS", zap.Error(err))
	}
	defer natsConn.Drain()
	log.Info("Connected to NATS successfully", zap.Bool("jetstream_ready", js != nil))

	var m *appmetrics.Metrics
	if !isDev {
		m = appmetrics.New(prometheus.DefaultRegisterer)
		promServer := infraPrometheus.NewServer(cfg.Prometheus)
		go func() {
			log.Info("Starting Prometheus metrics server",
				zap.Int("port", cfg.Prometheus.Port))
			if err := promServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("Prometheus metrics server stopped unexpectedly", zap.Error(err))
			}
		}()
		defer func() {
			if err := promServer.Close(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Warn("Failed to close Prometheus server", zap.Error(err))
			}
		}()
	} else {
		log.Info("Skipping Prometheus metrics server in development mode")
	}

	linkRepo := apprepository.NewShortLinkRepository(gormDB)
	accessRepo := apprepository.NewAccessEventRepository(gormDB)
	txManager := apprepository.NewTxManager(gormDB)

	linkCache := appcache.NewLinkCache()
	if codes, err := linkRepo.AllCodes(ctx); err != nil {
		log.Warn("Failed to seed code filter; resolve misses will hit the database", zap.Error(err))
	} else {
		linkCache.Seed(codes)
		log.Info("Code filter seeded", zap.Int("codes", len(codes)))
	}

	rankingCache := appcache.NewRankingCache(linkRepo, accessRepo, cfg.Cache.RankingCapacity, log, m)
	if err := rankingCache.Load(ctx); err != nil {
		// The cache lazily reloads on the first ranking read.
		log.Warn("Failed to preload ranking cache", zap.Error(err))
	}

	publisher := appservice.NewAccessPublisher(js)
	consumer := appservice.NewAccessConsumer(js, log)
	if err := consumer.Start(); err != nil {
		log.Fatal("Failed to start access event consumer", zap.Error(err))
	}

	shortener := appservice.NewShortenerService(appservice.Deps{
		Links:     linkRepo,
		Accesses:  accessRepo,
		Ranking:   rankingCache,
		LinkCache: linkCache,
		Tx:        txManager,
		Publisher: publisher,
		Logger:    log,
		Metrics:   m,
	})

	server := appserver.New(appserver.Dependencies{
		Logger:    log,
		Postgres:  pool,
		Redis:     redisClient,
		Shortener: shortener,
	})

	if err := server.Listen(fmt.Sprintf(":%d", cfg.Server.Port)); err != nil {
		log.Fatal("Fiber server exited", zap.Error(err))
	}
}
