package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"go.uber.org/multierr"

	"sentinal-client/config"
	"sentinal-client/internal/cache"
	"sentinal-client/internal/handler"
	"sentinal-client/internal/redis"
	"sentinal-client/internal/remote"
	"sentinal-client/internal/remote/wsremote"
	"sentinal-client/internal/server"
	"sentinal-client/internal/session"
	"sentinal-client/internal/storage"
	"sentinal-client/pkg/logger"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	mode := logger.DevelopmentMode
	if cfg.AppMode == server.ReleaseMode {
		mode = logger.ProductionMode
	}
	l := logger.New(mode)
	logger.SetGlobalLogger(l)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, err := openStore(ctx, cfg)
	if err != nil {
		l.Errorf("Failed to open the timeline cache: %s", err)
		os.Exit(1)
	}

	var sealer *cache.Sealer
	if cfg.CacheKey != nil {
		if sealer, err = cache.NewSealer(cfg.CacheKey); err != nil {
			l.Errorf("Failed to set up cache sealing: %s", err)
			os.Exit(1)
		}
	}
	timelines := cache.NewTimelineCache(store, sealer, cfg.UserID, l)

	dialer := &wsremote.Dialer{
		URL: cfg.RemoteURL,
		Tokens: wsremote.TokenSource{
			Static: cfg.RemoteToken,
			Secret: []byte(cfg.JWTSecret),
			TTL:    time.Duration(cfg.JWTExpiryMin) * time.Minute,
		},
		Log: l,
	}
	if cfg.UploadsEnabled() {
		uploads, err := storage.NewClient(ctx, storage.S3Config{
			Region:     cfg.S3.Region,
			Bucket:     cfg.S3.Bucket,
			AccessKey:  cfg.S3.AccessKey,
			SecretKey:  cfg.S3.SecretKey,
			Endpoint:   cfg.S3.Endpoint,
			PublicBase: cfg.S3.PublicBase,
			ACL:        cfg.S3.ACL,
		})
		if err != nil {
			l.Errorf("Failed to set up attachment uploads: %s", err)
			os.Exit(1)
		}
		dialer.Uploader = uploads
	}

	sess := session.New(session.Config{
		UserID:         cfg.UserID,
		PageSize:       cfg.PageSize,
		MatchSkew:      cfg.MatchSkew,
		ConnectTimeout: cfg.ConnectTimeout,
		Retry: remote.Policy{
			Attempts: cfg.RetryAttempts,
			Initial:  cfg.RetryInitial,
			Max:      10 * cfg.RetryInitial,
		},
	}, dialer, timelines, l, nil)

	go func() {
		if err := sess.Connect(logger.WithUser(ctx, cfg.UserID)); err != nil {
			l.Warnf("Initial connect failed: %s", err)
		}
	}()

	timeline := handler.NewTimelineHandler(sess, time.Local)
	hub := server.NewHub(sess.Updates(), timeline.Frame, l)
	go hub.Run(ctx)

	srv := server.New(cfg, l)
	srv.SetupRoutes(&server.Handlers{
		Timeline: timeline,
		Stream:   server.NewStreamHandler(hub),
	})

	runErr := srv.Start(ctx)
	cancel()
	if err := multierr.Combine(runErr, sess.Close(), store.Close()); err != nil {
		l.Errorf("Shutdown finished with errors: %s", err)
		_ = l.Sync()
		os.Exit(1)
	}
	_ = l.Sync()
}

func openStore(ctx context.Context, cfg *config.Config) (cache.Store, error) {
	switch cfg.CacheBackend {
	case config.CacheBackendMemory:
		return cache.NewMemoryStore(), nil
	case config.CacheBackendRedis:
		client := redis.NewClient(redis.Config{
			Host:     cfg.RedisHost,
			Port:     cfg.RedisPort,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err := redis.Ping(ctx, client, 5*time.Second); err != nil {
			_ = client.Close()
			return nil, err
		}
		cacheCfg := redis.DefaultCacheConfig()
		cacheCfg.TTL = cfg.CacheTTL
		return redis.NewCacheStore(client, cacheCfg), nil
	case config.CacheBackendPebble:
		return cache.OpenPebble(cfg.CachePath, nil)
	}
	return nil, fmt.Errorf("unknown cache backend %q", cfg.CacheBackend)
}
