// Command feed-proxy serves the marketplace feeds over HTTP, exposing each
// paged collection's state and operations to thin presenters.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/Sternrassler/pagedlist/pkg/client"
	"github.com/Sternrassler/pagedlist/pkg/logging"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML config file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "feed-proxy: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	logger := logging.Setup(logging.Config{
		Level:   logging.LogLevel(cfg.LogLevel),
		Format:  cfg.LogFormat,
		Service: "feed-proxy",
		Output:  os.Stderr,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	redisClient := connectRedis(ctx, cfg)
	if redisClient != nil {
		defer redisClient.Close()
	}

	apiCfg := client.DefaultConfig(cfg.APIBaseURL, cfg.UserAgent)
	apiCfg.Redis = redisClient
	if cfg.APIToken != "" {
		token := cfg.APIToken
		apiCfg.TokenSource = func(context.Context) (string, error) { return token, nil }
	}
	api, err := client.New(apiCfg)
	if err != nil {
		return fmt.Errorf("create api client: %w", err)
	}
	defer api.Close()

	feeds := buildFeeds(api, cfg.PageSize)
	defer func() {
		for _, f := range feeds {
			f.Close()
		}
	}()

	srv := &http.Server{
		Addr: ":" + strconv.Itoa(cfg.Port),
		Handler: newRouter(&server{
			feeds:   feeds,
			quota:   api,
			timeout: cfg.RequestTimeout,
			logger:  logging.NewLogger("http"),
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().
			Str("addr", srv.Addr).
			Str("api", cfg.APIBaseURL).
			Bool("cache", redisClient != nil).
			Msg("Starting feed proxy")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	logger.Info().Msg("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// connectRedis returns nil when Redis is not configured or unreachable;
// the proxy then runs without page cache and shared quota.
func connectRedis(ctx context.Context, cfg Config) *redis.Client {
	if cfg.RedisAddr == "" {
		return nil
	}

	rdb := redis.NewClient(&redis.Options{
		Addr: cfg.RedisAddr,
		DB:   cfg.RedisDB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		log.Warn().Err(err).Str("addr", cfg.RedisAddr).Msg("Redis unavailable, running without cache")
		rdb.Close()
		return nil
	}

	log.Info().Str("addr", cfg.RedisAddr).Msg("Connected to Redis")
	return rdb
}
