package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/SoloFlyer/FareWatch/config"
	"github.com/SoloFlyer/FareWatch/internal/cache/rediscache"
	"github.com/SoloFlyer/FareWatch/internal/integrations/flights"
	"github.com/SoloFlyer/FareWatch/internal/integrations/flights/fake"
	"github.com/SoloFlyer/FareWatch/internal/integrations/flights/serpapihttp"
	"github.com/SoloFlyer/FareWatch/internal/services/searches"
	"github.com/SoloFlyer/FareWatch/internal/storage/pgsearch"
)

func main() {
	cfg, err := config.LoadConfig(os.Getenv("configPath"))
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}

	httpAddr := cfg.FareWatch.HTTPAddr
	if httpAddr == "" {
		httpAddr = ":8080"
	}
	cacheTTL := time.Duration(cfg.FareWatch.CurrentRecordTTLSeconds) * time.Second
	if cacheTTL <= 0 {
		cacheTTL = 10 * time.Minute
	}

	sslMode := cfg.Database.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	connString := fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		cfg.Database.Username, cfg.Database.Password, cfg.Database.Host, cfg.Database.Port, cfg.Database.DBName, sslMode)
	st, err := pgsearch.New(connString)
	if err != nil {
		panic(err)
	}
	defer st.Close()

	redisAddr := fmt.Sprintf("%s:%d", cfg.Redis.Host, cfg.Redis.Port)
	rc := rediscache.New(redisAddr)

	// On-demand refresh uses the same provider selection as the worker.
	var fc flights.Client
	if cfg.FareWatch.SerpAPIKey != "" {
		fc = serpapihttp.New(cfg.FareWatch.SerpAPIBaseURL, cfg.FareWatch.SerpAPIKey)
	} else {
		fc = fake.New()
	}

	svc := searches.New(st, rc, fc, cacheTTL)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	err = runFareAPI(ctx, fareAPIOpts{
		httpAddr:    httpAddr,
		swaggerPath: os.Getenv("swaggerPath"),
	}, svc)
	if err != nil && err != context.Canceled {
		panic(err)
	}
}
