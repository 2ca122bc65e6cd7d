package main

import (
	"context"
	"fmt"
	"time"

	"github.com/SoloFlyer/FareWatch/config"
	"github.com/SoloFlyer/FareWatch/internal/broker/kafka"
	"github.com/SoloFlyer/FareWatch/internal/cache/rediscache"
	"github.com/SoloFlyer/FareWatch/internal/integrations/flights"
	"github.com/SoloFlyer/FareWatch/internal/integrations/flights/fake"
	"github.com/SoloFlyer/FareWatch/internal/integrations/flights/serpapihttp"
	"github.com/SoloFlyer/FareWatch/internal/services/refresher"
	"github.com/SoloFlyer/FareWatch/internal/storage/pgsearch"
)

type workerFactories struct {
	newStorage       func(cfg *config.Config) (repo refresher.Repository, closeFn func(), err error)
	newProducer      func(cfg *config.Config) refresher.Producer
	newRateLimiter   func(cfg *config.Config) refresher.RateLimiter
	newFlightsClient func(cfg *config.Config) flights.Client
}

func defaultWorkerFactories() workerFactories {
	return workerFactories{
		newStorage: func(cfg *config.Config) (refresher.Repository, func(), error) {
			st, err := pgsearch.New(connString(cfg))
			if err != nil {
				return nil, nil, err
			}
			return st, st.Close, nil
		},
		newProducer: func(cfg *config.Config) refresher.Producer {
			brokers := []string{fmt.Sprintf("%s:%d", cfg.Kafka.Host, cfg.Kafka.Port)}
			return kafka.NewProducer(brokers)
		},
		newRateLimiter: func(cfg *config.Config) refresher.RateLimiter {
			redisAddr := fmt.Sprintf("%s:%d", cfg.Redis.Host, cfg.Redis.Port)
			return rediscache.NewRateLimiter(redisAddr)
		},
		newFlightsClient: func(cfg *config.Config) flights.Client {
			// Without an API key the worker still runs end to end against
			// the local fake, for demos and development.
			if cfg.FareWatch.SerpAPIKey != "" {
				return serpapihttp.New(cfg.FareWatch.SerpAPIBaseURL, cfg.FareWatch.SerpAPIKey)
			}
			return fake.New()
		},
	}
}

func connString(cfg *config.Config) string {
	sslMode := cfg.Database.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		cfg.Database.Username, cfg.Database.Password, cfg.Database.Host, cfg.Database.Port, cfg.Database.DBName, sslMode)
}

func buildRefresher(cfg *config.Config, f workerFactories) (*refresher.Refresher, func(), error) {
	topic := cfg.Kafka.PriceUpdatedTopicName
	if topic == "" {
		topic = "price.updated"
	}

	tick := time.Duration(cfg.FareWatch.WorkerTickIntervalSeconds) * time.Second
	if tick <= 0 {
		tick = 24 * time.Hour
	}
	rlPerMin := int64(cfg.FareWatch.WorkerRateLimitPerMinute)
	if rlPerMin <= 0 {
		rlPerMin = 60
	}

	repo, closeFn, err := f.newStorage(cfg)
	if err != nil {
		return nil, nil, err
	}

	r := refresher.New(repo, f.newFlightsClient(cfg), f.newProducer(cfg), f.newRateLimiter(cfg), topic).
		WithSettings(tick, rlPerMin)
	return r, closeFn, nil
}

// RunFareWorker is daemon mode: periodic refresh runs until the context
// is canceled.
func RunFareWorker(ctx context.Context, cfg *config.Config, f workerFactories) error {
	r, closeFn, err := buildRefresher(cfg, f)
	if err != nil {
		return err
	}
	if closeFn != nil {
		defer closeFn()
	}
	return r.Run(ctx)
}

// RunFareWorkerOnce performs exactly one refresh run and reports its
// summary, for cron style scheduling.
func RunFareWorkerOnce(ctx context.Context, cfg *config.Config, f workerFactories) (refresher.RunSummary, error) {
	r, closeFn, err := buildRefresher(cfg, f)
	if err != nil {
		return refresher.RunSummary{}, err
	}
	if closeFn != nil {
		defer closeFn()
	}
	return r.RunOnce(ctx)
}
