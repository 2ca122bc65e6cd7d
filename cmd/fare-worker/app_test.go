package main

import (
	"context"
	"testing"
	"time"

	"github.com/SoloFlyer/FareWatch/config"
	"github.com/SoloFlyer/FareWatch/internal/integrations/flights"
	"github.com/SoloFlyer/FareWatch/internal/integrations/flights/fake"
	"github.com/SoloFlyer/FareWatch/internal/integrations/flights/serpapihttp"
	"github.com/SoloFlyer/FareWatch/internal/models"
	"github.com/SoloFlyer/FareWatch/internal/services/refresher"
	"github.com/SoloFlyer/FareWatch/internal/storage/pgsearch"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

type fakeRepo struct {
	requests []*models.SearchRequest
	listErr  error
}

func (r *fakeRepo) ListActiveSearchRequests(_ context.Context, _ time.Time) ([]*models.SearchRequest, error) {
	return r.requests, r.listErr
}
func (r *fakeRepo) GetPriceRecord(_ context.Context, _ uint64) (*models.PriceRecord, error) {
	return nil, nil
}
func (r *fakeRepo) ApplyPriceUpdate(_ context.Context, _ pgsearch.PriceUpdate) error { return nil }

type noopProducer struct{}

func (p noopProducer) Publish(_ context.Context, _ string, _, _ []byte) error { return nil }

type stubFlights struct {
	res flights.Result
	err error
}

func (s stubFlights) Search(_ context.Context, _ flights.Query) (flights.Result, error) {
	return s.res, s.err
}

func testFactories(repo refresher.Repository) workerFactories {
	return workerFactories{
		newStorage: func(_ *config.Config) (refresher.Repository, func(), error) {
			return repo, func() {}, nil
		},
		newProducer:      func(_ *config.Config) refresher.Producer { return noopProducer{} },
		newRateLimiter:   func(_ *config.Config) refresher.RateLimiter { return nil },
		newFlightsClient: func(_ *config.Config) flights.Client { return fake.New() },
	}
}

func TestDefaultWorkerFactories_SelectFlightsClient(t *testing.T) {
	f := defaultWorkerFactories()

	withKey := &config.Config{FareWatch: config.FareWatchConfig{SerpAPIKey: "k"}}
	c1 := f.newFlightsClient(withKey)
	_, ok := c1.(*serpapihttp.Client)
	require.True(t, ok)

	withoutKey := &config.Config{}
	c2 := f.newFlightsClient(withoutKey)
	_, ok = c2.(*fake.FakeClient)
	require.True(t, ok)
}

func TestDefaultWorkerFactories_ProducerAndRateLimiter_NonNil(t *testing.T) {
	f := defaultWorkerFactories()
	cfg := &config.Config{
		Kafka: config.KafkaConfig{Host: "localhost", Port: 9092},
		Redis: config.RedisConfig{Host: "localhost", Port: 6379},
	}
	require.NotNil(t, f.newProducer(cfg))
	require.NotNil(t, f.newRateLimiter(cfg))
}

func TestRunFareWorker_ContextCanceled(t *testing.T) {
	calledClose := false
	f := testFactories(&fakeRepo{})
	f.newStorage = func(_ *config.Config) (refresher.Repository, func(), error) {
		return &fakeRepo{}, func() { calledClose = true }, nil
	}

	cfg := &config.Config{
		Kafka:     config.KafkaConfig{PriceUpdatedTopicName: "t"},
		FareWatch: config.FareWatchConfig{WorkerTickIntervalSeconds: 1},
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := RunFareWorker(ctx, cfg, f)
	require.ErrorIs(t, err, context.Canceled)
	require.True(t, calledClose)
}

func TestRunOnce_ExitCodes(t *testing.T) {
	cfg := &config.Config{Kafka: config.KafkaConfig{PriceUpdatedTopicName: "t"}}
	dep := time.Now().UTC().AddDate(0, 1, 0)

	okRepo := &fakeRepo{requests: []*models.SearchRequest{{
		ID: 1, UserID: 1, Origin: "JFK", Destination: "LAX",
		DepartureDate: dep, TripType: models.TripTypeOneWay,
	}}}
	okF := testFactories(okRepo)
	okF.newFlightsClient = func(_ *config.Config) flights.Client {
		return stubFlights{res: flights.Result{Offer: &flights.Offer{Price: 250, Currency: "USD"}}}
	}
	require.Equal(t, exitOK, runOnce(context.Background(), cfg, okF))

	// One request cannot be refreshed: partial failure.
	failF := testFactories(okRepo)
	failF.newFlightsClient = func(_ *config.Config) flights.Client {
		return stubFlights{err: errors.New("provider timeout")}
	}
	require.Equal(t, exitPartialFailure, runOnce(context.Background(), cfg, failF))

	// Listing fails entirely: the run could not be performed.
	brokenRepo := &fakeRepo{listErr: errors.New("db down")}
	require.Equal(t, exitCouldNotRun, runOnce(context.Background(), cfg, testFactories(brokenRepo)))

	// Empty work list is a clean success.
	require.Equal(t, exitOK, runOnce(context.Background(), cfg, testFactories(&fakeRepo{})))
}
