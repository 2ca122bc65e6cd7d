package refresher

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/SoloFlyer/FareWatch/internal/broker/messages"
	"github.com/SoloFlyer/FareWatch/internal/integrations/flights"
	"github.com/SoloFlyer/FareWatch/internal/models"
	"github.com/SoloFlyer/FareWatch/internal/storage/pgsearch"
	"github.com/pkg/errors"
)

type Repository interface {
	ListActiveSearchRequests(ctx context.Context, asOf time.Time) ([]*models.SearchRequest, error)
	GetPriceRecord(ctx context.Context, searchRequestID uint64) (*models.PriceRecord, error)
	ApplyPriceUpdate(ctx context.Context, upd pgsearch.PriceUpdate) error
}

type Producer interface {
	Publish(ctx context.Context, topic string, key, value []byte) error
}

type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int64, window time.Duration) (bool, int64, error)
}

type Failure struct {
	SearchRequestID uint64 `json:"searchRequestId"`
	Route           string `json:"route"`
	Err             string `json:"error"`
}

// RunSummary is the aggregate outcome of one refresh run. Total is always
// Succeeded + Failed: every listed request ends up on one side.
type RunSummary struct {
	StartedAt  time.Time `json:"startedAt"`
	FinishedAt time.Time `json:"finishedAt"`

	Total     int       `json:"total"`
	Succeeded int       `json:"succeeded"`
	Failed    int       `json:"failed"`
	Failures  []Failure `json:"failures,omitempty"`
}

func (s RunSummary) AllSucceeded() bool {
	return s.Failed == 0
}

type Refresher struct {
	repo     Repository
	flights  flights.Client
	producer Producer
	rl       RateLimiter

	topic string

	tickInterval       time.Duration
	rateLimitPerMinute int64

	triggerCh chan struct{}

	startedAtUnixNano   int64
	lastRunUnixNano     atomic.Int64
	lastTriggerUnixNano atomic.Int64
	totalRuns           atomic.Int64
	totalChecked        atomic.Int64
	totalSucceeded      atomic.Int64
	totalFailed         atomic.Int64
	lastErrorMu         sync.Mutex
	lastError           string
}

func New(repo Repository, fc flights.Client, producer Producer, rl RateLimiter, topic string) *Refresher {
	return &Refresher{
		repo: repo, flights: fc, producer: producer, rl: rl, topic: topic,
		tickInterval:       24 * time.Hour,
		rateLimitPerMinute: 60,
		triggerCh:          make(chan struct{}, 1),
		startedAtUnixNano:  time.Now().UTC().UnixNano(),
	}
}

func (r *Refresher) WithSettings(tickInterval time.Duration, rlPerMin int64) *Refresher {
	if tickInterval > 0 {
		r.tickInterval = tickInterval
	}
	if rlPerMin > 0 {
		r.rateLimitPerMinute = rlPerMin
	}
	return r
}

// Trigger forces an immediate refresh run (best-effort, non-blocking).
func (r *Refresher) Trigger() {
	r.lastTriggerUnixNano.Store(time.Now().UTC().UnixNano())
	select {
	case r.triggerCh <- struct{}{}:
	default:
	}
}

type Stats struct {
	StartedAt      time.Time  `json:"startedAt"`
	LastRunAt      *time.Time `json:"lastRunAt,omitempty"`
	LastTriggerAt  *time.Time `json:"lastTriggerAt,omitempty"`
	TotalRuns      int64      `json:"totalRuns"`
	TotalChecked   int64      `json:"totalChecked"`
	TotalSucceeded int64      `json:"totalSucceeded"`
	TotalFailed    int64      `json:"totalFailed"`
	LastError      string     `json:"lastError,omitempty"`
}

func (r *Refresher) Stats() Stats {
	st := Stats{
		StartedAt:      time.Unix(0, r.startedAtUnixNano).UTC(),
		TotalRuns:      r.totalRuns.Load(),
		TotalChecked:   r.totalChecked.Load(),
		TotalSucceeded: r.totalSucceeded.Load(),
		TotalFailed:    r.totalFailed.Load(),
	}
	if n := r.lastRunUnixNano.Load(); n > 0 {
		t := time.Unix(0, n).UTC()
		st.LastRunAt = &t
	}
	if n := r.lastTriggerUnixNano.Load(); n > 0 {
		t := time.Unix(0, n).UTC()
		st.LastTriggerAt = &t
	}
	r.lastErrorMu.Lock()
	st.LastError = r.lastError
	r.lastErrorMu.Unlock()
	return st
}

// Run is the daemon mode: an immediate pass on startup, then one refresh
// per tick (daily in production) plus best-effort manual triggers. Each
// run is independent; a failed run is simply retried on the next tick.
func (r *Refresher) Run(ctx context.Context) error {
	t := time.NewTicker(r.tickInterval)
	defer t.Stop()

	// With a daily tick, waiting out the first interval would leave a fresh
	// daemon idle for a day. Run once on startup.
	r.runAndLog(ctx)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			r.runAndLog(ctx)
		case <-r.triggerCh:
			r.runAndLog(ctx)
		}
	}
}

func (r *Refresher) runAndLog(ctx context.Context) {
	summary, err := r.RunOnce(ctx)
	if err != nil {
		slog.Error("refresh run failed", "error", err.Error())
		return
	}
	slog.Info("refresh run finished",
		"total", summary.Total, "succeeded", summary.Succeeded, "failed", summary.Failed)
}

// RunOnce performs a single refresh run over every active search request.
// Only a listing failure is returned as an error; everything that goes
// wrong with an individual request is isolated into the summary and the
// loop moves on.
func (r *Refresher) RunOnce(ctx context.Context) (RunSummary, error) {
	now := time.Now().UTC()
	r.lastRunUnixNano.Store(now.UnixNano())

	reqs, err := r.repo.ListActiveSearchRequests(ctx, now)
	if err != nil {
		err = errors.Wrap(err, "list active search requests")
		r.lastErrorMu.Lock()
		r.lastError = err.Error()
		r.lastErrorMu.Unlock()
		return RunSummary{}, err
	}

	summary := RunSummary{StartedAt: now, Total: len(reqs)}
	for _, req := range reqs {
		if err := r.processOne(ctx, req); err != nil {
			summary.Failed++
			summary.Failures = append(summary.Failures, Failure{
				SearchRequestID: req.ID,
				Route:           fmt.Sprintf("%s -> %s", req.Origin, req.Destination),
				Err:             err.Error(),
			})
			r.lastErrorMu.Lock()
			r.lastError = err.Error()
			r.lastErrorMu.Unlock()
			slog.Error("check search request", "search_request_id", req.ID, "error", err.Error())
			continue
		}
		summary.Succeeded++
	}
	summary.FinishedAt = time.Now().UTC()

	r.totalRuns.Add(1)
	r.totalChecked.Add(int64(summary.Total))
	r.totalSucceeded.Add(int64(summary.Succeeded))
	r.totalFailed.Add(int64(summary.Failed))

	return summary, nil
}

func (r *Refresher) processOne(ctx context.Context, req *models.SearchRequest) error {
	now := time.Now().UTC()

	if r.rl != nil && r.rateLimitPerMinute > 0 {
		minuteKey := fmt.Sprintf("rl:serpapi:%s", now.Format("200601021504"))
		allowed, n, err := r.rl.Allow(ctx, minuteKey, r.rateLimitPerMinute, 70*time.Second)
		if err != nil {
			return err
		}
		if !allowed {
			// Over the provider quota for this minute: back off a little
			// before the call instead of dropping the request.
			slog.Warn("provider rate limit exceeded", "count", n)
			time.Sleep(500 * time.Millisecond)
		}
	}

	res, err := r.flights.Search(ctx, flights.Query{
		Origin:        req.Origin,
		Destination:   req.Destination,
		DepartureDate: req.DepartureDate,
		ReturnDate:    req.ReturnDate,
		TripType:      req.TripType,
		Airlines:      req.Airlines,
		Stops:         req.Stops,
	})
	if err != nil {
		return errors.Wrap(err, "search flights")
	}
	if res.NoResults || res.Offer == nil {
		return errors.New("search completed but no offer found")
	}
	offer := res.Offer

	// The pre-update record carries the old minimum and the notification
	// baseline; the alerts consumer needs both as they were before this
	// check is applied.
	old, err := r.repo.GetPriceRecord(ctx, req.ID)
	if err != nil {
		return errors.Wrap(err, "get price record")
	}

	var details *string
	if len(offer.Details) > 0 {
		s := string(offer.Details)
		details = &s
	}
	var link *string
	if offer.Link != "" {
		link = &offer.Link
	}

	err = r.repo.ApplyPriceUpdate(ctx, pgsearch.PriceUpdate{
		SearchRequestID: req.ID,
		CheckedAt:       now,
		LatestPrice:     offer.Price,
		Currency:        offer.Currency,
		Airlines:        offer.Airlines,
		FlightDetails:   details,
		FlightLink:      link,
	})
	if err != nil {
		return errors.Wrap(err, "apply price update")
	}

	if r.producer == nil {
		return nil
	}

	msg := messages.PriceUpdated{
		SearchRequestID: req.ID,
		UserID:          req.UserID,
		CheckedAt:       now,
		Origin:          req.Origin,
		Destination:     req.Destination,
		DepartureDate:   req.DepartureDate.Format("2006-01-02"),
		LatestPrice:     offer.Price,
		Currency:        offer.Currency,
		Airlines:        offer.Airlines,
		Details:         offer.Details,
	}
	if link != nil {
		msg.FlightLink = link
	}
	if old != nil {
		msg.OldMinimumPrice = old.MinimumPrice
		msg.LastNotifiedPrice = old.LastNotifiedPrice
	}

	b, err := json.Marshal(msg)
	if err != nil {
		return errors.Wrap(err, "marshal price updated")
	}

	// The record is already durable; publishing is retried briefly so a
	// broker hiccup does not immediately cost the notification.
	key := []byte(fmt.Sprintf("%d", req.ID))
	var pubErr error
	for i := 0; i < 5; i++ {
		if err := r.producer.Publish(ctx, r.topic, key, b); err == nil {
			pubErr = nil
			break
		} else {
			pubErr = err
			time.Sleep(time.Duration(150*(i+1)) * time.Millisecond)
		}
	}
	if pubErr != nil {
		return errors.Wrap(pubErr, "publish price updated")
	}
	return nil
}
