package refresher

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/SoloFlyer/FareWatch/internal/broker/messages"
	"github.com/SoloFlyer/FareWatch/internal/integrations/flights"
	"github.com/SoloFlyer/FareWatch/internal/models"
	"github.com/SoloFlyer/FareWatch/internal/storage/pgsearch"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

type fakeRepo struct {
	requests []*models.SearchRequest
	records  map[uint64]*models.PriceRecord
	updates  []pgsearch.PriceUpdate

	listErr   error
	getErr    map[uint64]error
	updateErr map[uint64]error
}

func newFakeRepo(reqs ...*models.SearchRequest) *fakeRepo {
	return &fakeRepo{
		requests:  reqs,
		records:   make(map[uint64]*models.PriceRecord),
		getErr:    make(map[uint64]error),
		updateErr: make(map[uint64]error),
	}
}

func (f *fakeRepo) ListActiveSearchRequests(_ context.Context, _ time.Time) ([]*models.SearchRequest, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.requests, nil
}

func (f *fakeRepo) GetPriceRecord(_ context.Context, id uint64) (*models.PriceRecord, error) {
	if err := f.getErr[id]; err != nil {
		return nil, err
	}
	rec := f.records[id]
	if rec == nil {
		return nil, nil
	}
	// The real repository scans into a fresh struct; return a copy so the
	// caller's snapshot is not aliased to the record ApplyPriceUpdate mutates.
	cp := *rec
	return &cp, nil
}

func (f *fakeRepo) ApplyPriceUpdate(_ context.Context, upd pgsearch.PriceUpdate) error {
	if err := f.updateErr[upd.SearchRequestID]; err != nil {
		return err
	}
	f.updates = append(f.updates, upd)
	rec := f.records[upd.SearchRequestID]
	if rec == nil {
		rec = &models.PriceRecord{SearchRequestID: upd.SearchRequestID}
		f.records[upd.SearchRequestID] = rec
	}
	if rec.MinimumPrice == nil || upd.LatestPrice < *rec.MinimumPrice {
		p := upd.LatestPrice
		rec.MinimumPrice = &p
	}
	p := upd.LatestPrice
	rec.LatestPrice = &p
	t := upd.CheckedAt
	rec.LastChecked = &t
	rec.Currency = upd.Currency
	rec.Airlines = upd.Airlines
	return nil
}

type fakeFlights struct {
	prices    map[string]float64
	noResults map[string]bool
	errs      map[string]error
	calls     []flights.Query
}

func route(q flights.Query) string { return q.Origin + q.Destination }

func (f *fakeFlights) Search(_ context.Context, q flights.Query) (flights.Result, error) {
	f.calls = append(f.calls, q)
	r := route(q)
	if err := f.errs[r]; err != nil {
		return flights.Result{}, err
	}
	if f.noResults[r] {
		return flights.Result{NoResults: true}, nil
	}
	return flights.Result{Offer: &flights.Offer{
		Price:    f.prices[r],
		Currency: "USD",
		Airlines: []string{"Delta"},
		Details:  json.RawMessage(`{"legs":1}`),
		Link:     "https://www.google.com/travel/flights",
	}}, nil
}

type fakeProducer struct {
	published [][]byte
	failN     int
	err       error
}

func (f *fakeProducer) Publish(_ context.Context, _ string, _, value []byte) error {
	if f.failN > 0 {
		f.failN--
		return errors.New("broker unavailable")
	}
	if f.err != nil {
		return f.err
	}
	f.published = append(f.published, value)
	return nil
}

func req(id uint64, origin, dest string) *models.SearchRequest {
	return &models.SearchRequest{
		ID:            id,
		UserID:        7,
		Origin:        origin,
		Destination:   dest,
		DepartureDate: time.Now().UTC().AddDate(0, 1, 0),
		TripType:      models.TripTypeOneWay,
		Stops:         0,
	}
}

func TestRunOnce_FirstCheckSetsRecordAndPublishes(t *testing.T) {
	repo := newFakeRepo(req(1, "JFK", "LAX"))
	fc := &fakeFlights{prices: map[string]float64{"JFKLAX": 250}}
	prod := &fakeProducer{}

	r := New(repo, fc, prod, nil, "price-updated")
	summary, err := r.RunOnce(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, summary.Total)
	require.Equal(t, 1, summary.Succeeded)
	require.Equal(t, 0, summary.Failed)
	require.True(t, summary.AllSucceeded())

	rec := repo.records[1]
	require.NotNil(t, rec)
	require.Equal(t, 250.0, *rec.MinimumPrice)
	require.Equal(t, 250.0, *rec.LatestPrice)
	require.NotNil(t, rec.LastChecked)

	require.Len(t, prod.published, 1)
	var msg messages.PriceUpdated
	require.NoError(t, json.Unmarshal(prod.published[0], &msg))
	require.Equal(t, uint64(1), msg.SearchRequestID)
	require.Equal(t, uint64(7), msg.UserID)
	require.Equal(t, 250.0, msg.LatestPrice)
	require.Nil(t, msg.OldMinimumPrice)
}

func TestRunOnce_CarriesPreUpdateBaseline(t *testing.T) {
	repo := newFakeRepo(req(1, "JFK", "LAX"))
	min := 250.0
	notified := 240.0
	repo.records[1] = &models.PriceRecord{SearchRequestID: 1, MinimumPrice: &min, LastNotifiedPrice: &notified}
	fc := &fakeFlights{prices: map[string]float64{"JFKLAX": 199}}
	prod := &fakeProducer{}

	_, err := New(repo, fc, prod, nil, "price-updated").RunOnce(context.Background())
	require.NoError(t, err)

	var msg messages.PriceUpdated
	require.NoError(t, json.Unmarshal(prod.published[0], &msg))
	require.Equal(t, 250.0, *msg.OldMinimumPrice)
	require.Equal(t, 240.0, *msg.LastNotifiedPrice)
	require.Equal(t, 199.0, msg.LatestPrice)

	require.Equal(t, 199.0, *repo.records[1].MinimumPrice)
}

func TestRunOnce_MiddleFailureIsIsolated(t *testing.T) {
	repo := newFakeRepo(req(1, "JFK", "LAX"), req(2, "SFO", "ORD"), req(3, "BOS", "MIA"))
	fc := &fakeFlights{
		prices: map[string]float64{"JFKLAX": 300, "BOSMIA": 120},
		errs:   map[string]error{"SFOORD": errors.New("provider timeout")},
	}
	prod := &fakeProducer{}

	summary, err := New(repo, fc, prod, nil, "price-updated").RunOnce(context.Background())
	require.NoError(t, err)
	require.Equal(t, 3, summary.Total)
	require.Equal(t, 2, summary.Succeeded)
	require.Equal(t, 1, summary.Failed)
	require.Equal(t, summary.Total, summary.Succeeded+summary.Failed)

	require.Len(t, summary.Failures, 1)
	require.Equal(t, uint64(2), summary.Failures[0].SearchRequestID)
	require.Equal(t, "SFO -> ORD", summary.Failures[0].Route)
	require.Contains(t, summary.Failures[0].Err, "provider timeout")

	require.Len(t, repo.updates, 2)
	require.Nil(t, repo.records[2])
	require.Len(t, prod.published, 2)
}

func TestRunOnce_NoResultsCountsAsFailure(t *testing.T) {
	repo := newFakeRepo(req(1, "JFK", "LAX"))
	fc := &fakeFlights{noResults: map[string]bool{"JFKLAX": true}}

	summary, err := New(repo, fc, &fakeProducer{}, nil, "price-updated").RunOnce(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, summary.Failed)
	require.Contains(t, summary.Failures[0].Err, "no offer found")
	require.Empty(t, repo.updates)
}

func TestRunOnce_UpsertFailureLeavesRecordUntouched(t *testing.T) {
	repo := newFakeRepo(req(1, "JFK", "LAX"))
	min := 250.0
	repo.records[1] = &models.PriceRecord{SearchRequestID: 1, MinimumPrice: &min}
	repo.updateErr[1] = errors.New("db down")
	fc := &fakeFlights{prices: map[string]float64{"JFKLAX": 100}}
	prod := &fakeProducer{}

	summary, err := New(repo, fc, prod, nil, "price-updated").RunOnce(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, summary.Failed)
	require.Equal(t, 250.0, *repo.records[1].MinimumPrice)
	require.Nil(t, repo.records[1].LatestPrice)
	require.Empty(t, prod.published)
}

func TestRunOnce_PublishFailureCountsAsFailureAfterRetries(t *testing.T) {
	repo := newFakeRepo(req(1, "JFK", "LAX"))
	fc := &fakeFlights{prices: map[string]float64{"JFKLAX": 250}}
	prod := &fakeProducer{err: errors.New("broker gone")}

	summary, err := New(repo, fc, prod, nil, "price-updated").RunOnce(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, summary.Failed)
	require.Contains(t, summary.Failures[0].Err, "publish price updated")

	// The update itself is durable even though the event never went out.
	require.Len(t, repo.updates, 1)
}

func TestRunOnce_PublishRetriesTransientErrors(t *testing.T) {
	repo := newFakeRepo(req(1, "JFK", "LAX"))
	fc := &fakeFlights{prices: map[string]float64{"JFKLAX": 250}}
	prod := &fakeProducer{failN: 2}

	summary, err := New(repo, fc, prod, nil, "price-updated").RunOnce(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, summary.Succeeded)
	require.Len(t, prod.published, 1)
}

func TestRunOnce_ListFailureIsFatal(t *testing.T) {
	repo := newFakeRepo()
	repo.listErr = errors.New("connection refused")

	_, err := New(repo, &fakeFlights{}, &fakeProducer{}, nil, "price-updated").RunOnce(context.Background())
	require.Error(t, err)
	require.Contains(t, err.Error(), "list active search requests")
}

func TestRunOnce_EmptyListSucceeds(t *testing.T) {
	summary, err := New(newFakeRepo(), &fakeFlights{}, &fakeProducer{}, nil, "price-updated").RunOnce(context.Background())
	require.NoError(t, err)
	require.Equal(t, 0, summary.Total)
	require.True(t, summary.AllSucceeded())
}

func TestRunOnce_RerunIsIdempotentOnMinimum(t *testing.T) {
	repo := newFakeRepo(req(1, "JFK", "LAX"))
	fc := &fakeFlights{prices: map[string]float64{"JFKLAX": 250}}
	r := New(repo, fc, &fakeProducer{}, nil, "price-updated")

	for i := 0; i < 3; i++ {
		summary, err := r.RunOnce(context.Background())
		require.NoError(t, err)
		require.Equal(t, 1, summary.Succeeded)
	}
	require.Equal(t, 250.0, *repo.records[1].MinimumPrice)
	require.Equal(t, 250.0, *repo.records[1].LatestPrice)
}

func TestRunOnce_QueryCarriesRequestFields(t *testing.T) {
	rq := req(1, "JFK", "LAX")
	rq.TripType = models.TripTypeRoundTrip
	ret := rq.DepartureDate.AddDate(0, 0, 7)
	rq.ReturnDate = &ret
	rq.Airlines = []string{"Delta", "United"}
	rq.Stops = 2

	fc := &fakeFlights{prices: map[string]float64{"JFKLAX": 250}}
	_, err := New(newFakeRepo(rq), fc, &fakeProducer{}, nil, "price-updated").RunOnce(context.Background())
	require.NoError(t, err)

	require.Len(t, fc.calls, 1)
	q := fc.calls[0]
	require.Equal(t, models.TripTypeRoundTrip, q.TripType)
	require.NotNil(t, q.ReturnDate)
	require.Equal(t, []string{"Delta", "United"}, q.Airlines)
	require.Equal(t, 2, q.Stops)
}
