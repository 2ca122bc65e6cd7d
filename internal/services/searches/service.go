package searches

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/SoloFlyer/FareWatch/internal/cache"
	"github.com/SoloFlyer/FareWatch/internal/integrations/flights"
	"github.com/SoloFlyer/FareWatch/internal/models"
	"github.com/SoloFlyer/FareWatch/internal/storage/pgsearch"
	"github.com/pkg/errors"
	"golang.org/x/crypto/bcrypt"
)

type Repository interface {
	CreateUser(ctx context.Context, in models.UserCreateInput) (*models.User, error)
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)
	GetUserByID(ctx context.Context, id uint64) (*models.User, error)

	CreateSearchRequest(ctx context.Context, in models.SearchRequestCreateInput) (*models.SearchRequest, error)
	GetSearchRequestsByIDs(ctx context.Context, ids []uint64) ([]*models.SearchRequest, error)
	ListSearchRequestsByUser(ctx context.Context, userID uint64) ([]*models.SearchRequest, error)
	UpdateSearchRequest(ctx context.Context, req *models.SearchRequest) error
	DeleteSearchRequest(ctx context.Context, id, userID uint64) (bool, error)

	GetPriceRecord(ctx context.Context, searchRequestID uint64) (*models.PriceRecord, error)
	ApplyPriceUpdate(ctx context.Context, upd pgsearch.PriceUpdate) error
	ResetPriceRecord(ctx context.Context, searchRequestID uint64) error
}

var airportCodeRe = regexp.MustCompile(`^[A-Z]{3}$`)
var emailRe = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)

type Service struct {
	repo       Repository
	cache      cache.BytesCache
	flights    flights.Client
	currentTTL time.Duration
}

func New(repo Repository, c cache.BytesCache, fc flights.Client, currentTTL time.Duration) *Service {
	return &Service{repo: repo, cache: c, flights: fc, currentTTL: currentTTL}
}

func (s *Service) CreateUser(ctx context.Context, email, password string) (*models.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if !emailRe.MatchString(email) {
		return nil, errors.New("invalid email")
	}
	if len(password) < 8 {
		return nil, errors.New("password must be at least 8 characters")
	}
	if existing, err := s.repo.GetUserByEmail(ctx, email); err != nil {
		return nil, err
	} else if existing != nil {
		return nil, errors.New("email already registered")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, errors.Wrap(err, "hash password")
	}
	return s.repo.CreateUser(ctx, models.UserCreateInput{Email: email, PasswordHash: string(hash)})
}

func (s *Service) GetUser(ctx context.Context, id uint64) (*models.User, error) {
	if id == 0 {
		return nil, errors.New("userId is required")
	}
	return s.repo.GetUserByID(ctx, id)
}

func (s *Service) CreateSearchRequest(ctx context.Context, in models.SearchRequestCreateInput) (*models.SearchRequest, error) {
	if in.UserID == 0 {
		return nil, errors.New("userId is required")
	}
	if u, err := s.repo.GetUserByID(ctx, in.UserID); err != nil {
		return nil, err
	} else if u == nil {
		return nil, errors.New("user not found")
	}
	if err := normalizeInput(&in); err != nil {
		return nil, err
	}
	return s.repo.CreateSearchRequest(ctx, in)
}

func (s *Service) GetSearchRequest(ctx context.Context, id, userID uint64) (*models.SearchRequest, error) {
	req, err := s.ownedRequest(ctx, id, userID)
	if err != nil {
		return nil, err
	}
	return req, nil
}

func (s *Service) ListSearchRequests(ctx context.Context, userID uint64) ([]*models.SearchRequest, error) {
	if userID == 0 {
		return nil, errors.New("userId is required")
	}
	return s.repo.ListSearchRequestsByUser(ctx, userID)
}

// UpdateSearchRequest applies new criteria after validation. When any
// search criterion actually changed, the accumulated price history no
// longer describes the same search, so the price record is reset.
func (s *Service) UpdateSearchRequest(ctx context.Context, id uint64, in models.SearchRequestCreateInput) (*models.SearchRequest, error) {
	existing, err := s.ownedRequest(ctx, id, in.UserID)
	if err != nil {
		return nil, err
	}
	if err := normalizeInput(&in); err != nil {
		return nil, err
	}

	updated := &models.SearchRequest{
		ID:            id,
		UserID:        in.UserID,
		Origin:        in.Origin,
		Destination:   in.Destination,
		DepartureDate: in.DepartureDate,
		ReturnDate:    in.ReturnDate,
		TripType:      in.TripType,
		Airlines:      in.Airlines,
		Stops:         in.Stops,
	}
	if err := s.repo.UpdateSearchRequest(ctx, updated); err != nil {
		return nil, err
	}

	if criteriaChanged(existing, updated) {
		if err := s.repo.ResetPriceRecord(ctx, id); err != nil {
			return nil, errors.Wrap(err, "reset price record")
		}
		s.invalidatePrice(ctx, id)
	}

	out, err := s.repo.GetSearchRequestsByIDs(ctx, []uint64{id})
	if err != nil {
		return nil, err
	}
	if len(out) != 1 {
		return nil, errors.New("search request not found")
	}
	return out[0], nil
}

func (s *Service) DeleteSearchRequest(ctx context.Context, id, userID uint64) error {
	if id == 0 || userID == 0 {
		return errors.New("id and userId are required")
	}
	ok, err := s.repo.DeleteSearchRequest(ctx, id, userID)
	if err != nil {
		return err
	}
	if !ok {
		return errors.New("search request not found")
	}
	s.invalidatePrice(ctx, id)
	return nil
}

// GetPrice returns the price record for an owned search request,
// best-effort cached. The cache never has to be there.
func (s *Service) GetPrice(ctx context.Context, id, userID uint64) (*models.PriceRecord, error) {
	if _, err := s.ownedRequest(ctx, id, userID); err != nil {
		return nil, err
	}

	if s.cache != nil && s.currentTTL > 0 {
		if b, ok, err := s.cache.Get(ctx, priceKey(id)); err == nil && ok {
			var rec models.PriceRecord
			// A "null" payload decodes into a zero record without an error,
			// so an ID check is needed on top of the Unmarshal result.
			if json.Unmarshal(b, &rec) == nil && rec.SearchRequestID == id {
				return &rec, nil
			}
		}
	}

	rec, err := s.repo.GetPriceRecord(ctx, id)
	if err != nil {
		return nil, err
	}
	if rec != nil && s.cache != nil && s.currentTTL > 0 {
		if b, err := json.Marshal(rec); err == nil {
			_ = s.cache.Set(ctx, priceKey(id), b, s.currentTTL)
		}
	}
	return rec, nil
}

// RefreshNow performs an immediate on-demand price check for one owned
// request, outside the daily batch. Requires a flights client.
func (s *Service) RefreshNow(ctx context.Context, id, userID uint64) (*models.PriceRecord, error) {
	req, err := s.ownedRequest(ctx, id, userID)
	if err != nil {
		return nil, err
	}
	if s.flights == nil {
		return nil, errors.New("on-demand refresh is not available")
	}

	res, err := s.flights.Search(ctx, flights.Query{
		Origin:        req.Origin,
		Destination:   req.Destination,
		DepartureDate: req.DepartureDate,
		ReturnDate:    req.ReturnDate,
		TripType:      req.TripType,
		Airlines:      req.Airlines,
		Stops:         req.Stops,
	})
	if err != nil {
		return nil, errors.Wrap(err, "search flights")
	}
	if res.NoResults || res.Offer == nil {
		return nil, errors.New("search completed but no offer found")
	}

	var details *string
	if len(res.Offer.Details) > 0 {
		d := string(res.Offer.Details)
		details = &d
	}
	var link *string
	if res.Offer.Link != "" {
		link = &res.Offer.Link
	}
	err = s.repo.ApplyPriceUpdate(ctx, pgsearch.PriceUpdate{
		SearchRequestID: id,
		CheckedAt:       time.Now().UTC(),
		LatestPrice:     res.Offer.Price,
		Currency:        res.Offer.Currency,
		Airlines:        res.Offer.Airlines,
		FlightDetails:   details,
		FlightLink:      link,
	})
	if err != nil {
		return nil, errors.Wrap(err, "apply price update")
	}
	s.invalidatePrice(ctx, id)

	return s.repo.GetPriceRecord(ctx, id)
}

func (s *Service) ownedRequest(ctx context.Context, id, userID uint64) (*models.SearchRequest, error) {
	if id == 0 || userID == 0 {
		return nil, errors.New("id and userId are required")
	}
	out, err := s.repo.GetSearchRequestsByIDs(ctx, []uint64{id})
	if err != nil {
		return nil, err
	}
	if len(out) != 1 || out[0].UserID != userID {
		return nil, errors.New("search request not found")
	}
	return out[0], nil
}

func (s *Service) invalidatePrice(ctx context.Context, id uint64) {
	if s.cache == nil {
		return
	}
	_ = s.cache.Del(ctx, priceKey(id))
}

func normalizeInput(in *models.SearchRequestCreateInput) error {
	in.Origin = strings.ToUpper(strings.TrimSpace(in.Origin))
	in.Destination = strings.ToUpper(strings.TrimSpace(in.Destination))
	if !airportCodeRe.MatchString(in.Origin) {
		return errors.New("origin must be a 3-letter airport code")
	}
	if !airportCodeRe.MatchString(in.Destination) {
		return errors.New("destination must be a 3-letter airport code")
	}
	if in.Origin == in.Destination {
		return errors.New("origin and destination must differ")
	}

	if in.TripType == "" {
		in.TripType = models.TripTypeRoundTrip
	}
	if in.TripType != models.TripTypeOneWay && in.TripType != models.TripTypeRoundTrip {
		return errors.Errorf("unknown trip type %q", in.TripType)
	}

	today := time.Now().UTC().Truncate(24 * time.Hour)
	if in.DepartureDate.IsZero() {
		return errors.New("departureDate is required")
	}
	in.DepartureDate = in.DepartureDate.UTC().Truncate(24 * time.Hour)
	if in.DepartureDate.Before(today) {
		return errors.New("departureDate must not be in the past")
	}

	switch in.TripType {
	case models.TripTypeRoundTrip:
		if in.ReturnDate == nil || in.ReturnDate.IsZero() {
			return errors.New("returnDate is required for round trips")
		}
		rd := in.ReturnDate.UTC().Truncate(24 * time.Hour)
		if rd.Before(in.DepartureDate) {
			return errors.New("returnDate must not be before departureDate")
		}
		in.ReturnDate = &rd
	case models.TripTypeOneWay:
		if in.ReturnDate != nil {
			return errors.New("returnDate is not allowed for one-way trips")
		}
	}

	if in.Stops < 0 || in.Stops > models.MaxStops {
		return errors.Errorf("stops must be between 0 and %d", models.MaxStops)
	}

	clean := make([]string, 0, len(in.Airlines))
	seen := make(map[string]struct{}, len(in.Airlines))
	for _, a := range in.Airlines {
		a = strings.TrimSpace(a)
		if a == "" {
			continue
		}
		k := strings.ToLower(a)
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		clean = append(clean, a)
	}
	in.Airlines = clean

	return nil
}

func criteriaChanged(a, b *models.SearchRequest) bool {
	if a.Origin != b.Origin || a.Destination != b.Destination {
		return true
	}
	if !a.DepartureDate.Equal(b.DepartureDate) {
		return true
	}
	if (a.ReturnDate == nil) != (b.ReturnDate == nil) {
		return true
	}
	if a.ReturnDate != nil && b.ReturnDate != nil && !a.ReturnDate.Equal(*b.ReturnDate) {
		return true
	}
	if a.TripType != b.TripType || a.Stops != b.Stops {
		return true
	}
	if len(a.Airlines) != len(b.Airlines) {
		return true
	}
	for i := range a.Airlines {
		if a.Airlines[i] != b.Airlines[i] {
			return true
		}
	}
	return false
}

func priceKey(id uint64) string {
	return fmt.Sprintf("search:%d:price", id)
}
