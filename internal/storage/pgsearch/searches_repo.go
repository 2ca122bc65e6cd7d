package pgsearch

import (
	"context"
	"time"

	"github.com/SoloFlyer/FareWatch/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"
)

const searchRequestColumns = `
  id, user_id, origin, destination,
  departure_date, return_date, trip_type,
  airlines, stops,
  created_at, updated_at`

// CreateSearchRequest inserts the request together with its empty price
// record, so the one-record-per-request invariant holds from creation on.
func (s *Storage) CreateSearchRequest(ctx context.Context, in models.SearchRequestCreateInput) (*models.SearchRequest, error) {
	now := time.Now().UTC()

	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, errors.Wrap(err, "begin tx")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var id uint64
	err = tx.QueryRow(ctx, `
INSERT INTO search_requests (
  user_id, origin, destination, departure_date, return_date, trip_type, airlines, stops, created_at, updated_at
)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$9)
RETURNING id
`, in.UserID, in.Origin, in.Destination, in.DepartureDate, in.ReturnDate, in.TripType, in.Airlines, in.Stops, now).Scan(&id)
	if err != nil {
		return nil, errors.Wrap(err, "insert search request")
	}

	_, err = tx.Exec(ctx, `
INSERT INTO price_records (search_request_id, updated_at) VALUES ($1, $2)
`, id, now)
	if err != nil {
		return nil, errors.Wrap(err, "init price record")
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, errors.Wrap(err, "commit tx")
	}

	out, err := s.GetSearchRequestsByIDs(ctx, []uint64{id})
	if err != nil {
		return nil, err
	}
	if len(out) != 1 {
		return nil, errors.New("created search request not found")
	}
	return out[0], nil
}

func (s *Storage) GetSearchRequestsByIDs(ctx context.Context, ids []uint64) ([]*models.SearchRequest, error) {
	if len(ids) == 0 {
		return []*models.SearchRequest{}, nil
	}

	rows, err := s.db.Query(ctx, `
SELECT`+searchRequestColumns+`
FROM search_requests
WHERE id = ANY($1)
`, ids)
	if err != nil {
		return nil, errors.Wrap(err, "select search requests")
	}
	defer rows.Close()

	return scanSearchRequests(rows, len(ids))
}

func (s *Storage) ListSearchRequestsByUser(ctx context.Context, userID uint64) ([]*models.SearchRequest, error) {
	rows, err := s.db.Query(ctx, `
SELECT`+searchRequestColumns+`
FROM search_requests
WHERE user_id = $1
ORDER BY created_at DESC, id DESC
`, userID)
	if err != nil {
		return nil, errors.Wrap(err, "select user search requests")
	}
	defer rows.Close()

	return scanSearchRequests(rows, 0)
}

// ListActiveSearchRequests returns every request whose departure date has
// not passed as of asOf, ordered deterministically: departure date first,
// id as the tie-breaker. This is the refresher's work list.
func (s *Storage) ListActiveSearchRequests(ctx context.Context, asOf time.Time) ([]*models.SearchRequest, error) {
	rows, err := s.db.Query(ctx, `
SELECT`+searchRequestColumns+`
FROM search_requests
WHERE departure_date >= $1::date
ORDER BY departure_date ASC, id ASC
`, asOf.UTC())
	if err != nil {
		return nil, errors.Wrap(err, "select active search requests")
	}
	defer rows.Close()

	return scanSearchRequests(rows, 0)
}

func (s *Storage) UpdateSearchRequest(ctx context.Context, req *models.SearchRequest) error {
	tag, err := s.db.Exec(ctx, `
UPDATE search_requests
SET
  origin = $3,
  destination = $4,
  departure_date = $5,
  return_date = $6,
  trip_type = $7,
  airlines = $8,
  stops = $9,
  updated_at = now()
WHERE id = $1 AND user_id = $2
`, req.ID, req.UserID, req.Origin, req.Destination, req.DepartureDate, req.ReturnDate, req.TripType, req.Airlines, req.Stops)
	if err != nil {
		return errors.Wrap(err, "update search request")
	}
	if tag.RowsAffected() == 0 {
		return errors.New("search request not found")
	}
	return nil
}

func (s *Storage) DeleteSearchRequest(ctx context.Context, id, userID uint64) (bool, error) {
	tag, err := s.db.Exec(ctx, `
DELETE FROM search_requests WHERE id = $1 AND user_id = $2
`, id, userID)
	if err != nil {
		return false, errors.Wrap(err, "delete search request")
	}
	return tag.RowsAffected() > 0, nil
}

func scanSearchRequests(rows pgx.Rows, sizeHint int) ([]*models.SearchRequest, error) {
	out := make([]*models.SearchRequest, 0, sizeHint)
	for rows.Next() {
		var r models.SearchRequest
		var returnDate *time.Time
		if err := rows.Scan(
			&r.ID, &r.UserID, &r.Origin, &r.Destination,
			&r.DepartureDate, &returnDate, &r.TripType,
			&r.Airlines, &r.Stops,
			&r.CreatedAt, &r.UpdatedAt,
		); err != nil {
			return nil, errors.Wrap(err, "scan search request")
		}
		r.ReturnDate = returnDate
		out = append(out, &r)
	}
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}
	return out, nil
}
