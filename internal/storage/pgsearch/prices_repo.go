package pgsearch

import (
	"context"
	"time"

	"github.com/SoloFlyer/FareWatch/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"
)

// PriceUpdate is one successful provider check for one search request.
type PriceUpdate struct {
	SearchRequestID uint64

	CheckedAt time.Time

	LatestPrice   float64
	Currency      string
	Airlines      []string
	FlightDetails *string
	FlightLink    *string
}

func (s *Storage) GetPriceRecord(ctx context.Context, searchRequestID uint64) (*models.PriceRecord, error) {
	var r models.PriceRecord
	err := s.db.QueryRow(ctx, `
SELECT
  search_request_id, minimum_price, last_checked, last_notified_price,
  latest_price, currency, airlines, flight_details, flight_link, updated_at
FROM price_records
WHERE search_request_id = $1
`, searchRequestID).Scan(
		&r.SearchRequestID, &r.MinimumPrice, &r.LastChecked, &r.LastNotifiedPrice,
		&r.LatestPrice, &r.Currency, &r.Airlines, &r.FlightDetails, &r.FlightLink, &r.UpdatedAt,
	)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "select price record")
	}
	return &r, nil
}

// ApplyPriceUpdate upserts the latest snapshot and lowers the recorded
// minimum when the new price beats it. The minimum is never raised.
func (s *Storage) ApplyPriceUpdate(ctx context.Context, upd PriceUpdate) error {
	_, err := s.db.Exec(ctx, `
INSERT INTO price_records (
  search_request_id, minimum_price, last_checked,
  latest_price, currency, airlines, flight_details, flight_link, updated_at
)
VALUES ($1,$3,$2,$3,$4,$5,$6,$7, now())
ON CONFLICT (search_request_id)
DO UPDATE SET
  minimum_price = CASE
    WHEN price_records.minimum_price IS NULL OR EXCLUDED.latest_price < price_records.minimum_price
    THEN EXCLUDED.latest_price
    ELSE price_records.minimum_price
  END,
  last_checked = EXCLUDED.last_checked,
  latest_price = EXCLUDED.latest_price,
  currency = EXCLUDED.currency,
  airlines = EXCLUDED.airlines,
  flight_details = EXCLUDED.flight_details,
  flight_link = EXCLUDED.flight_link,
  updated_at = now()
`, upd.SearchRequestID, upd.CheckedAt.UTC(), upd.LatestPrice, upd.Currency, upd.Airlines, upd.FlightDetails, upd.FlightLink)
	return errors.Wrap(err, "apply price update")
}

func (s *Storage) MarkPriceNotified(ctx context.Context, searchRequestID uint64, price float64) error {
	tag, err := s.db.Exec(ctx, `
UPDATE price_records
SET last_notified_price = $2, updated_at = now()
WHERE search_request_id = $1
`, searchRequestID, price)
	if err != nil {
		return errors.Wrap(err, "mark price notified")
	}
	if tag.RowsAffected() == 0 {
		return errors.New("price record not found")
	}
	return nil
}

// ResetPriceRecord wipes tracked prices after a material edit of the
// owning search request. The row itself stays.
func (s *Storage) ResetPriceRecord(ctx context.Context, searchRequestID uint64) error {
	_, err := s.db.Exec(ctx, `
UPDATE price_records
SET
  minimum_price = NULL,
  last_checked = NULL,
  last_notified_price = NULL,
  latest_price = NULL,
  currency = 'USD',
  airlines = '{}',
  flight_details = NULL,
  flight_link = NULL,
  updated_at = now()
WHERE search_request_id = $1
`, searchRequestID)
	return errors.Wrap(err, "reset price record")
}
