package pgsearch

import (
	"context"

	"github.com/pkg/errors"
)

func (s *Storage) initSchema(ctx context.Context) error {
	stmts := []string{
		`
CREATE TABLE IF NOT EXISTS users (
  id BIGSERIAL PRIMARY KEY,
  email TEXT NOT NULL UNIQUE,
  password_hash TEXT NOT NULL,
  created_at TIMESTAMPTZ NOT NULL
)`,
		`
CREATE TABLE IF NOT EXISTS search_requests (
  id BIGSERIAL PRIMARY KEY,
  user_id BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
  origin TEXT NOT NULL,
  destination TEXT NOT NULL,
  departure_date DATE NOT NULL,
  return_date DATE NULL,
  trip_type TEXT NOT NULL,
  airlines TEXT[] NOT NULL DEFAULT '{}',
  stops INT NOT NULL DEFAULT 0,
  created_at TIMESTAMPTZ NOT NULL,
  updated_at TIMESTAMPTZ NOT NULL
)`,
		`CREATE INDEX IF NOT EXISTS idx_search_requests_user_id ON search_requests(user_id)`,
		`CREATE INDEX IF NOT EXISTS idx_search_requests_departure_date ON search_requests(departure_date)`,
		`
CREATE TABLE IF NOT EXISTS price_records (
  search_request_id BIGINT PRIMARY KEY REFERENCES search_requests(id) ON DELETE CASCADE,
  minimum_price DOUBLE PRECISION NULL,
  last_checked TIMESTAMPTZ NULL,
  last_notified_price DOUBLE PRECISION NULL,
  latest_price DOUBLE PRECISION NULL,
  currency TEXT NOT NULL DEFAULT 'USD',
  airlines TEXT[] NOT NULL DEFAULT '{}',
  flight_details JSONB NULL,
  flight_link TEXT NULL,
  updated_at TIMESTAMPTZ NOT NULL
)`,
	}

	for _, q := range stmts {
		if _, err := s.db.Exec(ctx, q); err != nil {
			return errors.Wrap(err, "init schema")
		}
	}
	return nil
}
