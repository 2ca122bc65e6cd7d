package pgsearch

import (
	"context"
	"time"

	"github.com/SoloFlyer/FareWatch/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"
)

func (s *Storage) CreateUser(ctx context.Context, in models.UserCreateInput) (*models.User, error) {
	now := time.Now().UTC()

	var u models.User
	err := s.db.QueryRow(ctx, `
INSERT INTO users (email, password_hash, created_at)
VALUES ($1,$2,$3)
RETURNING id, email, password_hash, created_at
`, in.Email, in.PasswordHash, now).Scan(&u.ID, &u.Email, &u.PasswordHash, &u.CreatedAt)
	if err != nil {
		return nil, errors.Wrap(err, "insert user")
	}
	return &u, nil
}

func (s *Storage) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	var u models.User
	err := s.db.QueryRow(ctx, `
SELECT id, email, password_hash, created_at FROM users WHERE email = $1
`, email).Scan(&u.ID, &u.Email, &u.PasswordHash, &u.CreatedAt)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "select user by email")
	}
	return &u, nil
}

func (s *Storage) GetUserByID(ctx context.Context, id uint64) (*models.User, error) {
	var u models.User
	err := s.db.QueryRow(ctx, `
SELECT id, email, password_hash, created_at FROM users WHERE id = $1
`, id).Scan(&u.ID, &u.Email, &u.PasswordHash, &u.CreatedAt)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "select user by id")
	}
	return &u, nil
}
