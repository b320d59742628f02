package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"cinewave/internal/core/domain"
)

func (s *Store) GetProfile(ctx context.Context, id domain.UserID) (*domain.UserProfile, error) {
	var (
		p         domain.UserProfile
		createdAt int64
	)
	err := s.sqlDB.QueryRowContext(ctx,
		`SELECT email, display_name, avatar_url, created_at FROM users WHERE id = ?`, string(id),
	).Scan(&p.Email, &p.DisplayName, &p.AvatarURL, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get profile: %w", err)
	}
	p.ID = id
	p.CreatedAt = fromMillis(createdAt)
	return &p, nil
}

func (s *Store) UpsertProfile(ctx context.Context, p *domain.UserProfile) error {
	if p.CreatedAt.IsZero() {
		p.CreatedAt = s.now()
	}
	_, err := s.sqlDB.ExecContext(ctx,
		`INSERT INTO users (id, email, display_name, avatar_url, created_at) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET
		     email = excluded.email,
		     display_name = excluded.display_name,
		     avatar_url = excluded.avatar_url`,
		string(p.ID), p.Email, p.DisplayName, p.AvatarURL, toMillis(p.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("upsert profile: %w", err)
	}
	return nil
}
