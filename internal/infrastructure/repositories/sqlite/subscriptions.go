package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"cinewave/internal/core/domain"
)

func (s *Store) MaxStreams(ctx context.Context, userID domain.UserID) (int, error) {
	var maxStreams int
	err := s.sqlDB.QueryRowContext(ctx,
		`SELECT p.max_streams
		   FROM subscriptions s
		   JOIN subscription_plans p ON p.name = s.plan_name
		  WHERE s.user_id = ? AND s.status = ? AND s.expires_at > ?`,
		string(userID), string(domain.SubscriptionActive), toMillis(s.now()),
	).Scan(&maxStreams)
	if err == nil {
		return maxStreams, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("resolve subscription: %w", err)
	}

	err = s.sqlDB.QueryRowContext(ctx,
		`SELECT max_streams FROM subscription_plans WHERE name = ?`, string(domain.PlanFree),
	).Scan(&maxStreams)
	if err != nil {
		return 0, fmt.Errorf("resolve free plan: %w", err)
	}
	return maxStreams, nil
}

func (s *Store) PutSubscription(ctx context.Context, sub *domain.Subscription) error {
	_, err := s.sqlDB.ExecContext(ctx,
		`INSERT INTO subscriptions (user_id, plan_name, status, expires_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT (user_id) DO UPDATE SET
		     plan_name = excluded.plan_name,
		     status = excluded.status,
		     expires_at = excluded.expires_at`,
		string(sub.UserID), string(sub.Plan), string(sub.Status), toMillis(sub.ExpiresAt),
	)
	if err != nil {
		if isForeignKeyViolation(err) {
			return fmt.Errorf("unknown plan %q", sub.Plan)
		}
		return fmt.Errorf("put subscription: %w", err)
	}
	return nil
}
