package sqlite

import (
	"context"
	"fmt"

	"cinewave/internal/core/domain"
)

func (s *Store) Upsert(ctx context.Context, roomID domain.RoomID, userID domain.UserID) (err error) {
	ctx, end := s.trace(ctx, "upsert", "watch_party_members")
	defer end(&err)

	_, err = s.sqlDB.ExecContext(ctx,
		`INSERT INTO watch_party_members (room_id, user_id, joined_at) VALUES (?, ?, ?)
		 ON CONFLICT (room_id, user_id) DO NOTHING`,
		string(roomID), string(userID), toMillis(s.now()),
	)
	if err != nil {
		if isForeignKeyViolation(err) {
			return domain.ErrRoomNotFound
		}
		return fmt.Errorf("upsert membership: %w", err)
	}
	return nil
}

func (s *Store) Remove(ctx context.Context, roomID domain.RoomID, userID domain.UserID) error {
	_, err := s.sqlDB.ExecContext(ctx,
		`DELETE FROM watch_party_members WHERE room_id = ? AND user_id = ?`,
		string(roomID), string(userID),
	)
	if err != nil {
		return fmt.Errorf("remove membership: %w", err)
	}
	return nil
}

func (s *Store) ListMembers(ctx context.Context, roomID domain.RoomID) (domain.Roster, error) {
	rows, err := s.sqlDB.QueryContext(ctx,
		`SELECT m.user_id,
		        COALESCE(u.email, ''),
		        COALESCE(u.display_name, ''),
		        COALESCE(u.avatar_url, '')
		   FROM watch_party_members m
		   LEFT JOIN users u ON u.id = m.user_id
		  WHERE m.room_id = ?
		  ORDER BY m.joined_at, m.user_id`,
		string(roomID),
	)
	if err != nil {
		return nil, fmt.Errorf("list members: %w", err)
	}
	defer rows.Close()

	roster := domain.Roster{}
	for rows.Next() {
		var p domain.UserProfile
		var id string
		if err := rows.Scan(&id, &p.Email, &p.DisplayName, &p.AvatarURL); err != nil {
			return nil, fmt.Errorf("scan member: %w", err)
		}
		p.ID = domain.UserID(id)
		roster = append(roster, p.AsMember())
	}
	return roster, rows.Err()
}

func (s *Store) ListMemberships(ctx context.Context) (_ []domain.Membership, err error) {
	ctx, end := s.trace(ctx, "select", "watch_party_members")
	defer end(&err)

	rows, err := s.sqlDB.QueryContext(ctx,
		`SELECT room_id, user_id, joined_at FROM watch_party_members ORDER BY room_id, joined_at, user_id`,
	)
	if err != nil {
		return nil, fmt.Errorf("list memberships: %w", err)
	}
	defer rows.Close()

	var out []domain.Membership
	for rows.Next() {
		var roomID, userID string
		var joinedAt int64
		if err := rows.Scan(&roomID, &userID, &joinedAt); err != nil {
			return nil, fmt.Errorf("scan membership: %w", err)
		}
		out = append(out, domain.Membership{
			RoomID:   domain.RoomID(roomID),
			UserID:   domain.UserID(userID),
			JoinedAt: fromMillis(joinedAt),
		})
	}
	return out, rows.Err()
}
