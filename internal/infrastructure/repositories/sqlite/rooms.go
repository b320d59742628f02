package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"cinewave/internal/core/domain"
)

const roomColumns = `id, invite_code, host_user_id, movie_id, episode_id,
	position_seconds, is_playing, created_at, updated_at`

func (s *Store) Create(ctx context.Context, room *domain.Room) (err error) {
	ctx, end := s.trace(ctx, "insert", "watch_party_rooms")
	defer end(&err)

	now := s.now()
	if room.CreatedAt.IsZero() {
		room.CreatedAt = now
	}
	if room.UpdatedAt.IsZero() {
		room.UpdatedAt = room.CreatedAt
	}

	_, err = s.sqlDB.ExecContext(ctx,
		`INSERT INTO watch_party_rooms (`+roomColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		string(room.ID),
		string(room.InviteCode),
		string(room.HostUserID),
		string(room.MovieID),
		string(room.Playback.EpisodeID),
		room.Playback.CurrentTime,
		room.Playback.IsPlaying,
		toMillis(room.CreatedAt),
		toMillis(room.UpdatedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrInviteCodeTaken
		}
		return fmt.Errorf("create room: %w", err)
	}
	return nil
}

func (s *Store) GetByID(ctx context.Context, id domain.RoomID) (*domain.Room, error) {
	row := s.sqlDB.QueryRowContext(ctx,
		`SELECT `+roomColumns+` FROM watch_party_rooms WHERE id = ?`, string(id))
	return scanRoom(row)
}

func (s *Store) GetByInviteCode(ctx context.Context, code domain.InviteCode) (*domain.Room, error) {
	row := s.sqlDB.QueryRowContext(ctx,
		`SELECT `+roomColumns+` FROM watch_party_rooms WHERE invite_code = ?`, string(code))
	return scanRoom(row)
}

func (s *Store) UpdatePlayback(ctx context.Context, id domain.RoomID, state domain.PlaybackState) (err error) {
	ctx, end := s.trace(ctx, "update", "watch_party_rooms")
	defer end(&err)

	res, err := s.sqlDB.ExecContext(ctx,
		`UPDATE watch_party_rooms
		    SET position_seconds = ?, is_playing = ?, episode_id = ?, updated_at = ?
		  WHERE id = ?`,
		state.CurrentTime,
		state.IsPlaying,
		string(state.EpisodeID),
		toMillis(s.now()),
		string(id),
	)
	if err != nil {
		return fmt.Errorf("update room playback: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update room playback: %w", err)
	}
	if n == 0 {
		return domain.ErrRoomNotFound
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, id domain.RoomID) error {
	if _, err := s.sqlDB.ExecContext(ctx, `DELETE FROM watch_party_rooms WHERE id = ?`, string(id)); err != nil {
		return fmt.Errorf("delete room: %w", err)
	}
	return nil
}

func (s *Store) ListIdle(ctx context.Context, cutoff time.Time) ([]domain.RoomID, error) {
	rows, err := s.sqlDB.QueryContext(ctx,
		`SELECT r.id FROM watch_party_rooms r
		  WHERE r.updated_at < ?
		    AND NOT EXISTS (SELECT 1 FROM watch_party_members m WHERE m.room_id = r.id)
		  ORDER BY r.updated_at`,
		toMillis(cutoff),
	)
	if err != nil {
		return nil, fmt.Errorf("list idle rooms: %w", err)
	}
	defer rows.Close()

	var ids []domain.RoomID
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan idle room: %w", err)
		}
		ids = append(ids, domain.RoomID(id))
	}
	return ids, rows.Err()
}

func scanRoom(row *sql.Row) (*domain.Room, error) {
	var (
		id, code, host, movie, episode string
		position                       float64
		playing                        bool
		createdAt, updatedAt           int64
	)
	err := row.Scan(&id, &code, &host, &movie, &episode, &position, &playing, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrRoomNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan room: %w", err)
	}
	return &domain.Room{
		ID:         domain.RoomID(id),
		InviteCode: domain.InviteCode(code),
		HostUserID: domain.UserID(host),
		MovieID:    domain.MovieID(movie),
		Playback: domain.PlaybackState{
			CurrentTime: position,
			IsPlaying:   playing,
			EpisodeID:   domain.EpisodeID(episode),
		},
		CreatedAt: fromMillis(createdAt),
		UpdatedAt: fromMillis(updatedAt),
	}, nil
}
