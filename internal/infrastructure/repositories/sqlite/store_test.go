package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"cinewave/internal/core/domain"
)

func openTempStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "cinewave.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func newRoom(id, code string) *domain.Room {
	return &domain.Room{
		ID:         domain.RoomID(id),
		InviteCode: domain.InviteCode(code),
		HostUserID: "host",
		MovieID:    "movie-1",
	}
}

func TestOpenRequiresPath(t *testing.T) {
	t.Parallel()

	if _, err := Open(""); err == nil {
		t.Fatal("expected empty path error")
	}
}

func TestOpenIsIdempotent(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "cinewave.db")
	for i := 0; i < 2; i++ {
		store, err := Open(path)
		if err != nil {
			t.Fatalf("open #%d: %v", i, err)
		}
		_ = store.Close()
	}
}

func TestMigrateReportsOnlyPending(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "cinewave.db")
	applied, err := Migrate(ctx, path)
	if err != nil {
		t.Fatalf("first migrate: %v", err)
	}
	if len(applied) == 0 {
		t.Fatal("expected migrations on a fresh database")
	}

	applied, err = Migrate(ctx, path)
	if err != nil {
		t.Fatalf("second migrate: %v", err)
	}
	if len(applied) != 0 {
		t.Fatalf("expected nothing pending, got %v", applied)
	}
}

func TestRoomRoundTrip(t *testing.T) {
	t.Parallel()

	store := openTempStore(t)
	ctx := context.Background()
	room := newRoom("r1", "AB12CD")
	room.Playback.EpisodeID = "s01e01"
	if err := store.Create(ctx, room); err != nil {
		t.Fatalf("create room: %v", err)
	}

	got, err := store.GetByInviteCode(ctx, "AB12CD")
	if err != nil {
		t.Fatalf("get by invite: %v", err)
	}
	if got.ID != "r1" || got.HostUserID != "host" || got.Playback.EpisodeID != "s01e01" {
		t.Fatalf("unexpected room: %+v", got)
	}
	if got.Playback.IsPlaying || got.Playback.CurrentTime != 0 {
		t.Fatalf("new room should start paused at 0, got %+v", got.Playback)
	}

	state := domain.PlaybackState{CurrentTime: 42.5, IsPlaying: true, EpisodeID: "s01e02"}
	if err := store.UpdatePlayback(ctx, "r1", state); err != nil {
		t.Fatalf("update playback: %v", err)
	}
	got, err = store.GetByID(ctx, "r1")
	if err != nil {
		t.Fatalf("get by id: %v", err)
	}
	if got.Playback != state {
		t.Fatalf("playback = %+v, want %+v", got.Playback, state)
	}
}

func TestCreateRoomDuplicateInviteCode(t *testing.T) {
	t.Parallel()

	store := openTempStore(t)
	ctx := context.Background()
	if err := store.Create(ctx, newRoom("r1", "SAME01")); err != nil {
		t.Fatalf("create room: %v", err)
	}
	err := store.Create(ctx, newRoom("r2", "SAME01"))
	if !errors.Is(err, domain.ErrInviteCodeTaken) {
		t.Fatalf("err = %v, want ErrInviteCodeTaken", err)
	}
}

func TestMissingRoom(t *testing.T) {
	t.Parallel()

	store := openTempStore(t)
	ctx := context.Background()
	if _, err := store.GetByID(ctx, "nope"); !errors.Is(err, domain.ErrRoomNotFound) {
		t.Fatalf("get: err = %v", err)
	}
	if err := store.UpdatePlayback(ctx, "nope", domain.PlaybackState{}); !errors.Is(err, domain.ErrRoomNotFound) {
		t.Fatalf("update: err = %v", err)
	}
	if err := store.Upsert(ctx, "nope", "u1"); !errors.Is(err, domain.ErrRoomNotFound) {
		t.Fatalf("upsert: err = %v", err)
	}
}

func TestMembershipIsOneRowPerUser(t *testing.T) {
	t.Parallel()

	store := openTempStore(t)
	ctx := context.Background()
	if err := store.Create(ctx, newRoom("r1", "AAAAAA")); err != nil {
		t.Fatalf("create room: %v", err)
	}
	if err := store.UpsertProfile(ctx, &domain.UserProfile{ID: "u1", DisplayName: "Alice", AvatarURL: "a.png"}); err != nil {
		t.Fatalf("upsert profile: %v", err)
	}

	for i := 0; i < 3; i++ {
		if err := store.Upsert(ctx, "r1", "u1"); err != nil {
			t.Fatalf("upsert #%d: %v", i, err)
		}
	}
	if err := store.Upsert(ctx, "r1", "u2"); err != nil {
		t.Fatalf("upsert u2: %v", err)
	}

	roster, err := store.ListMembers(ctx, "r1")
	if err != nil {
		t.Fatalf("list members: %v", err)
	}
	if len(roster) != 2 {
		t.Fatalf("roster = %+v, want 2 entries", roster)
	}
	if roster[0] != (domain.Member{UserID: "u1", DisplayName: "Alice", AvatarRef: "a.png"}) {
		t.Fatalf("roster[0] = %+v", roster[0])
	}
	if roster[1].DisplayName != "Anonymous" {
		t.Fatalf("user without profile should be Anonymous, got %q", roster[1].DisplayName)
	}

	if err := store.Remove(ctx, "r1", "u1"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	roster, _ = store.ListMembers(ctx, "r1")
	if len(roster) != 1 || roster[0].UserID != "u2" {
		t.Fatalf("roster after remove = %+v", roster)
	}
}

func TestListMembershipsSpansRooms(t *testing.T) {
	t.Parallel()

	store := openTempStore(t)
	ctx := context.Background()
	for _, r := range []*domain.Room{newRoom("r1", "AAAAAA"), newRoom("r2", "BBBBBB")} {
		if err := store.Create(ctx, r); err != nil {
			t.Fatalf("create room: %v", err)
		}
	}
	for _, m := range []domain.Membership{{RoomID: "r2", UserID: "u1"}, {RoomID: "r1", UserID: "u2"}} {
		if err := store.Upsert(ctx, m.RoomID, m.UserID); err != nil {
			t.Fatalf("upsert: %v", err)
		}
	}

	rows, err := store.ListMemberships(ctx)
	if err != nil {
		t.Fatalf("list memberships: %v", err)
	}
	if len(rows) != 2 || rows[0].RoomID != "r1" || rows[0].UserID != "u2" || rows[1].RoomID != "r2" {
		t.Fatalf("memberships = %+v", rows)
	}
	if rows[0].JoinedAt.IsZero() {
		t.Fatal("joined_at not read back")
	}
}

func TestListIdleSkipsOccupiedAndFreshRooms(t *testing.T) {
	t.Parallel()

	store := openTempStore(t)
	ctx := context.Background()
	base := time.Date(2026, time.March, 1, 12, 0, 0, 0, time.UTC)

	store.now = func() time.Time { return base }
	for _, r := range []*domain.Room{newRoom("old-empty", "OLD001"), newRoom("old-busy", "OLD002")} {
		if err := store.Create(ctx, r); err != nil {
			t.Fatalf("create %s: %v", r.ID, err)
		}
	}
	if err := store.Upsert(ctx, "old-busy", "u1"); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	store.now = func() time.Time { return base.Add(2 * time.Hour) }
	if err := store.Create(ctx, newRoom("fresh", "NEW001")); err != nil {
		t.Fatalf("create fresh: %v", err)
	}

	ids, err := store.ListIdle(ctx, base.Add(time.Hour))
	if err != nil {
		t.Fatalf("list idle: %v", err)
	}
	if len(ids) != 1 || ids[0] != "old-empty" {
		t.Fatalf("idle = %v, want [old-empty]", ids)
	}

	if err := store.Delete(ctx, "old-busy"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	roster, _ := store.ListMembers(ctx, "old-busy")
	if len(roster) != 0 {
		t.Fatalf("memberships should cascade, got %+v", roster)
	}
}

func TestMaxStreamsByPlan(t *testing.T) {
	t.Parallel()

	store := openTempStore(t)
	ctx := context.Background()
	now := time.Date(2026, time.March, 1, 0, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return now }

	n, err := store.MaxStreams(ctx, "nobody")
	if err != nil || n != 1 {
		t.Fatalf("no subscription: n=%d err=%v, want FREE=1", n, err)
	}

	sub := &domain.Subscription{UserID: "u1", Plan: domain.PlanPremium, Status: domain.SubscriptionActive, ExpiresAt: now.Add(24 * time.Hour)}
	if err := store.PutSubscription(ctx, sub); err != nil {
		t.Fatalf("put subscription: %v", err)
	}
	if n, _ := store.MaxStreams(ctx, "u1"); n != 2 {
		t.Fatalf("premium max = %d, want 2", n)
	}

	store.now = func() time.Time { return now.Add(48 * time.Hour) }
	if n, _ := store.MaxStreams(ctx, "u1"); n != 1 {
		t.Fatalf("expired premium max = %d, want FREE=1", n)
	}

	bad := &domain.Subscription{UserID: "u2", Plan: "GOLD", Status: domain.SubscriptionActive, ExpiresAt: now}
	if err := store.PutSubscription(ctx, bad); err == nil {
		t.Fatal("expected unknown plan error")
	}
}

func TestExtractUp(t *testing.T) {
	t.Parallel()

	got := extractUp("-- +migrate Up\nCREATE TABLE a (x);\n-- +migrate Down\nDROP TABLE a;\n")
	if got != "\nCREATE TABLE a (x);\n" {
		t.Fatalf("extractUp = %q", got)
	}
}
