package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"cinewave/internal/core/domain"
	"cinewave/internal/core/ports"
)

type membership struct {
	userID   domain.UserID
	joinedAt time.Time
}

// Store keeps rooms, memberships, profiles and subscriptions in process.
// It backs single-instance deployments without a sqlite_path and tests.
type Store struct {
	mu            sync.RWMutex
	rooms         map[domain.RoomID]*domain.Room
	inviteIndex   map[domain.InviteCode]domain.RoomID
	members       map[domain.RoomID]map[domain.UserID]membership
	profiles      map[domain.UserID]*domain.UserProfile
	subscriptions map[domain.UserID]*domain.Subscription
	plans         map[domain.PlanName]domain.Plan
	now           func() time.Time
}

var (
	_ ports.RoomRepository         = (*Store)(nil)
	_ ports.MembershipRepository   = (*Store)(nil)
	_ ports.UserDirectory          = (*Store)(nil)
	_ ports.SubscriptionRepository = (*Store)(nil)
)

func NewStore() *Store {
	return &Store{
		rooms:         make(map[domain.RoomID]*domain.Room),
		inviteIndex:   make(map[domain.InviteCode]domain.RoomID),
		members:       make(map[domain.RoomID]map[domain.UserID]membership),
		profiles:      make(map[domain.UserID]*domain.UserProfile),
		subscriptions: make(map[domain.UserID]*domain.Subscription),
		plans: map[domain.PlanName]domain.Plan{
			domain.PlanFree:    {Name: domain.PlanFree, MaxStreams: 1, DurationDays: 36500},
			domain.PlanPremium: {Name: domain.PlanPremium, MaxStreams: 2, DurationDays: 30},
		},
		now: time.Now,
	}
}

// SetClock replaces the store's time source.
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

func (s *Store) Create(ctx context.Context, room *domain.Room) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, taken := s.inviteIndex[room.InviteCode]; taken {
		return domain.ErrInviteCodeTaken
	}
	now := s.now()
	if room.CreatedAt.IsZero() {
		room.CreatedAt = now
	}
	if room.UpdatedAt.IsZero() {
		room.UpdatedAt = room.CreatedAt
	}
	stored := *room
	s.rooms[room.ID] = &stored
	s.inviteIndex[room.InviteCode] = room.ID
	return nil
}

func (s *Store) GetByID(ctx context.Context, id domain.RoomID) (*domain.Room, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	room, ok := s.rooms[id]
	if !ok {
		return nil, domain.ErrRoomNotFound
	}
	cp := *room
	return &cp, nil
}

func (s *Store) GetByInviteCode(ctx context.Context, code domain.InviteCode) (*domain.Room, error) {
	s.mu.RLock()
	id, ok := s.inviteIndex[code]
	s.mu.RUnlock()
	if !ok {
		return nil, domain.ErrRoomNotFound
	}
	return s.GetByID(ctx, id)
}

func (s *Store) UpdatePlayback(ctx context.Context, id domain.RoomID, state domain.PlaybackState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	room, ok := s.rooms[id]
	if !ok {
		return domain.ErrRoomNotFound
	}
	room.Playback = state
	room.UpdatedAt = s.now()
	return nil
}

func (s *Store) Delete(ctx context.Context, id domain.RoomID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if room, ok := s.rooms[id]; ok {
		delete(s.inviteIndex, room.InviteCode)
		delete(s.rooms, id)
		delete(s.members, id)
	}
	return nil
}

func (s *Store) ListIdle(ctx context.Context, cutoff time.Time) ([]domain.RoomID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var idle []*domain.Room
	for id, room := range s.rooms {
		if len(s.members[id]) == 0 && room.UpdatedAt.Before(cutoff) {
			idle = append(idle, room)
		}
	}
	sort.Slice(idle, func(i, j int) bool { return idle[i].UpdatedAt.Before(idle[j].UpdatedAt) })

	ids := make([]domain.RoomID, len(idle))
	for i, room := range idle {
		ids[i] = room.ID
	}
	return ids, nil
}

func (s *Store) Upsert(ctx context.Context, roomID domain.RoomID, userID domain.UserID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.rooms[roomID]; !ok {
		return domain.ErrRoomNotFound
	}
	rows := s.members[roomID]
	if rows == nil {
		rows = make(map[domain.UserID]membership)
		s.members[roomID] = rows
	}
	if _, exists := rows[userID]; !exists {
		rows[userID] = membership{userID: userID, joinedAt: s.now()}
	}
	return nil
}

func (s *Store) Remove(ctx context.Context, roomID domain.RoomID, userID domain.UserID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if rows, ok := s.members[roomID]; ok {
		delete(rows, userID)
		if len(rows) == 0 {
			delete(s.members, roomID)
		}
	}
	return nil
}

func (s *Store) ListMemberships(ctx context.Context) ([]domain.Membership, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.Membership
	for roomID, rows := range s.members {
		for _, m := range rows {
			out = append(out, domain.Membership{RoomID: roomID, UserID: m.userID, JoinedAt: m.joinedAt})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].RoomID != out[j].RoomID {
			return out[i].RoomID < out[j].RoomID
		}
		return out[i].UserID < out[j].UserID
	})
	return out, nil
}

func (s *Store) ListMembers(ctx context.Context, roomID domain.RoomID) (domain.Roster, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows := make([]membership, 0, len(s.members[roomID]))
	for _, m := range s.members[roomID] {
		rows = append(rows, m)
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].joinedAt.Equal(rows[j].joinedAt) {
			return rows[i].userID < rows[j].userID
		}
		return rows[i].joinedAt.Before(rows[j].joinedAt)
	})

	roster := make(domain.Roster, 0, len(rows))
	for _, m := range rows {
		profile, ok := s.profiles[m.userID]
		if !ok {
			profile = &domain.UserProfile{ID: m.userID}
		}
		roster = append(roster, profile.AsMember())
	}
	return roster, nil
}

func (s *Store) GetProfile(ctx context.Context, id domain.UserID) (*domain.UserProfile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.profiles[id]
	if !ok {
		return nil, domain.ErrUserNotFound
	}
	cp := *p
	return &cp, nil
}

func (s *Store) UpsertProfile(ctx context.Context, profile *domain.UserProfile) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *profile
	if existing, ok := s.profiles[profile.ID]; ok {
		cp.CreatedAt = existing.CreatedAt
	} else if cp.CreatedAt.IsZero() {
		cp.CreatedAt = s.now()
	}
	s.profiles[profile.ID] = &cp
	return nil
}

func (s *Store) MaxStreams(ctx context.Context, userID domain.UserID) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if sub, ok := s.subscriptions[userID]; ok && sub.Effective(s.now()) {
		if plan, ok := s.plans[sub.Plan]; ok {
			return plan.MaxStreams, nil
		}
	}
	return s.plans[domain.PlanFree].MaxStreams, nil
}

func (s *Store) PutSubscription(ctx context.Context, sub *domain.Subscription) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.plans[sub.Plan]; !ok {
		return fmt.Errorf("unknown plan %q", sub.Plan)
	}
	cp := *sub
	s.subscriptions[sub.UserID] = &cp
	return nil
}
