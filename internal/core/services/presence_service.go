package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"cinewave/internal/core/domain"
	"cinewave/internal/core/ports"
)

type roomUser struct {
	room domain.RoomID
	user domain.UserID
}

type connPresence struct {
	member domain.Member
	rooms  map[domain.RoomID]struct{}
}

// PresenceService tracks which connection joined which room. A user may have
// several connections in one room, on this or other instances; the membership
// row exists once and is removed when the shared counter says the last of
// them left.
//
// One lock covers the local bookkeeping and the repository calls so a join
// racing the last leave of the same user on this instance cannot lose the
// row. Across instances the row is restored after a delete that raced a join.
type PresenceService struct {
	members ports.MembershipRepository
	counter ports.PresenceCounter
	logger  *zap.SugaredLogger

	mu    sync.Mutex
	conns map[string]*connPresence
	refs  map[roomUser]int
	users map[domain.UserID]domain.Member
}

var _ ports.PresenceService = (*PresenceService)(nil)

func NewPresenceService(members ports.MembershipRepository, counter ports.PresenceCounter, logger *zap.SugaredLogger) *PresenceService {
	return &PresenceService{
		members: members,
		counter: counter,
		logger:  logger,
		conns:   make(map[string]*connPresence),
		refs:    make(map[roomUser]int),
		users:   make(map[domain.UserID]domain.Member),
	}
}

func (p *PresenceService) Join(ctx context.Context, connID string, roomID domain.RoomID, member domain.Member) (domain.Roster, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	cp := p.conns[connID]
	if cp != nil {
		if _, joined := cp.rooms[roomID]; joined {
			return p.rosterLocked(ctx, roomID)
		}
	}

	if err := p.counter.Acquire(ctx, roomID, member.UserID); err != nil {
		return nil, err
	}
	if err := p.members.Upsert(ctx, roomID, member.UserID); err != nil {
		if _, releaseErr := p.counter.Release(ctx, roomID, member.UserID); releaseErr != nil {
			p.logger.Warnw("Failed to release presence after rejected join",
				"room_id", roomID, "user_id", member.UserID, "error", releaseErr)
		}
		return nil, err
	}

	if cp == nil {
		cp = &connPresence{member: member, rooms: make(map[domain.RoomID]struct{})}
		p.conns[connID] = cp
	}
	cp.rooms[roomID] = struct{}{}
	p.refs[roomUser{roomID, member.UserID}]++
	p.users[member.UserID] = member

	p.logger.Debugw("Connection joined room", "conn_id", connID, "room_id", roomID, "user_id", member.UserID)
	return p.rosterLocked(ctx, roomID)
}

// Leave reports false when the connection was not in the room.
func (p *PresenceService) Leave(ctx context.Context, connID string, roomID domain.RoomID) (domain.Roster, bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	left, err := p.leaveLocked(ctx, connID, roomID)
	if err != nil {
		return nil, left, err
	}
	roster, err := p.rosterLocked(ctx, roomID)
	return roster, left, err
}

// OnDisconnect leaves every room the connection joined and returns them in
// a stable order. Rosters are left to the caller to rebroadcast.
func (p *PresenceService) OnDisconnect(ctx context.Context, connID string) []domain.RoomID {
	p.mu.Lock()
	defer p.mu.Unlock()

	cp := p.conns[connID]
	if cp == nil {
		return nil
	}
	rooms := make([]domain.RoomID, 0, len(cp.rooms))
	for roomID := range cp.rooms {
		rooms = append(rooms, roomID)
	}
	sort.Slice(rooms, func(i, j int) bool { return rooms[i] < rooms[j] })

	for _, roomID := range rooms {
		if _, err := p.leaveLocked(ctx, connID, roomID); err != nil {
			p.logger.Warnw("Failed to remove membership on disconnect",
				"conn_id", connID, "room_id", roomID, "error", err)
		}
	}
	delete(p.conns, connID)
	return rooms
}

func (p *PresenceService) Roster(ctx context.Context, roomID domain.RoomID) (domain.Roster, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.rosterLocked(ctx, roomID)
}

func (p *PresenceService) IsJoined(connID string, roomID domain.RoomID) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	cp := p.conns[connID]
	if cp == nil {
		return false
	}
	_, ok := cp.rooms[roomID]
	return ok
}

// Connections counts connections tracked on this instance.
func (p *PresenceService) Connections() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.conns)
}

func (p *PresenceService) leaveLocked(ctx context.Context, connID string, roomID domain.RoomID) (bool, error) {
	cp := p.conns[connID]
	if cp == nil {
		return false, nil
	}
	if _, joined := cp.rooms[roomID]; !joined {
		return false, nil
	}
	delete(cp.rooms, roomID)

	userID := cp.member.UserID
	key := roomUser{roomID, userID}
	p.refs[key]--
	if p.refs[key] <= 0 {
		delete(p.refs, key)
		p.forgetUserLocked(userID)
	}

	// On a counter failure the row stays until Prune finds no live connection.
	remaining, err := p.counter.Release(ctx, roomID, userID)
	if err != nil {
		return true, err
	}
	if remaining > 0 {
		return true, nil
	}
	_, err = p.removeMembershipLocked(ctx, roomID, userID)
	return true, err
}

// removeMembershipLocked deletes the row, then puts it back when a join on
// another instance landed between the last release and the delete.
func (p *PresenceService) removeMembershipLocked(ctx context.Context, roomID domain.RoomID, userID domain.UserID) (bool, error) {
	if err := p.members.Remove(ctx, roomID, userID); err != nil && !errors.Is(err, domain.ErrRoomNotFound) {
		return false, err
	}

	n, err := p.counter.Count(ctx, roomID, userID)
	if err != nil {
		p.logger.Warnw("Failed to recheck presence after removal", "room_id", roomID, "user_id", userID, "error", err)
	} else if n > 0 {
		if err := p.members.Upsert(ctx, roomID, userID); err != nil && !errors.Is(err, domain.ErrRoomNotFound) {
			return false, err
		}
		return false, nil
	}
	p.logger.Debugw("Membership removed", "room_id", roomID, "user_id", userID)
	return true, nil
}

// Prune removes membership rows of users with no live connection on any
// instance, such as rows left behind by an instance that crashed.
func (p *PresenceService) Prune(ctx context.Context) (int, error) {
	rows, err := p.members.ListMemberships(ctx)
	if err != nil {
		return 0, fmt.Errorf("list memberships: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	pruned := 0
	for _, m := range rows {
		n, err := p.counter.Count(ctx, m.RoomID, m.UserID)
		if err != nil {
			return pruned, fmt.Errorf("count presence: %w", err)
		}
		if n > 0 {
			continue
		}
		removed, err := p.removeMembershipLocked(ctx, m.RoomID, m.UserID)
		if err != nil {
			p.logger.Warnw("Failed to prune membership", "room_id", m.RoomID, "user_id", m.UserID, "error", err)
			continue
		}
		if removed {
			pruned++
		}
	}
	if pruned > 0 {
		p.logger.Infow("Pruned memberships without a live connection", "count", pruned)
	}
	return pruned, nil
}

func (p *PresenceService) forgetUserLocked(userID domain.UserID) {
	for key := range p.refs {
		if key.user == userID {
			return
		}
	}
	delete(p.users, userID)
}

// rosterLocked overlays connected members' names onto the stored roster, so
// users without a stored profile still show the name from their token.
func (p *PresenceService) rosterLocked(ctx context.Context, roomID domain.RoomID) (domain.Roster, error) {
	roster, err := p.members.ListMembers(ctx, roomID)
	if err != nil {
		return nil, err
	}
	for i, m := range roster {
		live, ok := p.users[m.UserID]
		if !ok {
			continue
		}
		if live.DisplayName != "" {
			roster[i].DisplayName = live.DisplayName
		}
		if live.AvatarRef != "" {
			roster[i].AvatarRef = live.AvatarRef
		}
	}
	return roster, nil
}
