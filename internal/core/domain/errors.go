package domain

import "errors"

var (
	ErrRoomNotFound        = errors.New("room not found")
	ErrUserNotFound        = errors.New("user not found")
	ErrInviteCodeTaken     = errors.New("invite code already in use")
	ErrNotHost             = errors.New("only the host can control playback")
	ErrNotRoomMember       = errors.New("join the room first")
	ErrInvalidPlaybackTime = errors.New("invalid playback time")
	ErrStreamLimitReached  = errors.New("stream limit reached")
	ErrLeaseNotFound       = errors.New("stream lease not found or expired")
)
