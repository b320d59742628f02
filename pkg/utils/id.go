package utils

import (
	"crypto/rand"
	"fmt"
	"io"
	"math/big"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

// InviteCodeLength and InviteCodeAlphabet describe the shareable room code.
const (
	InviteCodeLength   = 6
	InviteCodeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
)

func NewRoomID() string {
	return uuid.NewString()
}

func NewLeaseID() string {
	return uuid.NewString()
}

// NewInstanceID identifies this process on the shared event bus.
func NewInstanceID() string {
	return uuid.NewString()
}

// NewMessageID is time-ordered so clients can sort chat without a clock of
// their own.
func NewMessageID() string {
	return ulid.Make().String()
}

func NewConnectionID() string {
	return "conn_" + ulid.Make().String()
}

func NewRequestID() string {
	return "req_" + ulid.Make().String()
}

// NewInviteCode draws InviteCodeLength characters uniformly from
// InviteCodeAlphabet using crypto/rand.
func NewInviteCode() (string, error) {
	return newInviteCode(rand.Reader)
}

func newInviteCode(r io.Reader) (string, error) {
	size := big.NewInt(int64(len(InviteCodeAlphabet)))
	code := make([]byte, InviteCodeLength)
	for i := range code {
		n, err := rand.Int(r, size)
		if err != nil {
			return "", fmt.Errorf("generate invite code: %w", err)
		}
		code[i] = InviteCodeAlphabet[n.Int64()]
	}
	return string(code), nil
}
