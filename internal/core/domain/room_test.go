package domain

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNeedsResync(t *testing.T) {
	const tolerance = 1.5

	tests := []struct {
		name   string
		local  float64
		remote float64
		want   bool
	}{
		{"in sync", 42, 42, false},
		{"behind within tolerance", 41, 42, false},
		{"ahead within tolerance", 43.2, 42, false},
		{"exactly at tolerance behind", 40.5, 42, false},
		{"exactly at tolerance ahead", 43.5, 42, false},
		{"just beyond tolerance behind", 40.49, 42, true},
		{"just beyond tolerance ahead", 43.51, 42, true},
		{"far behind after a seek", 10, 600, true},
		{"far ahead after an episode change", 1200, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NeedsResync(tt.local, tt.remote, tolerance))
		})
	}
}

func TestValidPlaybackTime(t *testing.T) {
	assert.True(t, ValidPlaybackTime(0))
	assert.True(t, ValidPlaybackTime(5400.25))
	assert.False(t, ValidPlaybackTime(-0.1))
	assert.False(t, ValidPlaybackTime(math.NaN()))
	assert.False(t, ValidPlaybackTime(math.Inf(1)))
}

func TestRoomIsHost(t *testing.T) {
	room := &Room{HostUserID: "host"}
	assert.True(t, room.IsHost("host"))
	assert.False(t, room.IsHost("guest"))
	assert.False(t, room.IsHost(""))
}

func TestStreamLimitErrorUnwraps(t *testing.T) {
	var err error = &StreamLimitError{MaxStreams: 2}
	assert.True(t, errors.Is(err, ErrStreamLimitReached))

	var limit *StreamLimitError
	assert.True(t, errors.As(err, &limit))
	assert.Equal(t, 2, limit.MaxStreams)
}
