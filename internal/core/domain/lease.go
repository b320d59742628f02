package domain

import (
	"fmt"
	"time"
)

type LeaseID string

// Lease is one admitted stream for one device or tab.
type Lease struct {
	ID         LeaseID       `json:"stream_id"`
	UserID     UserID        `json:"user_id"`
	MaxStreams int           `json:"max_streams"`
	TTL        time.Duration `json:"-"`
}

type PlanName string

const (
	PlanFree    PlanName = "FREE"
	PlanPremium PlanName = "PREMIUM"
)

// Plan is a subscription tier; MaxStreams bounds concurrent leases.
type Plan struct {
	Name         PlanName
	MaxStreams   int
	DurationDays int
}

type SubscriptionStatus string

const (
	SubscriptionActive  SubscriptionStatus = "ACTIVE"
	SubscriptionExpired SubscriptionStatus = "EXPIRED"
)

type Subscription struct {
	UserID    UserID
	Plan      PlanName
	Status    SubscriptionStatus
	ExpiresAt time.Time
}

// Effective reports whether the subscription grants its plan at now.
func (s *Subscription) Effective(now time.Time) bool {
	return s != nil && s.Status == SubscriptionActive && now.Before(s.ExpiresAt)
}

// StreamLimitError reports the limit a rejected start ran into.
type StreamLimitError struct {
	MaxStreams int
}

func (e *StreamLimitError) Error() string {
	return fmt.Sprintf("%s (max %d)", ErrStreamLimitReached, e.MaxStreams)
}

func (e *StreamLimitError) Unwrap() error { return ErrStreamLimitReached }
