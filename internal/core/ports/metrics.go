package ports

import (
	"time"

	"cinewave/internal/core/domain"
)

// Metrics is the observability surface the core and the gateway report to.
type Metrics interface {
	RecordIntent(intent domain.EventType, outcome string)
	RecordPersist(success bool, duration time.Duration)
	RecordAdmission(operation, outcome string)
	SetLiveRooms(count int)
	SetConnections(count int)
	RecordDroppedConnection(reason string)
	RecordBroadcast(event domain.EventType, recipients int)
}

// NopMetrics discards everything.
type NopMetrics struct{}

func (NopMetrics) RecordIntent(domain.EventType, string) {}
func (NopMetrics) RecordPersist(bool, time.Duration) {}
func (NopMetrics) RecordAdmission(string, string) {}
func (NopMetrics) SetLiveRooms(int) {}
func (NopMetrics) SetConnections(int) {}
func (NopMetrics) RecordDroppedConnection(string) {}
func (NopMetrics) RecordBroadcast(domain.EventType, int) {}
