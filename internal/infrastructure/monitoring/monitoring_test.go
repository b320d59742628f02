package monitoring

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cinewave/internal/core/domain"
)

type pingFunc func(ctx context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

func TestHealthChecker(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	h := NewHealthChecker()
	h.AddRedisCheck(client, time.Second)
	h.AddPingCheck("sqlite", pingFunc(func(context.Context) error { return nil }), time.Second)

	status := h.CheckAll(context.Background())
	assert.Equal(t, "healthy", status.Status)
	assert.Equal(t, map[string]string{"redis": "healthy", "sqlite": "healthy"}, status.Checks)
	assert.Equal(t, []string{"redis", "sqlite"}, h.Names())

	h.AddPingCheck("slow", pingFunc(func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}), 10*time.Millisecond)
	mr.Close()

	status = h.CheckAll(context.Background())
	assert.Equal(t, "unhealthy", status.Status)
	assert.NotEqual(t, "healthy", status.Checks["redis"])
	assert.Equal(t, context.DeadlineExceeded.Error(), status.Checks["slow"])
	assert.False(t, h.IsReady(context.Background()))
}

func TestHealthChecker_Failure(t *testing.T) {
	h := NewHealthChecker()
	h.AddPingCheck("sqlite", pingFunc(func(context.Context) error { return errors.New("database is closed") }), time.Second)
	status := h.CheckAll(context.Background())
	assert.Equal(t, "database is closed", status.Checks["sqlite"])
}

func TestPrometheusCollector(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewPrometheusCollector(reg)

	c.RecordIntent(domain.IntentPlay, "applied")
	c.RecordIntent(domain.IntentPlay, "applied")
	c.RecordIntent(domain.IntentSeek, "not_host")
	c.RecordPersist(true, 5*time.Millisecond)
	c.RecordPersist(false, time.Second)
	c.RecordAdmission("start", "rejected")
	c.SetConnections(3)
	c.SetLiveRooms(2)
	c.RecordDroppedConnection("slow_consumer")
	c.RecordBroadcast(domain.EventState, 4)

	assert.Equal(t, 2.0, testutil.ToFloat64(c.intents.WithLabelValues("room:play", "applied")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.intents.WithLabelValues("room:seek", "not_host")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.persistTotal.WithLabelValues("error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.admissions.WithLabelValues("start", "rejected")))
	assert.Equal(t, 3.0, testutil.ToFloat64(c.connections))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.liveRooms))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.droppedConns.WithLabelValues("slow_consumer")))

	families, err := reg.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
}
