package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func up(context.Context) ComponentHealth { return ComponentHealth{Status: StatusUp} }

func down(context.Context) ComponentHealth {
	return ComponentHealth{Status: StatusDown, Message: "unreachable"}
}

func TestRun(t *testing.T) {
	tests := []struct {
		name     string
		required Check
		optional Check
		want     Status
	}{
		{"all up", up, up, StatusUp},
		{"optional down", up, down, StatusDegraded},
		{"required down", down, up, StatusDown},
		{"both down", down, down, StatusDown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewChecker(time.Second)
			c.Register("index", tt.required)
			c.RegisterOptional("cache", tt.optional)
			report := c.Run(context.Background())
			assert.Equal(t, tt.want, report.Status)
			assert.Len(t, report.Components, 2)
			assert.True(t, report.Components["cache"].Optional)
		})
	}
}

func TestRun_CheckTimeout(t *testing.T) {
	c := NewChecker(10 * time.Millisecond)
	c.Register("slow", func(ctx context.Context) ComponentHealth {
		time.Sleep(time.Second)
		return ComponentHealth{Status: StatusUp}
	})
	start := time.Now()
	report := c.Run(context.Background())
	assert.Less(t, time.Since(start), 500*time.Millisecond)
	assert.Equal(t, StatusDown, report.Status)
	assert.Equal(t, "check timed out", report.Components["slow"].Message)
}

func TestPing(t *testing.T) {
	assert.Equal(t, StatusUp, Ping(func(context.Context) error { return nil })(context.Background()).Status)
	res := Ping(func(context.Context) error { return errors.New("refused") })(context.Background())
	assert.Equal(t, StatusDown, res.Status)
	assert.Equal(t, "refused", res.Message)
}

func TestHandlers(t *testing.T) {
	c := NewChecker(time.Second)
	c.RegisterOptional("cache", down)

	rec := httptest.NewRecorder()
	c.LiveHandler()(rec, httptest.NewRequest(http.MethodGet, "/health/live", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	c.ReadyHandler()(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	assert.Equal(t, http.StatusOK, rec.Code, "degraded is still ready")
	var report Report
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&report))
	assert.Equal(t, StatusDegraded, report.Status)

	c.Register("index", down)
	rec = httptest.NewRecorder()
	c.ReadyHandler()(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
