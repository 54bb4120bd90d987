package monitor

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/randalmurphal/convograph/pkg/convo/state"
	"github.com/randalmurphal/convograph/pkg/convo/stream"
	"github.com/randalmurphal/convograph/pkg/flowgraph"
)

func TestHealth_NoTurns(t *testing.T) {
	h := New().Health()
	assert.Equal(t, StatusHealthy, h.Status)
	assert.Equal(t, 1.0, h.SuccessRate)
	assert.Zero(t, h.TotalTurns)
}

func TestHealth_Threshold(t *testing.T) {
	tests := []struct {
		name      string
		successes int
		failures  int
		want      string
	}{
		{"all good", 10, 0, StatusHealthy},
		{"exactly at threshold", 19, 1, StatusDegraded},
		{"above threshold", 39, 1, StatusHealthy},
		{"mostly failing", 1, 3, StatusDegraded},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := New()
			for range tt.successes {
				m.TurnFinished(state.ProductSearch, time.Millisecond, nil)
			}
			for range tt.failures {
				m.TurnFinished(state.ProductSearch, time.Millisecond, errors.New("boom"))
			}
			h := m.Health()
			assert.Equal(t, tt.want, h.Status)
			assert.Equal(t, int64(tt.successes+tt.failures), h.TotalTurns)
			assert.Equal(t, int64(tt.failures), h.FailedTurns)
		})
	}
}

func scrape(t *testing.T, m *Monitor) string {
	t.Helper()
	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return string(body)
}

func TestHandler_ExposesCounters(t *testing.T) {
	m := New()
	ctx := flowgraph.NewContext(context.Background())

	m.TurnFinished(state.ViewCart, 20*time.Millisecond, nil)
	m.EventSent(stream.KindThreadInfo)
	m.EventSent(stream.KindToken)
	m.EventSent(stream.KindToken)

	failed := state.New("t1")
	failed.Error = state.NewError(state.ViewCart, state.KindStorage, "view_cart_failed", "db down")
	m.NodeFinished(ctx, "view_cart", failed, nil)
	m.NodeFinished(ctx, "output_handler", state.New("t1"), errors.New("boom"))

	body := scrape(t, m)
	assert.Contains(t, body, `convograph_turns_total{outcome="success"} 1`)
	assert.Contains(t, body, `convograph_stream_events_total{event="token"} 2`)
	assert.Contains(t, body, `convograph_stream_events_total{event="thread_info"} 1`)
	assert.Contains(t, body, `convograph_node_executions_total{node="view_cart",outcome="success"} 1`)
	assert.Contains(t, body, `convograph_node_executions_total{node="output_handler",outcome="failure"} 1`)
	assert.Contains(t, body, `convograph_workflow_errors_total{kind="storage",workflow="view_cart"} 1`)
	assert.Contains(t, body, `convograph_turn_duration_seconds_count{workflow="view_cart"} 1`)
}
