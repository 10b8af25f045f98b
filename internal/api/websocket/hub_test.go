package websocket

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.uber.org/zap/zaptest"

	"github.com/Ayoub94x/esa-forecast-manager/internal/infrastructure/cache"
	"github.com/Ayoub94x/esa-forecast-manager/internal/infrastructure/repository"
	"github.com/Ayoub94x/esa-forecast-manager/internal/metrics"
	"github.com/Ayoub94x/esa-forecast-manager/internal/service/filtereddata"
	"github.com/Ayoub94x/esa-forecast-manager/internal/service/filterstate"
	"github.com/Ayoub94x/esa-forecast-manager/internal/service/performance"
	"github.com/Ayoub94x/esa-forecast-manager/internal/testutil/fixtures"
)

type wireEvent struct {
	ID   string          `json:"id"`
	Type EventType       `json:"type"`
	Data json.RawMessage `json:"data"`
}

type wireSnapshot struct {
	Loading       bool `json:"loading"`
	FilteredCount int  `json:"filtered_count"`
	Data          []struct {
		ID int64 `json:"id"`
	} `json:"data"`
}

func (s wireSnapshot) ids() []int64 {
	ids := make([]int64, 0, len(s.Data))
	for _, r := range s.Data {
		ids = append(ids, r.ID)
	}
	return ids
}

type streamFixture struct {
	hub    *Hub
	server *httptest.Server
	cancel context.CancelFunc
}

func newStreamFixture(t *testing.T) *streamFixture {
	t.Helper()
	logger := zaptest.NewLogger(t)

	monitorCfg := performance.DefaultConfig()
	// every snapshot encoding breaches this
	monitorCfg.Thresholds.RenderTime = time.Nanosecond
	monitor, err := performance.NewMonitor(monitorCfg, logger)
	require.NoError(t, err)
	reg, err := metrics.NewRegistry(metricnoop.NewMeterProvider())
	require.NoError(t, err)

	svc, err := filtereddata.NewService(filtereddata.Dependencies{
		Store:   filterstate.NewStore(logger),
		Cache:   cache.NewTiered(cache.NewResultCache(cache.ResultConfig{Expiry: time.Minute, MaxSize: 10}, logger), nil),
		Local:   repository.NewLocalCollection(fixtures.SampleRecords(t), logger),
		Monitor: monitor,
		Metrics: reg,
	}, filtereddata.Config{StatisticsEnabled: true}, logger)
	require.NoError(t, err)

	hub, err := NewHub(svc, reg, logger)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)
	svc.Start()

	server := httptest.NewServer(hub)
	t.Cleanup(func() {
		server.Close()
		cancel()
		svc.Close()
	})
	return &streamFixture{hub: hub, server: server, cancel: cancel}
}

func (f *streamFixture) dial(t *testing.T) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(f.server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

// readUntil reads events until match accepts one
func readUntil(t *testing.T, conn *websocket.Conn, match func(wireEvent) bool) wireEvent {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	for {
		var ev wireEvent
		require.NoError(t, conn.ReadJSON(&ev))
		if match(ev) {
			return ev
		}
	}
}

func settledSnapshot(t *testing.T, conn *websocket.Conn, accept func(wireSnapshot) bool) wireSnapshot {
	t.Helper()
	var snap wireSnapshot
	readUntil(t, conn, func(ev wireEvent) bool {
		if ev.Type != EventSnapshot {
			return false
		}
		require.NoError(t, json.Unmarshal(ev.Data, &snap))
		return !snap.Loading && accept(snap)
	})
	return snap
}

func errorCode(t *testing.T, ev wireEvent) string {
	t.Helper()
	var data struct {
		Code string `json:"code"`
	}
	require.NoError(t, json.Unmarshal(ev.Data, &data))
	return data.Code
}

func TestNewHub_Validation(t *testing.T) {
	_, err := NewHub(nil, nil, zaptest.NewLogger(t))
	assert.EqualError(t, err, "filtered data service is required")
}

func TestHub_StreamsSnapshots(t *testing.T) {
	f := newStreamFixture(t)
	conn := f.dial(t)

	welcome := readUntil(t, conn, func(ev wireEvent) bool { return true })
	assert.Equal(t, EventConnected, welcome.Type)
	assert.NotEmpty(t, welcome.ID)

	initial := settledSnapshot(t, conn, func(s wireSnapshot) bool { return s.FilteredCount == 4 })
	assert.Len(t, initial.Data, 4)
	assert.Eventually(t, func() bool { return f.hub.ClientCount() == 1 }, time.Second, 10*time.Millisecond)

	require.NoError(t, conn.WriteJSON(map[string]interface{}{
		"type":    "update_filters",
		"filters": map[string]interface{}{"countries": []string{"FR"}},
	}))
	filtered := settledSnapshot(t, conn, func(s wireSnapshot) bool { return s.FilteredCount == 1 })
	assert.Equal(t, []int64{2}, filtered.ids())

	require.NoError(t, conn.WriteJSON(map[string]string{"type": "reset_filters"}))
	reset := settledSnapshot(t, conn, func(s wireSnapshot) bool { return s.FilteredCount == 4 })
	assert.Len(t, reset.Data, 4)
}

func TestHub_MeasuresSnapshotRendering(t *testing.T) {
	f := newStreamFixture(t)
	conn := f.dial(t)
	settledSnapshot(t, conn, func(s wireSnapshot) bool { return s.FilteredCount == 4 })

	monitor := f.hub.service.Monitor()
	assert.Eventually(t, func() bool {
		for _, alert := range monitor.Alerts() {
			if alert.Metric == performance.MetricRenderTime {
				return true
			}
		}
		return false
	}, time.Second, 10*time.Millisecond)
	assert.Positive(t, monitor.Metrics().RenderTimeMS)
}

func TestHub_Commands(t *testing.T) {
	f := newStreamFixture(t)
	conn := f.dial(t)
	settledSnapshot(t, conn, func(wireSnapshot) bool { return true })

	tests := []struct {
		name    string
		message string
		want    EventType
		code    string
	}{
		{name: "ping", message: `{"type":"ping"}`, want: EventPong},
		{name: "not json", message: `{"type":`, want: EventError, code: "INVALID_MESSAGE"},
		{name: "unknown type", message: `{"type":"subscribe"}`, want: EventError, code: "UNKNOWN_MESSAGE"},
		{name: "missing patch", message: `{"type":"update_filters"}`, want: EventError, code: "INVALID_PATCH"},
		{name: "invalid filter", message: `{"type":"update_filters","filters":{"limit":5000}}`, want: EventError, code: "INVALID_FILTER"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(tt.message)))
			ev := readUntil(t, conn, func(ev wireEvent) bool { return ev.Type != EventSnapshot })
			assert.Equal(t, tt.want, ev.Type)
			if tt.code != "" {
				assert.Equal(t, tt.code, errorCode(t, ev))
			}
		})
	}
}

func TestHub_UnregistersOnDisconnect(t *testing.T) {
	f := newStreamFixture(t)
	conn := f.dial(t)
	readUntil(t, conn, func(ev wireEvent) bool { return ev.Type == EventConnected })
	require.Eventually(t, func() bool { return f.hub.ClientCount() == 1 }, time.Second, 10*time.Millisecond)

	require.NoError(t, conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")))
	conn.Close()

	assert.Eventually(t, func() bool { return f.hub.ClientCount() == 0 }, time.Second, 10*time.Millisecond)
}

func TestHub_StopClosesClients(t *testing.T) {
	f := newStreamFixture(t)
	conn := f.dial(t)
	readUntil(t, conn, func(ev wireEvent) bool { return ev.Type == EventConnected })
	require.Eventually(t, func() bool { return f.hub.ClientCount() == 1 }, time.Second, 10*time.Millisecond)

	f.hub.Stop()
	f.hub.Stop()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	for {
		var ev wireEvent
		if err := conn.ReadJSON(&ev); err != nil {
			break
		}
	}
	assert.Zero(t, f.hub.ClientCount())
}
