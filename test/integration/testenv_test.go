// Package integration holds end-to-end scenarios: a fake cal.eu API, the
// full integration wiring and the HTTP API exercised over real sockets.
package integration

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rpliva/hacs-cal-eu/internal/clock"
	"github.com/rpliva/hacs-cal-eu/internal/config"
	"github.com/rpliva/hacs-cal-eu/internal/coordinator"
	"github.com/rpliva/hacs-cal-eu/internal/integration"
	"github.com/rpliva/hacs-cal-eu/internal/notify"
	"github.com/rpliva/hacs-cal-eu/pkg/testutil"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const (
	testAPIKey   = "cal_live_scenario"
	pollInterval = 5 * time.Minute
)

// Monday 2024-01-01 08:00 UTC
var scenarioStart = time.Date(2024, 1, 1, 8, 0, 0, 0, time.UTC)

// TestEnv is a running integration against the fake API
type TestEnv struct {
	Upstream    *testutil.MockAPIServer
	Clock       *clock.MockClock
	Integration *integration.Integration
	API         *httptest.Server
}

func newTestEnv(t *testing.T, seed ...testutil.Booking) *TestEnv {
	t.Helper()

	upstream := testutil.NewMockAPIServer(testAPIKey)
	t.Cleanup(upstream.Close)
	upstream.SetBookings(seed...)

	cfg := config.Default()
	cfg.APIKey = testAPIKey
	cfg.BaseURL = upstream.URL()
	cfg.PollInterval = pollInterval
	cfg.RequestsPerSecond = 0
	cfg.SetupRetry = config.RetryConfig{Attempts: 1}

	logger, _ := zap.NewDevelopment()
	clk := clock.NewMockClock(scenarioStart)

	in, err := integration.Setup(context.Background(), cfg, integration.Deps{Logger: logger, Clock: clk})
	require.NoError(t, err)

	api := httptest.NewServer(in.Server.Handler())
	t.Cleanup(func() {
		api.Close()
		in.Unload()
	})

	return &TestEnv{Upstream: upstream, Clock: clk, Integration: in, API: api}
}

// Tick advances the clock by one poll interval
func (e *TestEnv) Tick() {
	e.Clock.Advance(pollInterval)
}

// GetJSON fetches path from the API and decodes it into out
func (e *TestEnv) GetJSON(t *testing.T, path string, out interface{}) int {
	t.Helper()
	resp, err := http.Get(e.API.URL + path)
	require.NoError(t, err)
	defer resp.Body.Close()

	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

// Subscribe opens a websocket to the event stream
func (e *TestEnv) Subscribe(t *testing.T) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(e.API.URL, "http") + "/api/events/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	require.Eventually(t, func() bool {
		return e.Integration.Hub.ClientCount() > 0
	}, time.Second, 10*time.Millisecond)
	return conn
}

// NextEvent reads one new-booking notification
func NextEvent(t *testing.T, conn *websocket.Conn) coordinator.NewBookingEvent {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))

	var msg notify.Message
	require.NoError(t, conn.ReadJSON(&msg))
	require.NotNil(t, msg.Event)

	var event coordinator.NewBookingEvent
	require.NoError(t, json.Unmarshal(msg.Event.Data, &event))
	return event
}

// NoEvent asserts nothing arrives within a short window
func NoEvent(t *testing.T, conn *websocket.Conn) {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
	_, _, err := conn.ReadMessage()
	require.Error(t, err, "expected no notification")
}

func booking(uid string, startHour int, status string) testutil.Booking {
	start := time.Date(2024, 1, 1, startHour, 0, 0, 0, time.UTC)
	return testutil.Booking{
		UID:       uid,
		Title:     "Meeting " + uid,
		StartTime: start.Format(time.RFC3339),
		EndTime:   start.Add(30 * time.Minute).Format(time.RFC3339),
		Status:    status,
		Attendees: []testutil.Attendee{{Name: "Guest " + uid, Email: uid + "@example.com"}},
	}
}
