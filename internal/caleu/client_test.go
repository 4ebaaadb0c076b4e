package caleu

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/rpliva/hacs-cal-eu/internal/clock"
	"github.com/rpliva/hacs-cal-eu/pkg/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const testAPIKey = "cal_live_test_key"

func newTestClient(t *testing.T, server *testutil.MockAPIServer, apiKey string) *Client {
	t.Helper()
	return NewClient(ClientConfig{
		BaseURL: server.URL(),
		APIKey:  apiKey,
		Clock:   clock.NewMockClock(time.Date(2024, 3, 5, 23, 30, 0, 0, time.UTC)),
	}, zap.NewNop())
}

func TestClient_FetchBookings(t *testing.T) {
	server := testutil.NewMockAPIServer(testAPIKey)
	defer server.Close()

	server.SetBookings(
		testutil.Booking{
			ID:         101,
			UID:        "uid-a",
			Title:      "Intro call",
			StartTime:  "2024-03-06T10:00:00.000Z",
			EndTime:    "2024-03-06T10:30:00.000Z",
			Status:     "ACCEPTED",
			Attendees:  []testutil.Attendee{{Name: "Ada", Email: "ada@example.com"}},
			Location:   "Office",
			MeetingURL: "https://meet.example.com/abc",
		},
		testutil.Booking{
			ID:        102,
			UID:       "uid-b",
			Title:     "Offset booking",
			StartTime: "2024-03-06T12:00:00+02:00",
			EndTime:   "2024-03-06T12:45:00",
			Status:    "PENDING",
		},
	)

	client := newTestClient(t, server, testAPIKey)
	bookings, err := client.FetchBookings(context.Background())
	require.NoError(t, err)
	require.Len(t, bookings, 2)

	first := bookings[0]
	assert.Equal(t, ID("101"), first.ID)
	assert.Equal(t, "uid-a", first.UID)
	assert.Equal(t, "Intro call", first.Title)
	assert.Equal(t, time.Date(2024, 3, 6, 10, 0, 0, 0, time.UTC), first.Start)
	assert.Equal(t, time.Date(2024, 3, 6, 10, 30, 0, 0, time.UTC), first.End)
	assert.Equal(t, StatusAccepted, first.Status)
	assert.Equal(t, []Attendee{{Name: "Ada", Email: "ada@example.com"}}, first.Attendees)
	assert.Equal(t, "Office", first.Location)
	assert.Equal(t, "https://meet.example.com/abc", first.MeetingURL)

	second := bookings[1]
	assert.Equal(t, time.Date(2024, 3, 6, 10, 0, 0, 0, time.UTC), second.Start, "offset must be normalized to UTC")
	assert.Equal(t, time.Date(2024, 3, 6, 12, 45, 0, 0, time.UTC), second.End, "naive timestamp must be read as UTC")
	assert.Equal(t, time.UTC, second.Start.Location())
	assert.Equal(t, StatusPending, second.Status)
	assert.NotNil(t, second.Attendees)
	assert.Empty(t, second.Attendees)

	requests := server.RequestsTo(BookingsEndpoint)
	require.Len(t, requests, 1)
	assert.Equal(t, "status=upcoming", requests[0].Query)
	assert.Equal(t, "Bearer "+testAPIKey, requests[0].Authorization)
	assert.Equal(t, "2024-03-05", requests[0].APIVersion)
}

func TestClient_FetchBookings_MissingFields(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{name: "empty object", body: `{}`},
		{name: "null data", body: `{"data": null}`},
		{name: "missing bookings", body: `{"data": {}}`},
		{name: "null bookings", body: `{"data": {"bookings": null}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := testutil.NewMockAPIServer(testAPIKey)
			defer server.Close()
			server.SetRawBookingsBody(tt.body)

			client := newTestClient(t, server, testAPIKey)
			bookings, err := client.FetchBookings(context.Background())
			require.NoError(t, err)
			assert.NotNil(t, bookings)
			assert.Empty(t, bookings)
		})
	}
}

func TestClient_FetchBookings_BookingWithoutTimes(t *testing.T) {
	server := testutil.NewMockAPIServer(testAPIKey)
	defer server.Close()
	server.SetRawBookingsBody(`{"data": {"bookings": [{"uid": "x", "startTime": "not a time"}]}}`)

	client := newTestClient(t, server, testAPIKey)
	bookings, err := client.FetchBookings(context.Background())
	require.NoError(t, err)
	require.Len(t, bookings, 1)
	assert.True(t, bookings[0].Start.IsZero())
	assert.True(t, bookings[0].End.IsZero())
	assert.False(t, bookings[0].HasTimes())
}

func TestClient_ErrorClassification(t *testing.T) {
	tests := []struct {
		name       string
		apiKey     string
		status     int
		rawBody    string
		wantAuth   bool
		wantStatus int
	}{
		{name: "bad key", apiKey: "wrong", wantAuth: true},
		{name: "server error", apiKey: testAPIKey, status: http.StatusInternalServerError, wantStatus: http.StatusInternalServerError},
		{name: "forbidden", apiKey: testAPIKey, status: http.StatusForbidden, wantStatus: http.StatusForbidden},
		{name: "explicit 401", apiKey: testAPIKey, status: http.StatusUnauthorized, wantAuth: true},
		{name: "malformed json", apiKey: testAPIKey, rawBody: `{"data": [`, wantStatus: http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := testutil.NewMockAPIServer(testAPIKey)
			defer server.Close()
			if tt.status != 0 {
				server.SetBookingsStatus(tt.status)
			}
			if tt.rawBody != "" {
				server.SetRawBookingsBody(tt.rawBody)
			}

			client := newTestClient(t, server, tt.apiKey)
			bookings, err := client.FetchBookings(context.Background())
			require.Error(t, err)
			assert.Nil(t, bookings)

			if tt.wantAuth {
				assert.True(t, IsAuthenticationError(err))
				assert.False(t, IsFetchError(err))
				return
			}

			var fetchErr *FetchError
			require.True(t, errors.As(err, &fetchErr))
			assert.Equal(t, BookingsEndpoint, fetchErr.Endpoint)
			assert.Equal(t, tt.wantStatus, fetchErr.StatusCode)
		})
	}
}

func TestClient_TransportError(t *testing.T) {
	server := testutil.NewMockAPIServer(testAPIKey)
	client := newTestClient(t, server, testAPIKey)
	server.Close()

	_, err := client.FetchSchedules(context.Background())
	require.Error(t, err)

	var fetchErr *FetchError
	require.True(t, errors.As(err, &fetchErr))
	assert.Equal(t, SchedulesEndpoint, fetchErr.Endpoint)
	assert.Equal(t, 0, fetchErr.StatusCode)
	assert.NotNil(t, fetchErr.Unwrap())
}

func TestClient_CancelledContext(t *testing.T) {
	server := testutil.NewMockAPIServer(testAPIKey)
	defer server.Close()

	client := newTestClient(t, server, testAPIKey)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := client.FetchBookings(ctx)
	require.Error(t, err)
	assert.True(t, IsFetchError(err))
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestClient_FetchSchedules(t *testing.T) {
	server := testutil.NewMockAPIServer(testAPIKey)
	defer server.Close()

	server.SetSchedules(
		testutil.Schedule{
			ID:   7,
			Name: "Working hours",
			DateOverrides: []testutil.DateOverride{
				{Ranges: []testutil.Range{
					{Start: "2024-03-07T09:00:00Z", End: "2024-03-07T12:00:00Z"},
					{Start: "2024-03-07T13:00:00", End: "2024-03-07T17:00:00"},
				}},
			},
		},
		testutil.Schedule{ID: 8, Name: "Empty"},
	)

	client := newTestClient(t, server, testAPIKey)
	schedules, err := client.FetchSchedules(context.Background())
	require.NoError(t, err)
	require.Len(t, schedules, 2)

	assert.Equal(t, ID("7"), schedules[0].ID)
	assert.Equal(t, "Working hours", schedules[0].Name)
	require.Len(t, schedules[0].DateOverrides, 1)
	ranges := schedules[0].DateOverrides[0].Ranges
	require.Len(t, ranges, 2)
	assert.Equal(t, time.Date(2024, 3, 7, 13, 0, 0, 0, time.UTC), ranges[1].Start)

	assert.NotNil(t, schedules[1].DateOverrides)
	assert.Empty(t, schedules[1].DateOverrides)

	requests := server.RequestsTo(SchedulesEndpoint)
	require.Len(t, requests, 1)
	assert.Empty(t, requests[0].Query)
}

func TestClient_ValidateAPIKey(t *testing.T) {
	server := testutil.NewMockAPIServer(testAPIKey)
	defer server.Close()

	assert.NoError(t, newTestClient(t, server, testAPIKey).ValidateAPIKey(context.Background()))

	err := newTestClient(t, server, "wrong").ValidateAPIKey(context.Background())
	assert.ErrorIs(t, err, ErrInvalidAuth)

	server.SetBookingsStatus(http.StatusBadGateway)
	err = newTestClient(t, server, testAPIKey).ValidateAPIKey(context.Background())
	assert.ErrorIs(t, err, ErrCannotConnect)
}

func TestClient_RateLimitHonoursContext(t *testing.T) {
	server := testutil.NewMockAPIServer(testAPIKey)
	defer server.Close()

	client := NewClient(ClientConfig{
		BaseURL:           server.URL(),
		APIKey:            testAPIKey,
		RequestsPerSecond: 0.001,
		Burst:             1,
	}, zap.NewNop())

	_, err := client.FetchBookings(context.Background())
	require.NoError(t, err)

	// The bucket is empty now; a short deadline cannot be met.
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = client.FetchBookings(ctx)
	require.Error(t, err)
	assert.True(t, IsFetchError(err))
	assert.Len(t, server.Requests(), 1)
}

func TestParseTimestamp(t *testing.T) {
	want := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)

	tests := []struct {
		input string
		want  time.Time
	}{
		{"2024-01-01T10:00:00Z", want},
		{"2024-01-01T10:00:00.000Z", want},
		{"2024-01-01T11:00:00+01:00", want},
		{"2024-01-01T05:00:00-05:00", want},
		{"2024-01-01T11:00:00+0100", want},
		{"2024-01-01T10:00:00", want},
		{"2024-01-01T10:00", want},
		{"2024-01-01 10:00:00", want},
		{"2024-01-01", time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseTimestamp(tt.input)
			require.NoError(t, err)
			assert.True(t, tt.want.Equal(got), "got %s", got)
			assert.Equal(t, time.UTC, got.Location())
		})
	}

	_, err := ParseTimestamp("")
	assert.Error(t, err)
	_, err = ParseTimestamp("tomorrow")
	assert.Error(t, err)
}

func TestID_UnmarshalJSON(t *testing.T) {
	var v struct {
		A ID `json:"a"`
		B ID `json:"b"`
		C ID `json:"c"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"a": 42, "b": "sched-1", "c": null}`), &v))
	assert.Equal(t, ID("42"), v.A)
	assert.Equal(t, ID("sched-1"), v.B)
	assert.Equal(t, ID(""), v.C)

	assert.Error(t, json.Unmarshal([]byte(`{"a": true}`), &v))
}
