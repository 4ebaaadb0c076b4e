// Package caleu is a small client for the cal.eu (Cal.com v2) REST API,
// limited to the two read endpoints the coordinator polls.
package caleu

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rpliva/hacs-cal-eu/internal/clock"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	DefaultBaseURL = "https://api.cal.eu/v2"

	BookingsEndpoint  = "/bookings"
	SchedulesEndpoint = "/schedules"

	// apiVersionHeader carries the current UTC date; the API versions by date.
	apiVersionHeader = "cal-api-version"

	// maxBodySize caps how much of a response body is read
	maxBodySize = 10 << 20
)

// HTTPDoer is the HTTP capability the client needs. *http.Client satisfies it.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// ClientConfig configures a Client. Zero values select defaults.
type ClientConfig struct {
	BaseURL string
	APIKey  string

	// HTTPClient performs the requests; timeouts belong here.
	HTTPClient HTTPDoer

	// RequestsPerSecond and Burst configure the outbound token bucket.
	// A non-positive rate disables limiting.
	RequestsPerSecond float64
	Burst             int

	// Clock supplies the date for the API version header.
	Clock clock.Clock
}

// Client fetches bookings and schedules with a bearer token
type Client struct {
	baseURL    string
	apiKey     string
	httpClient HTTPDoer
	limiter    *rate.Limiter
	clock      clock.Clock
	logger     *zap.Logger
}

// NewClient creates a new cal.eu API client
func NewClient(cfg ClientConfig, logger *zap.Logger) *Client {
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}

	clk := cfg.Clock
	if clk == nil {
		clk = clock.NewRealClock()
	}

	limiter := rate.NewLimiter(rate.Inf, 0)
	if cfg.RequestsPerSecond > 0 {
		burst := cfg.Burst
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}

	return &Client{
		baseURL:    baseURL,
		apiKey:     cfg.APIKey,
		httpClient: httpClient,
		limiter:    limiter,
		clock:      clk,
		logger:     logger.Named("caleu"),
	}
}

// setHeaders adds the auth, content type and version headers to a request
func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(apiVersionHeader, c.clock.Now().UTC().Format("2006-01-02"))
}

// get performs an authenticated GET and decodes a 200 response into out
func (c *Client) get(ctx context.Context, endpoint string, query url.Values, out interface{}) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return &FetchError{Endpoint: endpoint, Err: err}
	}

	reqURL := c.baseURL + endpoint
	if len(query) > 0 {
		reqURL += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return &FetchError{Endpoint: endpoint, Err: fmt.Errorf("create request: %w", err)}
	}
	c.setHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &FetchError{Endpoint: endpoint, Err: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return &AuthenticationError{Endpoint: endpoint}
	case resp.StatusCode != http.StatusOK:
		io.Copy(io.Discard, io.LimitReader(resp.Body, maxBodySize))
		return &FetchError{Endpoint: endpoint, StatusCode: resp.StatusCode}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return &FetchError{Endpoint: endpoint, StatusCode: resp.StatusCode, Err: fmt.Errorf("read body: %w", err)}
	}

	if err := json.Unmarshal(body, out); err != nil {
		return &FetchError{Endpoint: endpoint, StatusCode: resp.StatusCode, Err: fmt.Errorf("decode response: %w", err)}
	}

	return nil
}

// FetchBookings returns the upcoming bookings in API response order
func (c *Client) FetchBookings(ctx context.Context) ([]Booking, error) {
	var envelope bookingsEnvelope
	query := url.Values{"status": []string{"upcoming"}}
	if err := c.get(ctx, BookingsEndpoint, query, &envelope); err != nil {
		return nil, err
	}

	bookings := make([]Booking, 0, len(envelope.Data.Bookings))
	for _, raw := range envelope.Data.Bookings {
		bookings = append(bookings, c.convertBooking(raw))
	}

	c.logger.Debug("Fetched bookings", zap.Int("count", len(bookings)))
	return bookings, nil
}

// FetchSchedules returns all schedules in API response order
func (c *Client) FetchSchedules(ctx context.Context) ([]Schedule, error) {
	var envelope schedulesEnvelope
	if err := c.get(ctx, SchedulesEndpoint, nil, &envelope); err != nil {
		return nil, err
	}

	schedules := make([]Schedule, 0, len(envelope.Data))
	for _, raw := range envelope.Data {
		schedules = append(schedules, c.convertSchedule(raw))
	}

	c.logger.Debug("Fetched schedules", zap.Int("count", len(schedules)))
	return schedules, nil
}

// ValidateAPIKey probes the bookings endpoint with the configured key.
// It returns ErrInvalidAuth or ErrCannotConnect (wrapped) on failure.
func (c *Client) ValidateAPIKey(ctx context.Context) error {
	var envelope bookingsEnvelope
	query := url.Values{"status": []string{"upcoming"}}
	err := c.get(ctx, BookingsEndpoint, query, &envelope)

	var authErr *AuthenticationError
	switch {
	case err == nil:
		return nil
	case errors.As(err, &authErr):
		return fmt.Errorf("%w: %v", ErrInvalidAuth, err)
	default:
		return fmt.Errorf("%w: %v", ErrCannotConnect, err)
	}
}

func (c *Client) convertBooking(raw bookingJSON) Booking {
	b := Booking{
		ID:        raw.ID,
		UID:       raw.UID,
		Title:     raw.Title,
		Start:     c.parseOptionalTime(raw.StartTime, "startTime", raw.UID),
		End:       c.parseOptionalTime(raw.EndTime, "endTime", raw.UID),
		Status:    Status(raw.Status),
		Attendees: raw.Attendees,
	}
	if b.Attendees == nil {
		b.Attendees = []Attendee{}
	}
	if raw.Location != nil {
		b.Location = *raw.Location
	}
	if raw.MeetingURL != nil {
		b.MeetingURL = *raw.MeetingURL
	}
	return b
}

func (c *Client) convertSchedule(raw scheduleJSON) Schedule {
	s := Schedule{
		ID:            raw.ID,
		Name:          raw.Name,
		DateOverrides: make([]DateOverride, 0, len(raw.DateOverrides)),
	}
	for _, override := range raw.DateOverrides {
		ranges := make([]TimeRange, 0, len(override.Ranges))
		for _, r := range override.Ranges {
			ranges = append(ranges, TimeRange{
				Start: c.parseOptionalTime(r.Start, "start", s.Name),
				End:   c.parseOptionalTime(r.End, "end", s.Name),
			})
		}
		s.DateOverrides = append(s.DateOverrides, DateOverride{Ranges: ranges})
	}
	return s
}

// parseOptionalTime returns the zero time for missing or malformed values
func (c *Client) parseOptionalTime(value, field, owner string) time.Time {
	if value == "" {
		return time.Time{}
	}
	t, err := ParseTimestamp(value)
	if err != nil {
		c.logger.Warn("Ignoring malformed timestamp",
			zap.String("field", field),
			zap.String("owner", owner),
			zap.Error(err))
		return time.Time{}
	}
	return t
}
