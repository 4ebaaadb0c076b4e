// Package testutil provides testing utilities for the cal.eu integration.
// It contains a fake cal.eu REST API backed by httptest and fixture
// helpers shared by unit and integration tests.
package testutil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
)

// Attendee is an attendee as sent on the wire
type Attendee struct {
	Name  string `json:"name,omitempty"`
	Email string `json:"email,omitempty"`
}

// Booking is a booking fixture in API wire format
type Booking struct {
	ID         int        `json:"id,omitempty"`
	UID        string     `json:"uid,omitempty"`
	Title      string     `json:"title,omitempty"`
	StartTime  string     `json:"startTime,omitempty"`
	EndTime    string     `json:"endTime,omitempty"`
	Status     string     `json:"status,omitempty"`
	Attendees  []Attendee `json:"attendees,omitempty"`
	Location   string     `json:"location,omitempty"`
	MeetingURL string     `json:"meetingUrl,omitempty"`
}

// Range is an availability range in API wire format
type Range struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

// DateOverride is a date override in API wire format
type DateOverride struct {
	Ranges []Range `json:"ranges"`
}

// Schedule is a schedule fixture in API wire format
type Schedule struct {
	ID            int            `json:"id"`
	Name          string         `json:"name"`
	DateOverrides []DateOverride `json:"dateOverrides,omitempty"`
}

// RecordedRequest captures what the server received
type RecordedRequest struct {
	Path          string
	Query         string
	Authorization string
	APIVersion    string
}

// MockAPIServer simulates the cal.eu bookings and schedules endpoints
type MockAPIServer struct {
	server *httptest.Server
	apiKey string

	mu              sync.Mutex
	bookings        []Booking
	schedules       []Schedule
	bookingsStatus  int
	schedulesStatus int
	rawBookings     string
	requests        []RecordedRequest
}

// NewMockAPIServer starts a server that accepts the given API key
func NewMockAPIServer(apiKey string) *MockAPIServer {
	s := &MockAPIServer{
		apiKey:          apiKey,
		bookings:        []Booking{},
		schedules:       []Schedule{},
		bookingsStatus:  http.StatusOK,
		schedulesStatus: http.StatusOK,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/bookings", s.handleBookings)
	mux.HandleFunc("/schedules", s.handleSchedules)
	s.server = httptest.NewServer(mux)

	return s
}

// URL returns the base URL to configure the client with
func (s *MockAPIServer) URL() string {
	return s.server.URL
}

// Close shuts the server down
func (s *MockAPIServer) Close() {
	s.server.Close()
}

// SetBookings replaces the bookings the server returns
func (s *MockAPIServer) SetBookings(bookings ...Booking) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bookings = append([]Booking{}, bookings...)
	s.rawBookings = ""
}

// SetRawBookingsBody makes the bookings endpoint return body verbatim
func (s *MockAPIServer) SetRawBookingsBody(body string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rawBookings = body
}

// SetSchedules replaces the schedules the server returns
func (s *MockAPIServer) SetSchedules(schedules ...Schedule) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.schedules = append([]Schedule{}, schedules...)
}

// SetBookingsStatus forces the bookings endpoint to answer with code
func (s *MockAPIServer) SetBookingsStatus(code int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bookingsStatus = code
}

// SetSchedulesStatus forces the schedules endpoint to answer with code
func (s *MockAPIServer) SetSchedulesStatus(code int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.schedulesStatus = code
}

// Requests returns a copy of all requests received so far
func (s *MockAPIServer) Requests() []RecordedRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]RecordedRequest(nil), s.requests...)
}

// RequestsTo returns the recorded requests for one path
func (s *MockAPIServer) RequestsTo(path string) []RecordedRequest {
	var result []RecordedRequest
	for _, req := range s.Requests() {
		if req.Path == path {
			result = append(result, req)
		}
	}
	return result
}

// record stores the request and reports whether it carried the right key
func (s *MockAPIServer) record(r *http.Request) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.requests = append(s.requests, RecordedRequest{
		Path:          r.URL.Path,
		Query:         r.URL.RawQuery,
		Authorization: r.Header.Get("Authorization"),
		APIVersion:    r.Header.Get("cal-api-version"),
	})

	token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	return token == s.apiKey
}

func (s *MockAPIServer) handleBookings(w http.ResponseWriter, r *http.Request) {
	if !s.record(r) {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"status": "error"})
		return
	}

	s.mu.Lock()
	code := s.bookingsStatus
	bookings := append([]Booking{}, s.bookings...)
	raw := s.rawBookings
	s.mu.Unlock()

	if code != http.StatusOK {
		writeJSON(w, code, map[string]string{"status": "error"})
		return
	}

	if raw != "" {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(raw))
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status": "success",
		"data": map[string]interface{}{
			"bookings": bookings,
		},
	})
}

func (s *MockAPIServer) handleSchedules(w http.ResponseWriter, r *http.Request) {
	if !s.record(r) {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"status": "error"})
		return
	}

	s.mu.Lock()
	code := s.schedulesStatus
	schedules := append([]Schedule{}, s.schedules...)
	s.mu.Unlock()

	if code != http.StatusOK {
		writeJSON(w, code, map[string]string{"status": "error"})
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status": "success",
		"data":   schedules,
	})
}

func writeJSON(w http.ResponseWriter, code int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(body)
}
