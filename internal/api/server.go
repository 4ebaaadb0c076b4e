package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rpliva/hacs-cal-eu/internal/bookings"
	"github.com/rpliva/hacs-cal-eu/internal/caleu"
	"github.com/rpliva/hacs-cal-eu/internal/coordinator"
	"github.com/rpliva/hacs-cal-eu/internal/views"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

// Coordinator is what the API reads from and refreshes
type Coordinator interface {
	views.Source
	Status() coordinator.Status
	AvailabilitySlots() []bookings.Slot
	RefreshNow(ctx context.Context) (*coordinator.Snapshot, error)
}

// ServerConfig wires the API to the running integration
type ServerConfig struct {
	Coordinator Coordinator
	// Events serves the websocket notification stream. Optional.
	Events http.Handler
	// CalendarStatuses limits the exported calendar. Empty means all.
	CalendarStatuses []caleu.Status
	Port             int
}

// Server provides read-only HTTP endpoints over the latest snapshot
type Server struct {
	coordinator Coordinator
	calendar    *views.Calendar
	logger      *zap.Logger
	router      *mux.Router
	server      *http.Server
}

// NewServer creates a new API server
func NewServer(cfg ServerConfig, logger *zap.Logger) *Server {
	s := &Server{
		coordinator: cfg.Coordinator,
		calendar:    views.NewCalendar(cfg.Coordinator, cfg.CalendarStatuses...),
		logger:      logger.Named("api"),
	}

	r := mux.NewRouter()
	r.HandleFunc("/", s.handleSitemap).Methods(http.MethodGet)
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/api/status", s.handleStatus).Methods(http.MethodGet)
	r.HandleFunc("/api/snapshot", s.handleSnapshot).Methods(http.MethodGet)
	r.HandleFunc("/api/calendar/next", s.handleCalendarNext).Methods(http.MethodGet)
	r.HandleFunc("/api/calendar/events", s.handleCalendarEvents).Methods(http.MethodGet)
	r.HandleFunc("/api/calendar.ics", s.handleCalendarICS).Methods(http.MethodGet)
	r.HandleFunc("/api/sensors", s.handleSensors).Methods(http.MethodGet)
	r.HandleFunc("/api/availability", s.handleAvailability).Methods(http.MethodGet)
	r.HandleFunc("/api/refresh", s.handleRefresh).Methods(http.MethodPost)
	if cfg.Events != nil {
		r.Handle("/api/events/ws", cfg.Events).Methods(http.MethodGet)
	}
	s.router = r

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// Handler returns the router, for embedding and tests
func (s *Server) Handler() http.Handler {
	return s.router
}

// ErrorResponse is the body of every 4xx/5xx JSON response
type ErrorResponse struct {
	Error string `json:"error"`
}

// NextEventResponse wraps the next calendar event, null when there is none
type NextEventResponse struct {
	Event *views.CalendarEvent `json:"event"`
}

func (s *Server) writeJSON(w http.ResponseWriter, code int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.Error("Failed to encode response", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, code int, format string, args ...interface{}) {
	s.writeJSON(w, code, ErrorResponse{Error: fmt.Sprintf(format, args...)})
}

// parseStatuses accepts repeated and comma-separated status parameters
func parseStatuses(r *http.Request) []caleu.Status {
	var statuses []caleu.Status
	for _, raw := range r.URL.Query()["status"] {
		for _, part := range strings.Split(raw, ",") {
			part = strings.TrimSpace(part)
			if part != "" {
				statuses = append(statuses, caleu.Status(strings.ToUpper(part)))
			}
		}
	}
	return statuses
}

func parseTimeParam(r *http.Request, name string) (time.Time, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return time.Time{}, fmt.Errorf("missing %q parameter", name)
	}
	t, err := caleu.ParseTimestamp(raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid %q parameter: %w", name, err)
	}
	return t, nil
}

// handleHealth returns a simple health check response
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.coordinator.Status())
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	snap := s.coordinator.CurrentSnapshot()
	if snap == nil {
		s.writeError(w, http.StatusServiceUnavailable, "no successful poll yet")
		return
	}
	s.writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleCalendarNext(w http.ResponseWriter, r *http.Request) {
	cal := views.NewCalendar(s.coordinator, parseStatuses(r)...)

	var response NextEventResponse
	if event, ok := cal.Event(); ok {
		response.Event = &event
	}
	s.writeJSON(w, http.StatusOK, response)
}

func (s *Server) handleCalendarEvents(w http.ResponseWriter, r *http.Request) {
	start, err := parseTimeParam(r, "start")
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "%v", err)
		return
	}
	end, err := parseTimeParam(r, "end")
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "%v", err)
		return
	}
	if end.Before(start) {
		s.writeError(w, http.StatusBadRequest, "end must not be before start")
		return
	}

	cal := views.NewCalendar(s.coordinator, parseStatuses(r)...)
	s.writeJSON(w, http.StatusOK, cal.Events(start, end))
}

func (s *Server) handleCalendarICS(w http.ResponseWriter, r *http.Request) {
	var buf bytes.Buffer
	if err := views.WriteICS(&buf, s.calendar.All(), s.coordinator.Now()); err != nil {
		s.logger.Error("Failed to write calendar", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "failed to export calendar")
		return
	}

	w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
	w.Header().Set("Content-Disposition", `inline; filename="cal-eu.ics"`)
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(buf.Bytes()); err != nil {
		s.logger.Debug("Failed to send calendar", zap.Error(err))
	}
}

func (s *Server) handleSensors(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, views.Sensors(s.coordinator))
}

func (s *Server) handleAvailability(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.coordinator.AvailabilitySlots())
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	_, err := s.coordinator.RefreshNow(r.Context())
	switch {
	case err == nil:
		s.writeJSON(w, http.StatusOK, s.coordinator.Status())
	case caleu.IsAuthenticationError(err):
		s.writeError(w, http.StatusUnauthorized, "%v", err)
	default:
		s.writeError(w, http.StatusBadGateway, "%v", err)
	}

	s.logger.Debug("Manual refresh served",
		zap.String("remote_addr", r.RemoteAddr),
		zap.Error(err))
}

// Endpoint represents an API endpoint with its documentation
type Endpoint struct {
	Path        string `json:"path"`
	Method      string `json:"method"`
	Description string `json:"description"`
}

var endpoints = []Endpoint{
	{Path: "/", Method: "GET", Description: "This sitemap - lists all available API endpoints"},
	{Path: "/health", Method: "GET", Description: "Health check endpoint - returns {\"status\": \"ok\"}"},
	{Path: "/api/status", Method: "GET", Description: "Poll loop status and last poll outcome"},
	{Path: "/api/snapshot", Method: "GET", Description: "Latest bookings and schedules"},
	{Path: "/api/calendar/next", Method: "GET", Description: "Next booking that has not ended (?status=)"},
	{Path: "/api/calendar/events", Method: "GET", Description: "Bookings overlapping ?start=&end= (RFC 3339, optional ?status=)"},
	{Path: "/api/calendar.ics", Method: "GET", Description: "All bookings as an iCalendar feed"},
	{Path: "/api/sensors", Method: "GET", Description: "Bookings, next booking and unconfirmed bookings sensors"},
	{Path: "/api/availability", Method: "GET", Description: "Availability slots from schedule date overrides"},
	{Path: "/api/refresh", Method: "POST", Description: "Poll cal.eu now"},
	{Path: "/api/events/ws", Method: "GET", Description: "WebSocket stream of cal_eu_new_booking events"},
}

// handleSitemap returns a list of all available API endpoints
func (s *Server) handleSitemap(w http.ResponseWriter, r *http.Request) {
	preferHTML := strings.Contains(r.Header.Get("Accept"), "text/html")

	if preferHTML {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, `<!DOCTYPE html>
<html>
<head>
    <title>Cal.eu Bookings API</title>
    <style>
        body { font-family: monospace; margin: 40px; background: #1e1e1e; color: #d4d4d4; }
        h1 { color: #4ec9b0; }
        .endpoint { background: #2d2d2d; padding: 15px; margin: 10px 0; border-left: 3px solid #007acc; }
        .method { color: #4ec9b0; font-weight: bold; }
        .path { color: #ce9178; }
        .description { color: #9cdcfe; margin-top: 5px; }
    </style>
</head>
<body>
    <h1>Cal.eu Bookings API</h1>
`)
		for _, ep := range endpoints {
			fmt.Fprintf(w, `    <div class="endpoint">
        <div><span class="method">%s</span> <span class="path">%s</span></div>
        <div class="description">%s</div>
    </div>
`, ep.Method, ep.Path, ep.Description)
		}
		fmt.Fprintf(w, "</body>\n</html>\n")
	} else {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, "Cal.eu Bookings API\n")
		fmt.Fprintf(w, "===================\n\n")
		fmt.Fprintf(w, "Available endpoints:\n\n")
		for _, ep := range endpoints {
			fmt.Fprintf(w, "  %-6s %-22s %s\n", ep.Method, ep.Path, ep.Description)
		}
		fmt.Fprintf(w, "\nExample:\n\n")
		fmt.Fprintf(w, "  curl 'http://localhost:8081/api/calendar/events?start=2024-01-01T00:00:00Z&end=2024-01-31T23:59:59Z' | jq\n")
	}

	s.logger.Debug("Sitemap request served",
		zap.String("remote_addr", r.RemoteAddr),
		zap.Bool("html_format", preferHTML))
}

// Start begins serving HTTP requests
func (s *Server) Start() error {
	s.logger.Info("Starting HTTP API server", zap.String("addr", s.server.Addr))

	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("HTTP server error", zap.Error(err))
		}
	}()

	return nil
}

// Stop gracefully shuts down the HTTP server
func (s *Server) Stop() error {
	s.logger.Info("Stopping HTTP API server")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown HTTP server: %w", err)
	}

	return nil
}
