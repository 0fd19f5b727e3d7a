package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"tintbook/internal/config"
	"tintbook/internal/metrics"
	"tintbook/internal/models"
	"tintbook/internal/service"
	"tintbook/internal/slots"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
)

// Route names; HTTPAuth maps them to permissions.
const (
	routeHealth            = "healthz"
	routeBookable          = "days.bookable"
	routeTaken             = "days.taken"
	routeDayStatus         = "days.status"
	routeExport            = "days.export"
	routeClearDay          = "days.clear"
	routeResetDay          = "days.reset"
	routeListAppointments  = "days.appointments"
	routeCreateAppointment = "appointments.create"
	routeGetAppointment    = "appointments.get"
	routeCancelAppointment = "appointments.cancel"
	routeRescheduleAppt    = "appointments.reschedule"
	routeListEligibleStaff = "staff.list"
)

type Bookings interface {
	CreateAppointment(ctx context.Context, in service.CreateAppointmentInput) (*models.Appointment, *service.AllocationResult, error)
	CancelAppointment(ctx context.Context, id string) (*models.Appointment, error)
	RescheduleAppointment(ctx context.Context, id, newDate, newStart string) (*models.Appointment, *service.AllocationResult, error)
	GetAppointment(ctx context.Context, id string) (*models.Appointment, error)
	ListAppointments(ctx context.Context, date string) ([]*models.Appointment, error)
	ClearDay(ctx context.Context, date string) error
	ResetDay(ctx context.Context, date string) error
}

type StaffLister interface {
	ListEligible(ctx context.Context) ([]*models.Staff, error)
}

type HTTPDeps struct {
	Availability Availability
	Bookings     Bookings
	Staff        StaffLister
	Codec        *slots.Codec
	Limiter      *RateLimiter
	Logger       *zerolog.Logger
}

// HTTPServer exposes the booking API alongside the gRPC service.
type HTTPServer struct {
	cfg      config.APIConfig
	deps     HTTPDeps
	server   *http.Server
	auth     *HTTPAuth
	validate *validator.Validate
	log      zerolog.Logger
}

func NewHTTPServer(cfg config.APIConfig, deps HTTPDeps) *HTTPServer {
	srv := &HTTPServer{
		cfg:      cfg,
		deps:     deps,
		auth:     NewHTTPAuth(cfg, deps.Limiter),
		validate: validator.New(),
		log:      zerolog.Nop(),
	}
	if deps.Logger != nil {
		srv.log = deps.Logger.With().Str("component", "http").Logger()
	}

	router := mux.NewRouter()
	router.HandleFunc("/healthz", srv.handleHealth).Methods(http.MethodGet).Name(routeHealth)

	v1 := router.PathPrefix("/api/v1").Subrouter()
	v1.Use(srv.auth.Middleware)
	v1.HandleFunc("/days/{date}/bookable", srv.handleBookable).Methods(http.MethodGet).Name(routeBookable)
	v1.HandleFunc("/days/{date}/taken", srv.handleTaken).Methods(http.MethodGet).Name(routeTaken)
	v1.HandleFunc("/days/{date}/status", srv.handleDayStatus).Methods(http.MethodGet).Name(routeDayStatus)
	v1.HandleFunc("/days/{date}/export.xlsx", srv.handleExport).Methods(http.MethodGet).Name(routeExport)
	v1.HandleFunc("/days/{date}/appointments", srv.handleListAppointments).Methods(http.MethodGet).Name(routeListAppointments)
	v1.HandleFunc("/days/{date}/clear", srv.handleClearDay).Methods(http.MethodPost).Name(routeClearDay)
	v1.HandleFunc("/days/{date}/reset", srv.handleResetDay).Methods(http.MethodPost).Name(routeResetDay)
	v1.HandleFunc("/appointments", srv.handleCreateAppointment).Methods(http.MethodPost).Name(routeCreateAppointment)
	v1.HandleFunc("/appointments/{id}", srv.handleGetAppointment).Methods(http.MethodGet).Name(routeGetAppointment)
	v1.HandleFunc("/appointments/{id}/cancel", srv.handleCancelAppointment).Methods(http.MethodPost).Name(routeCancelAppointment)
	v1.HandleFunc("/appointments/{id}/reschedule", srv.handleRescheduleAppointment).Methods(http.MethodPost).Name(routeRescheduleAppt)
	v1.HandleFunc("/staff", srv.handleListStaff).Methods(http.MethodGet).Name(routeListEligibleStaff)

	router.Use(srv.loggingMiddleware)

	srv.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTP.Port),
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      15 * time.Second,
	}

	return srv
}

func (s *HTTPServer) Handler() http.Handler {
	return s.server.Handler
}

func (s *HTTPServer) Start() error {
	if s.server == nil {
		return fmt.Errorf("http server is not initialized")
	}
	s.log.Info().Str("addr", s.server.Addr).Msg("HTTP API listening")
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *HTTPServer) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

func (s *HTTPServer) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get(requestIDMetadataKey)
		if requestID == "" {
			requestID = uuid.NewString()
		}
		w.Header().Set(requestIDMetadataKey, requestID)

		route := "unmatched"
		if cur := mux.CurrentRoute(r); cur != nil && cur.GetName() != "" {
			route = cur.GetName()
		}
		metrics.IncHTTP(route)

		start := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(recorder, r)

		s.log.Info().
			Str("request_id", requestID).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Str("route", route).
			Int("status", recorder.status).
			Dur("duration", time.Since(start)).
			Msg("http request")
	})
}

func writeJSON(w http.ResponseWriter, statusCode int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, statusCode int, message string) {
	writeJSON(w, statusCode, map[string]string{"error": message})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}
