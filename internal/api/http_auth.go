package api

import (
	"errors"
	"net"
	"net/http"
	"strings"

	"tintbook/internal/config"

	"github.com/gorilla/mux"
)

// HTTPAuth provides API-key auth and per-key rate limiting for HTTP endpoints.
type HTTPAuth struct {
	cfg     config.APIConfig
	keys    *keyring
	limiter *RateLimiter
}

func NewHTTPAuth(cfg config.APIConfig, limiter *RateLimiter) *HTTPAuth {
	if limiter == nil {
		limiter = NewRateLimiter(cfg.RateLimit)
	}
	return &HTTPAuth{cfg: cfg, keys: newKeyring(cfg.Auth), limiter: limiter}
}

// Middleware is installed on the /api/v1 subrouter; the matched route name
// selects the required permission.
func (a *HTTPAuth) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !a.cfg.Enabled || !a.cfg.HTTP.Enabled {
			next.ServeHTTP(w, r)
			return
		}

		if a.cfg.Auth.Enabled {
			if err := a.checkAuth(r); err != nil {
				statusCode := http.StatusUnauthorized
				if errors.Is(err, errPermissionDenied) {
					statusCode = http.StatusForbidden
				}
				writeError(w, statusCode, err.Error())
				return
			}
		}

		if !a.limiter.Allow(a.clientKey(r)) {
			writeError(w, http.StatusTooManyRequests, errRateLimited.Error())
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (a *HTTPAuth) checkAuth(r *http.Request) error {
	apiKey := strings.TrimSpace(r.Header.Get(a.keys.apiKeyHeader()))
	extra := strings.TrimSpace(r.Header.Get(a.keys.extraHeader()))

	client, err := a.keys.authenticate(apiKey, extra)
	if err != nil {
		return err
	}
	if !hasPermission(client, requiredPermissionHTTP(r)) {
		return errPermissionDenied
	}
	return nil
}

var routePermissions = map[string]string{
	routeBookable:          PermReadAvailability,
	routeTaken:             PermReadAvailability,
	routeDayStatus:         PermReadAvailability,
	routeExport:            PermReadAvailability,
	routeClearDay:          PermManageDays,
	routeResetDay:          PermManageDays,
	routeCreateAppointment: PermWriteAppointments,
	routeCancelAppointment: PermWriteAppointments,
	routeRescheduleAppt:    PermWriteAppointments,
	routeGetAppointment:    PermReadAppointments,
	routeListAppointments:  PermReadAppointments,
	routeListEligibleStaff: PermReadStaff,
}

func requiredPermissionHTTP(r *http.Request) string {
	route := mux.CurrentRoute(r)
	if route == nil {
		return ""
	}
	return routePermissions[route.GetName()]
}

func (a *HTTPAuth) clientKey(r *http.Request) string {
	if apiKey := strings.TrimSpace(r.Header.Get(a.keys.apiKeyHeader())); apiKey != "" {
		return apiKey
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err == nil && host != "" {
		return host
	}
	return clientKeyUnknown
}
