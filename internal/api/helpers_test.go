package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"tintbook/internal/config"
	"tintbook/internal/database"
	"tintbook/internal/models"
	"tintbook/internal/repository"
	"tintbook/internal/service"
	"tintbook/internal/slots"
	"tintbook/internal/worker"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

const testDate = "2024-06-10"

type apiEnv struct {
	db       *database.DB
	codec    *slots.Codec
	agg      *service.Aggregator
	bookings *service.BookingService
	staff    *service.StaffService
}

func testLogger() *zerolog.Logger {
	l := zerolog.New(io.Discard)
	return &l
}

func newAPIEnv(t *testing.T, staffIDs ...string) *apiEnv {
	t.Helper()
	ctx := context.Background()

	db, err := database.NewDB(":memory:", testLogger())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	staffSvc := service.NewStaffService(db, testLogger())
	var staff []models.Staff
	for _, id := range staffIDs {
		staff = append(staff, models.Staff{ID: id, Name: "Tech " + id, Role: models.RoleStaff, CanTakeAppointments: true, IsActive: true})
	}
	require.NoError(t, staffSvc.SeedStaff(ctx, staff))

	codec := slots.MustCodec(slots.DefaultBusinessHours())
	cache := repository.NewMemoryAvailabilityCache()
	allocator := service.NewAllocator(codec, db, db, repository.NewMemoryLocker(), service.NewRandSource(1), cache, service.AllocatorOptions{
		MaxRetries: 3,
		LockTTL:    time.Second,
		Retry:      worker.RetryPolicy{InitialDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond},
	}, testLogger())
	catalog := service.NewCatalog([]models.Service{
		{ID: "front_tint", Name: "Front tint", DurationHours: 1.5},
		{ID: "headlights", Name: "Headlights", DurationHours: 0.5},
	}, slots.DefaultJobHours)

	return &apiEnv{
		db:       db,
		codec:    codec,
		agg:      service.NewAggregator(codec, db, db, cache, service.OverlapPoint, time.Minute, testLogger()),
		bookings: service.NewBookingService(allocator, db, catalog, nil, testLogger()),
		staff:    staffSvc,
	}
}

func (e *apiEnv) deps() HTTPDeps {
	return HTTPDeps{
		Availability: e.agg,
		Bookings:     e.bookings,
		Staff:        e.staff,
		Codec:        e.codec,
		Logger:       testLogger(),
	}
}

func openAPIConfig() config.APIConfig {
	return config.APIConfig{
		Enabled: true,
		HTTP:    config.APIHTTPConfig{Enabled: true, Port: 0},
	}
}

func authAPIConfig() config.APIConfig {
	cfg := openAPIConfig()
	cfg.Auth = config.APIAuthConfig{
		Enabled:      true,
		HeaderAPIKey: "x-api-key",
		HeaderExtra:  "x-api-extra",
		APIKeys: []config.APIClientKey{
			{Key: "front-desk", Extra: "s3cret", Name: "front desk", Permissions: []string{PermReadAvailability, PermWriteAppointments}},
			{Key: "admin", Extra: "root"},
		},
	}
	return cfg
}

func newTestHTTP(t *testing.T, cfg config.APIConfig, env *apiEnv) *httptest.Server {
	t.Helper()
	srv := NewHTTPServer(cfg, env.deps())
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts
}

func doJSON(t *testing.T, method, url string, body any, headers map[string]string) (*http.Response, map[string]any) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, url, reader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	var out map[string]any
	if len(raw) > 0 && resp.Header.Get("Content-Type") == "application/json" {
		require.NoError(t, json.Unmarshal(raw, &out), string(raw))
	}
	return resp, out
}

func bookBody(start string) map[string]any {
	return map[string]any{
		"date":           testDate,
		"start_time":     start,
		"service_ids":    []string{"front_tint", "headlights"},
		"customer_name":  "Ivan",
		"customer_phone": "+79990001122",
	}
}
