package google

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"tintbook/internal/models"

	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"
)

type sheetCall struct {
	method string
	path   string
	values [][]interface{}
}

type fakeSheetsAPI struct {
	mu     sync.Mutex
	calls  []sheetCall
	column [][]interface{}
}

func (f *fakeSheetsAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	call := sheetCall{method: r.Method, path: r.URL.Path}
	if r.Body != nil && r.Method != http.MethodGet {
		var vr sheets.ValueRange
		_ = json.NewDecoder(r.Body).Decode(&vr)
		call.values = vr.Values
	}
	f.mu.Lock()
	f.calls = append(f.calls, call)
	column := f.column
	f.mu.Unlock()

	switch {
	case r.Method == http.MethodGet:
		_ = json.NewEncoder(w).Encode(sheets.ValueRange{Values: column})
	case strings.HasSuffix(r.URL.Path, ":append"):
		_ = json.NewEncoder(w).Encode(sheets.AppendValuesResponse{})
	default:
		_ = json.NewEncoder(w).Encode(sheets.UpdateValuesResponse{})
	}
}

func (f *fakeSheetsAPI) callsTo(suffix string) []sheetCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []sheetCall
	for _, c := range f.calls {
		if strings.HasSuffix(c.path, suffix) {
			out = append(out, c)
		}
	}
	return out
}

func setupSheet(t *testing.T, column [][]interface{}) (*fakeSheetsAPI, *AppointmentSheet) {
	t.Helper()
	api := &fakeSheetsAPI{column: column}
	server := httptest.NewServer(api)
	t.Cleanup(server.Close)

	srv, err := sheets.NewService(context.Background(), option.WithEndpoint(server.URL), option.WithoutAuthentication())
	if err != nil {
		t.Fatalf("sheets.NewService: %v", err)
	}
	s := NewAppointmentSheetWithService(srv, "sheet_tid", "")
	s.now = func() time.Time { return time.Date(2024, 6, 10, 9, 30, 0, 0, time.UTC) }
	return api, s
}

func testAppointment() *models.Appointment {
	return &models.Appointment{
		ID:            "a-1",
		StaffID:       "A",
		Date:          "2024-06-10",
		StartTime:     "10:00",
		DurationHours: 2,
		ServiceIDs:    []string{"front_tint", "headlights"},
		CustomerName:  "Ivan",
		CustomerPhone: "+79990001122",
		Status:        models.StatusBooked,
	}
}

func TestAppointmentSheet_WarmUpCache(t *testing.T) {
	_, s := setupSheet(t, [][]interface{}{{"ID"}, {"a-1"}, {}, {"a-3"}})
	if err := s.WarmUpCache(context.Background()); err != nil {
		t.Fatalf("WarmUpCache: %v", err)
	}
	if row, ok := s.cachedRow("a-1"); !ok || row != 2 {
		t.Errorf("expected row 2 for a-1, got %d", row)
	}
	if row, ok := s.cachedRow("a-3"); !ok || row != 4 {
		t.Errorf("expected row 4 for a-3, got %d", row)
	}
	if _, ok := s.cachedRow("ID"); ok {
		t.Errorf("header must not be cached")
	}
}

func TestAppointmentSheet_UpsertAppends(t *testing.T) {
	api, s := setupSheet(t, [][]interface{}{{"ID"}})
	if err := s.UpsertAppointment(context.Background(), testAppointment()); err != nil {
		t.Fatalf("UpsertAppointment: %v", err)
	}

	appends := api.callsTo("Appointments!A:A:append")
	if len(appends) != 1 {
		t.Fatalf("expected one append, got %d", len(appends))
	}
	row := appends[0].values[0]
	if row[0] != "a-1" || row[5] != "front_tint, headlights" || row[8] != models.StatusBooked {
		t.Errorf("unexpected row: %v", row)
	}
	if row[10] != "2024-06-10 09:30:00" {
		t.Errorf("unexpected updated at: %v", row[10])
	}
}

func TestAppointmentSheet_UpsertUpdatesExistingRow(t *testing.T) {
	api, s := setupSheet(t, [][]interface{}{{"ID"}, {"a-0"}, {"a-1"}})
	appt := testAppointment()
	appt.StartTime = "15:00"

	if err := s.UpsertAppointment(context.Background(), appt); err != nil {
		t.Fatalf("UpsertAppointment: %v", err)
	}
	updates := api.callsTo("Appointments!A3:K3")
	if len(updates) != 1 {
		t.Fatalf("expected update of row 3, got calls %+v", api.calls)
	}
	if updates[0].values[0][3] != "15:00" {
		t.Errorf("unexpected start: %v", updates[0].values[0][3])
	}
	if len(api.callsTo(":append")) != 0 {
		t.Errorf("existing row must not be appended")
	}

	// второй вызов берет строку из кэша
	if err := s.UpsertAppointment(context.Background(), appt); err != nil {
		t.Fatalf("UpsertAppointment: %v", err)
	}
	if gets := api.callsTo("Appointments!A:A"); len(gets) != 1 {
		t.Errorf("expected one column read, got %d", len(gets))
	}
}

func TestAppointmentSheet_UpdateStatus(t *testing.T) {
	api, s := setupSheet(t, [][]interface{}{{"ID"}, {"a-1"}})
	if err := s.UpdateAppointmentStatus(context.Background(), "a-1", models.StatusCancelled); err != nil {
		t.Fatalf("UpdateAppointmentStatus: %v", err)
	}
	status := api.callsTo("Appointments!I2")
	if len(status) != 1 || status[0].values[0][0] != models.StatusCancelled {
		t.Errorf("status cell not written: %+v", status)
	}
	if len(api.callsTo("Appointments!K2")) != 1 {
		t.Errorf("updated-at cell not written")
	}
}

func TestAppointmentSheet_UpdateStatusMissingRow(t *testing.T) {
	_, s := setupSheet(t, [][]interface{}{{"ID"}})
	err := s.UpdateAppointmentStatus(context.Background(), "nope", models.StatusCancelled)
	if err == nil || !strings.Contains(err.Error(), ErrRowNotFound.Error()) {
		t.Errorf("expected row not found, got %v", err)
	}
}

func TestAppointmentSheet_Validation(t *testing.T) {
	_, s := setupSheet(t, nil)
	if err := s.UpsertAppointment(context.Background(), nil); err == nil {
		t.Errorf("expected error for nil appointment")
	}
	if _, err := s.FindRow(context.Background(), ""); err == nil {
		t.Errorf("expected error for empty id")
	}
}

func TestCellString(t *testing.T) {
	if got := cellString([]interface{}{float64(42)}); got != "42" {
		t.Errorf("expected 42, got %q", got)
	}
	if got := cellString(nil); got != "" {
		t.Errorf("expected empty, got %q", got)
	}
}
