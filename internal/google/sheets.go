package google

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"tintbook/internal/config"
	"tintbook/internal/models"

	"golang.org/x/oauth2/google"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"
)

var ErrRowNotFound = errors.New("appointment row not found")

var headerRow = []interface{}{
	"ID", "Staff", "Date", "Start", "Duration (h)", "Services", "Customer", "Phone", "Status", "Notes", "Updated At",
}

// AppointmentSheet keeps one row per appointment in a spreadsheet tab.
// Column A holds the appointment id, column I the status.
type AppointmentSheet struct {
	service       *sheets.Service
	spreadsheetID string
	sheetName     string
	now           func() time.Time
	rowCache      map[string]int
	cacheMu       sync.RWMutex
}

// NewAppointmentSheet authenticates with a service-account key file.
func NewAppointmentSheet(ctx context.Context, cfg config.GoogleConfig) (*AppointmentSheet, error) {
	credentialsJSON, err := os.ReadFile(cfg.GoogleCredentialsFile)
	if err != nil {
		return nil, fmt.Errorf("unable to read credentials file: %w", err)
	}

	jwtCfg, err := google.JWTConfigFromJSON(credentialsJSON, sheets.SpreadsheetsScope)
	if err != nil {
		return nil, fmt.Errorf("unable to parse credentials: %w", err)
	}

	srv, err := sheets.NewService(ctx, option.WithHTTPClient(jwtCfg.Client(ctx)))
	if err != nil {
		return nil, fmt.Errorf("unable to create Sheets service: %w", err)
	}
	return NewAppointmentSheetWithService(srv, cfg.AppointmentsSpreadsheetID, cfg.SheetName), nil
}

func NewAppointmentSheetWithService(srv *sheets.Service, spreadsheetID, sheetName string) *AppointmentSheet {
	if sheetName == "" {
		sheetName = "Appointments"
	}
	return &AppointmentSheet{
		service:       srv,
		spreadsheetID: spreadsheetID,
		sheetName:     sheetName,
		now:           time.Now,
		rowCache:      make(map[string]int),
	}
}

// TestConnection читает заголовок листа
func (s *AppointmentSheet) TestConnection(ctx context.Context) error {
	_, err := s.service.Spreadsheets.Values.Get(s.spreadsheetID, s.rng("A1")).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("connection test failed: %w", err)
	}
	return nil
}

// EnsureHeader writes the header row.
func (s *AppointmentSheet) EnsureHeader(ctx context.Context) error {
	_, err := s.service.Spreadsheets.Values.Update(s.spreadsheetID, s.rng("A1:K1"), &sheets.ValueRange{
		Values: [][]interface{}{headerRow},
	}).ValueInputOption("RAW").Context(ctx).Do()
	return err
}

// WarmUpCache rebuilds the id -> row index from column A.
func (s *AppointmentSheet) WarmUpCache(ctx context.Context) error {
	resp, err := s.service.Spreadsheets.Values.Get(s.spreadsheetID, s.rng("A:A")).Context(ctx).Do()
	if err != nil {
		return err
	}

	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()
	s.rowCache = make(map[string]int)
	for i, row := range resp.Values {
		if id := cellString(row); id != "" && i > 0 {
			s.rowCache[id] = i + 1
		}
	}
	return nil
}

// UpsertAppointment updates the appointment's row or appends a new one.
func (s *AppointmentSheet) UpsertAppointment(ctx context.Context, a *models.Appointment) error {
	if a == nil || a.ID == "" {
		return fmt.Errorf("appointment id is required")
	}

	rowIdx, err := s.FindRow(ctx, a.ID)
	if errors.Is(err, ErrRowNotFound) {
		_, err = s.service.Spreadsheets.Values.Append(s.spreadsheetID, s.rng("A:A"), &sheets.ValueRange{
			Values: [][]interface{}{s.rowValues(a)},
		}).ValueInputOption("RAW").InsertDataOption("INSERT_ROWS").Context(ctx).Do()
		if err != nil {
			return fmt.Errorf("append row %s: %w", a.ID, err)
		}
		// позиция новой строки неизвестна до следующего чтения
		return nil
	}
	if err != nil {
		return err
	}

	_, err = s.service.Spreadsheets.Values.Update(s.spreadsheetID, s.rng(fmt.Sprintf("A%d:K%d", rowIdx, rowIdx)), &sheets.ValueRange{
		Values: [][]interface{}{s.rowValues(a)},
	}).ValueInputOption("RAW").Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("update row %s: %w", a.ID, err)
	}
	return nil
}

// UpdateAppointmentStatus rewrites the status and updated-at cells.
func (s *AppointmentSheet) UpdateAppointmentStatus(ctx context.Context, appointmentID, status string) error {
	rowIdx, err := s.FindRow(ctx, appointmentID)
	if err != nil {
		return err
	}

	_, err = s.service.Spreadsheets.Values.Update(s.spreadsheetID, s.rng(fmt.Sprintf("I%d", rowIdx)), &sheets.ValueRange{
		Values: [][]interface{}{{status}},
	}).ValueInputOption("RAW").Context(ctx).Do()
	if err != nil {
		return err
	}

	_, err = s.service.Spreadsheets.Values.Update(s.spreadsheetID, s.rng(fmt.Sprintf("K%d", rowIdx)), &sheets.ValueRange{
		Values: [][]interface{}{{s.now().Format("2006-01-02 15:04:05")}},
	}).ValueInputOption("RAW").Context(ctx).Do()
	return err
}

// FindRow returns the 1-based row of appointmentID.
func (s *AppointmentSheet) FindRow(ctx context.Context, appointmentID string) (int, error) {
	if appointmentID == "" {
		return 0, fmt.Errorf("appointment id is required")
	}
	if row, ok := s.cachedRow(appointmentID); ok {
		return row, nil
	}

	resp, err := s.service.Spreadsheets.Values.Get(s.spreadsheetID, s.rng("A:A")).Context(ctx).Do()
	if err != nil {
		return 0, err
	}
	for i, row := range resp.Values {
		if cellString(row) == appointmentID {
			s.setCachedRow(appointmentID, i+1)
			return i + 1, nil
		}
	}
	return 0, fmt.Errorf("%w: %s", ErrRowNotFound, appointmentID)
}

func (s *AppointmentSheet) ClearCache() {
	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()
	s.rowCache = make(map[string]int)
}

func (s *AppointmentSheet) rng(cells string) string {
	return s.sheetName + "!" + cells
}

func (s *AppointmentSheet) cachedRow(id string) (int, bool) {
	s.cacheMu.RLock()
	defer s.cacheMu.RUnlock()
	row, ok := s.rowCache[id]
	return row, ok
}

func (s *AppointmentSheet) setCachedRow(id string, row int) {
	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()
	s.rowCache[id] = row
}

func (s *AppointmentSheet) rowValues(a *models.Appointment) []interface{} {
	services := ""
	for i, id := range a.ServiceIDs {
		if i > 0 {
			services += ", "
		}
		services += id
	}
	return []interface{}{
		a.ID,
		a.StaffID,
		a.Date,
		a.StartTime,
		a.DurationHours,
		services,
		a.CustomerName,
		a.CustomerPhone,
		a.Status,
		a.Notes,
		s.now().Format("2006-01-02 15:04:05"),
	}
}

func cellString(row []interface{}) string {
	if len(row) == 0 {
		return ""
	}
	switch v := row[0].(type) {
	case string:
		return v
	case float64:
		return fmt.Sprintf("%.0f", v)
	default:
		return ""
	}
}
