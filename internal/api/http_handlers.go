package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"tintbook/internal/export"
	"tintbook/internal/service"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// Kinds added on top of the allocation error kinds.
const (
	kindInvalidRequest = "InvalidRequest"
	kindNotFound       = "NotFound"
	kindInactive       = "AppointmentInactive"
)

type rescheduleRequest struct {
	Date      string `json:"date" validate:"required,datetime=2006-01-02"`
	StartTime string `json:"start_time" validate:"required"`
}

func (s *HTTPServer) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *HTTPServer) handleBookable(w http.ResponseWriter, r *http.Request) {
	date := mux.Vars(r)["date"]
	duration, err := durationParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	times, err := s.deps.Availability.BookableTimes(r.Context(), date, duration)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"date": date, "times": times})
}

func (s *HTTPServer) handleTaken(w http.ResponseWriter, r *http.Request) {
	date := mux.Vars(r)["date"]
	views, err := s.deps.Availability.TakenTimes(r.Context(), date)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}

	cleared := false
	for _, v := range views {
		if v.ClearedOut {
			cleared = true
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"date": date, "staff": views, "cleared_out": cleared})
}

func (s *HTTPServer) handleDayStatus(w http.ResponseWriter, r *http.Request) {
	date := mux.Vars(r)["date"]
	duration, err := durationParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	st, err := s.deps.Availability.DayStatus(r.Context(), date, duration)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *HTTPServer) handleExport(w http.ResponseWriter, r *http.Request) {
	date := mux.Vars(r)["date"]
	views, err := s.deps.Availability.TakenTimes(r.Context(), date)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	appts, err := s.deps.Bookings.ListAppointments(r.Context(), date)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", xlsxContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="schedule_%s.xlsx"`, date))
	if err := export.WriteDaySchedule(w, s.deps.Codec, date, views, appts); err != nil {
		s.log.Error().Err(err).Str("date", date).Msg("export day schedule")
	}
}

func (s *HTTPServer) handleListAppointments(w http.ResponseWriter, r *http.Request) {
	date := mux.Vars(r)["date"]
	appts, err := s.deps.Bookings.ListAppointments(r.Context(), date)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"date": date, "appointments": appts})
}

func (s *HTTPServer) handleClearDay(w http.ResponseWriter, r *http.Request) {
	date := mux.Vars(r)["date"]
	if err := s.deps.Bookings.ClearDay(r.Context(), date); err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"date": date, "cleared_out": true})
}

func (s *HTTPServer) handleResetDay(w http.ResponseWriter, r *http.Request) {
	date := mux.Vars(r)["date"]
	if err := s.deps.Bookings.ResetDay(r.Context(), date); err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"date": date, "cleared_out": false})
}

func (s *HTTPServer) handleCreateAppointment(w http.ResponseWriter, r *http.Request) {
	var in service.CreateAppointmentInput
	if err := s.decodeAndValidate(r, &in); err != nil {
		writeJSON(w, http.StatusBadRequest, invalidRequest(err))
		return
	}

	appt, res, err := s.deps.Bookings.CreateAppointment(r.Context(), in)
	if err != nil {
		s.writeAllocationError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"appointment": appt, "allocation": res})
}

func (s *HTTPServer) handleGetAppointment(w http.ResponseWriter, r *http.Request) {
	appt, err := s.deps.Bookings.GetAppointment(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, appt)
}

func (s *HTTPServer) handleCancelAppointment(w http.ResponseWriter, r *http.Request) {
	appt, err := s.deps.Bookings.CancelAppointment(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, appt)
}

func (s *HTTPServer) handleRescheduleAppointment(w http.ResponseWriter, r *http.Request) {
	var in rescheduleRequest
	if err := s.decodeAndValidate(r, &in); err != nil {
		writeJSON(w, http.StatusBadRequest, invalidRequest(err))
		return
	}

	appt, res, err := s.deps.Bookings.RescheduleAppointment(r.Context(), mux.Vars(r)["id"], in.Date, in.StartTime)
	if err != nil {
		s.writeAllocationError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"appointment": appt, "allocation": res})
}

func (s *HTTPServer) handleListStaff(w http.ResponseWriter, r *http.Request) {
	staff, err := s.deps.Staff.ListEligible(r.Context())
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"staff": staff})
}

func (s *HTTPServer) decodeAndValidate(r *http.Request, dst any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	return s.validate.Struct(dst)
}

func durationParam(r *http.Request) (float64, error) {
	raw := strings.TrimSpace(r.URL.Query().Get("duration"))
	if raw == "" {
		return 0, nil
	}
	d, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q", raw)
	}
	return d, nil
}

func invalidRequest(err error) *service.AllocationResult {
	msg := err.Error()
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		fields := make([]string, 0, len(verrs))
		for _, fe := range verrs {
			fields = append(fields, fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag()))
		}
		msg = strings.Join(fields, "; ")
	}
	return &service.AllocationResult{Success: false, Error: kindInvalidRequest, Message: msg}
}

// writeAllocationError responds with the failed allocation result shape.
func (s *HTTPServer) writeAllocationError(w http.ResponseWriter, err error) {
	res := service.ResultFromError(err)
	switch {
	case errors.Is(err, service.ErrUnknownService):
		res.Error = kindInvalidRequest
	case errors.Is(err, service.ErrAppointmentNotFound):
		res.Error = kindNotFound
	case errors.Is(err, service.ErrAppointmentInactive):
		res.Error = kindInactive
	}
	code := httpStatus(err)
	if code >= http.StatusInternalServerError {
		s.log.Error().Err(err).Msg("allocation failed")
	}
	writeJSON(w, code, res)
}

func (s *HTTPServer) writeServiceError(w http.ResponseWriter, err error) {
	code := httpStatus(err)
	if code >= http.StatusInternalServerError {
		s.log.Error().Err(err).Msg("request failed")
		if code == http.StatusInternalServerError {
			writeError(w, code, "internal error")
			return
		}
	}
	writeError(w, code, err.Error())
}

func httpStatus(err error) int {
	switch {
	case errors.Is(err, service.ErrAppointmentNotFound):
		return http.StatusNotFound
	case errors.Is(err, service.ErrUnknownService):
		return http.StatusBadRequest
	case errors.Is(err, service.ErrAppointmentInactive):
		return http.StatusConflict
	}

	switch service.ErrorKind(err) {
	case service.KindParseError, service.KindInvalidSlot:
		return http.StatusBadRequest
	case service.KindNoAvailability, service.KindDayFullyBooked:
		return http.StatusConflict
	case service.KindConcurrencyConflict:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
