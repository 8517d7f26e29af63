package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/familyrx/medtrack/internal/api/middleware"
	"github.com/familyrx/medtrack/internal/domain"
	"github.com/familyrx/medtrack/internal/domain/medlog"
	"github.com/familyrx/medtrack/internal/service"
	"github.com/familyrx/medtrack/pkg/idempotency"
)

const createLogOperation = "medication_log.create"

// Deduplicator runs fn at most once per key. *idempotency.Store
// implements it.
type Deduplicator interface {
	Do(ctx context.Context, key idempotency.Key, body []byte, fn idempotency.Func) (*idempotency.Outcome, error)
}

// MedicationLogHandler handles /api/medication-logs.
type MedicationLogHandler struct {
	base
	dedup Deduplicator
}

// NewMedicationLogHandler creates the handler. A nil dedup ignores the
// Idempotency-Key header.
func NewMedicationLogHandler(d Deps, dedup Deduplicator) *MedicationLogHandler {
	return &MedicationLogHandler{base: newBase(d), dedup: dedup}
}

// Routes returns the handler routes
func (h *MedicationLogHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/", h.Create)
	r.Get("/", h.List)
	r.Get("/today", h.Today)
	r.Get("/schedule/{date}", h.ForDate)
	r.Get("/compliance-stats", h.Compliance)
	r.Get("/compliance-report", h.ComplianceReport)
	r.Get("/{id}", h.Get)
	r.Put("/{id}", h.Update)
	r.Patch("/{id}/taken", h.MarkTaken)
	r.Patch("/{id}/missed", h.MarkMissed)
	r.Patch("/{id}/skipped", h.MarkSkipped)
	r.Delete("/{id}", h.Delete)
	return r
}

type createLogRequest struct {
	PrescriptionID string  `json:"prescriptionId" validate:"required,uuid"`
	ScheduledTime  string  `json:"scheduledTime" validate:"required,timestamp"`
	TakenTime      *string `json:"takenTime" validate:"omitempty,timestamp"`
	Status         string  `json:"status" validate:"omitempty,oneof=taken missed skipped"`
	Notes          string  `json:"notes"`
}

type updateLogRequest struct {
	TakenTime *string `json:"takenTime" validate:"omitempty,timestamp"`
	Status    *string `json:"status" validate:"omitempty,oneof=taken missed skipped"`
	Notes     *string `json:"notes"`
}

type markTakenRequest struct {
	TakenTime *string `json:"takenTime" validate:"omitempty,timestamp"`
}

type markSkippedRequest struct {
	Notes *string `json:"notes"`
}

// Create handles POST /medication-logs
func (h *MedicationLogHandler) Create(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		badRequest(w, "Validation error: request body too large")
		return
	}
	var req createLogRequest
	if len(body) > 0 {
		if err := json.Unmarshal(body, &req); err != nil {
			badRequest(w, "Validation error: invalid JSON body")
			return
		}
	}
	if err := validateRequest("Body", req); err != nil {
		h.fail(w, r, err)
		return
	}
	scheduled, err := parseTimestamp(req.ScheduledTime)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	taken, err := parseOptionalTimestamp(req.TakenTime)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	in := service.CreateMedicationLog{
		PrescriptionID: uuid.MustParse(req.PrescriptionID),
		ScheduledTime:  scheduled,
		TakenTime:      taken,
		Status:         medlog.Status(req.Status),
		Notes:          req.Notes,
	}

	run := func(ctx context.Context) (json.RawMessage, error) {
		d, err := h.svc.MedicationLogs.Create(ctx, in)
		if err != nil {
			return nil, err
		}
		return json.Marshal(logView(*d))
	}

	value := r.Header.Get("Idempotency-Key")
	if h.dedup == nil || value == "" {
		view, err := run(r.Context())
		if err != nil {
			h.fail(w, r, err)
			return
		}
		created(w, view, "Medication log created successfully")
		return
	}

	key := idempotency.Key{
		Client:    middleware.ClientIDFrom(r.Context()),
		Operation: createLogOperation,
		Value:     value,
	}
	out, err := h.dedup.Do(r.Context(), key, body, run)
	switch {
	case errors.Is(err, idempotency.ErrInFlight):
		h.fail(w, r, domain.Conflict("Medication log", "A request with this Idempotency-Key is already in progress"))
		return
	case errors.Is(err, idempotency.ErrFailed):
		h.fail(w, r, domain.Conflict("Medication log", "A request with this Idempotency-Key already failed"))
		return
	case errors.Is(err, idempotency.ErrKeyReused):
		writeJSON(w, http.StatusUnprocessableEntity, Envelope{Message: "Idempotency-Key was already used with a different request body"})
		return
	case err != nil:
		h.fail(w, r, err)
		return
	}
	if out.Replayed {
		w.Header().Set("Idempotent-Replayed", "true")
		h.logger.Debug("medication log create replayed",
			zap.String("request_id", middleware.RequestIDFrom(r.Context())),
			zap.Int("attempt", out.Attempt))
	}
	created(w, out.Response, "Medication log created successfully")
}

// List handles GET /medication-logs
func (h *MedicationLogHandler) List(w http.ResponseWriter, r *http.Request) {
	q := struct {
		PrescriptionID string `json:"prescriptionId" validate:"omitempty,uuid"`
		FamilyMemberID string `json:"familyMemberId" validate:"omitempty,uuid"`
		StartDate      string `json:"startDate" validate:"omitempty,civildate"`
		EndDate        string `json:"endDate" validate:"omitempty,civildate"`
	}{
		PrescriptionID: r.URL.Query().Get("prescriptionId"),
		FamilyMemberID: r.URL.Query().Get("familyMemberId"),
		StartDate:      r.URL.Query().Get("startDate"),
		EndDate:        r.URL.Query().Get("endDate"),
	}
	if err := validateRequest("Query", q); err != nil {
		h.fail(w, r, err)
		return
	}

	var f medlog.Filter
	if q.PrescriptionID != "" {
		id := uuid.MustParse(q.PrescriptionID)
		f.PrescriptionID = &id
	}
	if q.FamilyMemberID != "" {
		id := uuid.MustParse(q.FamilyMemberID)
		f.FamilyMemberID = &id
	}
	if q.StartDate != "" {
		d, _ := domain.ParseDate(q.StartDate, h.loc)
		from := d.In(h.loc)
		f.From = &from
	}
	if q.EndDate != "" {
		d, _ := domain.ParseDate(q.EndDate, h.loc)
		to := d.AddDays(1).In(h.loc).Add(-time.Nanosecond)
		f.To = &to
	}

	logs, err := h.svc.MedicationLogs.List(r.Context(), f)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	ok(w, logViews(logs), "Medication logs retrieved successfully")
}

// Get handles GET /medication-logs/{id}
func (h *MedicationLogHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	d, err := h.svc.MedicationLogs.Get(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	ok(w, logView(*d), "Medication log retrieved successfully")
}

// Today handles GET /medication-logs/today
func (h *MedicationLogHandler) Today(w http.ResponseWriter, r *http.Request) {
	h.daily(w, r, h.today(), "Today's medication schedule retrieved successfully")
}

// ForDate handles GET /medication-logs/schedule/{date}
func (h *MedicationLogHandler) ForDate(w http.ResponseWriter, r *http.Request) {
	date, err := dateParam(r, h.base)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.daily(w, r, date, "Medication schedule retrieved successfully")
}

func (h *MedicationLogHandler) daily(w http.ResponseWriter, r *http.Request, date domain.Date, message string) {
	memberID, err := optionalUUID(r, "familyMemberId")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	day, err := h.svc.MedicationLogs.Daily(r.Context(), date, memberID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	ok(w, dailyView(day), message)
}

// Compliance handles GET /medication-logs/compliance-stats?familyMemberId=&days=
func (h *MedicationLogHandler) Compliance(w http.ResponseWriter, r *http.Request) {
	q := struct {
		FamilyMemberID string `json:"familyMemberId" validate:"omitempty,uuid"`
		Days           string `json:"days" validate:"omitempty,number"`
	}{
		FamilyMemberID: r.URL.Query().Get("familyMemberId"),
		Days:           r.URL.Query().Get("days"),
	}
	if err := validateRequest("Query", q); err != nil {
		h.fail(w, r, err)
		return
	}

	var memberID *uuid.UUID
	if q.FamilyMemberID != "" {
		id := uuid.MustParse(q.FamilyMemberID)
		memberID = &id
	}
	days, err := parseDays(q.Days)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	c, err := h.svc.MedicationLogs.ComplianceStats(r.Context(), memberID, days)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	ok(w, complianceView(c), "Compliance statistics retrieved successfully")
}

// ComplianceReport handles GET /medication-logs/compliance-report?days=
func (h *MedicationLogHandler) ComplianceReport(w http.ResponseWriter, r *http.Request) {
	q := struct {
		Days string `json:"days" validate:"omitempty,number"`
	}{Days: r.URL.Query().Get("days")}
	if err := validateRequest("Query", q); err != nil {
		h.fail(w, r, err)
		return
	}
	days, err := parseDays(q.Days)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	rows, err := h.svc.MedicationLogs.ComplianceReport(r.Context(), days, reportWorkers)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	ok(w, complianceReportView(rows), "Compliance report retrieved successfully")
}

const reportWorkers = 4

func parseDays(s string) (int, error) {
	if s == "" {
		return medlog.DefaultWindowDays, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, domain.Invalid("days", `Validation error: Query: "days" must be a number`)
	}
	return n, nil
}

// Update handles PUT /medication-logs/{id}
func (h *MedicationLogHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var req updateLogRequest
	if err := decode(w, r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	if err := validateRequest("Body", req); err != nil {
		h.fail(w, r, err)
		return
	}

	taken, err := parseOptionalTimestamp(req.TakenTime)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	patch := medlog.Patch{TakenTime: taken, Notes: req.Notes}
	if req.Status != nil {
		s := medlog.Status(*req.Status)
		patch.Status = &s
	}
	d, err := h.svc.MedicationLogs.Update(r.Context(), id, patch)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	ok(w, logView(*d), "Medication log updated successfully")
}

// MarkTaken handles PATCH /medication-logs/{id}/taken
func (h *MedicationLogHandler) MarkTaken(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var req markTakenRequest
	if err := decode(w, r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	if err := validateRequest("Body", req); err != nil {
		h.fail(w, r, err)
		return
	}
	taken, err := parseOptionalTimestamp(req.TakenTime)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	d, err := h.svc.MedicationLogs.MarkAsTaken(r.Context(), id, taken)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	ok(w, logView(*d), "Medication marked as taken successfully")
}

// MarkMissed handles PATCH /medication-logs/{id}/missed
func (h *MedicationLogHandler) MarkMissed(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	d, err := h.svc.MedicationLogs.MarkAsMissed(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	ok(w, logView(*d), "Medication marked as missed successfully")
}

// MarkSkipped handles PATCH /medication-logs/{id}/skipped
func (h *MedicationLogHandler) MarkSkipped(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var req markSkippedRequest
	if err := decode(w, r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	d, err := h.svc.MedicationLogs.MarkAsSkipped(r.Context(), id, req.Notes)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	ok(w, logView(*d), "Medication marked as skipped successfully")
}

// Delete handles DELETE /medication-logs/{id}
func (h *MedicationLogHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if err := h.svc.MedicationLogs.Delete(r.Context(), id); err != nil {
		h.fail(w, r, err)
		return
	}
	deleted(w, "Medication log deleted successfully")
}
