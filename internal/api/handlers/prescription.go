package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/familyrx/medtrack/internal/api/middleware"
	"github.com/familyrx/medtrack/internal/domain/prescription"
	"github.com/familyrx/medtrack/internal/service"
)

// PrescriptionHandler handles /api/prescriptions.
type PrescriptionHandler struct {
	base
}

// NewPrescriptionHandler creates a new handler
func NewPrescriptionHandler(d Deps) *PrescriptionHandler {
	return &PrescriptionHandler{base: newBase(d)}
}

// Routes returns the handler routes
func (h *PrescriptionHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/", h.Create)
	r.Get("/", h.List)
	r.Get("/{id}", h.Get)
	r.Put("/{id}", h.Update)
	r.Patch("/{id}/deactivate", h.Deactivate)
	r.Delete("/{id}", h.Delete)
	return r
}

// CreateRequest is the request body for creating a prescription
type CreateRequest struct {
	FamilyMemberID string  `json:"familyMemberId" validate:"required,uuid"`
	MedicationID   string  `json:"medicationId" validate:"required,uuid"`
	StartDate      string  `json:"startDate" validate:"required,civildate"`
	EndDate        *string `json:"endDate" validate:"omitempty,civildate"`
	Active         *bool   `json:"active"`
}

// UpdateRequest is the request body for a partial prescription update
type UpdateRequest struct {
	StartDate *string `json:"startDate" validate:"omitempty,civildate"`
	EndDate   *string `json:"endDate" validate:"omitempty,civildate"`
	Active    *bool   `json:"active"`
}

// Create handles POST /prescriptions
func (h *PrescriptionHandler) Create(w http.ResponseWriter, r *http.Request) {
	ctx, span := otel.Tracer("prescription-handler").Start(r.Context(), "create_prescription")
	defer span.End()

	var req CreateRequest
	if err := decode(w, r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	if err := validateRequest("Body", req); err != nil {
		h.fail(w, r, err)
		return
	}
	start, err := parseOptionalDate(&req.StartDate, h.loc)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	end, err := parseOptionalDate(req.EndDate, h.loc)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	d, err := h.svc.Prescriptions.Create(ctx, service.CreatePrescription{
		FamilyMemberID: uuid.MustParse(req.FamilyMemberID),
		MedicationID:   uuid.MustParse(req.MedicationID),
		StartDate:      *start,
		EndDate:        end,
		Active:         req.Active,
	})
	if err != nil {
		span.RecordError(err)
		h.fail(w, r, err)
		return
	}
	span.SetAttributes(attribute.String("prescription_id", d.Prescription.ID.String()))

	h.logger.Info("prescription created",
		zap.String("id", d.Prescription.ID.String()),
		zap.String("request_id", middleware.RequestIDFrom(ctx)),
		zap.Bool("active", d.Prescription.Active),
	)
	created(w, prescriptionView(d.PrescriptionSummary), "Prescription created successfully")
}

// List handles GET /prescriptions?familyMemberId=&active=
func (h *PrescriptionHandler) List(w http.ResponseWriter, r *http.Request) {
	q := struct {
		FamilyMemberID string `json:"familyMemberId" validate:"omitempty,uuid"`
		Active         string `json:"active" validate:"omitempty,oneof=true false"`
	}{
		FamilyMemberID: r.URL.Query().Get("familyMemberId"),
		Active:         r.URL.Query().Get("active"),
	}
	if err := validateRequest("Query", q); err != nil {
		h.fail(w, r, err)
		return
	}

	var f prescription.Filter
	if q.FamilyMemberID != "" {
		id := uuid.MustParse(q.FamilyMemberID)
		f.FamilyMemberID = &id
	}
	if q.Active != "" {
		active := q.Active == "true"
		f.Active = &active
	}

	ps, err := h.svc.Prescriptions.List(r.Context(), f)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	out := make([]PrescriptionView, len(ps))
	for i, p := range ps {
		out[i] = prescriptionView(p)
	}
	ok(w, out, "Prescriptions retrieved successfully")
}

// Get handles GET /prescriptions/{id}
func (h *PrescriptionHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	d, err := h.svc.Prescriptions.Get(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	ok(w, prescriptionDetailView(d), "Prescription retrieved successfully")
}

// Update handles PUT /prescriptions/{id}
func (h *PrescriptionHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var req UpdateRequest
	if err := decode(w, r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	if err := validateRequest("Body", req); err != nil {
		h.fail(w, r, err)
		return
	}
	start, err := parseOptionalDate(req.StartDate, h.loc)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	end, err := parseOptionalDate(req.EndDate, h.loc)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	d, err := h.svc.Prescriptions.Update(r.Context(), id, prescription.Patch{
		StartDate: start,
		EndDate:   end,
		Active:    req.Active,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	ok(w, prescriptionView(d.PrescriptionSummary), "Prescription updated successfully")
}

// Deactivate handles PATCH /prescriptions/{id}/deactivate
func (h *PrescriptionHandler) Deactivate(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	d, err := h.svc.Prescriptions.Deactivate(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	ok(w, prescriptionView(d.PrescriptionSummary), "Prescription deactivated successfully")
}

// Delete handles DELETE /prescriptions/{id}
func (h *PrescriptionHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if err := h.svc.Prescriptions.Delete(r.Context(), id); err != nil {
		h.fail(w, r, err)
		return
	}
	deleted(w, "Prescription deleted successfully")
}
