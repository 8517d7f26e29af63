package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/familyrx/medtrack/internal/domain/medication"
	"github.com/familyrx/medtrack/internal/service"
)

// MedicationHandler handles /api/medications.
type MedicationHandler struct {
	base
}

func NewMedicationHandler(d Deps) *MedicationHandler {
	return &MedicationHandler{base: newBase(d)}
}

// Routes returns the handler routes
func (h *MedicationHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/", h.Create)
	r.Get("/", h.List)
	r.Get("/{id}", h.Get)
	r.Put("/{id}", h.Update)
	r.Delete("/{id}", h.Delete)
	return r
}

type createMedicationRequest struct {
	Name         string `json:"name" validate:"required,min=1,max=255"`
	Dosage       string `json:"dosage" validate:"required,min=1,max=100"`
	Frequency    string `json:"frequency" validate:"required,min=1,max=100"`
	Instructions string `json:"instructions"`
}

type updateMedicationRequest struct {
	Name         *string `json:"name" validate:"omitempty,min=1,max=255"`
	Dosage       *string `json:"dosage" validate:"omitempty,min=1,max=100"`
	Frequency    *string `json:"frequency" validate:"omitempty,min=1,max=100"`
	Instructions *string `json:"instructions"`
}

// Create handles POST /medications
func (h *MedicationHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createMedicationRequest
	if err := decode(w, r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	if err := validateRequest("Body", req); err != nil {
		h.fail(w, r, err)
		return
	}

	s, err := h.svc.Medications.Create(r.Context(), service.CreateMedication{
		Name:         req.Name,
		Dosage:       req.Dosage,
		Frequency:    req.Frequency,
		Instructions: req.Instructions,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	created(w, medicationView(*s), "Medication created successfully")
}

// List handles GET /medications?search=
func (h *MedicationHandler) List(w http.ResponseWriter, r *http.Request) {
	meds, err := h.svc.Medications.List(r.Context(), r.URL.Query().Get("search"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	out := make([]MedicationView, len(meds))
	for i, m := range meds {
		out[i] = medicationView(m)
	}
	ok(w, out, "Medications retrieved successfully")
}

// Get handles GET /medications/{id}
func (h *MedicationHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	d, err := h.svc.Medications.Get(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	ok(w, medicationDetailView(d), "Medication retrieved successfully")
}

// Update handles PUT /medications/{id}
func (h *MedicationHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var req updateMedicationRequest
	if err := decode(w, r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	if err := validateRequest("Body", req); err != nil {
		h.fail(w, r, err)
		return
	}

	d, err := h.svc.Medications.Update(r.Context(), id, medication.Patch{
		Name:         req.Name,
		Dosage:       req.Dosage,
		Frequency:    req.Frequency,
		Instructions: req.Instructions,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	ok(w, medicationDetailView(d), "Medication updated successfully")
}

// Delete handles DELETE /medications/{id}
func (h *MedicationHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if err := h.svc.Medications.Delete(r.Context(), id); err != nil {
		h.fail(w, r, err)
		return
	}
	deleted(w, "Medication deleted successfully")
}
