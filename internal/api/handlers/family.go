package handlers

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/familyrx/medtrack/internal/domain"
	"github.com/familyrx/medtrack/internal/domain/family"
	"github.com/familyrx/medtrack/internal/service"
)

// Deps are the collaborators shared by the resource handlers.
type Deps struct {
	Services *service.Services
	Logger   *zap.Logger
	Location *time.Location
	// Now overrides the clock in tests.
	Now func() time.Time
}

type base struct {
	svc    *service.Services
	logger *zap.Logger
	loc    *time.Location
	clock  func() time.Time
}

func newBase(d Deps) base {
	b := base{svc: d.Services, logger: d.Logger, loc: d.Location, clock: d.Now}
	if b.logger == nil {
		b.logger = zap.NewNop()
	}
	if b.loc == nil {
		b.loc = time.Local
	}
	if b.clock == nil {
		b.clock = time.Now
	}
	return b
}

func (b base) today() domain.Date { return domain.Today(b.clock(), b.loc) }

func (b base) fail(w http.ResponseWriter, r *http.Request, err error) {
	writeError(w, r, b.logger, err)
}

// FamilyMemberHandler handles /api/family-members.
type FamilyMemberHandler struct {
	base
}

func NewFamilyMemberHandler(d Deps) *FamilyMemberHandler {
	return &FamilyMemberHandler{base: newBase(d)}
}

// Routes returns the handler routes
func (h *FamilyMemberHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/", h.Create)
	r.Get("/", h.List)
	r.Get("/{id}", h.Get)
	r.Put("/{id}", h.Update)
	r.Delete("/{id}", h.Delete)
	return r
}

type createFamilyMemberRequest struct {
	Name        string  `json:"name" validate:"required,min=1,max=255"`
	Type        string  `json:"type" validate:"omitempty,oneof=human pet"`
	DateOfBirth *string `json:"dateOfBirth" validate:"omitempty,civildate"`
	Gender      *string `json:"gender" validate:"omitempty,oneof=male female other"`
	Species     *string `json:"species" validate:"omitempty,oneof=dog cat bird fish rabbit reptile other"`
}

type updateFamilyMemberRequest struct {
	Name        *string `json:"name" validate:"omitempty,min=1,max=255"`
	Type        *string `json:"type" validate:"omitempty,oneof=human pet"`
	DateOfBirth *string `json:"dateOfBirth" validate:"omitempty,civildate"`
	Gender      *string `json:"gender" validate:"omitempty,oneof=male female other"`
	Species     *string `json:"species" validate:"omitempty,oneof=dog cat bird fish rabbit reptile other"`
}

// Create handles POST /family-members
func (h *FamilyMemberHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createFamilyMemberRequest
	if err := decode(w, r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	if err := validateRequest("Body", req); err != nil {
		h.fail(w, r, err)
		return
	}
	dob, err := parseOptionalDate(req.DateOfBirth, h.loc)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	in := service.CreateFamilyMember{
		Name:        req.Name,
		Type:        family.Type(req.Type),
		DateOfBirth: dob,
	}
	if req.Gender != nil {
		in.Gender = family.Gender(*req.Gender)
	}
	if req.Species != nil {
		in.Species = family.Species(*req.Species)
	}

	s, err := h.svc.FamilyMembers.Create(r.Context(), in)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	created(w, memberView(*s, h.today()), "Family member created successfully")
}

// List handles GET /family-members?type=
func (h *FamilyMemberHandler) List(w http.ResponseWriter, r *http.Request) {
	q := struct {
		Type string `json:"type" validate:"omitempty,oneof=human pet"`
	}{Type: r.URL.Query().Get("type")}
	if err := validateRequest("Query", q); err != nil {
		h.fail(w, r, err)
		return
	}

	members, err := h.svc.FamilyMembers.List(r.Context(), family.Filter{Type: family.Type(q.Type)})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	today := h.today()
	out := make([]FamilyMemberView, len(members))
	for i, m := range members {
		out[i] = memberView(m, today)
	}
	ok(w, out, "Family members retrieved successfully")
}

// Get handles GET /family-members/{id}
func (h *FamilyMemberHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	d, err := h.svc.FamilyMembers.Get(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	ok(w, memberDetailView(d, h.today()), "Family member retrieved successfully")
}

// Update handles PUT /family-members/{id}
func (h *FamilyMemberHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var req updateFamilyMemberRequest
	if err := decode(w, r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	if err := validateRequest("Body", req); err != nil {
		h.fail(w, r, err)
		return
	}
	dob, err := parseOptionalDate(req.DateOfBirth, h.loc)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	patch := family.Patch{Name: req.Name, DateOfBirth: dob}
	if req.Type != nil {
		t := family.Type(*req.Type)
		patch.Type = &t
	}
	if req.Gender != nil {
		g := family.Gender(*req.Gender)
		patch.Gender = &g
	}
	if req.Species != nil {
		s := family.Species(*req.Species)
		patch.Species = &s
	}

	d, err := h.svc.FamilyMembers.Update(r.Context(), id, patch)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	ok(w, memberDetailView(d, h.today()), "Family member updated successfully")
}

// Delete handles DELETE /family-members/{id}
func (h *FamilyMemberHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if err := h.svc.FamilyMembers.Delete(r.Context(), id); err != nil {
		h.fail(w, r, err)
		return
	}
	deleted(w, "Family member deleted successfully")
}
