package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/familyrx/medtrack/internal/domain"
)

// ScheduleHandler handles /api/schedule.
type ScheduleHandler struct {
	base
}

func NewScheduleHandler(d Deps) *ScheduleHandler {
	return &ScheduleHandler{base: newBase(d)}
}

// Routes returns the handler routes
func (h *ScheduleHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/", h.Today)
	r.Get("/{date}", h.ForDate)
	return r
}

// Today handles GET /schedule
func (h *ScheduleHandler) Today(w http.ResponseWriter, r *http.Request) {
	h.respond(w, r, h.today())
}

// ForDate handles GET /schedule/{date}
func (h *ScheduleHandler) ForDate(w http.ResponseWriter, r *http.Request) {
	date, err := dateParam(r, h.base)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.respond(w, r, date)
}

func (h *ScheduleHandler) respond(w http.ResponseWriter, r *http.Request, date domain.Date) {
	memberID, err := optionalUUID(r, "familyMemberId")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	groups, err := h.svc.Schedule.For(r.Context(), date, memberID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	ok(w, ScheduleView{Date: date, Schedule: scheduleViews(groups)}, "Schedule retrieved successfully")
}

func dateParam(r *http.Request, b base) (domain.Date, error) {
	raw := chi.URLParam(r, "date")
	d, err := domain.ParseDate(raw, b.loc)
	if err != nil {
		return domain.Date{}, domain.Invalid("Request", "Validation error: Params: \"date\" must be a valid date (YYYY-MM-DD)")
	}
	return d, nil
}
