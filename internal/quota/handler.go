// AngelaMos | 2026
// handler.go

package quota

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/arkkgraphics/lucia-backend/internal/core"
	"github.com/arkkgraphics/lucia-backend/internal/middleware"
)

type Handler struct {
	service   *Service
	validator *validator.Validate
}

func NewHandler(service *Service) *Handler {
	return &Handler{
		service:   service,
		validator: validator.New(validator.WithRequiredStructEnabled()),
	}
}

func (h *Handler) RegisterRoutes(
	r chi.Router,
	authenticator func(http.Handler) http.Handler,
) {
	r.Route("/quota", func(r chi.Router) {
		r.Use(authenticator)

		r.Get("/", h.Status)
		r.Post("/check", h.Check)
		r.Post("/commit", h.Commit)
		r.Post("/courtesy", h.Courtesy)
	})
}

func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	uid := middleware.GetUserID(r.Context())

	decision, err := h.service.Check(r.Context(), uid)
	if err != nil {
		core.InternalServerError(w, err)
		return
	}

	core.OK(w, ToDecisionResponse(decision))
}

func (h *Handler) Check(w http.ResponseWriter, r *http.Request) {
	uid := middleware.GetUserID(r.Context())

	decision, err := h.service.Check(r.Context(), uid)
	if err != nil {
		core.InternalServerError(w, err)
		return
	}

	core.OK(w, ToDecisionResponse(decision))
}

func (h *Handler) Commit(w http.ResponseWriter, r *http.Request) {
	uid := middleware.GetUserID(r.Context())

	decision, err := h.service.Commit(r.Context(), uid)
	if err != nil {
		h.writeQuotaError(w, err)
		return
	}

	core.OK(w, ToDecisionResponse(decision))
}

func (h *Handler) Courtesy(w http.ResponseWriter, r *http.Request) {
	uid := middleware.GetUserID(r.Context())

	var req CourtesyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		core.BadRequest(w, "invalid request body")
		return
	}

	if err := h.validator.Struct(req); err != nil {
		core.BadRequest(w, core.FormatValidationError(err))
		return
	}

	var (
		decision Decision
		err      error
	)
	if req.Action == "accept" {
		decision, err = h.service.AcceptCourtesy(r.Context(), uid)
	} else {
		decision, err = h.service.DeclineCourtesy(r.Context(), uid)
	}
	if err != nil {
		h.writeQuotaError(w, err)
		return
	}

	core.OK(w, ToDecisionResponse(decision))
}

func (h *Handler) writeQuotaError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, core.ErrQuotaExceeded):
		core.JSONError(w, core.QuotaExceededError())
	case errors.Is(err, ErrCourtesyDecision):
		core.JSONError(w, core.NewAppError(
			http.StatusConflict,
			"courtesy_decision_required",
			"A courtesy extension decision is required before sending.",
		))
	case errors.Is(err, ErrCourtesyUnavailable):
		core.JSONError(w, core.NewAppError(
			http.StatusConflict,
			"courtesy_unavailable",
			"The courtesy extension is not available for this account.",
		))
	default:
		core.InternalServerError(w, err)
	}
}
