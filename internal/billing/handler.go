// AngelaMos | 2026
// handler.go

package billing

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/stripe/stripe-go/v82/webhook"

	"github.com/arkkgraphics/lucia-backend/internal/core"
	"github.com/arkkgraphics/lucia-backend/internal/middleware"
)

// webhookBodyLimit caps the raw payload read for signature checking.
const webhookBodyLimit = 1024 * 1024

type Handler struct {
	service   *Service
	processor *Processor
	secret    string
	validator *validator.Validate
}

func NewHandler(service *Service, processor *Processor, secret string) *Handler {
	return &Handler{
		service:   service,
		processor: processor,
		secret:    secret,
		validator: validator.New(validator.WithRequiredStructEnabled()),
	}
}

// RegisterRoutes mounts the payment endpoints at the root, outside the
// versioned API: the webhook URL is pinned in the provider dashboard
// and the pay endpoints serve pre-auth upgrade flows.
func (h *Handler) RegisterRoutes(
	r chi.Router,
	optionalAuth func(http.Handler) http.Handler,
) {
	r.Route("/pay", func(r chi.Router) {
		r.Use(optionalAuth)

		r.Post("/checkout", h.Checkout)
		r.Post("/portal", h.Portal)
	})

	r.Post("/billing/webhook", h.Webhook)
}

func (h *Handler) Checkout(w http.ResponseWriter, r *http.Request) {
	var req CheckoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		core.BadRequest(w, "invalid request body")
		return
	}

	if err := h.validator.Struct(req); err != nil {
		core.BadRequest(w, core.FormatValidationError(err))
		return
	}

	if !h.uidMatchesToken(r, req.UID) {
		core.Forbidden(w, "account id does not match the authenticated user")
		return
	}

	sess, err := h.service.StartCheckout(
		r.Context(),
		req.Tier,
		req.UID,
		req.Email,
	)
	if err != nil {
		core.JSONError(w, err)
		return
	}

	core.OK(w, SessionResponse{URL: sess.URL, ID: sess.ID})
}

func (h *Handler) Portal(w http.ResponseWriter, r *http.Request) {
	var req PortalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		core.BadRequest(w, "invalid request body")
		return
	}

	if err := h.validator.Struct(req); err != nil {
		core.BadRequest(w, core.FormatValidationError(err))
		return
	}

	if !h.uidMatchesToken(r, req.UID) {
		core.Forbidden(w, "account id does not match the authenticated user")
		return
	}

	sess, err := h.service.StartPortal(r.Context(), req.UID, req.Email)
	if err != nil {
		core.JSONError(w, err)
		return
	}

	core.OK(w, SessionResponse{URL: sess.URL, ID: sess.ID})
}

// Webhook verifies the provider signature over the exact raw bytes
// before anything touches the payload. Non-2xx responses are retried by
// the provider, so post-signature failures return 500.
func (h *Handler) Webhook(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, webhookBodyLimit)
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		core.BadRequest(w, "failed to read request body")
		return
	}

	event, err := webhook.ConstructEventWithOptions(
		payload,
		r.Header.Get("Stripe-Signature"),
		h.secret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true},
	)
	if err != nil {
		slog.Warn("webhook signature verification failed", "error", err)
		core.JSONError(w, core.UnauthorizedError("invalid webhook signature"))
		return
	}

	if err := h.processor.Process(r.Context(), &event); err != nil {
		slog.Error("webhook processing failed",
			"event_id", event.ID,
			"type", event.Type,
			"error", err,
		)
		core.InternalServerError(w, err)
		return
	}

	core.OK(w, WebhookResponse{Received: true})
}

// uidMatchesToken lets anonymous callers through but pins an
// authenticated request to its own account.
func (h *Handler) uidMatchesToken(r *http.Request, uid string) bool {
	tokenUID := middleware.GetUserID(r.Context())
	return tokenUID == "" || tokenUID == uid
}
