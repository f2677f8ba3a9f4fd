// AngelaMos | 2026
// handler.go

package relay

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/arkkgraphics/lucia-backend/internal/config"
	"github.com/arkkgraphics/lucia-backend/internal/core"
	"github.com/arkkgraphics/lucia-backend/internal/middleware"
	"github.com/arkkgraphics/lucia-backend/internal/quota"
)

type ChatRequest struct {
	Message string    `json:"message" validate:"required,min=1,max=32768"`
	History []Message `json:"history" validate:"omitempty,max=200,dive"`
	System  string    `json:"system"  validate:"omitempty,max=8192"`
}

type ChatResponse struct {
	Reply string                 `json:"reply"`
	Quota quota.DecisionResponse `json:"quota"`
}

type Handler struct {
	quota     *quota.Service
	client    *Client
	cfg       config.GatewayConfig
	validator *validator.Validate
}

func NewHandler(
	quotaSvc *quota.Service,
	client *Client,
	cfg config.GatewayConfig,
) *Handler {
	return &Handler{
		quota:     quotaSvc,
		client:    client,
		cfg:       cfg,
		validator: validator.New(validator.WithRequiredStructEnabled()),
	}
}

func (h *Handler) RegisterRoutes(
	r chi.Router,
	authenticator func(http.Handler) http.Handler,
	limiter func(http.Handler) http.Handler,
) {
	r.Route("/chat", func(r chi.Router) {
		r.Use(authenticator)
		if limiter != nil {
			r.Use(limiter)
		}

		r.Post("/", h.Chat)
	})
}

// Chat gates one model exchange behind the quota counter: check first,
// relay on allow, and commit the counter only after the upstream call
// succeeded. An upstream failure leaves the counter untouched.
func (h *Handler) Chat(w http.ResponseWriter, r *http.Request) {
	uid := middleware.GetUserID(r.Context())

	var req ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		core.BadRequest(w, "invalid request body")
		return
	}

	if err := h.validator.Struct(req); err != nil {
		core.BadRequest(w, core.FormatValidationError(err))
		return
	}

	decision, err := h.quota.Check(r.Context(), uid)
	if err != nil {
		core.InternalServerError(w, err)
		return
	}

	if decision.RequiresCourtesyPrompt {
		core.JSONError(w, core.NewAppError(
			http.StatusConflict,
			"courtesy_decision_required",
			"A courtesy extension decision is required before sending.",
		))
		return
	}
	if !decision.Allowed {
		core.JSONError(w, core.QuotaExceededError())
		return
	}

	reply, err := h.client.Complete(r.Context(), h.buildMessages(req))
	if err != nil {
		slog.Error("gateway call failed", "uid", uid, "error", err)
		core.JSONError(w, core.ExternalServiceError("relay_failed"))
		return
	}

	committed, err := h.quota.Commit(r.Context(), uid)
	if err != nil {
		// the reply already exists; a racing limit change only affects
		// the quota state we report back
		if errors.Is(err, core.ErrQuotaExceeded) ||
			errors.Is(err, quota.ErrCourtesyDecision) {
			slog.Warn("quota commit raced a limit change", "uid", uid)
			committed, err = h.quota.Check(r.Context(), uid)
			if err != nil {
				core.InternalServerError(w, err)
				return
			}
		} else {
			core.InternalServerError(w, err)
			return
		}
	}

	core.OK(w, ChatResponse{
		Reply: reply,
		Quota: quota.ToDecisionResponse(committed),
	})
}

// buildMessages assembles system prompt, bounded history, and the new
// user message.
func (h *Handler) buildMessages(req ChatRequest) []Message {
	history := req.History
	if limit := h.cfg.HistoryLimit; limit > 0 && len(history) > limit {
		history = history[len(history)-limit:]
	}

	messages := make([]Message, 0, len(history)+2)
	if req.System != "" {
		messages = append(messages, Message{
			Role:    "system",
			Content: req.System,
		})
	}
	messages = append(messages, history...)
	messages = append(messages, Message{Role: "user", Content: req.Message})

	return messages
}
