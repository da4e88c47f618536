package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/staybook/backend/internal/gateway"
	"github.com/staybook/backend/internal/services"
	"go.uber.org/zap"
)

// Gateways sign small JSON bodies; anything larger is not a real callback.
const maxWebhookBytes = 256 << 10

type reconciler interface {
	Reconcile(ctx context.Context, ev *gateway.WebhookEvent) (*services.ReconcileResult, error)
}

type WebhookHandler struct {
	gateways *gateway.Registry
	service  reconciler
	logger   *zap.Logger
}

func NewWebhookHandler(gateways *gateway.Registry, service reconciler, logger *zap.Logger) *WebhookHandler {
	return &WebhookHandler{gateways: gateways, service: service, logger: logger}
}

// HandleWebhook verifies and applies a payment gateway callback
// @Summary Payment gateway webhook
// @Description Verifies the provider signature over the raw body, then marks the transaction paid or failed and materializes the booking. Redeliveries are acknowledged without side effects.
// @Tags webhooks
// @Accept json
// @Produce json
// @Param provider path string true "Gateway" Enums(card, regional)
// @Success 200 {object} services.ReconcileResult
// @Failure 400 {object} services.ErrorResponse
// @Failure 401 {object} services.ErrorResponse
// @Failure 500 {object} services.ErrorResponse
// @Router /webhooks/{provider} [post]
func (h *WebhookHandler) HandleWebhook(w http.ResponseWriter, r *http.Request) {
	provider, err := gateway.ParseProvider(chi.URLParam(r, "provider"))
	if err != nil {
		services.SendErrorResponse(w, "Unknown payment gateway", http.StatusNotFound, nil)
		return
	}
	gw, err := h.gateways.Get(provider)
	if err != nil {
		services.SendErrorResponse(w, "Unknown payment gateway", http.StatusNotFound, nil)
		return
	}

	// the signature covers the exact bytes, so read them before any decoding
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			services.SendErrorResponse(w, "Request body too large", http.StatusRequestEntityTooLarge, nil)
			return
		}
		services.SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return
	}

	ev, err := gw.ParseWebhook(body, r.Header)
	if err != nil {
		h.logger.Warn("webhook rejected",
			zap.String("gateway", string(provider)),
			zap.String("remote_addr", r.RemoteAddr),
			zap.Error(err))
		services.WriteServiceError(w, err)
		return
	}

	result, err := h.service.Reconcile(r.Context(), ev)
	if err != nil {
		h.logger.Error("webhook reconcile failed",
			zap.String("gateway", string(provider)),
			zap.String("event_type", ev.Type),
			zap.String("external_order_id", ev.ExternalOrderID),
			zap.Error(err))
		services.WriteServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(result)
}
