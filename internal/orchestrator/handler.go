package orchestrator

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi"

	errors "github.com/frahmantamala/payment-orchestration/internal"
	"github.com/frahmantamala/payment-orchestration/internal/order"
	"github.com/frahmantamala/payment-orchestration/internal/plugin"
	"github.com/frahmantamala/payment-orchestration/internal/transport"
)

type ServiceAPI interface {
	AutoSelect(ctx context.Context, code string) (string, error)
	Available(ctx context.Context, code string) (*Availability, error)
	Select(ctx context.Context, code, key string) (*order.Order, error)
	SelectAndInitiate(ctx context.Context, code, key string) (*Initiation, error)
	ReconcileCallback(ctx context.Context, providerKey string, cb plugin.Callback) (*Reconciliation, error)
	Cancel(ctx context.Context, code, reason string) (*order.Order, error)
	Retry(ctx context.Context, code string) (*order.Order, error)
}

var _ ServiceAPI = (*Orchestrator)(nil)

type Handler struct {
	transport.BaseHandler
	Service ServiceAPI
}

func NewHandler(service ServiceAPI, logger *slog.Logger) *Handler {
	return &Handler{
		BaseHandler: transport.NewBaseHandler(logger),
		Service:     service,
	}
}

type ProviderRequest struct {
	Provider string `json:"provider"`
}

type CancelRequest struct {
	Reason string `json:"reason"`
}

type CallbackResponse struct {
	Status    string `json:"status"`
	OrderCode string `json:"order_code"`
	Applied   bool   `json:"applied"`
	Replayed  bool   `json:"replayed"`
	Conflict  bool   `json:"conflict"`
	Anomaly   bool   `json:"anomaly"`
}

// ListMethods handles GET /api/v1/orders/{code}/methods
func (h *Handler) ListMethods(w http.ResponseWriter, r *http.Request) {
	res, err := h.Service.Available(r.Context(), chi.URLParam(r, "code"))
	if err != nil {
		h.HandleServiceError(w, err)
		return
	}
	h.WriteJSON(w, http.StatusOK, res)
}

// SelectMethod handles POST /api/v1/orders/{code}/select
func (h *Handler) SelectMethod(w http.ResponseWriter, r *http.Request) {
	var req ProviderRequest
	if appErr := h.DecodeJSON(r, &req); appErr != nil {
		h.HandleError(w, appErr)
		return
	}
	if req.Provider == "" {
		h.HandleError(w, errors.NewValidationFieldError("provider", "provider is required", errors.ErrCodeValidationFailed))
		return
	}
	o, err := h.Service.Select(r.Context(), chi.URLParam(r, "code"), req.Provider)
	if err != nil {
		h.HandleServiceError(w, err)
		return
	}
	h.WriteJSON(w, http.StatusOK, order.ToResponse(o))
}

// Pay handles POST /api/v1/orders/{code}/pay. Without a provider the only
// candidate is used.
func (h *Handler) Pay(w http.ResponseWriter, r *http.Request) {
	var req ProviderRequest
	if appErr := h.DecodeJSON(r, &req); appErr != nil {
		h.HandleError(w, appErr)
		return
	}
	code := chi.URLParam(r, "code")
	provider := req.Provider
	if provider == "" {
		key, err := h.Service.AutoSelect(r.Context(), code)
		if err != nil {
			h.HandleServiceError(w, err)
			return
		}
		if key == "" {
			h.HandleError(w, errors.NewValidationFieldError("provider", "provider is required when more than one is available", errors.ErrCodeValidationFailed))
			return
		}
		provider = key
	}
	res, err := h.Service.SelectAndInitiate(r.Context(), code, provider)
	if err != nil {
		h.HandleServiceError(w, err)
		return
	}
	h.WriteJSON(w, http.StatusOK, res)
}

// CancelOrder handles POST /api/v1/orders/{code}/cancel
func (h *Handler) CancelOrder(w http.ResponseWriter, r *http.Request) {
	var req CancelRequest
	if appErr := h.DecodeJSON(r, &req); appErr != nil {
		h.HandleError(w, appErr)
		return
	}
	o, err := h.Service.Cancel(r.Context(), chi.URLParam(r, "code"), req.Reason)
	if err != nil {
		h.HandleServiceError(w, err)
		return
	}
	h.WriteJSON(w, http.StatusOK, order.ToResponse(o))
}

// RetryOrder handles POST /api/v1/orders/{code}/retry
func (h *Handler) RetryOrder(w http.ResponseWriter, r *http.Request) {
	o, err := h.Service.Retry(r.Context(), chi.URLParam(r, "code"))
	if err != nil {
		h.HandleServiceError(w, err)
		return
	}
	h.WriteJSON(w, http.StatusCreated, order.ToResponse(o))
}

// Callback handles GET and POST /api/v1/callbacks/{provider}. A customer
// redirect is sent on to the merchant page; webhooks get a JSON ack.
func (h *Handler) Callback(w http.ResponseWriter, r *http.Request) {
	cb, err := plugin.NewCallback(r)
	if err != nil {
		h.HandleError(w, errors.NewValidationError("unreadable callback", errors.ErrCodeValidationFailed))
		return
	}
	rec, err := h.Service.ReconcileCallback(r.Context(), chi.URLParam(r, "provider"), cb)
	if err != nil {
		h.HandleServiceError(w, err)
		return
	}

	if r.Method == http.MethodGet {
		if target := rec.RedirectURL(); target != "" {
			http.Redirect(w, r, target, http.StatusFound)
			return
		}
	}
	h.WriteJSON(w, http.StatusOK, CallbackResponse{
		Status:    "ok",
		OrderCode: rec.Order.Code,
		Applied:   rec.Applied,
		Replayed:  rec.Replayed,
		Conflict:  rec.Conflict,
		Anomaly:   rec.Anomaly,
	})
}
