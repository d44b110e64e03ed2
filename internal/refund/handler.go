package refund

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi"
	"github.com/shopspring/decimal"

	"github.com/frahmantamala/payment-orchestration/internal/plugin"
	"github.com/frahmantamala/payment-orchestration/internal/transport"
)

type ServiceAPI interface {
	Refund(ctx context.Context, code string, amount *decimal.Decimal) (*plugin.RefundOutcome, error)
}

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

type RefundRequest struct {
	Amount *decimal.Decimal `json:"amount,omitempty"`
}

// RefundOrder handles POST /api/v1/admin/orders/{code}/refund
func (h *Handler) RefundOrder(w http.ResponseWriter, r *http.Request) {
	var req RefundRequest
	if appErr := h.DecodeJSON(r, &req); appErr != nil {
		h.HandleError(w, appErr)
		return
	}
	out, err := h.Service.Refund(r.Context(), chi.URLParam(r, "code"), req.Amount)
	if err != nil {
		h.HandleServiceError(w, err)
		return
	}
	h.WriteJSON(w, http.StatusOK, out)
}
