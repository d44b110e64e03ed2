package method

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi"

	"github.com/frahmantamala/payment-orchestration/internal/transport"
)

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

// ListMethods handles GET /api/v1/admin/methods
func (h *Handler) ListMethods(w http.ResponseWriter, r *http.Request) {
	methods, err := h.Service.List(r.Context())
	if err != nil {
		h.HandleServiceError(w, err)
		return
	}
	h.WriteJSON(w, http.StatusOK, map[string]interface{}{"methods": methods})
}

// CreateMethod handles POST /api/v1/admin/methods
func (h *Handler) CreateMethod(w http.ResponseWriter, r *http.Request) {
	var req CreateMethodDTO
	if appErr := h.DecodeJSON(r, &req); appErr != nil {
		h.HandleError(w, appErr)
		return
	}
	m, err := h.Service.Create(r.Context(), req)
	if err != nil {
		h.HandleServiceError(w, err)
		return
	}
	h.WriteJSON(w, http.StatusCreated, m)
}

// UpdateMethod handles PATCH /api/v1/admin/methods/{key}
func (h *Handler) UpdateMethod(w http.ResponseWriter, r *http.Request) {
	var req UpdateMethodDTO
	if appErr := h.DecodeJSON(r, &req); appErr != nil {
		h.HandleError(w, appErr)
		return
	}
	m, err := h.Service.Update(r.Context(), chi.URLParam(r, "key"), req)
	if err != nil {
		h.HandleServiceError(w, err)
		return
	}
	h.WriteJSON(w, http.StatusOK, m)
}

// GetSchema handles GET /api/v1/admin/methods/{key}/schema
func (h *Handler) GetSchema(w http.ResponseWriter, r *http.Request) {
	schema, err := h.Service.Schema(r.Context(), chi.URLParam(r, "key"))
	if err != nil {
		h.HandleServiceError(w, err)
		return
	}
	h.WriteJSON(w, http.StatusOK, schema)
}

// GetSettings handles GET /api/v1/admin/methods/{key}/settings
func (h *Handler) GetSettings(w http.ResponseWriter, r *http.Request) {
	settings, err := h.Service.Settings(r.Context(), chi.URLParam(r, "key"))
	if err != nil {
		h.HandleServiceError(w, err)
		return
	}
	h.WriteJSON(w, http.StatusOK, map[string]interface{}{"settings": settings})
}

// PutSettings handles PUT /api/v1/admin/methods/{key}/settings
func (h *Handler) PutSettings(w http.ResponseWriter, r *http.Request) {
	var req map[string]string
	if appErr := h.DecodeJSON(r, &req); appErr != nil {
		h.HandleError(w, appErr)
		return
	}
	settings, err := h.Service.PutSettings(r.Context(), chi.URLParam(r, "key"), req)
	if err != nil {
		h.HandleServiceError(w, err)
		return
	}
	h.WriteJSON(w, http.StatusOK, map[string]interface{}{"settings": settings})
}

// ValidateMethod handles POST /api/v1/admin/methods/{key}/validate
func (h *Handler) ValidateMethod(w http.ResponseWriter, r *http.Request) {
	res, err := h.Service.Validate(r.Context(), chi.URLParam(r, "key"))
	if err != nil {
		h.HandleServiceError(w, err)
		return
	}
	h.WriteJSON(w, http.StatusOK, res)
}
