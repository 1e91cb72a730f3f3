package httpx

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/breakfastfactory/commerce/internal/apperr"
	"github.com/breakfastfactory/commerce/internal/auth"
	"github.com/breakfastfactory/commerce/internal/restock"
)

type RestockHandler struct {
	Restock restock.Service
}

type createRestockReq struct {
	ProductID         string `json:"productId" validate:"required,uuid"`
	RequestedQuantity int    `json:"requestedQuantity" validate:"gt=0"`
}

type processRestockReq struct {
	Status    restock.Status `json:"status" validate:"required,oneof=approved rejected"`
	AdminNote string         `json:"adminNote" validate:"max=500"`
}

func (h *RestockHandler) Register(r chi.Router) {
	r.With(auth.RequireRole(auth.RoleOutlet)).Post("/restock", h.create)
	r.With(auth.RequireRole(auth.RoleOutlet, auth.RoleAdmin)).Get("/restock", h.list)
	r.With(auth.RequireRole(auth.RoleAdmin)).Put("/restock/{id}", h.process)
}

func (h *RestockHandler) create(w http.ResponseWriter, r *http.Request) {
	var req createRestockReq
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	id, _ := auth.FromContext(r.Context())
	rr, err := h.Restock.Create(r.Context(), id.OutletID, req.ProductID, req.RequestedQuantity)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"request": rr})
}

// list pins outlets to their own requests; admins may filter by outletId.
func (h *RestockHandler) list(w http.ResponseWriter, r *http.Request) {
	id, _ := auth.FromContext(r.Context())
	page, err := intQuery(r, "page", 1)
	if err != nil {
		writeError(w, r, err)
		return
	}
	size, err := intQuery(r, "limit", restock.DefaultPageSize)
	if err != nil {
		writeError(w, r, err)
		return
	}
	q := r.URL.Query()
	f := restock.ListFilter{
		OutletID: q.Get("outletId"),
		Status:   restock.Status(q.Get("status")),
		Page:     page,
		PageSize: size,
	}
	if !id.IsAdmin() {
		if f.OutletID != "" && f.OutletID != id.OutletID {
			writeError(w, r, apperr.Forbidden("not allowed to view another outlet's requests"))
			return
		}
		f.OutletID = id.OutletID
	}
	p, err := h.Restock.List(r.Context(), f)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (h *RestockHandler) process(w http.ResponseWriter, r *http.Request) {
	var req processRestockReq
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	rr, err := h.Restock.Process(r.Context(), chi.URLParam(r, "id"), req.Status, req.AdminNote)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"request": rr})
}
