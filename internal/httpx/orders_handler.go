package httpx

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/breakfastfactory/commerce/internal/apperr"
	"github.com/breakfastfactory/commerce/internal/auth"
	"github.com/breakfastfactory/commerce/internal/orders"
)

type OrdersHandler struct {
	Orders orders.Service
}

type placeOrderReq struct {
	ExternalID      string                 `json:"externalId" validate:"max=128"`
	OutletID        string                 `json:"outletId" validate:"required"`
	Items           []orders.ItemInput     `json:"items" validate:"required,min=1,dive"`
	ShippingAddress orders.ShippingAddress `json:"shippingAddress"`
	PaymentMethod   orders.PaymentMethod   `json:"paymentMethod" validate:"required"`
	PaymentResult   json.RawMessage        `json:"paymentResult"`
	CreditDueDate   *time.Time             `json:"creditDueDate"`
}

type updateStatusReq struct {
	Status orders.Status `json:"status" validate:"required"`
}

func (h *OrdersHandler) Register(r chi.Router) {
	r.With(auth.RequireRole(auth.RoleUser)).Post("/orders", h.place)
	r.Get("/orders/{id}", h.get)
	r.With(auth.RequireRole(auth.RoleOutlet, auth.RoleAdmin)).Put("/updateOrder/{id}", h.updateStatus)
	r.With(auth.RequireRole(auth.RoleOutlet, auth.RoleAdmin)).Get("/getOutletOrders/{outletId}", h.listOutlet)
}

// place answers 201 for a new order and 200 when externalId replays one.
func (h *OrdersHandler) place(w http.ResponseWriter, r *http.Request) {
	var req placeOrderReq
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if req.ExternalID == "" {
		req.ExternalID = r.Header.Get("Idempotency-Key")
	}
	id, _ := auth.FromContext(r.Context())
	ctx := orders.WithTraceID(r.Context(), middleware.GetReqID(r.Context()))

	o, existed, err := h.Orders.PlaceOrder(ctx, orders.PlaceOrderInput{
		ExternalID:      req.ExternalID,
		UserID:          id.UserID,
		OutletID:        req.OutletID,
		Items:           req.Items,
		ShippingAddress: req.ShippingAddress,
		PaymentMethod:   req.PaymentMethod,
		PaymentResult:   req.PaymentResult,
		CreditDueDate:   req.CreditDueDate,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	code := http.StatusCreated
	if existed {
		code = http.StatusOK
	}
	writeJSON(w, code, map[string]any{"order": o, "idempotent": existed})
}

func (h *OrdersHandler) get(w http.ResponseWriter, r *http.Request) {
	id, _ := auth.FromContext(r.Context())
	o, err := h.Orders.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	if !id.CanActForUser(o.UserID) && !id.CanActForOutlet(o.OutletID) {
		writeError(w, r, apperr.Forbidden("not a party to this order"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"order": o})
}

func (h *OrdersHandler) updateStatus(w http.ResponseWriter, r *http.Request) {
	var req updateStatusReq
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	id, _ := auth.FromContext(r.Context())
	orderID := chi.URLParam(r, "id")
	current, err := h.Orders.Get(r.Context(), orderID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if !id.CanActForOutlet(current.OutletID) {
		writeError(w, r, apperr.Forbidden("order belongs to another outlet"))
		return
	}

	ctx := orders.WithTraceID(r.Context(), middleware.GetReqID(r.Context()))
	o, err := h.Orders.UpdateStatus(ctx, orderID, req.Status)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "order": o})
}

func (h *OrdersHandler) listOutlet(w http.ResponseWriter, r *http.Request) {
	id, _ := auth.FromContext(r.Context())
	outletID := chi.URLParam(r, "outletId")
	if !id.CanActForOutlet(outletID) {
		writeError(w, r, apperr.Forbidden("not allowed to view this outlet's orders"))
		return
	}
	start, err := intQuery(r, "startIndex", 0)
	if err != nil {
		writeError(w, r, err)
		return
	}
	limit, err := intQuery(r, "limit", orders.DefaultLimit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	q := r.URL.Query()
	sort := strings.ToLower(q.Get("sort"))
	if sort != "" && sort != "asc" && sort != "desc" {
		writeError(w, r, apperr.Validation("sort must be asc or desc"))
		return
	}

	p, err := h.Orders.ListOutletOrders(r.Context(), orders.ListFilter{
		OutletID:   outletID,
		StartIndex: start,
		Limit:      limit,
		Search:     q.Get("searchTerm"),
		Status:     orders.Status(q.Get("status")),
		DateRange:  orders.DateRange(q.Get("dateRange")),
		Ascending:  sort == "asc",
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}
