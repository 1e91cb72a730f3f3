package httpx

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/breakfastfactory/commerce/internal/apperr"
	"github.com/breakfastfactory/commerce/internal/auth"
	"github.com/breakfastfactory/commerce/internal/ledger"
	"github.com/breakfastfactory/commerce/internal/money"
)

type CreditsHandler struct {
	Ledger ledger.Service
}

type createCreditReq struct {
	OrderID  string      `json:"orderId" validate:"required,uuid"`
	UserID   string      `json:"userId" validate:"required"`
	OutletID string      `json:"outletId" validate:"required"`
	Amount   money.Cents `json:"amount" validate:"gt=0"`
	DueDate  time.Time   `json:"dueDate" validate:"required"`
}

type paymentReq struct {
	Amount money.Cents `json:"amount" validate:"gt=0"`
	Notes  string      `json:"notes" validate:"max=500"`
}

type creditResp struct {
	Credit ledger.Credit `json:"credit"`
}

func (h *CreditsHandler) Register(r chi.Router) {
	r.Get("/credit/outlet/{outletId}", h.listOutlet)
	r.Get("/credit/user/{userId}", h.listUser)
	r.Get("/credit/summary", h.summary)
	r.Get("/credit/{id}", h.get)
	r.With(auth.RequireRole(auth.RoleOutlet, auth.RoleAdmin)).Post("/credit", h.create)
	r.Post("/credit/{id}/payment", h.recordPayment)
}

func listFilter(r *http.Request, scope ledger.Scope) (ledger.ListFilter, error) {
	page, err := intQuery(r, "page", 1)
	if err != nil {
		return ledger.ListFilter{}, err
	}
	size, err := intQuery(r, "limit", ledger.DefaultPageSize)
	if err != nil {
		return ledger.ListFilter{}, err
	}
	q := r.URL.Query()
	return ledger.ListFilter{
		Scope:    scope,
		Status:   ledger.Status(q.Get("status")),
		Search:   q.Get("search"),
		Page:     page,
		PageSize: size,
	}, nil
}

func (h *CreditsHandler) listOutlet(w http.ResponseWriter, r *http.Request) {
	id, _ := auth.FromContext(r.Context())
	outletID := chi.URLParam(r, "outletId")
	if !id.CanActForOutlet(outletID) {
		writeError(w, r, apperr.Forbidden("not allowed to view this outlet's credits"))
		return
	}
	f, err := listFilter(r, ledger.Scope{OutletID: outletID})
	if err != nil {
		writeError(w, r, err)
		return
	}
	p, err := h.Ledger.List(r.Context(), f)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"credits":    p.Credits,
		"totalPages": p.TotalPages,
		"total":      p.Total,
	})
}

func (h *CreditsHandler) listUser(w http.ResponseWriter, r *http.Request) {
	id, _ := auth.FromContext(r.Context())
	userID := chi.URLParam(r, "userId")
	if !id.CanActForUser(userID) {
		writeError(w, r, apperr.Forbidden("not allowed to view this user's credits"))
		return
	}
	f, err := listFilter(r, ledger.Scope{UserID: userID})
	if err != nil {
		writeError(w, r, err)
		return
	}
	p, err := h.Ledger.List(r.Context(), f)
	if err != nil {
		writeError(w, r, err)
		return
	}
	sum, err := h.Ledger.Summary(r.Context(), ledger.Scope{UserID: userID})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"credits":    p.Credits,
		"totalPages": p.TotalPages,
		"summary":    sum,
	})
}

// summary scopes to the query's outlet or user; without either, callers get
// their own scope and admins the whole ledger.
func (h *CreditsHandler) summary(w http.ResponseWriter, r *http.Request) {
	id, _ := auth.FromContext(r.Context())
	scope := ledger.Scope{
		OutletID: r.URL.Query().Get("outletId"),
		UserID:   r.URL.Query().Get("userId"),
	}
	switch {
	case scope.OutletID != "" && !id.CanActForOutlet(scope.OutletID):
		writeError(w, r, apperr.Forbidden("not allowed to view this outlet's summary"))
		return
	case scope.UserID != "" && !id.CanActForUser(scope.UserID) && !id.CanActForOutlet(scope.OutletID):
		writeError(w, r, apperr.Forbidden("not allowed to view this user's summary"))
		return
	case scope == ledger.Scope{} && !id.IsAdmin():
		if id.Role == auth.RoleOutlet {
			scope.OutletID = id.OutletID
		} else {
			scope.UserID = id.UserID
		}
	}
	sum, err := h.Ledger.Summary(r.Context(), scope)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

// loadParty fetches the credit and checks the caller is its debtor, its
// creditor outlet or an admin.
func (h *CreditsHandler) loadParty(r *http.Request) (ledger.Credit, error) {
	id, _ := auth.FromContext(r.Context())
	c, err := h.Ledger.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		return ledger.Credit{}, err
	}
	if !id.CanActForUser(c.UserID) && !id.CanActForOutlet(c.OutletID) {
		return ledger.Credit{}, apperr.Forbidden("not a party to this credit")
	}
	return c, nil
}

func (h *CreditsHandler) get(w http.ResponseWriter, r *http.Request) {
	c, err := h.loadParty(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, creditResp{Credit: c})
}

func (h *CreditsHandler) create(w http.ResponseWriter, r *http.Request) {
	var req createCreditReq
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	id, _ := auth.FromContext(r.Context())
	if !id.CanActForOutlet(req.OutletID) {
		writeError(w, r, apperr.Forbidden("cannot open credit for another outlet"))
		return
	}
	c, existed, err := h.Ledger.Create(r.Context(), ledger.CreateInput{
		OrderID:  req.OrderID,
		UserID:   req.UserID,
		OutletID: req.OutletID,
		Amount:   req.Amount,
		DueDate:  req.DueDate,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	status := http.StatusCreated
	if existed {
		status = http.StatusOK
	}
	writeJSON(w, status, creditResp{Credit: c})
}

func (h *CreditsHandler) recordPayment(w http.ResponseWriter, r *http.Request) {
	var req paymentReq
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	c, err := h.loadParty(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	c, err = h.Ledger.RecordPayment(r.Context(), c.ID, req.Amount, req.Notes)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, creditResp{Credit: c})
}
