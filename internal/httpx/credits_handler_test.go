package httpx

import (
	"net/http"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/breakfastfactory/commerce/internal/apperr"
	"github.com/breakfastfactory/commerce/internal/auth"
	"github.com/breakfastfactory/commerce/internal/ledger"
	"github.com/breakfastfactory/commerce/internal/money"
)

func sampleCredit() ledger.Credit {
	return ledger.Credit{
		ID:              "c1",
		OrderID:         uuid.NewString(),
		UserID:          customer.UserID,
		OutletID:        outlet.OutletID,
		Amount:          10000,
		RemainingAmount: 10000,
		Status:          ledger.StatusPending,
		DueDate:         time.Now().Add(72 * time.Hour),
		Payments:        []ledger.Payment{},
	}
}

func TestHealthzIsPublic(t *testing.T) {
	h := newHarness(t)
	rec := h.do(t, auth.Identity{}, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAPIRequiresToken(t *testing.T) {
	h := newHarness(t)
	rec := h.do(t, auth.Identity{}, http.MethodGet, "/credit/c1", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "missing bearer token", decodeBody(t, rec)["message"])
}

func TestRecordPayment(t *testing.T) {
	c := sampleCredit()
	paid := c
	paid.RemainingAmount = 6000
	paid.Status = ledger.StatusPartiallyPaid

	tests := []struct {
		name       string
		caller     auth.Identity
		body       any
		payErr     error
		wantStatus int
		wantPay    bool
	}{
		{name: "debtor pays", caller: customer, body: `{"amount":"40.00","notes":"cash"}`, wantStatus: http.StatusOK, wantPay: true},
		{name: "creditor records", caller: outlet, body: `{"amount":40,"notes":"cash"}`, wantStatus: http.StatusOK, wantPay: true},
		{name: "admin records", caller: admin, body: `{"amount":40,"notes":"cash"}`, wantStatus: http.StatusOK, wantPay: true},
		{name: "stranger outlet", caller: rival, body: `{"amount":40}`, wantStatus: http.StatusForbidden},
		{name: "zero amount", caller: customer, body: `{"amount":0}`, wantStatus: http.StatusBadRequest},
		{name: "three decimals", caller: customer, body: `{"amount":"1.005"}`, wantStatus: http.StatusBadRequest},
		{name: "beyond int64", caller: customer, body: `{"amount":184467440737095517.16}`, wantStatus: http.StatusBadRequest},
		{name: "wraps negative", caller: customer, body: `{"amount":92233720368547758.08}`, wantStatus: http.StatusBadRequest},
		{name: "empty body", caller: customer, body: ``, wantStatus: http.StatusBadRequest},
		{name: "lost race", caller: customer, body: `{"amount":40,"notes":"cash"}`, payErr: apperr.Conflict("credit balance changed"), wantStatus: http.StatusConflict, wantPay: true},
		{name: "store down", caller: customer, body: `{"amount":40,"notes":"cash"}`, payErr: apperr.Upstream(assert.AnError, "record payment"), wantStatus: http.StatusInternalServerError, wantPay: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			h.ledger.On("Get", mock.Anything, "c1").Return(c, nil)
			if tt.wantPay {
				h.ledger.On("RecordPayment", mock.Anything, "c1", money.Cents(4000), "cash").Return(paid, tt.payErr)
			}

			rec := h.do(t, tt.caller, http.MethodPost, "/credit/c1/payment", tt.body)
			assert.Equal(t, tt.wantStatus, rec.Code, rec.Body.String())
			if !tt.wantPay {
				h.ledger.AssertNotCalled(t, "RecordPayment", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
			}
			if tt.wantStatus == http.StatusOK {
				credit := decodeBody(t, rec)["credit"].(map[string]any)
				assert.Equal(t, 60.0, credit["remainingAmount"])
				assert.Equal(t, "partially_paid", credit["status"])
			}
		})
	}
}

func TestRecordPayment_UpstreamMessageRedacted(t *testing.T) {
	h := newHarness(t)
	h.ledger.On("Get", mock.Anything, "c1").Return(ledger.Credit{}, apperr.Upstream(assert.AnError, "load credit"))

	rec := h.do(t, customer, http.MethodPost, "/credit/c1/payment", `{"amount":1}`)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "internal error", decodeBody(t, rec)["message"])
}

func TestGetCredit(t *testing.T) {
	h := newHarness(t)
	h.ledger.On("Get", mock.Anything, "c1").Return(sampleCredit(), nil)
	h.ledger.On("Get", mock.Anything, "nope").Return(ledger.Credit{}, apperr.NotFound("credit nope not found"))

	assert.Equal(t, http.StatusOK, h.do(t, customer, http.MethodGet, "/credit/c1", nil).Code)
	assert.Equal(t, http.StatusForbidden, h.do(t, auth.Identity{UserID: "user-2", Role: auth.RoleUser}, http.MethodGet, "/credit/c1", nil).Code)
	assert.Equal(t, http.StatusNotFound, h.do(t, admin, http.MethodGet, "/credit/nope", nil).Code)
}

func TestListOutletCredits(t *testing.T) {
	h := newHarness(t)
	want := ledger.ListFilter{Scope: ledger.Scope{OutletID: "outlet-1"}, Status: ledger.StatusOverdue, Search: "ama", Page: 2, PageSize: 5}
	h.ledger.On("List", mock.Anything, want).
		Return(ledger.Page{Credits: []ledger.Credit{sampleCredit()}, Total: 6, TotalPages: 2}, nil)

	rec := h.do(t, outlet, http.MethodGet, "/credit/outlet/outlet-1?page=2&limit=5&status=overdue&search=ama", nil)
	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decodeBody(t, rec)
	assert.Equal(t, 6.0, body["total"])
	assert.Equal(t, 2.0, body["totalPages"])
	assert.Len(t, body["credits"], 1)

	assert.Equal(t, http.StatusForbidden, h.do(t, rival, http.MethodGet, "/credit/outlet/outlet-1", nil).Code)
	assert.Equal(t, http.StatusForbidden, h.do(t, customer, http.MethodGet, "/credit/outlet/outlet-1", nil).Code)
	assert.Equal(t, http.StatusBadRequest, h.do(t, outlet, http.MethodGet, "/credit/outlet/outlet-1?page=two", nil).Code)
}

func TestListUserCredits(t *testing.T) {
	h := newHarness(t)
	scope := ledger.Scope{UserID: customer.UserID}
	h.ledger.On("List", mock.Anything, ledger.ListFilter{Scope: scope, Page: 1, PageSize: ledger.DefaultPageSize}).
		Return(ledger.Page{Credits: []ledger.Credit{}, TotalPages: 0}, nil)
	h.ledger.On("Summary", mock.Anything, scope).Return(ledger.Summary{TotalAmount: 10000, OverdueCount: 1}, nil)

	rec := h.do(t, customer, http.MethodGet, "/credit/user/user-1", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	sum := decodeBody(t, rec)["summary"].(map[string]any)
	assert.Equal(t, 100.0, sum["totalAmount"])
	assert.Equal(t, 1.0, sum["overdueCount"])

	assert.Equal(t, http.StatusForbidden, h.do(t, auth.Identity{UserID: "user-2", Role: auth.RoleUser}, http.MethodGet, "/credit/user/user-1", nil).Code)
}

func TestSummaryScopes(t *testing.T) {
	tests := []struct {
		name   string
		caller auth.Identity
		query  string
		scope  ledger.Scope
		status int
	}{
		{name: "outlet defaults to own", caller: outlet, scope: ledger.Scope{OutletID: "outlet-1"}, status: http.StatusOK},
		{name: "user defaults to own", caller: customer, scope: ledger.Scope{UserID: "user-1"}, status: http.StatusOK},
		{name: "admin sees all", caller: admin, scope: ledger.Scope{}, status: http.StatusOK},
		{name: "outlet customer", caller: outlet, query: "?outletId=outlet-1&userId=user-9", scope: ledger.Scope{OutletID: "outlet-1", UserID: "user-9"}, status: http.StatusOK},
		{name: "other outlet", caller: outlet, query: "?outletId=outlet-2", status: http.StatusForbidden},
		{name: "other user", caller: customer, query: "?userId=user-9", status: http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			h.ledger.On("Summary", mock.Anything, tt.scope).Return(ledger.Summary{}, nil)
			rec := h.do(t, tt.caller, http.MethodGet, "/credit/summary"+tt.query, nil)
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
			if tt.status != http.StatusOK {
				h.ledger.AssertNotCalled(t, "Summary", mock.Anything, mock.Anything)
			}
		})
	}
}

func TestCreateCredit(t *testing.T) {
	orderID := uuid.NewString()
	due := time.Now().Add(48 * time.Hour).UTC().Truncate(time.Second)
	body := map[string]any{
		"orderId":  orderID,
		"userId":   "user-1",
		"outletId": "outlet-1",
		"amount":   "250.00",
		"dueDate":  due,
	}

	h := newHarness(t)
	h.ledger.On("Create", mock.Anything, mock.MatchedBy(func(in ledger.CreateInput) bool {
		return in.OrderID == orderID && in.Amount == 25000 && in.DueDate.Equal(due)
	})).Return(sampleCredit(), false, nil).Once()
	h.ledger.On("Create", mock.Anything, mock.Anything).Return(sampleCredit(), true, nil).Once()

	assert.Equal(t, http.StatusCreated, h.do(t, outlet, http.MethodPost, "/credit", body).Code)
	assert.Equal(t, http.StatusOK, h.do(t, outlet, http.MethodPost, "/credit", body).Code, "replay returns the existing credit")
	assert.Equal(t, http.StatusForbidden, h.do(t, rival, http.MethodPost, "/credit", body).Code)
	assert.Equal(t, http.StatusForbidden, h.do(t, customer, http.MethodPost, "/credit", body).Code)

	bad := map[string]any{"orderId": "x", "userId": "user-1", "outletId": "outlet-1", "amount": 1, "dueDate": due}
	rec := h.do(t, outlet, http.MethodPost, "/credit", bad)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "orderId must be a UUID", decodeBody(t, rec)["message"])
	h.ledger.AssertNumberOfCalls(t, "Create", 2)
}

func TestCreateCredit_ConflictingReplay(t *testing.T) {
	h := newHarness(t)
	h.ledger.On("Create", mock.Anything, mock.Anything).
		Return(ledger.Credit{}, false, apperr.Conflict("order already has a different credit"))

	body := map[string]any{
		"orderId":  uuid.NewString(),
		"userId":   "user-1",
		"outletId": "outlet-1",
		"amount":   "999.00",
		"dueDate":  time.Now().Add(48 * time.Hour).UTC(),
	}
	assert.Equal(t, http.StatusConflict, h.do(t, outlet, http.MethodPost, "/credit", body).Code)
}
