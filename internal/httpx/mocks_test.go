package httpx

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/breakfastfactory/commerce/internal/auth"
	"github.com/breakfastfactory/commerce/internal/ledger"
	"github.com/breakfastfactory/commerce/internal/money"
	"github.com/breakfastfactory/commerce/internal/orders"
	"github.com/breakfastfactory/commerce/internal/realtime"
	"github.com/breakfastfactory/commerce/internal/restock"
)

const testSecret = "test-secret"

var (
	customer = auth.Identity{UserID: "user-1", Role: auth.RoleUser}
	outlet   = auth.Identity{UserID: "user-o1", Role: auth.RoleOutlet, OutletID: "outlet-1"}
	rival    = auth.Identity{UserID: "user-o2", Role: auth.RoleOutlet, OutletID: "outlet-2"}
	admin    = auth.Identity{UserID: "admin-1", Role: auth.RoleAdmin}
)

type mockLedger struct{ mock.Mock }

func (m *mockLedger) Create(ctx context.Context, in ledger.CreateInput) (ledger.Credit, bool, error) {
	args := m.Called(ctx, in)
	return args.Get(0).(ledger.Credit), args.Bool(1), args.Error(2)
}

func (m *mockLedger) Get(ctx context.Context, id string) (ledger.Credit, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(ledger.Credit), args.Error(1)
}

func (m *mockLedger) List(ctx context.Context, f ledger.ListFilter) (ledger.Page, error) {
	args := m.Called(ctx, f)
	return args.Get(0).(ledger.Page), args.Error(1)
}

func (m *mockLedger) RecordPayment(ctx context.Context, id string, amount money.Cents, notes string) (ledger.Credit, error) {
	args := m.Called(ctx, id, amount, notes)
	return args.Get(0).(ledger.Credit), args.Error(1)
}

func (m *mockLedger) Summary(ctx context.Context, s ledger.Scope) (ledger.Summary, error) {
	args := m.Called(ctx, s)
	return args.Get(0).(ledger.Summary), args.Error(1)
}

func (m *mockLedger) SweepOverdue(ctx context.Context) (int64, error) {
	args := m.Called(ctx)
	return args.Get(0).(int64), args.Error(1)
}

func (m *mockLedger) ReconcileMissing(ctx context.Context, limit int) (int, error) {
	args := m.Called(ctx, limit)
	return args.Int(0), args.Error(1)
}

func (m *mockLedger) CreateForOrder(ctx context.Context, o ledger.CreditOrder) (ledger.Credit, bool, error) {
	args := m.Called(ctx, o)
	return args.Get(0).(ledger.Credit), args.Bool(1), args.Error(2)
}

type mockOrders struct{ mock.Mock }

func (m *mockOrders) PlaceOrder(ctx context.Context, in orders.PlaceOrderInput) (orders.Order, bool, error) {
	args := m.Called(ctx, in)
	return args.Get(0).(orders.Order), args.Bool(1), args.Error(2)
}

func (m *mockOrders) Get(ctx context.Context, id string) (orders.Order, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(orders.Order), args.Error(1)
}

func (m *mockOrders) UpdateStatus(ctx context.Context, id string, status orders.Status) (orders.Order, error) {
	args := m.Called(ctx, id, status)
	return args.Get(0).(orders.Order), args.Error(1)
}

func (m *mockOrders) ListOutletOrders(ctx context.Context, f orders.ListFilter) (orders.Page, error) {
	args := m.Called(ctx, f)
	return args.Get(0).(orders.Page), args.Error(1)
}

type mockRestock struct{ mock.Mock }

func (m *mockRestock) Create(ctx context.Context, outletID, productID string, qty int) (restock.Request, error) {
	args := m.Called(ctx, outletID, productID, qty)
	return args.Get(0).(restock.Request), args.Error(1)
}

func (m *mockRestock) List(ctx context.Context, f restock.ListFilter) (restock.Page, error) {
	args := m.Called(ctx, f)
	return args.Get(0).(restock.Page), args.Error(1)
}

func (m *mockRestock) Process(ctx context.Context, id string, status restock.Status, note string) (restock.Request, error) {
	args := m.Called(ctx, id, status, note)
	return args.Get(0).(restock.Request), args.Error(1)
}

type harness struct {
	ledger  *mockLedger
	orders  *mockOrders
	restock *mockRestock
	hub     *realtime.Hub
	router  http.Handler
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		ledger:  new(mockLedger),
		orders:  new(mockOrders),
		restock: new(mockRestock),
		hub:     realtime.NewHub(8),
	}
	h.router = NewRouter(Deps{
		Ledger:         h.ledger,
		Orders:         h.orders,
		Restock:        h.restock,
		Hub:            h.hub,
		Auth:           auth.NewVerifier(testSecret),
		RequestTimeout: 5 * time.Second,
		Heartbeat:      time.Hour,
	})
	return h
}

func token(t *testing.T, id auth.Identity) string {
	t.Helper()
	tok, err := auth.Sign(testSecret, id, time.Hour)
	require.NoError(t, err)
	return tok
}

// do sends body (marshalled unless it is already a string) as caller. A zero
// caller sends no Authorization header.
func (h *harness) do(t *testing.T, caller auth.Identity, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	switch b := body.(type) {
	case nil:
	case string:
		buf.WriteString(b)
	default:
		require.NoError(t, json.NewEncoder(&buf).Encode(b))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if caller.UserID != "" {
		req.Header.Set("Authorization", "Bearer "+token(t, caller))
	}
	rec := httptest.NewRecorder()
	h.router.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}
