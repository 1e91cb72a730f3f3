package orders

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/breakfastfactory/commerce/internal/apperr"
	"github.com/breakfastfactory/commerce/internal/money"
	"github.com/breakfastfactory/commerce/internal/postgres"
)

var (
	ErrDuplicateNumber = errors.New("orders: order number already taken")
	errNoRows          = pgx.ErrNoRows
)

// Repository is the order store used by Service.
type Repository interface {
	CreateOrder(ctx context.Context, in PlaceOrderInput, number string) (Order, bool, error)
	GetOrder(ctx context.Context, id string) (Order, error)
	FindByExternalID(ctx context.Context, externalID string) (Order, error)
	UpdateStatus(ctx context.Context, id string, status Status) (order Order, old Status, changed bool, err error)
	ListOutletOrders(ctx context.Context, f ListFilter, now time.Time) (Page, error)
}

type Repo struct{ DB *pgxpool.Pool }

func NewRepo(db *pgxpool.Pool) *Repo { return &Repo{DB: db} }

const orderColumns = `id::text, order_number, COALESCE(external_id, ''), user_id, outlet_id, status,
	shipping_address, payment_method, payment_result, total_cents, credit_due_date, created_at, updated_at`

// CreateOrder is idempotent via external_id: an existing order is returned
// with existed=true.
func (r *Repo) CreateOrder(ctx context.Context, in PlaceOrderInput, number string) (Order, bool, error) {
	if in.ExternalID != "" {
		o, err := r.FindByExternalID(ctx, in.ExternalID)
		if err == nil {
			return o, true, nil
		}
		if !apperr.Is(err, apperr.KindNotFound) {
			return Order{}, false, err
		}
	}

	tx, err := r.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return Order{}, false, fmt.Errorf("orders: begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	items, total, err := reserveStock(ctx, tx, in.OutletID, in.Items)
	if err != nil {
		return Order{}, false, err
	}

	addr, err := json.Marshal(in.ShippingAddress)
	if err != nil {
		return Order{}, false, fmt.Errorf("orders: encode address: %w", err)
	}

	id := uuid.NewString()
	_, err = tx.Exec(ctx, `
		INSERT INTO orders(id, order_number, external_id, user_id, outlet_id, status, customer_name,
			shipping_address, payment_method, payment_result, total_cents, credit_due_date)
		VALUES ($1, $2, NULLIF($3, ''), $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		id, number, in.ExternalID, in.UserID, in.OutletID, StatusPending, in.ShippingAddress.FullName,
		addr, in.PaymentMethod, nullJSON(in.PaymentResult), int64(total), in.CreditDueDate,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			switch pgErr.ConstraintName {
			case "orders_order_number_key":
				return Order{}, false, ErrDuplicateNumber
			case "orders_external_id_key":
				// lost a race with a concurrent request carrying the same external id
				_ = tx.Rollback(ctx)
				o, err := r.FindByExternalID(ctx, in.ExternalID)
				return o, err == nil, err
			}
		}
		return Order{}, false, fmt.Errorf("orders: insert order: %w", err)
	}

	for _, it := range items {
		if _, err := tx.Exec(ctx, `
			INSERT INTO order_items(order_id, product_id, name, image, qty, price_cents)
			VALUES ($1, $2, $3, $4, $5, $6)`,
			id, it.ProductID, it.Name, it.Image, it.Quantity, int64(it.UnitPrice),
		); err != nil {
			return Order{}, false, fmt.Errorf("orders: insert item: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return Order{}, false, fmt.Errorf("orders: commit: %w", err)
	}
	o, err := r.GetOrder(ctx, id)
	return o, false, err
}

// reserveStock locks every product row, checks outlet and stock, decrements
// stock and returns the item snapshots. Any failure leaves the tx to roll back.
func reserveStock(ctx context.Context, tx pgx.Tx, outletID string, in []ItemInput) ([]OrderItem, money.Cents, error) {
	qty := map[string]int{}
	for _, it := range in {
		qty[it.ProductID] += it.Qty
	}
	ids := make([]string, 0, len(qty))
	for id := range qty {
		ids = append(ids, id)
	}
	// fixed lock order so two orders on the same products cannot deadlock
	sort.Strings(ids)

	var total money.Cents
	items := make([]OrderItem, 0, len(ids))
	for _, pid := range ids {
		var (
			owner, name, image string
			stock              int
			price              int64
		)
		err := tx.QueryRow(ctx,
			`SELECT outlet_id, name, image, stock, price_cents FROM products WHERE id=$1 FOR UPDATE`, pid,
		).Scan(&owner, &name, &image, &stock, &price)
		if errors.Is(err, errNoRows) {
			return nil, 0, apperr.Validation("product %s not found", pid)
		}
		if err != nil {
			return nil, 0, fmt.Errorf("orders: lock product: %w", err)
		}
		if owner != outletID {
			return nil, 0, apperr.Validation("product %s does not belong to outlet %s", pid, outletID)
		}
		want := qty[pid]
		if stock < want {
			return nil, 0, apperr.Validation("insufficient stock for %s: %d available, %d requested", name, stock, want)
		}
		if _, err := tx.Exec(ctx, `UPDATE products SET stock = stock - $2, updated_at = now() WHERE id=$1`, pid, want); err != nil {
			return nil, 0, fmt.Errorf("orders: decrement stock: %w", err)
		}
		items = append(items, OrderItem{ProductID: pid, Name: name, Quantity: want, UnitPrice: money.Cents(price), Image: image})
		total += money.Cents(price) * money.Cents(want)
	}
	return items, total, nil
}

func (r *Repo) FindByExternalID(ctx context.Context, externalID string) (Order, error) {
	var id string
	err := r.DB.QueryRow(ctx, `SELECT id::text FROM orders WHERE external_id=$1`, externalID).Scan(&id)
	if errors.Is(err, errNoRows) {
		return Order{}, apperr.NotFound("order with external id %s not found", externalID)
	}
	if err != nil {
		return Order{}, fmt.Errorf("orders: find by external id: %w", err)
	}
	return r.GetOrder(ctx, id)
}

func (r *Repo) GetOrder(ctx context.Context, id string) (Order, error) {
	o, err := scanOrder(r.DB.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id=$1`, id))
	if errors.Is(err, errNoRows) {
		return Order{}, apperr.NotFound("order %s not found", id)
	}
	if err != nil {
		return Order{}, fmt.Errorf("orders: get: %w", err)
	}
	byOrder, err := r.loadItems(ctx, []string{o.ID})
	if err != nil {
		return Order{}, err
	}
	o.Items = byOrder[o.ID]
	return o, nil
}

// UpdateStatus locks the row, and writes only when the status differs.
func (r *Repo) UpdateStatus(ctx context.Context, id string, status Status) (Order, Status, bool, error) {
	tx, err := r.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return Order{}, "", false, fmt.Errorf("orders: begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var old Status
	err = tx.QueryRow(ctx, `SELECT status FROM orders WHERE id=$1 FOR UPDATE`, id).Scan(&old)
	if errors.Is(err, errNoRows) {
		return Order{}, "", false, apperr.NotFound("order %s not found", id)
	}
	if err != nil {
		return Order{}, "", false, fmt.Errorf("orders: lock: %w", err)
	}

	changed := old != status
	if changed {
		ct, err := tx.Exec(ctx, `UPDATE orders SET status=$2, updated_at=now() WHERE id=$1`, id, status)
		if err != nil {
			return Order{}, "", false, fmt.Errorf("orders: update status: %w", err)
		}
		if ct.RowsAffected() == 0 {
			return Order{}, "", false, apperr.NotFound("order %s not found", id)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return Order{}, "", false, fmt.Errorf("orders: commit: %w", err)
	}

	o, err := r.GetOrder(ctx, id)
	return o, old, changed, err
}

func (r *Repo) ListOutletOrders(ctx context.Context, f ListFilter, now time.Time) (Page, error) {
	var w postgres.Where
	w.Add("outlet_id = ?", f.OutletID)
	if f.Status != "" {
		w.Add("status = ?", f.Status)
	}
	if since := f.DateRange.Since(now); !since.IsZero() {
		w.Add("created_at >= ?", since)
	}
	if f.Search != "" {
		p := postgres.Like(f.Search)
		w.Add("(order_number ILIKE ? OR customer_name ILIKE ?)", p, p)
	}

	var total int
	if err := r.DB.QueryRow(ctx, `SELECT COUNT(*) FROM orders`+w.SQL(), w.Args()...).Scan(&total); err != nil {
		return Page{}, fmt.Errorf("orders: count: %w", err)
	}

	dir := "DESC"
	if f.Ascending {
		dir = "ASC"
	}
	q := `SELECT ` + orderColumns + ` FROM orders` + w.SQL() +
		` ORDER BY created_at ` + dir + `, id ` + dir +
		` LIMIT ` + w.Arg(f.Limit) + ` OFFSET ` + w.Arg(f.StartIndex)
	rows, err := r.DB.Query(ctx, q, w.Args()...)
	if err != nil {
		return Page{}, fmt.Errorf("orders: list: %w", err)
	}
	defer rows.Close()

	out := make([]Order, 0, f.Limit)
	ids := make([]string, 0, f.Limit)
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return Page{}, fmt.Errorf("orders: scan: %w", err)
		}
		out = append(out, o)
		ids = append(ids, o.ID)
	}
	if err := rows.Err(); err != nil {
		return Page{}, fmt.Errorf("orders: list: %w", err)
	}

	byOrder, err := r.loadItems(ctx, ids)
	if err != nil {
		return Page{}, err
	}
	for i := range out {
		out[i].Items = byOrder[out[i].ID]
	}
	return Page{Orders: out, TotalOrders: total}, nil
}

func (r *Repo) loadItems(ctx context.Context, orderIDs []string) (map[string][]OrderItem, error) {
	out := make(map[string][]OrderItem, len(orderIDs))
	if len(orderIDs) == 0 {
		return out, nil
	}
	rows, err := r.DB.Query(ctx, `
		SELECT order_id::text, product_id::text, name, image, qty, price_cents
		FROM order_items WHERE order_id::text = ANY($1) ORDER BY name`, orderIDs)
	if err != nil {
		return nil, fmt.Errorf("orders: load items: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			orderID string
			it      OrderItem
			price   int64
		)
		if err := rows.Scan(&orderID, &it.ProductID, &it.Name, &it.Image, &it.Quantity, &price); err != nil {
			return nil, fmt.Errorf("orders: scan item: %w", err)
		}
		it.UnitPrice = money.Cents(price)
		out[orderID] = append(out[orderID], it)
	}
	return out, rows.Err()
}

func scanOrder(row pgx.Row) (Order, error) {
	var (
		o             Order
		addr, payment []byte
		total         int64
	)
	err := row.Scan(&o.ID, &o.OrderNumber, &o.ExternalID, &o.UserID, &o.OutletID, &o.Status,
		&addr, &o.PaymentMethod, &payment, &total, &o.CreditDueDate, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return Order{}, err
	}
	if len(addr) > 0 {
		if err := json.Unmarshal(addr, &o.ShippingAddress); err != nil {
			return Order{}, fmt.Errorf("decode shipping address: %w", err)
		}
	}
	if len(payment) > 0 {
		o.PaymentResult = json.RawMessage(payment)
	}
	o.TotalPrice = money.Cents(total)
	return o, nil
}

func nullJSON(b json.RawMessage) any {
	if len(b) == 0 {
		return nil
	}
	return []byte(b)
}
