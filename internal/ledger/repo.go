package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/breakfastfactory/commerce/internal/apperr"
	"github.com/breakfastfactory/commerce/internal/money"
	"github.com/breakfastfactory/commerce/internal/postgres"
)

// Repo is the Postgres Store.
type Repo struct{ DB *pgxpool.Pool }

func NewRepo(db *pgxpool.Pool) *Repo { return &Repo{DB: db} }

const creditColumns = `c.id::text, c.order_id::text, c.user_id, c.outlet_id, c.amount_cents, c.remaining_cents,
	c.status, c.due_date, c.created_at, c.updated_at, o.order_number, o.total_cents, o.customer_name`

const creditFrom = ` FROM credits c JOIN orders o ON o.id = c.order_id`

// derivedStatus is the SQL twin of Derive; now is a placeholder.
func derivedStatus(now string) string {
	return `CASE WHEN c.remaining_cents = 0 THEN 'paid'
		WHEN c.due_date < ` + now + ` THEN 'overdue'
		WHEN c.remaining_cents < c.amount_cents THEN 'partially_paid'
		ELSE 'pending' END`
}

func scopeWhere(w *postgres.Where, s Scope) {
	if s.OutletID != "" {
		w.Add("c.outlet_id = ?", s.OutletID)
	}
	if s.UserID != "" {
		w.Add("c.user_id = ?", s.UserID)
	}
}

// Create inserts a credit unless the order already has one, in which case
// the existing credit is returned with existed=true.
func (r *Repo) Create(ctx context.Context, in CreateInput) (Credit, bool, error) {
	var id string
	err := r.DB.QueryRow(ctx, `
		INSERT INTO credits(id, order_id, user_id, outlet_id, amount_cents, remaining_cents, status, due_date)
		VALUES ($1, $2, $3, $4, $5, $5, $6, $7)
		ON CONFLICT (order_id) DO NOTHING
		RETURNING id::text`,
		uuid.NewString(), in.OrderID, in.UserID, in.OutletID, int64(in.Amount), StatusPending, in.DueDate,
	).Scan(&id)

	existed := false
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		existed = true
		if err := r.DB.QueryRow(ctx, `SELECT id::text FROM credits WHERE order_id=$1`, in.OrderID).Scan(&id); err != nil {
			return Credit{}, false, fmt.Errorf("ledger: load existing credit: %w", err)
		}
	case err != nil:
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23503" {
			return Credit{}, false, apperr.NotFound("order %s not found", in.OrderID)
		}
		return Credit{}, false, fmt.Errorf("ledger: insert credit: %w", err)
	}

	c, err := r.Get(ctx, id)
	return c, existed, err
}

func (r *Repo) Get(ctx context.Context, id string) (Credit, error) {
	c, err := scanCredit(r.DB.QueryRow(ctx, `SELECT `+creditColumns+creditFrom+` WHERE c.id=$1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Credit{}, apperr.NotFound("credit %s not found", id)
	}
	if err != nil {
		return Credit{}, fmt.Errorf("ledger: get credit: %w", err)
	}
	byCredit, err := r.loadPayments(ctx, []string{c.ID})
	if err != nil {
		return Credit{}, err
	}
	if ps, ok := byCredit[c.ID]; ok {
		c.Payments = ps
	}
	return c, nil
}

func (r *Repo) List(ctx context.Context, f ListFilter, now time.Time) (Page, error) {
	var w postgres.Where
	scopeWhere(&w, f.Scope)
	if f.Status != "" {
		ph := w.Arg(now)
		w.Add(derivedStatus(ph)+" = ?", f.Status)
	}
	if f.Search != "" {
		p := postgres.Like(f.Search)
		w.Add("(o.order_number ILIKE ? OR o.customer_name ILIKE ?)", p, p)
	}

	var total int
	if err := r.DB.QueryRow(ctx, `SELECT COUNT(*)`+creditFrom+w.SQL(), w.Args()...).Scan(&total); err != nil {
		return Page{}, fmt.Errorf("ledger: count credits: %w", err)
	}

	q := `SELECT ` + creditColumns + creditFrom + w.SQL() +
		` ORDER BY c.created_at DESC, c.id DESC LIMIT ` + w.Arg(f.PageSize) + ` OFFSET ` + w.Arg(f.Offset())
	rows, err := r.DB.Query(ctx, q, w.Args()...)
	if err != nil {
		return Page{}, fmt.Errorf("ledger: list credits: %w", err)
	}
	defer rows.Close()

	credits := make([]Credit, 0, f.PageSize)
	ids := make([]string, 0, f.PageSize)
	for rows.Next() {
		c, err := scanCredit(rows)
		if err != nil {
			return Page{}, fmt.Errorf("ledger: scan credit: %w", err)
		}
		credits = append(credits, c)
		ids = append(ids, c.ID)
	}
	if err := rows.Err(); err != nil {
		return Page{}, fmt.Errorf("ledger: list credits: %w", err)
	}

	byCredit, err := r.loadPayments(ctx, ids)
	if err != nil {
		return Page{}, err
	}
	for i := range credits {
		if ps, ok := byCredit[credits[i].ID]; ok {
			credits[i].Payments = ps
		}
	}
	return Page{Credits: credits, Total: total}, nil
}

// ApplyPayment runs the conditional decrement and the payment insert in one
// transaction. The WHERE guard is what keeps concurrent payments from
// overdrawing: the row lock serializes them and the loser matches no row.
func (r *Repo) ApplyPayment(ctx context.Context, id string, p Payment) (Credit, error) {
	tx, err := r.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return Credit{}, fmt.Errorf("ledger: begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var remaining int64
	err = tx.QueryRow(ctx, `
		UPDATE credits
		SET remaining_cents = remaining_cents - $2,
		    status = CASE WHEN remaining_cents - $2 = 0 THEN 'paid' ELSE 'partially_paid' END,
		    updated_at = now()
		WHERE id = $1 AND remaining_cents >= $2
		RETURNING remaining_cents`, id, int64(p.Amount),
	).Scan(&remaining)
	if errors.Is(err, pgx.ErrNoRows) {
		var exists bool
		if err := tx.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM credits WHERE id=$1)`, id).Scan(&exists); err != nil {
			return Credit{}, fmt.Errorf("ledger: check credit: %w", err)
		}
		if !exists {
			return Credit{}, apperr.NotFound("credit %s not found", id)
		}
		return Credit{}, ErrInsufficientBalance
	}
	if err != nil {
		return Credit{}, fmt.Errorf("ledger: decrement balance: %w", err)
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO credit_payments(credit_id, amount_cents, notes, paid_at) VALUES ($1, $2, $3, $4)`,
		id, int64(p.Amount), p.Notes, p.Date,
	); err != nil {
		return Credit{}, fmt.Errorf("ledger: insert payment: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return Credit{}, fmt.Errorf("ledger: commit payment: %w", err)
	}
	return r.Get(ctx, id)
}

func (r *Repo) Summary(ctx context.Context, s Scope, now time.Time) (Summary, error) {
	var w postgres.Where
	ph := w.Arg(now)
	scopeWhere(&w, s)

	var (
		sum                Summary
		total, remaining   int64
		overdue, customers int
	)
	err := r.DB.QueryRow(ctx, `
		SELECT COALESCE(SUM(c.amount_cents), 0), COALESCE(SUM(c.remaining_cents), 0),
		       COUNT(*) FILTER (WHERE c.remaining_cents > 0 AND c.due_date < `+ph+`),
		       COUNT(DISTINCT c.user_id)
		FROM credits c`+w.SQL(), w.Args()...,
	).Scan(&total, &remaining, &overdue, &customers)
	if err != nil {
		return Summary{}, fmt.Errorf("ledger: summary: %w", err)
	}
	sum.TotalAmount = money.Cents(total)
	sum.RemainingAmount = money.Cents(remaining)
	sum.OverdueCount = overdue
	sum.TotalCustomers = customers
	return sum, nil
}

// MarkOverdue persists the overdue label. Reads derive status regardless.
func (r *Repo) MarkOverdue(ctx context.Context, now time.Time) (int64, error) {
	ct, err := r.DB.Exec(ctx, `
		UPDATE credits SET status = 'overdue', updated_at = now()
		WHERE remaining_cents > 0 AND due_date < $1 AND status <> 'overdue'`, now)
	if err != nil {
		return 0, fmt.Errorf("ledger: mark overdue: %w", err)
	}
	return ct.RowsAffected(), nil
}

func (r *Repo) CreditOrdersWithoutCredit(ctx context.Context, limit int) ([]CreditOrder, error) {
	rows, err := r.DB.Query(ctx, `
		SELECT o.id::text, o.user_id, o.outlet_id, o.total_cents, o.credit_due_date
		FROM orders o LEFT JOIN credits c ON c.order_id = o.id
		WHERE o.payment_method = 'credit' AND o.status <> 'cancelled' AND o.total_cents > 0 AND c.id IS NULL
		ORDER BY o.created_at
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("ledger: missing credits: %w", err)
	}
	defer rows.Close()

	var out []CreditOrder
	for rows.Next() {
		var (
			o     CreditOrder
			total int64
		)
		if err := rows.Scan(&o.OrderID, &o.UserID, &o.OutletID, &total, &o.DueDate); err != nil {
			return nil, fmt.Errorf("ledger: scan order: %w", err)
		}
		o.Total = money.Cents(total)
		out = append(out, o)
	}
	return out, rows.Err()
}

func (r *Repo) loadPayments(ctx context.Context, ids []string) (map[string][]Payment, error) {
	out := make(map[string][]Payment, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	rows, err := r.DB.Query(ctx, `
		SELECT credit_id::text, amount_cents, paid_at, notes
		FROM credit_payments WHERE credit_id::text = ANY($1)
		ORDER BY id`, ids)
	if err != nil {
		return nil, fmt.Errorf("ledger: load payments: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			creditID string
			p        Payment
			amount   int64
		)
		if err := rows.Scan(&creditID, &amount, &p.Date, &p.Notes); err != nil {
			return nil, fmt.Errorf("ledger: scan payment: %w", err)
		}
		p.Amount = money.Cents(amount)
		out[creditID] = append(out[creditID], p)
	}
	return out, rows.Err()
}

func scanCredit(row pgx.Row) (Credit, error) {
	var (
		c                           Credit
		amount, remaining, orderTot int64
		orderNumber, customer       string
	)
	err := row.Scan(&c.ID, &c.OrderID, &c.UserID, &c.OutletID, &amount, &remaining,
		&c.Status, &c.DueDate, &c.CreatedAt, &c.UpdatedAt, &orderNumber, &orderTot, &customer)
	if err != nil {
		return Credit{}, err
	}
	c.Amount = money.Cents(amount)
	c.RemainingAmount = money.Cents(remaining)
	c.Payments = []Payment{}
	c.Order = &OrderRef{ID: c.OrderID, OrderNumber: orderNumber, TotalPrice: money.Cents(orderTot)}
	c.User = &UserRef{ID: c.UserID, Name: customer}
	c.Outlet = &OutletRef{ID: c.OutletID}
	return c, nil
}
