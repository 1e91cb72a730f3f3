package restock

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/breakfastfactory/commerce/internal/apperr"
	"github.com/breakfastfactory/commerce/internal/postgres"
)

// ErrNotPending is returned by Process when the request was already decided.
var ErrNotPending = errors.New("restock: request already processed")

type Repository interface {
	Create(ctx context.Context, outletID, productID string, qty int) (Request, error)
	List(ctx context.Context, f ListFilter) ([]Request, int, error)
	Process(ctx context.Context, id string, status Status, note string) (Request, error)
}

type Repo struct{ DB *pgxpool.Pool }

func NewRepo(db *pgxpool.Pool) *Repo { return &Repo{DB: db} }

const requestColumns = `id::text, outlet_id, product_id::text, product_name, current_quantity, requested_quantity,
	status, admin_note, processed_at, created_at`

// Create snapshots the product's current stock. The product must belong to outletID.
func (r *Repo) Create(ctx context.Context, outletID, productID string, qty int) (Request, error) {
	var (
		owner, name string
		stock       int
	)
	err := r.DB.QueryRow(ctx, `SELECT outlet_id, name, stock FROM products WHERE id=$1`, productID).Scan(&owner, &name, &stock)
	if errors.Is(err, pgx.ErrNoRows) {
		return Request{}, apperr.NotFound("product %s not found", productID)
	}
	if err != nil {
		return Request{}, fmt.Errorf("restock: load product: %w", err)
	}
	if owner != outletID {
		return Request{}, apperr.Forbidden("product belongs to another outlet")
	}

	req, err := scanRequest(r.DB.QueryRow(ctx, `
		INSERT INTO restock_requests(id, outlet_id, product_id, product_name, current_quantity, requested_quantity, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING `+requestColumns,
		uuid.NewString(), outletID, productID, name, stock, qty, StatusPending,
	))
	if err != nil {
		return Request{}, fmt.Errorf("restock: insert: %w", err)
	}
	return req, nil
}

func (r *Repo) List(ctx context.Context, f ListFilter) ([]Request, int, error) {
	var w postgres.Where
	if f.OutletID != "" {
		w.Add("outlet_id = ?", f.OutletID)
	}
	if f.Status != "" {
		w.Add("status = ?", f.Status)
	}

	var total int
	if err := r.DB.QueryRow(ctx, `SELECT COUNT(*) FROM restock_requests`+w.SQL(), w.Args()...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("restock: count: %w", err)
	}

	q := `SELECT ` + requestColumns + ` FROM restock_requests` + w.SQL() +
		` ORDER BY created_at DESC LIMIT ` + w.Arg(f.PageSize) + ` OFFSET ` + w.Arg((f.Page-1)*f.PageSize)
	rows, err := r.DB.Query(ctx, q, w.Args()...)
	if err != nil {
		return nil, 0, fmt.Errorf("restock: list: %w", err)
	}
	defer rows.Close()

	out := make([]Request, 0, f.PageSize)
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("restock: scan: %w", err)
		}
		out = append(out, req)
	}
	return out, total, rows.Err()
}

// Process decides a pending request. Approval adds the requested quantity to
// the product's stock in the same transaction.
func (r *Repo) Process(ctx context.Context, id string, status Status, note string) (Request, error) {
	tx, err := r.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return Request{}, fmt.Errorf("restock: begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	req, err := scanRequest(tx.QueryRow(ctx, `
		UPDATE restock_requests SET status=$2, admin_note=$3, processed_at=now()
		WHERE id=$1 AND status='pending'
		RETURNING `+requestColumns, id, status, note))
	if errors.Is(err, pgx.ErrNoRows) {
		var exists bool
		if err := tx.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM restock_requests WHERE id=$1)`, id).Scan(&exists); err != nil {
			return Request{}, fmt.Errorf("restock: check: %w", err)
		}
		if !exists {
			return Request{}, apperr.NotFound("restock request %s not found", id)
		}
		return Request{}, ErrNotPending
	}
	if err != nil {
		return Request{}, fmt.Errorf("restock: process: %w", err)
	}

	if status == StatusApproved {
		ct, err := tx.Exec(ctx, `UPDATE products SET stock = stock + $2, updated_at = now() WHERE id=$1`,
			req.ProductID, req.RequestedQuantity)
		if err != nil {
			return Request{}, fmt.Errorf("restock: add stock: %w", err)
		}
		if ct.RowsAffected() == 0 {
			return Request{}, apperr.NotFound("product %s not found", req.ProductID)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return Request{}, fmt.Errorf("restock: commit: %w", err)
	}
	return req, nil
}

func scanRequest(row pgx.Row) (Request, error) {
	var req Request
	err := row.Scan(&req.ID, &req.OutletID, &req.ProductID, &req.ProductName, &req.CurrentQuantity,
		&req.RequestedQuantity, &req.Status, &req.AdminNote, &req.ProcessedAt, &req.CreatedAt)
	return req, err
}
