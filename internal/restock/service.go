// Package restock handles outlet requests for more stock and their approval.
package restock

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/breakfastfactory/commerce/internal/apperr"
)

type Service interface {
	Create(ctx context.Context, outletID, productID string, qty int) (Request, error)
	List(ctx context.Context, f ListFilter) (Page, error)
	Process(ctx context.Context, id string, status Status, note string) (Request, error)
}

type service struct {
	repo Repository
}

func NewService(repo Repository) Service { return &service{repo: repo} }

func (s *service) Create(ctx context.Context, outletID, productID string, qty int) (Request, error) {
	if outletID == "" {
		return Request{}, apperr.Validation("outletId is required")
	}
	if _, err := uuid.Parse(productID); err != nil {
		return Request{}, apperr.Validation("invalid productId %q", productID)
	}
	if qty <= 0 {
		return Request{}, apperr.Validation("requestedQuantity must be positive")
	}
	return s.repo.Create(ctx, outletID, productID, qty)
}

func (s *service) List(ctx context.Context, f ListFilter) (Page, error) {
	if f.Status != "" && !f.Status.Valid() {
		return Page{}, apperr.Validation("invalid status %q", f.Status)
	}
	f.Normalize()
	reqs, total, err := s.repo.List(ctx, f)
	if err != nil {
		return Page{}, err
	}
	pages := 0
	if total > 0 {
		pages = (total + f.PageSize - 1) / f.PageSize
	}
	return Page{Requests: reqs, Total: total, TotalPages: pages}, nil
}

// Process approves or rejects a pending request. Decided requests are immutable.
func (s *service) Process(ctx context.Context, id string, status Status, note string) (Request, error) {
	if status != StatusApproved && status != StatusRejected {
		return Request{}, apperr.Validation("status must be approved or rejected")
	}
	if _, err := uuid.Parse(id); err != nil {
		return Request{}, apperr.NotFound("restock request %s not found", id)
	}
	req, err := s.repo.Process(ctx, id, status, note)
	if errors.Is(err, ErrNotPending) {
		return Request{}, apperr.Conflict("restock request %s was already processed", id)
	}
	if err != nil {
		return Request{}, err
	}
	log.Info().Str("request_id", id).Str("status", string(status)).Str("product_id", req.ProductID).
		Int("quantity", req.RequestedQuantity).Msg("restock request processed")
	return req, nil
}
