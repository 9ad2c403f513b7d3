package cron

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/multierr"

	"github.com/sweveninteriosolutions-wq/billing-backend/internal/procurement"
	"github.com/sweveninteriosolutions-wq/billing-backend/pkg/db/models"
	"github.com/sweveninteriosolutions-wq/billing-backend/pkg/logger"
)

type supplierOrderLister interface {
	List(ctx context.Context, query procurement.ListQuery) ([]models.PurchaseOrder, error)
}

type ratingWriter interface {
	SaveRating(ctx context.Context, rating *models.VendorRating) error
}

type RatingRecomputeJobParams struct {
	Logger  *logger.Logger
	Orders  supplierOrderLister
	Ratings ratingWriter
}

// NewRatingRecomputeJob rebuilds every supplier's rating from its orders.
// Receipts and closes refresh ratings inline; this job repairs any drift
// from scratch.
func NewRatingRecomputeJob(params RatingRecomputeJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Orders == nil {
		return nil, fmt.Errorf("order lister required")
	}
	if params.Ratings == nil {
		return nil, fmt.Errorf("rating writer required")
	}
	return &ratingRecomputeJob{
		logg:    params.Logger,
		orders:  params.Orders,
		ratings: params.Ratings,
	}, nil
}

type ratingRecomputeJob struct {
	logg    *logger.Logger
	orders  supplierOrderLister
	ratings ratingWriter
}

func (j *ratingRecomputeJob) Name() string { return "rating-recompute" }

func (j *ratingRecomputeJob) Run(ctx context.Context) error {
	orders, err := j.orders.List(ctx, procurement.ListQuery{})
	if err != nil {
		return fmt.Errorf("listing purchase orders: %w", err)
	}

	bySupplier := make(map[uuid.UUID][]models.PurchaseOrder)
	for _, order := range orders {
		bySupplier[order.SupplierID] = append(bySupplier[order.SupplierID], order)
	}

	var errs []error
	updated := 0
	for supplierID, supplierOrders := range bySupplier {
		rating := procurement.ComputeRating(supplierID, supplierOrders)
		if rating == nil {
			continue
		}
		if err := j.ratings.SaveRating(ctx, rating); err != nil {
			errs = append(errs, fmt.Errorf("supplier %s: %w", supplierID, err))
			continue
		}
		updated++
	}

	logCtx := j.logg.WithField(ctx, "suppliers_updated", updated)
	j.logg.Info(logCtx, "vendor rating recompute complete")
	return multierr.Combine(errs...)
}
