package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/sweveninteriosolutions-wq/billing-backend/pkg/logger"
)

const reservationSweepBatch = 200

type reservationExpirer interface {
	ExpireReservations(ctx context.Context, now time.Time, limit int) (int, error)
}

type ReservationSweepJobParams struct {
	Logger    *logger.Logger
	Ledger    reservationExpirer
	BatchSize int
}

// NewReservationSweepJob releases holds whose TTL has passed. This is the
// only time-triggered release path; everything else is caller-driven.
func NewReservationSweepJob(params ReservationSweepJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Ledger == nil {
		return nil, fmt.Errorf("ledger required")
	}
	batch := params.BatchSize
	if batch <= 0 {
		batch = reservationSweepBatch
	}
	return &reservationSweepJob{
		logg:   params.Logger,
		ledger: params.Ledger,
		batch:  batch,
		now:    time.Now,
	}, nil
}

type reservationSweepJob struct {
	logg   *logger.Logger
	ledger reservationExpirer
	batch  int
	now    func() time.Time
}

func (j *reservationSweepJob) Name() string { return "reservation-sweep" }

func (j *reservationSweepJob) Run(ctx context.Context) error {
	total := 0
	for {
		expired, err := j.ledger.ExpireReservations(ctx, j.now().UTC(), j.batch)
		total += expired
		if err != nil {
			return fmt.Errorf("reservation sweep: %w", err)
		}
		if expired < j.batch {
			break
		}
	}
	logCtx := j.logg.WithField(ctx, "reservations_released", total)
	j.logg.Info(logCtx, "reservation sweep complete")
	return nil
}
