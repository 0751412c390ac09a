package cron

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/multierr"

	"github.com/bunshop/bunshop-backend/pkg/logger"
)

// Orders that sat pending this long without a checkout session point at a
// broken payment handoff worth paging on.
const stalledSessionAge = 5 * time.Minute

type lifecycleExpirer interface {
	ExpireDue(ctx context.Context, now time.Time) (int64, error)
}

type stalledSessionCounter interface {
	CountPendingWithoutSession(ctx context.Context, createdBefore time.Time) (int64, error)
}

// OrderTTLJobParams configure the pending-order sweep.
type OrderTTLJobParams struct {
	Logger    *logger.Logger
	Lifecycle lifecycleExpirer
	Orders    stalledSessionCounter
}

// NewOrderTTLJob builds the cron job that settles lapsed holds and surfaces
// orders stuck without a payment session.
func NewOrderTTLJob(params OrderTTLJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Lifecycle == nil {
		return nil, fmt.Errorf("order lifecycle required")
	}
	if params.Orders == nil {
		return nil, fmt.Errorf("orders repository required")
	}
	return &orderTTLJob{
		logg:      params.Logger,
		lifecycle: params.Lifecycle,
		orders:    params.Orders,
		now:       time.Now,
	}, nil
}

type orderTTLJob struct {
	logg      *logger.Logger
	lifecycle lifecycleExpirer
	orders    stalledSessionCounter
	now       func() time.Time
}

func (j *orderTTLJob) Name() string { return "order-ttl" }

func (j *orderTTLJob) Run(ctx context.Context) error {
	var errs []error
	if err := j.expirePendingOrders(ctx); err != nil {
		errs = append(errs, err)
	}
	if err := j.reportStalledSessions(ctx); err != nil {
		errs = append(errs, err)
	}
	return multierr.Combine(errs...)
}

// expirePendingOrders settles rows whose hold lapsed. Capacity reads already
// exclude them; this is bookkeeping, not correctness.
func (j *orderTTLJob) expirePendingOrders(ctx context.Context) error {
	count, err := j.lifecycle.ExpireDue(ctx, j.now().UTC())
	if err != nil {
		return fmt.Errorf("expire pending orders: %w", err)
	}
	logCtx := j.logg.WithFields(ctx, map[string]any{"count": count})
	j.logg.Info(logCtx, "order expiration loop complete")
	return nil
}

func (j *orderTTLJob) reportStalledSessions(ctx context.Context) error {
	cutoff := j.now().UTC().Add(-stalledSessionAge)
	count, err := j.orders.CountPendingWithoutSession(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("count stalled sessions: %w", err)
	}
	if count > 0 {
		logCtx := j.logg.WithFields(ctx, map[string]any{"count": count})
		j.logg.Warn(logCtx, "pending orders without a checkout session")
	}
	return nil
}
