package worker

import (
	"context"
	"time"

	"github.com/potatman/EventHorizon-sub000/pkg/log"
)

func PeriodicJob(job ErrorJob, every time.Duration, logger log.Logger) ErrorJob {
	return func(ctx context.Context) error {
		ticker := time.NewTicker(every)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				if err := job(ctx); err != nil {
					logger.WithError(err).Error(ctx, "periodic job completed with error")
				}
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}
