package worker

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"MemberSend/internal/dispatch"
)

type Runner interface {
	Run(ctx context.Context, plan *dispatch.Plan)
}

// StartPool runs plans until the channel is closed. Plans still queued at
// shutdown are handed to the runner with the cancelled ctx so their
// campaigns end failed rather than stuck in sending.
func StartPool(
	ctx context.Context,
	wg *sync.WaitGroup,
	workers int,
	plans <-chan *dispatch.Plan,
	runner Runner,
	logger *zap.Logger,
) {

	if workers < 1 {
		workers = 1
	}

	for i := 0; i < workers; i++ {
		wg.Add(1)

		go func(id int) {
			defer wg.Done()

			logger.Info("worker started", zap.Int("worker_id", id))

			for plan := range plans {

				// ----------------------------
				// Run Job
				// ----------------------------
				logger.Info("dispatch job picked up",
					zap.Int("worker_id", id),
					zap.String("tenant_id", plan.Tenant.ID),
					zap.Int64("campaign_id", plan.Campaign.ID),
					zap.String("job_key", plan.JobKey),
				)

				runner.Run(ctx, plan)
			}

			logger.Info("plan channel closed", zap.Int("worker_id", id))
		}(i)
	}
}
