package settlement

import (
	"context"
	"time"

	"datanexus-marketplace/pkg/task"
	"datanexus-marketplace/pkg/taskname"

	"github.com/hibiken/asynq"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const expirySweepInterval = time.Minute

// HandleOrderExpire is the asynq worker entry for an expiry sweep.
func (s *Service) HandleOrderExpire(ctx context.Context, t *asynq.Task) error {
	expired, err := s.ExpirePending(ctx)
	if err != nil {
		zap.L().Error("expiry sweep failed", zap.Error(err))
		return err
	}

	zap.L().Debug("expiry sweep finished", zap.Int("expired", expired))
	return nil
}

type schedulerParams struct {
	fx.In
	Lifecycle fx.Lifecycle
	Enqueuer  task.Enqueuer
}

// runExpiryScheduler enqueues an expiry sweep once a minute for as long as
// the worker runs. The sweep itself is idempotent, so overlapping workers
// enqueueing concurrently is harmless.
func runExpiryScheduler(p schedulerParams) {
	ctx, cancel := context.WithCancel(context.Background())

	p.Lifecycle.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go func() {
				ticker := time.NewTicker(expirySweepInterval)
				defer ticker.Stop()

				for {
					select {
					case <-ctx.Done():
						return
					case <-ticker.C:
						if _, err := p.Enqueuer.Enqueue(ctx,
							asynq.NewTask(taskname.OrderExpireRun, nil),
						); err != nil {
							zap.L().Error("failed to enqueue expiry sweep", zap.Error(err))
						}
					}
				}
			}()
			return nil
		},
		OnStop: func(context.Context) error {
			cancel()
			return nil
		},
	})
}
