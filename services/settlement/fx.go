package settlement

import (
	"github.com/hibiken/asynq"

	"datanexus-marketplace/pkg/taskname"

	"go.uber.org/fx"
)

var Module = fx.Module("settlement.service",
	fx.Provide(
		NewService,
		func() PaymentProvider { return NewSandboxProvider() },
	),
)

// Worker registers the expiry task handler and its scheduler. Only the
// worker binary loads this.
var Worker = fx.Module("settlement.worker",
	fx.Invoke(registerTaskHandlers, runExpiryScheduler),
)

func registerTaskHandlers(mux *asynq.ServeMux, service *Service) {
	mux.HandleFunc(taskname.OrderExpireRun, service.HandleOrderExpire)
}
