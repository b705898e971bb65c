package submission

import (
	"github.com/hibiken/asynq"

	"datanexus-marketplace/pkg/taskname"

	"go.uber.org/fx"
)

var Module = fx.Module("submission.service",
	fx.Provide(
		NewService,
		func() Scorer { return NewStaticScorer() },
	),
)

// Worker registers the grading task handler. Only the worker binary loads
// this.
var Worker = fx.Module("submission.worker",
	fx.Invoke(registerTaskHandlers),
)

func registerTaskHandlers(mux *asynq.ServeMux, service *Service) {
	mux.HandleFunc(taskname.SubmissionScore, service.HandleScoreTask)
}
