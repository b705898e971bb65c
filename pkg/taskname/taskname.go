package taskname

const (
	// Submission tasks
	SubmissionScore = "submission:score"

	// Order tasks
	OrderExpireRun = "order:expire:run"
)
