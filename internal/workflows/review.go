package workflows

import (
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"
)

// DisputeSignal lets a moderator or a second report dispute feedback while
// its review window is open.
const DisputeSignal = "dispute-feedback"

// DefaultReviewWindow is how long flagged feedback waits for disputes.
const DefaultReviewWindow = 24 * time.Hour

// ReviewInput is the input for the fare feedback review workflow.
type ReviewInput struct {
	FeedbackID string
	Window     time.Duration
}

// ReviewResult reports how a review ended.
type ReviewResult struct {
	Verified bool
	Disputed bool
	Reason   string
}

// FeedbackReviewWorkflow holds flagged fare feedback for a review window.
// A dispute signal inside the window excludes the feedback for good;
// otherwise the feedback is re-scored and either verified or disputed.
func FeedbackReviewWorkflow(ctx workflow.Context, input ReviewInput) (ReviewResult, error) {
	logger := workflow.GetLogger(ctx)
	logger.Info("Starting fare feedback review", "feedbackID", input.FeedbackID)

	actOpts := workflow.ActivityOptions{
		StartToCloseTimeout: 30 * time.Second,
		RetryPolicy: &temporal.RetryPolicy{
			MaximumAttempts: 3,
		},
	}
	ctx = workflow.WithActivityOptions(ctx, actOpts)

	window := input.Window
	if window <= 0 {
		window = DefaultReviewWindow
	}

	var (
		result   ReviewResult
		disputed bool
	)
	timerCtx, cancelTimer := workflow.WithCancel(ctx)
	timer := workflow.NewTimer(timerCtx, window)
	disputes := workflow.GetSignalChannel(ctx, DisputeSignal)

	sel := workflow.NewSelector(ctx)
	sel.AddFuture(timer, func(workflow.Future) {})
	sel.AddReceive(disputes, func(c workflow.ReceiveChannel, _ bool) {
		c.Receive(ctx, &result.Reason)
		disputed = true
		cancelTimer()
	})
	sel.Select(ctx)

	if disputed {
		if err := workflow.ExecuteActivity(ctx, "DisputeFeedback", input.FeedbackID).Get(ctx, nil); err != nil {
			return result, err
		}
		result.Disputed = true
		logger.Info("Feedback disputed during review", "feedbackID", input.FeedbackID, "reason", result.Reason)
		return result, nil
	}

	var verified bool
	if err := workflow.ExecuteActivity(ctx, "FinalizeReview", input.FeedbackID).Get(ctx, &verified); err != nil {
		return result, err
	}
	result.Verified = verified
	result.Disputed = !verified

	logger.Info("Fare feedback review finished", "feedbackID", input.FeedbackID, "verified", verified)
	return result, nil
}
