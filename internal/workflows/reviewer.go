package workflows

import (
	"context"
	"fmt"
	"time"

	"go.temporal.io/sdk/client"
)

// WorkflowStarter is the part of the Temporal client the reviewer needs.
type WorkflowStarter interface {
	ExecuteWorkflow(ctx context.Context, options client.StartWorkflowOptions, workflow interface{}, args ...interface{}) (client.WorkflowRun, error)
}

// Reviewer implements ports.FeedbackReviewer by starting one review
// workflow per feedback. The workflow ID is derived from the feedback ID so
// a second start for the same feedback is rejected by Temporal.
type Reviewer struct {
	client    WorkflowStarter
	taskQueue string
	window    time.Duration
}

// NewReviewer creates a Reviewer.
func NewReviewer(c WorkflowStarter, taskQueue string, window time.Duration) *Reviewer {
	return &Reviewer{client: c, taskQueue: taskQueue, window: window}
}

// ReviewWorkflowID is the workflow ID used for a feedback's review.
func ReviewWorkflowID(feedbackID string) string { return "fare-feedback-review-" + feedbackID }

// StartReview schedules the review workflow.
func (r *Reviewer) StartReview(ctx context.Context, feedbackID string) error {
	_, err := r.client.ExecuteWorkflow(ctx, client.StartWorkflowOptions{
		ID:        ReviewWorkflowID(feedbackID),
		TaskQueue: r.taskQueue,
	}, FeedbackReviewWorkflow, ReviewInput{FeedbackID: feedbackID, Window: r.window})
	if err != nil {
		return fmt.Errorf("start review for %s: %w", feedbackID, err)
	}
	return nil
}
