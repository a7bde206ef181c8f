package workflows

import (
	"context"
	"fmt"

	"go.temporal.io/sdk/activity"
)

// FeedbackFinalizer is the part of the fare engine the review needs.
type FeedbackFinalizer interface {
	FinalizeReview(ctx context.Context, feedbackID string) (bool, error)
	DisputeFeedback(ctx context.Context, feedbackID string) error
}

// ReviewActivities holds the activity implementations for the review workflow.
type ReviewActivities struct {
	Fares FeedbackFinalizer
}

// FinalizeReview re-scores the feedback and verifies or disputes it.
func (a *ReviewActivities) FinalizeReview(ctx context.Context, feedbackID string) (bool, error) {
	verified, err := a.Fares.FinalizeReview(ctx, feedbackID)
	if err != nil {
		return false, fmt.Errorf("finalize review %s: %w", feedbackID, err)
	}
	activity.GetLogger(ctx).Info("feedback review finalized", "feedbackID", feedbackID, "verified", verified)
	return verified, nil
}

// DisputeFeedback excludes the feedback from fare estimates.
func (a *ReviewActivities) DisputeFeedback(ctx context.Context, feedbackID string) error {
	if err := a.Fares.DisputeFeedback(ctx, feedbackID); err != nil {
		return fmt.Errorf("dispute feedback %s: %w", feedbackID, err)
	}
	return nil
}
