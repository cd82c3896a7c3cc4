// Package workflows holds the Temporal workflow that reacts to a missed
// connection: replan the rest of the journey with the routing engine,
// issue a compensation voucher, and notify the rider, rolling the voucher
// back if the notification can never be delivered.
package workflows

import (
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/samirrijal/bilbopass/internal/core/domain"
)

// MissedConnectionWorkflow orchestrates replanning, voucher issuance, and
// rider notification. If the notification fails after retries, the voucher
// is revoked (saga compensation).
func MissedConnectionWorkflow(ctx workflow.Context, input domain.MissedConnection) error {
	logger := workflow.GetLogger(ctx)
	logger.Info("Starting missed-connection workflow", "tripID", input.TripID, "stopID", input.StopID, "delaySeconds", input.DelaySeconds)

	actOpts := workflow.ActivityOptions{
		StartToCloseTimeout: 30 * time.Second,
		RetryPolicy: &temporal.RetryPolicy{
			MaximumAttempts: 3,
		},
	}
	ctx = workflow.WithActivityOptions(ctx, actOpts)

	// Step 1: replan the remainder of the journey from the missed stop.
	var alternatives []domain.Journey
	if err := workflow.ExecuteActivity(ctx, "ReplanJourney", input).Get(ctx, &alternatives); err != nil {
		// No alternative is not fatal: the voucher still goes out.
		logger.Warn("replan failed, continuing without alternatives", "error", err)
	}

	// Step 2: issue the voucher.
	var comp domain.Compensation
	if err := workflow.ExecuteActivity(ctx, "IssueCompensation", input).Get(ctx, &comp); err != nil {
		return err
	}

	// Step 3: notify the rider.
	if err := workflow.ExecuteActivity(ctx, "NotifyRider", input, alternatives, comp.Code).Get(ctx, nil); err != nil {
		logger.Warn("notification failed, revoking voucher", "error", err)
		_ = workflow.ExecuteActivity(ctx, "RevokeCompensation", comp.Code).Get(ctx, nil)
		return err
	}

	logger.Info("Missed-connection handling complete", "code", comp.Code, "alternatives", len(alternatives))
	return nil
}
