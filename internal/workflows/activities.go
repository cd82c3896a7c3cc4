package workflows

import (
	"context"

	"github.com/samirrijal/bilbopass/internal/core/domain"
	"github.com/samirrijal/bilbopass/internal/core/usecases"
)

// CompensationActivities holds the activity implementations for the
// missed-connection workflow. Each activity is a thin wrapper over
// CompensationService so the workflow's retry policy applies per step.
type CompensationActivities struct {
	CompensationService *usecases.CompensationService
}

// ReplanJourney finds alternative journeys from the missed stop.
func (a *CompensationActivities) ReplanJourney(ctx context.Context, mc domain.MissedConnection) ([]domain.Journey, error) {
	return a.CompensationService.ReplanAfterMiss(ctx, mc)
}

// IssueCompensation creates a voucher for the rider.
func (a *CompensationActivities) IssueCompensation(ctx context.Context, mc domain.MissedConnection) (domain.Compensation, error) {
	comp, err := a.CompensationService.IssueCompensation(ctx, mc)
	if err != nil {
		return domain.Compensation{}, err
	}
	return *comp, nil
}

// NotifyRider pushes the voucher and best alternative to the rider.
func (a *CompensationActivities) NotifyRider(ctx context.Context, mc domain.MissedConnection, alternatives []domain.Journey, code string) error {
	return a.CompensationService.NotifyRider(ctx, mc, alternatives, code)
}

// RevokeCompensation removes a voucher (saga compensation / rollback).
func (a *CompensationActivities) RevokeCompensation(ctx context.Context, code string) error {
	return a.CompensationService.RevokeCompensation(ctx, code)
}
