package usecases

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/samirrijal/bilbopass/internal/core/domain"
	"github.com/samirrijal/bilbopass/internal/core/ports"
)

// CompensationService handles the business logic around missed
// connections: replanning the rest of the rider's journey from the stop
// where the connection broke, and issuing/revoking compensation vouchers.
// The Temporal workflow in internal/workflows drives it step by step so
// each step retries independently.
type CompensationService struct {
	planner  ports.JourneyPlanner
	store    ports.CompensationStore
	notifier ports.NotificationService
}

// NewCompensationService creates a CompensationService. Any dependency may
// be nil; the corresponding step degrades to a no-op so a partially wired
// worker (e.g. no push provider configured) still functions.
func NewCompensationService(planner ports.JourneyPlanner, store ports.CompensationStore, notifier ports.NotificationService) *CompensationService {
	return &CompensationService{planner: planner, store: store, notifier: notifier}
}

// ReplanAfterMiss searches for alternative journeys from the stop where
// the connection was missed toward the rider's destination, departing at
// the delayed arrival instant.
func (s *CompensationService) ReplanAfterMiss(ctx context.Context, mc domain.MissedConnection) ([]domain.Journey, error) {
	if s.planner == nil || mc.DestinationStopID == "" {
		return nil, nil
	}
	departAt := mc.Date.Add(time.Duration(mc.DelaySeconds) * time.Second)
	journeys, err := s.planner.PlanJourney(ctx, mc.StopID, mc.DestinationStopID, &departAt, -1)
	if err != nil {
		return nil, fmt.Errorf("replan after missed connection: %w", err)
	}
	return journeys, nil
}

// IssueCompensation creates a voucher for the rider.
func (s *CompensationService) IssueCompensation(ctx context.Context, mc domain.MissedConnection) (*domain.Compensation, error) {
	comp := &domain.Compensation{
		UserID:    mc.UserID,
		TripID:    mc.TripID,
		Code:      generateCode(),
		IssuedAt:  time.Now(),
		ExpiresAt: time.Now().Add(72 * time.Hour),
	}
	if s.store != nil {
		if err := s.store.Create(ctx, comp); err != nil {
			return nil, fmt.Errorf("create compensation: %w", err)
		}
	}
	return comp, nil
}

// RevokeCompensation deletes a voucher (saga rollback when notification
// delivery fails for good).
func (s *CompensationService) RevokeCompensation(ctx context.Context, code string) error {
	if s.store == nil {
		return nil
	}
	if err := s.store.Delete(ctx, code); err != nil {
		return fmt.Errorf("delete compensation %s: %w", code, err)
	}
	return nil
}

// NotifyRider pushes the voucher and the best alternative journey, if any.
func (s *CompensationService) NotifyRider(ctx context.Context, mc domain.MissedConnection, journeys []domain.Journey, code string) error {
	if s.notifier == nil || mc.UserID == "" {
		return nil
	}
	title := "Missed connection — here's what we can do"
	body := fmt.Sprintf("Voucher %s, valid 72 hours.", code)
	if len(journeys) > 0 {
		body = fmt.Sprintf("Next departure %s, arriving %s. Voucher %s, valid 72 hours.",
			journeys[0].DepartureTime.Format("15:04"), journeys[0].ArrivalTime.Format("15:04"), code)
	}
	return s.notifier.SendPush(ctx, mc.UserID, title, body)
}

func generateCode() string {
	return "BP-" + strings.ToUpper(uuid.NewString()[:8])
}
