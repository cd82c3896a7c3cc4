// Package ports declares the interfaces the usecases and workflow layers
// consume, so those layers never depend on a concrete adapter.
package ports

import (
	"context"
	"time"

	"github.com/samirrijal/bilbopass/internal/core/domain"
)

// JourneyPlanner plans Pareto-optimal journeys over the loaded transit
// snapshot. Implemented by usecases.JourneyService.
type JourneyPlanner interface {
	PlanJourney(ctx context.Context, fromStopID, toStopID string, departAt *time.Time, maxTransfers int) ([]domain.Journey, error)
}

// CacheService provides read-through caching.
type CacheService interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttlSeconds int) error
	Delete(ctx context.Context, key string) error
}

// NotificationService sends notifications (push, email, etc.).
type NotificationService interface {
	SendPush(ctx context.Context, userID, title, body string) error
}

// CompensationStore persists issued compensation vouchers.
type CompensationStore interface {
	Create(ctx context.Context, comp *domain.Compensation) error
	Delete(ctx context.Context, code string) error
	Redeem(ctx context.Context, code string) error
}
