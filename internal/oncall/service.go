package oncall

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bissquit/oncall-garden/internal/domain"
)

// ErrScheduleNotFound is returned for unknown schedule IDs.
var ErrScheduleNotFound = errors.New("schedule not found")

// Repository is the persistence boundary for schedules.
type Repository interface {
	GetSchedule(ctx context.Context, id string) (*domain.Schedule, error)
	ListSchedules(ctx context.Context) ([]domain.Schedule, error)
}

// Service answers on-call questions against stored schedules.
type Service struct {
	repo Repository
}

// NewService creates an on-call service.
func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// GetSchedule returns one schedule with layers and overrides.
func (s *Service) GetSchedule(ctx context.Context, id string) (*domain.Schedule, error) {
	return s.repo.GetSchedule(ctx, id)
}

// ListSchedules returns all schedules.
func (s *Service) ListSchedules(ctx context.Context) ([]domain.Schedule, error) {
	return s.repo.ListSchedules(ctx)
}

// CurrentOnCall returns the user on call for the schedule at the given
// instant, or ok=false when no layer covers it.
func (s *Service) CurrentOnCall(ctx context.Context, scheduleID string, at time.Time) (string, bool, error) {
	schedule, err := s.repo.GetSchedule(ctx, scheduleID)
	if err != nil {
		return "", false, fmt.Errorf("get schedule: %w", err)
	}

	// A one-second window is enough: block expansion aligns to shift
	// boundaries regardless of window size.
	blocks := ScheduleBlocks(*schedule, at, at.Add(time.Second))
	for _, b := range blocks {
		if b.Covers(at) {
			return b.UserID, true, nil
		}
	}
	return "", false, nil
}

// BlocksInWindow returns the resolved blocks for a schedule within a window,
// for timeline rendering in clients.
func (s *Service) BlocksInWindow(ctx context.Context, scheduleID string, from, to time.Time) ([]Block, error) {
	schedule, err := s.repo.GetSchedule(ctx, scheduleID)
	if err != nil {
		return nil, fmt.Errorf("get schedule: %w", err)
	}
	return ScheduleBlocks(*schedule, from, to), nil
}
