// Package catalog manages the service directory and escalation policies.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/bissquit/oncall-garden/internal/domain"
)

// Service implements catalog operations.
type Service struct {
	repo   Repository
	logger *slog.Logger
}

// NewService creates a catalog service.
func NewService(repo Repository, logger *slog.Logger) *Service {
	return &Service{repo: repo, logger: logger}
}

// CreateServiceInput describes a new monitored service.
type CreateServiceInput struct {
	Name                 string
	Description          *string
	TeamID               *string
	EscalationPolicyID   *string
	TargetAckMinutes     int
	TargetResolveMinutes int
	NotifyOnSLABreach    bool
	BreachChannel        domain.ChannelType
}

func (in CreateServiceInput) validate() error {
	if in.TargetAckMinutes < 0 || in.TargetResolveMinutes < 0 {
		return errors.New("sla targets must not be negative")
	}
	if in.NotifyOnSLABreach {
		if in.TargetAckMinutes == 0 && in.TargetResolveMinutes == 0 {
			return errors.New("breach notifications require at least one sla target")
		}
		if !in.BreachChannel.IsValid() {
			return fmt.Errorf("unknown breach channel %q", in.BreachChannel)
		}
	}
	return nil
}

// CreateService registers a monitored service. The slug is derived from the
// name and must be unique.
func (s *Service) CreateService(ctx context.Context, in CreateServiceInput) (*domain.Service, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}

	slug := Slugify(in.Name)
	if slug == "" {
		return nil, errors.New("service name must contain at least one alphanumeric character")
	}
	if _, err := s.repo.GetServiceBySlug(ctx, slug); err == nil {
		return nil, ErrSlugTaken
	} else if !errors.Is(err, ErrServiceNotFound) {
		return nil, fmt.Errorf("check slug: %w", err)
	}

	now := time.Now().UTC()
	svc := &domain.Service{
		ID:                   uuid.NewString(),
		Name:                 in.Name,
		Slug:                 slug,
		Description:          in.Description,
		TeamID:               in.TeamID,
		EscalationPolicyID:   in.EscalationPolicyID,
		TargetAckMinutes:     in.TargetAckMinutes,
		TargetResolveMinutes: in.TargetResolveMinutes,
		NotifyOnSLABreach:    in.NotifyOnSLABreach,
		BreachChannel:        in.BreachChannel,
		CreatedAt:            now,
		UpdatedAt:            now,
	}
	if svc.BreachChannel == "" {
		svc.BreachChannel = domain.ChannelEmail
	}

	if err := s.repo.CreateService(ctx, svc); err != nil {
		return nil, fmt.Errorf("create service: %w", err)
	}
	s.logger.Info("service created", "service_id", svc.ID, "slug", svc.Slug)
	return svc, nil
}

// GetService returns one service by ID.
func (s *Service) GetService(ctx context.Context, id string) (*domain.Service, error) {
	return s.repo.GetService(ctx, id)
}

// ListServices returns all services.
func (s *Service) ListServices(ctx context.Context) ([]domain.Service, error) {
	return s.repo.ListServices(ctx)
}

// UpdateServiceInput carries partial service updates; nil fields are left
// untouched.
type UpdateServiceInput struct {
	Name                 *string
	Description          *string
	TeamID               *string
	EscalationPolicyID   *string
	TargetAckMinutes     *int
	TargetResolveMinutes *int
	NotifyOnSLABreach    *bool
	BreachChannel        *domain.ChannelType
}

// UpdateService applies a partial update. Renaming does not change the slug:
// integrations address services by ID, operators by the original slug.
func (s *Service) UpdateService(ctx context.Context, id string, in UpdateServiceInput) (*domain.Service, error) {
	svc, err := s.repo.GetService(ctx, id)
	if err != nil {
		return nil, err
	}

	if in.Name != nil {
		svc.Name = *in.Name
	}
	if in.Description != nil {
		svc.Description = in.Description
	}
	if in.TeamID != nil {
		svc.TeamID = in.TeamID
	}
	if in.EscalationPolicyID != nil {
		svc.EscalationPolicyID = in.EscalationPolicyID
	}
	if in.TargetAckMinutes != nil {
		svc.TargetAckMinutes = *in.TargetAckMinutes
	}
	if in.TargetResolveMinutes != nil {
		svc.TargetResolveMinutes = *in.TargetResolveMinutes
	}
	if in.NotifyOnSLABreach != nil {
		svc.NotifyOnSLABreach = *in.NotifyOnSLABreach
	}
	if in.BreachChannel != nil {
		if !in.BreachChannel.IsValid() {
			return nil, fmt.Errorf("unknown breach channel %q", *in.BreachChannel)
		}
		svc.BreachChannel = *in.BreachChannel
	}
	if svc.TargetAckMinutes < 0 || svc.TargetResolveMinutes < 0 {
		return nil, errors.New("sla targets must not be negative")
	}

	svc.UpdatedAt = time.Now().UTC()
	if err := s.repo.UpdateService(ctx, svc); err != nil {
		return nil, fmt.Errorf("update service: %w", err)
	}
	return svc, nil
}

// CreatePolicy creates an empty escalation policy.
func (s *Service) CreatePolicy(ctx context.Context, name string, description *string) (*domain.EscalationPolicy, error) {
	now := time.Now().UTC()
	policy := &domain.EscalationPolicy{
		ID:          uuid.NewString(),
		Name:        name,
		Description: description,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.repo.CreatePolicy(ctx, policy); err != nil {
		return nil, fmt.Errorf("create policy: %w", err)
	}
	return policy, nil
}

// GetPolicy returns a policy with its steps ordered by step order.
func (s *Service) GetPolicy(ctx context.Context, id string) (*domain.EscalationPolicy, error) {
	return s.repo.GetPolicy(ctx, id)
}

// ListPolicies returns all policies with their steps.
func (s *Service) ListPolicies(ctx context.Context) ([]domain.EscalationPolicy, error) {
	return s.repo.ListPolicies(ctx)
}

// AddStepInput describes a step appended to the end of a policy.
type AddStepInput struct {
	DelayMinutes   int
	TargetType     domain.TargetType
	TargetID       string
	NotifyTeamLead bool
}

// AddStep appends a step to a policy.
func (s *Service) AddStep(ctx context.Context, policyID string, in AddStepInput) (*domain.EscalationStep, error) {
	if !in.TargetType.IsValid() {
		return nil, fmt.Errorf("unknown target type %q", in.TargetType)
	}
	if in.TargetID == "" {
		return nil, errors.New("target id is required")
	}
	if in.DelayMinutes < 0 {
		return nil, errors.New("delay must not be negative")
	}

	policy, err := s.repo.GetPolicy(ctx, policyID)
	if err != nil {
		return nil, err
	}

	step := &domain.EscalationStep{
		ID:             uuid.NewString(),
		PolicyID:       policyID,
		StepOrder:      len(policy.Steps),
		DelayMinutes:   in.DelayMinutes,
		TargetType:     in.TargetType,
		TargetID:       in.TargetID,
		NotifyTeamLead: in.NotifyTeamLead,
	}
	if err := s.repo.CreateStep(ctx, step); err != nil {
		return nil, fmt.Errorf("create step: %w", err)
	}
	return step, nil
}

// RemoveStep deletes a step and renumbers the remainder to stay contiguous.
func (s *Service) RemoveStep(ctx context.Context, policyID, stepID string) error {
	policy, err := s.repo.GetPolicy(ctx, policyID)
	if err != nil {
		return err
	}

	remaining := make([]domain.EscalationStep, 0, len(policy.Steps))
	found := false
	for _, step := range policy.Steps {
		if step.ID == stepID {
			found = true
			continue
		}
		step.StepOrder = len(remaining)
		remaining = append(remaining, step)
	}
	if !found {
		return ErrStepNotFound
	}

	if err := s.repo.ReplaceSteps(ctx, policyID, remaining); err != nil {
		return fmt.Errorf("replace steps: %w", err)
	}
	return nil
}

// ReorderSteps rearranges a policy's steps to the given ID order. Delays
// belong to slots, not steps: the step moved into position i inherits the
// delay previously configured at position i, so the policy's timing profile
// is unchanged while the targets rotate through it.
func (s *Service) ReorderSteps(ctx context.Context, policyID string, orderedStepIDs []string) (*domain.EscalationPolicy, error) {
	policy, err := s.repo.GetPolicy(ctx, policyID)
	if err != nil {
		return nil, err
	}
	if len(orderedStepIDs) != len(policy.Steps) {
		return nil, ErrStepMismatch
	}

	byID := make(map[string]domain.EscalationStep, len(policy.Steps))
	slotDelays := make([]int, len(policy.Steps))
	for i, step := range policy.Steps {
		byID[step.ID] = step
		slotDelays[i] = step.DelayMinutes
	}

	reordered := make([]domain.EscalationStep, 0, len(orderedStepIDs))
	for i, id := range orderedStepIDs {
		step, ok := byID[id]
		if !ok {
			return nil, ErrStepMismatch
		}
		delete(byID, id)
		step.StepOrder = i
		step.DelayMinutes = slotDelays[i]
		reordered = append(reordered, step)
	}

	if err := s.repo.ReplaceSteps(ctx, policyID, reordered); err != nil {
		return nil, fmt.Errorf("replace steps: %w", err)
	}

	policy.Steps = reordered
	policy.UpdatedAt = time.Now().UTC()
	s.logger.Info("policy steps reordered", "policy_id", policyID, "steps", len(reordered))
	return policy, nil
}
