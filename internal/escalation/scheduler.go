// Package escalation runs the background scheduler that walks incidents
// through their escalation policies.
package escalation

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/bissquit/oncall-garden/internal/domain"
	"github.com/bissquit/oncall-garden/internal/incidents"
	"github.com/bissquit/oncall-garden/internal/notifications"
)

// Catalog is the slice of the service catalog the scheduler needs.
type Catalog interface {
	GetService(ctx context.Context, id string) (*domain.Service, error)
	GetPolicy(ctx context.Context, id string) (*domain.EscalationPolicy, error)
}

// Directory resolves step targets to concrete users.
type Directory interface {
	GetUser(ctx context.Context, id string) (*domain.User, error)
	TeamMembers(ctx context.Context, teamID string, leadOnly bool) ([]domain.User, error)
}

// Rota answers who is on call on a schedule at a point in time.
type Rota interface {
	CurrentOnCall(ctx context.Context, scheduleID string, at time.Time) (string, bool, error)
}

// Notifier delivers step notifications and re-drives deliveries the
// dispatcher deferred under outbound rate limiting.
type Notifier interface {
	Send(ctx context.Context, in notifications.SendInput) (*domain.Notification, error)
	RedeliverPending(ctx context.Context, limit int) (int, error)
}

// Unsnoozer reopens snoozed incidents whose timer elapsed.
type Unsnoozer interface {
	ProcessAutoUnsnooze(ctx context.Context) (int, error)
}

// Config tunes the sweep loop.
type Config struct {
	SweepInterval   time.Duration
	NumWorkers      int
	BatchSize       int
	StaleClaimAfter time.Duration
}

// Scheduler periodically sweeps for due escalations and fires their steps.
// Multiple replicas may run concurrently: the per-incident claim in the
// store guarantees each due step is processed at most once.
type Scheduler struct {
	repo      incidents.Repository
	catalog   Catalog
	directory Directory
	rota      Rota
	notifier  Notifier
	unsnoozer Unsnoozer
	cfg       Config
	logger    *slog.Logger
	now       func() time.Time

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewScheduler creates a scheduler.
func NewScheduler(repo incidents.Repository, catalog Catalog, directory Directory, rota Rota,
	notifier Notifier, unsnoozer Unsnoozer, cfg Config, logger *slog.Logger) *Scheduler {
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = 30 * time.Second
	}
	if cfg.NumWorkers <= 0 {
		cfg.NumWorkers = 4
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.StaleClaimAfter <= 0 {
		cfg.StaleClaimAfter = 5 * time.Minute
	}
	return &Scheduler{
		repo:      repo,
		catalog:   catalog,
		directory: directory,
		rota:      rota,
		notifier:  notifier,
		unsnoozer: unsnoozer,
		cfg:       cfg,
		logger:    logger,
		now:       time.Now,
		stopCh:    make(chan struct{}),
	}
}

// Start launches the sweep loop.
func (s *Scheduler) Start(ctx context.Context) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		ticker := time.NewTicker(s.cfg.SweepInterval)
		defer ticker.Stop()

		s.logger.Info("escalation scheduler started",
			"interval", s.cfg.SweepInterval, "workers", s.cfg.NumWorkers)
		for {
			select {
			case <-s.stopCh:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.Sweep(ctx)
			}
		}
	}()
}

// Stop terminates the sweep loop and waits for in-flight work.
func (s *Scheduler) Stop() {
	close(s.stopCh)
	s.wg.Wait()
	s.logger.Info("escalation scheduler stopped")
}

// Sweep runs one scheduler pass: reopen expired snoozes, then process every
// due escalation through a bounded worker pool.
func (s *Scheduler) Sweep(ctx context.Context) {
	start := s.now()
	defer func() { sweepDuration.Observe(s.now().Sub(start).Seconds()) }()

	if _, err := s.unsnoozer.ProcessAutoUnsnooze(ctx); err != nil {
		s.logger.Error("auto-unsnooze sweep", "error", err)
	}

	// Deliveries deferred under outbound rate limiting stay PENDING until a
	// sweep picks them up again.
	if redelivered, err := s.notifier.RedeliverPending(ctx, s.cfg.BatchSize); err != nil {
		s.logger.Error("redeliver pending notifications", "error", err)
	} else if redelivered > 0 {
		s.logger.Info("redelivered deferred notifications", "count", redelivered)
	}

	ids, err := s.repo.ListDueEscalations(ctx, s.now().UTC(), s.cfg.BatchSize)
	if err != nil {
		s.logger.Error("list due escalations", "error", err)
		return
	}
	if len(ids) == 0 {
		return
	}

	jobs := make(chan string)
	var wg sync.WaitGroup
	for i := 0; i < s.cfg.NumWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for id := range jobs {
				s.process(ctx, id)
			}
		}()
	}
	for _, id := range ids {
		jobs <- id
	}
	close(jobs)
	wg.Wait()
}

// process fires the due step of one incident under a processing claim.
func (s *Scheduler) process(ctx context.Context, id string) {
	now := s.now().UTC()

	claimed, err := s.repo.ClaimEscalation(ctx, id, now, now.Add(-s.cfg.StaleClaimAfter))
	if err != nil {
		s.logger.Error("claim escalation", "incident_id", id, "error", err)
		return
	}
	if !claimed {
		claimConflictsTotal.Inc()
		return
	}
	defer func() {
		if err := s.repo.ReleaseEscalation(ctx, id); err != nil {
			s.logger.Error("release escalation", "incident_id", id, "error", err)
		}
	}()

	// Re-fetch under the claim: the incident may have been acknowledged or
	// resolved between listing and claiming.
	inc, err := s.repo.Get(ctx, id)
	if err != nil {
		s.logger.Error("load incident", "incident_id", id, "error", err)
		return
	}
	if !inc.EscalationDue(now) {
		return
	}

	if err := s.fireStep(ctx, inc, now); err != nil {
		s.logger.Error("fire escalation step",
			"incident_id", inc.ID, "step", inc.EscalationStep, "error", err)
	}
}

func (s *Scheduler) fireStep(ctx context.Context, inc *domain.Incident, now time.Time) error {
	svc, err := s.catalog.GetService(ctx, inc.ServiceID)
	if err != nil {
		return fmt.Errorf("load service: %w", err)
	}
	if svc.EscalationPolicyID == nil {
		return s.complete(ctx, inc, now)
	}
	policy, err := s.catalog.GetPolicy(ctx, *svc.EscalationPolicyID)
	if err != nil {
		return fmt.Errorf("load policy: %w", err)
	}
	if inc.EscalationStep >= len(policy.Steps) {
		return s.complete(ctx, inc, now)
	}

	step := policy.Steps[inc.EscalationStep]
	recipients := s.resolveTargets(ctx, step, now)

	var assignee *string
	if len(recipients) == 0 {
		stepsSkippedTotal.Inc()
		s.appendEvent(ctx, inc.ID, domain.EventKindEscalated,
			fmt.Sprintf("step %d skipped: target %s %s resolved to no recipients",
				step.StepOrder, step.TargetType, step.TargetID))
		s.logger.Warn("escalation step skipped",
			"incident_id", inc.ID, "step", step.StepOrder,
			"target_type", step.TargetType, "target_id", step.TargetID)
	} else {
		s.notify(ctx, inc, step, recipients)
		stepsFiredTotal.Inc()
		s.appendEvent(ctx, inc.ID, domain.EventKindEscalated,
			fmt.Sprintf("step %d fired, %d recipient(s) notified", step.StepOrder, len(recipients)))

		if inc.AssigneeID == nil {
			assignee = &recipients[0].ID
		}
	}

	return s.advance(ctx, inc, policy, assignee, now)
}

// advance moves the incident to the next step. The next timer is counted
// from the previous scheduled time, not from when the sweep happened to run,
// so step N always fires at creation plus the sum of the first N delays.
// The write touches escalation columns only and is conditional on the
// incident still being open: an acknowledge or resolve that landed while
// notifications were going out wins, and the chain stops where it is.
func (s *Scheduler) advance(ctx context.Context, inc *domain.Incident, policy *domain.EscalationPolicy, assignee *string, now time.Time) error {
	base := now
	if inc.NextEscalationAt != nil {
		base = *inc.NextEscalationAt
	}

	nextStep := inc.EscalationStep + 1
	state := domain.EscalationInProgress
	var nextAt *time.Time
	if delay, ok := policy.StepDelay(nextStep); ok {
		next := base.Add(delay)
		nextAt = &next
	} else {
		state = domain.EscalationCompleted
	}

	applied, err := s.repo.AdvanceEscalation(ctx, inc.ID, state, nextStep, nextAt, assignee, now)
	if err != nil {
		return fmt.Errorf("advance escalation: %w", err)
	}
	if !applied {
		s.logger.Info("escalation halted by concurrent status change", "incident_id", inc.ID)
		return nil
	}
	if assignee != nil {
		s.appendEvent(ctx, inc.ID, domain.EventKindAssigned,
			"assigned to user "+*assignee+" by escalation")
	}
	if state == domain.EscalationCompleted {
		s.logger.Info("escalation chain completed", "incident_id", inc.ID)
	}
	return nil
}

func (s *Scheduler) complete(ctx context.Context, inc *domain.Incident, now time.Time) error {
	applied, err := s.repo.AdvanceEscalation(ctx, inc.ID, domain.EscalationCompleted, inc.EscalationStep, nil, nil, now)
	if err != nil {
		return fmt.Errorf("complete escalation: %w", err)
	}
	if applied {
		s.logger.Info("escalation chain completed", "incident_id", inc.ID)
	}
	return nil
}

// resolveTargets expands a step target into users. Resolution failures are
// logged and produce an empty slice; the step is then skipped, never stuck.
func (s *Scheduler) resolveTargets(ctx context.Context, step domain.EscalationStep, now time.Time) []domain.User {
	switch step.TargetType {
	case domain.TargetUser:
		user, err := s.directory.GetUser(ctx, step.TargetID)
		if err != nil {
			s.logger.Warn("resolve user target", "target_id", step.TargetID, "error", err)
			return nil
		}
		return []domain.User{*user}

	case domain.TargetTeam:
		members, err := s.directory.TeamMembers(ctx, step.TargetID, step.NotifyTeamLead)
		if err != nil {
			s.logger.Warn("resolve team target", "target_id", step.TargetID, "error", err)
			return nil
		}
		return members

	case domain.TargetSchedule:
		userID, ok, err := s.rota.CurrentOnCall(ctx, step.TargetID, now)
		if err != nil {
			s.logger.Warn("resolve schedule target", "target_id", step.TargetID, "error", err)
			return nil
		}
		if !ok {
			return nil
		}
		user, err := s.directory.GetUser(ctx, userID)
		if err != nil {
			s.logger.Warn("resolve on-call user", "user_id", userID, "error", err)
			return nil
		}
		return []domain.User{*user}
	}
	return nil
}

// notify sends one notification per recipient. Failures are isolated: the
// dispatcher records the outcome per notification and never aborts the loop.
func (s *Scheduler) notify(ctx context.Context, inc *domain.Incident, step domain.EscalationStep, recipients []domain.User) {
	subject := fmt.Sprintf("[%s] %s", inc.Urgency, inc.Title)
	body := fmt.Sprintf("Incident %s requires acknowledgement (escalation step %d).", inc.ID, step.StepOrder)
	if inc.Description != nil {
		body += "\n\n" + *inc.Description
	}

	for _, user := range recipients {
		userID := user.ID
		_, err := s.notifier.Send(ctx, notifications.SendInput{
			IncidentID: inc.ID,
			UserID:     &userID,
			Channel:    domain.ChannelEmail,
			Recipient:  user.Email,
			Subject:    subject,
			Body:       body,
		})
		if err != nil {
			s.logger.Warn("escalation notification deferred",
				"incident_id", inc.ID, "user_id", user.ID, "error", err)
		}
	}
}

func (s *Scheduler) appendEvent(ctx context.Context, incidentID, kind, message string) {
	ev := &domain.IncidentEvent{
		ID:         uuid.NewString(),
		IncidentID: incidentID,
		Kind:       kind,
		Message:    message,
		CreatedAt:  s.now().UTC(),
	}
	if err := s.repo.AppendEvent(ctx, ev); err != nil {
		s.logger.Error("append incident event", "incident_id", incidentID, "error", err)
	}
}
