// Package sla watches active incidents against their service's response
// targets and raises warnings and breach notifications.
package sla

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

// Catalog is the slice of the service catalog the monitor needs.
type Catalog interface {
	GetService(ctx context.Context, id string) (*domain.Service, error)
}

// Directory resolves assignees to users for breach notifications.
type Directory interface {
	GetUser(ctx context.Context, id string) (*domain.User, error)
}

// Notifier delivers breach notifications.
type Notifier interface {
	Send(ctx context.Context, in notifications.SendInput) (*domain.Notification, error)
}

// Config tunes the monitor sweep.
type Config struct {
	SweepInterval        time.Duration
	AckWarningWindow     time.Duration
	ResolveWarningWindow time.Duration
}

// Monitor is the SLA breach sweep worker. Deadlines are measured from
// incident creation; the acknowledgement deadline stops applying once the
// incident is acknowledged, the resolution deadline applies until it closes.
type Monitor struct {
	repo      incidents.Repository
	catalog   Catalog
	markers   MarkerRepository
	directory Directory
	notifier  Notifier
	cfg       Config
	logger    *slog.Logger
	now       func() time.Time

	stopCh chan struct{}
	wg     sync.WaitGroup

	mu         sync.RWMutex
	lastResult []domain.BreachWarning
}

// NewMonitor creates a breach monitor.
func NewMonitor(repo incidents.Repository, catalog Catalog, markers MarkerRepository,
	directory Directory, notifier Notifier, cfg Config, logger *slog.Logger) *Monitor {
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = time.Minute
	}
	if cfg.AckWarningWindow <= 0 {
		cfg.AckWarningWindow = 5 * time.Minute
	}
	if cfg.ResolveWarningWindow <= 0 {
		cfg.ResolveWarningWindow = 15 * time.Minute
	}
	return &Monitor{
		repo:      repo,
		catalog:   catalog,
		markers:   markers,
		directory: directory,
		notifier:  notifier,
		cfg:       cfg,
		logger:    logger,
		now:       time.Now,
		stopCh:    make(chan struct{}),
	}
}

// Start launches the sweep loop.
func (m *Monitor) Start(ctx context.Context) {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()

		ticker := time.NewTicker(m.cfg.SweepInterval)
		defer ticker.Stop()

		m.logger.Info("sla monitor started", "interval", m.cfg.SweepInterval)
		for {
			select {
			case <-m.stopCh:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := m.Check(ctx); err != nil {
					m.logger.Error("sla sweep", "error", err)
				}
			}
		}
	}()
}

// Stop terminates the sweep loop and waits for in-flight work.
func (m *Monitor) Stop() {
	close(m.stopCh)
	m.wg.Wait()
	m.logger.Info("sla monitor stopped")
}

// LastResult returns the warnings produced by the most recent sweep.
func (m *Monitor) LastResult() []domain.BreachWarning {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]domain.BreachWarning, len(m.lastResult))
	copy(out, m.lastResult)
	return out
}

// Check runs one sweep over all active incidents and returns every incident
// currently inside a warning window or past a deadline.
func (m *Monitor) Check(ctx context.Context) ([]domain.BreachWarning, error) {
	start := m.now()
	defer func() { sweepDuration.Observe(m.now().Sub(start).Seconds()) }()

	active, err := m.repo.ListActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("list active incidents: %w", err)
	}

	now := m.now().UTC()
	var warnings []domain.BreachWarning
	for i := range active {
		inc := &active[i]

		svc, err := m.catalog.GetService(ctx, inc.ServiceID)
		if err != nil {
			m.logger.Error("load service", "service_id", inc.ServiceID, "error", err)
			continue
		}

		if deadline, ok := svc.AckDeadline(inc.CreatedAt); ok && inc.AcknowledgedAt == nil {
			w := m.evaluate(ctx, inc, svc, domain.BreachWarning{
				IncidentID:    inc.ID,
				ServiceID:     svc.ID,
				BreachType:    domain.BreachAck,
				TargetMinutes: svc.TargetAckMinutes,
				Deadline:      deadline,
				TimeRemaining: deadline.Sub(now),
			}, m.cfg.AckWarningWindow)
			if w != nil {
				warnings = append(warnings, *w)
			}
		}

		if deadline, ok := svc.ResolveDeadline(inc.CreatedAt); ok {
			w := m.evaluate(ctx, inc, svc, domain.BreachWarning{
				IncidentID:    inc.ID,
				ServiceID:     svc.ID,
				BreachType:    domain.BreachResolve,
				TargetMinutes: svc.TargetResolveMinutes,
				Deadline:      deadline,
				TimeRemaining: deadline.Sub(now),
			}, m.cfg.ResolveWarningWindow)
			if w != nil {
				warnings = append(warnings, *w)
			}
		}
	}

	m.mu.Lock()
	m.lastResult = warnings
	m.mu.Unlock()
	return warnings, nil
}

// evaluate classifies one deadline. It returns nil while the incident is
// still comfortably inside its target.
func (m *Monitor) evaluate(ctx context.Context, inc *domain.Incident, svc *domain.Service,
	w domain.BreachWarning, window time.Duration) *domain.BreachWarning {

	if w.Breached() {
		m.onBreach(ctx, inc, svc, w)
		return &w
	}
	if w.TimeRemaining <= window {
		m.onWarning(ctx, inc, w)
		return &w
	}
	return nil
}

func (m *Monitor) onWarning(ctx context.Context, inc *domain.Incident, w domain.BreachWarning) {
	first, err := m.markers.TryMark(ctx, inc.ID, w.BreachType, MarkWarning)
	if err != nil {
		m.logger.Error("mark sla warning", "incident_id", inc.ID, "error", err)
		return
	}
	if !first {
		return
	}

	warningsTotal.WithLabelValues(string(w.BreachType)).Inc()
	m.appendEvent(ctx, inc.ID, domain.EventKindSLAWarning,
		fmt.Sprintf("%s SLA at risk: %s left of the %d minute target",
			w.BreachType, w.TimeRemaining.Round(time.Second), w.TargetMinutes))
	m.logger.Warn("sla warning",
		"incident_id", inc.ID, "breach_type", w.BreachType, "remaining", w.TimeRemaining)
}

func (m *Monitor) onBreach(ctx context.Context, inc *domain.Incident, svc *domain.Service, w domain.BreachWarning) {
	first, err := m.markers.TryMark(ctx, inc.ID, w.BreachType, MarkBreach)
	if err != nil {
		m.logger.Error("mark sla breach", "incident_id", inc.ID, "error", err)
		return
	}
	if !first {
		return
	}

	breachesTotal.WithLabelValues(string(w.BreachType)).Inc()
	m.appendEvent(ctx, inc.ID, domain.EventKindSLABreach,
		fmt.Sprintf("%s SLA breached: %d minute target missed", w.BreachType, w.TargetMinutes))
	m.logger.Error("sla breached",
		"incident_id", inc.ID, "breach_type", w.BreachType, "target_minutes", w.TargetMinutes)

	if svc.NotifyOnSLABreach {
		m.notifyBreach(ctx, inc, svc, w)
	}
}

// notifyBreach pages the assignee over the service's breach channel. An
// unassigned incident has nobody to page; the audit entry already exists.
func (m *Monitor) notifyBreach(ctx context.Context, inc *domain.Incident, svc *domain.Service, w domain.BreachWarning) {
	if inc.AssigneeID == nil {
		m.logger.Warn("sla breach on unassigned incident, no notification",
			"incident_id", inc.ID, "breach_type", w.BreachType)
		return
	}
	user, err := m.directory.GetUser(ctx, *inc.AssigneeID)
	if err != nil {
		m.logger.Error("resolve assignee", "user_id", *inc.AssigneeID, "error", err)
		return
	}

	_, err = m.notifier.Send(ctx, notifications.SendInput{
		IncidentID: inc.ID,
		UserID:     &user.ID,
		Channel:    svc.BreachChannel,
		Recipient:  recipientFor(user, svc.BreachChannel),
		Subject:    fmt.Sprintf("[SLA BREACH] %s", inc.Title),
		Body: fmt.Sprintf("Incident %s missed its %s target of %d minutes.",
			inc.ID, w.BreachType, w.TargetMinutes),
	})
	if err != nil {
		m.logger.Warn("sla breach notification deferred", "incident_id", inc.ID, "error", err)
	}
}

// recipientFor picks the user address matching the channel. Phone channels
// fall back to email when the user has no phone on file.
func recipientFor(user *domain.User, channel domain.ChannelType) string {
	switch channel {
	case domain.ChannelSMS, domain.ChannelWhatsApp:
		if user.Phone != nil {
			return *user.Phone
		}
	}
	return user.Email
}

func (m *Monitor) appendEvent(ctx context.Context, incidentID, kind, message string) {
	ev := &domain.IncidentEvent{
		ID:         uuid.NewString(),
		IncidentID: incidentID,
		Kind:       kind,
		Message:    message,
		CreatedAt:  m.now().UTC(),
	}
	if err := m.repo.AppendEvent(ctx, ev); err != nil {
		m.logger.Error("append incident event", "incident_id", incidentID, "error", err)
	}
}
