package escalation

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bissquit/oncall-garden/internal/domain"
	"github.com/bissquit/oncall-garden/internal/incidents"
	"github.com/bissquit/oncall-garden/internal/notifications"
)

type fakeStore struct {
	mu        sync.Mutex
	incidents map[string]*domain.Incident
	events    []domain.IncidentEvent
	claimed   map[string]bool
	denyClaim bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{incidents: map[string]*domain.Incident{}, claimed: map[string]bool{}}
}

func (f *fakeStore) Create(_ context.Context, inc *domain.Incident) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *inc
	f.incidents[inc.ID] = &cp
	return nil
}

func (f *fakeStore) Get(_ context.Context, id string) (*domain.Incident, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	inc, ok := f.incidents[id]
	if !ok {
		return nil, incidents.ErrIncidentNotFound
	}
	cp := *inc
	return &cp, nil
}

func (f *fakeStore) List(_ context.Context, _ incidents.ListFilter) ([]domain.Incident, error) {
	return nil, nil
}

func (f *fakeStore) Update(_ context.Context, inc *domain.Incident) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *inc
	f.incidents[inc.ID] = &cp
	return nil
}

func (f *fakeStore) FindOpenByDedupKey(_ context.Context, _, _ string) (*domain.Incident, error) {
	return nil, incidents.ErrIncidentNotFound
}

func (f *fakeStore) FindRecentlyResolved(_ context.Context, _, _ string, _ time.Time) (*domain.Incident, error) {
	return nil, incidents.ErrIncidentNotFound
}

func (f *fakeStore) ListDueEscalations(_ context.Context, now time.Time, limit int) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var due []*domain.Incident
	for _, inc := range f.incidents {
		if inc.EscalationDue(now) {
			due = append(due, inc)
		}
	}
	sort.Slice(due, func(i, j int) bool {
		return due[i].NextEscalationAt.Before(*due[j].NextEscalationAt)
	})
	var ids []string
	for _, inc := range due {
		if len(ids) == limit {
			break
		}
		ids = append(ids, inc.ID)
	}
	return ids, nil
}

func (f *fakeStore) ClaimEscalation(_ context.Context, id string, _, _ time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.denyClaim || f.claimed[id] {
		return false, nil
	}
	f.claimed[id] = true
	return true, nil
}

func (f *fakeStore) ReleaseEscalation(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.claimed, id)
	return nil
}

func (f *fakeStore) AdvanceEscalation(_ context.Context, id string, state domain.EscalationState, step int, nextAt *time.Time, assigneeID *string, now time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	inc, ok := f.incidents[id]
	if !ok || inc.Status != domain.IncidentOpen || inc.EscalationState == domain.EscalationCompleted {
		return false, nil
	}
	inc.EscalationState = state
	inc.EscalationStep = step
	inc.NextEscalationAt = nextAt
	if inc.AssigneeID == nil && assigneeID != nil {
		assignee := *assigneeID
		inc.AssigneeID = &assignee
	}
	inc.UpdatedAt = now
	return true, nil
}

func (f *fakeStore) ListActive(_ context.Context) ([]domain.Incident, error) { return nil, nil }

func (f *fakeStore) BulkAcknowledge(_ context.Context, _ []string, _ time.Time) (int64, error) {
	return 0, nil
}

func (f *fakeStore) UnsnoozeDue(_ context.Context, _ time.Time) ([]string, error) { return nil, nil }

func (f *fakeStore) AppendEvent(_ context.Context, ev *domain.IncidentEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, *ev)
	return nil
}

func (f *fakeStore) ListEvents(_ context.Context, _ string) ([]domain.IncidentEvent, error) {
	return f.events, nil
}

func (f *fakeStore) CreateAlert(_ context.Context, _ *domain.Alert) error { return nil }

func (f *fakeStore) ListAlertsByIncident(_ context.Context, _ string) ([]domain.Alert, error) {
	return nil, nil
}

type fakeCatalog struct {
	services map[string]*domain.Service
	policies map[string]*domain.EscalationPolicy
}

func (f *fakeCatalog) GetService(_ context.Context, id string) (*domain.Service, error) {
	svc, ok := f.services[id]
	if !ok {
		return nil, assert.AnError
	}
	return svc, nil
}

func (f *fakeCatalog) GetPolicy(_ context.Context, id string) (*domain.EscalationPolicy, error) {
	p, ok := f.policies[id]
	if !ok {
		return nil, assert.AnError
	}
	return p, nil
}

type fakeDirectory struct {
	users map[string]*domain.User
	teams map[string][]domain.User
}

func (f *fakeDirectory) GetUser(_ context.Context, id string) (*domain.User, error) {
	u, ok := f.users[id]
	if !ok {
		return nil, assert.AnError
	}
	return u, nil
}

func (f *fakeDirectory) TeamMembers(_ context.Context, teamID string, leadOnly bool) ([]domain.User, error) {
	members := f.teams[teamID]
	if leadOnly && len(members) > 0 {
		return members[:1], nil
	}
	return members, nil
}

type fakeRota struct {
	onCall map[string]string
}

func (f *fakeRota) CurrentOnCall(_ context.Context, scheduleID string, _ time.Time) (string, bool, error) {
	userID, ok := f.onCall[scheduleID]
	return userID, ok, nil
}

type fakeNotifier struct {
	mu             sync.Mutex
	sends          []notifications.SendInput
	redeliverCalls int
}

func (f *fakeNotifier) Send(_ context.Context, in notifications.SendInput) (*domain.Notification, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sends = append(f.sends, in)
	return &domain.Notification{Status: domain.NotificationSent}, nil
}

func (f *fakeNotifier) RedeliverPending(_ context.Context, _ int) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.redeliverCalls++
	return 0, nil
}

func (f *fakeNotifier) recipients() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, in := range f.sends {
		out = append(out, in.Recipient)
	}
	return out
}

type fakeUnsnoozer struct{ calls int }

func (f *fakeUnsnoozer) ProcessAutoUnsnooze(_ context.Context) (int, error) {
	f.calls++
	return 0, nil
}

var schedNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

type schedFixture struct {
	store     *fakeStore
	notifier  *fakeNotifier
	unsnoozer *fakeUnsnoozer
	scheduler *Scheduler
	now       time.Time
}

func newSchedFixture(t *testing.T) *schedFixture {
	t.Helper()

	policyID := "pol-1"
	cat := &fakeCatalog{
		services: map[string]*domain.Service{
			"svc-1": {ID: "svc-1", Name: "Payments", EscalationPolicyID: &policyID},
		},
		policies: map[string]*domain.EscalationPolicy{
			policyID: {ID: policyID, Steps: []domain.EscalationStep{
				{StepOrder: 0, DelayMinutes: 0, TargetType: domain.TargetUser, TargetID: "user-1"},
				{StepOrder: 1, DelayMinutes: 10, TargetType: domain.TargetSchedule, TargetID: "sched-1"},
				{StepOrder: 2, DelayMinutes: 20, TargetType: domain.TargetTeam, TargetID: "team-1"},
			}},
		},
	}
	dir := &fakeDirectory{
		users: map[string]*domain.User{
			"user-1": {ID: "user-1", Email: "alice@example.com"},
			"user-2": {ID: "user-2", Email: "bob@example.com"},
			"user-3": {ID: "user-3", Email: "carol@example.com"},
		},
		teams: map[string][]domain.User{
			"team-1": {
				{ID: "user-2", Email: "bob@example.com"},
				{ID: "user-3", Email: "carol@example.com"},
			},
		},
	}
	rota := &fakeRota{onCall: map[string]string{"sched-1": "user-2"}}

	f := &schedFixture{
		store:     newFakeStore(),
		notifier:  &fakeNotifier{},
		unsnoozer: &fakeUnsnoozer{},
		now:       schedNow,
	}
	f.scheduler = NewScheduler(f.store, cat, dir, rota, f.notifier, f.unsnoozer,
		Config{NumWorkers: 1, BatchSize: 10}, slog.Default())
	f.scheduler.now = func() time.Time { return f.now }
	return f
}

func (f *schedFixture) addIncident(id string, step int, nextAt time.Time) *domain.Incident {
	inc := &domain.Incident{
		ID:               id,
		ServiceID:        "svc-1",
		Title:            "Payments API down",
		Urgency:          domain.UrgencyHigh,
		Status:           domain.IncidentOpen,
		EscalationState:  domain.EscalationPending,
		EscalationStep:   step,
		NextEscalationAt: &nextAt,
		CreatedAt:        nextAt,
		UpdatedAt:        nextAt,
	}
	f.store.incidents[id] = inc
	return inc
}

func TestSweepFiresDueStepAndAdvancesCumulatively(t *testing.T) {
	f := newSchedFixture(t)
	f.addIncident("inc-1", 0, schedNow)

	f.scheduler.Sweep(context.Background())

	assert.Equal(t, []string{"alice@example.com"}, f.notifier.recipients())

	inc := f.store.incidents["inc-1"]
	assert.Equal(t, 1, inc.EscalationStep)
	assert.Equal(t, domain.EscalationInProgress, inc.EscalationState)
	require.NotNil(t, inc.NextEscalationAt)
	// Step 1 fires ten minutes after step 0 was scheduled, regardless of
	// when the sweep actually ran.
	assert.Equal(t, schedNow.Add(10*time.Minute), *inc.NextEscalationAt)
	assert.Equal(t, 1, f.unsnoozer.calls)
}

func TestSweepLateStillKeepsCumulativeTiming(t *testing.T) {
	f := newSchedFixture(t)
	f.addIncident("inc-1", 0, schedNow)

	// The sweep runs two minutes late.
	f.now = schedNow.Add(2 * time.Minute)
	f.scheduler.Sweep(context.Background())

	inc := f.store.incidents["inc-1"]
	require.NotNil(t, inc.NextEscalationAt)
	assert.Equal(t, schedNow.Add(10*time.Minute), *inc.NextEscalationAt)
}

func TestStepZeroAssignsFirstRecipient(t *testing.T) {
	f := newSchedFixture(t)
	f.addIncident("inc-1", 0, schedNow)

	f.scheduler.Sweep(context.Background())

	inc := f.store.incidents["inc-1"]
	require.NotNil(t, inc.AssigneeID)
	assert.Equal(t, "user-1", *inc.AssigneeID)
}

func TestAcknowledgedIncidentNotProcessed(t *testing.T) {
	f := newSchedFixture(t)
	inc := f.addIncident("inc-1", 0, schedNow)
	inc.Status = domain.IncidentAcknowledged

	f.scheduler.Sweep(context.Background())

	assert.Empty(t, f.notifier.sends)
	assert.Equal(t, 0, f.store.incidents["inc-1"].EscalationStep)
}

func TestClaimedIncidentSkipped(t *testing.T) {
	f := newSchedFixture(t)
	f.addIncident("inc-1", 0, schedNow)
	f.store.denyClaim = true

	f.scheduler.Sweep(context.Background())

	assert.Empty(t, f.notifier.sends)
	assert.Equal(t, 0, f.store.incidents["inc-1"].EscalationStep)
}

func TestDueStepFiresAtMostOncePerTimer(t *testing.T) {
	f := newSchedFixture(t)
	f.addIncident("inc-1", 0, schedNow)

	f.scheduler.Sweep(context.Background())
	// The next timer is in the future, so a second sweep finds nothing.
	f.scheduler.Sweep(context.Background())

	assert.Len(t, f.notifier.sends, 1)
	assert.Equal(t, 1, f.store.incidents["inc-1"].EscalationStep)
}

func TestScheduleStepNotifiesOnCallUser(t *testing.T) {
	f := newSchedFixture(t)
	f.addIncident("inc-1", 1, schedNow)

	f.scheduler.Sweep(context.Background())

	assert.Equal(t, []string{"bob@example.com"}, f.notifier.recipients())
}

func TestTeamStepNotifiesAllMembers(t *testing.T) {
	f := newSchedFixture(t)
	f.addIncident("inc-1", 2, schedNow)

	f.scheduler.Sweep(context.Background())

	assert.ElementsMatch(t, []string{"bob@example.com", "carol@example.com"}, f.notifier.recipients())
}

func TestEmptyScheduleTargetSkippedWithAudit(t *testing.T) {
	f := newSchedFixture(t)
	f.addIncident("inc-1", 1, schedNow)
	f.scheduler.rota = &fakeRota{onCall: map[string]string{}}

	f.scheduler.Sweep(context.Background())

	assert.Empty(t, f.notifier.sends)

	inc := f.store.incidents["inc-1"]
	// The chain continues past the dead step.
	assert.Equal(t, 2, inc.EscalationStep)
	require.NotNil(t, inc.NextEscalationAt)
	assert.Equal(t, schedNow.Add(20*time.Minute), *inc.NextEscalationAt)

	require.NotEmpty(t, f.store.events)
	assert.Equal(t, domain.EventKindEscalated, f.store.events[0].Kind)
	assert.Contains(t, f.store.events[0].Message, "skipped")
}

func TestLastStepCompletesChain(t *testing.T) {
	f := newSchedFixture(t)
	f.addIncident("inc-1", 2, schedNow)

	f.scheduler.Sweep(context.Background())

	inc := f.store.incidents["inc-1"]
	assert.Equal(t, domain.EscalationCompleted, inc.EscalationState)
	assert.Nil(t, inc.NextEscalationAt)
}

// ackOnSendNotifier acknowledges the incident while its step notification is
// in flight, like a responder racing the sweep.
type ackOnSendNotifier struct {
	store      *fakeStore
	incidentID string
	sends      int
}

func (n *ackOnSendNotifier) Send(_ context.Context, _ notifications.SendInput) (*domain.Notification, error) {
	n.store.mu.Lock()
	defer n.store.mu.Unlock()
	n.sends++
	n.store.incidents[n.incidentID].ApplyStatus(domain.IncidentAcknowledged, schedNow)
	return &domain.Notification{Status: domain.NotificationSent}, nil
}

func (n *ackOnSendNotifier) RedeliverPending(_ context.Context, _ int) (int, error) {
	return 0, nil
}

func TestAcknowledgeDuringDispatchIsNotOverwritten(t *testing.T) {
	f := newSchedFixture(t)
	f.addIncident("inc-1", 0, schedNow)
	f.scheduler.notifier = &ackOnSendNotifier{store: f.store, incidentID: "inc-1"}

	f.scheduler.Sweep(context.Background())

	inc := f.store.incidents["inc-1"]
	assert.Equal(t, domain.IncidentAcknowledged, inc.Status)
	assert.Equal(t, domain.EscalationCompleted, inc.EscalationState)
	assert.NotNil(t, inc.AcknowledgedAt)
	assert.Nil(t, inc.NextEscalationAt)
	// The chain did not move past the acknowledge.
	assert.Equal(t, 0, inc.EscalationStep)
}

func TestSweepRedeliversDeferredNotifications(t *testing.T) {
	f := newSchedFixture(t)

	f.scheduler.Sweep(context.Background())

	assert.Equal(t, 1, f.notifier.redeliverCalls)
}

func TestMultipleDueIncidentsProcessedOldestFirst(t *testing.T) {
	f := newSchedFixture(t)
	f.addIncident("inc-old", 0, schedNow.Add(-2*time.Minute))
	f.addIncident("inc-new", 0, schedNow.Add(-time.Minute))

	f.scheduler.Sweep(context.Background())

	require.Len(t, f.notifier.sends, 2)
	assert.Equal(t, "inc-old", f.notifier.sends[0].IncidentID)
	assert.Equal(t, "inc-new", f.notifier.sends[1].IncidentID)
}
