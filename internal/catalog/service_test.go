package catalog

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bissquit/oncall-garden/internal/domain"
)

type fakeRepo struct {
	services map[string]domain.Service
	policies map[string]domain.EscalationPolicy
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		services: map[string]domain.Service{},
		policies: map[string]domain.EscalationPolicy{},
	}
}

func (f *fakeRepo) CreateService(_ context.Context, svc *domain.Service) error {
	f.services[svc.ID] = *svc
	return nil
}

func (f *fakeRepo) GetService(_ context.Context, id string) (*domain.Service, error) {
	svc, ok := f.services[id]
	if !ok {
		return nil, ErrServiceNotFound
	}
	return &svc, nil
}

func (f *fakeRepo) GetServiceBySlug(_ context.Context, slug string) (*domain.Service, error) {
	for _, svc := range f.services {
		if svc.Slug == slug {
			return &svc, nil
		}
	}
	return nil, ErrServiceNotFound
}

func (f *fakeRepo) ListServices(_ context.Context) ([]domain.Service, error) {
	var out []domain.Service
	for _, svc := range f.services {
		out = append(out, svc)
	}
	return out, nil
}

func (f *fakeRepo) UpdateService(_ context.Context, svc *domain.Service) error {
	f.services[svc.ID] = *svc
	return nil
}

func (f *fakeRepo) CreatePolicy(_ context.Context, policy *domain.EscalationPolicy) error {
	f.policies[policy.ID] = *policy
	return nil
}

func (f *fakeRepo) GetPolicy(_ context.Context, id string) (*domain.EscalationPolicy, error) {
	p, ok := f.policies[id]
	if !ok {
		return nil, ErrPolicyNotFound
	}
	steps := make([]domain.EscalationStep, len(p.Steps))
	copy(steps, p.Steps)
	p.Steps = steps
	return &p, nil
}

func (f *fakeRepo) ListPolicies(_ context.Context) ([]domain.EscalationPolicy, error) {
	var out []domain.EscalationPolicy
	for _, p := range f.policies {
		out = append(out, p)
	}
	return out, nil
}

func (f *fakeRepo) CreateStep(_ context.Context, step *domain.EscalationStep) error {
	p := f.policies[step.PolicyID]
	p.Steps = append(p.Steps, *step)
	f.policies[step.PolicyID] = p
	return nil
}

func (f *fakeRepo) DeleteStep(_ context.Context, policyID, stepID string) error {
	return nil
}

func (f *fakeRepo) ReplaceSteps(_ context.Context, policyID string, steps []domain.EscalationStep) error {
	p := f.policies[policyID]
	p.Steps = steps
	f.policies[policyID] = p
	return nil
}

func newTestService() (*Service, *fakeRepo) {
	repo := newFakeRepo()
	return NewService(repo, slog.Default()), repo
}

func TestCreateServiceGeneratesSlug(t *testing.T) {
	svc, _ := newTestService()

	created, err := svc.CreateService(context.Background(), CreateServiceInput{Name: "Payments API"})
	require.NoError(t, err)
	assert.Equal(t, "payments-api", created.Slug)
	assert.Equal(t, domain.ChannelEmail, created.BreachChannel)
}

func TestCreateServiceRejectsDuplicateSlug(t *testing.T) {
	svc, _ := newTestService()

	_, err := svc.CreateService(context.Background(), CreateServiceInput{Name: "Payments API"})
	require.NoError(t, err)

	_, err = svc.CreateService(context.Background(), CreateServiceInput{Name: "payments api"})
	assert.ErrorIs(t, err, ErrSlugTaken)
}

func TestCreateServiceBreachNotificationsNeedTargets(t *testing.T) {
	svc, _ := newTestService()

	_, err := svc.CreateService(context.Background(), CreateServiceInput{
		Name:              "API",
		NotifyOnSLABreach: true,
	})
	require.Error(t, err)

	_, err = svc.CreateService(context.Background(), CreateServiceInput{
		Name:              "API",
		NotifyOnSLABreach: true,
		TargetAckMinutes:  15,
		BreachChannel:     domain.ChannelChat,
	})
	assert.NoError(t, err)
}

func seedPolicy(t *testing.T, svc *Service) *domain.EscalationPolicy {
	t.Helper()
	policy, err := svc.CreatePolicy(context.Background(), "standard", nil)
	require.NoError(t, err)

	// Slot delays 0, 10, 20: fires at T+0, T+10, T+30.
	for i, delay := range []int{0, 10, 20} {
		_, err := svc.AddStep(context.Background(), policy.ID, AddStepInput{
			DelayMinutes: delay,
			TargetType:   domain.TargetUser,
			TargetID:     []string{"alice", "bob", "carol"}[i],
		})
		require.NoError(t, err)
	}
	return policy
}

func TestAddStepAppendsInOrder(t *testing.T) {
	svc, _ := newTestService()
	policy := seedPolicy(t, svc)

	got, err := svc.GetPolicy(context.Background(), policy.ID)
	require.NoError(t, err)
	require.Len(t, got.Steps, 3)
	for i, step := range got.Steps {
		assert.Equal(t, i, step.StepOrder)
	}
}

func TestReorderStepsKeepsSlotDelays(t *testing.T) {
	svc, _ := newTestService()
	policy := seedPolicy(t, svc)

	before, err := svc.GetPolicy(context.Background(), policy.ID)
	require.NoError(t, err)

	// Reverse the targets; the timing profile must not move.
	reversed := []string{before.Steps[2].ID, before.Steps[1].ID, before.Steps[0].ID}
	after, err := svc.ReorderSteps(context.Background(), policy.ID, reversed)
	require.NoError(t, err)

	require.Len(t, after.Steps, 3)
	assert.Equal(t, "carol", after.Steps[0].TargetID)
	assert.Equal(t, "alice", after.Steps[2].TargetID)
	for i, wantDelay := range []int{0, 10, 20} {
		assert.Equal(t, wantDelay, after.Steps[i].DelayMinutes, "slot %d delay", i)
		assert.Equal(t, i, after.Steps[i].StepOrder)
	}
}

func TestReorderStepsRejectsBadSet(t *testing.T) {
	svc, _ := newTestService()
	policy := seedPolicy(t, svc)

	before, err := svc.GetPolicy(context.Background(), policy.ID)
	require.NoError(t, err)

	_, err = svc.ReorderSteps(context.Background(), policy.ID, []string{before.Steps[0].ID})
	assert.ErrorIs(t, err, ErrStepMismatch)

	_, err = svc.ReorderSteps(context.Background(), policy.ID,
		[]string{before.Steps[0].ID, before.Steps[1].ID, "unknown"})
	assert.ErrorIs(t, err, ErrStepMismatch)

	_, err = svc.ReorderSteps(context.Background(), policy.ID,
		[]string{before.Steps[0].ID, before.Steps[0].ID, before.Steps[1].ID})
	assert.ErrorIs(t, err, ErrStepMismatch)
}

func TestRemoveStepRenumbers(t *testing.T) {
	svc, _ := newTestService()
	policy := seedPolicy(t, svc)

	before, err := svc.GetPolicy(context.Background(), policy.ID)
	require.NoError(t, err)

	require.NoError(t, svc.RemoveStep(context.Background(), policy.ID, before.Steps[1].ID))

	after, err := svc.GetPolicy(context.Background(), policy.ID)
	require.NoError(t, err)
	require.Len(t, after.Steps, 2)
	assert.Equal(t, 0, after.Steps[0].StepOrder)
	assert.Equal(t, 1, after.Steps[1].StepOrder)
	assert.Equal(t, "carol", after.Steps[1].TargetID)
}

func TestSlugify(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Payments API", "payments-api"},
		{"  padded  name ", "padded-name"},
		{"Café Búsqueda", "cafe-busqueda"},
		{"a--b__c", "a-b-c"},
		{"ALLCAPS", "allcaps"},
		{"!!!", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Slugify(tt.in), "Slugify(%q)", tt.in)
	}
}
