package oncall

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bissquit/oncall-garden/internal/domain"
)

var rotationStart = time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC) // Monday 09:00

func weeklyLayer(users ...string) domain.RotationLayer {
	return domain.RotationLayer{
		ID:                  "layer-1",
		RotationStart:       rotationStart,
		RotationLengthHours: 24 * 7,
		UserIDs:             users,
	}
}

func TestLayerBlocksRotation(t *testing.T) {
	layer := weeklyLayer("alice", "bob")

	// Three weeks: alice, bob, alice.
	blocks := LayerBlocks(layer, rotationStart, rotationStart.Add(3*7*24*time.Hour))
	require.Len(t, blocks, 3)
	assert.Equal(t, "alice", blocks[0].UserID)
	assert.Equal(t, "bob", blocks[1].UserID)
	assert.Equal(t, "alice", blocks[2].UserID)
	assert.Equal(t, rotationStart.Add(7*24*time.Hour), blocks[0].End)
}

func TestLayerBlocksMidShiftWindow(t *testing.T) {
	layer := weeklyLayer("alice", "bob")

	// A window starting in week two must land on bob, clipped to the window.
	from := rotationStart.Add(8 * 24 * time.Hour)
	blocks := LayerBlocks(layer, from, from.Add(time.Hour))
	require.Len(t, blocks, 1)
	assert.Equal(t, "bob", blocks[0].UserID)
	assert.Equal(t, from, blocks[0].Start)
}

func TestLayerBlocksRespectsLayerBounds(t *testing.T) {
	end := rotationStart.Add(7 * 24 * time.Hour)
	layer := weeklyLayer("alice", "bob")
	layer.EndsAt = &end

	blocks := LayerBlocks(layer, rotationStart.Add(-24*time.Hour), rotationStart.Add(30*24*time.Hour))
	require.Len(t, blocks, 1)
	assert.Equal(t, "alice", blocks[0].UserID)
	assert.Equal(t, rotationStart, blocks[0].Start)
	assert.Equal(t, end, blocks[0].End)
}

func TestLayerBlocksEmptyLayer(t *testing.T) {
	assert.Nil(t, LayerBlocks(domain.RotationLayer{RotationLengthHours: 24}, rotationStart, rotationStart.Add(time.Hour)))
}

func TestScheduleBlocksLaterLayerShadows(t *testing.T) {
	base := weeklyLayer("alice")
	daytime := domain.RotationLayer{
		ID:                  "layer-2",
		RotationStart:       rotationStart,
		RotationLengthHours: 24 * 7,
		UserIDs:             []string{"bob"},
	}
	dayEnd := rotationStart.Add(8 * time.Hour)
	daytime.EndsAt = &dayEnd

	schedule := domain.Schedule{Layers: []domain.RotationLayer{base, daytime}}
	blocks := ScheduleBlocks(schedule, rotationStart, rotationStart.Add(24*time.Hour))

	require.Len(t, blocks, 2)
	assert.Equal(t, "bob", blocks[0].UserID)
	assert.Equal(t, dayEnd, blocks[0].End)
	assert.Equal(t, "alice", blocks[1].UserID)
	assert.Equal(t, dayEnd, blocks[1].Start)
}

func TestApplyOverridesUntargeted(t *testing.T) {
	schedule := domain.Schedule{
		Layers: []domain.RotationLayer{weeklyLayer("alice")},
		Overrides: []domain.ScheduleOverride{{
			UserID:   "carol",
			StartsAt: rotationStart.Add(2 * time.Hour),
			EndsAt:   rotationStart.Add(4 * time.Hour),
		}},
	}

	blocks := ScheduleBlocks(schedule, rotationStart, rotationStart.Add(6*time.Hour))
	require.Len(t, blocks, 3)
	assert.Equal(t, "alice", blocks[0].UserID)
	assert.Equal(t, "carol", blocks[1].UserID)
	assert.Equal(t, rotationStart.Add(2*time.Hour), blocks[1].Start)
	assert.Equal(t, rotationStart.Add(4*time.Hour), blocks[1].End)
	assert.Equal(t, "alice", blocks[2].UserID)
}

func TestApplyOverridesTargeted(t *testing.T) {
	alice := "alice"
	schedule := domain.Schedule{
		Layers: []domain.RotationLayer{{
			RotationStart:       rotationStart,
			RotationLengthHours: 24,
			UserIDs:             []string{"alice", "bob"},
		}},
		Overrides: []domain.ScheduleOverride{{
			UserID:         "carol",
			ReplacesUserID: &alice,
			StartsAt:       rotationStart,
			EndsAt:         rotationStart.Add(48 * time.Hour),
		}},
	}

	blocks := ScheduleBlocks(schedule, rotationStart, rotationStart.Add(48*time.Hour))
	require.Len(t, blocks, 2)
	// Only alice's day is replaced; bob keeps his shift.
	assert.Equal(t, "carol", blocks[0].UserID)
	assert.Equal(t, "bob", blocks[1].UserID)
}

type fakeScheduleRepo struct {
	schedules map[string]domain.Schedule
}

func (f *fakeScheduleRepo) GetSchedule(_ context.Context, id string) (*domain.Schedule, error) {
	s, ok := f.schedules[id]
	if !ok {
		return nil, ErrScheduleNotFound
	}
	return &s, nil
}

func (f *fakeScheduleRepo) ListSchedules(_ context.Context) ([]domain.Schedule, error) {
	var out []domain.Schedule
	for _, s := range f.schedules {
		out = append(out, s)
	}
	return out, nil
}

func TestCurrentOnCall(t *testing.T) {
	repo := &fakeScheduleRepo{schedules: map[string]domain.Schedule{
		"sched-1": {
			ID:     "sched-1",
			Layers: []domain.RotationLayer{weeklyLayer("alice", "bob")},
		},
	}}
	svc := NewService(repo)

	user, ok, err := svc.CurrentOnCall(context.Background(), "sched-1", rotationStart.Add(time.Hour))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "alice", user)

	user, ok, err = svc.CurrentOnCall(context.Background(), "sched-1", rotationStart.Add(8*24*time.Hour))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "bob", user)

	// Before the rotation starts nobody is on call.
	_, ok, err = svc.CurrentOnCall(context.Background(), "sched-1", rotationStart.Add(-time.Hour))
	require.NoError(t, err)
	assert.False(t, ok)
}
