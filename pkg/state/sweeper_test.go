package state

import (
	"testing"
	"time"

	"github.com/gematik/erezept-fachdienst/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeBundles struct{}

func (fakeBundles) VerifyBundle(signed []byte) (VerifiedBundle, error) {
	return VerifiedBundle{}, nil
}

type fakeSigner struct{}

func (fakeSigner) SignReceipt(taskId string, dispense types.MedicationDispense) ([]byte, error) {
	return []byte("receipt"), nil
}

func TestSweepDraftTimeout(t *testing.T) {
	clock := time.Date(2021, 1, 1, 0, 0, 0, 0, time.UTC)
	engine := New(fakeBundles{}, fakeSigner{}, nil, WithClock(func() time.Time { return clock }))

	task, err := engine.Create(types.FlowTypePharmaceutical, types.RoleDoctor, types.NewProviderParticipant("doc-1"), "Dr. Muster")
	require.NoError(t, err)

	sweeper := NewSweeper(engine)

	sweeper.Sweep()
	_, err = engine.Get(task.Id)
	assert.NoError(t, err, "task should not be swept before its deadline")

	clock = clock.Add(25 * time.Hour)
	sweeper.Sweep()

	_, err = engine.Get(task.Id)
	assert.Error(t, err, "task should be swept after draftRetention elapses")
}

func TestSweepIdempotent(t *testing.T) {
	clock := time.Date(2021, 1, 1, 0, 0, 0, 0, time.UTC)
	engine := New(fakeBundles{}, fakeSigner{}, nil, WithClock(func() time.Time { return clock }))

	_, err := engine.Create(types.FlowTypePharmaceutical, types.RoleDoctor, types.NewProviderParticipant("doc-1"), "Dr. Muster")
	require.NoError(t, err)

	clock = clock.Add(25 * time.Hour)

	sweeper := NewSweeper(engine)
	sweeper.Sweep()
	afterFirst := engine.CountTasksByStatus()

	sweeper.Sweep()
	afterSecond := engine.CountTasksByStatus()

	assert.Equal(t, afterFirst, afterSecond)
}

func TestSweepPreservesUntimedOutTasks(t *testing.T) {
	clock := time.Date(2021, 1, 1, 0, 0, 0, 0, time.UTC)
	engine := New(fakeBundles{}, fakeSigner{}, nil, WithClock(func() time.Time { return clock }))

	_, err := engine.Create(types.FlowTypePharmaceutical, types.RoleDoctor, types.NewProviderParticipant("doc-1"), "Dr. Muster")
	require.NoError(t, err)

	sweeper := NewSweeper(engine)
	sweeper.Sweep()

	assert.Equal(t, 1, engine.CountTasksByStatus()[string(types.TaskStatusDraft)])
}
