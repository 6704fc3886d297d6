package snapshot

import (
	"testing"
	"time"

	"github.com/gematik/erezept-fachdienst/pkg/state"
	"github.com/gematik/erezept-fachdienst/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeBundles struct{}

func (fakeBundles) VerifyBundle(signed []byte) (state.VerifiedBundle, error) {
	return state.VerifiedBundle{}, nil
}

type fakeSigner struct{}

func (fakeSigner) SignReceipt(taskId string, dispense types.MedicationDispense) ([]byte, error) {
	return []byte("receipt"), nil
}

func TestSaveAndLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()

	engine := state.New(fakeBundles{}, fakeSigner{}, nil)
	task, err := engine.Create(types.FlowTypePharmaceutical, types.RoleDoctor, types.NewProviderParticipant("doc-1"), "Dr. Muster")
	require.NoError(t, err)

	store, err := Open(dir)
	require.NoError(t, err)
	defer store.Close()

	require.NoError(t, store.Save(engine.Export()))

	loaded, err := store.Load()
	require.NoError(t, err)

	rec, ok := loaded.Tasks[task.Id]
	require.True(t, ok)
	require.Len(t, rec.Versions, 1)
	assert.Equal(t, types.TaskStatusDraft, rec.Versions[0].Resource.Status)
}

func TestLoadIntoRestoredEngine(t *testing.T) {
	dir := t.TempDir()

	engine := state.New(fakeBundles{}, fakeSigner{}, nil)
	task, err := engine.Create(types.FlowTypePharmaceutical, types.RoleDoctor, types.NewProviderParticipant("doc-1"), "Dr. Muster")
	require.NoError(t, err)

	store, err := Open(dir)
	require.NoError(t, err)
	defer store.Close()
	require.NoError(t, store.Save(engine.Export()))

	loaded, err := store.Load()
	require.NoError(t, err)

	restored := state.New(fakeBundles{}, fakeSigner{}, nil)
	restored.Restore(loaded)

	got, err := restored.Get(task.Id)
	require.NoError(t, err)
	assert.Equal(t, task.Id, got.Id)
	assert.Equal(t, task.AccessCode, got.AccessCode)
}

func TestSaveOverwritesPreviousContents(t *testing.T) {
	dir := t.TempDir()
	clock := time.Date(2021, 1, 1, 0, 0, 0, 0, time.UTC)
	engine := state.New(fakeBundles{}, fakeSigner{}, nil, state.WithClock(func() time.Time { return clock }))

	first, err := engine.Create(types.FlowTypePharmaceutical, types.RoleDoctor, types.NewProviderParticipant("doc-1"), "Dr. Muster")
	require.NoError(t, err)

	store, err := Open(dir)
	require.NoError(t, err)
	defer store.Close()
	require.NoError(t, store.Save(engine.Export()))

	fresh := state.New(fakeBundles{}, fakeSigner{}, nil)
	second, err := fresh.Create(types.FlowTypePharmaceutical, types.RoleDoctor, types.NewProviderParticipant("doc-2"), "Dr. Andersen")
	require.NoError(t, err)
	require.NoError(t, store.Save(fresh.Export()))

	loaded, err := store.Load()
	require.NoError(t, err)
	_, hasFirst := loaded.Tasks[first.Id]
	_, hasSecond := loaded.Tasks[second.Id]
	assert.False(t, hasFirst)
	assert.True(t, hasSecond)
}
