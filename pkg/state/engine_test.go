package state

import (
	"testing"
	"time"

	"github.com/gematik/erezept-fachdienst/internal/apperr"
	"github.com/gematik/erezept-fachdienst/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type scriptedBundles struct {
	fn func([]byte) (VerifiedBundle, error)
}

func (s scriptedBundles) VerifyBundle(signed []byte) (VerifiedBundle, error) {
	return s.fn(signed)
}

const testPatient = types.Kvnr("X234567890")
const testPharmacy = types.TelematikId("3-SMC-B-Apotheke-1")
const testDoctor = types.TelematikId("1-HBA-Arzt-1")

// signedBundleFor builds a fake "signed bundle" whose bytes are just the
// prescription id it claims to carry — newTestEngine's verifier echoes that
// id back, so callers don't need to rewire the verifier per task.
func signedBundleFor(taskId string) []byte {
	return []byte(taskId)
}

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	verifier := scriptedBundles{fn: func(signed []byte) (VerifiedBundle, error) {
		return VerifiedBundle{
			Kvnr:           testPatient,
			FlowType:       types.FlowTypePharmaceutical,
			PrescriptionId: string(signed),
			ExpiryDate:     time.Date(2021, 6, 22, 0, 0, 0, 0, time.UTC),
			AcceptDate:     time.Date(2021, 6, 1, 0, 0, 0, 0, time.UTC),
			PatientReceipt: []byte("receipt-bundle"),
			SigningTime:    time.Date(2021, 5, 1, 0, 0, 0, 0, time.UTC),
		}, nil
	}}
	return New(verifier, fakeSigner{}, nil, WithRepresentativeMax(3),
		WithClock(func() time.Time { return time.Date(2021, 6, 1, 12, 0, 0, 0, time.UTC) }))
}

func createReadyTask(t *testing.T, engine *Engine) types.Task {
	t.Helper()
	doctor := types.NewProviderParticipant(testDoctor)
	draft, err := engine.Create(types.FlowTypePharmaceutical, types.RoleDoctor, doctor, "Dr. Muster")
	require.NoError(t, err)

	ready, err := engine.Activate(draft.Id, draft.AccessCode, signedBundleFor(draft.Id), types.RoleDoctor, doctor, "Dr. Muster")
	require.NoError(t, err)
	return ready
}

func TestHappyPath(t *testing.T) {
	// S1: create -> activate -> accept -> close.
	engine := newTestEngine(t)
	doctor := types.NewProviderParticipant(testDoctor)

	draft, err := engine.Create(types.FlowTypePharmaceutical, types.RoleDoctor, doctor, "Dr. Muster")
	require.NoError(t, err)
	assert.Equal(t, types.TaskStatusDraft, draft.Status)
	assert.NotEmpty(t, draft.AccessCode)

	ready, err := engine.Activate(draft.Id, draft.AccessCode, signedBundleFor(draft.Id), types.RoleDoctor, doctor, "Dr. Muster")
	require.NoError(t, err)
	assert.Equal(t, types.TaskStatusReady, ready.Status)
	assert.Equal(t, testPatient, ready.For)

	inProgress, secret, bundle, err := engine.Accept(ready.Id, ready.AccessCode, types.RolePublicPharmacy, testPharmacy, "Apotheke am Markt")
	require.NoError(t, err)
	assert.Equal(t, types.TaskStatusInProgress, inProgress.Status)
	assert.NotEmpty(t, secret)
	assert.Equal(t, signedBundleFor(draft.Id), bundle)

	completed, err := engine.Close(inProgress.Id, secret, types.MedicationDispense{Medication: "Ibuprofen 400mg"}, types.RolePublicPharmacy, testPharmacy, "Apotheke am Markt")
	require.NoError(t, err)
	assert.Equal(t, types.TaskStatusCompleted, completed.Status)
	assert.Empty(t, completed.Secret)

	audit := engine.ListAuditEvents(testPatient)
	require.Len(t, audit, 4)
	assert.Equal(t, types.AuditSubTypeCreate, audit[0].SubType)
	assert.Equal(t, types.AuditSubTypeActivate, audit[1].SubType)
	assert.Equal(t, types.AuditSubTypeAccept, audit[2].SubType)
	assert.Equal(t, types.AuditSubTypeClose, audit[3].SubType)

	dispenses := engine.ListDispenses(testPatient)
	require.Len(t, dispenses, 1)
	assert.Equal(t, "Ibuprofen 400mg", dispenses[0].Medication)
}

func TestReject(t *testing.T) {
	// S2: a rejected task returns to Ready and can be re-accepted.
	engine := newTestEngine(t)
	ready := createReadyTask(t, engine)
	engine.bundles = nil // no further activation expected

	inProgress, secret, _, err := engine.Accept(ready.Id, ready.AccessCode, types.RolePublicPharmacy, testPharmacy, "Apotheke 1")
	require.NoError(t, err)

	backToReady, err := engine.Reject(inProgress.Id, secret, types.RolePublicPharmacy, testPharmacy, "Apotheke 1")
	require.NoError(t, err)
	assert.Equal(t, types.TaskStatusReady, backToReady.Status)
	assert.Empty(t, backToReady.Secret)
	assert.Empty(t, backToReady.Performer)

	otherPharmacy := types.TelematikId("3-SMC-B-Apotheke-2")
	reAccepted, secret2, _, err := engine.Accept(backToReady.Id, backToReady.AccessCode, types.RolePublicPharmacy, otherPharmacy, "Apotheke 2")
	require.NoError(t, err)
	assert.Equal(t, otherPharmacy, reAccepted.Performer)

	_, err = engine.Close(reAccepted.Id, secret2, types.MedicationDispense{}, types.RolePublicPharmacy, otherPharmacy, "Apotheke 2")
	require.NoError(t, err)
}

func TestAbortByPatient(t *testing.T) {
	// S3: after accept, the patient aborts; further accept attempts fail.
	engine := newTestEngine(t)
	ready := createReadyTask(t, engine)

	_, _, _, err := engine.Accept(ready.Id, ready.AccessCode, types.RolePublicPharmacy, testPharmacy, "Apotheke 1")
	require.NoError(t, err)

	err = engine.Abort(ready.Id, types.RolePatient, types.NewPatientParticipant(testPatient), "Patient", "", "")
	require.NoError(t, err)

	task, err := engine.Get(ready.Id)
	require.NoError(t, err)
	assert.Equal(t, types.TaskStatusCancelled, task.Status)

	_, _, _, err = engine.Accept(ready.Id, ready.AccessCode, types.RolePublicPharmacy, testPharmacy, "Apotheke 1")
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindWrongState))
}

func TestAccessCodeMismatch(t *testing.T) {
	engine := newTestEngine(t)
	doctor := types.NewProviderParticipant(testDoctor)
	draft, err := engine.Create(types.FlowTypePharmaceutical, types.RoleDoctor, doctor, "Dr. Muster")
	require.NoError(t, err)

	_, err = engine.Activate(draft.Id, "wrong-code", nil, types.RoleDoctor, doctor, "Dr. Muster")
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindBadAccessCode))
}

func TestHistoryVersionIdsAreDense(t *testing.T) {
	// Invariant 1.
	engine := newTestEngine(t)
	ready := createReadyTask(t, engine)

	inProgress, secret, _, err := engine.Accept(ready.Id, ready.AccessCode, types.RolePublicPharmacy, testPharmacy, "Apotheke 1")
	require.NoError(t, err)
	_, err = engine.Close(inProgress.Id, secret, types.MedicationDispense{}, types.RolePublicPharmacy, testPharmacy, "Apotheke 1")
	require.NoError(t, err)

	entry := engine.tasks[ready.Id]
	for i, v := range entry.history.All() {
		assert.Equal(t, i, v.Id)
	}
}

func TestLastModifiedNonDecreasing(t *testing.T) {
	// Invariant 2.
	engine := newTestEngine(t)
	ready := createReadyTask(t, engine)

	inProgress, secret, _, err := engine.Accept(ready.Id, ready.AccessCode, types.RolePublicPharmacy, testPharmacy, "Apotheke 1")
	require.NoError(t, err)

	entry := engine.tasks[ready.Id]
	versions := entry.history.All()
	for i := 1; i < len(versions); i++ {
		assert.False(t, versions[i].Resource.LastModified.Before(versions[i-1].Resource.LastModified))
	}
	assert.Equal(t, types.TaskStatusInProgress, inProgress.Status)
}

func TestRepresentativeMessageCap(t *testing.T) {
	// S4: the 4th representative message on a task is rejected and the
	// store is left unchanged.
	engine := newTestEngine(t)
	ready := createReadyTask(t, engine)

	patient := types.NewPatientParticipant(testPatient)
	other := types.NewPatientParticipant(types.Kvnr("Y111111111"))

	for i := 0; i < 3; i++ {
		_, err := engine.SendMessage(types.CommunicationKindRepresentative, ready.Id, ready.AccessCode, patient, other, types.Payload{Kind: types.ContentKindString, Text: "delegate"})
		require.NoError(t, err)
	}

	before := len(engine.ListMessages(patient))

	_, err := engine.SendMessage(types.CommunicationKindRepresentative, ready.Id, ready.AccessCode, patient, other, types.Payload{Kind: types.ContentKindString, Text: "delegate"})
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindBudgetExceeded))

	after := len(engine.ListMessages(patient))
	assert.Equal(t, before, after)
}

func TestSenderCannotBeRecipient(t *testing.T) {
	engine := newTestEngine(t)
	ready := createReadyTask(t, engine)
	patient := types.NewPatientParticipant(testPatient)

	_, err := engine.SendMessage(types.CommunicationKindInfoReq, ready.Id, ready.AccessCode, patient, patient, types.Payload{Kind: types.ContentKindString, Text: "hi"})
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindSenderIsRecipient))
}

func TestAuditEventsOnlyTargetTheirPatient(t *testing.T) {
	// Invariant 8.
	engine := newTestEngine(t)
	createReadyTask(t, engine)

	events := engine.ListAuditEvents(testPatient)
	for _, ev := range events {
		assert.Equal(t, testPatient, ev.Patient)
	}

	assert.Empty(t, engine.ListAuditEvents(types.Kvnr("Z999999999")))
}

func TestRecordDispenseReadAppendsAuditEvent(t *testing.T) {
	engine := newTestEngine(t)
	pharmacy := types.NewProviderParticipant(testPharmacy)

	before := len(engine.ListAuditEvents(testPatient))
	engine.RecordDispenseRead(testPatient, pharmacy, "Apotheke am Markt", "160.000.000.000.001.00")
	after := engine.ListAuditEvents(testPatient)

	require.Len(t, after, before+1)
	last := after[len(after)-1]
	assert.Equal(t, types.AuditSubTypeMedicationDispenseRead, last.SubType)
	assert.Equal(t, pharmacy, last.Agent)
	assert.Equal(t, "160.000.000.000.001.00", last.TargetTaskId)
}
