package api

import (
	"bytes"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gematik/erezept-fachdienst/pkg/authtoken"
	"github.com/gematik/erezept-fachdienst/pkg/events"
	"github.com/gematik/erezept-fachdienst/pkg/state"
	"github.com/gematik/erezept-fachdienst/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// signTestToken builds a BP256R1-signed JWS the way the IDP would, mirroring
// pkg/authtoken's own (unexported, package-internal) signToken test helper
// since AccessToken's claims type isn't exported across package boundaries.
func signTestToken(t *testing.T, key *ecdsa.PrivateKey, profession authtoken.Profession, idNummer string) string {
	t.Helper()

	header := map[string]string{"alg": "BP256R1", "typ": "JWT"}
	headerJSON, err := json.Marshal(header)
	require.NoError(t, err)

	now := time.Now()
	payload := map[string]any{
		"iss":           "https://idp.example",
		"sub":           "subject",
		"aud":           "erp.example",
		"exp":           now.Add(5 * time.Minute).Unix(),
		"iat":           now.Unix(),
		"professionOID": string(profession),
		"idNummer":      idNummer,
		"given_name":    "Juna",
		"family_name":   "Fuchs",
	}
	payloadJSON, err := json.Marshal(payload)
	require.NoError(t, err)

	signingInput := base64.RawURLEncoding.EncodeToString(headerJSON) + "." + base64.RawURLEncoding.EncodeToString(payloadJSON)

	hash := sha256.Sum256([]byte(signingInput))
	r, s, err := ecdsa.Sign(rand.Reader, key, hash[:])
	require.NoError(t, err)

	keySize := (key.Curve.Params().BitSize + 7) / 8
	sig := make([]byte, 2*keySize)
	r.FillBytes(sig[:keySize])
	s.FillBytes(sig[keySize:])

	return signingInput + "." + base64.RawURLEncoding.EncodeToString(sig)
}

func newTestRouter(t *testing.T) (http.Handler, *ecdsa.PrivateKey) {
	t.Helper()

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	engine := state.New(fakeBundleVerifier{}, fakeReceiptSigner{}, events.NewBroker())
	keys := authtoken.NewKeyCacheWithKey(&key.PublicKey)

	return Router(engine, keys), key
}

type fakeBundleVerifier struct{}

// VerifyBundle treats the raw bundle bytes as the prescription id they
// claim to carry, so tests can control the match against the task's real
// id by encoding it as the bundle payload, without needing a real CMS
// envelope.
func (fakeBundleVerifier) VerifyBundle(signed []byte) (state.VerifiedBundle, error) {
	return state.VerifiedBundle{
		Kvnr:           "X234567890",
		FlowType:       types.FlowTypePharmaceutical,
		PrescriptionId: string(signed),
		ExpiryDate:     time.Now().Add(28 * 24 * time.Hour),
		AcceptDate:     time.Now().Add(28 * 24 * time.Hour),
		PatientReceipt: []byte("receipt"),
		SigningTime:    time.Now(),
	}, nil
}

type fakeReceiptSigner struct{}

func (fakeReceiptSigner) SignReceipt(taskId string, dispense types.MedicationDispense) ([]byte, error) {
	return []byte("signed-receipt-" + taskId), nil
}

func doRequest(t *testing.T, router http.Handler, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestCreateTaskRequiresAuth(t *testing.T) {
	router, _ := newTestRouter(t)

	w := doRequest(t, router, http.MethodPost, "/Task/", "", map[string]int{"flowType": 160})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestCreateTaskByDoctorSucceeds(t *testing.T) {
	router, key := newTestRouter(t)
	token := signTestToken(t, key, authtoken.ProfessionPraxisArzt, "3-SMC-B-Testkarte-883110000116873")

	w := doRequest(t, router, http.MethodPost, "/Task/", token, map[string]int{"flowType": 160})
	require.Equal(t, http.StatusCreated, w.Code)

	var dto taskDTO
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &dto))
	assert.Equal(t, "draft", dto.Status)
	assert.NotEmpty(t, dto.AccessCode)
	assert.NotEmpty(t, dto.Id)
}

func TestCreateTaskByPatientIsForbidden(t *testing.T) {
	router, key := newTestRouter(t)
	token := signTestToken(t, key, authtoken.ProfessionVersicherter, "X234567890")

	w := doRequest(t, router, http.MethodPost, "/Task/", token, map[string]int{"flowType": 160})
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestCreateTaskRejectsUnknownFlowType(t *testing.T) {
	router, key := newTestRouter(t)
	token := signTestToken(t, key, authtoken.ProfessionPraxisArzt, "3-SMC-B-Testkarte-883110000116873")

	w := doRequest(t, router, http.MethodPost, "/Task/", token, map[string]int{"flowType": 999})
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestGetTaskNotFound(t *testing.T) {
	router, key := newTestRouter(t)
	token := signTestToken(t, key, authtoken.ProfessionPraxisArzt, "3-SMC-B-Testkarte-883110000116873")

	w := doRequest(t, router, http.MethodGet, "/Task/does-not-exist", token, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestActivateTaskWithWrongAccessCodeFails(t *testing.T) {
	router, key := newTestRouter(t)
	token := signTestToken(t, key, authtoken.ProfessionPraxisArzt, "3-SMC-B-Testkarte-883110000116873")

	created := doRequest(t, router, http.MethodPost, "/Task/", token, map[string]int{"flowType": 160})
	require.Equal(t, http.StatusCreated, created.Code)
	var task taskDTO
	require.NoError(t, json.Unmarshal(created.Body.Bytes(), &task))

	bundle := base64.StdEncoding.EncodeToString([]byte(task.Id))
	params := activateParameters{
		ResourceType: "Parameters",
		Parameter: []activateParameter{
			{Name: "accessCode", ValueString: "wrong-code"},
			{Name: "ePrescription", ValueBase64Binary: bundle},
		},
	}
	w := doRequest(t, router, http.MethodPost, "/Task/"+task.Id+"/$activate", token, params)
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestActivateTaskHappyPath(t *testing.T) {
	router, key := newTestRouter(t)
	token := signTestToken(t, key, authtoken.ProfessionPraxisArzt, "3-SMC-B-Testkarte-883110000116873")

	created := doRequest(t, router, http.MethodPost, "/Task/", token, map[string]int{"flowType": 160})
	require.Equal(t, http.StatusCreated, created.Code)
	var task taskDTO
	require.NoError(t, json.Unmarshal(created.Body.Bytes(), &task))

	bundle := base64.StdEncoding.EncodeToString([]byte(task.Id))
	params := activateParameters{
		ResourceType: "Parameters",
		Parameter: []activateParameter{
			{Name: "accessCode", ValueString: task.AccessCode},
			{Name: "ePrescription", ValueBase64Binary: bundle},
		},
	}
	w := doRequest(t, router, http.MethodPost, "/Task/"+task.Id+"/$activate", token, params)
	require.Equal(t, http.StatusOK, w.Code)

	var activated taskDTO
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &activated))
	assert.Equal(t, "ready", activated.Status)
}

func TestListAuditEventsRequiresPatientProfession(t *testing.T) {
	router, key := newTestRouter(t)
	token := signTestToken(t, key, authtoken.ProfessionPraxisArzt, "3-SMC-B-Testkarte-883110000116873")

	w := doRequest(t, router, http.MethodGet, "/AuditEvent/", token, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestListAuditEventsEmptyForNewPatient(t *testing.T) {
	router, key := newTestRouter(t)
	token := signTestToken(t, key, authtoken.ProfessionVersicherter, "X234567890")

	w := doRequest(t, router, http.MethodGet, "/AuditEvent/", token, nil)
	require.Equal(t, http.StatusOK, w.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "Bundle", body["resourceType"])
}

func TestGetDispenseRecordsReadAudit(t *testing.T) {
	router, key := newTestRouter(t)
	doctorToken := signTestToken(t, key, authtoken.ProfessionPraxisArzt, "3-SMC-B-Testkarte-883110000116873")
	pharmacyToken := signTestToken(t, key, authtoken.ProfessionOeffentlicheApotheke, "3-SMC-B-Apotheke-00001")
	patientToken := signTestToken(t, key, authtoken.ProfessionVersicherter, "X234567890")

	created := doRequest(t, router, http.MethodPost, "/Task/", doctorToken, map[string]int{"flowType": 160})
	require.Equal(t, http.StatusCreated, created.Code)
	var task taskDTO
	require.NoError(t, json.Unmarshal(created.Body.Bytes(), &task))

	bundle := base64.StdEncoding.EncodeToString([]byte(task.Id))
	activated := doRequest(t, router, http.MethodPost, "/Task/"+task.Id+"/$activate", doctorToken, activateParameters{
		ResourceType: "Parameters",
		Parameter: []activateParameter{
			{Name: "accessCode", ValueString: task.AccessCode},
			{Name: "ePrescription", ValueBase64Binary: bundle},
		},
	})
	require.Equal(t, http.StatusOK, activated.Code)

	accepted := doRequest(t, router, http.MethodPost, "/Task/"+task.Id+"/$accept?ac="+task.AccessCode, pharmacyToken, nil)
	require.Equal(t, http.StatusOK, accepted.Code)
	var acceptedBody acceptResponse
	require.NoError(t, json.Unmarshal(accepted.Body.Bytes(), &acceptedBody))

	closed := doRequest(t, router, http.MethodPost, "/Task/"+task.Id+"/$close", pharmacyToken, closeRequest{
		Secret:     acceptedBody.Secret,
		Medication: "Ibuprofen 400mg",
	})
	require.Equal(t, http.StatusOK, closed.Code)

	listed := doRequest(t, router, http.MethodGet, "/MedicationDispense/", patientToken, nil)
	require.Equal(t, http.StatusOK, listed.Code)
	var dispenseBundle struct {
		Entry []map[string]any `json:"entry"`
	}
	require.NoError(t, json.Unmarshal(listed.Body.Bytes(), &dispenseBundle))
	require.Len(t, dispenseBundle.Entry, 1)
	dispenseId, _ := dispenseBundle.Entry[0]["id"].(string)
	require.NotEmpty(t, dispenseId)

	got := doRequest(t, router, http.MethodGet, "/MedicationDispense/"+dispenseId, patientToken, nil)
	require.Equal(t, http.StatusOK, got.Code)

	events := doRequest(t, router, http.MethodGet, "/AuditEvent/", patientToken, nil)
	require.Equal(t, http.StatusOK, events.Code)
	var auditBundle struct {
		Entry []map[string]any `json:"entry"`
	}
	require.NoError(t, json.Unmarshal(events.Body.Bytes(), &auditBundle))

	var sawReadAudit bool
	for _, entry := range auditBundle.Entry {
		if entry["subType"] == "medication-dispense-read" {
			sawReadAudit = true
		}
	}
	assert.True(t, sawReadAudit, "expected a medication-dispense-read audit event after reading the dispense")
}

func TestSendCommunicationReplyGoesToPatient(t *testing.T) {
	router, key := newTestRouter(t)
	doctorToken := signTestToken(t, key, authtoken.ProfessionPraxisArzt, "3-SMC-B-Testkarte-883110000116873")
	pharmacyToken := signTestToken(t, key, authtoken.ProfessionOeffentlicheApotheke, "3-SMC-B-Apotheke-00001")

	created := doRequest(t, router, http.MethodPost, "/Task/", doctorToken, map[string]int{"flowType": 160})
	require.Equal(t, http.StatusCreated, created.Code)
	var task taskDTO
	require.NoError(t, json.Unmarshal(created.Body.Bytes(), &task))

	req := communicationRequest{
		Kind:      string(types.CommunicationKindReply),
		TaskId:    task.Id,
		Recipient: "X234567890",
		Payload:   "your prescription is ready",
	}
	w := doRequest(t, router, http.MethodPost, "/Communication/", pharmacyToken, req)
	require.Equal(t, http.StatusCreated, w.Code)

	var dto map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &dto))
	assert.Equal(t, "X234567890", dto["recipient"])
}
