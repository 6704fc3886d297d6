package api

import (
	"encoding/json"
	"net/http"

	"github.com/gematik/erezept-fachdienst/internal/apperr"
	"github.com/gematik/erezept-fachdienst/internal/search"
	"github.com/gematik/erezept-fachdienst/pkg/authtoken"
	"github.com/gematik/erezept-fachdienst/pkg/state"
	"github.com/gematik/erezept-fachdienst/pkg/types"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/google/uuid"
)

// Router builds the inner FHIR request router: every prescription,
// messaging, dispense, and audit operation spec.md §6 names, behind the
// access-token middleware. Construction is the reference case for how
// cuemby-warren's own teams lay out chi routers — grouped Route blocks per
// resource, one handler method per operation — even though the teacher
// itself speaks gRPC rather than REST.
func Router(engine *state.Engine, keys *authtoken.KeyCache) http.Handler {
	r := chi.NewRouter()
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete},
		AllowedHeaders: []string{"Authorization", "Content-Type", "Accept"},
	}))
	r.Use(requireAuth(keys))

	h := &handlers{engine: engine}

	r.Route("/Task", func(r chi.Router) {
		r.Post("/", h.createTask)
		r.Get("/", h.listTasks)
		r.Get("/{id}", h.getTask)
		r.Post("/{id}/$activate", h.activateTask)
		r.Post("/{id}/$accept", h.acceptTask)
		r.Post("/{id}/$reject", h.rejectTask)
		r.Post("/{id}/$close", h.closeTask)
		r.Post("/{id}/$abort", h.abortTask)
	})

	r.Route("/Communication", func(r chi.Router) {
		r.Post("/", h.sendCommunication)
		r.Get("/", h.listCommunications)
		r.Get("/{id}", h.getCommunication)
		r.Delete("/{id}", h.deleteCommunication)
	})

	r.Route("/MedicationDispense", func(r chi.Router) {
		r.Get("/", h.listDispenses)
		r.Get("/{id}", h.getDispense)
	})

	r.Route("/AuditEvent", func(r chi.Router) {
		r.Get("/", h.listAuditEvents)
		r.Get("/{id}", h.getAuditEvent)
	})

	return r
}

type handlers struct {
	engine *state.Engine
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/fhir+json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (h *handlers) createTask(w http.ResponseWriter, r *http.Request) {
	at := AccessTokenFromContext(r.Context())

	var req createTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperr.New(apperr.KindPayloadMismatch, err))
		return
	}

	flowType := types.FlowType(req.FlowType)
	if !flowType.Valid() {
		writeError(w, apperr.Newf(apperr.KindPayloadMismatch, "api: unknown flow type %d", req.FlowType))
		return
	}

	role, err := at.Role()
	if err != nil {
		writeError(w, err)
		return
	}

	task, err := h.engine.Create(flowType, role, at.ParticipantId(), at.Name)
	if err != nil {
		writeError(w, err)
		return
	}

	dto := newTaskDTO(task)
	dto.AccessCode = task.AccessCode
	writeJSON(w, http.StatusCreated, dto)
}

func (h *handlers) getTask(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	task, err := h.engine.Get(id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newTaskDTO(task))
}

func (h *handlers) listTasks(w http.ResponseWriter, r *http.Request) {
	at := AccessTokenFromContext(r.Context())

	tasks := h.engine.List(at.ParticipantId())
	dtos := make([]taskDTO, 0, len(tasks))
	for _, t := range tasks {
		dtos = append(dtos, newTaskDTO(t))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"resourceType": "Bundle",
		"entry":        dtos,
	})
}

func (h *handlers) activateTask(w http.ResponseWriter, r *http.Request) {
	at := AccessTokenFromContext(r.Context())
	id := chi.URLParam(r, "id")

	var params activateParameters
	if err := json.NewDecoder(r.Body).Decode(&params); err != nil {
		writeError(w, apperr.New(apperr.KindPayloadMismatch, err))
		return
	}
	bundle, err := params.signedBundle()
	if err != nil {
		writeError(w, apperr.New(apperr.KindPayloadMismatch, err))
		return
	}

	role, err := at.Role()
	if err != nil {
		writeError(w, err)
		return
	}

	task, err := h.engine.Activate(id, params.accessCode(), bundle, role, at.ParticipantId(), at.Name)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newTaskDTO(task))
}

func (h *handlers) acceptTask(w http.ResponseWriter, r *http.Request) {
	at := AccessTokenFromContext(r.Context())
	id := chi.URLParam(r, "id")
	accessCode := r.URL.Query().Get("ac")

	role, err := at.Role()
	if err != nil {
		writeError(w, err)
		return
	}
	pharmacy, err := at.TelematikId()
	if err != nil {
		writeError(w, err)
		return
	}

	task, secret, bundle, err := h.engine.Accept(id, accessCode, role, pharmacy, at.Name)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, acceptResponse{
		Task:         newTaskDTO(task),
		Secret:       secret,
		SignedBundle: base64Encode(bundle),
	})
}

func (h *handlers) rejectTask(w http.ResponseWriter, r *http.Request) {
	at := AccessTokenFromContext(r.Context())
	id := chi.URLParam(r, "id")
	secret := r.URL.Query().Get("secret")

	role, err := at.Role()
	if err != nil {
		writeError(w, err)
		return
	}
	pharmacy, err := at.TelematikId()
	if err != nil {
		writeError(w, err)
		return
	}

	task, err := h.engine.Reject(id, secret, role, pharmacy, at.Name)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newTaskDTO(task))
}

func (h *handlers) closeTask(w http.ResponseWriter, r *http.Request) {
	at := AccessTokenFromContext(r.Context())
	id := chi.URLParam(r, "id")

	var req closeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperr.New(apperr.KindPayloadMismatch, err))
		return
	}

	role, err := at.Role()
	if err != nil {
		writeError(w, err)
		return
	}
	pharmacy, err := at.TelematikId()
	if err != nil {
		writeError(w, err)
		return
	}

	task, err := h.engine.Close(id, req.Secret, req.dispense(), role, pharmacy, at.Name)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newTaskDTO(task))
}

func (h *handlers) abortTask(w http.ResponseWriter, r *http.Request) {
	at := AccessTokenFromContext(r.Context())
	id := chi.URLParam(r, "id")

	var req abortRequest
	_ = json.NewDecoder(r.Body).Decode(&req)

	role, err := at.Role()
	if err != nil {
		writeError(w, err)
		return
	}

	if err := h.engine.Abort(id, role, at.ParticipantId(), at.Name, req.AccessCode, req.Secret); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handlers) sendCommunication(w http.ResponseWriter, r *http.Request) {
	at := AccessTokenFromContext(r.Context())

	var req communicationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperr.New(apperr.KindPayloadMismatch, err))
		return
	}

	// Reply is the only kind a TelematikId holder sends, and it always
	// goes to the patient who raised the original request; every other
	// kind is sent by the patient to a provider.
	recipient := types.NewProviderParticipant(types.TelematikId(req.Recipient))
	if types.CommunicationKind(req.Kind) == types.CommunicationKindReply {
		recipient = types.NewPatientParticipant(types.Kvnr(req.Recipient))
	}

	msg, err := h.engine.SendMessage(
		types.CommunicationKind(req.Kind),
		req.TaskId,
		req.AccessCode,
		at.ParticipantId(),
		recipient,
		types.Payload{Kind: types.ContentKindString, Text: req.Payload},
	)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, newCommunicationDTO(msg))
}

func (h *handlers) getCommunication(w http.ResponseWriter, r *http.Request) {
	at := AccessTokenFromContext(r.Context())
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, apperr.New(apperr.KindNotFound, err))
		return
	}

	msg, err := h.engine.GetMessage(id, at.ParticipantId())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newCommunicationDTO(msg))
}

func (h *handlers) listCommunications(w http.ResponseWriter, r *http.Request) {
	at := AccessTokenFromContext(r.Context())

	msgs := h.engine.ListMessages(at.ParticipantId())
	dtos := make([]map[string]any, 0, len(msgs))
	for _, m := range msgs {
		dtos = append(dtos, newCommunicationDTO(m))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"resourceType": "Bundle",
		"entry":        dtos,
	})
}

func (h *handlers) deleteCommunication(w http.ResponseWriter, r *http.Request) {
	at := AccessTokenFromContext(r.Context())
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, apperr.New(apperr.KindNotFound, err))
		return
	}

	if err := h.engine.DeleteMessage(id, at.ParticipantId()); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handlers) getDispense(w http.ResponseWriter, r *http.Request) {
	at := AccessTokenFromContext(r.Context())
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, apperr.New(apperr.KindNotFound, err))
		return
	}
	patient, err := at.Kvnr()
	if err != nil {
		writeError(w, err)
		return
	}

	d, err := h.engine.GetDispense(id, patient)
	if err != nil {
		writeError(w, err)
		return
	}
	h.engine.RecordDispenseRead(patient, at.ParticipantId(), at.Name, d.PrescriptionId)
	writeJSON(w, http.StatusOK, newDispenseDTO(d))
}

func (h *handlers) listDispenses(w http.ResponseWriter, r *http.Request) {
	at := AccessTokenFromContext(r.Context())
	patient, err := at.Kvnr()
	if err != nil {
		writeError(w, err)
		return
	}

	dispenses := h.engine.ListDispenses(patient)
	dtos := make([]map[string]any, 0, len(dispenses))
	for _, d := range dispenses {
		dtos = append(dtos, newDispenseDTO(d))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"resourceType": "Bundle",
		"entry":        dtos,
	})
}

func (h *handlers) getAuditEvent(w http.ResponseWriter, r *http.Request) {
	at := AccessTokenFromContext(r.Context())
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, apperr.New(apperr.KindNotFound, err))
		return
	}
	patient, err := at.Kvnr()
	if err != nil {
		writeError(w, err)
		return
	}

	ev, err := h.engine.GetAuditEvent(id, patient)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newAuditEventDTO(ev))
}

// auditKeyed adapts types.AuditEvent to internal/search's keyset pagination,
// sorting by recorded time with the event id as tiebreaker.
type auditKeyed struct{ types.AuditEvent }

func (a auditKeyed) SortKey() string { return formatTime(a.Recorded) }
func (a auditKeyed) ID() string      { return a.Id.String() }

func (h *handlers) listAuditEvents(w http.ResponseWriter, r *http.Request) {
	at := AccessTokenFromContext(r.Context())
	patient, err := at.Kvnr()
	if err != nil {
		writeError(w, err)
		return
	}

	count, err := search.ParseCount(r.URL.Query().Get("_count"), 50, 200)
	if err != nil {
		writeError(w, apperr.New(apperr.KindPayloadMismatch, err))
		return
	}
	desc := false
	for _, f := range search.ParseSort(r.URL.Query().Get("_sort")) {
		if f.Name == "date" {
			desc = f.Desc
		}
	}

	events := h.engine.ListAuditEvents(patient)
	keyed := make([]auditKeyed, 0, len(events))
	for _, e := range events {
		keyed = append(keyed, auditKeyed{e})
	}

	page, nextPageId, err := search.Page(keyed, desc, count, r.URL.Query().Get("pageId"))
	if err != nil {
		writeError(w, apperr.New(apperr.KindPayloadMismatch, err))
		return
	}

	dtos := make([]map[string]any, 0, len(page))
	for _, e := range page {
		dtos = append(dtos, newAuditEventDTO(e.AuditEvent))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"resourceType": "Bundle",
		"entry":        dtos,
		"pageId":       nextPageId,
	})
}
