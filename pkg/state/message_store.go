package state

import (
	"github.com/gematik/erezept-fachdienst/internal/apperr"
	"github.com/gematik/erezept-fachdienst/pkg/events"
	"github.com/gematik/erezept-fachdienst/pkg/types"
	"github.com/google/uuid"
)

// senderRoleAllowed enforces which participant kinds may originate each
// message kind, per §4.H.
func senderRoleAllowed(kind types.CommunicationKind, sender types.ParticipantId) bool {
	switch kind {
	case types.CommunicationKindInfoReq, types.CommunicationKindDispenseReq, types.CommunicationKindRepresentative:
		return sender.Kind == types.ParticipantKindKvnr
	case types.CommunicationKindReply:
		return sender.Kind == types.ParticipantKindTelematikId
	default:
		return false
	}
}

// SendMessage inserts a new Communication bound to a task, after checking
// the role, sender/recipient, and representative-cap invariants.
func (e *Engine) SendMessage(kind types.CommunicationKind, taskId, accessCode string, sender, recipient types.ParticipantId, payload types.Payload) (types.Communication, error) {
	if payload.Kind == types.ContentKindAttachment && payload.Attachment != nil && len(payload.Attachment.Data) > types.AttachmentMaxBytes {
		return types.Communication{}, apperr.Newf(apperr.KindPayloadTooLarge, "state: attachment exceeds %d bytes", types.AttachmentMaxBytes)
	}
	if !senderRoleAllowed(kind, sender) {
		return types.Communication{}, apperr.New(apperr.KindWrongRole, nil)
	}
	if sender == recipient {
		return types.Communication{}, apperr.New(apperr.KindSenderIsRecipient, nil)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	entry, err := e.entry(taskId)
	if err != nil {
		return types.Communication{}, err
	}
	task := entry.history.Get()

	if kind == types.CommunicationKindRepresentative {
		if task.Status != types.TaskStatusReady && task.Status != types.TaskStatusInProgress {
			return types.Communication{}, apperr.New(apperr.KindReferencedTaskBadState, nil)
		}
		if entry.repMsgCount >= e.repMax {
			return types.Communication{}, apperr.Newf(apperr.KindBudgetExceeded, "state: task %s already has %d representative messages", taskId, e.repMax)
		}
	}

	msg := types.Communication{
		Id:         uuid.New(),
		Kind:       kind,
		TaskId:     taskId,
		AccessCode: accessCode,
		Sent:       e.now(),
		Sender:     sender,
		Recipient:  recipient,
		Payload:    payload,
	}

	e.messages[msg.Id] = &msg
	if kind == types.CommunicationKindRepresentative {
		entry.repMsgCount++
	}

	e.publish(events.EventCommunicationSent, taskId)
	e.recordAudit(types.AuditSubTypeCommunicationSend, sender, "", task.For, taskId)

	return msg, nil
}

// GetMessage returns a message, stamping its received timestamp on first
// fetch by the recipient.
func (e *Engine) GetMessage(id uuid.UUID, reader types.ParticipantId) (types.Communication, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	msg, ok := e.messages[id]
	if !ok {
		return types.Communication{}, apperr.New(apperr.KindNotFound, nil)
	}

	if reader != msg.Sender && reader != msg.Recipient {
		return types.Communication{}, apperr.New(apperr.KindWrongRole, nil)
	}

	if reader == msg.Recipient && msg.Received.IsZero() {
		msg.Received = e.now()
	}

	return *msg, nil
}

// ListMessages returns every message where reader is sender or recipient.
func (e *Engine) ListMessages(reader types.ParticipantId) []types.Communication {
	e.mu.Lock()
	defer e.mu.Unlock()

	var out []types.Communication
	for _, msg := range e.messages {
		if msg.Sender == reader || msg.Recipient == reader {
			out = append(out, *msg)
		}
	}
	return out
}

// DeleteMessage retracts a message; only its sender may do so.
func (e *Engine) DeleteMessage(id uuid.UUID, sender types.ParticipantId) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	msg, ok := e.messages[id]
	if !ok {
		return apperr.New(apperr.KindNotFound, nil)
	}
	if msg.Sender != sender {
		return apperr.New(apperr.KindWrongRole, nil)
	}

	delete(e.messages, id)
	if msg.Kind == types.CommunicationKindRepresentative {
		if entry, ok := e.tasks[msg.TaskId]; ok && entry.repMsgCount > 0 {
			entry.repMsgCount--
		}
	}

	e.publish(events.EventCommunicationRetracted, msg.TaskId)
	return nil
}
