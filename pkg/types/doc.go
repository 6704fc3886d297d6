/*
Package types defines the core data structures of the Fachdienst domain
model: prescription tasks, the four communication kinds, dispense records,
audit events, and the two participant identifier forms.

These types carry no behavior beyond small invariant-preserving helpers
(ParticipantId.String, Task.HasInputBundle, Communication.HasBeenReceived);
the lifecycle rules that govern how they change live in pkg/state.

# Participants

A ParticipantId is either a patient's Kvnr or a provider's TelematikId. The
access token's profession claim (see pkg/authtoken) determines which kind a
given caller presents; callers should construct one with
NewPatientParticipant or NewProviderParticipant rather than populating the
struct directly, so the Kind tag always matches the populated field.

# Prescription ids

FlowType is the three-digit category encoded in a prescription id by
pkg/prescriptionid. Four codes are recognized: pharmaceutical (160), direct
dispense (169), substitute (162), compounding (166).

# Tasks

Task.Status follows the state machine in pkg/state.Engine:

	Draft -activate-> Ready -accept-> InProgress -close-> Completed
	Draft -abort-> Cancelled
	Ready -abort-> Cancelled
	InProgress -reject-> Ready
	InProgress -abort-> Cancelled
	Completed -abort-> Cancelled

AccessCode is set once at creation; Secret is minted fresh on every accept
and cleared on reject, close, or abort. Completed tasks always carry a non-nil
InputBundleId and OutputReceiptId.
*/
package types
