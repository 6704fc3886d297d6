// Package authtoken verifies the IDP-issued bearer access token carried by
// every inner FHIR request (component C): decoding its claims, checking
// exp/nbf against an injectable clock, and mapping its professionOID claim
// to the ParticipantId/Role pair the lifecycle engine authorizes against.
package authtoken
