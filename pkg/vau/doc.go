// Package vau implements the VAU (Vertrauenswürdige Ausführungsumgebung)
// transport: the ECIES hybrid envelope the client encrypts its request to
// the server's public key with, the symmetric response envelope keyed by
// the client-supplied response key, the inner request/response framing,
// and the self-verifying user-pseudonym token.
//
// Grounded on original_source/server/src/service/middleware/vau.rs (request
// dispatch order, outer/inner access-token equality check, pseudonym
// verify-or-mint) and original_source/tool/src/vau_encrypt.rs (the exact
// wire format for the request envelope: a version byte, the client's
// ephemeral public key coordinates, an IV, and an AES-128-GCM ciphertext).
package vau
