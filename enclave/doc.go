// Package enclave implements the client for invoking functions inside
// attested confidential-computing enclaves.
//
// A Client is configured once with a gateway endpoint, a pinned trust root
// and a credential provider. Connect dials the gateway over a websocket,
// authenticates through the handshake subprotocol, requests and verifies the
// enclave's attestation document, and derives an end-to-end encrypted
// channel from the attested ephemeral key. The resulting Session exposes
// Invoke, which seals a request payload, sends it, and opens the sealed
// response.
//
// Every session moves through a strict lifecycle: disconnected,
// authenticating, attesting, channel ready, invoking, closed. Any failure
// after dialing is fatal to the session: the connection is torn down, the
// channel keys are zeroed and the session lands in the closed state. No
// payload is ever transmitted before attestation has fully verified.
package enclave
