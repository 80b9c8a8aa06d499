// Package bus implements the in-process message bus shared by every team,
// agent and coordinator in an experiment.
//
// # Addressing
//
//   - Send: one registered participant's inbox
//   - SendToChannel: every member of a named channel except the sender
//   - Broadcast: every registered participant except the sender
//   - Publish: every subscriber callback on a topic, run concurrently
//   - Request/Reply: a direct message paired with a single-resolution reply
//
// Inboxes are FIFO per participant. Delivery order across different
// recipients is unspecified. History is append-only and bounded.
//
// # Backends
//
// The [Bus] owns process-local routing state (channels, subscriptions and
// pending requests) and stores the participant set, inboxes and history
// through a [Backend]. Recipient checks and broadcast fan-out consult the
// backend's participant set, so several buses on one backend can address
// each other. [MemoryBackend] keeps everything in process. [RedisBackend]
// stores the same data in Redis, inboxes as lists in the wire format
// produced by [Encode], so buses in separate processes share one substrate.
// Receiving is only possible on the bus that registered the id.
//
// # Failure Semantics
//
// Unknown recipients and channels fail before any inbox is touched. Request
// timeouts return an error matching errors.ErrRequestTimeout and remove the
// pending entry; a reply arriving afterwards is dropped and Reply reports
// ok=false.
package bus
