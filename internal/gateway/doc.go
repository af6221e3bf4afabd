// Package gateway is the central coordinator of the intake server.
//
// # Overview
//
// Every event, whatever its origin, passes through the Gateway. It owns
// the processing pipeline and wires together the other components: the
// diary store, per-patient queues, deduplication, rate limiting, the
// agent router, channel delivery and metrics.
//
// # Pipeline
//
// Submit runs the synchronous half:
//
//  1. Validate the envelope (type, patient or resolvable contact,
//     message length).
//  2. Drop duplicates by event ID.
//  3. Rate-limit patient messages per sender.
//  4. Enqueue on the sender patient's FIFO queue.
//
// A queue worker then runs the asynchronous half for each event:
//
//  1. Load the diary (creating one for a first patient contact).
//  2. Check sender permissions.
//  3. Route to the agent that owns the diary's phase.
//  4. Save with optimistic concurrency, reloading and reapplying on a
//     generation conflict.
//  5. Dispatch responses through the channel registry; undeliverable
//     messages are parked as pending deliveries.
//
// Agent-emitted events are processed in the same worker via a work
// list, bounded by MaxChainDepth. Events that fail processing land in
// the dead-letter store and can be replayed from the control surface.
//
// # HTTP API
//
// The control surface lives in api.go:
//
//   - POST /api/events - Submit an event (by patient_id or contact)
//   - GET /api/diaries/{id} - Inspect a diary
//   - GET /api/metrics - Operational counters
//   - GET /api/deadletters - List dead letters
//   - POST /api/deadletters/replay - Replay a dead letter
//   - GET /health - Liveness check
//   - GET /health/ready - Readiness check
//
// Everything under /api/ sits behind the bearer-token middleware;
// health endpoints are public.
//
// # Key Files
//
//   - gateway.go: Gateway struct, Submit, the processing pipeline
//   - router.go: Phase-to-agent routing
//   - limiter.go: Per-sender rate limiting
//   - api.go: HTTP handlers
package gateway
