// Package realtime manages the live measurement event stream.
//
// This package manages:
//   - One logical connection per authenticated session (the Channel)
//   - Automatic reconnection with exponential backoff
//   - The client-side Subscription Set, replayed in full on every
//     successful (re)connect before any event is dispatched
//   - Per-kind listener registration with synchronous, ordered fan-out
//
// Two transports are provided: a websocket connection to the measurement
// hub (primary) and an MQTT bridge for sites that expose the broker
// directly. Both are single-attempt dials; reconnection policy lives in
// the Channel, above the transport.
//
// Reconnection failures are internal to the Channel: they surface as
// state transitions (observable via SetStateHandler), never as errors
// propagated to callers.
package realtime
