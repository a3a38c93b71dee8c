// Package worker implements the offline cache-and-replay worker.
//
// The worker sits between an application and the network. Every request it
// intercepts is classified by destination and answered by one of two
// strategies:
//
//   - cache-first for the application's own assets, backed by a versioned
//     asset store with one active generation
//   - network-only bypass for the external API host, never cached, with a
//     structured offline payload when the network is unreachable
//
// ARCHITECTURE:
//
// All inputs are modelled as one sealed Event type (install, activate,
// fetch, message, connectivity) and enter through Dispatch. Classification
// is a pure function of the request URL; strategies do the I/O.
//
// Lifecycle events (install, activate, message, connectivity) are ordered:
// callers Enqueue them and a single Run goroutine processes them in FIFO
// order. Fetch events arrive concurrently through RoundTrip, the worker's
// http.RoundTripper implementation, and never wait on one another.
//
// FAILURE POLICY:
//
// No intercepted request is left without a response. Every I/O failure is
// converted into a fallback and reported in Outcome.Err:
//
//	cache lookup fails       -> fetch from the network
//	network fails (assets)   -> 503 text/plain placeholder
//	network fails (API)      -> 503 {"error":"offline"}
//	cache write fails        -> logged; the served response is unaffected
//	manifest entry fails     -> recorded as missing; install continues
//
// Requests the worker cannot classify (no URL, no host, non-HTTP scheme) are
// passed to the underlying transport unmodified.
package worker
