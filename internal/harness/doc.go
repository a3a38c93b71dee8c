// Package harness runs end-to-end scenarios against a real worker.
//
// A scenario wires a worker, its SQLite cache store, the pending-sync
// controller and the state sync client over an in-memory network, then
// replays a list of steps and checks the resulting trace and store state.
//
// # Scenario Format
//
// Scenarios are YAML files:
//
//	name: scenario_name
//	description: "What this scenario validates"
//	network:
//	  - url: /index.html
//	    status: 200
//	    body: "home"
//	steps:
//	  - install:
//	      generation: v1
//	      manifest:
//	        - path: /index.html
//	  - fetch: { url: /index.html }
//	    expect: { source: cache, status: 200 }
//	  - network: { offline: true }
//	  - push: { last_watering: "2026-05-01T09:00:00Z" }
//	    expect: { outcome: unreachable, pending: true }
//	  - connectivity: online
//	assertions:
//	  - type: trace_contains
//	    event: fetch
//	    fields: { url: "https://app.test/index.html", source: cache }
//	  - type: final_state
//	    table: flags
//	    where: { key: hydroplante.pending_sync }
//	    expect: { value: false }
//
// Relative URLs resolve against the scenario origin (default
// https://app.test). The remote plant state document lives at SyncEndpoint.
//
// # Assertion Types
//
//   - trace_contains: an event of the given type whose fields match
//   - trace_order: events matching each entry of sequence, in that order
//   - trace_count: exactly count events match
//   - final_state: one row of a store table matches; absent inverts it
//
// # Deterministic Testing
//
// Each scenario runs on a fresh in-memory database with a fixed request ID.
// Asynchronous cache writes and sync retries are awaited after every step,
// so traces are identical across runs and can be compared to golden files.
package harness
