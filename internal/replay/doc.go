// Package replay owns the pending-sync bookkeeping: whether the last remote
// state write failed for lack of connectivity, and when to ask the sync
// logic to try again.
//
// The controller never performs HTTP itself. The sync logic reports each
// attempt with Report; connectivity restorations arrive through OnOnline,
// which asks the Retrier for exactly one new attempt when a write is
// pending. The pending flag is persisted through a FlagStore so the state
// survives restarts.
package replay
