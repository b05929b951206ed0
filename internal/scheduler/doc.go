// Package scheduler decides which notifications are due on a given day and
// hands them to a transport.
//
// A rule fires for a game on its trigger day, the game date minus the rule's
// offset. Every successful handoff is written to the state's delivery ledger
// before the next one is attempted, and the ledger is consulted before every
// send, so running the scheduler any number of times on the same day delivers
// each (game, rule, recipient) at most once. A failed send leaves no record
// and is retried by the next run.
//
// The scheduler never reads the wall clock to decide what is due. The caller
// passes today; the clock only stamps delivery records.
package scheduler
