// Package reconcile merges a freshly fetched schedule into the persisted state.
//
// Reconcile adds new games, updates known games in place, marks future games
// that vanished from the source as cancelled, retires past games into the
// archive, and hands out duties from the rotation cursors. It never deletes a
// game that still matters for notifications and is deterministic: the same
// state, fetch and options always produce the same result.
package reconcile
