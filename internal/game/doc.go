// Package game provides the schedule snapshot model for a club's home games.
//
// A Game is identified by a deterministic SHA1-based key derived from the
// fields selected by an IdentityPolicy, so the same fixture maps to the same
// key across runs. The package also parses raw fetched rows, compares two
// versions of a game, and derives the season a date belongs to. It performs no
// I/O and never reads the wall clock; callers pass dates in.
package game
