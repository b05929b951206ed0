// Package state holds the data that survives between runs: tracked games,
// the retired archive, the delivery ledger and the rotation cursors.
//
// The document is versioned JSON, validated against an embedded JSON Schema
// on load. A missing document yields an empty state; an unreadable one is
// always an error.
package state
