// Package storage provides the remote blob stores that hold the persisted
// state document and the exported artifacts, plus the run locks that keep two
// invocations from overlapping.
//
// Backends: a local data directory (temp file plus rename), a bbolt database
// file, Redis, and a GitHub Gist. Every backend implements Store with atomic
// Put semantics and reports a missing object as ErrNotFound. The default data
// directory is ~/.local/share/homegames/.
package storage
