// Package cli implements the command-line interface for homegames.
//
// The cli package provides the Cobra-based commands run, show and validate,
// formats run summaries and stored plans as text or JSON, and maps run
// outcomes to exit codes. It wires the config package's factories into a
// runner for each invocation.
package cli
