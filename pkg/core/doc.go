// Package core defines the shared language of the runboard system.
//
// This package contains:
//   - Domain entities (RunRow, Step, Mapping, ReferenceValue, Windowing)
//   - Per-run payloads fetched lazily (RunSummary, RunDetail, BasicStats)
//   - Filter values shared by scope resolution and filter state
//   - The RunsAPI interface implemented by the HTTP client and test fakes
//
// The Golden Rule: pkg/core imports ONLY stdlib.
// All other packages depend on core, not the reverse.
package core
