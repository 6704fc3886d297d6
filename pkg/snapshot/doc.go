// Package snapshot persists a pkg/state.Engine's full state to a bbolt file
// and restores it at startup, per spec.md §4.L. Each top-level resource
// (tasks, messages, dispenses, audit log) lives in its own bucket, JSON-coded
// the same way the teacher's BoltDB store codes its resources, keyed so a
// task's bucket entry carries its entire version history in one record —
// the history must round-trip as a unit or its dense version-id offset
// breaks.
package snapshot
