// Package postgres implements the engine's storage contracts over
// database/sql with lib/pq.
//
// All correctness-critical writes are expressed as atomic conditional
// statements: the delivery log's insert-if-absent rides the table's
// uniqueness constraint (ON CONFLICT DO NOTHING), engagement transitions are
// guarded updates that only match when the transition has not happened yet,
// and stats are incremented with column arithmetic inside the same
// transaction. No application-level locking.
package postgres
