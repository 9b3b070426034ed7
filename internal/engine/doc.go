// Package engine implements the campaign execution engine: the periodic
// orchestration loop that walks active campaigns, resolves trigger-eligible
// recipients, evaluates per-recipient progress against the delivery log, and
// dispatches the next eligible step; plus the ingestor that reconciles
// asynchronous delivery-provider callbacks into the same log.
//
// The engine owns no storage and no transport. It consumes the collaborator
// interfaces in interfaces.go; implementations live in repository/postgres,
// template, and channel. Correctness under concurrent runs comes from the
// delivery log's uniqueness constraint and idempotent transitions, never from
// locking inside this package.
package engine
