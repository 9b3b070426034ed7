// Package domain defines the core business types for the Rejuvena campaign
// engine.
//
// Types in this package are pure value objects with no behavior beyond
// validation and derived-value helpers. They are the shared language between
// the engine, repositories, and HTTP surfaces.
//
// Rules for this package:
//   - No imports from other internal/ packages
//   - No *sql.DB, no http.Request, no context.Context in struct fields
//   - JSON/DB tags are allowed (they're metadata, not behavior)
//   - Constants and enums belong here
package domain
