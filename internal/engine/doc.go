// Package engine coordinates ingestion events end to end.
//
// ARCHITECTURE:
//
// Single-Writer Processing:
// Every event runs under one lock, whether submitted synchronously through
// Process/AddRecord/DeleteRecord or through the queue drained by Run. Two
// events can therefore never interleave on the same entity id or stable id.
//
// Event Processing Flow:
//  1. The record id is normalized and the feature document validated.
//  2. The resolution engine ingests or deletes the record and reports the
//     affected entity ids.
//  3. The classifier diffs each affected id against its snapshot and writes
//     the new snapshots in one batch.
//  4. Every surviving entity with records gets its stable id upserted, in
//     ascending entity id order.
//  5. The event, its summaries and stable ids are appended to the change log
//     under the next logical clock value.
//
// Cancellation is honored until step 3 writes. From then on the event runs to
// completion without the caller's deadline; a failure in steps 4 or 5 is
// wrapped with model.ErrNeedsReconciliation.
package engine
