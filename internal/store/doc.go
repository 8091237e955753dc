// Package store provides SQLite-backed persistence for entity snapshots,
// stable identity bindings and the change log.
//
// All writes go through a single connection (SetMaxOpenConns(1)) so there is
// exactly one writer. Multi-row updates run in one transaction and are
// all-or-nothing.
//
// Tables:
//   - entity_snapshots / snapshot_records: last known state per entity id
//   - stable_ids: the alias forest (canonical_id NULL for roots)
//   - record_stable: record -> stable id bindings
//   - stable_entities: canonical stable id -> entity ids
//   - change_log: one row per processed event
package store
