// Package harness runs stable-identity conformance scenarios.
//
// A scenario is a sequence of record additions and deletions fed through the
// full pipeline (resolution engine, classifier, stable id resolver and change
// log), followed by assertions on the resulting stable identities.
//
// # Scenario Format
//
// Scenarios are defined in YAML files with the following structure:
//
//	name: scenario_name
//	description: "What this scenario validates"
//	match_keys: [PHONE_NUMBER, EMAIL_ADDRESS]
//	flow:
//	  - add:
//	      data_source: TEST
//	      record_id: "1"
//	      features: { PHONE_NUMBER: "555-0100" }
//	    expect:
//	      statuses: { 1: BIRTH }
//	      stable_ids: { 1: S-0001 }
//	  - delete: { data_source: TEST, record_id: "1" }
//	    expect:
//	      statuses: { 1: DEATH }
//	assertions:
//	  - type: resolves_to
//	    stable_id: S-0001
//	    canonical: S-0001
//	    entity_ids: [1]
//
// A step whose event is rejected or fails sets expect.error to the error
// code (for example INVALID_FEATURES). Any other error fails the run.
//
// # Assertion Types
//
//   - resolves_to: a stable id resolves to a canonical id and entity ids
//   - aliases: the full alias set of a canonical id
//   - snapshot: the stored snapshot of an entity id
//   - event_count: the number of events in the change log
//   - status_count: how many entity changes in the trace carry a status
//
// # Deterministic Testing
//
// Stable ids are minted by a sequence generator (S-0001, S-0002, ...) and
// every run starts from an empty in-memory store, so traces are identical
// across runs and can be compared against golden files with RunWithGolden.
package harness
