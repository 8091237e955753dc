// Package model provides the shared types of the stable identity system.
//
// This package contains type definitions, faults and the canonical JSON
// encoding used for content hashing. All other internal packages import
// model; model imports nothing internal.
//
// Key design constraints:
//   - RecordID is a comparable value type; construct it with NewRecordID so
//     both parts are normalized the same way everywhere
//   - EntityID values come from the resolution engine and are never stable
//   - StableID values are issued by this system and never deleted
//   - Every slice on EntityChangeSummary is sorted and non-nil
package model
