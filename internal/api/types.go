package api

import "github.com/roach88/stableid/internal/model"

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	// Error is the error message.
	Error string `json:"error"`

	// Code is the machine-readable error code.
	Code string `json:"code,omitempty"`
}

// RecordRequest is the body of POST /v1/records.
type RecordRequest struct {
	DataSource string         `json:"data_source" binding:"required"`
	RecordID   string         `json:"record_id" binding:"required"`
	Features   map[string]any `json:"features"`
}

// StableResponse describes a stable id.
type StableResponse struct {
	// StableID is the id as requested.
	StableID  model.StableID   `json:"stable_id"`
	Canonical model.StableID   `json:"canonical"`
	Chain     []model.StableID `json:"chain"`
	Aliases   []model.StableID `json:"aliases"`
	EntityIDs []model.EntityID `json:"entity_ids"`
}

// EventsResponse is a page of the change log.
type EventsResponse struct {
	Events  []model.EventRecord `json:"events"`
	NextSeq int64               `json:"next_seq"`
}

// HealthResponse is the body of /healthz.
type HealthResponse struct {
	Status string `json:"status"`
}
