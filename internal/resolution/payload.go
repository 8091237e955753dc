package resolution

// Wire shapes of the engine's JSON payloads. Only the fields the core reads
// are declared; everything else in a payload is ignored.

type withInfoPayload struct {
	DataSource          string                `json:"DATA_SOURCE" validate:"required"`
	RecordID            string                `json:"RECORD_ID" validate:"required"`
	AffectedEntities    []affectedEntityWire  `json:"AFFECTED_ENTITIES" validate:"dive"`
	InterestingEntities interestingEntityWire `json:"INTERESTING_ENTITIES"`
}

type affectedEntityWire struct {
	EntityID int64 `json:"ENTITY_ID" validate:"gt=0"`
}

type interestingEntityWire struct {
	Entities []interestingWire `json:"ENTITIES" validate:"dive"`
}

type interestingWire struct {
	EntityID int64 `json:"ENTITY_ID" validate:"gt=0"`
	Degrees  int   `json:"DEGREES" validate:"gte=0"`
}

type entityPayload struct {
	ResolvedEntity *resolvedEntityWire `json:"RESOLVED_ENTITY" validate:"required"`
}

type resolvedEntityWire struct {
	EntityID   int64        `json:"ENTITY_ID" validate:"gt=0"`
	EntityName string       `json:"ENTITY_NAME"`
	Records    []recordWire `json:"RECORDS" validate:"dive"`
}

type recordWire struct {
	DataSource string `json:"DATA_SOURCE" validate:"required"`
	RecordID   string `json:"RECORD_ID" validate:"required"`
}
