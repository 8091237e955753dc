package memengine

import (
	"encoding/json"

	"github.com/roach88/stableid/internal/model"
)

type withInfoOut struct {
	DataSource          string         `json:"DATA_SOURCE"`
	RecordID            string         `json:"RECORD_ID"`
	AffectedEntities    []affectedOut  `json:"AFFECTED_ENTITIES"`
	InterestingEntities interestingSet `json:"INTERESTING_ENTITIES"`
}

type affectedOut struct {
	EntityID int64 `json:"ENTITY_ID"`
}

type interestingSet struct {
	Entities []interestingOut `json:"ENTITIES"`
}

type interestingOut struct {
	EntityID int64    `json:"ENTITY_ID"`
	Degrees  int      `json:"DEGREES"`
	Flags    []string `json:"FLAGS"`
}

type entityOut struct {
	ResolvedEntity resolvedOut `json:"RESOLVED_ENTITY"`
}

type resolvedOut struct {
	EntityID   int64       `json:"ENTITY_ID"`
	EntityName string      `json:"ENTITY_NAME"`
	Records    []recordOut `json:"RECORDS"`
}

type recordOut struct {
	DataSource string `json:"DATA_SOURCE"`
	RecordID   string `json:"RECORD_ID"`
}

func marshalWithInfo(id model.RecordID, affected []model.EntityID, interesting []interestingOut) ([]byte, error) {
	out := withInfoOut{
		DataSource:       id.DataSource,
		RecordID:         id.RecordKey,
		AffectedEntities: make([]affectedOut, 0, len(affected)),
		InterestingEntities: interestingSet{
			Entities: make([]interestingOut, 0, len(interesting)),
		},
	}
	for _, a := range affected {
		out.AffectedEntities = append(out.AffectedEntities, affectedOut{EntityID: int64(a)})
	}
	for _, i := range interesting {
		if i.Flags == nil {
			i.Flags = []string{}
		}
		out.InterestingEntities.Entities = append(out.InterestingEntities.Entities, i)
	}
	return json.Marshal(out)
}
