package resolution

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"

	"github.com/roach88/stableid/internal/model"
)

// Typed adapts a RawEngine to Engine, parsing and validating every payload.
type Typed struct {
	raw      RawEngine
	validate *validator.Validate
}

// NewTyped wraps raw.
func NewTyped(raw RawEngine) *Typed {
	return &Typed{raw: raw, validate: validator.New()}
}

var _ Engine = (*Typed)(nil)

// AddRecord implements Engine.
func (t *Typed) AddRecord(ctx context.Context, id model.RecordID, doc model.FeatureDocument) (AddResult, error) {
	if doc == nil {
		doc = model.FeatureDocument{}
	}
	body, err := json.Marshal(doc)
	if err != nil {
		return AddResult{}, fmt.Errorf("add record %s: encode features: %w", id, err)
	}
	payload, err := t.raw.AddRecordJSON(ctx, id.DataSource, id.RecordKey, body)
	if err != nil {
		return AddResult{}, fmt.Errorf("add record %s: %w", id, err)
	}
	res, err := t.parseWithInfo(payload)
	if err != nil {
		return AddResult{}, fmt.Errorf("add record %s: %w", id, err)
	}
	return res, nil
}

// DeleteRecord implements Engine.
func (t *Typed) DeleteRecord(ctx context.Context, id model.RecordID) (AddResult, error) {
	payload, err := t.raw.DeleteRecordJSON(ctx, id.DataSource, id.RecordKey)
	if err != nil {
		return AddResult{}, fmt.Errorf("delete record %s: %w", id, err)
	}
	res, err := t.parseWithInfo(payload)
	if err != nil {
		return AddResult{}, fmt.Errorf("delete record %s: %w", id, err)
	}
	return res, nil
}

// GetEntity implements Engine.
func (t *Typed) GetEntity(ctx context.Context, id model.EntityID) (Entity, error) {
	payload, err := t.raw.GetEntityJSON(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Entity{}, err
		}
		return Entity{}, fmt.Errorf("get entity %d: %w", id, err)
	}
	ent, err := t.parseEntity(payload)
	if err != nil {
		return Entity{}, fmt.Errorf("get entity %d: %w", id, err)
	}
	if ent.EntityID != id {
		return Entity{}, fmt.Errorf("get entity %d: engine returned entity %d", id, ent.EntityID)
	}
	return ent, nil
}

func (t *Typed) parseWithInfo(payload []byte) (AddResult, error) {
	var wire withInfoPayload
	if err := json.Unmarshal(payload, &wire); err != nil {
		return AddResult{}, fmt.Errorf("decode with-info payload: %w", err)
	}
	if err := t.validate.Struct(wire); err != nil {
		return AddResult{}, fmt.Errorf("invalid with-info payload: %w", err)
	}

	affected := make(model.EntitySet, len(wire.AffectedEntities))
	for _, a := range wire.AffectedEntities {
		affected.Add(model.EntityID(a.EntityID))
	}
	res := AddResult{
		RecordID:          model.NewRecordID(wire.DataSource, wire.RecordID),
		AffectedEntityIDs: affected.Sorted(),
		Interesting:       make([]InterestingEntity, 0, len(wire.InterestingEntities.Entities)),
	}
	for _, e := range wire.InterestingEntities.Entities {
		res.Interesting = append(res.Interesting, InterestingEntity{
			EntityID: model.EntityID(e.EntityID),
			Degrees:  e.Degrees,
		})
	}
	return res, nil
}

func (t *Typed) parseEntity(payload []byte) (Entity, error) {
	var wire entityPayload
	if err := json.Unmarshal(payload, &wire); err != nil {
		return Entity{}, fmt.Errorf("decode entity payload: %w", err)
	}
	if err := t.validate.Struct(wire); err != nil {
		return Entity{}, fmt.Errorf("invalid entity payload: %w", err)
	}

	records := make([]model.RecordID, 0, len(wire.ResolvedEntity.Records))
	for _, r := range wire.ResolvedEntity.Records {
		records = append(records, model.NewRecordID(r.DataSource, r.RecordID))
	}
	return Entity{
		EntityID: model.EntityID(wire.ResolvedEntity.EntityID),
		Name:     wire.ResolvedEntity.EntityName,
		Records:  model.SortRecordIDs(records),
	}, nil
}
