package memengine

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/roach88/stableid/internal/model"
)

type stateFile struct {
	LastEntityID int64         `json:"last_entity_id"`
	Records      []stateRecord `json:"records"`
}

type stateRecord struct {
	DataSource string                `json:"data_source"`
	RecordID   string                `json:"record_id"`
	EntityID   int64                 `json:"entity_id"`
	Features   model.FeatureDocument `json:"features"`
}

// load reads the state file. A missing file leaves the engine empty.
func (e *Engine) load() error {
	data, err := os.ReadFile(e.statePath)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}

	var st stateFile
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&st); err != nil {
		return fmt.Errorf("decode %s: %w", e.statePath, err)
	}
	for _, r := range st.Records {
		id := model.NewRecordID(r.DataSource, r.RecordID)
		if id.IsZero() || r.EntityID <= 0 {
			return fmt.Errorf("decode %s: invalid record %q/%q", e.statePath, r.DataSource, r.RecordID)
		}
		if r.Features == nil {
			r.Features = model.FeatureDocument{}
		}
		e.records[id] = r.Features
		e.owner[id] = model.EntityID(r.EntityID)
	}
	e.lastID = model.EntityID(st.LastEntityID)
	return nil
}

// saveState writes the state atomically through a temp file and rename.
func saveState(path string, records map[model.RecordID]model.FeatureDocument, owner map[model.RecordID]model.EntityID, lastID model.EntityID) error {
	ids := make([]model.RecordID, 0, len(records))
	for id := range records {
		ids = append(ids, id)
	}
	st := stateFile{LastEntityID: int64(lastID), Records: make([]stateRecord, 0, len(ids))}
	for _, id := range model.SortRecordIDs(ids) {
		st.Records = append(st.Records, stateRecord{
			DataSource: id.DataSource,
			RecordID:   id.RecordKey,
			EntityID:   int64(owner[id]),
			Features:   records[id],
		})
	}

	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".engine-state-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
