package cli

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/roach88/stableid/internal/model"
)

// Feature keys that carry the record id inside a feature document.
const (
	keyDataSource = "DATA_SOURCE"
	keyRecordID   = "RECORD_ID"
)

// maxLineSize bounds one JSON-lines record.
const maxLineSize = 4 << 20

// RecordFileError reports a malformed entry in a record file.
type RecordFileError struct {
	Path  string
	Entry int // 1-based line (JSON lines) or list index (YAML)
	Err   error
}

func (e *RecordFileError) Error() string {
	return fmt.Sprintf("%s:%d: %v", e.Path, e.Entry, e.Err)
}

func (e *RecordFileError) Unwrap() error {
	return e.Err
}

// LoadRecords reads feature documents from a JSON-lines file or, for .yaml and
// .yml files, a YAML list. Each document names its record with DATA_SOURCE
// and RECORD_ID; the whole document is the record's features.
func LoadRecords(path string) ([]model.Record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read records: %w", err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return parseYAMLRecords(path, data)
	default:
		return parseJSONLRecords(path, data)
	}
}

func parseJSONLRecords(path string, data []byte) ([]model.Record, error) {
	var records []model.Record
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)

	line := 0
	for scanner.Scan() {
		line++
		text := bytes.TrimSpace(scanner.Bytes())
		if len(text) == 0 || text[0] == '#' {
			continue
		}
		var doc map[string]any
		if err := json.Unmarshal(text, &doc); err != nil {
			return nil, &RecordFileError{Path: path, Entry: line, Err: err}
		}
		rec, err := recordFromDocument(doc)
		if err != nil {
			return nil, &RecordFileError{Path: path, Entry: line, Err: err}
		}
		records = append(records, rec)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan records: %w", err)
	}
	return records, nil
}

func parseYAMLRecords(path string, data []byte) ([]model.Record, error) {
	var docs []map[string]any
	if err := yaml.Unmarshal(data, &docs); err != nil {
		return nil, fmt.Errorf("parse records %s: %w", path, err)
	}
	records := make([]model.Record, 0, len(docs))
	for i, doc := range docs {
		rec, err := recordFromDocument(doc)
		if err != nil {
			return nil, &RecordFileError{Path: path, Entry: i + 1, Err: err}
		}
		records = append(records, rec)
	}
	return records, nil
}

func recordFromDocument(doc map[string]any) (model.Record, error) {
	ds, ok := doc[keyDataSource].(string)
	if !ok {
		return model.Record{}, fmt.Errorf("%s must be a string", keyDataSource)
	}
	key, ok := doc[keyRecordID].(string)
	if !ok {
		return model.Record{}, fmt.Errorf("%s must be a string", keyRecordID)
	}
	return model.Record{
		ID:       model.NewRecordID(ds, key),
		Features: model.FeatureDocument(doc),
	}, nil
}

// parseFeatures decodes the --features flag of the add command.
func parseFeatures(s string) (model.FeatureDocument, error) {
	var doc map[string]any
	if err := json.Unmarshal([]byte(s), &doc); err != nil {
		return nil, fmt.Errorf("invalid --features JSON: %w", err)
	}
	if doc == nil {
		doc = map[string]any{}
	}
	return model.FeatureDocument(doc), nil
}
