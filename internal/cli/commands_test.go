package cli

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/stableid/internal/engine"
	"github.com/roach88/stableid/internal/model"
)

const sampleRecords = "testdata/sample_records.jsonl"

func statusesOf(res engine.EventResult) map[model.EntityID]model.Status {
	out := make(map[model.EntityID]model.Status, len(res.Changes))
	for _, c := range res.Changes {
		out[c.EntityID] = c.Status
	}
	return out
}

func TestLoad_SampleRecords(t *testing.T) {
	e := newCLIEnv(t)

	out, err := e.run(t, "load", sampleRecords)
	require.NoError(t, err, out)
	assert.Contains(t, out, "#1 ADD_RECORD TEST/1001")
	assert.Contains(t, out, "1 BIRTH pre=0 post=1")
	assert.Contains(t, out, "stable=S-0001")
	assert.Contains(t, out, "#7 ADD_RECORD TEST/1007")
	assert.Contains(t, out, "related entity=3 degrees=1")
	assert.Contains(t, out, "7 records processed, 0 rejected")

	history, err := runJSON[HistoryView](t, e, "history")
	require.NoError(t, err)
	assert.Equal(t, "ok", history.Status)
	require.Len(t, history.Data.Events, 7)
	for i, ev := range history.Data.Events {
		assert.Equal(t, int64(i+1), ev.Seq)
		assert.NotEmpty(t, ev.FeatureHash)
	}
	// 1002..1004 share a phone number or email with 1001.
	assert.Equal(t, map[model.EntityID]model.StableID{1: "S-0001"}, history.Data.Events[3].StableIDs)
	assert.Equal(t, map[model.EntityID]model.StableID{4: "S-0004"}, history.Data.Events[6].StableIDs)

	resolved, err := runJSON[ResolveView](t, e, "resolve", "S-0001")
	require.NoError(t, err)
	assert.Equal(t, model.StableID("S-0001"), resolved.Data.Canonical)
	assert.Equal(t, []model.EntityID{1}, resolved.Data.EntityIDs)
	assert.Empty(t, resolved.Data.Aliases)
}

func TestLoad_Rejections(t *testing.T) {
	path := filepath.Join(t.TempDir(), "records.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
- DATA_SOURCE: TEST
  RECORD_ID: "1"
  PHONE_NUMBER: 702-919-1300
- DATA_SOURCE: TEST
  RECORD_ID: "2"
  EMAIL_ADDRESS: not an email
- DATA_SOURCE: TEST
  RECORD_ID: "3"
  PHONE_NUMBER: 702-919-1300
`), 0o644))

	t.Run("continue", func(t *testing.T) {
		e := newCLIEnv(t)
		summary, err := runJSON[LoadSummary](t, e, "load", path)
		require.Error(t, err)
		assert.Equal(t, ExitFailure, GetExitCode(err))

		assert.Equal(t, 2, summary.Data.Processed)
		require.Len(t, summary.Data.Rejected, 1)
		assert.Equal(t, model.NewRecordID("TEST", "2"), summary.Data.Rejected[0].Record)
		assert.Equal(t, string(engine.ErrCodeInvalidFeatures), summary.Data.Rejected[0].Code)
	})

	t.Run("fail fast", func(t *testing.T) {
		e := newCLIEnv(t)
		out, err := e.run(t, "load", "--fail-fast", path)
		require.Error(t, err)
		assert.Equal(t, ExitFailure, GetExitCode(err))
		assert.Contains(t, err.Error(), "record TEST/2 rejected")
		assert.Contains(t, out, "1 records processed, 1 rejected")
	})
}

func TestLoad_MissingFile(t *testing.T) {
	e := newCLIEnv(t)

	_, err := e.run(t, "load", filepath.Join(t.TempDir(), "missing.jsonl"))
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestAddDelete_AcrossInvocations(t *testing.T) {
	e := newCLIEnv(t)

	res, err := runJSON[engine.EventResult](t, e, "add", "TEST", "1", "--features", `{"PHONE_NUMBER":"702-919-1300"}`)
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.Data.Seq)
	assert.Equal(t, map[model.EntityID]model.StableID{1: "S-0001"}, res.Data.StableIDs)

	res, err = runJSON[engine.EventResult](t, e, "add", "TEST", "2", "--features", `{"EMAIL_ADDRESS":"bob@example.com"}`)
	require.NoError(t, err)
	assert.Equal(t, int64(2), res.Data.Seq)
	assert.Equal(t, map[model.EntityID]model.StableID{2: "S-0002"}, res.Data.StableIDs)

	// The bridge merges entity 2 into entity 1 and S-0002 into S-0001.
	res, err = runJSON[engine.EventResult](t, e, "add", "TEST", "3", "--features",
		`{"PHONE_NUMBER":"702-919-1300","EMAIL_ADDRESS":"bob@example.com"}`)
	require.NoError(t, err)
	assert.Equal(t, int64(3), res.Data.Seq)
	assert.Equal(t, map[model.EntityID]model.Status{
		1: model.StatusGrow,
		2: model.StatusMergeInto,
	}, statusesOf(res.Data))

	resolved, err := runJSON[ResolveView](t, e, "resolve", "S-0002")
	require.NoError(t, err)
	assert.Equal(t, model.StableID("S-0001"), resolved.Data.Canonical)
	assert.Equal(t, []model.StableID{"S-0002", "S-0001"}, resolved.Data.Chain)

	resolved, err = runJSON[ResolveView](t, e, "resolve", "S-0001")
	require.NoError(t, err)
	assert.Equal(t, []model.StableID{"S-0002"}, resolved.Data.Aliases)

	// Removing the bridge splits the entity; both halves keep S-0001.
	res, err = runJSON[engine.EventResult](t, e, "delete", "test", "3")
	require.NoError(t, err)
	assert.Equal(t, int64(4), res.Data.Seq)
	assert.Equal(t, model.EventDeleteRecord, res.Data.Kind)
	assert.Equal(t, map[model.EntityID]model.Status{
		1: model.StatusShrink,
		3: model.StatusBirth,
	}, statusesOf(res.Data))
	assert.Equal(t, map[model.EntityID]model.StableID{1: "S-0001", 3: "S-0001"}, res.Data.StableIDs)

	out, err := e.run(t, "resolve", "S-0002")
	require.NoError(t, err)
	assert.Contains(t, out, "chain:      S-0002 -> S-0001")
	assert.Contains(t, out, "entity ids: [1 3]")
}

func TestAdd_Errors(t *testing.T) {
	e := newCLIEnv(t)

	_, err := e.run(t, "add", "TEST", "1", "--features", "{not json")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))

	out, err := e.run(t, "add", "TEST", "1", "--features", `{"EMAIL_ADDRESS":"nope"}`)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "Error [INVALID_FEATURES]")

	_, err = e.run(t, "add", "TEST")
	require.Error(t, err)
}

func TestDelete_UnknownRecord(t *testing.T) {
	e := newCLIEnv(t)

	out, err := e.run(t, "delete", "TEST", "404")
	require.NoError(t, err)
	assert.Contains(t, out, "#1 DELETE_RECORD TEST/404")
	assert.Contains(t, out, "no entities affected")
}

func TestResolve_Unknown(t *testing.T) {
	e := newCLIEnv(t)

	resp, err := runJSON[ResolveView](t, e, "resolve", "S-9999")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Equal(t, "error", resp.Status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, string(model.CodeUnknownStableID), resp.Error.Code)
}

func TestSnapshot(t *testing.T) {
	e := newCLIEnv(t)
	_, err := e.run(t, "add", "TEST", "1", "--features", `{"PHONE_NUMBER":"702-919-1300"}`)
	require.NoError(t, err)

	out, err := e.run(t, "snapshot", "1")
	require.NoError(t, err)
	assert.Contains(t, out, "entity 1 exists=true records=1")
	assert.Contains(t, out, "TEST/1")

	snap, err := runJSON[model.Snapshot](t, e, "snapshot", "1")
	require.NoError(t, err)
	assert.True(t, snap.Data.Known)
	assert.Equal(t, []model.RecordID{model.NewRecordID("TEST", "1")}, snap.Data.Records)

	out, err = e.run(t, "snapshot", "99")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "ENTITY_NOT_FOUND")

	_, err = e.run(t, "snapshot", "abc")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestHistory(t *testing.T) {
	e := newCLIEnv(t)

	out, err := e.run(t, "history")
	require.NoError(t, err)
	assert.Contains(t, out, "no events")

	_, err = e.run(t, "load", sampleRecords)
	require.NoError(t, err)

	page, err := runJSON[HistoryView](t, e, "history", "--from", "5", "--limit", "1")
	require.NoError(t, err)
	require.Len(t, page.Data.Events, 1)
	assert.Equal(t, int64(6), page.Data.Events[0].Seq)
	assert.Equal(t, model.NewRecordID("TEST", "1006"), page.Data.Events[0].Record)

	out, err = e.run(t, "history", "--limit", "1")
	require.NoError(t, err)
	assert.Contains(t, out, "#1 ADD_RECORD TEST/1001 hash=")

	_, err = e.run(t, "history", "--from", "-1")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestBadgerBackend(t *testing.T) {
	e := newCLIEnv(t, "--backend", "badger", "--badger-dir", filepath.Join(t.TempDir(), "kv"))

	_, err := e.run(t, "add", "TEST", "1", "--features", `{"PHONE_NUMBER":"702-919-1300"}`)
	require.NoError(t, err)
	res, err := runJSON[engine.EventResult](t, e, "add", "TEST", "2", "--features", `{"PHONE_NUMBER":"702-919-1300"}`)
	require.NoError(t, err)
	assert.Equal(t, int64(2), res.Data.Seq)
	assert.Equal(t, map[model.EntityID]model.Status{1: model.StatusGrow}, statusesOf(res.Data))
	assert.Equal(t, map[model.EntityID]model.StableID{1: "S-0001"}, res.Data.StableIDs)

	history, err := runJSON[HistoryView](t, e, "history")
	require.NoError(t, err)
	assert.Len(t, history.Data.Events, 2)
}
