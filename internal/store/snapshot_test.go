package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/stableid/internal/model"
)

func TestGetSnapshot_Missing(t *testing.T) {
	s := openTestStore(t)

	snap, err := s.GetSnapshot(t.Context(), 42)
	require.NoError(t, err)
	assert.Equal(t, model.Snapshot{EntityID: 42, Records: []model.RecordID{}}, snap)

	exists, err := s.GetExistence(t.Context(), 42)
	require.NoError(t, err)
	assert.False(t, exists)

	records, err := s.GetRecords(t.Context(), 42)
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestPutSnapshot_UpsertReplacesRecords(t *testing.T) {
	s := openTestStore(t)
	ctx := t.Context()

	require.NoError(t, s.PutSnapshot(ctx, model.Snapshot{
		EntityID: 1, Exists: true, Records: []model.RecordID{rec("1002"), rec("1001")},
	}))
	snap, err := s.GetSnapshot(ctx, 1)
	require.NoError(t, err)
	assert.True(t, snap.Known)
	assert.True(t, snap.Exists)
	assert.Equal(t, []model.RecordID{rec("1001"), rec("1002")}, snap.Records)

	// Death keeps the row as a tombstone
	require.NoError(t, s.PutSnapshot(ctx, model.Snapshot{EntityID: 1, Exists: false}))
	snap, err = s.GetSnapshot(ctx, 1)
	require.NoError(t, err)
	assert.True(t, snap.Known)
	assert.False(t, snap.Exists)
	assert.Empty(t, snap.Records)
}

func TestPutSnapshots_Batch(t *testing.T) {
	s := openTestStore(t)
	ctx := t.Context()

	require.NoError(t, s.PutSnapshots(ctx, nil))
	require.NoError(t, s.PutSnapshots(ctx, []model.Snapshot{
		{EntityID: 1, Exists: true, Records: []model.RecordID{rec("1001")}},
		{EntityID: 2, Exists: true, Records: []model.RecordID{rec("1002"), rec("1003")}},
	}))

	r2, err := s.GetRecords(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, []model.RecordID{rec("1002"), rec("1003")}, r2)
}

func TestPutSnapshots_CancelledContextWritesNothing(t *testing.T) {
	s := openTestStore(t)
	ctx, cancel := contextWithCancel(t)
	cancel()

	err := s.PutSnapshots(ctx, []model.Snapshot{{EntityID: 9, Exists: true, Records: []model.RecordID{rec("1")}}})
	require.Error(t, err)

	snap, err := s.GetSnapshot(t.Context(), 9)
	require.NoError(t, err)
	assert.False(t, snap.Known)
}
