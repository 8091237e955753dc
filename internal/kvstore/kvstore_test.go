package kvstore

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/stableid/internal/model"
)

func createTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(InMemoryConfig())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func rec(key string) model.RecordID {
	return model.NewRecordID("TEST", key)
}

func TestOpen_RequiresDir(t *testing.T) {
	_, err := Open(Config{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "dir is required")
}

func TestOpen_PersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	cfg := DefaultConfig(dir)
	cfg.GCInterval = 0

	s1, err := Open(cfg)
	require.NoError(t, err)
	require.NoError(t, s1.PutSnapshot(t.Context(), model.Snapshot{EntityID: 3, Exists: true, Records: []model.RecordID{rec("1")}}))
	require.NoError(t, s1.Close())

	s2, err := Open(cfg)
	require.NoError(t, err)
	defer s2.Close()

	snap, err := s2.GetSnapshot(t.Context(), 3)
	require.NoError(t, err)
	assert.True(t, snap.Known)
	assert.Equal(t, []model.RecordID{rec("1")}, snap.Records)
}

func TestOpen_GCRunnerStopsOnClose(t *testing.T) {
	s, err := Open(DefaultConfig(t.TempDir()))
	require.NoError(t, err)
	require.NoError(t, s.Ping(t.Context()))
	require.NoError(t, s.Close())
}

func TestSnapshots(t *testing.T) {
	s := createTestStore(t)
	ctx := t.Context()

	snap, err := s.GetSnapshot(ctx, 1)
	require.NoError(t, err)
	assert.False(t, snap.Known)
	assert.NotNil(t, snap.Records)

	require.NoError(t, s.PutSnapshots(ctx, []model.Snapshot{
		{EntityID: 1, Exists: true, Records: []model.RecordID{rec("1002"), rec("1001")}},
		{EntityID: 2, Exists: false},
	}))

	exists, err := s.GetExistence(ctx, 1)
	require.NoError(t, err)
	assert.True(t, exists)

	records, err := s.GetRecords(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, []model.RecordID{rec("1001"), rec("1002")}, records)

	snap, err = s.GetSnapshot(ctx, 2)
	require.NoError(t, err)
	assert.True(t, snap.Known)
	assert.False(t, snap.Exists)
	assert.Empty(t, snap.Records)
}

func TestIdentity(t *testing.T) {
	s := createTestStore(t)
	ctx := t.Context()

	require.NoError(t, s.CreateRoot(ctx, "S-1"))
	require.NoError(t, s.CreateRoot(ctx, "S-2"))
	require.NoError(t, s.CreateRoot(ctx, "S-3"))

	require.NoError(t, s.SetCanonical(ctx, "S-2", "S-3"))
	require.NoError(t, s.SetCanonical(ctx, "S-2", "S-1"))
	require.NoError(t, s.SetCanonical(ctx, "S-3", "S-1"))
	assert.Error(t, s.SetCanonical(ctx, "S-3", "S-missing"))

	canonical, found, err := s.GetCanonical(ctx, "S-2")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, model.StableID("S-1"), canonical)

	root, found, err := s.GetCanonical(ctx, "S-1")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Empty(t, root)

	aliases, err := s.ListAliases(ctx, "S-1")
	require.NoError(t, err)
	assert.Equal(t, []model.StableID{"S-2", "S-3"}, aliases)

	aliases, err = s.ListAliases(ctx, "S-3")
	require.NoError(t, err)
	assert.Empty(t, aliases, "moved alias leaves the old index")

	all, err := s.ListStableIDs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []model.StableID{"S-1", "S-2", "S-3"}, all)

	require.NoError(t, s.SetRecordStableID(ctx, rec("1001"), "S-2"))
	require.NoError(t, s.SetRecordStableID(ctx, rec("1001"), "S-1"))
	id, found, err := s.GetRecordStableID(ctx, rec("1001"))
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, model.StableID("S-1"), id)

	bound, err := s.ListRecordsForStable(ctx, "S-1")
	require.NoError(t, err)
	assert.Equal(t, []model.RecordID{rec("1001")}, bound)
	bound, err = s.ListRecordsForStable(ctx, "S-2")
	require.NoError(t, err)
	assert.Empty(t, bound)

	require.NoError(t, s.SetEntityIDsForStable(ctx, "S-1", []model.EntityID{5, 2}))
	ids, err := s.GetEntityIDsForStable(ctx, "S-1")
	require.NoError(t, err)
	assert.Equal(t, []model.EntityID{2, 5}, ids)
}

func TestChangeLog(t *testing.T) {
	s := createTestStore(t)
	ctx := t.Context()

	seq, err := s.MaxEventSeq(ctx)
	require.NoError(t, err)
	assert.Zero(t, seq)

	for i := int64(1); i <= 300; i++ {
		require.NoError(t, s.AppendEvent(ctx, model.EventRecord{
			Seq: i, Kind: model.EventAddRecord, Record: rec("r"),
		}))
	}

	seq, err = s.MaxEventSeq(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(300), seq)

	page, err := s.ReadEvents(ctx, 255, 3)
	require.NoError(t, err)
	require.Len(t, page, 3)
	assert.Equal(t, []int64{256, 257, 258}, []int64{page[0].Seq, page[1].Seq, page[2].Seq})
	assert.NotNil(t, page[0].AffectedIDs)
	assert.NotNil(t, page[0].StableIDs)

	all, err := s.ReadEvents(ctx, 0, 0)
	require.NoError(t, err)
	assert.Len(t, all, 300)
}

func TestCancelledContext(t *testing.T) {
	s := createTestStore(t)
	ctx, cancel := contextCancelled(t)
	defer cancel()

	err := s.PutSnapshots(ctx, []model.Snapshot{{EntityID: 1, Exists: true}})
	assert.Error(t, err)

	snap, err := s.GetSnapshot(t.Context(), 1)
	require.NoError(t, err)
	assert.False(t, snap.Known)
}

func TestIdentity_KeyPartsWithSeparatorBytes(t *testing.T) {
	s := createTestStore(t)
	ctx := t.Context()

	left := model.RecordID{DataSource: "A", RecordKey: "B\x00C"}
	right := model.RecordID{DataSource: "A\x00B", RecordKey: "C"}

	require.NoError(t, s.CreateRoot(ctx, "S-A"))
	require.NoError(t, s.SetRecordStableID(ctx, left, "S-A"))

	_, found, err := s.GetRecordStableID(ctx, right)
	require.NoError(t, err)
	assert.False(t, found, "a different record must not see the binding")

	require.NoError(t, s.CreateRoot(ctx, "S-B"))
	require.NoError(t, s.SetRecordStableID(ctx, right, "S-B"))

	id, found, err := s.GetRecordStableID(ctx, left)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, model.StableID("S-A"), id)

	bound, err := s.ListRecordsForStable(ctx, "S-A")
	require.NoError(t, err)
	assert.Equal(t, []model.RecordID{left}, bound)
	bound, err = s.ListRecordsForStable(ctx, "S-B")
	require.NoError(t, err)
	assert.Equal(t, []model.RecordID{right}, bound)
}

func TestIdentity_AliasPrefixIsExact(t *testing.T) {
	s := createTestStore(t)
	ctx := t.Context()

	for _, id := range []model.StableID{"S-1", "S-1\x00S-9", "S-9", "S-2"} {
		require.NoError(t, s.CreateRoot(ctx, id))
	}
	require.NoError(t, s.SetCanonical(ctx, "S-9", "S-1\x00S-9"))
	require.NoError(t, s.SetCanonical(ctx, "S-2", "S-1"))

	aliases, err := s.ListAliases(ctx, "S-1")
	require.NoError(t, err)
	assert.Equal(t, []model.StableID{"S-2"}, aliases)

	aliases, err = s.ListAliases(ctx, "S-1\x00S-9")
	require.NoError(t, err)
	assert.Equal(t, []model.StableID{"S-9"}, aliases)

	all, err := s.ListStableIDs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []model.StableID{"S-1", "S-1\x00S-9", "S-2", "S-9"}, all)
}

func TestSplitSuffix(t *testing.T) {
	key := join(prefixRecord, "A\x00B", "", "C")
	parts, err := splitSuffix(key, prefixRecord)
	require.NoError(t, err)
	assert.Equal(t, []string{"A\x00B", "", "C"}, parts)

	_, err = splitSuffix(append(join(prefixRecord), 5, 'x'), prefixRecord)
	assert.ErrorIs(t, err, errMalformedKey)
}
