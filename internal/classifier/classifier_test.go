package classifier

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/stableid/internal/model"
	"github.com/roach88/stableid/internal/resolution"
	"github.com/roach88/stableid/internal/testutil"
)

func rec(key string) model.RecordID {
	return model.NewRecordID("TEST", key)
}

func recs(keys ...string) []model.RecordID {
	out := make([]model.RecordID, 0, len(keys))
	for _, k := range keys {
		out = append(out, rec(k))
	}
	return out
}

// seed stores a known snapshot of id holding keys.
func seed(t *testing.T, st *testutil.MemoryStore, id model.EntityID, keys ...string) {
	t.Helper()
	require.NoError(t, st.PutSnapshots(context.Background(), []model.Snapshot{{
		EntityID: id,
		Exists:   true,
		Records:  recs(keys...),
	}}))
}

func byID(summaries []model.EntityChangeSummary) map[model.EntityID]model.EntityChangeSummary {
	out := make(map[model.EntityID]model.EntityChangeSummary, len(summaries))
	for _, s := range summaries {
		out[s.EntityID] = s
	}
	return out
}

func TestDecide(t *testing.T) {
	tests := []struct {
		name       string
		preExists  bool
		postExists bool
		pre        []model.RecordID
		post       []model.RecordID
		next       int
		want       model.Status
	}{
		{"birth", false, true, nil, recs("1"), 0, model.StatusBirth},
		{"death", true, false, recs("1"), nil, 0, model.StatusDeath},
		{"merge into", true, false, recs("1", "2"), nil, 1, model.StatusMergeInto},
		{"split into two", true, false, recs("1", "2"), nil, 2, model.StatusSplitInto},
		{"split into many", true, false, recs("1", "2", "3"), nil, 3, model.StatusSplitInto},
		{"grow", true, true, recs("1"), recs("1", "2"), 1, model.StatusGrow},
		{"shrink", true, true, recs("1", "2"), recs("1"), 1, model.StatusShrink},
		{"changed", true, true, recs("1", "2"), recs("1", "3"), 2, model.StatusChanged},
		{"changed disjoint", true, true, recs("1"), recs("2"), 0, model.StatusChanged},
		{"unchanged", true, true, recs("1", "2"), recs("2", "1"), 1, model.StatusUnchanged},
		{"unchanged empty", true, true, nil, nil, 0, model.StatusUnchanged},
		{"neither", false, false, nil, nil, 0, model.StatusUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Decide(tt.preExists, tt.postExists, tt.pre, tt.post, tt.next)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDecide_EveryStatusReachable(t *testing.T) {
	reached := map[model.Status]bool{}
	for _, preExists := range []bool{false, true} {
		for _, postExists := range []bool{false, true} {
			for next := 0; next <= 2; next++ {
				for _, shape := range [][2][]model.RecordID{
					{recs("1"), recs("1")},
					{recs("1"), recs("1", "2")},
					{recs("1", "2"), recs("1")},
					{recs("1"), recs("2")},
				} {
					reached[Decide(preExists, postExists, shape[0], shape[1], next)] = true
				}
			}
		}
	}
	for _, s := range model.AllStatuses {
		assert.True(t, reached[s], "status %s not reachable", s)
	}
}

func TestClassify_EmptyInput(t *testing.T) {
	st := testutil.NewMemoryStore()
	eng := testutil.NewFakeEngine()
	c := New(st, eng)

	got, err := c.Classify(context.Background(), nil)
	require.NoError(t, err)
	assert.NotNil(t, got)
	assert.Empty(t, got)
	assert.Equal(t, 0, st.Writes())
	assert.Equal(t, int64(0), eng.Reads())
}

func TestClassify_Birth(t *testing.T) {
	st := testutil.NewMemoryStore()
	eng := testutil.NewFakeEngine()
	eng.SetEntity(30, rec("R5"))
	c := New(st, eng)

	got, err := c.Classify(context.Background(), []model.EntityID{30})
	require.NoError(t, err)
	require.Len(t, got, 1)

	s := got[0]
	assert.Equal(t, model.StatusBirth, s.Status)
	assert.False(t, s.PreExists)
	assert.True(t, s.PostExists)
	assert.Empty(t, s.PreRecords)
	assert.Equal(t, recs("R5"), s.PostRecords)
	assert.Empty(t, s.NextEntities)
	assert.Empty(t, s.DeletedRecords)

	snap, err := st.GetSnapshot(context.Background(), 30)
	require.NoError(t, err)
	assert.True(t, snap.Known)
	assert.True(t, snap.Exists)
	assert.Equal(t, recs("R5"), snap.Records)
}

func TestClassify_SplitInto(t *testing.T) {
	st := testutil.NewMemoryStore()
	seed(t, st, 10, "R1", "R2")
	eng := testutil.NewFakeEngine()
	eng.SetEntity(20, rec("R1"))
	eng.SetEntity(21, rec("R2"))
	c := New(st, eng)

	got, err := c.Classify(context.Background(), []model.EntityID{21, 10, 20})
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, []model.EntityID{10, 20, 21}, []model.EntityID{got[0].EntityID, got[1].EntityID, got[2].EntityID})

	s := byID(got)
	assert.Equal(t, model.StatusSplitInto, s[10].Status)
	assert.Equal(t, []model.EntityID{20, 21}, s[10].NextEntities)
	assert.Empty(t, s[10].DeletedRecords)
	assert.Empty(t, s[10].PostRecords)

	assert.Equal(t, model.StatusBirth, s[20].Status)
	assert.Equal(t, model.StatusBirth, s[21].Status)
	assert.Equal(t, []model.EntityID{10}, s[20].Contributors)
	assert.Equal(t, []model.EntityID{10}, s[21].Contributors)
}

func TestClassify_MergeInto(t *testing.T) {
	st := testutil.NewMemoryStore()
	seed(t, st, 1, "1001", "1002")
	seed(t, st, 2, "1003")
	eng := testutil.NewFakeEngine()
	eng.SetEntity(1, recs("1001", "1002", "1003")...)
	c := New(st, eng)

	got, err := c.Classify(context.Background(), []model.EntityID{2, 1, 2})
	require.NoError(t, err)
	require.Len(t, got, 2)

	s := byID(got)
	assert.Equal(t, model.StatusGrow, s[1].Status)
	assert.Equal(t, []model.EntityID{1}, s[1].NextEntities)
	assert.Equal(t, []model.EntityID{1, 2}, s[1].Contributors)

	assert.Equal(t, model.StatusMergeInto, s[2].Status)
	assert.Equal(t, []model.EntityID{1}, s[2].NextEntities)
	assert.Empty(t, s[2].Contributors)

	snap, err := st.GetSnapshot(context.Background(), 2)
	require.NoError(t, err)
	assert.True(t, snap.Known)
	assert.False(t, snap.Exists)
	assert.Empty(t, snap.Records)
}

func TestClassify_DeathAndReturn(t *testing.T) {
	ctx := context.Background()
	st := testutil.NewMemoryStore()
	seed(t, st, 5, "1005")
	eng := testutil.NewFakeEngine()
	c := New(st, eng)

	got, err := c.Classify(ctx, []model.EntityID{5})
	require.NoError(t, err)
	assert.Equal(t, model.StatusDeath, got[0].Status)
	assert.Equal(t, recs("1005"), got[0].DeletedRecords)
	assert.Empty(t, got[0].NextEntities)

	// A retained tombstone that is still gone reports no change.
	got, err = c.Classify(ctx, []model.EntityID{5})
	require.NoError(t, err)
	assert.Equal(t, model.StatusUnchanged, got[0].Status)

	// The id comes back.
	eng.SetEntity(5, rec("1005"))
	got, err = c.Classify(ctx, []model.EntityID{5})
	require.NoError(t, err)
	assert.Equal(t, model.StatusBirth, got[0].Status)
	assert.Empty(t, got[0].PreRecords)
}

func TestClassify_ShrinkAndChanged(t *testing.T) {
	st := testutil.NewMemoryStore()
	seed(t, st, 1, "1001", "1002")
	seed(t, st, 2, "1003", "1004")
	eng := testutil.NewFakeEngine()
	eng.SetEntity(1, rec("1001"))
	eng.SetEntity(2, recs("1003", "1002")...)
	c := New(st, eng)

	got, err := c.Classify(context.Background(), []model.EntityID{1, 2})
	require.NoError(t, err)
	s := byID(got)

	assert.Equal(t, model.StatusShrink, s[1].Status)
	assert.Equal(t, []model.EntityID{1, 2}, s[1].NextEntities)
	assert.Empty(t, s[1].DeletedRecords)

	assert.Equal(t, model.StatusChanged, s[2].Status)
	assert.Equal(t, recs("1004"), s[2].DeletedRecords)
	assert.Equal(t, []model.EntityID{1, 2}, s[2].Contributors)
}

func TestClassify_Idempotent(t *testing.T) {
	ctx := context.Background()
	st := testutil.NewMemoryStore()
	seed(t, st, 10, "R1", "R2")
	seed(t, st, 11, "R3")
	eng := testutil.NewFakeEngine()
	eng.SetEntity(10, rec("R1"))
	eng.SetEntity(12, recs("R2", "R3")...)
	c := New(st, eng)
	ids := []model.EntityID{10, 11, 12}

	first, err := c.Classify(ctx, ids)
	require.NoError(t, err)
	afterFirst := st.Snapshots()

	second, err := c.Classify(ctx, ids)
	require.NoError(t, err)
	assert.Equal(t, afterFirst, st.Snapshots())

	require.Len(t, second, len(first))
	for _, s := range second {
		assert.Equal(t, model.StatusUnchanged, s.Status, "entity %d", s.EntityID)
	}
}

// Every record held by some affected id before the event is either owned by
// an id in that entity's NextEntities or listed in its DeletedRecords, never
// both.
func TestClassify_Conservation(t *testing.T) {
	ctx := context.Background()
	st := testutil.NewMemoryStore()
	seed(t, st, 1, "a", "b", "c")
	seed(t, st, 2, "d", "e")
	seed(t, st, 3, "f")
	eng := testutil.NewFakeEngine()
	eng.SetEntity(1, recs("a", "d")...)
	eng.SetEntity(4, recs("b", "e")...)
	eng.SetEntity(3, rec("f"))
	c := New(st, eng)

	got, err := c.Classify(ctx, []model.EntityID{1, 2, 3, 4})
	require.NoError(t, err)
	s := byID(got)

	owner := map[model.RecordID]model.EntityID{}
	for _, summary := range got {
		for _, r := range summary.PostRecords {
			owner[r] = summary.EntityID
		}
	}

	for _, summary := range got {
		deleted := model.NewRecordSet(summary.DeletedRecords...)
		for _, r := range summary.PreRecords {
			o, owned := owner[r]
			if owned {
				assert.Contains(t, summary.NextEntities, o, "record %s of %d", r, summary.EntityID)
				assert.False(t, deleted.Has(r), "record %s both owned and deleted", r)
			} else {
				assert.True(t, deleted.Has(r), "record %s of %d dropped", r, summary.EntityID)
			}
		}
	}

	assert.Equal(t, model.StatusChanged, s[1].Status)
	assert.Equal(t, recs("c"), s[1].DeletedRecords)
	assert.Equal(t, model.StatusSplitInto, s[2].Status)
	assert.Equal(t, []model.EntityID{1, 4}, s[2].NextEntities)
	assert.Equal(t, model.StatusUnchanged, s[3].Status)
	assert.Equal(t, model.StatusBirth, s[4].Status)
}

func TestClassify_NeverSeenAndAbsentIsInvariantViolation(t *testing.T) {
	st := testutil.NewMemoryStore()
	eng := testutil.NewFakeEngine()
	c := New(st, eng)

	_, err := c.Classify(context.Background(), []model.EntityID{99})
	require.Error(t, err)
	assert.True(t, model.IsInvariantViolation(err))

	var fault *model.Fault
	require.ErrorAs(t, err, &fault)
	assert.Equal(t, model.EntityID(99), fault.EntityID)
	assert.Equal(t, 0, st.Writes())
}

func TestClassify_EngineFaultWritesNothing(t *testing.T) {
	st := testutil.NewMemoryStore()
	seed(t, st, 1, "1001")
	writes := st.Writes()
	eng := testutil.NewFakeEngine()
	eng.SetEntity(1, rec("1001"), rec("1002"))
	cause := errors.New("connection reset")
	eng.FailGet(2, cause)
	c := New(st, eng)

	_, err := c.Classify(context.Background(), []model.EntityID{1, 2})
	require.Error(t, err)
	assert.True(t, model.IsTransientIO(err))
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, writes, st.Writes())

	snap, err := st.GetSnapshot(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, recs("1001"), snap.Records)
}

func TestClassify_NotFoundIsAbsorbed(t *testing.T) {
	st := testutil.NewMemoryStore()
	seed(t, st, 1, "1001")
	eng := testutil.NewFakeEngine()
	c := New(st, eng)

	got, err := c.Classify(context.Background(), []model.EntityID{1})
	require.NoError(t, err)
	assert.False(t, got[0].PostExists)
	assert.Equal(t, model.StatusDeath, got[0].Status)
}

func TestClassify_SnapshotReadFault(t *testing.T) {
	st := testutil.NewMemoryStore()
	st.FailOn(testutil.OpGetSnapshot, errors.New("locked"))
	eng := testutil.NewFakeEngine()
	c := New(st, eng)

	_, err := c.Classify(context.Background(), []model.EntityID{1})
	assert.True(t, model.IsTransientIO(err))
	assert.Equal(t, int64(0), eng.Reads())
}

func TestClassify_SnapshotWriteFault(t *testing.T) {
	st := testutil.NewMemoryStore()
	st.FailOn(testutil.OpPutSnapshots, errors.New("disk full"))
	eng := testutil.NewFakeEngine()
	eng.SetEntity(1, rec("1001"))
	c := New(st, eng)

	_, err := c.Classify(context.Background(), []model.EntityID{1})
	assert.True(t, model.IsTransientIO(err))
	assert.Empty(t, st.Snapshots())
}

func TestClassify_CancelledBeforeReads(t *testing.T) {
	st := testutil.NewMemoryStore()
	eng := testutil.NewFakeEngine()
	eng.SetEntity(1, rec("1001"))
	c := New(st, eng)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.Classify(ctx, []model.EntityID{1})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, st.Snapshots())
}

// countingEngine records the peak number of concurrent reads.
type countingEngine struct {
	*testutil.FakeEngine
	mu      sync.Mutex
	active  int
	peak    int
	release chan struct{}
	started atomic.Int64
}

func (e *countingEngine) GetEntity(ctx context.Context, id model.EntityID) (resolution.Entity, error) {
	e.mu.Lock()
	e.active++
	e.peak = max(e.peak, e.active)
	e.mu.Unlock()
	e.started.Add(1)

	<-e.release

	e.mu.Lock()
	e.active--
	e.mu.Unlock()
	return e.FakeEngine.GetEntity(ctx, id)
}

func TestClassify_FetchConcurrencyIsBounded(t *testing.T) {
	st := testutil.NewMemoryStore()
	eng := &countingEngine{FakeEngine: testutil.NewFakeEngine(), release: make(chan struct{})}
	ids := make([]model.EntityID, 20)
	for i := range ids {
		ids[i] = model.EntityID(i + 1)
		eng.SetEntity(ids[i], rec(string(rune('a'+i))))
	}
	c := New(st, eng, WithFetchConcurrency(3))

	done := make(chan error, 1)
	go func() {
		_, err := c.Classify(context.Background(), ids)
		done <- err
	}()

	for i := 0; i < len(ids); i++ {
		eng.release <- struct{}{}
	}
	require.NoError(t, <-done)

	assert.LessOrEqual(t, eng.peak, 3)
	assert.Equal(t, int64(len(ids)), eng.started.Load())
}

func TestString(t *testing.T) {
	s := model.EntityChangeSummary{
		EntityID:     10,
		Status:       model.StatusSplitInto,
		PreRecords:   recs("R1", "R2"),
		NextEntities: []model.EntityID{20, 21},
	}
	assert.Equal(t, "10 SPLIT_INTO pre=2 post=0 next=[20 21] deleted=0", String(s))
}
