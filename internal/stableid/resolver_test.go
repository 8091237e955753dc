package stableid

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/stableid/internal/model"
	"github.com/roach88/stableid/internal/testutil"
)

func rec(key string) model.RecordID {
	return model.NewRecordID("TEST", key)
}

func newResolver(t *testing.T, ids ...model.StableID) (*Resolver, *testutil.MemoryStore) {
	t.Helper()
	st := testutil.NewMemoryStore()
	return New(st, WithGenerator(testutil.NewFixedIDGenerator(ids...))), st
}

// bindRoot issues id as a root and binds records to it.
func bindRoot(t *testing.T, st *testutil.MemoryStore, id model.StableID, entity model.EntityID, records ...model.RecordID) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, st.CreateRoot(ctx, id))
	for _, r := range records {
		require.NoError(t, st.SetRecordStableID(ctx, r, id))
	}
	require.NoError(t, st.SetEntityIDsForStable(ctx, id, []model.EntityID{entity}))
}

func TestUpsert_MintsForUnboundRecords(t *testing.T) {
	ctx := context.Background()
	r, st := newResolver(t, "S-0001")

	id, err := r.UpsertStableIDForEntity(ctx, 1, []model.RecordID{rec("1002"), rec("1001")})
	require.NoError(t, err)
	assert.Equal(t, model.StableID("S-0001"), id)

	for _, key := range []string{"1001", "1002"} {
		bound, found, err := st.GetRecordStableID(ctx, rec(key))
		require.NoError(t, err)
		require.True(t, found)
		assert.Equal(t, id, bound)
	}

	canonical, ids, err := r.Resolve(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, id, canonical)
	assert.Equal(t, []model.EntityID{1}, ids)
}

func TestUpsert_ReusesSingleCandidate(t *testing.T) {
	ctx := context.Background()
	r, st := newResolver(t) // minting would panic
	bindRoot(t, st, "S-0001", 1, rec("1001"))

	id, err := r.UpsertStableIDForEntity(ctx, 1, []model.RecordID{rec("1001"), rec("1002")})
	require.NoError(t, err)
	assert.Equal(t, model.StableID("S-0001"), id)

	bound, found, err := st.GetRecordStableID(ctx, rec("1002"))
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, id, bound)
}

func TestUpsert_EntityBindingIsUnioned(t *testing.T) {
	ctx := context.Background()
	r, st := newResolver(t)
	bindRoot(t, st, "S-0001", 1, rec("1001"))

	_, err := r.UpsertStableIDForEntity(ctx, 7, []model.RecordID{rec("1001")})
	require.NoError(t, err)

	ids, err := st.GetEntityIDsForStable(ctx, "S-0001")
	require.NoError(t, err)
	assert.Equal(t, []model.EntityID{1, 7}, ids)
}

func TestUpsert_UnchangedBindingWritesNothing(t *testing.T) {
	ctx := context.Background()
	r, st := newResolver(t)
	bindRoot(t, st, "S-0001", 1, rec("1001"))

	_, err := r.UpsertStableIDForEntity(ctx, 1, []model.RecordID{rec("1001")})
	require.NoError(t, err)
	before := st.Writes()

	_, err = r.UpsertStableIDForEntity(ctx, 1, []model.RecordID{rec("1001")})
	require.NoError(t, err)
	// Only the record rebinding is written again.
	assert.Equal(t, before+1, st.Writes())
}

func TestUpsert_EmptyRecordsIsInvariantViolation(t *testing.T) {
	r, st := newResolver(t)

	_, err := r.UpsertStableIDForEntity(context.Background(), 4, nil)
	require.Error(t, err)
	assert.True(t, model.IsInvariantViolation(err))
	assert.Equal(t, 0, st.Writes())
}

func TestUpsert_RecordBoundToUnissuedIDIsInvariantViolation(t *testing.T) {
	ctx := context.Background()
	r, st := newResolver(t)
	require.NoError(t, st.SetRecordStableID(ctx, rec("1001"), "S-ghost"))

	_, err := r.UpsertStableIDForEntity(ctx, 1, []model.RecordID{rec("1001")})
	require.Error(t, err)
	assert.True(t, model.IsInvariantViolation(err))
	assert.False(t, model.IsUnknownStableID(err))
}

func TestUpsert_StoreFailureIsTransient(t *testing.T) {
	ctx := context.Background()
	r, st := newResolver(t, "S-0001")
	cause := errors.New("disk on fire")
	st.FailOn(testutil.OpSetRecordStableID, cause)

	_, err := r.UpsertStableIDForEntity(ctx, 1, []model.RecordID{rec("1001")})
	require.Error(t, err)
	assert.True(t, model.IsTransientIO(err))
	assert.ErrorIs(t, err, cause)
}

// Two logical entities, each with its own stable id, are merged by the
// engine. The survivor keeps its id and the loser becomes an alias.
func TestUpsert_MergeTwoStableIDs(t *testing.T) {
	ctx := context.Background()
	r, st := newResolver(t)
	bindRoot(t, st, "S-b", 2, rec("1003"))
	bindRoot(t, st, "S-a", 1, rec("1001"), rec("1002"))

	id, err := r.UpsertStableIDForEntity(ctx, 1, []model.RecordID{rec("1001"), rec("1002"), rec("1003")})
	require.NoError(t, err)
	assert.Equal(t, model.StableID("S-a"), id)

	canonical, found, err := st.GetCanonical(ctx, "S-b")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, model.StableID("S-a"), canonical)

	for _, key := range []string{"1001", "1002", "1003"} {
		bound, _, err := st.GetRecordStableID(ctx, rec(key))
		require.NoError(t, err)
		assert.Equal(t, model.StableID("S-a"), bound, key)
	}

	// The loser still resolves, through the alias, to the survivor.
	resolved, ids, err := r.Resolve(ctx, "S-b")
	require.NoError(t, err)
	assert.Equal(t, model.StableID("S-a"), resolved)
	assert.Equal(t, []model.EntityID{1}, ids)

	// The loser's own binding is never pruned.
	loserIDs, err := st.GetEntityIDsForStable(ctx, "S-b")
	require.NoError(t, err)
	assert.Equal(t, []model.EntityID{2}, loserIDs)

	aliases, err := r.Aliases(ctx, "S-a")
	require.NoError(t, err)
	assert.Equal(t, []model.StableID{"S-b"}, aliases)
}

func TestUpsert_MergeResolvesCandidatesThroughAliases(t *testing.T) {
	ctx := context.Background()
	r, st := newResolver(t)
	bindRoot(t, st, "S-c", 3, rec("1005"))
	bindRoot(t, st, "S-d", 4, rec("1006"))
	require.NoError(t, st.CreateRoot(ctx, "S-x"))
	require.NoError(t, st.SetCanonical(ctx, "S-x", "S-d"))
	require.NoError(t, st.SetRecordStableID(ctx, rec("1007"), "S-x"))

	id, err := r.UpsertStableIDForEntity(ctx, 3, []model.RecordID{rec("1005"), rec("1007")})
	require.NoError(t, err)
	assert.Equal(t, model.StableID("S-c"), id)

	canonical, err := r.ResolveCanonical(ctx, "S-x")
	require.NoError(t, err)
	assert.Equal(t, model.StableID("S-c"), canonical)

	chain, err := r.Chain(ctx, "S-x")
	require.NoError(t, err)
	assert.Equal(t, []model.StableID{"S-x", "S-d", "S-c"}, chain)
}

func TestResolveCanonical_DeepChain(t *testing.T) {
	ctx := context.Background()
	r, st := newResolver(t)

	const depth = 50
	ids := make([]model.StableID, depth)
	for i := range ids {
		ids[i] = model.StableID(fmt.Sprintf("S-%03d", i))
		require.NoError(t, st.CreateRoot(ctx, ids[i]))
	}
	for i := 0; i < depth-1; i++ {
		require.NoError(t, st.SetCanonical(ctx, ids[i], ids[i+1]))
	}

	canonical, err := r.ResolveCanonical(ctx, ids[0])
	require.NoError(t, err)
	assert.Equal(t, ids[depth-1], canonical)

	chain, err := r.Chain(ctx, ids[0])
	require.NoError(t, err)
	assert.Equal(t, ids, chain)

	aliases, err := r.Aliases(ctx, ids[depth-1])
	require.NoError(t, err)
	assert.Equal(t, ids[:depth-1], aliases)
}

func TestResolveCanonical_RootSelfPointer(t *testing.T) {
	ctx := context.Background()
	r, st := newResolver(t)
	require.NoError(t, st.CreateRoot(ctx, "S-a"))
	require.NoError(t, st.SetCanonical(ctx, "S-a", "S-a"))

	canonical, err := r.ResolveCanonical(ctx, "S-a")
	require.NoError(t, err)
	assert.Equal(t, model.StableID("S-a"), canonical)
}

func TestResolveCanonical_CycleIsDetected(t *testing.T) {
	ctx := context.Background()
	r, st := newResolver(t)
	require.NoError(t, st.SetCanonical(ctx, "S-a", "S-b"))
	require.NoError(t, st.SetCanonical(ctx, "S-b", "S-a"))

	_, err := r.ResolveCanonical(ctx, "S-a")
	require.Error(t, err)
	assert.True(t, model.IsAliasCycle(err))

	var fault *model.Fault
	require.ErrorAs(t, err, &fault)
	assert.Equal(t, model.StableID("S-a"), fault.StableID)

	_, _, err = r.Resolve(ctx, "S-b")
	assert.True(t, model.IsAliasCycle(err))
}

func TestResolveCanonical_CycleBehindTail(t *testing.T) {
	ctx := context.Background()
	r, st := newResolver(t)
	require.NoError(t, st.SetCanonical(ctx, "S-a", "S-b"))
	require.NoError(t, st.SetCanonical(ctx, "S-b", "S-c"))
	require.NoError(t, st.SetCanonical(ctx, "S-c", "S-b"))

	_, err := r.ResolveCanonical(ctx, "S-a")
	assert.True(t, model.IsAliasCycle(err))
}

func TestResolve_UnknownStableID(t *testing.T) {
	r, _ := newResolver(t)

	_, _, err := r.Resolve(context.Background(), "S-nope")
	require.Error(t, err)
	assert.ErrorIs(t, err, model.ErrUnknownStableID)
	assert.True(t, model.IsUnknownStableID(err))
}

func TestResolve_DanglingAlias(t *testing.T) {
	ctx := context.Background()
	r, st := newResolver(t)
	require.NoError(t, st.SetCanonical(ctx, "S-a", "S-missing"))

	_, err := r.ResolveCanonical(ctx, "S-a")
	require.Error(t, err)
	assert.True(t, model.IsInvariantViolation(err))
	assert.NotErrorIs(t, err, model.ErrUnknownStableID)
	assert.Contains(t, err.Error(), "dangling alias")
}

func TestResolve_TransientRead(t *testing.T) {
	r, st := newResolver(t)
	st.FailOn(testutil.OpGetCanonical, errors.New("timeout"))

	_, _, err := r.Resolve(context.Background(), "S-a")
	assert.True(t, model.IsTransientIO(err))
}

func TestAliases_CycleIsDetected(t *testing.T) {
	ctx := context.Background()
	r, st := newResolver(t)
	require.NoError(t, st.SetCanonical(ctx, "S-a", "S-b"))
	require.NoError(t, st.SetCanonical(ctx, "S-b", "S-a"))

	_, err := r.Aliases(ctx, "S-a")
	assert.True(t, model.IsAliasCycle(err))
}

func TestAliases_RootWithoutAliases(t *testing.T) {
	ctx := context.Background()
	r, st := newResolver(t)
	require.NoError(t, st.CreateRoot(ctx, "S-a"))

	aliases, err := r.Aliases(ctx, "S-a")
	require.NoError(t, err)
	assert.Empty(t, aliases)
	assert.NotNil(t, aliases)
}

func permutations(ids []model.StableID) [][]model.StableID {
	if len(ids) <= 1 {
		return [][]model.StableID{append([]model.StableID(nil), ids...)}
	}
	var out [][]model.StableID
	for i := range ids {
		rest := make([]model.StableID, 0, len(ids)-1)
		rest = append(rest, ids[:i]...)
		rest = append(rest, ids[i+1:]...)
		for _, p := range permutations(rest) {
			out = append(out, append([]model.StableID{ids[i]}, p...))
		}
	}
	return out
}

func TestPickSurvivor_OrderIndependent(t *testing.T) {
	ids := []model.StableID{"S-0004", "E-9f", "S-0001", "E-10"}
	perms := permutations(ids)
	require.Len(t, perms, 24)

	for _, p := range perms {
		assert.Equal(t, model.StableID("E-10"), PickSurvivor(p), "permutation %v", p)
	}
	assert.Equal(t, model.StableID(""), PickSurvivor(nil))
}

func TestUpsert_SurvivorIndependentOfRecordOrder(t *testing.T) {
	keys := []string{"2001", "2002", "2003", "2004"}
	roots := map[string]model.StableID{
		"2001": "S-d",
		"2002": "S-b",
		"2003": "S-c",
		"2004": "S-a",
	}

	var recordIDs []model.StableID
	for _, k := range keys {
		recordIDs = append(recordIDs, model.StableID(k))
	}

	for _, p := range permutations(recordIDs) {
		ctx := context.Background()
		r, st := newResolver(t)
		records := make([]model.RecordID, 0, len(p))
		for i, k := range p {
			bindRoot(t, st, roots[string(k)], model.EntityID(i+1), rec(string(k)))
			records = append(records, rec(string(k)))
		}

		id, err := r.UpsertStableIDForEntity(ctx, 9, records)
		require.NoError(t, err)
		assert.Equal(t, model.StableID("S-a"), id, "order %v", p)

		aliases, err := r.Aliases(ctx, "S-a")
		require.NoError(t, err)
		assert.Equal(t, []model.StableID{"S-b", "S-c", "S-d"}, aliases)
	}
}

func TestUpsert_MergeHook(t *testing.T) {
	ctx := context.Background()
	var gotSurvivor model.StableID
	var gotLosers []model.StableID
	st := testutil.NewMemoryStore()
	r := New(st, WithMergeHook(func(survivor model.StableID, losers []model.StableID) {
		gotSurvivor = survivor
		gotLosers = losers
	}))
	bindRoot(t, st, "S-c", 1, rec("1"))
	bindRoot(t, st, "S-a", 2, rec("2"))
	bindRoot(t, st, "S-b", 3, rec("3"))

	_, err := r.UpsertStableIDForEntity(ctx, 1, []model.RecordID{rec("1"), rec("2"), rec("3")})
	require.NoError(t, err)
	assert.Equal(t, model.StableID("S-a"), gotSurvivor)
	assert.Equal(t, []model.StableID{"S-b", "S-c"}, gotLosers)
}
