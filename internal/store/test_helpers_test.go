package store

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/stableid/internal/model"
)

// openTestStore opens a file-backed store that is closed with the test.
func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "stableid.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func rec(key string) model.RecordID {
	return model.NewRecordID("TEST", key)
}
