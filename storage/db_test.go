package storage

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func exerciseDatabase(t *testing.T, db Database) {
	t.Helper()

	_, err := db.Get([]byte("missing"))
	require.True(t, errors.Is(err, ErrNotFound))

	require.NoError(t, db.Put([]byte("a"), []byte("1")))
	got, err := db.Get([]byte("a"))
	require.NoError(t, err)
	require.Equal(t, []byte("1"), got)

	batch := NewBatch()
	batch.Put([]byte("b"), []byte("2"))
	batch.Put([]byte("c"), []byte("3"))
	batch.Delete([]byte("a"))
	require.Equal(t, 3, batch.Len())
	require.NoError(t, db.Write(batch))

	_, err = db.Get([]byte("a"))
	require.True(t, errors.Is(err, ErrNotFound))
	got, err = db.Get([]byte("c"))
	require.NoError(t, err)
	require.Equal(t, []byte("3"), got)

	require.NoError(t, db.Delete([]byte("b")))
	_, err = db.Get([]byte("b"))
	require.True(t, errors.Is(err, ErrNotFound))
}

func TestMemDB(t *testing.T) {
	db := NewMemDB()
	defer db.Close()
	exerciseDatabase(t, db)
	require.Equal(t, 1, db.Len())
}

func TestMemDBReturnsCopies(t *testing.T) {
	db := NewMemDB()
	value := []byte("abc")
	require.NoError(t, db.Put([]byte("k"), value))
	value[0] = 'z'

	got, err := db.Get([]byte("k"))
	require.NoError(t, err)
	require.Equal(t, []byte("abc"), got)
	got[1] = 'z'

	again, err := db.Get([]byte("k"))
	require.NoError(t, err)
	require.Equal(t, []byte("abc"), again)
}

func TestLevelDB(t *testing.T) {
	db, err := NewLevelDB(t.TempDir())
	require.NoError(t, err)
	defer db.Close()
	exerciseDatabase(t, db)
}

func TestLevelDBBatchSurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	db, err := NewLevelDB(dir)
	require.NoError(t, err)

	batch := NewBatch()
	batch.Put([]byte("pool/ETH"), []byte("state"))
	require.NoError(t, db.Write(batch))
	db.Close()

	reopened, err := NewLevelDB(dir)
	require.NoError(t, err)
	defer reopened.Close()
	got, err := reopened.Get([]byte("pool/ETH"))
	require.NoError(t, err)
	require.Equal(t, []byte("state"), got)
}

func TestBoltDB(t *testing.T) {
	db, err := NewBoltDB(filepath.Join(t.TempDir(), "state.db"), nil)
	require.NoError(t, err)
	defer db.Close()
	exerciseDatabase(t, db)
}
