package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemDBPutGet(t *testing.T) {
	db := NewMemDB()
	defer db.Close()

	_, err := db.Get([]byte("missing"))
	assert.ErrorIs(t, err, ErrKeyNotFound)

	require.NoError(t, db.Put([]byte("k"), []byte("v1")))
	value, err := db.Get([]byte("k"))
	require.NoError(t, err)
	assert.Equal(t, []byte("v1"), value)

	require.NoError(t, db.Put([]byte("k"), []byte("v2")))
	value, err = db.Get([]byte("k"))
	require.NoError(t, err)
	assert.Equal(t, []byte("v2"), value)
}

func TestMemDBHasDelete(t *testing.T) {
	db := NewMemDB()
	require.NoError(t, db.Put([]byte("k"), []byte("v")))

	ok, err := db.Has([]byte("k"))
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, db.Delete([]byte("k")))
	ok, err = db.Has([]byte("k"))
	require.NoError(t, err)
	assert.False(t, ok)

	// Deleting an absent key is not an error.
	assert.NoError(t, db.Delete([]byte("k")))
}

func TestMemDBValueIsolation(t *testing.T) {
	db := NewMemDB()
	value := []byte("original")
	require.NoError(t, db.Put([]byte("k"), value))
	value[0] = 'X'

	stored, err := db.Get([]byte("k"))
	require.NoError(t, err)
	assert.Equal(t, []byte("original"), stored)

	stored[0] = 'Y'
	again, err := db.Get([]byte("k"))
	require.NoError(t, err)
	assert.Equal(t, []byte("original"), again)
}

func TestMemDBIterateOrderedPrefix(t *testing.T) {
	db := NewMemDB()
	require.NoError(t, db.Put([]byte("loan/b"), []byte("2")))
	require.NoError(t, db.Put([]byte("loan/a"), []byte("1")))
	require.NoError(t, db.Put([]byte("loan/c"), []byte("3")))
	require.NoError(t, db.Put([]byte("other/x"), []byte("9")))

	var keys []string
	err := db.Iterate([]byte("loan/"), func(key, value []byte) bool {
		keys = append(keys, string(key))
		return true
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"loan/a", "loan/b", "loan/c"}, keys)
}

func TestMemDBIterateEarlyStop(t *testing.T) {
	db := NewMemDB()
	for _, k := range []string{"p/1", "p/2", "p/3"} {
		require.NoError(t, db.Put([]byte(k), []byte("v")))
	}

	var visited int
	err := db.Iterate([]byte("p/"), func(key, value []byte) bool {
		visited++
		return visited < 2
	})
	require.NoError(t, err)
	assert.Equal(t, 2, visited)
}

func TestLevelDBRoundTrip(t *testing.T) {
	dir := t.TempDir()
	db, err := NewLevelDB(dir)
	require.NoError(t, err)
	defer db.Close()

	require.NoError(t, db.Put([]byte("ledger/a"), []byte("1")))
	require.NoError(t, db.Put([]byte("ledger/b"), []byte("2")))

	value, err := db.Get([]byte("ledger/a"))
	require.NoError(t, err)
	assert.Equal(t, []byte("1"), value)

	_, err = db.Get([]byte("ledger/z"))
	assert.ErrorIs(t, err, ErrKeyNotFound)

	var keys []string
	err = db.Iterate([]byte("ledger/"), func(key, value []byte) bool {
		keys = append(keys, string(key))
		return true
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"ledger/a", "ledger/b"}, keys)
}
