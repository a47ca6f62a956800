package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func exerciseDatabase(t *testing.T, db Database) {
	t.Helper()

	_, err := db.Get([]byte("missing"))
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, db.Put([]byte("a"), []byte("1")))
	value, err := db.Get([]byte("a"))
	require.NoError(t, err)
	assert.Equal(t, []byte("1"), value)

	batch := db.NewBatch()
	batch.Put([]byte("b"), []byte("2"))
	batch.Put([]byte("a"), []byte("3"))
	batch.Delete([]byte("b"))
	assert.Equal(t, 3, batch.Len())

	// nothing is visible before Write
	_, err = db.Get([]byte("b"))
	assert.ErrorIs(t, err, ErrNotFound)
	value, err = db.Get([]byte("a"))
	require.NoError(t, err)
	assert.Equal(t, []byte("1"), value)

	require.NoError(t, batch.Write())
	value, err = db.Get([]byte("a"))
	require.NoError(t, err)
	assert.Equal(t, []byte("3"), value)
	_, err = db.Get([]byte("b"))
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, db.Delete([]byte("a")))
	_, err = db.Get([]byte("a"))
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemDB(t *testing.T) {
	db := NewMemDB()
	defer db.Close()
	exerciseDatabase(t, db)
}

func TestMemDBCopiesValues(t *testing.T) {
	db := NewMemDB()
	value := []byte("abc")
	require.NoError(t, db.Put([]byte("k"), value))
	value[0] = 'x'

	stored, err := db.Get([]byte("k"))
	require.NoError(t, err)
	assert.Equal(t, []byte("abc"), stored)
}

func TestLevelDB(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state")
	db, err := NewLevelDB(path)
	require.NoError(t, err)
	exerciseDatabase(t, db)

	require.NoError(t, db.Put([]byte("persist"), []byte("yes")))
	db.Close()

	reopened, err := NewLevelDB(path)
	require.NoError(t, err)
	defer reopened.Close()
	value, err := reopened.Get([]byte("persist"))
	require.NoError(t, err)
	assert.Equal(t, []byte("yes"), value)
}

func TestPostgresDB(t *testing.T) {
	dsn := os.Getenv("POSTGRES_TEST_DSN")
	if dsn == "" {
		t.Skip("POSTGRES_TEST_DSN not set")
	}

	db, err := NewPostgresDB(context.Background(), dsn, "test-"+t.Name())
	require.NoError(t, err)
	defer db.Close()
	exerciseDatabase(t, db)
}

func TestPostgresDBRequiresDSN(t *testing.T) {
	_, err := NewPostgresDB(context.Background(), "", "ns")
	assert.Error(t, err)
}
