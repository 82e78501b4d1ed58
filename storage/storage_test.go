package storage

import (
	"bytes"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDB(t *testing.T) *DBStorage {
	t.Helper()
	db, err := NewDBStorage("", InMemoryConfig(), nil)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func keys(t *testing.T, s Store, prefix string) []string {
	t.Helper()
	var out []string
	require.NoError(t, s.Iterate(prefix, func(key string, _ []byte) error {
		out = append(out, key)
		return nil
	}))
	return out
}

func TestDBStorageBasic(t *testing.T) {
	db := newTestDB(t)

	v, err := db.Get("missing")
	require.NoError(t, err)
	assert.Nil(t, v)

	require.NoError(t, db.Put("a:2", []byte("two")))
	require.NoError(t, db.Put("a:1", []byte("one")))
	require.NoError(t, db.Put("b:1", []byte("other")))

	v, err = db.Get("a:1")
	require.NoError(t, err)
	assert.Equal(t, []byte("one"), v)
	assert.Equal(t, []string{"a:1", "a:2"}, keys(t, db, "a:"))

	require.NoError(t, db.Delete("a:1"))
	v, err = db.Get("a:1")
	require.NoError(t, err)
	assert.Nil(t, v)

	m := db.Metrics()
	assert.Equal(t, int64(3), m.PutCount)
	assert.Equal(t, int64(1), m.DeleteCount)
}

func TestDBStorageIterateStop(t *testing.T) {
	db := newTestDB(t)
	for _, k := range []string{"k:1", "k:2", "k:3"} {
		require.NoError(t, db.Put(k, []byte{1}))
	}
	var seen int
	err := db.Iterate("k:", func(string, []byte) error {
		seen++
		if seen == 2 {
			return ErrStopIteration
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, seen)

	boom := errors.New("boom")
	err = db.Iterate("k:", func(string, []byte) error { return boom })
	assert.ErrorIs(t, err, boom)
}

func TestObjectsAndCounters(t *testing.T) {
	db := newTestDB(t)

	type record struct {
		Name  string `json:"name"`
		Count int    `json:"count"`
	}
	require.NoError(t, PutObject(db, "rec:1", record{Name: "x", Count: 3}))

	var got record
	found, err := GetObject(db, "rec:1", &got)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, record{Name: "x", Count: 3}, got)

	found, err = GetObject(db, "rec:2", &got)
	require.NoError(t, err)
	assert.False(t, found)

	n, err := GetUint64(db, "counter")
	require.NoError(t, err)
	assert.Zero(t, n)
	require.NoError(t, PutUint64(db, "counter", 41))
	n, err = GetUint64(db, "counter")
	require.NoError(t, err)
	assert.Equal(t, uint64(41), n)

	require.NoError(t, db.Put("bad", []byte{1, 2}))
	_, err = GetUint64(db, "bad")
	assert.Error(t, err)
}

func TestCacheReadYourWrites(t *testing.T) {
	db := newTestDB(t)
	require.NoError(t, db.Put("x:1", []byte("base")))
	require.NoError(t, db.Put("x:2", []byte("gone")))

	c := NewCache(db)
	require.NoError(t, c.Put("x:1", []byte("staged")))
	require.NoError(t, c.Put("x:3", []byte("new")))
	require.NoError(t, c.Delete("x:2"))

	v, err := c.Get("x:1")
	require.NoError(t, err)
	assert.Equal(t, []byte("staged"), v)
	v, err = c.Get("x:2")
	require.NoError(t, err)
	assert.Nil(t, v)
	assert.Equal(t, []string{"x:1", "x:3"}, keys(t, c, "x:"))

	// Nothing reached the parent yet.
	v, err = db.Get("x:1")
	require.NoError(t, err)
	assert.Equal(t, []byte("base"), v)
	assert.Equal(t, []string{"x:1", "x:2"}, keys(t, db, "x:"))

	dirty := c.Dirty()
	require.Len(t, dirty, 3)
	assert.Equal(t, "x:1", dirty[0].Key)
	assert.Equal(t, "x:2", dirty[1].Key)
	assert.Nil(t, dirty[1].Value)
	assert.Equal(t, 3, c.Len())

	require.NoError(t, c.Write())
	assert.Zero(t, c.Len())
	assert.Equal(t, []string{"x:1", "x:3"}, keys(t, db, "x:"))
	assert.Equal(t, int64(1), db.Metrics().BatchCount)
}

func TestLargeBatchIsSplit(t *testing.T) {
	db := newTestDB(t)
	require.NoError(t, db.Put("p:stale", []byte{1}))

	c := NewCache(db)
	value := bytes.Repeat([]byte("v"), 200)
	const n = 60000
	for i := 0; i < n; i++ {
		require.NoError(t, c.Put(fmt.Sprintf("t:%08d", i), value))
		require.NoError(t, c.Put(fmt.Sprintf("p:%08d", i), []byte{1}))
	}
	require.NoError(t, c.Delete("p:stale"))
	require.NoError(t, c.Write())

	count := 0
	require.NoError(t, db.Iterate("t:", func(_ string, v []byte) error {
		count++
		return nil
	}))
	assert.Equal(t, n, count)

	v, err := db.Get(fmt.Sprintf("p:%08d", n-1))
	require.NoError(t, err)
	assert.Equal(t, []byte{1}, v)
	v, err = db.Get("p:stale")
	require.NoError(t, err)
	assert.Nil(t, v)
	assert.Zero(t, db.Metrics().Errors)
}

func TestCacheDiscard(t *testing.T) {
	db := newTestDB(t)
	c := NewCache(db)
	require.NoError(t, c.Put("y", []byte("1")))
	c.Discard()
	require.NoError(t, c.Write())

	v, err := db.Get("y")
	require.NoError(t, err)
	assert.Nil(t, v)
}

func TestNestedCaches(t *testing.T) {
	db := newTestDB(t)
	block := NewCache(db)
	require.NoError(t, block.Put("n:1", []byte("block")))

	tx := NewCache(block)
	require.NoError(t, tx.Put("n:2", []byte("tx")))
	require.NoError(t, tx.Delete("n:1"))
	assert.Equal(t, []string{"n:2"}, keys(t, tx, "n:"))
	require.NoError(t, tx.Write())

	assert.Equal(t, []string{"n:2"}, keys(t, block, "n:"))
	assert.Empty(t, keys(t, db, "n:"))

	failed := NewCache(block)
	require.NoError(t, failed.Put("n:3", []byte("lost")))
	failed.Discard()

	require.NoError(t, block.Write())
	assert.Equal(t, []string{"n:2"}, keys(t, db, "n:"))
}

func TestGetDBStorageRegistry(t *testing.T) {
	cfg := InMemoryConfig()
	a, err := GetDBStorageWithConfig(cfg, "registry-test", nil)
	require.NoError(t, err)
	b, err := GetDBStorageWithConfig(cfg, "registry-test", nil)
	require.NoError(t, err)
	assert.Same(t, a, b)
	CloseAll()
}
