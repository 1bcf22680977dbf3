package engine

import (
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nova-docdb/docdb/internal/config"
	"github.com/nova-docdb/docdb/internal/document"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Default()
	cfg.Storage.Path = filepath.Join(dir, "docdb.db")
	cfg.Storage.WALPath = filepath.Join(dir, "docdb.wal")
	cfg.BufferPool.Capacity = 64
	return cfg
}

func userDoc(name string, age int32, city string) *document.Document {
	d := document.New()
	d.Set("name", document.String(name))
	d.Set("age", document.Int32(age))
	d.Set("city", document.String(city))
	return d
}

func TestEngine_InsertFindCount(t *testing.T) {
	cfg := testConfig(t)
	e, err := Open(cfg)
	require.NoError(t, err)
	defer e.Close()

	require.NoError(t, e.CreateCollection("users"))
	for i := 0; i < 20; i++ {
		city := "LA"
		if i < 10 {
			city = "NYC"
		}
		_, err := e.Insert("users", userDoc(fmt.Sprintf("User_%d", i), int32(20+i), city))
		require.NoError(t, err)
	}

	n, err := e.Count("users")
	require.NoError(t, err)
	assert.Equal(t, 20, n)

	filter := document.New()
	filter.Set("city", document.String("NYC"))
	found, err := e.Find("users", filter)
	require.NoError(t, err)
	assert.Len(t, found, 10)
}

func TestEngine_DeleteVisibility(t *testing.T) {
	cfg := testConfig(t)
	e, err := Open(cfg)
	require.NoError(t, err)
	defer e.Close()

	require.NoError(t, e.CreateCollection("users"))
	rid, err := e.Insert("users", userDoc("User_0", 20, "NYC"))
	require.NoError(t, err)
	for i := 1; i < 20; i++ {
		_, err := e.Insert("users", userDoc(fmt.Sprintf("User_%d", i), int32(20+i), "LA"))
		require.NoError(t, err)
	}

	filter := document.New()
	filter.Set("name", document.String("User_0"))
	n, err := e.Delete("users", filter)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	count, err := e.Count("users")
	require.NoError(t, err)
	assert.Equal(t, 19, count)

	_ = rid
}

func TestEngine_UpdateMergePreservesFields(t *testing.T) {
	cfg := testConfig(t)
	e, err := Open(cfg)
	require.NoError(t, err)
	defer e.Close()

	require.NoError(t, e.CreateCollection("users"))
	_, err = e.Insert("users", userDoc("Alice", 30, "NYC"))
	require.NoError(t, err)

	filter := document.New()
	filter.Set("name", document.String("Alice"))
	patch := document.New()
	patch.Set("age", document.Int32(31))

	n, err := e.Update("users", filter, patch)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := e.Find("users", filter)
	require.NoError(t, err)
	require.Len(t, got, 1)
	age, _ := got[0].Get("age")
	city, _ := got[0].Get("city")
	assert.EqualValues(t, 31, age.I32)
	assert.Equal(t, "NYC", city.Str)
}

func TestEngine_IndexScanMatchesScenario(t *testing.T) {
	cfg := testConfig(t)
	e, err := Open(cfg)
	require.NoError(t, err)
	defer e.Close()

	require.NoError(t, e.CreateCollection("users"))
	for i := 0; i < 20; i++ {
		_, err := e.Insert("users", userDoc(fmt.Sprintf("User_%d", i), int32(20+i), "LA"))
		require.NoError(t, err)
	}
	require.NoError(t, e.CreateIndex("users", "name"))

	tr, err := e.catalog.Index("users", "name")
	require.NoError(t, err)
	entries, err := tr.RangeScan("User_1", "User_3")
	require.NoError(t, err)
	assert.Len(t, entries, 13)
}

func TestEngine_ReopenRecoversCommittedData(t *testing.T) {
	cfg := testConfig(t)
	e, err := Open(cfg)
	require.NoError(t, err)

	require.NoError(t, e.CreateCollection("users"))
	_, err = e.Insert("users", userDoc("Alice", 30, "NYC"))
	require.NoError(t, err)
	require.NoError(t, e.Close())

	e2, err := Open(cfg)
	require.NoError(t, err)
	defer e2.Close()

	assert.Contains(t, e2.ListCollections(), "users")
	n, err := e2.Count("users")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}
