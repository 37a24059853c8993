package lake

import (
	"context"
	"path/filepath"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rawglake/rawglake/storage"
)

func gamesSchema() *Schema {
	return NewSchema(
		Field{Name: "id", Type: DataTypeLong},
		Field{Name: "name", Type: DataTypeString},
		Field{Name: "rating", Type: DataTypeDouble},
		Field{Name: "tba", Type: DataTypeBoolean},
		Field{Name: "extraction_date", Type: DataTypeString},
	)
}

func gameRow(id int64, name string, rating any, date string) Row {
	return Row{
		"id":              id,
		"name":            name,
		"rating":          rating,
		"tba":             false,
		"extraction_date": date,
	}
}

func newGamesTable(t *testing.T) *Table {
	t.Helper()

	uri := filepath.Join(t.TempDir(), "bronze", "games")
	table, err := Create(&storage.FileBackend{}, uri, "games", gamesSchema(), []string{"extraction_date"})
	require.NoError(t, err)
	require.EqualValues(t, 0, table.Version)

	return table
}

func sortById(rows []Row) {
	sort.Slice(rows, func(i, j int) bool {
		return rows[i]["id"].(int64) < rows[j]["id"].(int64)
	})
}

func TestCreateAndReopen(t *testing.T) {
	table := newGamesTable(t)

	reopened, err := OpenTableWithBackend(table.TableUri, table.Storage)
	require.NoError(t, err)
	assert.EqualValues(t, 0, reopened.Version)

	meta, err := reopened.Metadata()
	require.NoError(t, err)
	assert.True(t, meta.Schema.Equal(gamesSchema()))
	assert.Equal(t, []string{"extraction_date"}, meta.PartitionColumns)
	require.NotNil(t, meta.Name)
	assert.Equal(t, "games", *meta.Name)
}

func TestCreateRefusesExistingTable(t *testing.T) {
	table := newGamesTable(t)

	_, err := Create(table.Storage, table.TableUri, "games", gamesSchema(), nil)
	assert.ErrorContains(t, err, "already exists")
}

func TestOpenMissingTable(t *testing.T) {
	uri := filepath.Join(t.TempDir(), "nope")
	_, err := OpenTableWithBackend(uri, &storage.FileBackend{})

	var notFound *ErrTableNotFound
	assert.ErrorAs(t, err, &notFound)
}

func TestAppendRoundTrip(t *testing.T) {
	table := newGamesTable(t)

	batch := NewBatch(gamesSchema(), []Row{
		gameRow(1, "Portal", 4.5, "2024-01-15"),
		gameRow(2, "Unannounced", nil, "2024-01-15"),
	})

	version, err := table.Append(batch)
	require.NoError(t, err)
	assert.EqualValues(t, 1, version)

	got, err := table.ReadAll(context.Background())
	require.NoError(t, err)
	require.Len(t, got.Rows, 2)
	sortById(got.Rows)

	assert.Equal(t, int64(1), got.Rows[0]["id"])
	assert.Equal(t, "Portal", got.Rows[0]["name"])
	assert.Equal(t, 4.5, got.Rows[0]["rating"])
	assert.Equal(t, false, got.Rows[0]["tba"])
	assert.Equal(t, "2024-01-15", got.Rows[0]["extraction_date"])
	assert.Nil(t, got.Rows[1]["rating"])
}

func TestAppendPartitionsByColumnValue(t *testing.T) {
	table := newGamesTable(t)

	batch := NewBatch(gamesSchema(), []Row{
		gameRow(1, "Portal", 4.5, "2024-01-15"),
		gameRow(2, "Celeste", 4.4, "2024-01-16"),
	})

	_, err := table.Append(batch)
	require.NoError(t, err)
	require.Len(t, table.State.Files, 2)

	prefixes := make([]string, 0, 2)
	for _, f := range table.State.Files {
		prefixes = append(prefixes, filepath.Dir(f.Path))
	}
	sort.Strings(prefixes)
	assert.Equal(t, []string{"extraction_date=2024-01-15", "extraction_date=2024-01-16"}, prefixes)
}

func TestReplacePartitionIsIdempotent(t *testing.T) {
	table := newGamesTable(t)

	batch := NewBatch(gamesSchema(), []Row{
		gameRow(1, "Portal", 4.5, "2024-01-15"),
		gameRow(2, "Celeste", 4.4, "2024-01-15"),
	})
	partition := map[string]string{"extraction_date": "2024-01-15"}

	_, err := table.ReplacePartition(partition, batch)
	require.NoError(t, err)
	_, err = table.ReplacePartition(partition, batch)
	require.NoError(t, err)

	got, err := table.ReadAll(context.Background())
	require.NoError(t, err)
	require.Len(t, got.Rows, 2)
	sortById(got.Rows)
	assert.Equal(t, "Portal", got.Rows[0]["name"])
	assert.Equal(t, "Celeste", got.Rows[1]["name"])

	// The first write's file became a tombstone rather than being erased.
	assert.Len(t, table.State.Tombstones, 1)
}

func TestReplacePartitionLeavesOthersUntouched(t *testing.T) {
	table := newGamesTable(t)

	_, err := table.Append(NewBatch(gamesSchema(), []Row{
		gameRow(1, "Portal", 4.5, "2024-01-15"),
		gameRow(2, "Celeste", 4.4, "2024-01-16"),
	}))
	require.NoError(t, err)

	var untouched string
	for _, f := range table.State.Files {
		if *f.PartitionValues["extraction_date"] == "2024-01-16" {
			untouched = f.Path
		}
	}
	require.NotEmpty(t, untouched)
	before, err := table.Storage.GetObj(table.Storage.JoinPath(table.TableUri, untouched))
	require.NoError(t, err)

	_, err = table.ReplacePartition(
		map[string]string{"extraction_date": "2024-01-15"},
		NewBatch(gamesSchema(), []Row{gameRow(3, "Hades", 4.7, "2024-01-15")}),
	)
	require.NoError(t, err)

	after, err := table.Storage.GetObj(table.Storage.JoinPath(table.TableUri, untouched))
	require.NoError(t, err)
	assert.Equal(t, before, after)

	got, err := table.ReadAll(context.Background())
	require.NoError(t, err)
	require.Len(t, got.Rows, 2)
	sortById(got.Rows)
	assert.Equal(t, "Celeste", got.Rows[0]["name"])
	assert.Equal(t, "Hades", got.Rows[1]["name"])
}

func TestOverwriteReplacesContentAndSchema(t *testing.T) {
	uri := filepath.Join(t.TempDir(), "silver", "genres")
	schema := NewSchema(
		Field{Name: "id", Type: DataTypeLong},
		Field{Name: "name", Type: DataTypeString},
	)
	table, err := Create(&storage.FileBackend{}, uri, "genres", schema, nil)
	require.NoError(t, err)

	_, err = table.Overwrite(NewBatch(schema, []Row{
		{"id": int64(1), "name": "Action"},
		{"id": int64(2), "name": "Indie"},
	}))
	require.NoError(t, err)

	wider := NewSchema(
		Field{Name: "id", Type: DataTypeLong},
		Field{Name: "name", Type: DataTypeString},
		Field{Name: "slug", Type: DataTypeString},
	)
	_, err = table.Overwrite(NewBatch(wider, []Row{
		{"id": int64(3), "name": "Puzzle", "slug": "puzzle"},
	}))
	require.NoError(t, err)

	meta, err := table.Metadata()
	require.NoError(t, err)
	assert.True(t, meta.Schema.Equal(wider))

	got, err := table.ReadAll(context.Background())
	require.NoError(t, err)
	require.Len(t, got.Rows, 1)
	assert.Equal(t, "Puzzle", got.Rows[0]["name"])
	assert.Equal(t, "puzzle", got.Rows[0]["slug"])
}

func TestOverwriteWithEmptyBatchEmptiesTable(t *testing.T) {
	uri := filepath.Join(t.TempDir(), "silver", "genres")
	schema := NewSchema(
		Field{Name: "id", Type: DataTypeLong},
		Field{Name: "name", Type: DataTypeString},
	)
	table, err := Create(&storage.FileBackend{}, uri, "genres", schema, nil)
	require.NoError(t, err)

	// A fresh table accepts an empty overwrite.
	version, err := table.Overwrite(NewBatch(schema, nil))
	require.NoError(t, err)
	assert.EqualValues(t, 1, version)

	_, err = table.Overwrite(NewBatch(schema, []Row{{"id": int64(1), "name": "Action"}}))
	require.NoError(t, err)

	// And an empty overwrite on a populated table leaves it empty.
	_, err = table.Overwrite(NewBatch(schema, nil))
	require.NoError(t, err)

	got, err := table.ReadAll(context.Background())
	require.NoError(t, err)
	assert.Empty(t, got.Rows)
}

func TestAppendWidensSchemaByUnion(t *testing.T) {
	table := newGamesTable(t)

	_, err := table.Append(NewBatch(gamesSchema(), []Row{
		gameRow(1, "Portal", 4.5, "2024-01-15"),
	}))
	require.NoError(t, err)

	wider, err := gamesSchema().Union(NewSchema(Field{Name: "metacritic", Type: DataTypeLong}))
	require.NoError(t, err)

	row := gameRow(2, "Celeste", 4.4, "2024-01-16")
	row["metacritic"] = int64(92)
	_, err = table.Append(NewBatch(wider, []Row{row}))
	require.NoError(t, err)

	meta, err := table.Metadata()
	require.NoError(t, err)
	assert.True(t, meta.Schema.Equal(wider))

	got, err := table.ReadAll(context.Background())
	require.NoError(t, err)
	require.Len(t, got.Rows, 2)
	sortById(got.Rows)

	// The file written before the column existed reads as null.
	assert.Nil(t, got.Rows[0]["metacritic"])
	assert.Equal(t, int64(92), got.Rows[1]["metacritic"])
}

func TestAppendRejectsTypeConflict(t *testing.T) {
	table := newGamesTable(t)

	conflicting := NewSchema(Field{Name: "rating", Type: DataTypeString})
	_, err := table.Append(NewBatch(conflicting, []Row{{"rating": "high", "extraction_date": "2024-01-15"}}))
	assert.ErrorContains(t, err, "changed type")
}

func TestAppendRequiresPartitionColumn(t *testing.T) {
	table := newGamesTable(t)

	_, err := table.Append(NewBatch(gamesSchema(), []Row{{"id": int64(1), "name": "Portal"}}))

	var missing *ErrMissingPartitionColumn
	assert.ErrorAs(t, err, &missing)
}

func TestStaleHandleRetriesCommit(t *testing.T) {
	table := newGamesTable(t)

	stale, err := OpenTableWithBackend(table.TableUri, table.Storage)
	require.NoError(t, err)

	_, err = table.Append(NewBatch(gamesSchema(), []Row{
		gameRow(1, "Portal", 4.5, "2024-01-15"),
	}))
	require.NoError(t, err)

	// The second handle still believes it is at version 0; its commit
	// attempt collides, refreshes, and lands as version 2.
	version, err := stale.Append(NewBatch(gamesSchema(), []Row{
		gameRow(2, "Celeste", 4.4, "2024-01-16"),
	}))
	require.NoError(t, err)
	assert.EqualValues(t, 2, version)

	got, err := stale.ReadAll(context.Background())
	require.NoError(t, err)
	assert.Len(t, got.Rows, 2)
}

func TestLoadIgnoresStagedCommits(t *testing.T) {
	table := newGamesTable(t)

	_, err := table.Append(NewBatch(gamesSchema(), []Row{
		gameRow(1, "Portal", 4.5, "2024-01-15"),
	}))
	require.NoError(t, err)

	// A writer that crashed between staging and renaming leaves a tmp
	// object behind; reloading must skip it.
	leftover := table.Storage.JoinPath(table.LogUri, "_commit_deadbeef.json.tmp")
	require.NoError(t, table.Storage.PutObj(leftover, []byte("partial")))

	reopened, err := OpenTableWithBackend(table.TableUri, table.Storage)
	require.NoError(t, err)
	assert.EqualValues(t, 1, reopened.Version)

	got, err := reopened.ReadAll(context.Background())
	require.NoError(t, err)
	assert.Len(t, got.Rows, 1)
}

func TestFailedCommitRemovesStagedFile(t *testing.T) {
	table := newGamesTable(t)

	// Claim the next version with content the log replay cannot decode,
	// so the commit's conflict-refresh fails and the transaction aborts.
	bogus := table.CommitUriFromVersion(table.Version + 1)
	require.NoError(t, table.Storage.PutObj(bogus, []byte("{broken")))

	_, err := table.Append(NewBatch(gamesSchema(), []Row{
		gameRow(1, "Portal", 4.5, "2024-01-15"),
	}))
	require.Error(t, err)

	objs, err := table.Storage.ListObjs(table.LogUri + "/")
	require.NoError(t, err)
	for _, o := range objs {
		assert.NotContains(t, o.Path, ".tmp")
	}
}

func TestCommitHistoryRecordsOperations(t *testing.T) {
	table := newGamesTable(t)

	_, err := table.Append(NewBatch(gamesSchema(), []Row{
		gameRow(1, "Portal", 4.5, "2024-01-15"),
	}))
	require.NoError(t, err)

	reopened, err := OpenTableWithBackend(table.TableUri, table.Storage)
	require.NoError(t, err)
	require.Len(t, reopened.State.CommitInfos, 2)

	created, ok := reopened.State.CommitInfos[0].GetString("operation")
	require.True(t, ok)
	assert.Equal(t, "CREATE TABLE", created)

	wrote, ok := reopened.State.CommitInfos[1].GetString("operation")
	require.True(t, ok)
	assert.Equal(t, "WRITE", wrote)
}
