package lake

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"github.com/apache/arrow/go/v10/arrow"
	"github.com/apache/arrow/go/v10/arrow/array"
	"github.com/apache/arrow/go/v10/arrow/memory"
	"github.com/apache/arrow/go/v10/parquet"
	"github.com/apache/arrow/go/v10/parquet/compress"
	"github.com/apache/arrow/go/v10/parquet/pqarrow"
	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
	"k8s.io/utils/pointer"

	"github.com/rawglake/rawglake/storage"
)

// NullPartitionValueDataPath is the directory name used for files whose
// partition value is null, following the hive layout convention.
const NullPartitionValueDataPath = "__HIVE_DEFAULT_PARTITION__"

// Create creates a new table at tableUri by committing version 0 with the
// table metadata. It fails if a table already exists there.
func Create(backend storage.Backend, tableUri, name string, schema *Schema, partitionColumns []string) (*Table, error) {
	table := NewTable(tableUri, backend)
	// A head request on version 0 is enough to detect an existing table;
	// replaying the whole log would be wasted work here.
	if _, err := backend.HeadObj(table.CommitUriFromVersion(0)); err == nil {
		return nil, fmt.Errorf("table already exists at %s", tableUri)
	}

	meta, err := NewMetadataAction(
		uuid.New().String(),
		pointer.String(name),
		schema,
		partitionColumns,
		pointer.Int64(time.Now().UnixMilli()),
	)
	if err != nil {
		return nil, fmt.Errorf("unable to build table metadata: %w", err)
	}

	tx := table.CreateTransaction(nil)
	tx.AddAction(Action{MetaData: meta})
	if _, err := tx.Commit(&Operation{Name: "CREATE TABLE"}); err != nil {
		return nil, fmt.Errorf("unable to create table at %s: %w", tableUri, err)
	}

	return table, nil
}

// Append writes the batch as new data files and commits the adds. Columns
// the table has not seen before widen the schema by union in the same
// commit; columns are never dropped.
func (t *Table) Append(batch *Batch) (int64, error) {
	actions, err := t.stageWrite(batch)
	if err != nil {
		return 0, err
	}

	tx := t.CreateTransaction(nil)
	tx.AddActions(actions)
	version, err := tx.Commit(&Operation{
		Name:       "WRITE",
		Parameters: map[string]string{"mode": "Append"},
	})
	if err != nil {
		return 0, fmt.Errorf("unable to commit append: %w", err)
	}
	return version, nil
}

// ReplacePartition atomically replaces all rows of one partition with the
// batch: tombstones for every live file carrying the partition values and
// adds for the new files go into a single commit, so readers observe
// either the old partition content or the new, never both and never
// neither.
func (t *Table) ReplacePartition(values map[string]string, batch *Batch) (int64, error) {
	actions, err := t.stageWrite(batch)
	if err != nil {
		return 0, err
	}

	removes := removeActions(t.State.FilesForPartition(values))

	tx := t.CreateTransaction(nil)
	tx.AddActions(removes)
	tx.AddActions(actions)
	version, err := tx.Commit(&Operation{
		Name:       "WRITE",
		Parameters: map[string]string{"mode": "ReplacePartition", "partition": formatPartition(values)},
	})
	if err != nil {
		return 0, fmt.Errorf("unable to commit partition replace: %w", err)
	}
	return version, nil
}

// Overwrite atomically replaces the entire table content with the batch.
// The batch schema becomes the table schema: a full load re-states the
// table, it does not evolve it. The metaData action is always part of the
// commit, so an overwrite with zero rows still lands as a valid version
// leaving the table empty.
func (t *Table) Overwrite(batch *Batch) (int64, error) {
	meta, err := t.Metadata()
	if err != nil {
		return 0, err
	}

	actions := make([]Action, 0, len(t.State.Files)+len(batch.Rows)+1)
	metaAction, err := NewMetadataAction(meta.Id, meta.Name, batch.Schema, meta.PartitionColumns, meta.CreatedTime)
	if err != nil {
		return 0, fmt.Errorf("unable to build table metadata: %w", err)
	}
	actions = append(actions, Action{MetaData: metaAction})

	actions = append(actions, removeActions(t.State.Files)...)

	adds, err := t.writeDataFiles(batch, batch.Schema, meta.PartitionColumns)
	if err != nil {
		return 0, err
	}
	actions = append(actions, adds...)

	tx := t.CreateTransaction(nil)
	tx.AddActions(actions)
	version, err := tx.Commit(&Operation{
		Name:       "WRITE",
		Parameters: map[string]string{"mode": "Overwrite"},
	})
	if err != nil {
		return 0, fmt.Errorf("unable to commit overwrite: %w", err)
	}
	return version, nil
}

// stageWrite uploads the batch's data files and returns the actions an
// evolving write needs: a widened metaData action when the batch brings
// new columns, plus the adds.
func (t *Table) stageWrite(batch *Batch) ([]Action, error) {
	meta, err := t.Metadata()
	if err != nil {
		return nil, err
	}

	merged, err := meta.Schema.Union(batch.Schema)
	if err != nil {
		return nil, fmt.Errorf("batch is incompatible with table schema: %w", err)
	}

	actions := make([]Action, 0)
	if !merged.Equal(meta.Schema) {
		metaAction, err := NewMetadataAction(meta.Id, meta.Name, merged, meta.PartitionColumns, meta.CreatedTime)
		if err != nil {
			return nil, fmt.Errorf("unable to build table metadata: %w", err)
		}
		actions = append(actions, Action{MetaData: metaAction})
	}

	adds, err := t.writeDataFiles(batch, merged, meta.PartitionColumns)
	if err != nil {
		return nil, err
	}

	return append(actions, adds...), nil
}

// writeDataFiles divides the batch by partition value and writes one
// parquet file per partition, returning the add actions.
func (t *Table) writeDataFiles(batch *Batch, schema *Schema, partitionColumns []string) ([]Action, error) {
	arrowSchema, err := schema.ToArrowSchema()
	if err != nil {
		return nil, err
	}

	partitioned, err := divideByPartitionValues(batch.Rows, partitionColumns)
	if err != nil {
		return nil, err
	}

	actions := make([]Action, 0, len(partitioned))
	for _, group := range partitioned {
		data, err := encodeParquet(arrowSchema, schema, group.rows)
		if err != nil {
			return nil, err
		}

		path := nextDataPath(partitionColumns, group.values)
		storagePath := t.Storage.JoinPath(t.TableUri, path)
		if err := t.Storage.PutObj(storagePath, data); err != nil {
			return nil, fmt.Errorf("unable to put data file: %w", err)
		}

		actions = append(actions, Action{Add: &ActionAdd{
			Path:             path,
			PartitionValues:  group.values,
			Size:             int64(len(data)),
			NumRecords:       int64(len(group.rows)),
			ModificationTime: time.Now().UnixMilli(),
			DataChange:       true,
		}})
	}

	return actions, nil
}

type partitionGroup struct {
	values map[string]*string
	rows   []Row
}

func divideByPartitionValues(rows []Row, partitionColumns []string) (map[string]*partitionGroup, error) {
	groups := make(map[string]*partitionGroup)
	for _, r := range rows {
		values, err := rowPartitionValues(r, partitionColumns)
		if err != nil {
			return nil, err
		}

		key := partitionKey(partitionColumns, values)
		group, ok := groups[key]
		if !ok {
			group = &partitionGroup{values: values}
			groups[key] = group
		}
		group.rows = append(group.rows, r)
	}
	return groups, nil
}

func rowPartitionValues(r Row, partitionColumns []string) (map[string]*string, error) {
	values := make(map[string]*string, len(partitionColumns))
	for _, c := range partitionColumns {
		v, ok := r[c]
		if !ok {
			return nil, &ErrMissingPartitionColumn{Column: c}
		}
		if v == nil {
			values[c] = nil
			continue
		}
		s, ok := v.(string)
		if !ok {
			s = fmt.Sprintf("%v", v)
		}
		values[c] = &s
	}
	return values, nil
}

func partitionKey(partitionColumns []string, values map[string]*string) string {
	parts := make([]string, len(partitionColumns))
	for i, c := range partitionColumns {
		v := values[c]
		if v == nil {
			parts[i] = NullPartitionValueDataPath
		} else {
			parts[i] = *v
		}
	}
	return strings.Join(parts, "/")
}

func nextDataPath(partitionColumns []string, partitionValues map[string]*string) string {
	fileName := fmt.Sprintf("part-00000-%s-c0000.snappy.parquet", uuid.New().String())
	if len(partitionColumns) == 0 {
		return fileName
	}

	pathParts := make([]string, 0, len(partitionColumns)+1)
	for _, pc := range partitionColumns {
		value := NullPartitionValueDataPath
		if raw := partitionValues[pc]; raw != nil {
			value = *raw
		}
		pathParts = append(pathParts, fmt.Sprintf("%s=%s", pc, value))
	}
	pathParts = append(pathParts, fileName)

	return strings.Join(pathParts, "/")
}

// encodeParquet builds an arrow record from the rows and serializes it to
// an in-memory parquet file. Rows travel through their JSON encoding; the
// record builder fills absent and null columns with nulls.
func encodeParquet(arrowSchema *arrow.Schema, schema *Schema, rows []Row) ([]byte, error) {
	builder := array.NewRecordBuilder(memory.DefaultAllocator, arrowSchema)
	defer builder.Release()

	for _, r := range rows {
		doc, err := jsoniter.Marshal(projectRow(r, schema))
		if err != nil {
			return nil, fmt.Errorf("unable to encode row: %w", err)
		}
		if err := builder.UnmarshalJSON(doc); err != nil {
			return nil, fmt.Errorf("unable to convert row to arrow record: %w", err)
		}
	}

	rec := builder.NewRecord()
	defer rec.Release()

	var buf bytes.Buffer
	props := parquet.NewWriterProperties(parquet.WithCompression(compress.Codecs.Snappy))
	pw, err := pqarrow.NewFileWriter(arrowSchema, &buf, props, pqarrow.DefaultWriterProps())
	if err != nil {
		return nil, fmt.Errorf("unable to create parquet writer: %w", err)
	}
	if err := pw.Write(rec); err != nil {
		return nil, fmt.Errorf("unable to write to parquet writer: %w", err)
	}
	if err := pw.Close(); err != nil {
		return nil, fmt.Errorf("unable to close parquet writer: %w", err)
	}

	return buf.Bytes(), nil
}

// projectRow narrows a row to the schema's columns so stray keys cannot
// leak into data files.
func projectRow(r Row, schema *Schema) map[string]any {
	out := make(map[string]any, len(schema.Fields))
	for _, f := range schema.Fields {
		v, ok := r[f.Name]
		if !ok {
			out[f.Name] = nil
			continue
		}
		out[f.Name] = v
	}
	return out
}

func removeActions(files []ActionAdd) []Action {
	now := time.Now().UnixMilli()
	actions := make([]Action, len(files))
	for i, f := range files {
		actions[i] = Action{Remove: &ActionRemove{
			Path:              f.Path,
			DeletionTimestamp: pointer.Int64(now),
			DataChange:        true,
			PartitionValues:   f.PartitionValues,
		}}
	}
	return actions
}

func formatPartition(values map[string]string) string {
	parts := make([]string, 0, len(values))
	for k, v := range values {
		parts = append(parts, fmt.Sprintf("%s=%s", k, v))
	}
	return strings.Join(parts, ",")
}
