package lake

import (
	"bytes"
	"context"
	"fmt"

	"github.com/apache/arrow/go/v10/arrow"
	"github.com/apache/arrow/go/v10/arrow/array"
	"github.com/apache/arrow/go/v10/arrow/memory"
	"github.com/apache/arrow/go/v10/parquet"
	"github.com/apache/arrow/go/v10/parquet/pqarrow"
)

// ReadAll materializes every live data file of the table into a single
// batch projected onto the current table schema. Files written before a
// column existed yield nulls for that column. Row order follows the order
// of the live file list and is stable between reads of the same version.
func (t *Table) ReadAll(ctx context.Context) (*Batch, error) {
	meta, err := t.Metadata()
	if err != nil {
		return nil, err
	}

	batch := NewBatch(meta.Schema, nil)
	for _, f := range t.State.Files {
		rows, err := t.readDataFile(ctx, f.Path, meta.Schema)
		if err != nil {
			return nil, fmt.Errorf("unable to read data file %s: %w", f.Path, err)
		}
		batch.Rows = append(batch.Rows, rows...)
	}

	return batch, nil
}

func (t *Table) readDataFile(ctx context.Context, path string, schema *Schema) ([]Row, error) {
	data, err := t.Storage.GetObj(t.Storage.JoinPath(t.TableUri, path))
	if err != nil {
		return nil, fmt.Errorf("unable to get object: %w", err)
	}

	tbl, err := pqarrow.ReadTable(
		ctx,
		bytes.NewReader(data),
		parquet.NewReaderProperties(memory.DefaultAllocator),
		pqarrow.ArrowReadProperties{},
		memory.DefaultAllocator,
	)
	if err != nil {
		return nil, fmt.Errorf("unable to read parquet: %w", err)
	}
	defer tbl.Release()

	// Columns present in the file are looked up by name; columns the file
	// predates read as null.
	fileIndex := make(map[string]int, len(schema.Fields))
	for _, f := range schema.Fields {
		fileIndex[f.Name] = -1
		indices := tbl.Schema().FieldIndices(f.Name)
		if len(indices) == 1 {
			fileIndex[f.Name] = indices[0]
		}
	}

	rows := make([]Row, 0, tbl.NumRows())
	tr := array.NewTableReader(tbl, 0)
	defer tr.Release()

	for tr.Next() {
		rec := tr.Record()
		for i := 0; i < int(rec.NumRows()); i++ {
			row := make(Row, len(schema.Fields))
			for _, f := range schema.Fields {
				idx := fileIndex[f.Name]
				if idx < 0 {
					row[f.Name] = nil
					continue
				}
				v, err := columnValue(rec.Column(idx), i)
				if err != nil {
					return nil, fmt.Errorf("column %s: %w", f.Name, err)
				}
				row[f.Name] = v
			}
			rows = append(rows, row)
		}
	}

	return rows, nil
}

func columnValue(col arrow.Array, i int) (any, error) {
	if col.IsNull(i) {
		return nil, nil
	}

	switch c := col.(type) {
	case *array.String:
		return c.Value(i), nil
	case *array.Int64:
		return c.Value(i), nil
	case *array.Float64:
		return c.Value(i), nil
	case *array.Boolean:
		return c.Value(i), nil
	default:
		return nil, fmt.Errorf("unsupported arrow type %s", col.DataType().Name())
	}
}
