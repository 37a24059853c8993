// Package lake implements a minimal partitioned table store: parquet data
// files laid out by partition value plus an ordered JSON commit log that
// records which files make up the table. Readers replay the log; writers
// commit adds and removes atomically, which is what makes idempotent
// per-partition replacement possible.
package lake

import (
	"fmt"

	"github.com/apache/arrow/go/v10/arrow"
)

type DataType string

const (
	DataTypeString  DataType = "string"
	DataTypeLong    DataType = "long"
	DataTypeDouble  DataType = "double"
	DataTypeBoolean DataType = "boolean"
)

// Field describes one column of a table. Columns are always nullable: the
// upstream catalog omits fields freely and schema evolution fills old
// files' missing columns with nulls.
type Field struct {
	Name string   `json:"name"`
	Type DataType `json:"type"`
}

// Schema is the flat column schema of a table. Field order is the storage
// order of columns in newly written data files.
type Schema struct {
	Fields []Field `json:"fields"`
}

func NewSchema(fields ...Field) *Schema {
	return &Schema{Fields: fields}
}

func (s *Schema) Field(name string) (Field, bool) {
	for _, f := range s.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

// Union merges other into s, appending columns s does not yet have.
// Columns are never dropped and never change type; a type conflict is an
// error surfaced to the writer.
func (s *Schema) Union(other *Schema) (*Schema, error) {
	merged := &Schema{Fields: make([]Field, len(s.Fields))}
	copy(merged.Fields, s.Fields)

	for _, f := range other.Fields {
		existing, ok := merged.Field(f.Name)
		if !ok {
			merged.Fields = append(merged.Fields, f)
			continue
		}
		if existing.Type != f.Type {
			return nil, fmt.Errorf("column %q changed type from %s to %s", f.Name, existing.Type, f.Type)
		}
	}
	return merged, nil
}

func (s *Schema) Equal(other *Schema) bool {
	if len(s.Fields) != len(other.Fields) {
		return false
	}
	for i, f := range s.Fields {
		if other.Fields[i] != f {
			return false
		}
	}
	return true
}

func (d DataType) AsArrowType() (arrow.DataType, error) {
	switch d {
	case DataTypeString:
		return arrow.BinaryTypes.String, nil
	case DataTypeLong:
		return arrow.PrimitiveTypes.Int64, nil
	case DataTypeDouble:
		return arrow.PrimitiveTypes.Float64, nil
	case DataTypeBoolean:
		return arrow.FixedWidthTypes.Boolean, nil
	default:
		return nil, fmt.Errorf("no arrow datatype known for %q", string(d))
	}
}

func (s *Schema) ToArrowSchema() (*arrow.Schema, error) {
	fields := make([]arrow.Field, len(s.Fields))
	for i, f := range s.Fields {
		at, err := f.Type.AsArrowType()
		if err != nil {
			return nil, err
		}
		fields[i] = arrow.Field{
			Name:     f.Name,
			Type:     at,
			Nullable: true,
		}
	}
	return arrow.NewSchema(fields, nil), nil
}
