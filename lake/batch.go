package lake

// Row is one table row. Values are restricted to the scalar kinds the
// column types can store: nil, string, int64, float64 and bool.
type Row map[string]any

// Batch is a set of rows sharing one schema, ready to be written.
type Batch struct {
	Schema *Schema
	Rows   []Row
}

func NewBatch(schema *Schema, rows []Row) *Batch {
	return &Batch{Schema: schema, Rows: rows}
}

func (b *Batch) Len() int {
	return len(b.Rows)
}
