package ingest

import (
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"time"

	"github.com/jonboulle/clockwork"
	jsoniter "github.com/json-iterator/go"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"

	"github.com/rawglake/rawglake/lake"
	"github.com/rawglake/rawglake/rawg"
)

// Columns the catalog is known to populate with nested structures. They
// are serialized to JSON text even when a particular batch happens to
// carry only nulls or scalars in them, so their type never flaps between
// runs.
var structuredColumns = map[string]struct{}{
	"platforms":         {},
	"parent_platforms":  {},
	"genres":            {},
	"stores":            {},
	"tags":              {},
	"esrb_rating":       {},
	"short_screenshots": {},
}

// Normalizer flattens raw catalog records into rows with one storage
// representation per column. The catalog's schema is not stable, so every
// batch is classified from scratch.
type Normalizer struct {
	clock  clockwork.Clock
	logger *slog.Logger
}

func NewNormalizer(clock clockwork.Clock, logger *slog.Logger) *Normalizer {
	return &Normalizer{clock: clock, logger: logger}
}

// Normalize flattens the records into a batch. Per column, in order: an
// all-null column becomes a string column of nulls; a column on the
// structured allow-list or observed to hold a list or mapping has every
// non-null value serialized to JSON text; otherwise the column keeps its
// native scalar type, degrading to string coercion when records disagree
// on the scalar kind.
func (n *Normalizer) Normalize(records []rawg.RawRecord) (*lake.Batch, error) {
	columns := collectColumns(records)

	fields := make([]lake.Field, 0, len(columns))
	kinds := make(map[string]columnKind, len(columns))
	for _, col := range columns {
		kind := classifyColumn(records, col)
		if kind == kindMixed {
			n.logger.Warn("column holds mixed scalar kinds, coercing to string", "column", col)
		}
		kinds[col] = kind
		fields = append(fields, lake.Field{Name: col, Type: kind.dataType()})
	}

	rows := make([]lake.Row, 0, len(records))
	for _, r := range records {
		row := make(lake.Row, len(columns))
		for _, col := range columns {
			v, err := convertValue(r[col], kinds[col])
			if err != nil {
				return nil, fmt.Errorf("column %q: %w", col, err)
			}
			row[col] = v
		}
		rows = append(rows, row)
	}

	return lake.NewBatch(lake.NewSchema(fields...), rows), nil
}

// NormalizeExtraction normalizes the records and stamps every row with
// the audit columns extraction_ts and extraction_date, both taken once
// from the clock so the whole batch lands in a single partition.
func (n *Normalizer) NormalizeExtraction(records []rawg.RawRecord) (*lake.Batch, string, error) {
	batch, err := n.Normalize(records)
	if err != nil {
		return nil, "", err
	}

	now := n.clock.Now().UTC()
	ts := now.Format(time.RFC3339)
	date := now.Format("2006-01-02")

	batch.Schema.Fields = append(batch.Schema.Fields,
		lake.Field{Name: "extraction_ts", Type: lake.DataTypeString},
		lake.Field{Name: "extraction_date", Type: lake.DataTypeString},
	)
	for _, row := range batch.Rows {
		row["extraction_ts"] = ts
		row["extraction_date"] = date
	}

	return batch, date, nil
}

// collectColumns gathers the union of keys across all records, sorted so
// the schema's field order does not depend on map iteration.
func collectColumns(records []rawg.RawRecord) []string {
	seen := make(map[string]struct{})
	for _, r := range records {
		for k := range r {
			seen[k] = struct{}{}
		}
	}

	columns := maps.Keys(seen)
	slices.Sort(columns)
	return columns
}

type columnKind int

const (
	kindAllNull columnKind = iota
	kindStructured
	kindBoolean
	kindLong
	kindDouble
	kindString
	kindMixed
)

func (k columnKind) dataType() lake.DataType {
	switch k {
	case kindBoolean:
		return lake.DataTypeBoolean
	case kindLong:
		return lake.DataTypeLong
	case kindDouble:
		return lake.DataTypeDouble
	default:
		return lake.DataTypeString
	}
}

func classifyColumn(records []rawg.RawRecord, col string) columnKind {
	if _, ok := structuredColumns[col]; ok {
		return kindStructured
	}

	var sawBool, sawString, sawNumber, sawFraction, sawOther, sawAny bool
	for _, r := range records {
		v, ok := r[col]
		if !ok || v == nil {
			continue
		}
		sawAny = true

		switch x := v.(type) {
		case []any, map[string]any:
			return kindStructured
		case bool:
			sawBool = true
		case string:
			sawString = true
		case float64:
			sawNumber = true
			if x != math.Trunc(x) || math.Abs(x) >= math.MaxInt64 {
				sawFraction = true
			}
		case int64:
			sawNumber = true
		default:
			sawOther = true
		}
	}

	if !sawAny {
		return kindAllNull
	}
	if sawOther {
		return kindMixed
	}

	kindCount := 0
	for _, saw := range []bool{sawBool, sawString, sawNumber} {
		if saw {
			kindCount++
		}
	}
	if kindCount > 1 {
		return kindMixed
	}

	switch {
	case sawBool:
		return kindBoolean
	case sawString:
		return kindString
	case sawFraction:
		return kindDouble
	default:
		return kindLong
	}
}

func convertValue(v any, kind columnKind) (any, error) {
	if v == nil {
		return nil, nil
	}

	switch kind {
	case kindAllNull:
		return nil, nil
	case kindStructured:
		switch v.(type) {
		case []any, map[string]any:
			text, err := jsoniter.ConfigCompatibleWithStandardLibrary.MarshalToString(v)
			if err != nil {
				return nil, fmt.Errorf("unable to serialize structured value: %w", err)
			}
			return text, nil
		default:
			return formatScalar(v), nil
		}
	case kindBoolean:
		return v.(bool), nil
	case kindLong:
		switch x := v.(type) {
		case float64:
			return int64(x), nil
		case int64:
			return x, nil
		}
	case kindDouble:
		switch x := v.(type) {
		case float64:
			return x, nil
		case int64:
			return float64(x), nil
		}
	case kindString:
		return v.(string), nil
	case kindMixed:
		return formatScalar(v), nil
	}
	return nil, fmt.Errorf("unexpected value %v (%T)", v, v)
}

func formatScalar(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case bool:
		return strconv.FormatBool(x)
	case float64:
		if x == math.Trunc(x) && math.Abs(x) < math.MaxInt64 {
			return strconv.FormatInt(int64(x), 10)
		}
		return strconv.FormatFloat(x, 'f', -1, 64)
	case int64:
		return strconv.FormatInt(x, 10)
	default:
		return fmt.Sprintf("%v", x)
	}
}
