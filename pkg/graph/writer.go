package graph

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// ListWriter writes typed rows into a list through batched calls.
type ListWriter struct {
	list    *List
	columns []SchemaColumn
	written int
}

// NewListWriter puts the session in batch mode and returns a writer. Close
// must be called to send the last batch.
func NewListWriter(list *List, columns []SchemaColumn, batchSize int) (*ListWriter, error) {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	if err := list.session.StartBatchMode(batchSize); err != nil {
		return nil, err
	}
	return &ListWriter{list: list, columns: columns}, nil
}

// WriteRow converts values by column type and queues the item.
func (w *ListWriter) WriteRow(ctx context.Context, values []any) error {
	row, err := PrepareRow(values, w.columns)
	if err != nil {
		return err
	}
	if err := w.list.WriteRow(ctx, row); err != nil {
		return err
	}
	w.written++
	return nil
}

// Written returns the number of rows queued so far.
func (w *ListWriter) Written() int { return w.written }

// Close flushes pending rows and leaves batch mode.
func (w *ListWriter) Close(ctx context.Context) error {
	return w.list.session.Close(ctx)
}

// PrepareRow pairs values with columns by position and converts each value
// to its column's kind. Extra values or columns are ignored; nil stays nil.
func PrepareRow(values []any, columns []SchemaColumn) (map[string]any, error) {
	n := min(len(values), len(columns))
	row := make(map[string]any, n)
	for i := 0; i < n; i++ {
		col := columns[i]
		v := values[i]
		if v == nil {
			row[col.Name] = nil
			continue
		}
		var err error
		switch col.Type {
		case KindInt:
			row[col.Name], err = toInt(v)
		case KindFloat:
			row[col.Name], err = toFloat(v)
		default:
			row[col.Name] = fmt.Sprint(v)
		}
		if err != nil {
			return nil, fmt.Errorf("column %q: %w", col.Name, err)
		}
	}
	return row, nil
}

func toInt(v any) (int64, error) {
	switch x := v.(type) {
	case int:
		return int64(x), nil
	case int64:
		return x, nil
	case float64:
		return int64(x), nil
	case json.Number:
		return x.Int64()
	default:
		return strconv.ParseInt(strings.TrimSpace(fmt.Sprint(v)), 10, 64)
	}
}

func toFloat(v any) (float64, error) {
	switch x := v.(type) {
	case float64:
		return x, nil
	case int:
		return float64(x), nil
	case int64:
		return float64(x), nil
	case json.Number:
		return x.Float64()
	default:
		return strconv.ParseFloat(strings.TrimSpace(fmt.Sprint(v)), 64)
	}
}
