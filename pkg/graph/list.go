package graph

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"net/http"
	"net/url"
	"strings"

	"github.com/Sternrassler/o365-graph-client/pkg/client"
	"github.com/Sternrassler/o365-graph-client/pkg/pagination"
)

// Column value kinds understood by AddColumn and PrepareRow.
const (
	KindString = "string"
	KindInt    = "int"
	KindFloat  = "float"
)

// ManageScopeHint replaces the generic 403 message when creating columns.
const ManageScopeHint = "Check that your Azure app has Sites.Manage.All scope enabled"

// Column is a list column definition.
type Column struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	DisplayName string          `json:"displayName"`
	ReadOnly    bool            `json:"readOnly"`
	Text        json.RawMessage `json:"text,omitempty"`
	Number      json.RawMessage `json:"number,omitempty"`
}

// Kind maps the column facet to a value kind. Numbers read back as floats.
func (c Column) Kind() string {
	if len(c.Number) > 0 && string(c.Number) != "null" {
		return KindFloat
	}
	return KindString
}

// SchemaColumn is a column of the dataset being written.
type SchemaColumn struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// Row is a list item with its expanded fields.
type Row struct {
	ID     string         `json:"id"`
	Fields map[string]any `json:"fields"`
}

// List is a SharePoint list.
type List struct {
	site    *Site
	session Session
	id      string
}

// ID returns the list id.
func (l *List) ID() string { return l.id }

// URL returns the list's absolute URL.
func (l *List) URL() string {
	return l.site.URL() + "/lists/" + l.id
}

func (l *List) columnsURL() string { return l.URL() + "/columns" }

func (l *List) itemsURL() string { return l.URL() + "/items" }

func (l *List) itemURL(rowID string) string { return l.itemsURL() + "/" + rowID }

// Columns returns every column of the list.
func (l *List) Columns(ctx context.Context) ([]Column, error) {
	items, err := l.session.GetAllItems(ctx, l.columnsURL(), nil)
	if err != nil {
		return nil, fmt.Errorf("list columns: %w", err)
	}
	return decodeAll[Column](items)
}

// Rows iterates over the list items with their fields expanded, optionally
// restricted to selectFields.
func (l *List) Rows(selectFields ...string) *pagination.Cursor {
	expand := "fields"
	if len(selectFields) > 0 {
		expand = "fields(select=" + strings.Join(selectFields, ",") + ")"
	}
	return l.session.GetNextItem(l.itemsURL(), url.Values{"expand": {expand}})
}

// DisplayRows yields each row keyed by column display names. Fields without
// a known column are dropped. Iteration stops once limit is reached.
func (l *List) DisplayRows(ctx context.Context, limit *RecordsLimit) iter.Seq2[map[string]any, error] {
	return func(yield func(map[string]any, error) bool) {
		columns, err := l.Columns(ctx)
		if err != nil {
			yield(nil, err)
			return
		}
		display := make(map[string]string, len(columns))
		for _, c := range columns {
			display[c.Name] = c.DisplayName
		}

		for raw, err := range l.Rows().All(ctx) {
			if err != nil {
				yield(nil, err)
				return
			}
			if limit != nil && !limit.Allow() {
				return
			}
			var row Row
			if err := json.Unmarshal(raw, &row); err != nil {
				yield(nil, fmt.Errorf("decode row: %w", err))
				return
			}
			named := make(map[string]any, len(row.Fields))
			for name, value := range row.Fields {
				if dn := display[name]; dn != "" {
					named[dn] = value
				}
			}
			if !yield(named, nil) {
				return
			}
		}
	}
}

// AddColumn creates a column of the given kind. A 403 is reported with a
// hint about the missing scope.
func (l *List) AddColumn(ctx context.Context, name, kind, description string) error {
	data := map[string]any{
		"description":         description,
		"enforceUniqueValues": false,
		"hidden":              false,
		"indexed":             false,
		"name":                name,
	}
	for k, v := range TypeDescriptor(kind) {
		data[k] = v
	}

	_, err := l.session.Request(ctx, client.RequestSpec{
		Method:  http.MethodPost,
		URL:     l.columnsURL(),
		JSON:    data,
		RaiseOn: map[int]string{http.StatusForbidden: ManageScopeHint},
	})
	return err
}

// WriteRow creates an item with the given fields.
func (l *List) WriteRow(ctx context.Context, fields map[string]any) error {
	_, err := l.session.Request(ctx, client.RequestSpec{
		Method: http.MethodPost,
		URL:    l.itemsURL(),
		JSON:   map[string]any{"fields": fields},
	})
	return err
}

// DeleteRow deletes one item.
func (l *List) DeleteRow(ctx context.Context, rowID string) error {
	_, err := l.session.Request(ctx, client.RequestSpec{
		Method: http.MethodDelete,
		URL:    l.itemURL(rowID),
	})
	return err
}

// DeleteAllRows deletes every item through batched calls and returns how
// many deletes were issued. The first failing batch aborts the rest.
func (l *List) DeleteAllRows(ctx context.Context) (int, error) {
	var ids []string
	cursor := l.session.GetNextItem(l.itemsURL(), nil)
	for cursor.Next(ctx) {
		var row Row
		if err := cursor.Decode(&row); err != nil {
			return 0, fmt.Errorf("decode row: %w", err)
		}
		ids = append(ids, row.ID)
	}
	if err := cursor.Err(); err != nil {
		return 0, err
	}

	if err := l.session.StartBatchMode(DefaultBatchSize); err != nil {
		return 0, err
	}
	for i, id := range ids {
		if err := l.DeleteRow(ctx, id); err != nil {
			return i, fmt.Errorf("delete rows: %w", errors.Join(err, l.session.Close(ctx)))
		}
	}
	if err := l.session.Close(ctx); err != nil {
		return len(ids), fmt.Errorf("delete rows: %w", err)
	}
	return len(ids), nil
}

// PrepareWrite empties the list, adds the schema columns it lacks and
// returns a writer in batch mode.
func (l *List) PrepareWrite(ctx context.Context, schema []SchemaColumn, batchSize int) (*ListWriter, error) {
	if _, err := l.DeleteAllRows(ctx); err != nil {
		return nil, err
	}
	existing, err := l.Columns(ctx)
	if err != nil {
		return nil, err
	}
	for _, col := range MissingColumns(schema, existing) {
		if err := l.AddColumn(ctx, col.Name, col.Type, "Created by o365-graph-client"); err != nil {
			return nil, fmt.Errorf("add column %q: %w", col.Name, err)
		}
	}
	return NewListWriter(l, schema, batchSize)
}

// TypeDescriptor returns the column facet for a value kind. Unknown kinds
// become single-line text.
func TypeDescriptor(kind string) map[string]any {
	switch kind {
	case KindInt, KindFloat:
		return map[string]any{
			"number": map[string]any{
				"decimalPlaces": "automatic",
				"displayAs":     "number",
				"maximum":       1.7976931348623157e+308,
				"minimum":       -1.7976931348623157e+308,
			},
		}
	default:
		return map[string]any{
			"text": map[string]any{
				"allowMultipleLines":          false,
				"appendChangesToExistingText": false,
				"linesForEditing":             0,
				"maxLength":                   255,
			},
		}
	}
}

// MissingColumns returns the schema columns absent from existing, by name.
func MissingColumns(schema []SchemaColumn, existing []Column) []SchemaColumn {
	have := make(map[string]bool, len(existing))
	for _, c := range existing {
		have[c.Name] = true
	}
	var missing []SchemaColumn
	for _, col := range schema {
		if !have[col.Name] {
			missing = append(missing, col)
		}
	}
	return missing
}
