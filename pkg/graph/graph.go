// Package graph provides thin resource wrappers over a client.Session:
// SharePoint sites and lists, mailbox messages and planner tasks.
package graph

import (
	"context"
	"encoding/json"
	"fmt"
	"iter"
	"net/url"

	"github.com/Sternrassler/o365-graph-client/pkg/client"
	"github.com/Sternrassler/o365-graph-client/pkg/pagination"
)

// Session is the subset of *client.Session the wrappers use.
type Session interface {
	URL(segments ...string) string
	Request(ctx context.Context, spec client.RequestSpec) (*client.Response, error)
	Get(ctx context.Context, rawURL string, opts ...client.Option) (*client.Response, error)
	GetItem(ctx context.Context, rawURL string, opts ...client.Option) (map[string]any, error)
	GetNextItem(rawURL string, params url.Values, opts ...client.Option) *pagination.Cursor
	GetAllItems(ctx context.Context, rawURL string, params url.Values, opts ...client.Option) ([]json.RawMessage, error)
	StartBatchMode(size int) error
	Close(ctx context.Context) error
}

var _ Session = (*client.Session)(nil)

// DefaultBatchSize is the largest $batch the API accepts.
const DefaultBatchSize = 20

// RecordsLimit caps how many records a reader emits. A negative limit means
// no cap.
type RecordsLimit struct {
	limit int
	count int
}

// NewRecordsLimit returns a limit of n records; n < 0 disables it.
func NewRecordsLimit(n int) *RecordsLimit {
	return &RecordsLimit{limit: n}
}

// Allow counts one record and reports whether it may still be emitted.
func (l *RecordsLimit) Allow() bool {
	if l.limit < 0 {
		return true
	}
	l.count++
	return l.count <= l.limit
}

// Items decodes each element of cursor into T as it is read. A decode or
// fetch error is yielded once and ends the sequence.
func Items[T any](ctx context.Context, cursor *pagination.Cursor) iter.Seq2[T, error] {
	return func(yield func(T, error) bool) {
		var zero T
		for raw, err := range cursor.All(ctx) {
			if err != nil {
				yield(zero, err)
				return
			}
			var v T
			if err := json.Unmarshal(raw, &v); err != nil {
				yield(zero, fmt.Errorf("decode item: %w", err))
				return
			}
			if !yield(v, nil) {
				return
			}
		}
	}
}

// decodeAll unmarshals raw items into a slice of T.
func decodeAll[T any](items []json.RawMessage) ([]T, error) {
	out := make([]T, 0, len(items))
	for _, raw := range items {
		var v T
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}
