package graph

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"testing"

	"github.com/Sternrassler/o365-graph-client/internal/testutil"
	"github.com/Sternrassler/o365-graph-client/pkg/batch"
	"github.com/Sternrassler/o365-graph-client/pkg/client"
)

const columnsPage = `{"value":[
	{"id":"c1","name":"Title","displayName":"Title","text":{}},
	{"id":"c2","name":"Qty","displayName":"Quantity","number":{}}
]}`

func TestColumn_Kind(t *testing.T) {
	tests := []struct {
		col  Column
		want string
	}{
		{Column{Number: json.RawMessage(`{}`)}, KindFloat},
		{Column{Number: json.RawMessage(`null`)}, KindString},
		{Column{Text: json.RawMessage(`{}`)}, KindString},
		{Column{}, KindString},
	}
	for _, tt := range tests {
		if got := tt.col.Kind(); got != tt.want {
			t.Errorf("Kind(%+v) = %q, want %q", tt.col, got, tt.want)
		}
	}
}

func TestList_Columns(t *testing.T) {
	mock := testutil.NewMockGraph()
	defer mock.Close()
	mock.SetResponse("/sites/s1/lists/l1/columns", testutil.NewJSONResponse(columnsPage))

	list := NewSite(newTestSession(t, mock), "s1").List("l1")
	cols, err := list.Columns(context.Background())
	if err != nil {
		t.Fatalf("Columns() error = %v", err)
	}
	if len(cols) != 2 {
		t.Fatalf("columns = %d, want 2", len(cols))
	}
	if cols[1].Kind() != KindFloat || cols[0].Kind() != KindString {
		t.Errorf("kinds = %q, %q", cols[0].Kind(), cols[1].Kind())
	}
}

func TestList_DisplayRows(t *testing.T) {
	mock := testutil.NewMockGraph()
	defer mock.Close()
	mock.SetResponse("/sites/s1/lists/l1/columns", testutil.NewJSONResponse(columnsPage))
	mock.QueueResponses("/sites/s1/lists/l1/items",
		testutil.NewPageResponse(mock.APIRoot()+"/sites/s1/lists/l1/items?$skiptoken=1",
			`{"id":"1","fields":{"Title":"bolt","Qty":4,"@odata.etag":"x"}}`),
		testutil.NewPageResponse("",
			`{"id":"2","fields":{"Title":"nut","Qty":9}}`,
			`{"id":"3","fields":{"Title":"washer","Qty":1}}`),
	)

	list := NewSite(newTestSession(t, mock), "s1").List("l1")
	var rows []map[string]any
	for row, err := range list.DisplayRows(context.Background(), NewRecordsLimit(2)) {
		if err != nil {
			t.Fatalf("DisplayRows() error = %v", err)
		}
		rows = append(rows, row)
	}

	if len(rows) != 2 {
		t.Fatalf("rows = %d, want 2", len(rows))
	}
	if rows[0]["Title"] != "bolt" || rows[0]["Quantity"] != float64(4) {
		t.Errorf("row 0 = %v", rows[0])
	}
	if _, ok := rows[0]["@odata.etag"]; ok {
		t.Error("unknown field should be dropped")
	}
	if rows[1]["Title"] != "nut" {
		t.Errorf("row 1 = %v", rows[1])
	}

	first := mock.Requests()[1]
	if !strings.Contains(first.RawQuery, "expand=fields") {
		t.Errorf("items query = %q, want expand=fields", first.RawQuery)
	}
}

func TestList_Rows_Select(t *testing.T) {
	mock := testutil.NewMockGraph()
	defer mock.Close()
	var expand string
	mock.SetHandler("/sites/s1/lists/l1/items", func(w http.ResponseWriter, r *http.Request) {
		expand = r.URL.Query().Get("expand")
		w.Write([]byte(`{"value":[]}`))
	})

	list := NewSite(newTestSession(t, mock), "s1").List("l1")
	if _, err := list.Rows("Title", "Qty").Collect(context.Background()); err != nil {
		t.Fatalf("Collect() error = %v", err)
	}
	if expand != "fields(select=Title,Qty)" {
		t.Errorf("expand = %q", expand)
	}
}

func TestList_AddColumn(t *testing.T) {
	mock := testutil.NewMockGraph()
	defer mock.Close()
	var body map[string]any
	mock.SetHandler("/sites/s1/lists/l1/columns", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		json.NewDecoder(r.Body).Decode(&body)
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"id":"c9"}`))
	})

	list := NewSite(newTestSession(t, mock), "s1").List("l1")
	if err := list.AddColumn(context.Background(), "Qty", KindInt, "count"); err != nil {
		t.Fatalf("AddColumn() error = %v", err)
	}
	if body["name"] != "Qty" || body["description"] != "count" {
		t.Errorf("body = %v", body)
	}
	if _, ok := body["number"]; !ok {
		t.Errorf("body lacks number facet: %v", body)
	}
}

func TestList_AddColumn_Forbidden(t *testing.T) {
	mock := testutil.NewMockGraph()
	defer mock.Close()
	mock.SetResponse("/sites/s1/lists/l1/columns",
		testutil.NewErrorResponse(http.StatusForbidden, "accessDenied", "Access denied"))

	list := NewSite(newTestSession(t, mock), "s1").List("l1")
	err := list.AddColumn(context.Background(), "Qty", KindInt, "")

	var gerr *client.GraphError
	if !errors.As(err, &gerr) {
		t.Fatalf("error = %v, want *client.GraphError", err)
	}
	if gerr.StatusCode != http.StatusForbidden {
		t.Errorf("StatusCode = %d", gerr.StatusCode)
	}
	if !strings.Contains(err.Error(), ManageScopeHint) {
		t.Errorf("error = %q, want scope hint", err.Error())
	}
}

func TestList_DeleteAllRows(t *testing.T) {
	mock := testutil.NewMockGraph()
	defer mock.Close()

	items := make([]string, 0, 25)
	for i := 1; i <= 25; i++ {
		items = append(items, fmt.Sprintf(`{"id":"%d","fields":{}}`, i))
	}
	mock.SetResponse("/sites/s1/lists/l1/items", testutil.NewPageResponse("", items...))

	session := newTestSession(t, mock)
	list := NewSite(session, "s1").List("l1")

	n, err := list.DeleteAllRows(context.Background())
	if err != nil {
		t.Fatalf("DeleteAllRows() error = %v", err)
	}
	if n != 25 {
		t.Errorf("deleted = %d, want 25", n)
	}
	if session.Mode() != client.ModeDirect {
		t.Errorf("Mode() = %v, want direct after DeleteAllRows", session.Mode())
	}

	envs := mock.Envelopes()
	if len(envs) != 2 {
		t.Fatalf("envelopes = %d, want 2", len(envs))
	}
	if len(envs[0].Requests) != DefaultBatchSize || len(envs[1].Requests) != 5 {
		t.Errorf("envelope sizes = %d, %d", len(envs[0].Requests), len(envs[1].Requests))
	}
	sub := envs[0].Requests[0]
	if sub.Method != http.MethodDelete || sub.URL != "/sites/s1/lists/l1/items/1" {
		t.Errorf("first sub-request = %s %s", sub.Method, sub.URL)
	}
}

func TestList_DeleteAllRows_BatchFailure(t *testing.T) {
	mock := testutil.NewMockGraph()
	defer mock.Close()
	mock.SetResponse("/sites/s1/lists/l1/items",
		testutil.NewPageResponse("", `{"id":"1"}`, `{"id":"2"}`, `{"id":"3"}`))
	mock.SetBatchResponder(testutil.FailID("2", http.StatusForbidden, "Forbidden"))

	session := newTestSession(t, mock)
	list := NewSite(session, "s1").List("l1")

	_, err := list.DeleteAllRows(context.Background())
	var subErr *batch.SubRequestError
	if !errors.As(err, &subErr) {
		t.Fatalf("error = %v, want *batch.SubRequestError", err)
	}
	if subErr.ID != "2" || subErr.Status != http.StatusForbidden {
		t.Errorf("sub error = %+v", subErr)
	}
	if session.Mode() != client.ModeDirect {
		t.Errorf("Mode() = %v, want direct", session.Mode())
	}
}

func TestMissingColumns(t *testing.T) {
	schema := []SchemaColumn{{Name: "Title", Type: KindString}, {Name: "Qty", Type: KindInt}, {Name: "Price", Type: KindFloat}}
	existing := []Column{{Name: "Title"}, {Name: "Price"}}

	missing := MissingColumns(schema, existing)
	if len(missing) != 1 || missing[0].Name != "Qty" {
		t.Errorf("missing = %+v", missing)
	}
}

func TestTypeDescriptor(t *testing.T) {
	for _, kind := range []string{KindInt, KindFloat} {
		if _, ok := TypeDescriptor(kind)["number"]; !ok {
			t.Errorf("TypeDescriptor(%q) lacks number facet", kind)
		}
	}
	text, ok := TypeDescriptor(KindString)["text"].(map[string]any)
	if !ok {
		t.Fatal("TypeDescriptor(string) lacks text facet")
	}
	if text["maxLength"] != 255 {
		t.Errorf("maxLength = %v", text["maxLength"])
	}
}
