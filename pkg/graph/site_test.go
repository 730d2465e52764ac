package graph

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/Sternrassler/o365-graph-client/internal/testutil"
)

func TestResolveSiteID(t *testing.T) {
	mock := testutil.NewMockGraph()
	defer mock.Close()
	mock.SetResponse("/sites/contoso.sharepoint.com:/sites/Team", testutil.NewJSONResponse(`{"id":"contoso,site-1,web-1"}`))

	session := newTestSession(t, mock)
	id, err := ResolveSiteID(context.Background(), session, "https://contoso.sharepoint.com/sites/Team/")
	if err != nil {
		t.Fatalf("ResolveSiteID() error = %v", err)
	}
	if id != "contoso,site-1,web-1" {
		t.Errorf("id = %q", id)
	}
}

func TestResolveSiteID_NotFound(t *testing.T) {
	mock := testutil.NewMockGraph()
	defer mock.Close()

	session := newTestSession(t, mock)
	_, err := ResolveSiteID(context.Background(), session, "contoso.sharepoint.com/sites/Missing")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("error = %v, want ErrNotFound", err)
	}
}

func TestSite_ListID(t *testing.T) {
	mock := testutil.NewMockGraph()
	defer mock.Close()
	mock.QueueResponses("/sites/s1/lists",
		testutil.NewPageResponse(mock.APIRoot()+"/sites/s1/lists?$skiptoken=2",
			`{"id":"l1","name":"Docs","displayName":"Documents"}`),
		testutil.NewPageResponse("",
			`{"id":"l2","name":"Inventory","displayName":"Stock Inventory"}`),
	)

	session := newTestSession(t, mock)
	site := NewSite(session, "s1")

	id, err := site.ListID(context.Background(), "Stock Inventory")
	if err != nil {
		t.Fatalf("ListID() error = %v", err)
	}
	if id != "l2" {
		t.Errorf("id = %q, want l2", id)
	}
	if mock.RequestCount() != 2 {
		t.Errorf("requests = %d, want 2", mock.RequestCount())
	}
}

func TestSite_ListID_NotFound(t *testing.T) {
	mock := testutil.NewMockGraph()
	defer mock.Close()
	mock.SetResponse("/sites/s1/lists", testutil.NewPageResponse("", `{"id":"l1","name":"Docs","displayName":"Documents"}`))

	session := newTestSession(t, mock)
	_, err := NewSite(session, "s1").ListID(context.Background(), "Nope")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("error = %v, want ErrNotFound", err)
	}
}

func TestListSites(t *testing.T) {
	mock := testutil.NewMockGraph()
	defer mock.Close()
	mock.SetHandler("/sites", func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("search"); got != "team" {
			t.Errorf("search = %q, want team", got)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"value":[{"id":"a","displayName":"Team A"},{"id":"b","displayName":"Team B"}]}`))
	})

	session := newTestSession(t, mock)
	sites, err := ListSites(context.Background(), session, "team")
	if err != nil {
		t.Fatalf("ListSites() error = %v", err)
	}
	if len(sites) != 2 || sites[1].DisplayName != "Team B" {
		t.Errorf("sites = %+v", sites)
	}
}
