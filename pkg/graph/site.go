package graph

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/Sternrassler/o365-graph-client/pkg/pagination"
)

// ErrNotFound is returned when a site or list cannot be resolved.
var ErrNotFound = errors.New("not found")

// SiteInfo is a site as returned by /sites.
type SiteInfo struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	DisplayName string `json:"displayName"`
	WebURL      string `json:"webUrl"`
}

// ListInfo is a list as returned by /sites/{id}/lists.
type ListInfo struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	DisplayName string `json:"displayName"`
}

// Site is a SharePoint site.
type Site struct {
	session Session
	id      string
}

// NewSite returns a handle on site id.
func NewSite(session Session, id string) *Site {
	return &Site{session: session, id: id}
}

// ID returns the site id.
func (s *Site) ID() string { return s.id }

// URL returns the site's absolute URL.
func (s *Site) URL() string {
	return s.session.URL("sites", s.id)
}

// List returns a handle on one of the site's lists.
func (s *Site) List(id string) *List {
	return &List{site: s, session: s.session, id: id}
}

// Lists iterates over the site's lists.
func (s *Site) Lists() *pagination.Cursor {
	return s.session.GetNextItem(s.URL()+"/lists", nil)
}

// ListID resolves a list by display name.
func (s *Site) ListID(ctx context.Context, displayName string) (string, error) {
	cursor := s.Lists()
	for cursor.Next(ctx) {
		var info ListInfo
		if err := cursor.Decode(&info); err != nil {
			return "", fmt.Errorf("decode list: %w", err)
		}
		if info.DisplayName == displayName || info.Name == displayName {
			return info.ID, nil
		}
	}
	if err := cursor.Err(); err != nil {
		return "", err
	}
	return "", fmt.Errorf("list %q: %w", displayName, ErrNotFound)
}

// SearchSites iterates over the sites matching query ("*" for all).
func SearchSites(session Session, query string) *pagination.Cursor {
	return session.GetNextItem(session.URL("sites"), url.Values{"search": {query}})
}

// ResolveSiteID returns the id of the site at "hostname/server/relative/path".
func ResolveSiteID(ctx context.Context, session Session, sitePath string) (string, error) {
	sitePath = strings.Trim(sitePath, "/")
	sitePath = strings.TrimPrefix(sitePath, "https://")
	host, rel, hasPath := strings.Cut(sitePath, "/")
	ref := host
	if hasPath {
		ref = host + ":/" + rel
	}

	item, err := session.GetItem(ctx, session.URL("sites", ref))
	if err != nil {
		return "", err
	}
	id, _ := item["id"].(string)
	if id == "" {
		return "", fmt.Errorf("site %q: %w", sitePath, ErrNotFound)
	}
	return id, nil
}

// ListSites returns every site matching query.
func ListSites(ctx context.Context, session Session, query string) ([]SiteInfo, error) {
	items, err := session.GetAllItems(ctx, session.URL("sites"), url.Values{"search": {query}})
	if err != nil {
		return nil, err
	}
	return decodeAll[SiteInfo](items)
}
