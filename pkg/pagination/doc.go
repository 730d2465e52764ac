// Package pagination turns Graph's paged listing endpoints into a lazy,
// forward-only sequence of items.
//
// Graph returns a "value" array per page and, when more results exist, an
// "@odata.nextLink" URL that already encodes every query parameter. The cursor
// issues the first GET with the caller's parameters, then follows next links
// verbatim until a page arrives without one.
//
// Example usage:
//
//	cur := pagination.New(session, siteURL+"/lists/"+listID+"/items", url.Values{"expand": {"fields"}})
//	for cur.Next(ctx) {
//		var row map[string]any
//		if err := cur.Decode(&row); err != nil {
//			return err
//		}
//	}
//	if err := cur.Err(); err != nil {
//		return err
//	}
//
// The cursor:
//   - Fetches pages only when the buffered items run out
//   - Cannot be restarted or rewound
//   - Holds no remote resource, so stopping early is always safe
//   - Has no item cap; callers stop consuming to stop fetching
package pagination
