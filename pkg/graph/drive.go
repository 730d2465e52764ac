package graph

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"
	"net/http"
	"path"
	"strings"

	"github.com/Sternrassler/o365-graph-client/pkg/client"
	"github.com/Sternrassler/o365-graph-client/pkg/pagination"
)

// UploadChunkSize is the fragment size for upload sessions. Graph requires a
// multiple of 320 KiB.
const UploadChunkSize = 10 * 320 * 1024

// ErrIsFolder is returned when file content is requested for a folder.
var ErrIsFolder = errors.New("item is a folder")

// DriveInfo is a document library as returned by /sites/{id}/drives.
type DriveInfo struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	DriveType string `json:"driveType"`
	WebURL    string `json:"webUrl"`
}

// DriveItem is a file or folder.
type DriveItem struct {
	ID                   string `json:"id"`
	Name                 string `json:"name"`
	Size                 int64  `json:"size"`
	LastModifiedDateTime string `json:"lastModifiedDateTime"`
	WebURL               string `json:"webUrl"`
	DownloadURL          string `json:"@microsoft.graph.downloadUrl,omitempty"`
	Folder               *struct {
		ChildCount int `json:"childCount"`
	} `json:"folder,omitempty"`
	File *struct {
		MimeType string `json:"mimeType"`
	} `json:"file,omitempty"`
	ParentReference struct {
		DriveID string `json:"driveId"`
		ID      string `json:"id"`
		Path    string `json:"path"`
	} `json:"parentReference"`
}

// IsFolder reports whether the item is a folder.
func (i DriveItem) IsFolder() bool { return i.Folder != nil }

// Drive is a document library.
type Drive struct {
	session Session
	id      string
}

// NewDrive returns a handle on drive id.
func NewDrive(session Session, id string) *Drive {
	return &Drive{session: session, id: id}
}

// Drives iterates over the site's document libraries.
func (s *Site) Drives() *pagination.Cursor {
	return s.session.GetNextItem(s.URL()+"/drives", nil)
}

// DriveID resolves a document library by name. An empty name selects the
// site's default library.
func (s *Site) DriveID(ctx context.Context, name string) (string, error) {
	if name == "" {
		item, err := s.session.GetItem(ctx, s.URL()+"/drive")
		if err != nil {
			return "", err
		}
		if id, _ := item["id"].(string); id != "" {
			return id, nil
		}
		return "", fmt.Errorf("default drive of site %s: %w", s.id, ErrNotFound)
	}
	for drive, err := range Items[DriveInfo](ctx, s.Drives()) {
		if err != nil {
			return "", err
		}
		if drive.Name == name {
			return drive.ID, nil
		}
	}
	return "", fmt.Errorf("drive %q: %w", name, ErrNotFound)
}

// ID returns the drive id.
func (d *Drive) ID() string { return d.id }

// URL returns the drive's absolute URL.
func (d *Drive) URL() string { return d.session.URL("drives", d.id) }

// pathURL addresses an item by its path below the drive root.
func (d *Drive) pathURL(itemPath string) string {
	itemPath = strings.Trim(itemPath, "/")
	if itemPath == "" {
		return d.URL() + "/root"
	}
	return d.URL() + "/root:/" + itemPath
}

func (d *Drive) itemURL(itemID string) string {
	return d.URL() + "/items/" + itemID
}

// Item returns the item at itemPath. found is false when nothing exists there.
func (d *Drive) Item(ctx context.Context, itemPath string) (item DriveItem, found bool, err error) {
	raw, err := d.session.GetItem(ctx, d.pathURL(itemPath))
	if err != nil {
		return DriveItem{}, false, err
	}
	if len(raw) == 0 {
		return DriveItem{}, false, nil
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return DriveItem{}, false, err
	}
	if err := json.Unmarshal(data, &item); err != nil {
		return DriveItem{}, false, fmt.Errorf("decode drive item: %w", err)
	}
	return item, true, nil
}

// Children iterates over the items of the folder at folderPath.
func (d *Drive) Children(folderPath string) *pagination.Cursor {
	folderPath = strings.Trim(folderPath, "/")
	if folderPath == "" {
		return d.session.GetNextItem(d.URL()+"/root/children", nil)
	}
	return d.session.GetNextItem(d.pathURL(folderPath)+":/children", nil)
}

// ChildrenByID iterates over the items of folder itemID.
func (d *Drive) ChildrenByID(itemID string) *pagination.Cursor {
	return d.session.GetNextItem(d.itemURL(itemID)+"/children", nil)
}

// Walk yields every file below folderPath, descending into subfolders.
// Folders themselves are not yielded.
func (d *Drive) Walk(ctx context.Context, folderPath string) iter.Seq2[DriveItem, error] {
	return func(yield func(DriveItem, error) bool) {
		root, found, err := d.Item(ctx, folderPath)
		if err != nil {
			yield(DriveItem{}, err)
			return
		}
		if !found {
			yield(DriveItem{}, fmt.Errorf("%s: %w", folderPath, ErrNotFound))
			return
		}
		if !root.IsFolder() {
			yield(root, nil)
			return
		}
		d.walk(ctx, root.ID, yield)
	}
}

func (d *Drive) walk(ctx context.Context, folderID string, yield func(DriveItem, error) bool) bool {
	for item, err := range Items[DriveItem](ctx, d.ChildrenByID(folderID)) {
		if err != nil {
			return yield(DriveItem{}, err)
		}
		if item.IsFolder() {
			if !d.walk(ctx, item.ID, yield) {
				return false
			}
			continue
		}
		if !yield(item, nil) {
			return false
		}
	}
	return true
}

// DeleteItem deletes item itemID and, for folders, everything below it.
// It is queued while the session is batching.
func (d *Drive) DeleteItem(ctx context.Context, itemID string) error {
	_, err := d.session.Request(ctx, client.RequestSpec{
		Method: http.MethodDelete,
		URL:    d.itemURL(itemID),
	})
	return err
}

// Move renames or relocates the item at fromPath to toPath and returns the
// updated item.
func (d *Drive) Move(ctx context.Context, fromPath, toPath string) (DriveItem, error) {
	toPath = strings.Trim(toPath, "/")
	parent := path.Dir(toPath)
	if parent == "." {
		parent = ""
	}
	resp, err := d.session.Request(ctx, client.RequestSpec{
		Method: http.MethodPatch,
		URL:    d.pathURL(fromPath),
		JSON: map[string]any{
			"name": path.Base(toPath),
			"parentReference": map[string]any{
				"path": "/drives/" + d.id + "/root:/" + parent,
			},
		},
		ForceDirect: true,
	})
	if err != nil {
		return DriveItem{}, err
	}
	return decodeDriveItem(resp)
}

// Download copies the content of the file at itemPath into w.
func (d *Drive) Download(ctx context.Context, itemPath string, w io.Writer) (int64, error) {
	item, found, err := d.Item(ctx, itemPath)
	if err != nil {
		return 0, err
	}
	if !found {
		return 0, fmt.Errorf("%s: %w", itemPath, ErrNotFound)
	}
	if item.IsFolder() {
		return 0, fmt.Errorf("%s: %w", itemPath, ErrIsFolder)
	}

	var opts []client.Option
	target := item.DownloadURL
	if target == "" {
		target = d.itemURL(item.ID) + "/content"
	} else {
		// download URLs are pre-authenticated
		opts = append(opts, client.WithHeaders(map[string]string{"Authorization": ""}))
	}
	resp, err := d.session.Get(ctx, target, opts...)
	if err != nil {
		return 0, err
	}
	return io.Copy(w, bytes.NewReader(resp.Body))
}

// Upload writes data to itemPath, replacing any existing file, and returns
// the stored item. Non-empty content goes through an upload session in
// UploadChunkSize fragments.
func (d *Drive) Upload(ctx context.Context, itemPath string, data []byte) (DriveItem, error) {
	if len(data) == 0 {
		resp, err := d.session.Request(ctx, client.RequestSpec{
			Method:      http.MethodPut,
			URL:         d.pathURL(itemPath) + ":/content",
			Body:        []byte{},
			ForceDirect: true,
		})
		if err != nil {
			return DriveItem{}, err
		}
		return decodeDriveItem(resp)
	}

	resp, err := d.session.Request(ctx, client.RequestSpec{
		Method: http.MethodPost,
		URL:    d.pathURL(itemPath) + ":/createUploadSession",
		JSON: map[string]any{
			"item": map[string]any{"@microsoft.graph.conflictBehavior": "replace"},
		},
		ForceDirect: true,
	})
	if err != nil {
		return DriveItem{}, err
	}
	var upload struct {
		UploadURL string `json:"uploadUrl"`
	}
	if err := resp.Decode(&upload); err != nil {
		return DriveItem{}, err
	}
	if upload.UploadURL == "" {
		return DriveItem{}, fmt.Errorf("upload session for %s: no uploadUrl", itemPath)
	}

	total := len(data)
	for start := 0; start < total; start += UploadChunkSize {
		end := min(start+UploadChunkSize, total)
		resp, err = d.session.Request(ctx, client.RequestSpec{
			Method: http.MethodPut,
			URL:    upload.UploadURL,
			Headers: map[string]string{
				// the upload URL is pre-authenticated
				"Authorization": "",
				"Content-Range": fmt.Sprintf("bytes %d-%d/%d", start, end-1, total),
			},
			Body:        data[start:end],
			ForceDirect: true,
		})
		if err != nil {
			return DriveItem{}, fmt.Errorf("upload %s bytes %d-%d: %w", itemPath, start, end-1, err)
		}
	}
	return decodeDriveItem(resp)
}

func decodeDriveItem(resp *client.Response) (DriveItem, error) {
	var item DriveItem
	if err := resp.Decode(&item); err != nil {
		return DriveItem{}, err
	}
	return item, nil
}
