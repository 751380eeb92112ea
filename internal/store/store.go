// Package store defines the FileStore interface the caching core consumes.
// Implementations adapt a remote hierarchical object store (S3, a drive API)
// to three narrow operations: paginated child listing, a modified-since
// change query, and raw content fetch.
package store

import (
	"context"
	"errors"
	"io"
	"time"
)

// ErrUnavailable indicates the remote store could not be reached at all.
// Listing a folder that simply has no children is not an error.
var ErrUnavailable = errors.New("file store unavailable")

// ItemType distinguishes folders from files in listings.
type ItemType string

const (
	TypeFolder ItemType = "folder"
	TypeFile   ItemType = "file"
)

// Item is one child returned by ListChildren.
type Item struct {
	ID           string
	Name         string
	Type         ItemType
	MimeType     string
	SizeBytes    int64
	ModifiedTime time.Time
}

// ChildPage is one page of a folder listing. An empty NextPageToken
// means the listing is complete.
type ChildPage struct {
	Items         []Item
	NextPageToken string
}

// Change is one object reported by GetModifiedSince.
type Change struct {
	ID           string
	ParentIDs    []string
	ModifiedTime time.Time
}

// ChangePage is one page of a modified-since query.
type ChangePage struct {
	Changes       []Change
	NextPageToken string
}

// FileStore is the capability the caching core needs from the remote store.
type FileStore interface {
	// ListChildren returns one page of the direct children of a folder.
	// Pass an empty pageToken for the first page.
	ListChildren(ctx context.Context, folderID, pageToken string) (*ChildPage, error)

	// GetModifiedSince returns one page of objects modified strictly after
	// the given time, with their parent folder chains.
	GetModifiedSince(ctx context.Context, since time.Time, pageToken string) (*ChangePage, error)

	// FetchContent returns the raw bytes of a file. The caller must close
	// the reader.
	FetchContent(ctx context.Context, fileID string) (io.ReadCloser, error)
}
