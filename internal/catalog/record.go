// Package catalog is the durable metadata store for shared files and folders.
//
// The catalog is the source of truth for logical structure (names, folder
// paths, ownership); the physical directory tree under the storage root is
// the source of truth for byte content. Records are kept in memory and the
// whole catalog is rewritten to a single JSON document on every mutation.
package catalog

import (
	"path"
	"strings"
	"time"
)

// TypeFolder is the record type assigned to directories.
const TypeFolder = "folder"

// FileRecord describes one uploaded file or created folder.
type FileRecord struct {
	// ID is the stable handle for rename/delete/download. Display names
	// are neither unique nor stable.
	ID string `json:"id"`

	// Name is the display name, changed by rename.
	Name string `json:"name"`

	// SystemName is the on-disk name. For folders it is always equal to
	// Name; for files it carries a disambiguating upload prefix and never
	// changes after upload.
	SystemName string `json:"systemName"`

	Size int64 `json:"size"`

	// Type is "folder" for directories, else the lowercase extension
	// without the dot, or "unknown".
	Type string `json:"type"`

	// Path is the logical parent folder ("" = root), slash-joined.
	Path string `json:"path"`

	IsDirectory bool `json:"isDirectory"`

	// Ownership, captured at creation under whichever identity regime was
	// active. OwnerIP is always recorded; the credential fields are set
	// only for authenticated uploads.
	OwnerID       string `json:"ownerId,omitempty"`
	OwnerUsername string `json:"ownerUsername,omitempty"`
	OwnerName     string `json:"ownerName,omitempty"`
	OwnerIP       string `json:"ownerIp,omitempty"`

	UploadedAt time.Time `json:"uploadedAt"`
}

// FullPath returns the record's full logical path (Path + "/" + Name).
func (r FileRecord) FullPath() string {
	return JoinLogical(r.Path, r.Name)
}

// HasOwner reports whether any ownership field is set.
func (r FileRecord) HasOwner() bool {
	return r.OwnerID != "" || r.OwnerUsername != "" || r.OwnerIP != ""
}

// JoinLogical joins logical path segments, treating "" as the root.
func JoinLogical(parent, name string) string {
	if parent == "" {
		return name
	}
	return parent + "/" + name
}

// TypeOf derives a record type from a file name: the lowercase extension
// without the dot, or "unknown" when there is none.
func TypeOf(name string) string {
	ext := strings.TrimPrefix(path.Ext(name), ".")
	if ext == "" {
		return "unknown"
	}
	return strings.ToLower(ext)
}
