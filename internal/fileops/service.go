// Package fileops orchestrates every mutating file operation across the
// physical directory tree and the metadata catalog, keeping the two in
// lockstep, and initiates the change broadcast after each mutation.
package fileops

import (
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/lanshare/lanshare/internal/catalog"
	"github.com/lanshare/lanshare/internal/diskinfo"
	"github.com/lanshare/lanshare/internal/events"
	"github.com/lanshare/lanshare/internal/identity"
	"github.com/lanshare/lanshare/internal/logging"
	"github.com/lanshare/lanshare/internal/metrics"
)

// Service wires the storage root, the catalog and the broadcaster.
type Service struct {
	root        string
	catalog     *catalog.Store
	broadcaster *events.Broadcaster
}

// NewService creates the service, ensuring the storage root exists.
func NewService(root string, cat *catalog.Store, b *events.Broadcaster) (*Service, error) {
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("create storage root %s: %w", root, err)
	}
	return &Service{root: root, catalog: cat, broadcaster: b}, nil
}

// physicalDir maps a sanitized logical folder path to its directory on disk.
func (s *Service) physicalDir(logical string) string {
	return filepath.Join(s.root, filepath.FromSlash(logical))
}

// physicalPath maps a record to the on-disk location of its content.
func (s *Service) physicalPath(rec catalog.FileRecord) string {
	return filepath.Join(s.physicalDir(rec.Path), rec.SystemName)
}

// FileView is the listing entry returned to clients: catalog fields plus a
// live disk stat, assembled field by field so internal-only data never
// reaches the client by accident.
type FileView struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	Size          int64     `json:"size"`
	Type          string    `json:"type"`
	Path          string    `json:"path"`
	IsDirectory   bool      `json:"isDirectory"`
	OwnerID       string    `json:"ownerId,omitempty"`
	OwnerUsername string    `json:"ownerUsername,omitempty"`
	OwnerName     string    `json:"ownerName,omitempty"`
	OwnerIP       string    `json:"ownerIp,omitempty"`
	UploadedAt    time.Time `json:"uploadedAt"`
}

// List returns the catalog records whose logical parent equals the requested
// path. A record whose physical file is missing gets zero-size defaults
// instead of failing the whole listing; the catalog stays authoritative for
// structure, the disk for bytes.
func (s *Service) List(requestedPath string) []FileView {
	logical := SanitizePath(requestedPath)

	records := s.catalog.ListByPath(logical)
	views := make([]FileView, 0, len(records))
	for _, rec := range records {
		view := FileView{
			ID:            rec.ID,
			Name:          rec.Name,
			Type:          rec.Type,
			Path:          rec.Path,
			IsDirectory:   rec.IsDirectory,
			OwnerID:       rec.OwnerID,
			OwnerUsername: rec.OwnerUsername,
			OwnerName:     rec.OwnerName,
			OwnerIP:       rec.OwnerIP,
			UploadedAt:    rec.UploadedAt,
		}
		if !rec.IsDirectory {
			if info, err := os.Stat(s.physicalPath(rec)); err == nil {
				view.Size = info.Size()
			}
			// Missing content: zero-size fallback, tolerated.
		}
		views = append(views, view)
	}
	return views
}

// CreateFolder creates a physical directory and its catalog record. The
// actor is captured as owner.
func (s *Service) CreateFolder(actor identity.Actor, name, requestedPath string) (catalog.FileRecord, error) {
	if err := ValidateName(name); err != nil {
		return catalog.FileRecord{}, fmt.Errorf("folder name: %w", err)
	}
	logical := SanitizePath(requestedPath)

	phys := filepath.Join(s.physicalDir(logical), name)
	if _, err := os.Stat(phys); err == nil {
		return catalog.FileRecord{}, fmt.Errorf("folder %q: %w", name, ErrConflict)
	}

	if err := os.Mkdir(phys, 0755); err != nil {
		if os.IsNotExist(err) {
			return catalog.FileRecord{}, fmt.Errorf("parent folder: %w", ErrNotFound)
		}
		logging.Error("mkdir failed", zap.String("path", logical), zap.Error(err))
		return catalog.FileRecord{}, ErrStorage
	}

	rec := catalog.FileRecord{
		Name:        name,
		SystemName:  name,
		Size:        0,
		Type:        catalog.TypeFolder,
		Path:        logical,
		IsDirectory: true,
	}
	s.stampOwner(&rec, actor)

	rec, err := s.catalog.Insert(rec)
	if err != nil {
		logging.Error("catalog insert failed", zap.Error(err))
		return catalog.FileRecord{}, ErrStorage
	}

	s.NotifyChanged(logical)
	return rec, nil
}

// SaveFile persists one uploaded file: bytes first, durably, then the
// catalog record. An interrupted transfer therefore never leaves a record
// behind. Each file of a multi-file upload succeeds or fails independently;
// the handler broadcasts once after the batch.
func (s *Service) SaveFile(actor identity.Actor, requestedPath, filename string, r io.Reader) (catalog.FileRecord, error) {
	base := filepath.Base(filepath.FromSlash(strings.ReplaceAll(filename, "\\", "/")))
	if err := ValidateName(base); err != nil {
		return catalog.FileRecord{}, fmt.Errorf("file name: %w", err)
	}
	logical := SanitizePath(requestedPath)

	dir := s.physicalDir(logical)
	if info, err := os.Stat(dir); err != nil || !info.IsDir() {
		return catalog.FileRecord{}, fmt.Errorf("destination folder: %w", ErrNotFound)
	}

	// Disambiguating prefix keeps concurrent uploads of the same display
	// name from colliding on disk. Display name and on-disk name diverge
	// for files; only the catalog ties them together.
	systemName := fmt.Sprintf("%d-%d-%s", time.Now().UnixMilli(), rand.IntN(1_000_000_000), base)

	n, err := s.writeAtomic(dir, systemName, r)
	if err != nil {
		metrics.RecordUpload(n, false)
		logging.Error("upload write failed",
			zap.String("path", logical), zap.String("name", base), zap.Error(err))
		// The source error stays in the chain: the handler distinguishes a
		// client that exceeded the body limit from a disk fault.
		return catalog.FileRecord{}, errors.Join(ErrStorage, err)
	}

	rec := catalog.FileRecord{
		Name:        base,
		SystemName:  systemName,
		Size:        n,
		Type:        catalog.TypeOf(base),
		Path:        logical,
		IsDirectory: false,
	}
	s.stampOwner(&rec, actor)

	rec, err = s.catalog.Insert(rec)
	if err != nil {
		metrics.RecordUpload(n, false)
		logging.Error("catalog insert failed", zap.Error(err))
		return catalog.FileRecord{}, ErrStorage
	}

	metrics.RecordUpload(n, true)
	return rec, nil
}

// Download resolves a record id to its content. The caller is responsible
// for closing the reader. The record's display name is the suggested
// filename; the on-disk name never leaks.
func (s *Service) Download(id string) (io.ReadCloser, catalog.FileRecord, error) {
	rec, ok := s.catalog.Get(id)
	if !ok {
		return nil, catalog.FileRecord{}, fmt.Errorf("file %s: %w", id, ErrNotFound)
	}
	if rec.IsDirectory {
		return nil, catalog.FileRecord{}, fmt.Errorf("folders are not downloadable: %w", ErrValidation)
	}

	f, err := os.Open(s.physicalPath(rec))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, catalog.FileRecord{}, fmt.Errorf("file content: %w", ErrNotFound)
		}
		logging.Error("open for download failed", zap.String("id", id), zap.Error(err))
		return nil, catalog.FileRecord{}, ErrStorage
	}
	return f, rec, nil
}

// Delete removes a record and its content. Folders cascade: the physical
// subtree and every descendant record go together.
func (s *Service) Delete(actor identity.Actor, id string) error {
	rec, ok := s.catalog.Get(id)
	if !ok {
		return fmt.Errorf("file %s: %w", id, ErrNotFound)
	}
	if !identity.CanMutate(actor, rec) {
		return fmt.Errorf("delete %q: %w", rec.Name, ErrForbidden)
	}

	if rec.IsDirectory {
		if err := os.RemoveAll(s.physicalPath(rec)); err != nil {
			logging.Error("remove directory failed", zap.String("id", id), zap.Error(err))
			return ErrStorage
		}
		if _, err := s.catalog.RemoveByFolderPrefix(rec.FullPath()); err != nil {
			logging.Error("catalog cascade remove failed", zap.Error(err))
			return ErrStorage
		}
	} else {
		if err := os.Remove(s.physicalPath(rec)); err != nil && !os.IsNotExist(err) {
			logging.Error("remove file failed", zap.String("id", id), zap.Error(err))
			return ErrStorage
		}
	}

	if _, _, err := s.catalog.Remove(id); err != nil {
		logging.Error("catalog remove failed", zap.Error(err))
		return ErrStorage
	}

	s.NotifyChanged(rec.Path)
	return nil
}

// Rename changes a record's display name. Directories are renamed on disk
// too (their on-disk name always tracks the display name) and every
// descendant record's path is rewritten; files keep their on-disk name and
// only the catalog changes.
func (s *Service) Rename(actor identity.Actor, id, newName string) (catalog.FileRecord, error) {
	if err := ValidateName(newName); err != nil {
		return catalog.FileRecord{}, fmt.Errorf("new name: %w", err)
	}

	rec, ok := s.catalog.Get(id)
	if !ok {
		return catalog.FileRecord{}, fmt.Errorf("file %s: %w", id, ErrNotFound)
	}
	if !identity.CanMutate(actor, rec) {
		return catalog.FileRecord{}, fmt.Errorf("rename %q: %w", rec.Name, ErrForbidden)
	}

	if rec.IsDirectory && newName != rec.Name {
		newPhys := filepath.Join(s.physicalDir(rec.Path), newName)
		if _, err := os.Stat(newPhys); err == nil {
			return catalog.FileRecord{}, fmt.Errorf("folder %q: %w", newName, ErrConflict)
		}
		if err := os.Rename(s.physicalPath(rec), newPhys); err != nil {
			logging.Error("rename directory failed", zap.String("id", id), zap.Error(err))
			return catalog.FileRecord{}, ErrStorage
		}
	}

	renamed, err := s.catalog.Rename(id, newName)
	if err != nil {
		logging.Error("catalog rename failed", zap.Error(err))
		return catalog.FileRecord{}, ErrStorage
	}

	s.NotifyChanged(rec.Path)
	return renamed, nil
}

// StorageInfo reports capacity of the disk holding the storage root.
// Failures degrade to zeros: the dashboard must not break when statfs does.
func (s *Service) StorageInfo() diskinfo.Usage {
	usage, err := diskinfo.Lookup(s.root)
	if err != nil {
		logging.Warn("disk usage lookup failed", zap.Error(err))
		return diskinfo.Usage{}
	}
	metrics.SetDiskUsage(usage.Total, usage.Used, usage.Free)
	return usage
}

// DashboardStats is the aggregate snapshot: catalog stats plus live disk
// usage.
type DashboardStats struct {
	TotalFiles int                  `json:"totalFiles"`
	TotalSize  int64                `json:"totalSize"`
	TypeCounts map[string]int       `json:"typeDist"`
	Recent     []catalog.FileRecord `json:"recent"`
	Storage    diskinfo.Usage       `json:"storage"`
}

// Dashboard recomputes the aggregate snapshot.
func (s *Service) Dashboard() DashboardStats {
	st := s.catalog.Stats()
	return DashboardStats{
		TotalFiles: st.TotalFiles,
		TotalSize:  st.TotalSize,
		TypeCounts: st.TypeCounts,
		Recent:     st.Recent,
		Storage:    s.StorageInfo(),
	}
}

// NotifyChanged publishes the post-mutation events: a contents-changed
// signal scoped to the mutated folder, then the recomputed dashboard and
// storage snapshots for all clients. Initiated synchronously within the
// operation; delivery is best-effort and never blocks the caller.
func (s *Service) NotifyChanged(logicalPath string) {
	if s.broadcaster == nil {
		return
	}
	s.broadcaster.Publish(events.Event{Type: events.EventContentsChanged, Path: logicalPath})

	snapshot := s.Dashboard()
	s.broadcaster.Publish(events.Event{Type: events.EventDashboard, Data: snapshot})
	s.broadcaster.Publish(events.Event{Type: events.EventStorage, Data: snapshot.Storage})
}

func (s *Service) stampOwner(rec *catalog.FileRecord, actor identity.Actor) {
	rec.OwnerIP = actor.IP
	if creds := actor.Credentials; creds != nil {
		rec.OwnerID = creds.ID
		rec.OwnerUsername = creds.Username
		rec.OwnerName = creds.Name
	}
}

// writeAtomic streams r into dir/name via a temp file and rename, counting
// bytes. The destination only ever holds complete content.
func (s *Service) writeAtomic(dir, name string, r io.Reader) (int64, error) {
	tmp, err := os.CreateTemp(dir, ".upload-*.tmp")
	if err != nil {
		return 0, fmt.Errorf("create temp: %w", err)
	}
	tmpName := tmp.Name()

	n, err := io.Copy(tmp, r)
	if err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return n, fmt.Errorf("write content: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return n, fmt.Errorf("close temp: %w", err)
	}
	if err := os.Rename(tmpName, filepath.Join(dir, name)); err != nil {
		os.Remove(tmpName)
		return n, fmt.Errorf("finalize upload: %w", err)
	}
	return n, nil
}
