package catalog

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lanshare/lanshare/internal/logging"
	"github.com/lanshare/lanshare/internal/metrics"
)

// ErrNotFound is returned when no record matches the given id.
var ErrNotFound = errors.New("record not found")

// Store is the file-backed metadata catalog.
//
// All mutations take the store lock, apply the change in memory and rewrite
// the whole backing document before returning. Funnelling every
// read-modify-write through the lock gives single-writer discipline: two
// concurrent mutations can never clobber each other's changes.
type Store struct {
	mu      sync.Mutex
	path    string
	records []FileRecord
}

// Open loads the catalog document at path, creating the parent directory if
// needed. A missing or unreadable document yields an empty catalog: the
// catalog is an index over the storage root, not the only copy of the bytes,
// so availability wins over strictness here.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	s := &Store{path: path}

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			logging.Warn("catalog unreadable, starting empty",
				zap.String("path", path), zap.Error(err))
		}
		metrics.SetCatalogRecords(0)
		return s, nil
	}

	if err := json.Unmarshal(data, &s.records); err != nil {
		logging.Warn("catalog corrupt, starting empty",
			zap.String("path", path), zap.Error(err))
		s.records = nil
	}
	metrics.SetCatalogRecords(int64(len(s.records)))
	return s, nil
}

// ListAll returns a copy of every record in insertion order.
func (s *Store) ListAll() []FileRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]FileRecord, len(s.records))
	copy(out, s.records)
	return out
}

// ListByPath returns every record whose logical parent path equals path.
func (s *Store) ListByPath(path string) []FileRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []FileRecord
	for _, r := range s.records {
		if r.Path == path {
			out = append(out, r)
		}
	}
	return out
}

// Get returns the record with the given id.
func (s *Store) Get(id string) (FileRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.records {
		if r.ID == id {
			return r, true
		}
	}
	return FileRecord{}, false
}

// Insert assigns a fresh id and creation timestamp, appends the record and
// persists the catalog. The populated record is returned.
func (s *Store) Insert(rec FileRecord) (FileRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec.ID = uuid.NewString()
	rec.UploadedAt = time.Now().UTC()
	s.records = append(s.records, rec)

	if err := s.persist(); err != nil {
		s.records = s.records[:len(s.records)-1]
		return FileRecord{}, err
	}
	return rec, nil
}

// Remove deletes the record with the given id and persists. The removed
// record is returned when one was found.
func (s *Store) Remove(id string) (FileRecord, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, r := range s.records {
		if r.ID == id {
			removed := r
			s.records = append(s.records[:i], s.records[i+1:]...)
			if err := s.persist(); err != nil {
				return FileRecord{}, false, err
			}
			return removed, true, nil
		}
	}
	return FileRecord{}, false, nil
}

// RemoveByFolderPrefix deletes every record whose path equals fullPath or is
// nested under it (the folder-delete cascade). The number of removed records
// is returned.
func (s *Store) RemoveByFolderPrefix(fullPath string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	prefix := fullPath + "/"
	kept := s.records[:0]
	removed := 0
	for _, r := range s.records {
		if r.Path == fullPath || strings.HasPrefix(r.Path, prefix) {
			removed++
			continue
		}
		kept = append(kept, r)
	}
	s.records = kept

	if removed == 0 {
		return 0, nil
	}
	if err := s.persist(); err != nil {
		return 0, err
	}
	return removed, nil
}

// Rename updates the record's display name and persists. For directories the
// on-disk name tracks the display name, so SystemName is updated too and
// every descendant's path prefix is rewritten.
func (s *Store) Rename(id, newName string) (FileRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := -1
	for i, r := range s.records {
		if r.ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		return FileRecord{}, ErrNotFound
	}

	rec := &s.records[idx]
	oldFull := rec.FullPath()
	rec.Name = newName
	if rec.IsDirectory {
		rec.SystemName = newName
		newFull := rec.FullPath()
		for i := range s.records {
			if i == idx {
				continue
			}
			p := s.records[i].Path
			if p == oldFull {
				s.records[i].Path = newFull
			} else if strings.HasPrefix(p, oldFull+"/") {
				s.records[i].Path = newFull + strings.TrimPrefix(p, oldFull)
			}
		}
	}

	if err := s.persist(); err != nil {
		return FileRecord{}, err
	}
	return *rec, nil
}

// Stats holds the catalog-wide aggregate view shown on the dashboard.
type Stats struct {
	TotalFiles int            `json:"totalFiles"`
	TotalSize  int64          `json:"totalSize"`
	TypeCounts map[string]int `json:"typeDist"`
	Recent     []FileRecord   `json:"recent"`
}

const recentCount = 5

// Stats computes the aggregate view: record count, total logical size,
// per-type distribution and the five most recent records. Equal timestamps
// keep insertion order.
func (s *Store) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Stats{TypeCounts: make(map[string]int)}
	st.TotalFiles = len(s.records)
	for _, r := range s.records {
		st.TotalSize += r.Size
		t := r.Type
		if t == "" {
			t = "unknown"
		}
		st.TypeCounts[t]++
	}

	recent := make([]FileRecord, len(s.records))
	copy(recent, s.records)
	sort.SliceStable(recent, func(i, j int) bool {
		return recent[i].UploadedAt.After(recent[j].UploadedAt)
	})
	if len(recent) > recentCount {
		recent = recent[:recentCount]
	}
	st.Recent = recent
	return st
}

// Len returns the number of records.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

// persist rewrites the whole backing document. Callers hold s.mu.
// Write to temp file then rename for atomicity.
func (s *Store) persist() error {
	records := s.records
	if records == nil {
		records = []FileRecord{}
	}
	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal catalog: %w", err)
	}

	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, ".catalog-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp catalog: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write catalog: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp catalog: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replace catalog: %w", err)
	}

	metrics.SetCatalogRecords(int64(len(s.records)))
	return nil
}
