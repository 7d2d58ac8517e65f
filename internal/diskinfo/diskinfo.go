// Package diskinfo reports capacity of the filesystem holding the storage
// root. Unix-only (statfs).
package diskinfo

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// Usage describes disk capacity in bytes.
type Usage struct {
	Total int64 `json:"total"`
	Used  int64 `json:"used"`
	Free  int64 `json:"free"`
}

// Lookup returns the capacity of the filesystem containing path.
func Lookup(path string) (Usage, error) {
	var stat unix.Statfs_t
	if err := unix.Statfs(path, &stat); err != nil {
		return Usage{}, fmt.Errorf("statfs %s: %w", path, err)
	}

	total := int64(stat.Blocks) * int64(stat.Bsize)
	free := int64(stat.Bavail) * int64(stat.Bsize)
	return Usage{
		Total: total,
		Used:  total - free,
		Free:  free,
	}, nil
}
