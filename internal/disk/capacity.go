package disk

import (
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"

	"golang.org/x/sys/unix"
)

// Advisory is the outcome of a free-space check. Overlays are sparse, so a
// shortfall is only a warning.
type Advisory struct {
	Path      string
	Needed    int64
	Available int64
}

// Sufficient reports whether the requested size fits in the free space.
func (a Advisory) Sufficient() bool { return a.Available >= a.Needed }

// statfs is replaced in tests.
var statfs = unix.Statfs

// CapacityAdvisory reports the free space on the filesystem holding dir
// against needed bytes. When dir does not exist yet, its nearest existing
// parent is checked.
func CapacityAdvisory(dir string, needed int64) (Advisory, error) {
	path := filepath.Clean(dir)
	for {
		var st unix.Statfs_t
		err := statfs(path, &st)
		if err == nil {
			return Advisory{
				Path:      path,
				Needed:    needed,
				Available: int64(st.Bavail) * int64(st.Bsize),
			}, nil
		}
		parent := filepath.Dir(path)
		if !errors.Is(err, fs.ErrNotExist) || parent == path {
			return Advisory{}, fmt.Errorf("failed to get filesystem stats for %s: %w", dir, err)
		}
		path = parent
	}
}
