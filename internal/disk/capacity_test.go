package disk

import (
	"path/filepath"
	"testing"

	"golang.org/x/sys/unix"
)

func TestCapacityAdvisory(t *testing.T) {
	dir := t.TempDir()

	a, err := CapacityAdvisory(dir, 1)
	if err != nil {
		t.Fatalf("CapacityAdvisory() error = %v", err)
	}
	if a.Path != dir || a.Available <= 0 || !a.Sufficient() {
		t.Errorf("CapacityAdvisory() = %+v", a)
	}

	a, err = CapacityAdvisory(dir, 1<<62)
	if err != nil {
		t.Fatal(err)
	}
	if a.Sufficient() {
		t.Errorf("Sufficient() = true for %d bytes", a.Needed)
	}
}

func TestCapacityAdvisoryMissingDir(t *testing.T) {
	dir := t.TempDir()
	a, err := CapacityAdvisory(filepath.Join(dir, "not", "yet"), 1)
	if err != nil {
		t.Fatalf("CapacityAdvisory() error = %v", err)
	}
	if a.Path != dir {
		t.Errorf("Path = %q, want nearest existing parent %q", a.Path, dir)
	}
}

func TestCapacityAdvisoryStatfs(t *testing.T) {
	orig := statfs
	t.Cleanup(func() { statfs = orig })
	statfs = func(_ string, st *unix.Statfs_t) error {
		st.Bavail = 10
		st.Bsize = 4096
		return nil
	}

	a, err := CapacityAdvisory("/var/lib/libvirt/images", 40960)
	if err != nil {
		t.Fatal(err)
	}
	if a.Available != 40960 || !a.Sufficient() {
		t.Errorf("CapacityAdvisory() = %+v", a)
	}

	statfs = func(string, *unix.Statfs_t) error { return unix.EACCES }
	if _, err := CapacityAdvisory("/x", 1); err == nil {
		t.Error("expected error")
	}
}
