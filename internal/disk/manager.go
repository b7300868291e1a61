// Package disk manages the per-instance files kept in the storage directory:
// the copy-on-write overlay disk and the first-boot seed image.
//
// Both paths derive from the instance name alone, so a redeploy always finds
// the previous instance's artifacts. Every mutation goes through a
// privilege.Runner since the storage directory is usually root-owned.
package disk

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"

	"github.com/docker/go-units"

	"github.com/jbweber/kiln/internal/errdefs"
	"github.com/jbweber/kiln/internal/image"
	"github.com/jbweber/kiln/internal/logging"
	"github.com/jbweber/kiln/internal/naming"
	"github.com/jbweber/kiln/internal/privilege"
	"github.com/jbweber/kiln/internal/status"
)

const (
	// FilePermissions are the permissions for instance artifacts; the
	// hypervisor user must be able to read them.
	FilePermissions = "0644"

	// DirPermissions are the permissions for a storage directory kiln creates.
	DirPermissions = "0755"
)

// Artifacts are the files belonging to one instance.
type Artifacts struct {
	Overlay string
	Seed    string
}

// Paths returns the artifact paths in removal order.
func (a Artifacts) Paths() []string { return []string{a.Overlay, a.Seed} }

// FormatInspector reports the on-disk format of an image.
type FormatInspector interface {
	Format(ctx context.Context, path string) (string, error)
}

// Manager handles the instance artifacts in one storage directory.
type Manager struct {
	storageDir string
	run        privilege.Runner
	inspector  FormatInspector
	logger     *slog.Logger

	// owner resolves the hypervisor account; nil skips chown.
	owner func() (Owner, error)
}

// NewManager returns a manager for storageDir, made absolute since libvirtd
// resolves disk sources from its own working directory. When run reports
// itself privileged, installed files are handed to the hypervisor account.
func NewManager(storageDir string, run privilege.Runner, inspector FormatInspector, logger *slog.Logger) *Manager {
	if abs, err := filepath.Abs(storageDir); err == nil {
		storageDir = abs
	}
	m := &Manager{
		storageDir: storageDir,
		run:        run,
		inspector:  inspector,
		logger:     logging.Ensure(logger),
	}
	if p, ok := run.(interface{ Privileged() bool }); ok && p.Privileged() {
		m.owner = HypervisorOwner
	}
	return m
}

// StorageDir returns the directory artifacts live in.
func (m *Manager) StorageDir() string { return m.storageDir }

// Artifacts returns the deterministic artifact paths for an instance.
func (m *Manager) Artifacts(name string) Artifacts {
	return Artifacts{
		Overlay: filepath.Join(m.storageDir, naming.OverlayDiskName(name)),
		Seed:    filepath.Join(m.storageDir, naming.SeedImageName(name)),
	}
}

// EnsureStorageDir creates the storage directory if it does not exist.
func (m *Manager) EnsureStorageDir(ctx context.Context) error {
	info, err := os.Stat(m.storageDir)
	if err == nil {
		if !info.IsDir() {
			return errdefs.Configuration("storage path %s is not a directory", m.storageDir)
		}
		return nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to stat storage directory %s: %w", m.storageDir, err)
	}

	m.logger.Info("creating storage directory", "path", m.storageDir)
	if _, err := m.run.Run(ctx, "install", "-d", "-m", DirPermissions, m.storageDir); err != nil {
		return fmt.Errorf("failed to create storage directory %s: %w", m.storageDir, err)
	}
	return nil
}

// TryRemove deletes path if it exists. Absence is not an error.
func (m *Manager) TryRemove(ctx context.Context, path string) (status.RemoveResult, error) {
	if _, err := os.Lstat(path); errors.Is(err, fs.ErrNotExist) {
		return status.RemoveAbsent, nil
	}
	// any other stat error may be a permission problem the runner can get
	// past, so try the removal regardless
	if _, err := m.run.Run(ctx, "rm", "-f", "--", path); err != nil {
		return status.RemoveFailed, fmt.Errorf("failed to remove %s: %w", path, err)
	}
	return status.RemoveRemoved, nil
}

// RemoveArtifacts removes every artifact of an instance and reports each
// outcome. It does not stop at the first failure.
func (m *Manager) RemoveArtifacts(ctx context.Context, name string) []status.Removal {
	var removals []status.Removal
	for _, path := range m.Artifacts(name).Paths() {
		result, err := m.TryRemove(ctx, path)
		removals = append(removals, status.Removal{Resource: path, Result: result, Err: err})
	}
	return removals
}

// CreateOverlay creates a qcow2 overlay at path backed by base, sized to
// sizeBytes. The base is inspected again here and must still have the format
// recorded in base.Format; a mismatch or any qemu-img failure leaves no disk
// behind.
func (m *Manager) CreateOverlay(ctx context.Context, base image.Descriptor, path string, sizeBytes int64) error {
	if base.Format == "" {
		return fmt.Errorf("base image %s has no resolved format", base.Path)
	}
	// qemu-img resolves a relative backing file against the overlay's
	// directory, not ours
	backing, err := filepath.Abs(base.Path)
	if err != nil {
		return fmt.Errorf("failed to resolve base image path %s: %w", base.Path, err)
	}
	if _, err := os.Stat(base.Path); err != nil {
		return errdefs.WrapConfiguration(err, "base image %s is not accessible", base.Path)
	}

	actual, err := m.inspector.Format(ctx, backing)
	if err != nil {
		return fmt.Errorf("failed to inspect base image %s: %w", base.Path, err)
	}
	if actual != base.Format {
		return &errdefs.ExternalToolError{
			Tool: "qemu-img",
			Args: []string{"info", base.Path},
			Err:  fmt.Errorf("base image format is %s, expected %s", actual, base.Format),
		}
	}

	m.logger.Info("creating overlay disk",
		"path", path,
		"backing", backing,
		"backing_format", base.Format,
		"size", units.BytesSize(float64(sizeBytes)))

	_, err = m.run.Run(ctx, "qemu-img", "create",
		"-f", "qcow2",
		"-F", base.Format,
		"-b", backing,
		path,
		strconv.FormatInt(sizeBytes, 10),
	)
	if err != nil {
		if _, rmErr := m.TryRemove(ctx, path); rmErr != nil {
			m.logger.Warn("failed to remove partial overlay", "path", path, "error", rmErr)
		}
		return fmt.Errorf("failed to create overlay %s: %w", path, err)
	}
	return m.handOver(ctx, path)
}

// InstallSeed copies the seed image at src to dst with hypervisor-readable
// permissions.
func (m *Manager) InstallSeed(ctx context.Context, src, dst string) error {
	if _, err := m.run.Run(ctx, "install", "-m", FilePermissions, src, dst); err != nil {
		return fmt.Errorf("failed to install seed image %s: %w", dst, err)
	}
	return m.handOver(ctx, dst)
}

// handOver gives path to the hypervisor account when running privileged.
func (m *Manager) handOver(ctx context.Context, path string) error {
	if m.owner == nil {
		return nil
	}
	owner, err := m.owner()
	if err != nil {
		m.logger.Warn("leaving file owned by root", "path", path, "error", err)
		return nil
	}
	if _, err := m.run.Run(ctx, "chown", owner.Spec(), path); err != nil {
		return fmt.Errorf("failed to set ownership on %s: %w", path, err)
	}
	return nil
}
