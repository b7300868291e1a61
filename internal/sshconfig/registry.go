// Package sshconfig maintains connection shortcuts for deployed instances.
//
// The user's ssh config gains a single Include of a kiln-owned directory;
// each instance then owns exactly one file in that directory, rewritten in
// full on every deploy. Nothing else in the main config is touched.
package sshconfig

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/jbweber/kiln/internal/fsutil"
	"github.com/jbweber/kiln/internal/logging"
	"github.com/jbweber/kiln/internal/naming"
)

const (
	// DirName is the registry directory inside ~/.ssh.
	DirName = "kiln.d"

	configPerm = 0o600
	dirPerm    = 0o700
)

// Registry manages the Include directive and the per-instance files.
type Registry struct {
	mainPath string
	dir      string
	// include is the Include argument written to the main config.
	include string
	logger  *slog.Logger
}

// New returns a registry that includes dir from the config at mainPath.
func New(mainPath, dir string, logger *slog.Logger) *Registry {
	return &Registry{
		mainPath: mainPath,
		dir:      dir,
		include:  filepath.Join(dir, "*"),
		logger:   logging.Ensure(logger),
	}
}

// Default returns the registry for ~/.ssh/config and ~/.ssh/kiln.d. The
// Include line uses the ~ form so the config stays portable.
func Default(logger *slog.Logger) (*Registry, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("failed to locate home directory: %w", err)
	}
	sshDir := filepath.Join(home, ".ssh")
	r := New(filepath.Join(sshDir, "config"), filepath.Join(sshDir, DirName), logger)
	r.include = "~/.ssh/" + DirName + "/*"
	return r, nil
}

// Dir returns the registry directory.
func (r *Registry) Dir() string { return r.dir }

// MainPath returns the main ssh config path.
func (r *Registry) MainPath() string { return r.mainPath }

// IncludeLine returns the directive EnsureInclude maintains.
func (r *Registry) IncludeLine() string { return "Include " + r.include }

// RecordPath returns the file holding the named instance's record.
func (r *Registry) RecordPath(name string) string {
	return filepath.Join(r.dir, name)
}

// EnsureInclude creates the registry directory and prepends the Include
// directive to the main config unless it is already present. An Include
// placed after a Host block would only apply inside that block, so the
// directive always goes first.
func (r *Registry) EnsureInclude() error {
	if err := os.MkdirAll(filepath.Dir(r.mainPath), dirPerm); err != nil {
		return fmt.Errorf("failed to create %s: %w", filepath.Dir(r.mainPath), err)
	}
	if err := os.MkdirAll(r.dir, dirPerm); err != nil {
		return fmt.Errorf("failed to create registry directory %s: %w", r.dir, err)
	}

	current, err := os.ReadFile(r.mainPath)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to read %s: %w", r.mainPath, err)
	}
	if r.hasInclude(current) {
		return nil
	}

	perm := os.FileMode(configPerm)
	if info, err := os.Stat(r.mainPath); err == nil {
		perm = info.Mode().Perm()
	}

	var buf bytes.Buffer
	buf.WriteString(r.IncludeLine())
	buf.WriteString("\n")
	if len(current) > 0 {
		buf.WriteString("\n")
		buf.Write(current)
	}
	if err := fsutil.WriteFileAtomic(r.mainPath, buf.Bytes(), perm); err != nil {
		return err
	}
	r.logger.Debug("added registry include", "config", r.mainPath, "include", r.include)
	return nil
}

// hasInclude reports whether any Include line already names the registry,
// in either the ~ or the absolute form.
func (r *Registry) hasInclude(content []byte) bool {
	wanted := map[string]bool{r.include: true}
	wanted[filepath.Join(r.dir, "*")] = true
	if home, err := os.UserHomeDir(); err == nil {
		if rel, ok := strings.CutPrefix(r.dir, home+string(filepath.Separator)); ok {
			wanted["~/"+filepath.ToSlash(rel)+"/*"] = true
		}
	}

	scanner := bufio.NewScanner(bytes.NewReader(content))
	for scanner.Scan() {
		fields := strings.Fields(strings.ReplaceAll(scanner.Text(), "=", " "))
		if len(fields) < 2 || !strings.EqualFold(fields[0], "include") {
			continue
		}
		for _, arg := range fields[1:] {
			if wanted[strings.Trim(arg, `"`)] {
				return true
			}
		}
	}
	return false
}

// Write replaces the instance's record file.
func (r *Registry) Write(rec Record) error {
	if err := naming.ValidateInstanceName(rec.InstanceName); err != nil {
		return err
	}
	content, err := rec.Render()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(r.dir, dirPerm); err != nil {
		return fmt.Errorf("failed to create registry directory %s: %w", r.dir, err)
	}
	return fsutil.WriteFileAtomic(r.RecordPath(rec.InstanceName), content, configPerm)
}

// Sync ensures the Include directive and writes the instance's record.
func (r *Registry) Sync(rec Record) error {
	if err := r.EnsureInclude(); err != nil {
		return err
	}
	if err := r.Write(rec); err != nil {
		return err
	}
	r.logger.Info("connection registry updated",
		"instance", rec.InstanceName, "file", r.RecordPath(rec.InstanceName))
	return nil
}

// Remove deletes the instance's record file. A missing file is not an error.
func (r *Registry) Remove(name string) error {
	if err := naming.ValidateInstanceName(name); err != nil {
		return err
	}
	if err := os.Remove(r.RecordPath(name)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to remove %s: %w", r.RecordPath(name), err)
	}
	return nil
}
