package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/jbweber/kiln/internal/errdefs"
)

// KeySet is the key material granted access to a new instance.
type KeySet struct {
	// PublicKeys are authorized_keys lines.
	PublicKeys []string
	// IdentityFile is the private key matching the first public key, used
	// for the connection registry.
	IdentityFile string
}

// DiscoverKeys collects every *.pub file in sshDir. Missing key material is
// a configuration error.
func DiscoverKeys(sshDir string) (KeySet, error) {
	paths, err := filepath.Glob(filepath.Join(sshDir, "*.pub"))
	if err != nil {
		return KeySet{}, fmt.Errorf("failed to list %s: %w", sshDir, err)
	}
	sort.Strings(paths)
	if len(paths) == 0 {
		return KeySet{}, errdefs.Configuration("no SSH public keys found in %s; create one with ssh-keygen or pass --ssh-key", sshDir)
	}
	return LoadKeys(paths...)
}

// LoadKeys reads the named public key files. Each file may hold several keys;
// blank lines and comments are skipped.
func LoadKeys(paths ...string) (KeySet, error) {
	var set KeySet
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return KeySet{}, errdefs.WrapConfiguration(err, "cannot read SSH key %s", path)
		}

		found := false
		for _, line := range strings.Split(string(data), "\n") {
			line = strings.TrimSpace(line)
			if line == "" || strings.HasPrefix(line, "#") {
				continue
			}
			if err := ValidatePublicKey(line); err != nil {
				return KeySet{}, errdefs.WrapConfiguration(err, "invalid SSH key in %s", path)
			}
			set.PublicKeys = append(set.PublicKeys, line)
			found = true
		}

		if found && set.IdentityFile == "" {
			private := strings.TrimSuffix(path, ".pub")
			if _, err := os.Stat(private); err == nil {
				set.IdentityFile = private
			} else if !errors.Is(err, fs.ErrNotExist) {
				return KeySet{}, fmt.Errorf("failed to stat %s: %w", private, err)
			}
		}
	}

	if len(set.PublicKeys) == 0 {
		return KeySet{}, errdefs.Configuration("no SSH public keys found in %s", strings.Join(paths, ", "))
	}
	return set, nil
}
