package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"golang.org/x/crypto/bcrypt"

	"github.com/jbweber/kiln/internal/fsutil"
)

// Keys of the persisted configuration file.
const (
	KeyImagePath   = "IMAGE_PATH"
	KeyStoragePath = "STORAGE_PATH"
	KeyDiskSize    = "DEFAULT_VM_SIZE"
	KeyRAM         = "DEFAULT_RAM"
	KeyCPUs        = "DEFAULT_CPUS"
	KeyPassword    = "DEFAULT_PASSWORD"
)

// EnvConfigPath overrides the configuration file location.
const EnvConfigPath = "KILN_CONFIG"

// filePerm restricts the configuration file to its owner.
const filePerm = 0o600

// Hasher produces one-way password hashes.
type Hasher interface {
	Hash(password string) (string, error)
}

// BcryptHasher hashes passwords with bcrypt. The $2a$ form is accepted by
// the libxcrypt-based crypt(3) in current cloud images.
type BcryptHasher struct {
	Cost int
}

// Hash implements Hasher.
func (h BcryptHasher) Hash(password string) (string, error) {
	cost := h.Cost
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	out, err := bcrypt.GenerateFromPassword([]byte(password), cost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(out), nil
}

// Store reads and writes the persisted defaults. All access to the file goes
// through a Store.
type Store struct {
	path   string
	hasher Hasher
}

// NewStore returns a store backed by the file at path.
func NewStore(path string, hasher Hasher) *Store {
	if hasher == nil {
		hasher = BcryptHasher{}
	}
	return &Store{path: path, hasher: hasher}
}

// DefaultPath returns the configuration file location: $KILN_CONFIG, else
// $XDG_CONFIG_HOME/kiln/config, else ~/.config/kiln/config.
func DefaultPath() (string, error) {
	if p := os.Getenv(EnvConfigPath); p != "" {
		return p, nil
	}
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("failed to locate configuration directory: %w", err)
	}
	return filepath.Join(dir, "kiln", "config"), nil
}

// Path returns the file the store is backed by.
func (s *Store) Path() string { return s.path }

// Exists reports whether the configuration file exists.
func (s *Store) Exists() (bool, error) {
	_, err := os.Stat(s.path)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return false, fmt.Errorf("failed to stat %s: %w", s.path, err)
}

// Load reads the defaults. Keys missing from the file keep their built-in
// values. A cleartext DEFAULT_PASSWORD left by an older version is hashed and
// the file is rewritten so the cleartext does not persist.
func (s *Store) Load() (Defaults, error) {
	values, err := godotenv.Read(s.path)
	if err != nil {
		return Defaults{}, fmt.Errorf("failed to read configuration %s: %w", s.path, err)
	}

	d := BuiltinDefaults()
	if v := values[KeyImagePath]; v != "" {
		d.ImagePath = v
	}
	if v := values[KeyStoragePath]; v != "" {
		d.StoragePath = v
	}
	if v := values[KeyDiskSize]; v != "" {
		d.DiskSize = v
	}
	if v := values[KeyRAM]; v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return Defaults{}, fmt.Errorf("%s: invalid %s %q: %w", s.path, KeyRAM, v, err)
		}
		d.RAMMiB = n
	}
	if v := values[KeyCPUs]; v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return Defaults{}, fmt.Errorf("%s: invalid %s %q: %w", s.path, KeyCPUs, v, err)
		}
		d.VCPUs = n
	}

	if v := values[KeyPassword]; v != "" {
		if LooksHashed(v) {
			d.PasswordHash = Secret(v)
		} else {
			hash, err := s.hasher.Hash(v)
			if err != nil {
				return Defaults{}, err
			}
			d.PasswordHash = Secret(hash)
			if err := s.Save(d); err != nil {
				return Defaults{}, fmt.Errorf("failed to replace cleartext password in %s: %w", s.path, err)
			}
		}
	}

	if err := d.Validate(); err != nil {
		return Defaults{}, fmt.Errorf("invalid configuration %s: %w", s.path, err)
	}
	return d, nil
}

// Save overwrites the configuration file with d.
func (s *Store) Save(d Defaults) error {
	content, err := encode(d)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("failed to create configuration directory: %w", err)
	}
	return fsutil.WriteFileAtomic(s.path, content, filePerm)
}

// encode renders d as KEY=VALUE lines in a fixed key order. Strings are
// single-quoted so that godotenv reads them back literally; crypt hashes are
// full of '$' which double quotes would expand.
func encode(d Defaults) ([]byte, error) {
	var b strings.Builder
	b.WriteString("# kiln defaults; rewritten by `kiln deploy --reconfig`\n")

	for _, kv := range [][2]string{
		{KeyImagePath, d.ImagePath},
		{KeyStoragePath, d.StoragePath},
		{KeyDiskSize, d.DiskSize},
	} {
		if strings.ContainsAny(kv[1], "'\n") {
			return nil, fmt.Errorf("%s contains a quote or newline: %q", kv[0], kv[1])
		}
		fmt.Fprintf(&b, "%s='%s'\n", kv[0], kv[1])
	}
	fmt.Fprintf(&b, "%s=%d\n", KeyRAM, d.RAMMiB)
	fmt.Fprintf(&b, "%s=%d\n", KeyCPUs, d.VCPUs)
	if d.PasswordHash.IsSet() {
		// crypt hashes never contain quotes
		fmt.Fprintf(&b, "%s='%s'\n", KeyPassword, d.PasswordHash.Reveal())
	}
	return []byte(b.String()), nil
}
