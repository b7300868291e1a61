// Package config holds the inputs of a deployment: the persisted defaults,
// the per-run VM specification built from them, and the key material used
// for first-boot access.
package config

import (
	"fmt"
	"log/slog"
	"os/user"
	"path/filepath"
	"strings"

	"github.com/docker/go-units"
	"golang.org/x/crypto/ssh"

	"github.com/jbweber/kiln/internal/naming"
)

// Built-in defaults used when no configuration file exists yet.
const (
	DefaultImagePath   = "/var/lib/libvirt/images/base"
	DefaultStoragePath = "/var/lib/libvirt/images"
	DefaultDiskSize    = "20G"
	DefaultRAMMiB      = 2048
	DefaultVCPUs       = 2
)

// DefaultPackages are installed on first boot unless disabled.
var DefaultPackages = []string{"qemu-guest-agent"}

// DefaultRunCmd activates the guest agent installed by DefaultPackages.
var DefaultRunCmd = []string{"systemctl enable --now qemu-guest-agent"}

// Secret holds a sensitive value that must never appear in logs or output.
type Secret string

// String implements fmt.Stringer.
func (s Secret) String() string {
	if s == "" {
		return ""
	}
	return "[REDACTED]"
}

// LogValue implements slog.LogValuer.
func (s Secret) LogValue() slog.Value {
	return slog.StringValue(s.String())
}

// Reveal returns the underlying value.
func (s Secret) Reveal() string { return string(s) }

// IsSet reports whether the secret holds a value.
func (s Secret) IsSet() bool { return s != "" }

// Defaults are the persisted per-user settings.
type Defaults struct {
	ImagePath   string
	StoragePath string
	DiskSize    string
	RAMMiB      int
	VCPUs       int
	// PasswordHash is the one-way hash of the primary user's password.
	PasswordHash Secret
}

// BuiltinDefaults returns the defaults used before first-run setup.
func BuiltinDefaults() Defaults {
	return Defaults{
		ImagePath:   DefaultImagePath,
		StoragePath: DefaultStoragePath,
		DiskSize:    DefaultDiskSize,
		RAMMiB:      DefaultRAMMiB,
		VCPUs:       DefaultVCPUs,
	}
}

// Validate checks the defaults for errors.
func (d Defaults) Validate() error {
	if d.ImagePath == "" {
		return fmt.Errorf("image path is required")
	}
	if d.StoragePath == "" {
		return fmt.Errorf("storage path is required")
	}
	if SameDir(d.ImagePath, d.StoragePath) {
		return fmt.Errorf("image path and storage path must be different directories, both are %s", d.ImagePath)
	}
	if _, err := ParseDiskSize(d.DiskSize); err != nil {
		return err
	}
	if d.RAMMiB <= 0 {
		return fmt.Errorf("ram must be > 0 MiB, got %d", d.RAMMiB)
	}
	if d.VCPUs <= 0 {
		return fmt.Errorf("vcpus must be > 0, got %d", d.VCPUs)
	}
	return nil
}

// Absolute returns d with the image and storage paths made absolute.
func (d Defaults) Absolute() (Defaults, error) {
	var err error
	if d.ImagePath, err = filepath.Abs(d.ImagePath); err != nil {
		return Defaults{}, fmt.Errorf("failed to resolve image path: %w", err)
	}
	if d.StoragePath, err = filepath.Abs(d.StoragePath); err != nil {
		return Defaults{}, fmt.Errorf("failed to resolve storage path: %w", err)
	}
	return d, nil
}

// SameDir reports whether a and b name the same directory once cleaned and
// made absolute. Symlinks are not followed.
func SameDir(a, b string) bool {
	absA, errA := filepath.Abs(a)
	absB, errB := filepath.Abs(b)
	if errA != nil || errB != nil {
		return filepath.Clean(a) == filepath.Clean(b)
	}
	return absA == absB
}

// Overrides are command-line values that replace defaults for one run.
// Zero values leave the default in place.
type Overrides struct {
	ImagePath   string
	StoragePath string
	DiskSize    string
	RAMMiB      int
	VCPUs       int
}

// With returns d with every non-zero override applied.
func (d Defaults) With(o Overrides) Defaults {
	if o.ImagePath != "" {
		d.ImagePath = o.ImagePath
	}
	if o.StoragePath != "" {
		d.StoragePath = o.StoragePath
	}
	if o.DiskSize != "" {
		d.DiskSize = o.DiskSize
	}
	if o.RAMMiB > 0 {
		d.RAMMiB = o.RAMMiB
	}
	if o.VCPUs > 0 {
		d.VCPUs = o.VCPUs
	}
	return d
}

// VMSpec describes the machine a single run deploys.
type VMSpec struct {
	Name     string
	DiskSize string
	RAMMiB   int
	VCPUs    int
	// Password is the one-way hash of the primary user's password; the
	// cleartext is never held here.
	Password Secret
	SSHKeys  []string
	Packages []string
	RunCmd   []string
	// User is the primary account created in the guest.
	User string
	// OSVariant overrides the OS variant inferred from the image name.
	OSVariant string
}

// NewVMSpec builds a spec for name from d, with the default packages and
// the invoking user as primary account.
func NewVMSpec(name string, d Defaults) VMSpec {
	return VMSpec{
		Name:     name,
		DiskSize: d.DiskSize,
		RAMMiB:   d.RAMMiB,
		VCPUs:    d.VCPUs,
		Password: d.PasswordHash,
		Packages: append([]string(nil), DefaultPackages...),
		RunCmd:   append([]string(nil), DefaultRunCmd...),
		User:     currentUsername(),
	}
}

// Validate checks the spec for errors. It does not check hypervisor
// resources, only the spec itself.
func (s *VMSpec) Validate() error {
	if err := naming.ValidateInstanceName(s.Name); err != nil {
		return err
	}
	if _, err := ParseDiskSize(s.DiskSize); err != nil {
		return err
	}
	if s.RAMMiB <= 0 {
		return fmt.Errorf("ram must be > 0 MiB, got %d", s.RAMMiB)
	}
	if s.VCPUs <= 0 {
		return fmt.Errorf("vcpus must be > 0, got %d", s.VCPUs)
	}
	if s.User == "" || s.User == "root" {
		return fmt.Errorf("primary user must be set and must not be root, got %q", s.User)
	}
	if len(s.SSHKeys) == 0 {
		return fmt.Errorf("at least one SSH public key is required")
	}
	for i, key := range s.SSHKeys {
		if err := ValidatePublicKey(key); err != nil {
			return fmt.Errorf("ssh_keys[%d]: %w", i, err)
		}
	}
	if s.Password.IsSet() && !LooksHashed(s.Password.Reveal()) {
		return fmt.Errorf("password must be a crypt-style hash (should start with $)")
	}
	return nil
}

// ParseDiskSize parses a size such as "20G" or "512M" into bytes.
// Suffixes are binary (G = GiB).
func ParseDiskSize(size string) (int64, error) {
	if strings.TrimSpace(size) == "" {
		return 0, fmt.Errorf("disk size is required")
	}
	n, err := units.RAMInBytes(size)
	if err != nil {
		return 0, fmt.Errorf("invalid disk size %q: %w", size, err)
	}
	if n <= 0 {
		return 0, fmt.Errorf("disk size must be > 0, got %q", size)
	}
	return n, nil
}

// ValidatePublicKey checks that key is a single authorized_keys entry.
func ValidatePublicKey(key string) error {
	if _, _, _, _, err := ssh.ParseAuthorizedKey([]byte(key)); err != nil {
		return fmt.Errorf("not a valid SSH public key: %w", err)
	}
	return nil
}

// LooksHashed reports whether s has the shape of a crypt(3) hash.
func LooksHashed(s string) bool {
	return len(s) >= 10 && s[0] == '$'
}

func currentUsername() string {
	u, err := user.Current()
	if err != nil {
		return ""
	}
	return u.Username
}
