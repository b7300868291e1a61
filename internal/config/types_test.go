package config

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"
)

const testKey = "ssh-ed25519 AAAAC3NzaC1lZDI1NTE5AAAAIIbJKZscbOLzBsgY5y2QupKW4A2kSDjMBQGPb1dChr+S test@example.com"

// testVMSpec creates a minimal valid spec for testing
func testVMSpec() VMSpec {
	s := NewVMSpec("test-vm", BuiltinDefaults())
	s.User = "alice"
	s.SSHKeys = []string{testKey}
	s.Password = Secret("$2a$10$abcdefghijklmnopqrstuv")
	if err := s.Validate(); err != nil {
		panic(fmt.Sprintf("invalid test spec: %v", err))
	}
	return s
}

func TestVMSpecValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*VMSpec)
		wantErr string
	}{
		{name: "valid", mutate: func(*VMSpec) {}},
		{name: "no password is allowed", mutate: func(s *VMSpec) { s.Password = "" }},
		{name: "bad name", mutate: func(s *VMSpec) { s.Name = "Bad Name" }, wantErr: "instance name"},
		{name: "bad size", mutate: func(s *VMSpec) { s.DiskSize = "lots" }, wantErr: "invalid disk size"},
		{name: "zero size", mutate: func(s *VMSpec) { s.DiskSize = "0" }, wantErr: "disk size must be > 0"},
		{name: "zero ram", mutate: func(s *VMSpec) { s.RAMMiB = 0 }, wantErr: "ram must be > 0"},
		{name: "zero cpus", mutate: func(s *VMSpec) { s.VCPUs = 0 }, wantErr: "vcpus must be > 0"},
		{name: "root as primary user", mutate: func(s *VMSpec) { s.User = "root" }, wantErr: "primary user"},
		{name: "no keys", mutate: func(s *VMSpec) { s.SSHKeys = nil }, wantErr: "SSH public key"},
		{name: "garbage key", mutate: func(s *VMSpec) { s.SSHKeys = []string{"ssh-rsa nope"} }, wantErr: "ssh_keys[0]"},
		{name: "cleartext password", mutate: func(s *VMSpec) { s.Password = "hunter2" }, wantErr: "crypt-style hash"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := testVMSpec()
			tt.mutate(&s)

			err := s.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestNewVMSpecCopiesDefaults(t *testing.T) {
	d := BuiltinDefaults()
	d.PasswordHash = "$2a$10$abcdefghijklmnopqrstuv"
	s := NewVMSpec("web", d)

	if s.DiskSize != d.DiskSize || s.RAMMiB != d.RAMMiB || s.VCPUs != d.VCPUs {
		t.Errorf("spec did not take defaults: %+v", s)
	}
	if s.Password != d.PasswordHash {
		t.Error("spec should carry the password hash")
	}

	s.Packages[0] = "changed"
	if DefaultPackages[0] == "changed" {
		t.Error("spec shares the DefaultPackages backing array")
	}
}

func TestDefaultsWith(t *testing.T) {
	d := BuiltinDefaults()

	got := d.With(Overrides{DiskSize: "40G", VCPUs: 8})
	if got.DiskSize != "40G" || got.VCPUs != 8 {
		t.Errorf("overrides not applied: %+v", got)
	}
	if got.RAMMiB != DefaultRAMMiB || got.ImagePath != DefaultImagePath {
		t.Errorf("zero overrides should keep defaults: %+v", got)
	}
	if d.DiskSize != DefaultDiskSize {
		t.Error("With must not modify the receiver")
	}
}

func TestDefaultsValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Defaults)
		wantErr string
	}{
		{name: "builtin", mutate: func(*Defaults) {}},
		{name: "image dir inside storage dir", mutate: func(d *Defaults) {
			d.StoragePath = "/srv/vms"
			d.ImagePath = "/srv/vms/base"
		}},
		{name: "no image path", mutate: func(d *Defaults) { d.ImagePath = "" }, wantErr: "image path is required"},
		{name: "no storage path", mutate: func(d *Defaults) { d.StoragePath = "" }, wantErr: "storage path is required"},
		{name: "same dir", mutate: func(d *Defaults) {
			d.ImagePath = "/srv/vms"
			d.StoragePath = "/srv/vms"
		}, wantErr: "must be different directories"},
		{name: "same dir spelled differently", mutate: func(d *Defaults) {
			d.ImagePath = "/srv/vms/"
			d.StoragePath = "/srv/base/../vms"
		}, wantErr: "must be different directories"},
		{name: "bad size", mutate: func(d *Defaults) { d.DiskSize = "lots" }, wantErr: "invalid disk size"},
		{name: "zero ram", mutate: func(d *Defaults) { d.RAMMiB = 0 }, wantErr: "ram must be > 0"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := BuiltinDefaults()
			tt.mutate(&d)

			err := d.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestDefaultsAbsolute(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)

	d := BuiltinDefaults().With(Overrides{ImagePath: "vms/base", StoragePath: "vms"})
	got, err := d.Absolute()
	if err != nil {
		t.Fatalf("Absolute() error = %v", err)
	}

	// t.TempDir may sit behind a symlink, so compare against Abs
	wantImage, _ := filepath.Abs(filepath.Join("vms", "base"))
	wantStorage, _ := filepath.Abs("vms")
	if got.ImagePath != wantImage || got.StoragePath != wantStorage {
		t.Errorf("Absolute() = %s, %s; want %s, %s", got.ImagePath, got.StoragePath, wantImage, wantStorage)
	}
	if !filepath.IsAbs(got.ImagePath) || !filepath.IsAbs(got.StoragePath) {
		t.Errorf("Absolute() left a relative path: %+v", got)
	}
	if d.ImagePath != "vms/base" {
		t.Error("Absolute must not modify the receiver")
	}

	abs := BuiltinDefaults()
	if again, _ := abs.Absolute(); again.ImagePath != DefaultImagePath || again.StoragePath != DefaultStoragePath {
		t.Errorf("absolute paths should be unchanged: %+v", again)
	}
}

func TestParseDiskSize(t *testing.T) {
	tests := []struct {
		in      string
		want    int64
		wantErr bool
	}{
		{"20G", 20 << 30, false},
		{"20GB", 20 << 30, false},
		{"512M", 512 << 20, false},
		{"1T", 1 << 40, false},
		{"", 0, true},
		{"big", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseDiskSize(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseDiskSize(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseDiskSize(%q) = %d, want %d", tt.in, got, tt.want)
			}
		})
	}
}

func TestSecretIsRedacted(t *testing.T) {
	s := Secret("$2a$10$supersecret")

	if got := fmt.Sprintf("%v", s); got != "[REDACTED]" {
		t.Errorf("fmt output = %q", got)
	}
	if got := s.LogValue(); got.Kind() != slog.KindString || got.String() != "[REDACTED]" {
		t.Errorf("LogValue() = %v", got)
	}
	if s.Reveal() != "$2a$10$supersecret" {
		t.Error("Reveal() should return the raw value")
	}
	if Secret("").String() != "" || Secret("").IsSet() {
		t.Error("empty secret should render empty and report unset")
	}
}
