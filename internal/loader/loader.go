// Package loader provides functions for loading Instance resources from
// YAML files.
package loader

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/jbweber/kiln/api/v1alpha1"
	"github.com/jbweber/kiln/internal/config"
	"github.com/jbweber/kiln/internal/errdefs"
	"github.com/jbweber/kiln/internal/image"
	"github.com/jbweber/kiln/internal/naming"
)

// LoadFromFile loads an Instance from a YAML file. Relative SSH key paths
// are resolved against the file's directory.
func LoadFromFile(path string) (*v1alpha1.Instance, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errdefs.WrapConfiguration(err, "cannot read instance file %s", path)
	}

	inst, err := LoadFromYAML(data)
	if err != nil {
		return nil, errdefs.WrapConfiguration(err, "invalid instance file %s", path)
	}

	home, _ := os.UserHomeDir()
	for i, key := range inst.Spec.SSHKeyFiles {
		inst.Spec.SSHKeyFiles[i] = resolvePath(key, filepath.Dir(path), home)
	}
	return inst, nil
}

// LoadFromYAML loads an Instance from YAML bytes. Unknown fields are an
// error, so a misspelled key does not silently fall back to a default.
func LoadFromYAML(data []byte) (*v1alpha1.Instance, error) {
	var inst v1alpha1.Instance
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&inst); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("empty document")
		}
		return nil, fmt.Errorf("failed to unmarshal YAML: %w", err)
	}

	if inst.APIVersion == "" {
		return nil, fmt.Errorf("missing required field: apiVersion")
	}
	if inst.Kind == "" {
		return nil, fmt.Errorf("missing required field: kind")
	}
	if inst.APIVersion != v1alpha1.APIVersion() {
		return nil, fmt.Errorf("unsupported apiVersion: %s (expected: %s)", inst.APIVersion, v1alpha1.APIVersion())
	}
	if inst.Kind != v1alpha1.InstanceKind {
		return nil, fmt.Errorf("unsupported kind: %s (expected: %s)", inst.Kind, v1alpha1.InstanceKind)
	}

	applyDefaults(&inst)

	if err := validateSpec(&inst); err != nil {
		return nil, fmt.Errorf("validation failed: %w", err)
	}
	return &inst, nil
}

// Overrides returns the spec fields that replace persisted defaults.
func Overrides(inst *v1alpha1.Instance) config.Overrides {
	return config.Overrides{
		DiskSize: inst.Spec.DiskSize,
		RAMMiB:   inst.Spec.MemoryMiB,
		VCPUs:    inst.Spec.VCPUs,
	}
}

// applyDefaults normalizes optional fields.
func applyDefaults(inst *v1alpha1.Instance) {
	inst.Name = strings.ToLower(strings.TrimSpace(inst.Name))
	inst.Spec.DiskSize = strings.TrimSpace(inst.Spec.DiskSize)
	inst.Spec.Image = strings.TrimSpace(inst.Spec.Image)
}

// validateSpec checks the fields an instance file may set. Fields left empty
// are checked later, once defaults have been merged in.
func validateSpec(inst *v1alpha1.Instance) error {
	if inst.Name == "" {
		return fmt.Errorf("metadata.name is required")
	}
	if err := naming.ValidateInstanceName(inst.Name); err != nil {
		return fmt.Errorf("metadata.name: %w", err)
	}

	if inst.Spec.DiskSize != "" {
		if _, err := config.ParseDiskSize(inst.Spec.DiskSize); err != nil {
			return fmt.Errorf("spec.diskSize: %w", err)
		}
	}
	if inst.Spec.MemoryMiB < 0 {
		return fmt.Errorf("spec.memoryMiB must be greater than 0")
	}
	if inst.Spec.VCPUs < 0 {
		return fmt.Errorf("spec.vcpus must be greater than 0")
	}
	if inst.Spec.OSVariant != "" {
		if _, ok := image.LookupVariant(inst.Spec.OSVariant); !ok {
			return fmt.Errorf("spec.osVariant %q is not one of %v", inst.Spec.OSVariant, image.KnownVariants())
		}
	}
	if inst.Spec.User == "root" {
		return fmt.Errorf("spec.user must not be root")
	}

	for i, pkg := range inst.Spec.Packages {
		if strings.TrimSpace(pkg) == "" {
			return fmt.Errorf("spec.packages[%d] is empty", i)
		}
	}
	for i, key := range inst.Spec.SSHKeyFiles {
		if strings.TrimSpace(key) == "" {
			return fmt.Errorf("spec.sshKeyFiles[%d] is empty", i)
		}
	}
	return nil
}

func resolvePath(p, base, home string) string {
	switch {
	case p == "~" && home != "":
		return home
	case strings.HasPrefix(p, "~/") && home != "":
		return filepath.Join(home, p[2:])
	case filepath.IsAbs(p):
		return p
	default:
		return filepath.Join(base, p)
	}
}
