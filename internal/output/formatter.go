// Package output renders images and configuration for the CLI in table,
// YAML or JSON form.
package output

import (
	"fmt"

	"github.com/jbweber/kiln/internal/config"
	"github.com/jbweber/kiln/internal/image"
)

// Format represents an output format type.
type Format string

const (
	// FormatTable is a human-readable table format.
	FormatTable Format = "table"
	// FormatYAML is a YAML format.
	FormatYAML Format = "yaml"
	// FormatJSON is a JSON format for machine consumption.
	FormatJSON Format = "json"
)

// Formatter formats kiln resources for output.
type Formatter interface {
	// FormatImage formats a single base image.
	FormatImage(img image.Descriptor) (string, error)

	// FormatImageList formats a list of base images.
	FormatImageList(images []image.Descriptor) (string, error)

	// FormatDefaults formats the effective defaults.
	FormatDefaults(view DefaultsView) (string, error)
}

// Options contains options for formatting output.
type Options struct {
	// Format specifies the output format.
	Format Format
	// NoHeaders omits headers in table format.
	NoHeaders bool
}

// DefaultsView is the printable form of config.Defaults. The password hash
// itself is never shown, only whether one is set.
type DefaultsView struct {
	ConfigPath  string `json:"configPath" yaml:"configPath"`
	ImagePath   string `json:"imagePath" yaml:"imagePath"`
	StoragePath string `json:"storagePath" yaml:"storagePath"`
	DiskSize    string `json:"diskSize" yaml:"diskSize"`
	RAMMiB      int    `json:"ramMiB" yaml:"ramMiB"`
	VCPUs       int    `json:"vcpus" yaml:"vcpus"`
	Password    string `json:"password" yaml:"password"`
}

// NewDefaultsView returns the view of d loaded from configPath.
func NewDefaultsView(configPath string, d config.Defaults) DefaultsView {
	password := "unset"
	if d.PasswordHash.IsSet() {
		password = "set"
	}
	return DefaultsView{
		ConfigPath:  configPath,
		ImagePath:   d.ImagePath,
		StoragePath: d.StoragePath,
		DiskSize:    d.DiskSize,
		RAMMiB:      d.RAMMiB,
		VCPUs:       d.VCPUs,
		Password:    password,
	}
}

// NewFormatter creates a new Formatter based on the specified format.
func NewFormatter(opts Options) (Formatter, error) {
	switch opts.Format {
	case FormatTable:
		return &TableFormatter{NoHeaders: opts.NoHeaders}, nil
	case FormatYAML:
		return &YAMLFormatter{}, nil
	case FormatJSON:
		return &JSONFormatter{}, nil
	default:
		return nil, fmt.Errorf("unsupported output format: %s (supported: table, yaml, json)", opts.Format)
	}
}

// ValidateFormat checks if a format string is valid.
func ValidateFormat(format string) error {
	f := Format(format)
	switch f {
	case FormatTable, FormatYAML, FormatJSON:
		return nil
	default:
		return fmt.Errorf("invalid format: %s (valid formats: table, yaml, json)", format)
	}
}
