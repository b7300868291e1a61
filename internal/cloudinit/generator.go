// Package cloudinit renders the first-boot configuration for an instance and
// packs it into a NoCloud seed image.
//
// The seed holds two files: user-data, a cloud-config document, and
// meta-data, the instance identity. Rendering is pure; nothing here touches
// the network or the disk.
//
// See https://cloudinit.readthedocs.io/en/latest/reference/datasources/nocloud.html
package cloudinit

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/jbweber/kiln/internal/config"
)

// SudoNoPassword grants the primary user passwordless administrative rights.
const SudoNoPassword = "ALL=(ALL) NOPASSWD:ALL"

// UserData represents the cloud-config user-data structure.
// This is marshaled to YAML and prefixed with "#cloud-config" header.
//
// See https://cloudinit.readthedocs.io/en/latest/explanation/format.html#cloud-config-data
type UserData struct {
	Hostname        string   `yaml:"hostname"`
	DisableRoot     bool     `yaml:"disable_root"`
	SSHPasswordAuth bool     `yaml:"ssh_pwauth"`
	Users           []User   `yaml:"users"`
	Packages        []string `yaml:"packages,omitempty"`
	RunCmd          []string `yaml:"runcmd,omitempty"`
	Output          *Output  `yaml:"output,omitempty"`
}

// User is one entry of the cloud-config users list.
type User struct {
	Name              string   `yaml:"name"`
	Groups            string   `yaml:"groups,omitempty"`
	Sudo              string   `yaml:"sudo,omitempty"`
	Passwd            quoted   `yaml:"passwd,omitempty"`
	LockPasswd        *bool    `yaml:"lock_passwd,omitempty"`
	Shell             string   `yaml:"shell,omitempty"`
	SSHAuthorizedKeys []quoted `yaml:"ssh_authorized_keys"`
}

// Output configures cloud-init output logging.
type Output struct {
	All string `yaml:"all"`
}

// MetaData represents the cloud-init meta-data structure.
type MetaData struct {
	InstanceID    string `yaml:"instance-id"`
	LocalHostname string `yaml:"local-hostname"`
}

// quoted is a string that is always emitted double-quoted, so hash and key
// material can never be read back as another YAML type or break the
// document structure.
type quoted string

func (q quoted) MarshalYAML() (any, error) {
	return &yaml.Node{
		Kind:  yaml.ScalarNode,
		Tag:   "!!str",
		Style: yaml.DoubleQuotedStyle,
		Value: string(q),
	}, nil
}

// AdminGroup returns the group that grants administrative rights on the
// given OS variant.
func AdminGroup(osVariant string) string {
	if strings.HasPrefix(osVariant, "ubuntu") || strings.HasPrefix(osVariant, "debian") {
		return "sudo"
	}
	return "wheel"
}

// GenerateUserData generates the user-data content for spec.
//
// Root keeps key-only access with the caller's keys. The primary user gets
// passwordless sudo, the same keys and the password hash as a console
// fallback.
func GenerateUserData(spec *config.VMSpec) (string, error) {
	if spec == nil {
		return "", fmt.Errorf("VM spec cannot be nil")
	}
	if len(spec.SSHKeys) == 0 {
		return "", fmt.Errorf("at least one SSH key is required")
	}
	if spec.User == "" || spec.User == "root" {
		return "", fmt.Errorf("primary user must be set and must not be root, got %q", spec.User)
	}

	keys := make([]quoted, len(spec.SSHKeys))
	for i, k := range spec.SSHKeys {
		if strings.ContainsAny(k, "\r\n") {
			return "", fmt.Errorf("ssh key %d spans several lines", i)
		}
		keys[i] = quoted(strings.TrimSpace(k))
	}

	primary := User{
		Name:              spec.User,
		Groups:            AdminGroup(spec.OSVariant),
		Sudo:              SudoNoPassword,
		Shell:             "/bin/bash",
		SSHAuthorizedKeys: keys,
	}
	if spec.Password.IsSet() {
		unlocked := false
		primary.Passwd = quoted(spec.Password.Reveal())
		primary.LockPasswd = &unlocked
	}

	userData := UserData{
		Hostname:        spec.Name,
		DisableRoot:     false,
		SSHPasswordAuth: false,
		Users: []User{
			{Name: "root", SSHAuthorizedKeys: keys},
			primary,
		},
		Packages: nonEmpty(spec.Packages),
		RunCmd:   nonEmpty(spec.RunCmd),
		Output: &Output{
			All: "| tee -a /var/log/cloud-init-output.log",
		},
	}

	yamlBytes, err := yaml.Marshal(&userData)
	if err != nil {
		return "", fmt.Errorf("failed to marshal user-data to YAML: %w", err)
	}

	// cloud-init ignores user-data without this header
	return "#cloud-config\n" + string(yamlBytes), nil
}

// GenerateMetaData generates the meta-data content for spec.
//
// instanceID should be fresh for every deployment so that cloud-init treats
// a recreated instance as a first boot.
func GenerateMetaData(spec *config.VMSpec, instanceID string) (string, error) {
	if spec == nil {
		return "", fmt.Errorf("VM spec cannot be nil")
	}
	if instanceID == "" {
		return "", fmt.Errorf("instance id is required")
	}

	yamlBytes, err := yaml.Marshal(&MetaData{
		InstanceID:    instanceID,
		LocalHostname: spec.Name,
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal meta-data to YAML: %w", err)
	}
	return string(yamlBytes), nil
}

// nonEmpty drops blank entries and returns nil for an empty result, so that
// omitempty leaves the key out entirely.
func nonEmpty(in []string) []string {
	var out []string
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
