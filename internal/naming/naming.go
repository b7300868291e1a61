// Package naming holds the naming rules for everything a deployment
// creates: artifact file names, the NIC MAC address and connection aliases.
//
// All names are derived from the instance name alone so that a redeploy of
// the same name finds (and replaces) exactly what the previous run created.
package naming

import (
	"crypto/sha1"
	"fmt"
	"regexp"
)

// maxNameLength keeps instance names usable as a hostname label.
const maxNameLength = 63

var namePattern = regexp.MustCompile(`^[a-z0-9]([a-z0-9_-]*[a-z0-9])?$`)

// ValidateInstanceName checks that name is usable as a libvirt domain name,
// a hostname and a file name. Names must be lowercase, start and end with an
// alphanumeric character and contain only alphanumerics, hyphens or
// underscores.
func ValidateInstanceName(name string) error {
	if name == "" {
		return fmt.Errorf("instance name is required")
	}
	if len(name) > maxNameLength {
		return fmt.Errorf("instance name must be at most %d characters, got %d", maxNameLength, len(name))
	}
	if !namePattern.MatchString(name) {
		return fmt.Errorf("instance name must start and end with alphanumeric characters and contain only lowercase alphanumeric, hyphens, or underscores, got %q", name)
	}
	return nil
}

// OverlayDiskName returns the file name of an instance's overlay disk.
// Format: {name}.qcow2
func OverlayDiskName(name string) string {
	return name + ".qcow2"
}

// SeedImageName returns the file name of an instance's first-boot seed image.
// Format: {name}-seed.iso
func SeedImageName(name string) string {
	return name + "-seed.iso"
}

// RootAlias returns the connection alias that logs in as root.
// Format: {name}-root
func RootAlias(name string) string {
	return name + "-root"
}

// InstanceMAC calculates the MAC address for one deployment of an instance.
// The address lives in the QEMU/KVM 52:54:00 range with the low three
// octets taken from the SHA-1 of the name and the deployment's instance id.
//
// A redeploy gets a new instance id and so a new MAC, which keeps the DHCP
// lease of the previous incarnation from matching the new guest.
func InstanceMAC(name, instanceID string) string {
	sum := sha1.Sum([]byte(name + "\x00" + instanceID))
	return fmt.Sprintf("52:54:00:%02x:%02x:%02x", sum[0], sum[1], sum[2])
}
