package libvirt

import (
	"fmt"
	"strings"

	"libvirt.org/go/libvirtxml"
)

const (
	// DefaultNetwork is the libvirt-managed NAT network instances attach to.
	DefaultNetwork = "default"

	// GuestAgentChannel is the virtio-serial port qemu-guest-agent listens on.
	GuestAgentChannel = "org.qemu.guest_agent.0"

	// libosinfoNamespace is the namespace virt-install uses to record the
	// guest OS in domain metadata.
	libosinfoNamespace = "http://libosinfo.org/xmlns/libvirt/domain/1.0"
)

// DomainSpec is everything needed to render an instance's domain XML.
type DomainSpec struct {
	Name        string
	UUID        string
	MemoryMiB   int
	VCPUs       int
	OverlayPath string
	SeedPath    string
	MAC         string
	// Network defaults to DefaultNetwork.
	Network string
	// OSInfoID is the libosinfo identifier of the guest OS, if known.
	OSInfoID string
}

// Validate checks the fields GenerateDomainXML relies on.
func (s DomainSpec) Validate() error {
	switch {
	case s.Name == "":
		return fmt.Errorf("domain name is required")
	case s.MemoryMiB <= 0:
		return fmt.Errorf("memory must be > 0 MiB, got %d", s.MemoryMiB)
	case s.VCPUs <= 0:
		return fmt.Errorf("vcpus must be > 0, got %d", s.VCPUs)
	case s.OverlayPath == "":
		return fmt.Errorf("overlay disk path is required")
	case s.SeedPath == "":
		return fmt.Errorf("seed image path is required")
	case s.MAC == "":
		return fmt.Errorf("MAC address is required")
	}
	return nil
}

// GenerateDomainXML generates libvirt domain XML for a headless instance:
// the overlay as the boot disk, the seed image as a read-only cdrom, one NIC
// on a managed network, a serial console and a guest agent channel.
func GenerateDomainXML(spec DomainSpec) (string, error) {
	if err := spec.Validate(); err != nil {
		return "", err
	}
	network := spec.Network
	if network == "" {
		network = DefaultNetwork
	}

	domain := &libvirtxml.Domain{
		Type: "kvm",
		Name: spec.Name,
		UUID: spec.UUID,
		Memory: &libvirtxml.DomainMemory{
			Value: uint(spec.MemoryMiB),
			Unit:  "MiB",
		},
		VCPU: &libvirtxml.DomainVCPU{
			Placement: "static",
			Value:     uint(spec.VCPUs),
		},
		OS: &libvirtxml.DomainOS{
			Type: &libvirtxml.DomainOSType{
				Arch: "x86_64",
				Type: "hvm",
			},
			BIOS: &libvirtxml.DomainBIOS{
				UseSerial: "yes",
			},
		},
		Features: &libvirtxml.DomainFeatureList{
			ACPI: &libvirtxml.DomainFeature{},
			APIC: &libvirtxml.DomainFeatureAPIC{},
		},
		CPU: &libvirtxml.DomainCPU{
			Mode: "host-model",
			Model: &libvirtxml.DomainCPUModel{
				Fallback: "allow",
			},
		},
		Clock: &libvirtxml.DomainClock{
			Offset: "utc",
			Timer: []libvirtxml.DomainTimer{
				{Name: "rtc", TickPolicy: "catchup"},
				{Name: "pit", TickPolicy: "delay"},
				{Name: "hpet", Present: "no"},
			},
		},
		OnPoweroff: "destroy",
		OnReboot:   "restart",
		OnCrash:    "restart",
		Devices: &libvirtxml.DomainDeviceList{
			Disks: []libvirtxml.DomainDisk{
				{
					Device: "disk",
					Driver: &libvirtxml.DomainDiskDriver{
						Name: "qemu",
						Type: "qcow2",
					},
					Source: &libvirtxml.DomainDiskSource{
						File: &libvirtxml.DomainDiskSourceFile{File: spec.OverlayPath},
					},
					Target: &libvirtxml.DomainDiskTarget{
						Dev: "vda",
						Bus: "virtio",
					},
					Boot: &libvirtxml.DomainDeviceBoot{Order: 1},
				},
				{
					Device: "cdrom",
					Driver: &libvirtxml.DomainDiskDriver{
						Name: "qemu",
						Type: "raw",
					},
					Source: &libvirtxml.DomainDiskSource{
						File: &libvirtxml.DomainDiskSourceFile{File: spec.SeedPath},
					},
					Target: &libvirtxml.DomainDiskTarget{
						Dev: "sda",
						Bus: "sata",
					},
					ReadOnly: &libvirtxml.DomainDiskReadOnly{},
				},
			},
			Interfaces: []libvirtxml.DomainInterface{
				{
					MAC: &libvirtxml.DomainInterfaceMAC{Address: spec.MAC},
					Source: &libvirtxml.DomainInterfaceSource{
						Network: &libvirtxml.DomainInterfaceSourceNetwork{Network: network},
					},
					Model: &libvirtxml.DomainInterfaceModel{Type: "virtio"},
				},
			},
			Serials: []libvirtxml.DomainSerial{
				{
					Source: &libvirtxml.DomainChardevSource{
						Pty: &libvirtxml.DomainChardevSourcePty{},
					},
					Target: &libvirtxml.DomainSerialTarget{
						Port: func() *uint { p := uint(0); return &p }(),
					},
				},
			},
			Consoles: []libvirtxml.DomainConsole{
				{
					Source: &libvirtxml.DomainChardevSource{
						Pty: &libvirtxml.DomainChardevSourcePty{},
					},
					Target: &libvirtxml.DomainConsoleTarget{
						Type: "serial",
						Port: func() *uint { p := uint(0); return &p }(),
					},
				},
			},
			Channels: []libvirtxml.DomainChannel{
				{
					Source: &libvirtxml.DomainChardevSource{
						UNIX: &libvirtxml.DomainChardevSourceUNIX{Mode: "bind"},
					},
					Target: &libvirtxml.DomainChannelTarget{
						VirtIO: &libvirtxml.DomainChannelTargetVirtIO{Name: GuestAgentChannel},
					},
				},
			},
			MemBalloon: &libvirtxml.DomainMemBalloon{
				Model: "virtio",
			},
			RNGs: []libvirtxml.DomainRNG{
				{
					Model: "virtio",
					Backend: &libvirtxml.DomainRNGBackend{
						Random: &libvirtxml.DomainRNGBackendRandom{
							Device: "/dev/urandom",
						},
					},
				},
			},
		},
	}

	if spec.OSInfoID != "" {
		domain.Metadata = &libvirtxml.DomainMetadata{XML: osInfoMetadata(spec.OSInfoID)}
	}

	xml, err := domain.Marshal()
	if err != nil {
		return "", fmt.Errorf("failed to marshal domain XML: %w", err)
	}
	return xml, nil
}

func osInfoMetadata(id string) string {
	var b strings.Builder
	b.WriteString(`<libosinfo:libosinfo xmlns:libosinfo="` + libosinfoNamespace + `">`)
	b.WriteString(`<libosinfo:os id="`)
	// Metadata.XML is inserted verbatim
	b.WriteString(strings.NewReplacer(`&`, "&amp;", `"`, "&quot;", `<`, "&lt;").Replace(id))
	b.WriteString(`"/></libosinfo:libosinfo>`)
	return b.String()
}

// ParseMACs returns the MAC addresses of every interface in a domain XML
// document, in device order.
func ParseMACs(domainXML string) ([]string, error) {
	var domain libvirtxml.Domain
	if err := domain.Unmarshal(domainXML); err != nil {
		return nil, fmt.Errorf("failed to parse domain XML: %w", err)
	}
	if domain.Devices == nil {
		return nil, nil
	}
	var macs []string
	for _, iface := range domain.Devices.Interfaces {
		if iface.MAC != nil && iface.MAC.Address != "" {
			macs = append(macs, strings.ToLower(iface.MAC.Address))
		}
	}
	return macs, nil
}
