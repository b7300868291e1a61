package vm

import (
	"context"

	"github.com/digitalocean/go-libvirt"

	"github.com/jbweber/kiln/internal/disk"
	"github.com/jbweber/kiln/internal/image"
	"github.com/jbweber/kiln/internal/network"
	"github.com/jbweber/kiln/internal/sshconfig"
	"github.com/jbweber/kiln/internal/status"
)

// imageResolver completes a listed image with its format and OS variant.
//
// In production, this is satisfied by *image.Inspector.
type imageResolver interface {
	Resolve(ctx context.Context, d image.Descriptor, override string) (image.Descriptor, image.Rule, error)
}

// diskManager defines the instance artifact operations a deployment needs.
//
// In production, this is satisfied by *disk.Manager.
// In tests, this is satisfied by mock implementations.
type diskManager interface {
	// StorageDir returns the directory artifacts live in
	StorageDir() string

	// Artifacts returns the deterministic artifact paths for an instance
	Artifacts(name string) disk.Artifacts

	// EnsureStorageDir creates the storage directory if needed
	EnsureStorageDir(ctx context.Context) error

	// RemoveArtifacts removes every artifact of an instance
	RemoveArtifacts(ctx context.Context, name string) []status.Removal

	// CreateOverlay creates the copy-on-write boot disk
	CreateOverlay(ctx context.Context, base image.Descriptor, path string, sizeBytes int64) error

	// InstallSeed moves a rendered seed image into storage
	InstallSeed(ctx context.Context, src, dst string) error
}

// hypervisor defines the domain operations a deployment needs.
//
// In production, this is satisfied by *kilnlibvirt.Hypervisor.
type hypervisor interface {
	// Lookup returns the named domain and whether it exists
	Lookup(name string) (libvirt.Domain, bool, error)

	// TryRemoveDomain stops and undefines the named domain if present
	TryRemoveDomain(name string) (status.RemoveResult, error)

	// DefineAndStart defines and boots a domain; an existing name conflicts
	DefineAndStart(name, domainXML string) (libvirt.Domain, error)

	// DomainMACs returns the interface MACs of a defined domain
	DomainMACs(name string) ([]string, error)
}

// addressWaiter blocks until the instance has an address.
//
// In production, this is satisfied by *network.Bootstrap.
type addressWaiter interface {
	Wait(ctx context.Context, name, mac string) (network.Lease, error)
}

// connectionRegistry records how to reach the instance.
//
// In production, this is satisfied by *sshconfig.Registry.
type connectionRegistry interface {
	Sync(rec sshconfig.Record) error
}
