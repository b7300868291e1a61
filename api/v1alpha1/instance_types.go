package v1alpha1

// Instance describes a VM that `kiln deploy -f` creates or replaces.
//
// Every spec field is optional; unset fields fall back to the persisted
// defaults, and command-line flags win over the file.
type Instance struct {
	TypeMeta `json:",inline" yaml:",inline"`

	// +optional
	ObjectMeta `json:"metadata,omitempty" yaml:"metadata,omitempty"`

	Spec InstanceSpec `json:"spec" yaml:"spec"`
}

// InstanceSpec defines the desired instance.
type InstanceSpec struct {
	// DiskSize is the overlay disk size, e.g. "40G".
	// +optional
	DiskSize string `json:"diskSize,omitempty" yaml:"diskSize,omitempty"`

	// MemoryMiB is the amount of memory in mebibytes.
	// +optional
	MemoryMiB int `json:"memoryMiB,omitempty" yaml:"memoryMiB,omitempty"`

	// VCPUs is the number of virtual CPUs.
	// +optional
	VCPUs int `json:"vcpus,omitempty" yaml:"vcpus,omitempty"`

	// Image selects the base image by file name or 1-based number.
	// +optional
	Image string `json:"image,omitempty" yaml:"image,omitempty"`

	// OSVariant overrides the OS variant inferred from the image name.
	// +optional
	OSVariant string `json:"osVariant,omitempty" yaml:"osVariant,omitempty"`

	// User is the primary account. Defaults to the invoking user.
	// +optional
	User string `json:"user,omitempty" yaml:"user,omitempty"`

	// Network is the libvirt network to attach to. Defaults to "default".
	// +optional
	Network string `json:"network,omitempty" yaml:"network,omitempty"`

	// SSHKeyFiles are public key files to authorize. Relative paths are
	// resolved against the directory of the instance file, and "~/" against
	// the home directory. Defaults to ~/.ssh/*.pub.
	// +optional
	SSHKeyFiles []string `json:"sshKeyFiles,omitempty" yaml:"sshKeyFiles,omitempty"`

	// Packages are installed in addition to the default set.
	// +optional
	Packages []string `json:"packages,omitempty" yaml:"packages,omitempty"`

	// NoDefaultPackages skips the default packages and their setup commands.
	// +optional
	NoDefaultPackages bool `json:"noDefaultPackages,omitempty" yaml:"noDefaultPackages,omitempty"`
}
