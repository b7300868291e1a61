package v1alpha1

const (
	// GroupName is the API group for kiln resources.
	GroupName = "kiln.cofront.xyz"

	// Version is the API version.
	Version = "v1alpha1"

	// InstanceKind is the kind string for Instance resources.
	InstanceKind = "Instance"
)

// APIVersion returns the full apiVersion string, group/version.
func APIVersion() string {
	return GroupName + "/" + Version
}

// NewInstance returns an Instance with TypeMeta set.
func NewInstance(name string) *Instance {
	return &Instance{
		TypeMeta:   TypeMeta{APIVersion: APIVersion(), Kind: InstanceKind},
		ObjectMeta: ObjectMeta{Name: name},
	}
}

// SetDefaultAPIVersion fills in apiVersion and kind when they are missing.
func SetDefaultAPIVersion(inst *Instance) {
	if inst.APIVersion == "" {
		inst.APIVersion = APIVersion()
	}
	if inst.Kind == "" {
		inst.Kind = InstanceKind
	}
}

// HasDefaultPackages reports whether the default package set applies.
func (inst *Instance) HasDefaultPackages() bool {
	return !inst.Spec.NoDefaultPackages
}
