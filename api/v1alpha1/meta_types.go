// Package v1alpha1 contains the kiln.cofront.xyz/v1alpha1 file format for
// describing an instance declaratively.
//
// The types follow Kubernetes API conventions (apiVersion, kind, metadata,
// spec) so that instance files read like other manifests, but carry no
// k8s.io dependencies.
package v1alpha1

// TypeMeta describes an individual object's type and API version.
type TypeMeta struct {
	// Kind is the resource kind, in CamelCase.
	Kind string `json:"kind,omitempty" yaml:"kind,omitempty"`

	// APIVersion is the versioned schema of this representation.
	APIVersion string `json:"apiVersion,omitempty" yaml:"apiVersion,omitempty"`
}

// ObjectMeta is the metadata of an instance file.
type ObjectMeta struct {
	// Name is the instance name. It doubles as the guest hostname and the
	// SSH alias, so it must be a valid hostname label.
	Name string `json:"name,omitempty" yaml:"name,omitempty"`

	// Labels are free-form key/value pairs. kiln does not interpret them.
	// +optional
	Labels map[string]string `json:"labels,omitempty" yaml:"labels,omitempty"`

	// Annotations are free-form key/value pairs set by external tools.
	// +optional
	Annotations map[string]string `json:"annotations,omitempty" yaml:"annotations,omitempty"`
}
