// Package errdefs defines the error categories surfaced by a deployment run.
//
// Every failure that terminates a run falls into one of four categories:
//
//   - ConfigurationError: missing dependency, key material, directory or an
//     unparseable selection. Raised during pre-flight, never retried.
//   - ResourceConflictError: a named resource already exists at a point where
//     it must not. Never retried.
//   - ExternalToolError: a disk, image or hypervisor utility failed. Carries
//     the tool's own output.
//   - DiscoveryTimeoutError: the address discovery budget was exhausted. This
//     is the only category produced by a retry loop.
//
// Callers test for a category with the Is helpers, which use errors.As and
// therefore see through fmt.Errorf("%w") wrapping.
package errdefs

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ConfigurationError reports a problem with the run's inputs or host setup.
type ConfigurationError struct {
	Msg string
	Err error
}

// Configuration returns a ConfigurationError with a formatted message.
func Configuration(format string, args ...any) error {
	return &ConfigurationError{Msg: fmt.Sprintf(format, args...)}
}

// WrapConfiguration returns a ConfigurationError carrying err as its cause.
func WrapConfiguration(err error, format string, args ...any) error {
	return &ConfigurationError{Msg: fmt.Sprintf(format, args...), Err: err}
}

func (e *ConfigurationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("configuration error: %s: %v", e.Msg, e.Err)
	}
	return "configuration error: " + e.Msg
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

// ResourceConflictError reports that a named resource already exists.
type ResourceConflictError struct {
	Kind string
	Name string
}

func (e *ResourceConflictError) Error() string {
	return fmt.Sprintf("%s %q already exists", e.Kind, e.Name)
}

// ExternalToolError reports a failed invocation of an external utility or
// hypervisor call.
type ExternalToolError struct {
	Tool   string
	Args   []string
	Output string
	Err    error
}

func (e *ExternalToolError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s failed", e.Tool)
	if len(e.Args) > 0 {
		fmt.Fprintf(&b, " (args: %s)", strings.Join(e.Args, " "))
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	if out := strings.TrimSpace(e.Output); out != "" {
		fmt.Fprintf(&b, "\nOutput: %s", out)
	}
	return b.String()
}

func (e *ExternalToolError) Unwrap() error { return e.Err }

// DiscoveryTimeoutError reports that no address was found for an instance
// within the polling budget.
type DiscoveryTimeoutError struct {
	Instance string
	Attempts int
	Interval time.Duration
	// Waited is the polling budget that was spent.
	Waited time.Duration
}

func (e *DiscoveryTimeoutError) Error() string {
	return fmt.Sprintf(
		"timed out after %s waiting for an IPv4 address for %q (%d attempts, %s apart); inspect the guest with: virsh console %s",
		e.Waited, e.Instance, e.Attempts, e.Interval, e.Instance,
	)
}

// IsConfiguration reports whether err is a ConfigurationError.
func IsConfiguration(err error) bool {
	var target *ConfigurationError
	return errors.As(err, &target)
}

// IsConflict reports whether err is a ResourceConflictError.
func IsConflict(err error) bool {
	var target *ResourceConflictError
	return errors.As(err, &target)
}

// IsExternalTool reports whether err is an ExternalToolError.
func IsExternalTool(err error) bool {
	var target *ExternalToolError
	return errors.As(err, &target)
}

// IsDiscoveryTimeout reports whether err is a DiscoveryTimeoutError.
func IsDiscoveryTimeout(err error) bool {
	var target *DiscoveryTimeoutError
	return errors.As(err, &target)
}
