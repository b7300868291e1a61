// Package privilege decides whether a run needs elevated privileges and
// provides the single command executor every side-effecting filesystem
// operation goes through.
//
// The decision is made once, by Resolve, before anything is touched. The
// resulting Executor either runs commands directly or prefixes them with the
// selected escalation tool (sudo, doas or pkexec). Because callers receive the
// Executor rather than deciding for themselves, a run can never mix privileged
// and unprivileged writes to the same storage.
package privilege

import (
	"os/exec"
	"path/filepath"
	"slices"
	"strings"

	"github.com/jbweber/kiln/internal/errdefs"
)

// systemPrefixes are the roots treated as system-owned. Anything at or below
// one of them requires elevation for an unprivileged user.
var systemPrefixes = []string{
	"/var",
	"/etc",
	"/usr",
	"/opt",
	"/srv",
	"/boot",
	"/root",
}

// RequiresElevation reports whether operations on path need elevated
// privileges. Relative paths are resolved against the working directory.
func RequiresElevation(path string) bool {
	if path == "" {
		return false
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = filepath.Clean(path)
	}
	for _, prefix := range systemPrefixes {
		if abs == prefix || strings.HasPrefix(abs, prefix+"/") {
			return true
		}
	}
	return false
}

// Mechanism is an escalation tool and the groups that grant its use.
type Mechanism struct {
	// Name is the executable looked up on PATH.
	Name string
	// Args are inserted between the tool and the elevated command.
	Args []string
	// Groups lists group names that typically authorize the tool. An empty
	// list means the tool authorizes through its own policy and is usable by
	// anyone.
	Groups []string
}

// Mechanisms is the escalation preference order. The first entry that is
// installed and authorized for the invoking user wins.
var Mechanisms = []Mechanism{
	{Name: "sudo", Groups: []string{"wheel", "sudo", "admin"}},
	{Name: "doas", Groups: []string{"wheel"}},
	{Name: "pkexec"},
}

// SelectMechanism picks the first mechanism from prefs that is installed
// according to lookPath and usable by a member of groups. It returns false if
// none qualifies.
func SelectMechanism(prefs []Mechanism, groups []string, lookPath func(string) (string, error)) (Mechanism, bool) {
	for _, m := range prefs {
		if _, err := lookPath(m.Name); err != nil {
			continue
		}
		if len(m.Groups) == 0 || slices.ContainsFunc(m.Groups, func(g string) bool {
			return slices.Contains(groups, g)
		}) {
			return m, true
		}
	}
	return Mechanism{}, false
}

// RequireTools checks that every named tool is on PATH.
func RequireTools(lookPath func(string) (string, error), tools ...string) error {
	var missing []string
	for _, tool := range tools {
		if _, err := lookPath(tool); err != nil {
			missing = append(missing, tool)
		}
	}
	if len(missing) > 0 {
		return errdefs.Configuration("required tools not found on PATH: %s", strings.Join(missing, ", "))
	}
	return nil
}

// Host describes the invoking user as seen by Resolve.
type Host struct {
	EUID     int
	Groups   []string
	LookPath func(string) (string, error)
}

// Resolve builds the run-wide Executor for operations on paths. Elevation is
// used only when the caller is not root and at least one path is
// system-owned. If elevation is needed but no mechanism is available, Resolve
// fails with a configuration error.
func Resolve(host Host, paths ...string) (*Executor, error) {
	if host.LookPath == nil {
		host.LookPath = exec.LookPath
	}

	if host.EUID == 0 {
		return &Executor{root: true}, nil
	}

	var needs []string
	for _, p := range paths {
		if RequiresElevation(p) {
			needs = append(needs, p)
		}
	}
	if len(needs) == 0 {
		return &Executor{}, nil
	}

	m, ok := SelectMechanism(Mechanisms, host.Groups, host.LookPath)
	if !ok {
		names := make([]string, 0, len(Mechanisms))
		for _, m := range Mechanisms {
			names = append(names, m.Name)
		}
		return nil, errdefs.Configuration(
			"%s require elevated privileges but none of %s is installed and usable",
			strings.Join(needs, ", "), strings.Join(names, ", "),
		)
	}

	return &Executor{prefix: append([]string{m.Name}, m.Args...), mechanism: m.Name}, nil
}
