package privilege

import (
	"context"
	"log/slog"
	"os"
	"os/exec"
	"os/user"
	"strings"

	"github.com/jbweber/kiln/internal/errdefs"
	"github.com/jbweber/kiln/internal/logging"
)

// Runner runs an external command and returns its combined output.
// A non-zero exit is reported as an *errdefs.ExternalToolError.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

// Executor is the resolved command runner for a run. The zero value runs
// commands unprivileged.
type Executor struct {
	prefix    []string
	mechanism string
	root      bool
	logger    *slog.Logger

	// command builds the process; overridden in tests.
	command func(ctx context.Context, name string, args ...string) *exec.Cmd
}

// WithLogger returns a copy of e that logs every command at debug level.
func (e *Executor) WithLogger(logger *slog.Logger) *Executor {
	c := *e
	c.logger = logger
	return &c
}

// Elevated reports whether commands are prefixed with an escalation tool.
func (e *Executor) Elevated() bool { return len(e.prefix) > 0 }

// Privileged reports whether commands run with root privileges, either
// because the caller is root or through escalation.
func (e *Executor) Privileged() bool { return e.root || e.Elevated() }

// Mechanism returns the escalation tool name, or "" when not elevated.
func (e *Executor) Mechanism() string { return e.mechanism }

// Argv returns the full argument vector that Run would execute.
func (e *Executor) Argv(name string, args ...string) []string {
	argv := make([]string, 0, len(e.prefix)+1+len(args))
	argv = append(argv, e.prefix...)
	argv = append(argv, name)
	return append(argv, args...)
}

// Run executes name with args, applying the escalation prefix if any.
func (e *Executor) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	argv := e.Argv(name, args...)
	logging.Ensure(e.logger).Debug("exec", "cmd", strings.Join(argv, " "))

	command := e.command
	if command == nil {
		command = exec.CommandContext
	}
	cmd := command(ctx, argv[0], argv[1:]...)
	// escalation tools may need to prompt on the terminal
	cmd.Stdin = os.Stdin

	out, err := cmd.CombinedOutput()
	if err != nil {
		return out, &errdefs.ExternalToolError{Tool: name, Args: args, Output: string(out), Err: err}
	}
	return out, nil
}

// CurrentHost describes the invoking process for Resolve.
func CurrentHost() (Host, error) {
	host := Host{EUID: os.Geteuid(), LookPath: exec.LookPath}

	u, err := user.Current()
	if err != nil {
		return host, errdefs.WrapConfiguration(err, "cannot determine invoking user")
	}
	gids, err := u.GroupIds()
	if err != nil {
		return host, errdefs.WrapConfiguration(err, "cannot list groups for %s", u.Username)
	}
	for _, gid := range gids {
		g, err := user.LookupGroupId(gid)
		if err != nil {
			continue
		}
		host.Groups = append(host.Groups, g.Name)
	}
	return host, nil
}
