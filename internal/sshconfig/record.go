package sshconfig

import (
	"bytes"
	"fmt"
	"net"
	"strings"
	"text/template"

	"github.com/jbweber/kiln/internal/naming"
)

// Record is one instance's connection shortcuts.
type Record struct {
	InstanceName string
	IP           string
	PrimaryUser  string
	// RootUser defaults to "root".
	RootUser     string
	IdentityFile string
}

// Host keys change on every redeploy while the address is reused, so
// verification is disabled for these hosts only.
var recordTemplate = template.Must(template.New("record").Parse(
	`# Managed by kiln; rewritten on every deploy of {{.Name}}.
{{range .Hosts}}
Host {{.Alias}}
    HostName {{$.IP}}
    User {{.User}}
{{- if $.IdentityFile}}
    IdentityFile {{$.IdentityFile}}
    IdentitiesOnly yes
{{- end}}
    StrictHostKeyChecking no
    UserKnownHostsFile /dev/null
    LogLevel ERROR
{{end}}`))

type hostBlock struct {
	Alias string
	User  string
}

// Render returns the file content: a block for the primary user under the
// instance name and one for root under its root alias.
func (r Record) Render() ([]byte, error) {
	if r.InstanceName == "" {
		return nil, fmt.Errorf("instance name is required")
	}
	if net.ParseIP(r.IP) == nil {
		return nil, fmt.Errorf("invalid IP address %q for %s", r.IP, r.InstanceName)
	}
	if r.PrimaryUser == "" {
		return nil, fmt.Errorf("primary user is required for %s", r.InstanceName)
	}
	root := r.RootUser
	if root == "" {
		root = "root"
	}
	for _, v := range []string{r.PrimaryUser, root, r.IdentityFile} {
		if strings.ContainsAny(v, "\n\r") {
			return nil, fmt.Errorf("connection record field contains a newline: %q", v)
		}
	}

	identity := r.IdentityFile
	if strings.ContainsAny(identity, " \t") {
		identity = `"` + identity + `"`
	}

	var buf bytes.Buffer
	err := recordTemplate.Execute(&buf, map[string]any{
		"Name":         r.InstanceName,
		"IP":           r.IP,
		"IdentityFile": identity,
		"Hosts": []hostBlock{
			{Alias: r.InstanceName, User: r.PrimaryUser},
			{Alias: naming.RootAlias(r.InstanceName), User: root},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to render connection record: %w", err)
	}
	return buf.Bytes(), nil
}
