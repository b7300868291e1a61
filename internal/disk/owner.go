package disk

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"os/user"
	"strings"
	"sync"
)

// QEMUConf is where libvirt configures the user that runs guests.
const QEMUConf = "/etc/libvirt/qemu.conf"

// Owner is the numeric owner given to files the hypervisor must read.
type Owner struct {
	UID string
	GID string
}

// Spec returns the owner in chown's uid:gid form.
func (o Owner) Spec() string { return o.UID + ":" + o.GID }

// accounts abstracts os/user for tests.
type accounts struct {
	lookupUser  func(string) (*user.User, error)
	lookupGroup func(string) (*user.Group, error)
}

var systemAccounts = accounts{lookupUser: user.Lookup, lookupGroup: user.LookupGroup}

var (
	qemuOwner     Owner
	qemuOwnerErr  error
	qemuOwnerOnce sync.Once
)

// HypervisorOwner returns the account that runs guests, cached after the
// first call. It tries the user and group set in qemu.conf, then the common
// account names qemu and libvirt-qemu.
func HypervisorOwner() (Owner, error) {
	qemuOwnerOnce.Do(func() {
		qemuOwner, qemuOwnerErr = resolveOwner(QEMUConf, systemAccounts)
	})
	return qemuOwner, qemuOwnerErr
}

func resolveOwner(confPath string, acct accounts) (Owner, error) {
	var username, groupname string
	if f, err := os.Open(confPath); err == nil {
		username, groupname = parseQEMUConf(f)
		_ = f.Close()
	}

	if username != "" {
		if u, err := acct.lookupUser(username); err == nil {
			o := Owner{UID: u.Uid, GID: u.Gid}
			if groupname != "" {
				if g, err := acct.lookupGroup(groupname); err == nil {
					o.GID = g.Gid
				}
			}
			return o, nil
		}
	}

	for _, name := range []string{"qemu", "libvirt-qemu"} {
		if u, err := acct.lookupUser(name); err == nil {
			return Owner{UID: u.Uid, GID: u.Gid}, nil
		}
	}
	return Owner{}, fmt.Errorf("could not determine the hypervisor user from %s or the qemu and libvirt-qemu accounts", confPath)
}

// parseQEMUConf extracts the user and group settings from qemu.conf.
func parseQEMUConf(r io.Reader) (username, groupname string) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		value = strings.Trim(strings.TrimSpace(value), `"'`)
		switch strings.TrimSpace(key) {
		case "user":
			username = value
		case "group":
			groupname = value
		}
	}
	return username, groupname
}
