// Package libvirt is the hypervisor layer: it connects to the local libvirt
// daemon, renders domain XML and performs the few domain operations a
// deployment needs.
//
// The package wraps github.com/digitalocean/go-libvirt, which speaks the
// libvirt RPC protocol directly over the daemon's UNIX socket:
//
//	client, err := libvirt.Connect("", 0)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	hv := libvirt.NewHypervisor(client.Libvirt(), logger)
//	result, err := hv.TryRemoveDomain("web-1")
//
// Access to the socket is authorized by the daemon itself (polkit or
// membership of the libvirt group), not by the command executor used for
// file operations.
//
// Consumer-Side Interfaces:
//
// Hypervisor depends on the DomainAPI interface, which *libvirt.Libvirt
// satisfies implicitly. Tests substitute a mock.
package libvirt
