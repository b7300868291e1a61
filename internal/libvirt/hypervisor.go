package libvirt

import (
	"log/slog"
	"net"
	"strings"

	"github.com/digitalocean/go-libvirt"

	"github.com/jbweber/kiln/internal/errdefs"
	"github.com/jbweber/kiln/internal/logging"
	"github.com/jbweber/kiln/internal/status"
)

// DomainAPI is the subset of *libvirt.Libvirt the hypervisor layer uses.
type DomainAPI interface {
	DomainLookupByName(name string) (libvirt.Domain, error)
	DomainDefineXML(xml string) (libvirt.Domain, error)
	DomainCreate(dom libvirt.Domain) error
	DomainGetState(dom libvirt.Domain, flags uint32) (state int32, reason int32, err error)
	DomainDestroy(dom libvirt.Domain) error
	DomainUndefineFlags(dom libvirt.Domain, flags libvirt.DomainUndefineFlagsValues) error
	DomainUndefine(dom libvirt.Domain) error
	DomainGetXMLDesc(dom libvirt.Domain, flags libvirt.DomainXMLFlags) (string, error)
	DomainInterfaceAddresses(dom libvirt.Domain, source uint32, flags uint32) ([]libvirt.DomainInterface, error)
	NetworkLookupByName(name string) (libvirt.Network, error)
	NetworkGetDhcpLeases(net libvirt.Network, mac libvirt.OptString, needResults int32, flags uint32) ([]libvirt.NetworkDhcpLease, uint32, error)
}

// undefineFlags also drops state a previous definition may have left.
const undefineFlags = libvirt.DomainUndefineManagedSave |
	libvirt.DomainUndefineSnapshotsMetadata |
	libvirt.DomainUndefineNvram

// Hypervisor performs domain operations for deployments.
type Hypervisor struct {
	api    DomainAPI
	logger *slog.Logger
}

// NewHypervisor returns a hypervisor backed by api, normally the
// *libvirt.Libvirt of a connected Client.
func NewHypervisor(api DomainAPI, logger *slog.Logger) *Hypervisor {
	return &Hypervisor{api: api, logger: logging.Ensure(logger)}
}

// Lookup returns the named domain and whether it exists.
func (h *Hypervisor) Lookup(name string) (libvirt.Domain, bool, error) {
	dom, err := h.api.DomainLookupByName(name)
	if err != nil {
		if libvirt.IsNotFound(err) {
			return libvirt.Domain{}, false, nil
		}
		return libvirt.Domain{}, false, hypervisorError("DomainLookupByName", name, err)
	}
	return dom, true, nil
}

// TryRemoveDomain stops and undefines the named domain if it exists.
// Stop errors are ignored since the domain may already be shut off.
func (h *Hypervisor) TryRemoveDomain(name string) (status.RemoveResult, error) {
	dom, found, err := h.Lookup(name)
	if err != nil {
		return status.RemoveFailed, err
	}
	if !found {
		return status.RemoveAbsent, nil
	}

	if state, _, err := h.api.DomainGetState(dom, 0); err != nil || libvirt.DomainState(state) != libvirt.DomainShutoff {
		if err := h.api.DomainDestroy(dom); err != nil {
			h.logger.Debug("destroy failed", "domain", name, "error", err)
		}
	}

	if err := h.api.DomainUndefineFlags(dom, undefineFlags); err != nil {
		h.logger.Debug("undefine with flags failed, retrying plain undefine", "domain", name, "error", err)
		if err := h.api.DomainUndefine(dom); err != nil {
			return status.RemoveFailed, hypervisorError("DomainUndefine", name, err)
		}
	}
	return status.RemoveRemoved, nil
}

// DefineAndStart defines a domain from domainXML and starts it. A domain of
// the same name must not exist.
func (h *Hypervisor) DefineAndStart(name, domainXML string) (libvirt.Domain, error) {
	if _, found, err := h.Lookup(name); err != nil {
		return libvirt.Domain{}, err
	} else if found {
		return libvirt.Domain{}, &errdefs.ResourceConflictError{Kind: "domain", Name: name}
	}

	dom, err := h.api.DomainDefineXML(domainXML)
	if err != nil {
		return libvirt.Domain{}, hypervisorError("DomainDefineXML", name, err)
	}

	if err := h.api.DomainCreate(dom); err != nil {
		return libvirt.Domain{}, hypervisorError("DomainCreate", name, err)
	}
	return dom, nil
}

// DomainMACs returns the interface MAC addresses of the named domain.
func (h *Hypervisor) DomainMACs(name string) ([]string, error) {
	dom, err := h.api.DomainLookupByName(name)
	if err != nil {
		return nil, hypervisorError("DomainLookupByName", name, err)
	}
	desc, err := h.api.DomainGetXMLDesc(dom, 0)
	if err != nil {
		return nil, hypervisorError("DomainGetXMLDesc", name, err)
	}
	return ParseMACs(desc)
}

// GuestAgentAddresses returns the IPv4 addresses the guest agent reports,
// excluding loopback. An agent that is not running yet is reported as an
// error; callers polling for an address treat it as "nothing yet".
func (h *Hypervisor) GuestAgentAddresses(name string) ([]string, error) {
	dom, err := h.api.DomainLookupByName(name)
	if err != nil {
		return nil, hypervisorError("DomainLookupByName", name, err)
	}

	ifaces, err := h.api.DomainInterfaceAddresses(dom, uint32(libvirt.DomainInterfaceAddressesSrcAgent), 0)
	if err != nil {
		return nil, hypervisorError("DomainInterfaceAddresses", name, err)
	}

	var addrs []string
	for _, iface := range ifaces {
		if iface.Name == "lo" {
			continue
		}
		for _, a := range iface.Addrs {
			if a.Type != int32(libvirt.IPAddrTypeIpv4) {
				continue
			}
			ip := net.ParseIP(a.Addr)
			if ip == nil || ip.IsLoopback() || ip.IsLinkLocalUnicast() {
				continue
			}
			addrs = append(addrs, ip.String())
		}
	}
	return addrs, nil
}

// DHCPLeases returns the IPv4 addresses leased to mac on the named network.
func (h *Hypervisor) DHCPLeases(network, mac string) ([]string, error) {
	nw, err := h.api.NetworkLookupByName(network)
	if err != nil {
		return nil, hypervisorError("NetworkLookupByName", network, err)
	}

	leases, _, err := h.api.NetworkGetDhcpLeases(nw, libvirt.OptString{mac}, 1, 0)
	if err != nil {
		return nil, hypervisorError("NetworkGetDhcpLeases", network, err)
	}

	var addrs []string
	for _, lease := range leases {
		if len(lease.Mac) > 0 && !strings.EqualFold(lease.Mac[0], mac) {
			continue
		}
		if lease.Type != int32(libvirt.IPAddrTypeIpv4) {
			continue
		}
		if ip := net.ParseIP(lease.Ipaddr); ip != nil {
			addrs = append(addrs, ip.String())
		}
	}
	return addrs, nil
}

func hypervisorError(call, name string, err error) error {
	return &errdefs.ExternalToolError{
		Tool: "libvirt",
		Args: []string{call, name},
		Err:  err,
	}
}
