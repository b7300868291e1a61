package libvirt

import (
	"sync"

	"github.com/digitalocean/go-libvirt"
)

// notFound is the error go-libvirt returns for an unknown domain.
var notFound = libvirt.Error{Code: uint32(libvirt.ErrNoDomain), Message: "Domain not found"}

// mockDomainAPI is a mock implementation of DomainAPI for testing.
type mockDomainAPI struct {
	mu sync.Mutex

	// Configurable behavior
	domainLookupByNameFunc       func(name string) (libvirt.Domain, error)
	domainDefineXMLFunc          func(xml string) (libvirt.Domain, error)
	domainCreateFunc             func(dom libvirt.Domain) error
	domainGetStateFunc           func(dom libvirt.Domain, flags uint32) (int32, int32, error)
	domainDestroyFunc            func(dom libvirt.Domain) error
	domainUndefineFlagsFunc      func(dom libvirt.Domain, flags libvirt.DomainUndefineFlagsValues) error
	domainUndefineFunc           func(dom libvirt.Domain) error
	domainGetXMLDescFunc         func(dom libvirt.Domain, flags libvirt.DomainXMLFlags) (string, error)
	domainInterfaceAddressesFunc func(dom libvirt.Domain, source uint32, flags uint32) ([]libvirt.DomainInterface, error)
	networkLookupByNameFunc      func(name string) (libvirt.Network, error)
	networkGetDhcpLeasesFunc     func(net libvirt.Network, mac libvirt.OptString, needResults int32, flags uint32) ([]libvirt.NetworkDhcpLease, uint32, error)

	// Call tracking
	domainLookupByNameCalls       []string
	domainDefineXMLCalls          []string
	domainCreateCalls             []libvirt.Domain
	domainDestroyCalls            []libvirt.Domain
	domainUndefineFlagsCalls      []libvirt.DomainUndefineFlagsValues
	domainUndefineCalls           []libvirt.Domain
	domainInterfaceAddressesCalls []uint32
	networkGetDhcpLeasesCalls     []libvirt.OptString
}

// newMockDomainAPI returns a mock where no domain exists and every call
// succeeds.
func newMockDomainAPI() *mockDomainAPI {
	return &mockDomainAPI{
		domainLookupByNameFunc: func(string) (libvirt.Domain, error) { return libvirt.Domain{}, notFound },
		domainDefineXMLFunc: func(string) (libvirt.Domain, error) {
			return libvirt.Domain{Name: "test-vm"}, nil
		},
		domainCreateFunc: func(libvirt.Domain) error { return nil },
		domainGetStateFunc: func(libvirt.Domain, uint32) (int32, int32, error) {
			return int32(libvirt.DomainRunning), 0, nil
		},
		domainDestroyFunc:       func(libvirt.Domain) error { return nil },
		domainUndefineFlagsFunc: func(libvirt.Domain, libvirt.DomainUndefineFlagsValues) error { return nil },
		domainUndefineFunc:      func(libvirt.Domain) error { return nil },
		domainGetXMLDescFunc: func(libvirt.Domain, libvirt.DomainXMLFlags) (string, error) {
			return "<domain type='kvm'><name>test-vm</name></domain>", nil
		},
		domainInterfaceAddressesFunc: func(libvirt.Domain, uint32, uint32) ([]libvirt.DomainInterface, error) {
			return nil, nil
		},
		networkLookupByNameFunc: func(name string) (libvirt.Network, error) {
			return libvirt.Network{Name: name}, nil
		},
		networkGetDhcpLeasesFunc: func(libvirt.Network, libvirt.OptString, int32, uint32) ([]libvirt.NetworkDhcpLease, uint32, error) {
			return nil, 0, nil
		},
	}
}

// withDomain makes lookups of name succeed.
func (m *mockDomainAPI) withDomain(name string) *mockDomainAPI {
	m.domainLookupByNameFunc = func(n string) (libvirt.Domain, error) {
		if n == name {
			return libvirt.Domain{Name: n}, nil
		}
		return libvirt.Domain{}, notFound
	}
	return m
}

func (m *mockDomainAPI) DomainLookupByName(name string) (libvirt.Domain, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.domainLookupByNameCalls = append(m.domainLookupByNameCalls, name)
	return m.domainLookupByNameFunc(name)
}

func (m *mockDomainAPI) DomainDefineXML(xml string) (libvirt.Domain, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.domainDefineXMLCalls = append(m.domainDefineXMLCalls, xml)
	return m.domainDefineXMLFunc(xml)
}

func (m *mockDomainAPI) DomainCreate(dom libvirt.Domain) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.domainCreateCalls = append(m.domainCreateCalls, dom)
	return m.domainCreateFunc(dom)
}

func (m *mockDomainAPI) DomainGetState(dom libvirt.Domain, flags uint32) (int32, int32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.domainGetStateFunc(dom, flags)
}

func (m *mockDomainAPI) DomainDestroy(dom libvirt.Domain) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.domainDestroyCalls = append(m.domainDestroyCalls, dom)
	return m.domainDestroyFunc(dom)
}

func (m *mockDomainAPI) DomainUndefineFlags(dom libvirt.Domain, flags libvirt.DomainUndefineFlagsValues) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.domainUndefineFlagsCalls = append(m.domainUndefineFlagsCalls, flags)
	return m.domainUndefineFlagsFunc(dom, flags)
}

func (m *mockDomainAPI) DomainUndefine(dom libvirt.Domain) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.domainUndefineCalls = append(m.domainUndefineCalls, dom)
	return m.domainUndefineFunc(dom)
}

func (m *mockDomainAPI) DomainGetXMLDesc(dom libvirt.Domain, flags libvirt.DomainXMLFlags) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.domainGetXMLDescFunc(dom, flags)
}

func (m *mockDomainAPI) DomainInterfaceAddresses(dom libvirt.Domain, source uint32, flags uint32) ([]libvirt.DomainInterface, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.domainInterfaceAddressesCalls = append(m.domainInterfaceAddressesCalls, source)
	return m.domainInterfaceAddressesFunc(dom, source, flags)
}

func (m *mockDomainAPI) NetworkLookupByName(name string) (libvirt.Network, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.networkLookupByNameFunc(name)
}

func (m *mockDomainAPI) NetworkGetDhcpLeases(net libvirt.Network, mac libvirt.OptString, needResults int32, flags uint32) ([]libvirt.NetworkDhcpLease, uint32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.networkGetDhcpLeasesCalls = append(m.networkGetDhcpLeasesCalls, mac)
	return m.networkGetDhcpLeasesFunc(net, mac, needResults, flags)
}
