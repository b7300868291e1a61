package vm

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"

	"github.com/digitalocean/go-libvirt"

	"github.com/jbweber/kiln/internal/disk"
	"github.com/jbweber/kiln/internal/image"
	kilnlibvirt "github.com/jbweber/kiln/internal/libvirt"
	"github.com/jbweber/kiln/internal/network"
	"github.com/jbweber/kiln/internal/sshconfig"
	"github.com/jbweber/kiln/internal/status"
)

// mockHypervisor is a mock implementation of the hypervisor interface.
// Domains are tracked by name so that redeploys see what earlier runs
// defined.
type mockHypervisor struct {
	mu sync.Mutex

	domains map[string]bool
	xml     map[string]string

	// Configurable behavior
	tryRemoveDomainFunc func(name string) (status.RemoveResult, error)
	defineAndStartFunc  func(name, xml string) (libvirt.Domain, error)
	domainMACsFunc      func(name string) ([]string, error)

	// Call tracking
	tryRemoveDomainCalls []string
	defineAndStartCalls  []string
	defineXML            []string
}

func newMockHypervisor() *mockHypervisor {
	return &mockHypervisor{domains: map[string]bool{}, xml: map[string]string{}}
}

func (m *mockHypervisor) Lookup(name string) (libvirt.Domain, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.domains[name] {
		return libvirt.Domain{Name: name}, true, nil
	}
	return libvirt.Domain{}, false, nil
}

func (m *mockHypervisor) TryRemoveDomain(name string) (status.RemoveResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tryRemoveDomainCalls = append(m.tryRemoveDomainCalls, name)
	if m.tryRemoveDomainFunc != nil {
		return m.tryRemoveDomainFunc(name)
	}
	if !m.domains[name] {
		return status.RemoveAbsent, nil
	}
	delete(m.domains, name)
	delete(m.xml, name)
	return status.RemoveRemoved, nil
}

func (m *mockHypervisor) DefineAndStart(name, xml string) (libvirt.Domain, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.defineAndStartCalls = append(m.defineAndStartCalls, name)
	m.defineXML = append(m.defineXML, xml)
	if m.defineAndStartFunc != nil {
		return m.defineAndStartFunc(name, xml)
	}
	m.domains[name] = true
	m.xml[name] = xml
	return libvirt.Domain{Name: name}, nil
}

// DomainMACs reads the MACs back from the XML the domain was defined with.
func (m *mockHypervisor) DomainMACs(name string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.domainMACsFunc != nil {
		return m.domainMACsFunc(name)
	}
	xml, ok := m.xml[name]
	if !ok {
		return nil, errors.New("domain not found")
	}
	return kilnlibvirt.ParseMACs(xml)
}

// mockDiskManager keeps artifacts as real files under a temporary storage
// directory.
type mockDiskManager struct {
	mu  sync.Mutex
	dir string

	// Configurable behavior
	createOverlayFunc   func(base image.Descriptor, path string, sizeBytes int64) error
	installSeedFunc     func(src, dst string) error
	removeArtifactsFunc func(name string) []status.Removal

	// Call tracking
	ensureStorageDirCalls int
	removeArtifactsCalls  []string
	createOverlayCalls    []image.Descriptor
	overlaySizes          []int64
	installSeedCalls      []string
	seedContents          [][]byte
}

func newMockDiskManager(dir string) *mockDiskManager {
	return &mockDiskManager{dir: dir}
}

func (m *mockDiskManager) StorageDir() string { return m.dir }

func (m *mockDiskManager) Artifacts(name string) disk.Artifacts {
	return disk.Artifacts{
		Overlay: filepath.Join(m.dir, name+".qcow2"),
		Seed:    filepath.Join(m.dir, name+"-seed.iso"),
	}
}

func (m *mockDiskManager) EnsureStorageDir(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ensureStorageDirCalls++
	return os.MkdirAll(m.dir, 0o755)
}

func (m *mockDiskManager) RemoveArtifacts(_ context.Context, name string) []status.Removal {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.removeArtifactsCalls = append(m.removeArtifactsCalls, name)
	if m.removeArtifactsFunc != nil {
		return m.removeArtifactsFunc(name)
	}
	var out []status.Removal
	for _, p := range m.Artifacts(name).Paths() {
		err := os.Remove(p)
		switch {
		case err == nil:
			out = append(out, status.Removal{Resource: p, Result: status.RemoveRemoved})
		case errors.Is(err, os.ErrNotExist):
			out = append(out, status.Removal{Resource: p, Result: status.RemoveAbsent})
		default:
			out = append(out, status.Removal{Resource: p, Result: status.RemoveFailed, Err: err})
		}
	}
	return out
}

func (m *mockDiskManager) CreateOverlay(_ context.Context, base image.Descriptor, path string, sizeBytes int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.createOverlayCalls = append(m.createOverlayCalls, base)
	m.overlaySizes = append(m.overlaySizes, sizeBytes)
	if m.createOverlayFunc != nil {
		if err := m.createOverlayFunc(base, path, sizeBytes); err != nil {
			return err
		}
	}
	return os.WriteFile(path, []byte("overlay of "+base.Path), 0o644)
}

func (m *mockDiskManager) InstallSeed(_ context.Context, src, dst string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.installSeedCalls = append(m.installSeedCalls, src)
	if m.installSeedFunc != nil {
		if err := m.installSeedFunc(src, dst); err != nil {
			return err
		}
	}
	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	m.seedContents = append(m.seedContents, data)
	return os.WriteFile(dst, data, 0o644)
}

// mockResolver resolves every image to a fixed format.
type mockResolver struct {
	format string
	err    error

	overrides []string
}

func (m *mockResolver) Resolve(_ context.Context, d image.Descriptor, override string) (image.Descriptor, image.Rule, error) {
	m.overrides = append(m.overrides, override)
	if m.err != nil {
		return image.Descriptor{}, image.Rule{}, m.err
	}
	rule := image.InferOSVariant(d.Name)
	if override != "" {
		r, ok := image.LookupVariant(override)
		if !ok {
			return image.Descriptor{}, image.Rule{}, errors.New("unknown variant")
		}
		rule = r
	}
	d.Format = m.format
	d.OSVariant = rule.Variant
	return d, rule, nil
}

// mockWaiter returns a fixed lease or error.
type mockWaiter struct {
	lease network.Lease
	err   error

	calls [][2]string
}

func (m *mockWaiter) Wait(_ context.Context, name, mac string) (network.Lease, error) {
	m.calls = append(m.calls, [2]string{name, mac})
	if m.err != nil {
		return network.Lease{}, m.err
	}
	lease := m.lease
	lease.MAC = mac
	return lease, nil
}

// mockRegistry keeps one record per instance name.
type mockRegistry struct {
	err error

	records map[string]sshconfig.Record
	syncs   int
}

func newMockRegistry() *mockRegistry {
	return &mockRegistry{records: map[string]sshconfig.Record{}}
}

func (m *mockRegistry) Sync(rec sshconfig.Record) error {
	m.syncs++
	if m.err != nil {
		return m.err
	}
	m.records[rec.InstanceName] = rec
	return nil
}

// mockMetadataClient stores metadata per domain name.
type mockMetadataClient struct {
	mu sync.Mutex

	setErr error
	data   map[string]string

	getCalls []string
}

func newMockMetadataClient() *mockMetadataClient {
	return &mockMetadataClient{data: map[string]string{}}
}

func (m *mockMetadataClient) DomainSetMetadata(dom libvirt.Domain, _ int32, md libvirt.OptString, _ libvirt.OptString, _ libvirt.OptString, _ libvirt.DomainModificationImpact) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.setErr != nil {
		return m.setErr
	}
	m.data[dom.Name] = md[0]
	return nil
}

func (m *mockMetadataClient) DomainGetMetadata(dom libvirt.Domain, _ int32, _ libvirt.OptString, _ libvirt.DomainModificationImpact) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.getCalls = append(m.getCalls, dom.Name)
	data, ok := m.data[dom.Name]
	if !ok {
		return "", errors.New("metadata not found")
	}
	return data, nil
}

// leaseTable is an address source with an empty guest agent and a DHCP
// lease table keyed by MAC.
type leaseTable struct {
	mu     sync.Mutex
	leases map[string]string
}

func (l *leaseTable) GuestAgentAddresses(string) ([]string, error) {
	return nil, errors.New("guest agent not connected")
}

func (l *leaseTable) DHCPLeases(_ string, mac string) ([]string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if ip, ok := l.leases[mac]; ok {
		return []string{ip}, nil
	}
	return nil, nil
}

func (l *leaseTable) add(mac, ip string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.leases[mac] = ip
}

// recordingRunner records every command and runs none of them.
type recordingRunner struct {
	mu    sync.Mutex
	calls [][]string
}

func (r *recordingRunner) Run(_ context.Context, name string, args ...string) ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, append([]string{name}, args...))
	return nil, nil
}

// fixedFormat reports the same format for every image.
type fixedFormat struct {
	format string
}

func (f *fixedFormat) Format(context.Context, string) (string, error) {
	return f.format, nil
}
