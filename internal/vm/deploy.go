package vm

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/jbweber/kiln/internal/cloudinit"
	"github.com/jbweber/kiln/internal/config"
	"github.com/jbweber/kiln/internal/disk"
	"github.com/jbweber/kiln/internal/errdefs"
	"github.com/jbweber/kiln/internal/image"
	kilnlibvirt "github.com/jbweber/kiln/internal/libvirt"
	"github.com/jbweber/kiln/internal/logging"
	"github.com/jbweber/kiln/internal/metadata"
	"github.com/jbweber/kiln/internal/naming"
	"github.com/jbweber/kiln/internal/network"
	"github.com/jbweber/kiln/internal/privilege"
	"github.com/jbweber/kiln/internal/sshconfig"
	"github.com/jbweber/kiln/internal/status"
)

// RequiredTools must be on PATH before a deployment starts.
var RequiredTools = []string{"qemu-img", "install", "rm", "chown"}

// Request describes one deployment.
type Request struct {
	Spec config.VMSpec

	// ImagePath is the base image directory.
	ImagePath string
	// StoragePath is where instance artifacts are written.
	StoragePath string
	// ImageChoice picks a base image by 1-based number or file name. It may
	// be empty when exactly one image exists.
	ImageChoice string
	// IdentityFile is the private key written into the connection registry.
	IdentityFile string
	// Network is the libvirt network to attach to; empty means "default".
	Network string
	// Socket is the libvirt socket path; empty uses the default.
	Socket string
}

// Result describes a ready instance.
type Result struct {
	Name          string
	IP            string
	MAC           string
	DiscoveredVia string
	Image         string
	OSVariant     string
	User          string
	RootAlias     string
	History       []status.Transition
}

// deps are the collaborators of a deployment.
type deps struct {
	listImages func(dir string) ([]image.Descriptor, error)
	capacity   func(dir string, needed int64) (disk.Advisory, error)
	workspace  func() (string, error)
	newID      func() string
	now        func() time.Time

	images   imageResolver
	disks    diskManager
	hv       hypervisor
	meta     metadata.LibvirtClient
	waiter   addressWaiter
	registry connectionRegistry
	logger   *slog.Logger
}

// Deploy creates or replaces the instance described by req and blocks until
// it has an address and a connection record.
//
// This orchestrates the whole run:
//  1. Pre-flight: spec validation, absolute paths, image listing, required
//     tools, privilege resolution
//  2. Connect to libvirt
//  3. Select and resolve the base image
//  4. Cleaning: retire any previous instance of the same name
//  5. Configuring: render and install the seed image
//  6. DiskProvisioning: create the overlay disk
//  7. Launching: define and start the domain
//  8. NetworkWait: discover the instance address
//  9. Registering: write the connection record
//
// A failure before Launching removes the artifacts this run created. Once
// the domain exists it is left in place for inspection.
func Deploy(ctx context.Context, req Request, logger *slog.Logger) (*Result, error) {
	logger = logging.Ensure(logger)

	if err := req.Spec.Validate(); err != nil {
		return nil, errdefs.WrapConfiguration(err, "invalid deployment for %q", req.Spec.Name)
	}
	req, err := absolutePaths(req)
	if err != nil {
		return nil, err
	}

	// listing needs no tools or daemon, so a missing image is reported first
	images, err := image.List(req.ImagePath)
	if err != nil {
		return nil, err
	}

	if err := privilege.RequireTools(exec.LookPath, RequiredTools...); err != nil {
		return nil, err
	}

	host, err := privilege.CurrentHost()
	if err != nil {
		return nil, err
	}
	executor, err := privilege.Resolve(host, req.ImagePath, req.StoragePath)
	if err != nil {
		return nil, err
	}
	if executor.Elevated() {
		logger.Info("using privilege escalation", "mechanism", executor.Mechanism())
	}
	executor = executor.WithLogger(logger)

	registry, err := sshconfig.Default(logger)
	if err != nil {
		return nil, err
	}

	logger.Debug("connecting to libvirt", "socket", kilnlibvirt.SocketPath(req.Socket))
	client, err := kilnlibvirt.ConnectWithContext(ctx, req.Socket, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to libvirt: %w", err)
	}
	defer func() {
		if err := client.Close(); err != nil {
			logger.Warn("failed to close libvirt connection", "error", err)
		}
	}()

	inspector := image.NewInspector(executor, logger)
	hv := kilnlibvirt.NewHypervisor(client.Libvirt(), logger)
	netName := req.Network
	if netName == "" {
		netName = kilnlibvirt.DefaultNetwork
	}

	return deployWithDeps(ctx, req, deps{
		listImages: func(string) ([]image.Descriptor, error) { return images, nil },
		capacity:   disk.CapacityAdvisory,
		workspace:  func() (string, error) { return os.MkdirTemp("", "kiln-") },
		newID:      uuid.NewString,
		now:        time.Now,
		images:     inspector,
		disks:      disk.NewManager(req.StoragePath, executor, inspector, logger),
		hv:         hv,
		meta:       client.Libvirt(),
		waiter:     network.NewBootstrap(hv, netName, logger),
		registry:   registry,
		logger:     logger,
	})
}

// absolutePaths makes the image and storage directories absolute. qemu-img
// resolves a relative backing file against the overlay's directory, and
// libvirtd resolves disk sources from its own working directory. The two
// directories must differ, since overlays in the image directory would be
// listed as base images.
func absolutePaths(req Request) (Request, error) {
	d, err := config.Defaults{ImagePath: req.ImagePath, StoragePath: req.StoragePath}.Absolute()
	if err != nil {
		return Request{}, err
	}
	if config.SameDir(d.ImagePath, d.StoragePath) {
		return Request{}, errdefs.Configuration("image path and storage path must be different directories, both are %s", d.ImagePath)
	}
	req.ImagePath = d.ImagePath
	req.StoragePath = d.StoragePath
	return req, nil
}

// deployWithDeps runs a deployment with injected dependencies.
// This allows for testing by accepting interfaces instead of concrete types.
func deployWithDeps(ctx context.Context, req Request, d deps) (*Result, error) {
	logger := logging.Ensure(d.logger)
	spec := req.Spec
	name := spec.Name

	tracker := status.NewTracker(name)
	tracker.OnTransition = func(tr status.Transition) {
		logger.Debug("phase transition", "instance", name, "from", tr.From, "to", tr.To)
	}
	fail := func(err error) (*Result, error) {
		phase := tracker.Phase()
		tracker.Fail(err)
		return nil, fmt.Errorf("deployment of %s failed in %s: %w", name, phase, err)
	}

	sizeBytes, err := config.ParseDiskSize(spec.DiskSize)
	if err != nil {
		return fail(errdefs.WrapConfiguration(err, "invalid disk size"))
	}

	// Image selection and inspection happen before anything is touched.
	images, err := d.listImages(req.ImagePath)
	if err != nil {
		return fail(err)
	}
	selected, err := image.Select(images, req.ImageChoice)
	if err != nil {
		return fail(err)
	}
	base, rule, err := d.images.Resolve(ctx, selected, spec.OSVariant)
	if err != nil {
		return fail(err)
	}
	spec.OSVariant = rule.Variant
	logger.Info("using base image", "image", base.Name, "format", base.Format, "os_variant", rule.Variant)

	artifacts := d.disks.Artifacts(name)
	for _, p := range artifacts.Paths() {
		if filepath.Clean(p) == filepath.Clean(base.Path) {
			return fail(errdefs.Configuration("base image %s is an artifact of instance %q; pick another name or move the image out of %s",
				base.Path, name, d.disks.StorageDir()))
		}
	}

	adviseCapacity(d, sizeBytes, logger)

	// Cleaning
	if err := tracker.Advance(status.PhaseCleaning); err != nil {
		return fail(err)
	}
	logger.Info("cleaning previous instance", "instance", name)
	if err := clean(ctx, name, d, logger); err != nil {
		return fail(err)
	}

	// Artifacts created from here until the domain exists are removed again
	// if the run fails.
	launched := false
	defer func() {
		if tracker.Phase() == status.PhaseFailed && !launched {
			rollbackArtifacts(ctx, name, d, logger)
		}
	}()

	// Configuring
	if err := tracker.Advance(status.PhaseConfiguring); err != nil {
		return fail(err)
	}
	instanceID := d.newID()
	logger.Info("generating cloud-init seed image", "instance", name)
	if err := writeSeed(ctx, &spec, instanceID, artifacts.Seed, d); err != nil {
		return fail(err)
	}

	// DiskProvisioning
	if err := tracker.Advance(status.PhaseDiskProvisioning); err != nil {
		return fail(err)
	}
	logger.Info("creating overlay disk", "path", artifacts.Overlay, "size", spec.DiskSize, "backing_format", base.Format)
	if err := d.disks.CreateOverlay(ctx, base, artifacts.Overlay, sizeBytes); err != nil {
		return fail(err)
	}

	// Launching
	if err := tracker.Advance(status.PhaseLaunching); err != nil {
		return fail(err)
	}
	mac := naming.InstanceMAC(name, instanceID)
	domainXML, err := kilnlibvirt.GenerateDomainXML(kilnlibvirt.DomainSpec{
		Name:        name,
		UUID:        instanceID,
		MemoryMiB:   spec.RAMMiB,
		VCPUs:       spec.VCPUs,
		OverlayPath: artifacts.Overlay,
		SeedPath:    artifacts.Seed,
		MAC:         mac,
		Network:     req.Network,
		OSInfoID:    rule.OSInfoID,
	})
	if err != nil {
		return fail(err)
	}
	logger.Info("starting instance", "instance", name, "ram_mib", spec.RAMMiB, "vcpus", spec.VCPUs, "mac", mac)
	dom, err := d.hv.DefineAndStart(name, domainXML)
	if err != nil {
		if errdefs.IsConflict(err) {
			// the conflicting domain may reference these same paths
			launched = true
		}
		return fail(err)
	}
	launched = true
	mac = interfaceMAC(d.hv, name, mac, logger)

	if d.meta != nil {
		rec := &metadata.Record{
			Instance:    name,
			Image:       base.Name,
			ImageFormat: base.Format,
			OSVariant:   rule.Variant,
			User:        spec.User,
			MAC:         mac,
			DiskSize:    spec.DiskSize,
			CreatedAt:   d.now().UTC(),
		}
		if err := metadata.Store(d.meta, dom, rec); err != nil {
			logger.Warn("failed to record deployment metadata", "instance", name, "error", err)
		}
	}

	// NetworkWait
	if err := tracker.Advance(status.PhaseNetworkWait); err != nil {
		return fail(err)
	}
	lease, err := d.waiter.Wait(ctx, name, mac)
	if err != nil {
		return fail(err)
	}

	// Registering
	if err := tracker.Advance(status.PhaseRegistering); err != nil {
		return fail(err)
	}
	err = d.registry.Sync(sshconfig.Record{
		InstanceName: name,
		IP:           lease.IP,
		PrimaryUser:  spec.User,
		RootUser:     "root",
		IdentityFile: req.IdentityFile,
	})
	if err != nil {
		return fail(err)
	}

	if err := tracker.Advance(status.PhaseReady); err != nil {
		return fail(err)
	}
	logger.Info("instance ready", "instance", name, "ip", lease.IP)

	return &Result{
		Name:          name,
		IP:            lease.IP,
		MAC:           mac,
		DiscoveredVia: lease.DiscoveredVia,
		Image:         base.Name,
		OSVariant:     rule.Variant,
		User:          spec.User,
		RootAlias:     naming.RootAlias(name),
		History:       tracker.History(),
	}, nil
}

// interfaceMAC returns the MAC of the defined domain's interface, which is
// what DHCP leases are keyed on. It falls back to the requested address when
// the domain cannot be read back.
func interfaceMAC(hv hypervisor, name, requested string, logger *slog.Logger) string {
	macs, err := hv.DomainMACs(name)
	if err != nil || len(macs) == 0 {
		logger.Debug("using requested MAC", "instance", name, "mac", requested, "error", err)
		return requested
	}
	if !strings.EqualFold(macs[0], requested) {
		logger.Warn("hypervisor assigned a different MAC", "instance", name, "requested", requested, "assigned", macs[0])
	}
	return strings.ToLower(macs[0])
}

// adviseCapacity warns when the storage directory looks too small. It never
// blocks a deployment.
func adviseCapacity(d deps, sizeBytes int64, logger *slog.Logger) {
	if d.capacity == nil {
		return
	}
	adv, err := d.capacity(d.disks.StorageDir(), sizeBytes)
	if err != nil {
		logger.Debug("free space check skipped", "path", d.disks.StorageDir(), "error", err)
		return
	}
	if !adv.Sufficient() {
		logger.Warn("storage may not have room for the full disk size",
			"path", adv.Path, "needed_bytes", adv.Needed, "available_bytes", adv.Available)
	}
}

// writeSeed renders the seed image into a private workspace and installs it
// at dst. The workspace is removed on every path.
func writeSeed(ctx context.Context, spec *config.VMSpec, instanceID, dst string, d deps) error {
	iso, err := cloudinit.GenerateISO(spec, instanceID)
	if err != nil {
		return fmt.Errorf("failed to generate cloud-init ISO: %w", err)
	}

	dir, err := d.workspace()
	if err != nil {
		return fmt.Errorf("failed to create workspace: %w", err)
	}
	defer func() {
		if err := os.RemoveAll(dir); err != nil {
			logging.Ensure(d.logger).Warn("failed to remove workspace", "path", dir, "error", err)
		}
	}()

	src := filepath.Join(dir, filepath.Base(dst))
	if err := os.WriteFile(src, iso, 0o644); err != nil {
		return fmt.Errorf("failed to write seed image: %w", err)
	}
	if err := d.disks.InstallSeed(ctx, src, dst); err != nil {
		return fmt.Errorf("failed to install seed image: %w", err)
	}
	return nil
}

// rollbackArtifacts removes artifacts left by a run that failed before its
// domain was defined.
func rollbackArtifacts(ctx context.Context, name string, d deps, logger *slog.Logger) {
	// the run context may be what failed
	ctx = context.WithoutCancel(ctx)
	for _, r := range status.Failed(d.disks.RemoveArtifacts(ctx, name)) {
		logger.Warn("failed to remove artifact after failed deployment", "path", r.Resource, "error", r.Err)
	}
}
