// Package network discovers the IPv4 address of a freshly started instance.
//
// Two strategies are tried on every attempt, in order: the addresses the
// in-guest agent reports, then the managed network's DHCP lease for the
// instance MAC. The lease lookup needs nothing inside the guest, so it runs
// whenever the agent yields nothing, whatever the image.
package network

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/jbweber/kiln/internal/errdefs"
	"github.com/jbweber/kiln/internal/logging"
)

const (
	// DefaultAttempts bounds the number of polling attempts.
	DefaultAttempts = 60

	// DefaultInterval is the pause between attempts.
	DefaultInterval = 5 * time.Second
)

// Discovery strategies reported in Lease.DiscoveredVia.
const (
	ViaGuestAgent = "guest-agent"
	ViaDHCPLease  = "dhcp-lease"
)

// AddressSource is the hypervisor surface the bootstrap polls.
type AddressSource interface {
	GuestAgentAddresses(name string) ([]string, error)
	DHCPLeases(network, mac string) ([]string, error)
}

// Lease is the address found for an instance.
type Lease struct {
	MAC           string
	IP            string
	DiscoveredVia string
}

// Bootstrap polls an AddressSource for an instance address.
type Bootstrap struct {
	src AddressSource

	Attempts int
	Interval time.Duration
	// Network is the libvirt network whose lease table is consulted.
	Network string

	logger *slog.Logger
	sleep  func(ctx context.Context, d time.Duration) error
}

// NewBootstrap returns a bootstrap with the default budget.
func NewBootstrap(src AddressSource, network string, logger *slog.Logger) *Bootstrap {
	return &Bootstrap{
		src:      src,
		Attempts: DefaultAttempts,
		Interval: DefaultInterval,
		Network:  network,
		logger:   logging.Ensure(logger),
		sleep:    sleepContext,
	}
}

// Budget is the longest Wait blocks before reporting a timeout.
func (b *Bootstrap) Budget() time.Duration {
	if b.Attempts <= 1 {
		return 0
	}
	return time.Duration(b.Attempts-1) * b.Interval
}

// Wait polls until an address for the named instance is found, the attempt
// budget is spent or ctx is done. Exhausting the budget returns a
// DiscoveryTimeoutError.
func (b *Bootstrap) Wait(ctx context.Context, name, mac string) (Lease, error) {
	attempts := b.Attempts
	if attempts < 1 {
		attempts = 1
	}
	mac = strings.ToLower(mac)
	b.logger.Info("waiting for an IPv4 address",
		"instance", name, "mac", mac, "network", b.Network, "timeout", b.Budget())

	for attempt := 1; attempt <= attempts; attempt++ {
		if lease, ok := b.poll(name, mac); ok {
			b.logger.Info("address discovered",
				"instance", name, "ip", lease.IP, "via", lease.DiscoveredVia, "attempt", attempt)
			return lease, nil
		}

		if attempt == attempts {
			break
		}
		b.logger.Debug("no address yet", "instance", name, "attempt", attempt, "of", attempts)
		if err := b.sleep(ctx, b.Interval); err != nil {
			return Lease{}, err
		}
	}

	return Lease{}, &errdefs.DiscoveryTimeoutError{
		Instance: name,
		Attempts: attempts,
		Interval: b.Interval,
		Waited:   b.Budget(),
	}
}

// poll runs both strategies once. Errors count as "nothing yet": the agent
// is not up during early boot and the lease table may lag behind DHCP.
func (b *Bootstrap) poll(name, mac string) (Lease, bool) {
	addrs, err := b.src.GuestAgentAddresses(name)
	if err != nil {
		b.logger.Debug("guest agent query failed", "instance", name, "error", err)
	}
	if len(addrs) > 0 {
		return Lease{MAC: mac, IP: addrs[0], DiscoveredVia: ViaGuestAgent}, true
	}

	addrs, err = b.src.DHCPLeases(b.Network, mac)
	if err != nil {
		b.logger.Debug("lease lookup failed", "network", b.Network, "mac", mac, "error", err)
	}
	if len(addrs) > 0 {
		return Lease{MAC: mac, IP: addrs[0], DiscoveredVia: ViaDHCPLease}, true
	}
	return Lease{}, false
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
