package network

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jbweber/kiln/internal/errdefs"
	"github.com/jbweber/kiln/internal/logging"
)

type mockSource struct {
	agent  func(call int) ([]string, error)
	leases func(call int) ([]string, error)

	agentCalls []string
	leaseCalls [][2]string
}

func (m *mockSource) GuestAgentAddresses(name string) ([]string, error) {
	m.agentCalls = append(m.agentCalls, name)
	if m.agent == nil {
		return nil, nil
	}
	return m.agent(len(m.agentCalls))
}

func (m *mockSource) DHCPLeases(network, mac string) ([]string, error) {
	m.leaseCalls = append(m.leaseCalls, [2]string{network, mac})
	if m.leases == nil {
		return nil, nil
	}
	return m.leases(len(m.leaseCalls))
}

// newTestBootstrap records sleeps instead of sleeping.
func newTestBootstrap(src AddressSource, attempts int) (*Bootstrap, *[]time.Duration) {
	var slept []time.Duration
	b := NewBootstrap(src, "default", logging.Discard())
	b.Attempts = attempts
	b.Interval = 2 * time.Second
	b.sleep = func(_ context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}
	return b, &slept
}

func TestWait_GuestAgentFirst(t *testing.T) {
	src := &mockSource{
		agent:  func(int) ([]string, error) { return []string{"192.168.122.10"}, nil },
		leases: func(int) ([]string, error) { return []string{"192.168.122.99"}, nil },
	}
	b, slept := newTestBootstrap(src, 5)

	lease, err := b.Wait(context.Background(), "web-1", "52:54:00:AA:BB:CC")
	require.NoError(t, err)
	assert.Equal(t, Lease{MAC: "52:54:00:aa:bb:cc", IP: "192.168.122.10", DiscoveredVia: ViaGuestAgent}, lease)
	assert.Empty(t, src.leaseCalls, "lease table should not be consulted when the agent answers")
	assert.Empty(t, *slept)
}

func TestWait_FallsBackToDHCPLease(t *testing.T) {
	src := &mockSource{
		agent:  func(int) ([]string, error) { return nil, errors.New("guest agent is not connected") },
		leases: func(int) ([]string, error) { return []string{"192.168.122.77"}, nil },
	}
	b, _ := newTestBootstrap(src, 5)

	lease, err := b.Wait(context.Background(), "web-1", "52:54:00:aa:bb:cc")
	require.NoError(t, err)
	assert.Equal(t, "192.168.122.77", lease.IP)
	assert.Equal(t, ViaDHCPLease, lease.DiscoveredVia)
	require.Len(t, src.leaseCalls, 1)
	assert.Equal(t, [2]string{"default", "52:54:00:aa:bb:cc"}, src.leaseCalls[0])
}

func TestWait_LeaseAlwaysTriedWhenAgentEmpty(t *testing.T) {
	src := &mockSource{}
	b, _ := newTestBootstrap(src, 4)

	_, err := b.Wait(context.Background(), "web-1", "52:54:00:aa:bb:cc")
	require.Error(t, err)
	assert.Len(t, src.agentCalls, 4)
	assert.Len(t, src.leaseCalls, 4)
}

func TestWait_SucceedsOnLaterAttempt(t *testing.T) {
	src := &mockSource{
		leases: func(call int) ([]string, error) {
			if call < 3 {
				return nil, nil
			}
			return []string{"192.168.122.5"}, nil
		},
	}
	b, slept := newTestBootstrap(src, 10)

	lease, err := b.Wait(context.Background(), "db", "52:54:00:00:00:01")
	require.NoError(t, err)
	assert.Equal(t, "192.168.122.5", lease.IP)
	assert.Equal(t, []time.Duration{2 * time.Second, 2 * time.Second}, *slept)
}

func TestWait_TimeoutWithinBudget(t *testing.T) {
	src := &mockSource{}
	b, slept := newTestBootstrap(src, 3)

	_, err := b.Wait(context.Background(), "web-1", "52:54:00:aa:bb:cc")
	require.Error(t, err)
	assert.True(t, errdefs.IsDiscoveryTimeout(err))
	assert.Contains(t, err.Error(), "web-1")
	assert.Contains(t, err.Error(), "virsh console")

	// no sleep after the final attempt
	assert.Len(t, *slept, 2)
	var total time.Duration
	for _, d := range *slept {
		total += d
	}
	assert.LessOrEqual(t, total, b.Budget())
	assert.LessOrEqual(t, b.Budget(), time.Duration(b.Attempts)*b.Interval)

	var timeout *errdefs.DiscoveryTimeoutError
	require.ErrorAs(t, err, &timeout)
	assert.Equal(t, b.Budget(), timeout.Waited)
	assert.Contains(t, err.Error(), "after "+b.Budget().String())
}

func TestWait_LogsBudgetUpFront(t *testing.T) {
	var buf bytes.Buffer
	src := &mockSource{leases: func(int) ([]string, error) { return []string{"192.168.122.9"}, nil }}
	b := NewBootstrap(src, "default", logging.NewCLI(&buf, slog.LevelInfo))
	b.Attempts = 4
	b.Interval = 3 * time.Second

	_, err := b.Wait(context.Background(), "web-1", "52:54:00:AA:BB:CC")
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "waiting for an IPv4 address")
	assert.Contains(t, buf.String(), "timeout=9s")
	assert.Contains(t, buf.String(), "mac=52:54:00:aa:bb:cc")
}

func TestWait_ContextCanceled(t *testing.T) {
	src := &mockSource{}
	b := NewBootstrap(src, "default", nil)
	b.Attempts = 100
	b.Interval = time.Hour

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := b.Wait(ctx, "web-1", "52:54:00:aa:bb:cc")
	require.ErrorIs(t, err, context.Canceled)
	assert.Len(t, src.agentCalls, 1)
}

func TestWait_RealSleepHonorsBudget(t *testing.T) {
	src := &mockSource{}
	b := NewBootstrap(src, "default", nil)
	b.Attempts = 3
	b.Interval = 10 * time.Millisecond

	start := time.Now()
	_, err := b.Wait(context.Background(), "web-1", "52:54:00:aa:bb:cc")
	require.True(t, errdefs.IsDiscoveryTimeout(err))
	assert.Less(t, time.Since(start), time.Second)
}
