package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/jbweber/kiln/internal/libvirt"
)

var testConnNetwork string

var testConnCmd = &cobra.Command{
	Use:   "test-conn",
	Short: "Test libvirt connection",
	Long:  `Test connectivity to the libvirt daemon, display version information and check that the instance network is active.`,
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Println("Testing libvirt connection...")

		client, err := libvirt.Connect(socketPath, 5*time.Second)
		if err != nil {
			return fmt.Errorf("failed to connect to libvirt: %w", err)
		}
		defer func() {
			if closeErr := client.Close(); closeErr != nil {
				fmt.Fprintf(os.Stderr, "Warning: failed to close libvirt connection: %v\n", closeErr)
			}
		}()

		fmt.Printf("✓ Connected to libvirt daemon at %s\n", client.Socket())

		if err := client.Ping(); err != nil {
			return fmt.Errorf("connection test failed: %w", err)
		}

		version, err := client.Version()
		if err != nil {
			return err
		}
		fmt.Printf("✓ Libvirt version: %s\n", version)

		hostname, err := client.Libvirt().ConnectGetHostname()
		if err != nil {
			return fmt.Errorf("failed to get hostname: %w", err)
		}
		fmt.Printf("✓ Hypervisor hostname: %s\n", hostname)

		uri, err := client.Libvirt().ConnectGetUri()
		if err != nil {
			return fmt.Errorf("failed to get connection URI: %w", err)
		}
		fmt.Printf("✓ Connection URI: %s\n", uri)

		network, err := client.Libvirt().NetworkLookupByName(testConnNetwork)
		if err != nil {
			return fmt.Errorf("network %q not found: %w", testConnNetwork, err)
		}
		active, err := client.Libvirt().NetworkIsActive(network)
		if err != nil {
			return fmt.Errorf("failed to query network %q: %w", testConnNetwork, err)
		}
		if active == 0 {
			return fmt.Errorf("network %q is not active; start it with `virsh net-start %s`", testConnNetwork, testConnNetwork)
		}
		fmt.Printf("✓ Network %q is active\n", testConnNetwork)

		fmt.Println("\nConnection test successful!")
		return nil
	},
}

func init() {
	testConnCmd.Flags().StringVar(&testConnNetwork, "network", libvirt.DefaultNetwork, "libvirt network to check")
}
