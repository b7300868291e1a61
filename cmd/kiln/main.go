package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/jbweber/kiln/internal/logging"
)

var (
	version = "dev"
	commit  = "unknown"
)

var (
	logLevel   string
	socketPath string

	// logger is set up from --log-level before any command runs.
	logger = logging.Discard()
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "kiln",
	Short: "Kiln - local VM provisioning tool",
	Long: `Kiln turns a cloud image into a running, reachable VM on the local
libvirt host with a single command.

It creates a copy-on-write disk over a base image, seeds cloud-init with your
SSH keys, boots the VM, waits for its address and adds "ssh <name>" and
"ssh <name>-root" shortcuts to your SSH config.`,
	Version:       fmt.Sprintf("%s (commit: %s)", version, commit),
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		level, err := logging.ParseLevel(logLevel)
		if err != nil {
			return err
		}
		logger = logging.NewCLI(os.Stdout, level)
		slog.SetDefault(logger)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warning, error)")
	rootCmd.PersistentFlags().StringVar(&socketPath, "socket", "", "libvirt socket path (default $LIBVIRT_SOCKET or /var/run/libvirt/libvirt-sock)")

	rootCmd.AddCommand(deployCmd)
	rootCmd.AddCommand(imageCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(testConnCmd)
}
