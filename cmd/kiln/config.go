package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jbweber/kiln/internal/config"
	"github.com/jbweber/kiln/internal/output"
)

var configOutput string

// Configuration commands
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or edit the persisted defaults",
	Long: `Show or edit the defaults kiln uses when a deploy flag is not given.

Defaults live in $XDG_CONFIG_HOME/kiln/config (override with $KILN_CONFIG).
The primary user's password is stored only as a one-way hash.`,
}

func init() {
	configShowCmd.Flags().StringVarP(&configOutput, "output", "o", "table", "output format (table, yaml, json)")
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetupCmd)
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the effective defaults",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore()
		if err != nil {
			return err
		}
		d, err := readDefaults(store)
		if err != nil {
			return err
		}
		return printDefaults(store.Path(), d, configOutput)
	},
}

var configSetupCmd = &cobra.Command{
	Use:   "setup",
	Short: "Run the interactive setup and save the answers",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore()
		if err != nil {
			return err
		}
		_, err = loadDefaults(store, true)
		return err
	},
}

func openStore() (*config.Store, error) {
	path, err := config.DefaultPath()
	if err != nil {
		return nil, err
	}
	return config.NewStore(path, config.BcryptHasher{}), nil
}

// readDefaults returns the persisted defaults, or the built-in ones if no
// configuration file exists yet. It never prompts.
func readDefaults(store *config.Store) (config.Defaults, error) {
	exists, err := store.Exists()
	if err != nil {
		return config.Defaults{}, err
	}
	if !exists {
		return config.BuiltinDefaults(), nil
	}
	return store.Load()
}

// loadDefaults returns the persisted defaults, running the interactive setup
// first when no configuration exists or reconfigure is set.
func loadDefaults(store *config.Store, reconfigure bool) (config.Defaults, error) {
	exists, err := store.Exists()
	if err != nil {
		return config.Defaults{}, err
	}
	if exists && !reconfigure {
		return store.Load()
	}

	current := config.BuiltinDefaults()
	if exists {
		if current, err = store.Load(); err != nil {
			return config.Defaults{}, err
		}
	}

	d, err := config.NewTerminalPrompter().Setup(current, config.BcryptHasher{})
	if err != nil {
		return config.Defaults{}, fmt.Errorf("setup failed: %w", err)
	}
	if err := store.Save(d); err != nil {
		return config.Defaults{}, err
	}
	logger.Info("configuration saved", "path", store.Path())
	return d, nil
}

func printDefaults(path string, d config.Defaults, format string) error {
	formatter, err := output.NewFormatter(output.Options{Format: output.Format(format)})
	if err != nil {
		return err
	}
	out, err := formatter.FormatDefaults(output.NewDefaultsView(path, d))
	if err != nil {
		return err
	}
	fmt.Print(out)
	return nil
}
