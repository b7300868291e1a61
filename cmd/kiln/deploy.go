package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/jbweber/kiln/api/v1alpha1"
	"github.com/jbweber/kiln/internal/config"
	"github.com/jbweber/kiln/internal/image"
	"github.com/jbweber/kiln/internal/loader"
	"github.com/jbweber/kiln/internal/naming"
	"github.com/jbweber/kiln/internal/vm"
)

var (
	deployRAM               int
	deployCPUs              int
	deployImagePath         string
	deployStoragePath       string
	deployReconfig          bool
	deployShowConfig        bool
	deployImage             string
	deployOSVariant         string
	deploySSHKeys           []string
	deployPackages          []string
	deployNoDefaultPackages bool
	deployUser              string
	deployNetwork           string
	deployFile              string
)

var deployCmd = &cobra.Command{
	Use:   "deploy <name> [size]",
	Short: "Create or replace a VM and wait until it is reachable",
	Long: `Create a VM from a base image and wait until it can be reached over SSH.

Any existing VM of the same name is destroyed and its disks are removed first,
so running deploy twice gives a fresh instance. On success "ssh <name>" logs in
as the primary user and "ssh <name>-root" as root.

Defaults for size, RAM, vCPUs and directories come from the kiln config; the
first run asks for them interactively.

Examples:
  kiln deploy web-1
  kiln deploy db-1 40G --ram 4096 --cpu 4
  kiln deploy test --image 2 --package htop --ssh-key ~/.ssh/work.pub
  kiln deploy -f db.yaml --ram 8192`,
	Args: cobra.RangeArgs(0, 2),
	RunE: runDeploy,
}

func init() {
	f := deployCmd.Flags()
	f.IntVar(&deployRAM, "ram", 0, "memory in MiB (default from config)")
	f.IntVar(&deployCPUs, "cpu", 0, "number of vCPUs (default from config)")
	f.StringVar(&deployImagePath, "image-path", "", "base image directory (default from config)")
	f.StringVar(&deployStoragePath, "storage-path", "", "instance storage directory (default from config)")
	f.BoolVar(&deployReconfig, "reconfig", false, "run the interactive setup before deploying")
	f.BoolVar(&deployShowConfig, "show-config", false, "print the effective defaults and exit")
	f.StringVar(&deployImage, "image", "", "base image by number or file name (prompted when several exist)")
	f.StringVar(&deployOSVariant, "os-variant", "", "OS variant, overriding the one inferred from the image name")
	f.StringArrayVar(&deploySSHKeys, "ssh-key", nil, "public key file to authorize (repeatable, default ~/.ssh/*.pub)")
	f.StringArrayVar(&deployPackages, "package", nil, "extra package to install (repeatable)")
	f.BoolVar(&deployNoDefaultPackages, "no-default-packages", false, "skip the default package set and its setup commands")
	f.StringVar(&deployUser, "user", "", "primary user (default: the invoking user)")
	f.StringVar(&deployNetwork, "network", "", "libvirt network (default \"default\")")
	f.StringVarP(&deployFile, "file", "f", "", "instance file (kind: Instance); flags override its values")
}

func runDeploy(cmd *cobra.Command, args []string) error {
	ctx := commandContext(cmd)

	store, err := openStore()
	if err != nil {
		return err
	}

	if deployShowConfig {
		d, err := readDefaults(store)
		if err != nil {
			return err
		}
		d = d.With(deployOverrides(""))
		return printDefaults(store.Path(), d, "table")
	}

	inst := v1alpha1.NewInstance("")
	if deployFile != "" {
		if inst, err = loader.LoadFromFile(deployFile); err != nil {
			return err
		}
	}
	if len(args) > 0 {
		inst.Name = args[0]
	}
	if inst.Name == "" {
		return fmt.Errorf("requires an instance name")
	}
	var size string
	if len(args) > 1 {
		size = args[1]
	}
	// fail before any prompting
	if err := naming.ValidateInstanceName(inst.Name); err != nil {
		return err
	}

	defaults, err := loadDefaults(store, deployReconfig)
	if err != nil {
		return err
	}
	defaults = defaults.With(loader.Overrides(inst)).With(deployOverrides(size))
	if err := defaults.Validate(); err != nil {
		return err
	}

	keys, err := deployKeys(inst.Spec.SSHKeyFiles)
	if err != nil {
		return err
	}

	spec := config.NewVMSpec(inst.Name, defaults)
	spec.SSHKeys = keys.PublicKeys
	if deployNoDefaultPackages || !inst.HasDefaultPackages() {
		spec.Packages = nil
		spec.RunCmd = nil
	}
	spec.Packages = append(spec.Packages, inst.Spec.Packages...)
	spec.Packages = append(spec.Packages, deployPackages...)
	if user := firstSet(deployUser, inst.Spec.User); user != "" {
		spec.User = user
	}
	spec.OSVariant = firstSet(deployOSVariant, inst.Spec.OSVariant)

	req := vm.Request{
		Spec:         spec,
		ImagePath:    defaults.ImagePath,
		StoragePath:  defaults.StoragePath,
		ImageChoice:  firstSet(deployImage, inst.Spec.Image),
		IdentityFile: keys.IdentityFile,
		Network:      firstSet(deployNetwork, inst.Spec.Network),
		Socket:       socketPath,
	}

	if req.ImageChoice == "" {
		choice, err := promptImageChoice(defaults.ImagePath)
		if err != nil {
			return err
		}
		req.ImageChoice = choice
	}

	result, err := vm.Deploy(ctx, req, logger)
	if errors.Is(err, image.ErrNoImages) && isInteractive() {
		pulled, perr := offerPull(ctx, defaults.ImagePath, err)
		if perr != nil {
			return perr
		}
		if pulled {
			result, err = vm.Deploy(ctx, req, logger)
		}
	}
	if err != nil {
		return err
	}

	fmt.Println()
	fmt.Printf("✓ %s is ready\n", result.Name)
	fmt.Printf("  IP:        %s (via %s)\n", result.IP, result.DiscoveredVia)
	fmt.Printf("  Image:     %s (%s)\n", result.Image, result.OSVariant)
	fmt.Printf("  Connect:   ssh %s\n", result.Name)
	fmt.Printf("  As root:   ssh %s\n", result.RootAlias)
	return nil
}

func deployOverrides(size string) config.Overrides {
	return config.Overrides{
		ImagePath:   deployImagePath,
		StoragePath: deployStoragePath,
		DiskSize:    size,
		RAMMiB:      deployRAM,
		VCPUs:       deployCPUs,
	}
}

// deployKeys loads --ssh-key files, else the instance file's keys, else
// every public key in ~/.ssh.
func deployKeys(fromFile []string) (config.KeySet, error) {
	if len(deploySSHKeys) > 0 {
		return config.LoadKeys(deploySSHKeys...)
	}
	if len(fromFile) > 0 {
		return config.LoadKeys(fromFile...)
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return config.KeySet{}, fmt.Errorf("failed to locate home directory: %w", err)
	}
	return config.DiscoverKeys(filepath.Join(home, ".ssh"))
}

func firstSet(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func isInteractive() bool {
	return term.IsTerminal(int(os.Stdin.Fd()))
}

// promptImageChoice asks which image to use when several exist and stdin is
// a terminal. Otherwise it returns "" and leaves the decision to the
// deployment, which fails on ambiguity.
func promptImageChoice(dir string) (string, error) {
	if !isInteractive() {
		return "", nil
	}
	images, err := image.List(dir)
	if err != nil || len(images) < 2 {
		// errors surface from the deployment itself
		return "", nil
	}

	fmt.Printf("Base images in %s:\n", dir)
	for i, img := range images {
		fmt.Printf("  %d) %s\n", i+1, img.Name)
	}
	for {
		answer, err := readAnswer("Select image [1]: ")
		if err != nil {
			return "", err
		}
		if answer == "" {
			answer = "1"
		}
		if _, err := image.Select(images, answer); err != nil {
			fmt.Printf("  %v\n", err)
			continue
		}
		return answer, nil
	}
}

// offerPull offers to fetch a base image after a deployment found none. It
// reports whether an image was installed.
func offerPull(ctx context.Context, dir string, cause error) (bool, error) {
	fmt.Println(cause)
	fmt.Println("Available images:")
	for _, e := range image.Catalog {
		fmt.Printf("  %-16s %s\n", e.Key, e.Name)
	}
	answer, err := readAnswer("Image to download (key or URL, empty to cancel): ")
	if err != nil {
		return false, err
	}
	if answer == "" {
		return false, cause
	}

	executor, err := imageExecutor(dir)
	if err != nil {
		return false, err
	}
	fetcher := image.NewFetcher(executor, logger)
	fetcher.Progress = os.Stderr
	if _, err := fetcher.Pull(ctx, answer, dir); err != nil {
		return false, err
	}
	return true, nil
}

var stdinReader = bufio.NewReader(os.Stdin)

func readAnswer(prompt string) (string, error) {
	fmt.Print(prompt)
	line, err := stdinReader.ReadString('\n')
	if err != nil && line == "" {
		return "", fmt.Errorf("failed to read answer: %w", err)
	}
	return strings.TrimSpace(line), nil
}
