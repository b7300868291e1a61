package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jbweber/kiln/internal/image"
	"github.com/jbweber/kiln/internal/output"
	"github.com/jbweber/kiln/internal/privilege"
)

var (
	imageOutput     string
	imageInfoOutput string
	imageDir        string
	imageForce      bool
	imageOSVar      string
)

// Image management commands
var imageCmd = &cobra.Command{
	Use:   "image",
	Short: "Manage base images",
	Long:  `List, inspect and download the base images instances are created from.`,
}

func init() {
	imageCmd.PersistentFlags().StringVar(&imageDir, "image-path", "", "base image directory (default from config)")

	imageListCmd.Flags().StringVarP(&imageOutput, "output", "o", "table", "output format (table, yaml, json)")
	imageInfoCmd.Flags().StringVarP(&imageInfoOutput, "output", "o", "yaml", "output format (table, yaml, json)")
	imageInfoCmd.Flags().StringVar(&imageOSVar, "os-variant", "", "OS variant to assume instead of the inferred one")
	imagePullCmd.Flags().BoolVar(&imageForce, "force", false, "replace an existing image of the same name")

	imageCmd.AddCommand(imageListCmd)
	imageCmd.AddCommand(imageInfoCmd)
	imageCmd.AddCommand(imagePullCmd)
	imageCmd.AddCommand(imageCatalogCmd)
}

var imageListCmd = &cobra.Command{
	Use:   "list",
	Short: "List base images",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		dir, err := resolveImageDir()
		if err != nil {
			return err
		}
		images, err := image.List(dir)
		if err != nil {
			if !errors.Is(err, image.ErrNoImages) {
				return err
			}
			images = nil
		}
		// format from the header bytes; qemu-img is only needed for info
		for i := range images {
			if format, err := image.Sniff(images[i].Path); err == nil {
				images[i].Format = format
			}
		}
		return printImages(images)
	},
}

var imageInfoCmd = &cobra.Command{
	Use:   "info <name|number>",
	Short: "Show a base image's format and OS variant",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		dir, err := resolveImageDir()
		if err != nil {
			return err
		}
		images, err := image.List(dir)
		if err != nil {
			return err
		}
		d, err := image.Select(images, args[0])
		if err != nil {
			return err
		}

		executor, err := imageExecutor(dir)
		if err != nil {
			return err
		}
		resolved, _, err := image.NewInspector(executor, logger).Resolve(commandContext(cmd), d, imageOSVar)
		if err != nil {
			return err
		}

		formatter, err := output.NewFormatter(output.Options{Format: output.Format(imageInfoOutput)})
		if err != nil {
			return err
		}
		out, err := formatter.FormatImage(resolved)
		if err != nil {
			return err
		}
		fmt.Print(out)
		return nil
	},
}

var imagePullCmd = &cobra.Command{
	Use:   "pull <key|URL>",
	Short: "Download a base image",
	Long: `Download a base image into the image directory.

The source is either a catalog key (see "kiln image catalog") or an http(s)
URL ending in .img, .qcow2 or .raw.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		dir, err := resolveImageDir()
		if err != nil {
			return err
		}
		executor, err := imageExecutor(dir)
		if err != nil {
			return err
		}

		fetcher := image.NewFetcher(executor, logger)
		fetcher.Force = imageForce
		if isInteractive() {
			fetcher.Progress = cmd.ErrOrStderr()
		}
		d, err := fetcher.Pull(commandContext(cmd), args[0], dir)
		if err != nil {
			return err
		}
		fmt.Printf("✓ Image %s installed (%s)\n", d.Name, d.OSVariant)
		return nil
	},
}

var imageCatalogCmd = &cobra.Command{
	Use:   "catalog",
	Short: "List the images pull knows by key",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		for _, e := range image.Catalog {
			fmt.Printf("%-16s %s\n", e.Key, e.Name)
		}
		return nil
	},
}

// resolveImageDir returns --image-path or the configured image directory.
func resolveImageDir() (string, error) {
	if imageDir != "" {
		return imageDir, nil
	}
	store, err := openStore()
	if err != nil {
		return "", err
	}
	d, err := readDefaults(store)
	if err != nil {
		return "", err
	}
	return d.ImagePath, nil
}

// imageExecutor returns a runner with whatever privilege dir needs.
func imageExecutor(dir string) (*privilege.Executor, error) {
	host, err := privilege.CurrentHost()
	if err != nil {
		return nil, err
	}
	executor, err := privilege.Resolve(host, dir)
	if err != nil {
		return nil, err
	}
	return executor.WithLogger(logger), nil
}

func printImages(images []image.Descriptor) error {
	formatter, err := output.NewFormatter(output.Options{Format: output.Format(imageOutput)})
	if err != nil {
		return err
	}
	out, err := formatter.FormatImageList(images)
	if err != nil {
		return err
	}
	fmt.Print(out)
	return nil
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
