package image

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/jbweber/kiln/internal/errdefs"
	"github.com/jbweber/kiln/internal/logging"
	"github.com/jbweber/kiln/internal/privilege"
)

// Info is the subset of `qemu-img info --output=json` that kiln uses.
type Info struct {
	Format          string `json:"format"`
	VirtualSize     int64  `json:"virtual-size"`
	ActualSize      int64  `json:"actual-size"`
	BackingFilename string `json:"backing-filename,omitempty"`
}

// Inspector queries image metadata through qemu-img.
type Inspector struct {
	run    privilege.Runner
	logger *slog.Logger
}

// NewInspector returns an inspector that runs qemu-img through run.
func NewInspector(run privilege.Runner, logger *slog.Logger) *Inspector {
	return &Inspector{run: run, logger: logging.Ensure(logger)}
}

// Info returns the metadata qemu-img reports for path.
func (i *Inspector) Info(ctx context.Context, path string) (Info, error) {
	out, err := i.run.Run(ctx, "qemu-img", "info", "--force-share", "--output=json", path)
	if err != nil {
		return Info{}, err
	}

	var info Info
	if err := json.Unmarshal(out, &info); err != nil {
		return Info{}, &errdefs.ExternalToolError{
			Tool:   "qemu-img",
			Args:   []string{"info", path},
			Output: string(out),
			Err:    fmt.Errorf("unparseable output: %w", err),
		}
	}
	if info.Format == "" {
		return Info{}, &errdefs.ExternalToolError{
			Tool:   "qemu-img",
			Args:   []string{"info", path},
			Output: string(out),
			Err:    fmt.Errorf("no format reported"),
		}
	}
	return info, nil
}

// Format returns the on-disk format qemu-img reports for path.
func (i *Inspector) Format(ctx context.Context, path string) (string, error) {
	info, err := i.Info(ctx, path)
	if err != nil {
		return "", err
	}
	return info.Format, nil
}

// Resolve completes d with its format and the OS variant to deploy it as.
// A non-empty override replaces the inferred variant and must be known.
func (i *Inspector) Resolve(ctx context.Context, d Descriptor, override string) (Descriptor, Rule, error) {
	rule := InferOSVariant(d.Name)
	if override != "" {
		r, ok := LookupVariant(override)
		if !ok {
			return Descriptor{}, Rule{}, errdefs.Configuration("unknown OS variant %q (known: %v)", override, KnownVariants())
		}
		rule = r
	}

	format, err := i.Format(ctx, d.Path)
	if err != nil {
		return Descriptor{}, Rule{}, fmt.Errorf("failed to inspect %s: %w", d.Path, err)
	}

	if sniffed, err := Sniff(d.Path); err == nil && sniffed != format {
		i.logger.Warn("image header disagrees with qemu-img", "image", d.Name, "header", sniffed, "qemu_img", format)
	}

	d.Format = format
	d.OSVariant = rule.Variant
	return d, rule, nil
}
