package output

import (
	"bytes"
	"fmt"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/docker/go-units"

	"github.com/jbweber/kiln/internal/image"
)

// TableFormatter formats resources as human-readable tables.
type TableFormatter struct {
	// NoHeaders omits the header row.
	NoHeaders bool
}

// FormatImage formats a single image as a table row.
func (f *TableFormatter) FormatImage(img image.Descriptor) (string, error) {
	return f.FormatImageList([]image.Descriptor{img})
}

// FormatImageList formats a list of images as a numbered table. The numbers
// are the ones accepted by `kiln deploy --image`.
func (f *TableFormatter) FormatImageList(images []image.Descriptor) (string, error) {
	if len(images) == 0 {
		return "No images found\n", nil
	}

	var buf bytes.Buffer
	w := tabwriter.NewWriter(&buf, 0, 0, 2, ' ', 0)

	if !f.NoHeaders {
		_, _ = fmt.Fprintln(w, "#\tNAME\tFORMAT\tOS VARIANT\tSIZE\tAGE")
	}

	for i, img := range images {
		format := img.Format
		if format == "" {
			format = "-"
		}

		age := "-"
		if !img.ModTime.IsZero() {
			age = formatAge(time.Since(img.ModTime))
		}

		_, _ = fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\n",
			i+1, img.Name, format, img.OSVariant, units.HumanSize(float64(img.SizeBytes)), age)
	}

	_ = w.Flush()
	return buf.String(), nil
}

// FormatDefaults formats the defaults as a two-column table.
func (f *TableFormatter) FormatDefaults(view DefaultsView) (string, error) {
	var buf bytes.Buffer
	w := tabwriter.NewWriter(&buf, 0, 0, 2, ' ', 0)

	if !f.NoHeaders {
		_, _ = fmt.Fprintln(w, "SETTING\tVALUE")
	}
	rows := [][2]string{
		{"config file", view.ConfigPath},
		{"image path", view.ImagePath},
		{"storage path", view.StoragePath},
		{"disk size", view.DiskSize},
		{"ram (MiB)", strconv.Itoa(view.RAMMiB)},
		{"vcpus", strconv.Itoa(view.VCPUs)},
		{"password", view.Password},
	}
	for _, row := range rows {
		_, _ = fmt.Fprintf(w, "%s\t%s\n", row[0], row[1])
	}

	_ = w.Flush()
	return buf.String(), nil
}

// formatAge formats a duration as a human-readable age string.
// Examples: "5s", "2m", "3h", "4d", "2w", "1y"
func formatAge(d time.Duration) string {
	if d < 0 {
		return "unknown"
	}

	seconds := int(d.Seconds())

	// Less than 1 minute
	if seconds < 60 {
		return fmt.Sprintf("%ds", seconds)
	}

	minutes := seconds / 60
	// Less than 1 hour
	if minutes < 60 {
		return fmt.Sprintf("%dm", minutes)
	}

	hours := minutes / 60
	// Less than 1 day
	if hours < 24 {
		return fmt.Sprintf("%dh", hours)
	}

	days := hours / 24
	// Less than 1 week
	if days < 7 {
		return fmt.Sprintf("%dd", days)
	}

	weeks := days / 7
	// Less than ~2 months (8 weeks)
	if weeks < 8 {
		return fmt.Sprintf("%dw", weeks)
	}

	// More than 2 months, show in approximate years/days
	years := days / 365
	if years > 0 {
		return fmt.Sprintf("%dy", years)
	}

	return fmt.Sprintf("%dd", days)
}
