package output

import (
	"encoding/json"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/jbweber/kiln/internal/config"
	"github.com/jbweber/kiln/internal/image"
)

// createTestImage creates an image descriptor for testing.
func createTestImage(name, format string) image.Descriptor {
	return image.Descriptor{
		Name:      name,
		Path:      "/var/lib/libvirt/images/base/" + name,
		Format:    format,
		OSVariant: image.InferOSVariant(name).Variant,
		SizeBytes: 600 * 1024 * 1024,
		ModTime:   time.Now().Add(-3 * time.Hour),
	}
}

func testDefaultsView(hash config.Secret) DefaultsView {
	d := config.BuiltinDefaults()
	d.PasswordHash = hash
	return NewDefaultsView("/home/alice/.config/kiln/config", d)
}

func TestTableFormatter_FormatImage(t *testing.T) {
	tests := []struct {
		name       string
		img        image.Descriptor
		wantFormat string
	}{
		{
			name:       "resolved image",
			img:        createTestImage("noble-server-cloudimg-amd64.img", "qcow2"),
			wantFormat: "qcow2",
		},
		{
			name:       "format not yet inspected",
			img:        createTestImage("debian-12-generic-amd64.raw", ""),
			wantFormat: "-",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			formatter := &TableFormatter{}
			output, err := formatter.FormatImage(tt.img)
			if err != nil {
				t.Fatalf("FormatImage() error = %v", err)
			}

			if !strings.Contains(output, tt.img.Name) {
				t.Errorf("output missing image name %q: %s", tt.img.Name, output)
			}
			if !strings.Contains(output, tt.wantFormat) {
				t.Errorf("output missing format %q: %s", tt.wantFormat, output)
			}
			if !strings.Contains(output, tt.img.OSVariant) {
				t.Errorf("output missing variant %q: %s", tt.img.OSVariant, output)
			}
			if !strings.Contains(output, "629.1MB") {
				t.Errorf("output missing human size: %s", output)
			}
			if !strings.Contains(output, "3h") {
				t.Errorf("output missing age: %s", output)
			}
		})
	}
}

func TestTableFormatter_FormatImageList(t *testing.T) {
	tests := []struct {
		name       string
		images     []image.Descriptor
		noHeaders  bool
		wantCount  int
		wantHeader bool
	}{
		{
			name:      "empty list",
			images:    []image.Descriptor{},
			wantCount: 0,
		},
		{
			name:       "single image",
			images:     []image.Descriptor{createTestImage("a.img", "raw")},
			wantCount:  1,
			wantHeader: true,
		},
		{
			name: "multiple images",
			images: []image.Descriptor{
				createTestImage("a.img", "raw"),
				createTestImage("b.qcow2", "qcow2"),
				createTestImage("c.raw", ""),
			},
			wantCount:  3,
			wantHeader: true,
		},
		{
			name:       "no headers",
			images:     []image.Descriptor{createTestImage("a.img", "raw")},
			noHeaders:  true,
			wantCount:  1,
			wantHeader: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			formatter := &TableFormatter{NoHeaders: tt.noHeaders}
			output, err := formatter.FormatImageList(tt.images)
			if err != nil {
				t.Fatalf("FormatImageList() error = %v", err)
			}

			if tt.wantCount == 0 {
				if !strings.Contains(output, "No images found") {
					t.Errorf("expected 'No images found' message, got: %s", output)
				}
				return
			}

			hasHeader := strings.Contains(output, "NAME") && strings.Contains(output, "OS VARIANT")
			if tt.wantHeader && !hasHeader {
				t.Errorf("expected header in output, got: %s", output)
			}
			if !tt.wantHeader && hasHeader {
				t.Errorf("expected no header in output, got: %s", output)
			}

			lines := strings.Split(strings.TrimSpace(output), "\n")
			expectedLines := tt.wantCount
			if tt.wantHeader {
				expectedLines++
			}
			if len(lines) != expectedLines {
				t.Errorf("expected %d lines, got %d: %s", expectedLines, len(lines), output)
			}

			// rows are numbered from 1 for selection
			last := lines[len(lines)-1]
			if !strings.HasPrefix(last, strconv.Itoa(tt.wantCount)+" ") {
				t.Errorf("last row should be numbered %d: %q", tt.wantCount, last)
			}
		})
	}
}

func TestTableFormatter_FormatDefaults(t *testing.T) {
	formatter := &TableFormatter{}

	output, err := formatter.FormatDefaults(testDefaultsView("$2a$10$abcdefghijklmnopqrstuv"))
	if err != nil {
		t.Fatalf("FormatDefaults() error = %v", err)
	}
	for _, want := range []string{"SETTING", config.DefaultImagePath, config.DefaultStoragePath, "20G", "2048", "set"} {
		if !strings.Contains(output, want) {
			t.Errorf("output missing %q: %s", want, output)
		}
	}
	if strings.Contains(output, "$2a$") {
		t.Errorf("password hash leaked into output: %s", output)
	}

	output, err = formatter.FormatDefaults(testDefaultsView(""))
	if err != nil {
		t.Fatalf("FormatDefaults() error = %v", err)
	}
	if !strings.Contains(output, "unset") {
		t.Errorf("expected unset password, got: %s", output)
	}
}

func TestYAMLFormatter_FormatImage(t *testing.T) {
	img := createTestImage("noble-server-cloudimg-amd64.img", "qcow2")

	formatter := &YAMLFormatter{}
	output, err := formatter.FormatImage(img)
	if err != nil {
		t.Fatalf("FormatImage() error = %v", err)
	}

	requiredFields := []string{
		"name: noble-server-cloudimg-amd64.img",
		"path: /var/lib/libvirt/images/base/noble-server-cloudimg-amd64.img",
		"format: qcow2",
		"osVariant: ubuntunoble",
		"sizeBytes: 629145600",
		"modTime:",
	}
	for _, field := range requiredFields {
		if !strings.Contains(output, field) {
			t.Errorf("output missing required field %q: %s", field, output)
		}
	}
}

func TestYAMLFormatter_FormatImageList(t *testing.T) {
	tests := []struct {
		name      string
		images    []image.Descriptor
		wantEmpty bool
	}{
		{
			name:      "empty list",
			images:    []image.Descriptor{},
			wantEmpty: true,
		},
		{
			name:   "single image",
			images: []image.Descriptor{createTestImage("a.img", "raw")},
		},
		{
			name: "multiple images",
			images: []image.Descriptor{
				createTestImage("a.img", "raw"),
				createTestImage("b.qcow2", "qcow2"),
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			formatter := &YAMLFormatter{}
			output, err := formatter.FormatImageList(tt.images)
			if err != nil {
				t.Fatalf("FormatImageList() error = %v", err)
			}

			if tt.wantEmpty {
				if output != "" {
					t.Errorf("expected empty output, got: %s", output)
				}
				return
			}

			if len(tt.images) > 1 && !strings.Contains(output, "---") {
				t.Errorf("expected document separator '---' in output")
			}
			for _, img := range tt.images {
				if !strings.Contains(output, img.Name) {
					t.Errorf("output missing image name %q", img.Name)
				}
			}
		})
	}
}

func TestYAMLFormatter_FormatDefaults(t *testing.T) {
	output, err := (&YAMLFormatter{}).FormatDefaults(testDefaultsView("$2a$10$abcdefghijklmnopqrstuv"))
	if err != nil {
		t.Fatalf("FormatDefaults() error = %v", err)
	}
	for _, want := range []string{"ramMiB: 2048", "vcpus: 2", "diskSize: 20G", "password: set"} {
		if !strings.Contains(output, want) {
			t.Errorf("output missing %q: %s", want, output)
		}
	}
}

func TestJSONFormatter_FormatImage(t *testing.T) {
	img := createTestImage("noble-server-cloudimg-amd64.img", "qcow2")

	formatter := &JSONFormatter{}
	output, err := formatter.FormatImage(img)
	if err != nil {
		t.Fatalf("FormatImage() error = %v", err)
	}

	requiredFields := []string{
		`"name": "noble-server-cloudimg-amd64.img"`,
		`"format": "qcow2"`,
		`"osVariant": "ubuntunoble"`,
		`"sizeBytes": 629145600`,
	}
	for _, field := range requiredFields {
		if !strings.Contains(output, field) {
			t.Errorf("output missing required field %q: %s", field, output)
		}
	}
}

func TestJSONFormatter_FormatImageList(t *testing.T) {
	formatter := &JSONFormatter{}

	output, err := formatter.FormatImageList(nil)
	if err != nil {
		t.Fatalf("FormatImageList() error = %v", err)
	}
	if output != "[]\n" {
		t.Errorf("expected %q, got: %q", "[]\n", output)
	}

	images := []image.Descriptor{createTestImage("a.img", "raw"), createTestImage("b.qcow2", "qcow2")}
	output, err = formatter.FormatImageList(images)
	if err != nil {
		t.Fatalf("FormatImageList() error = %v", err)
	}

	var decoded []image.Descriptor
	if err := json.Unmarshal([]byte(output), &decoded); err != nil {
		t.Fatalf("output is not a JSON array: %v\n%s", err, output)
	}
	if len(decoded) != 2 || decoded[0].Name != "a.img" || decoded[1].Format != "qcow2" {
		t.Errorf("decoded = %+v", decoded)
	}
}

func TestJSONFormatter_FormatDefaults(t *testing.T) {
	output, err := (&JSONFormatter{}).FormatDefaults(testDefaultsView(""))
	if err != nil {
		t.Fatalf("FormatDefaults() error = %v", err)
	}
	var view DefaultsView
	if err := json.Unmarshal([]byte(output), &view); err != nil {
		t.Fatalf("output is not JSON: %v", err)
	}
	if view.Password != "unset" || view.RAMMiB != config.DefaultRAMMiB {
		t.Errorf("view = %+v", view)
	}
}

func TestNewFormatter(t *testing.T) {
	tests := []struct {
		name    string
		opts    Options
		wantErr bool
	}{
		{
			name: "table format",
			opts: Options{Format: FormatTable},
		},
		{
			name: "yaml format",
			opts: Options{Format: FormatYAML},
		},
		{
			name: "json format",
			opts: Options{Format: FormatJSON},
		},
		{
			name:    "invalid format",
			opts:    Options{Format: "invalid"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			formatter, err := NewFormatter(tt.opts)
			if (err != nil) != tt.wantErr {
				t.Errorf("NewFormatter() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if !tt.wantErr && formatter == nil {
				t.Error("NewFormatter() returned nil formatter")
			}
		})
	}
}

func TestValidateFormat(t *testing.T) {
	tests := []struct {
		name    string
		format  string
		wantErr bool
	}{
		{
			name:   "valid table",
			format: "table",
		},
		{
			name:   "valid yaml",
			format: "yaml",
		},
		{
			name:   "valid json",
			format: "json",
		},
		{
			name:    "invalid format",
			format:  "xml",
			wantErr: true,
		},
		{
			name:    "empty format",
			format:  "",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateFormat(tt.format)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateFormat() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestFormatAge(t *testing.T) {
	tests := []struct {
		name     string
		duration time.Duration
		want     string
	}{
		{"5 seconds", 5 * time.Second, "5s"},
		{"30 seconds", 30 * time.Second, "30s"},
		{"2 minutes", 2 * time.Minute, "2m"},
		{"90 seconds", 90 * time.Second, "1m"},
		{"2 hours", 2 * time.Hour, "2h"},
		{"90 minutes", 90 * time.Minute, "1h"},
		{"2 days", 48 * time.Hour, "2d"},
		{"2 weeks", 14 * 24 * time.Hour, "2w"},
		{"50 days", 50 * 24 * time.Hour, "7w"},
		{"60 days", 60 * 24 * time.Hour, "60d"}, // >= 8 weeks shows as days
		{"400 days", 400 * 24 * time.Hour, "1y"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := formatAge(tt.duration)
			if got != tt.want {
				t.Errorf("formatAge(%v) = %q, want %q", tt.duration, got, tt.want)
			}
		})
	}
}
