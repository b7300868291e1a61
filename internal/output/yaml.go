package output

import (
	"bytes"
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/jbweber/kiln/internal/image"
)

// YAMLFormatter formats resources as YAML.
type YAMLFormatter struct{}

// FormatImage formats a single image as YAML.
func (f *YAMLFormatter) FormatImage(img image.Descriptor) (string, error) {
	data, err := yaml.Marshal(img)
	if err != nil {
		return "", fmt.Errorf("failed to marshal image %s to YAML: %w", img.Name, err)
	}
	return string(data), nil
}

// FormatImageList formats a list of images as a YAML stream, one document
// per image.
func (f *YAMLFormatter) FormatImageList(images []image.Descriptor) (string, error) {
	if len(images) == 0 {
		return "", nil
	}

	var buf bytes.Buffer
	for i, img := range images {
		data, err := yaml.Marshal(img)
		if err != nil {
			return "", fmt.Errorf("failed to marshal image %s to YAML: %w", img.Name, err)
		}

		// Add document separator between images (but not before the first one)
		if i > 0 {
			buf.WriteString("---\n")
		}
		buf.Write(data)
	}
	return buf.String(), nil
}

// FormatDefaults formats the defaults as YAML.
func (f *YAMLFormatter) FormatDefaults(view DefaultsView) (string, error) {
	data, err := yaml.Marshal(view)
	if err != nil {
		return "", fmt.Errorf("failed to marshal defaults to YAML: %w", err)
	}
	return string(data), nil
}
