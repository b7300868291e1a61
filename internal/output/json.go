package output

import (
	"encoding/json"
	"fmt"

	"github.com/jbweber/kiln/internal/image"
)

// JSONFormatter formats resources as JSON.
type JSONFormatter struct{}

// FormatImage formats a single image as JSON.
func (f *JSONFormatter) FormatImage(img image.Descriptor) (string, error) {
	return marshalJSON(img, "image")
}

// FormatImageList formats a list of images as a JSON array.
func (f *JSONFormatter) FormatImageList(images []image.Descriptor) (string, error) {
	if len(images) == 0 {
		return "[]\n", nil
	}
	return marshalJSON(images, "images")
}

// FormatDefaults formats the defaults as a JSON object.
func (f *JSONFormatter) FormatDefaults(view DefaultsView) (string, error) {
	return marshalJSON(view, "defaults")
}

func marshalJSON(v any, what string) (string, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal %s to JSON: %w", what, err)
	}
	return string(data) + "\n", nil
}
