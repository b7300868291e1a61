package cloudinit

import (
	"bytes"
	"fmt"

	"github.com/kdomanski/iso9660"

	"github.com/jbweber/kiln/internal/config"
)

// VolumeID is the label the NoCloud datasource looks for.
const VolumeID = "CIDATA"

// GenerateISO creates a NoCloud seed image for spec.
//
// The image holds user-data and meta-data in its root directory and is
// labelled CIDATA. It is returned as bytes for the caller to place.
func GenerateISO(spec *config.VMSpec, instanceID string) ([]byte, error) {
	if spec == nil {
		return nil, fmt.Errorf("VM spec cannot be nil")
	}

	userData, err := GenerateUserData(spec)
	if err != nil {
		return nil, fmt.Errorf("failed to generate user-data: %w", err)
	}
	metaData, err := GenerateMetaData(spec, instanceID)
	if err != nil {
		return nil, fmt.Errorf("failed to generate meta-data: %w", err)
	}

	writer, err := iso9660.NewWriter()
	if err != nil {
		return nil, fmt.Errorf("failed to create ISO writer: %w", err)
	}
	defer func() { _ = writer.Cleanup() }()

	for _, f := range []struct{ name, content string }{
		{"user-data", userData},
		{"meta-data", metaData},
	} {
		if err := writer.AddFile(bytes.NewReader([]byte(f.content)), f.name); err != nil {
			return nil, fmt.Errorf("failed to add %s: %w", f.name, err)
		}
	}

	var buf bytes.Buffer
	if err := writer.WriteTo(&buf, VolumeID); err != nil {
		return nil, fmt.Errorf("failed to write ISO image: %w", err)
	}
	return buf.Bytes(), nil
}
