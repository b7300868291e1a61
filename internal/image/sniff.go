package image

import (
	"bytes"
	"fmt"
	"io"
	"os"
)

// Format names as reported by qemu-img.
const (
	FormatQCOW2 = "qcow2"
	FormatRaw   = "raw"
)

var (
	// qcow2Magic is "QFI" followed by 0xfb at offset 0.
	// Reference: https://www.qemu.org/docs/master/interop/qcow2.html
	qcow2Magic = []byte{0x51, 0x46, 0x49, 0xfb}

	// mbrSignature is the boot sector signature at offset 510. GPT disks
	// carry it too, in their protective MBR.
	mbrSignature = []byte{0x55, 0xaa}
)

// Sniff guesses an image's format from its leading bytes without calling
// qemu-img. It recognizes qcow2 and bootable raw images only, and is used for
// listings and as a cross-check of the format qemu-img reports.
func Sniff(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to open image: %w", err)
	}
	defer func() { _ = f.Close() }()

	header := make([]byte, 512)
	n, err := io.ReadFull(f, header)
	if err != nil && err != io.ErrUnexpectedEOF {
		return "", fmt.Errorf("failed to read image header: %w", err)
	}
	header = header[:n]

	if len(header) >= len(qcow2Magic) && bytes.Equal(header[:len(qcow2Magic)], qcow2Magic) {
		return FormatQCOW2, nil
	}
	if len(header) == 512 && bytes.Equal(header[510:], mbrSignature) {
		return FormatRaw, nil
	}
	return "", fmt.Errorf("unrecognized image: not qcow2 and no boot sector signature at offset 510")
}
