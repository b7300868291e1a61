// Package image finds base images on disk, fetches new ones, and works out
// their on-disk format and guest OS.
//
// A Descriptor is only complete once Resolve has filled in its format from
// qemu-img; List alone is cheap and does no external calls.
package image

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/jbweber/kiln/internal/errdefs"
)

// Extensions are the file extensions recognized as disk images.
var Extensions = []string{".img", ".qcow2", ".raw"}

// ErrNoImages is returned by List when the directory holds no images.
var ErrNoImages = errors.New("no base images found")

// Descriptor identifies a base image.
type Descriptor struct {
	Name      string    `json:"name" yaml:"name"`
	Path      string    `json:"path" yaml:"path"`
	Format    string    `json:"format,omitempty" yaml:"format,omitempty"`
	OSVariant string    `json:"osVariant" yaml:"osVariant"`
	SizeBytes int64     `json:"sizeBytes" yaml:"sizeBytes"`
	ModTime   time.Time `json:"modTime" yaml:"modTime"`
}

// NoImagesError carries the directory that was searched. It matches
// ErrNoImages with errors.Is.
type NoImagesError struct {
	Dir string
}

func (e *NoImagesError) Error() string {
	return fmt.Sprintf("%s in %s; fetch one with `kiln image pull <%s|URL>`",
		ErrNoImages, e.Dir, strings.Join(CatalogKeys(), "|"))
}

func (e *NoImagesError) Is(target error) bool { return target == ErrNoImages }

// List returns the images in dir sorted by name. An unreadable or missing
// directory is a configuration error; an empty one returns a NoImagesError.
func List(dir string) ([]Descriptor, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, errdefs.WrapConfiguration(err, "image directory %s does not exist", dir)
		}
		return nil, errdefs.WrapConfiguration(err, "cannot read image directory %s", dir)
	}

	var images []Descriptor
	for _, entry := range entries {
		if !entry.Type().IsRegular() || !hasImageExtension(entry.Name()) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		images = append(images, Descriptor{
			Name:      entry.Name(),
			Path:      filepath.Join(dir, entry.Name()),
			OSVariant: InferOSVariant(entry.Name()).Variant,
			SizeBytes: info.Size(),
			ModTime:   info.ModTime(),
		})
	}

	if len(images) == 0 {
		return nil, &NoImagesError{Dir: dir}
	}

	sort.Slice(images, func(i, j int) bool { return images[i].Name < images[j].Name })
	return images, nil
}

// Select picks an image by 1-based index or exact file name. An empty
// choice is accepted only when there is exactly one image.
func Select(images []Descriptor, choice string) (Descriptor, error) {
	choice = strings.TrimSpace(choice)
	if choice == "" {
		if len(images) == 1 {
			return images[0], nil
		}
		return Descriptor{}, errdefs.Configuration("%d images available; choose one by number or name", len(images))
	}

	if n, err := strconv.Atoi(choice); err == nil {
		if n < 1 || n > len(images) {
			return Descriptor{}, errdefs.Configuration("image selection %d out of range 1-%d", n, len(images))
		}
		return images[n-1], nil
	}

	for _, img := range images {
		if img.Name == choice {
			return img, nil
		}
	}
	return Descriptor{}, errdefs.Configuration("no image named %q", choice)
}

func hasImageExtension(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	for _, e := range Extensions {
		if ext == e {
			return true
		}
	}
	return false
}
