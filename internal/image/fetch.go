package image

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/schollz/progressbar/v3"

	"github.com/jbweber/kiln/internal/errdefs"
	"github.com/jbweber/kiln/internal/logging"
	"github.com/jbweber/kiln/internal/privilege"
)

// CatalogEntry is a well-known cloud image that can be pulled by key.
type CatalogEntry struct {
	Key  string
	Name string
	URL  string
}

// Filename returns the name the image is stored under.
func (e CatalogEntry) Filename() string {
	return path.Base(e.URL)
}

// Catalog lists the images `kiln image pull` knows by key.
var Catalog = []CatalogEntry{
	{"ubuntu-24.04", "Ubuntu 24.04 LTS (Noble)", "https://cloud-images.ubuntu.com/noble/current/noble-server-cloudimg-amd64.img"},
	{"ubuntu-22.04", "Ubuntu 22.04 LTS (Jammy)", "https://cloud-images.ubuntu.com/jammy/current/jammy-server-cloudimg-amd64.img"},
	{"debian-12", "Debian 12 (Bookworm)", "https://cloud.debian.org/images/cloud/bookworm/latest/debian-12-generic-amd64.qcow2"},
	{"debian-11", "Debian 11 (Bullseye)", "https://cloud.debian.org/images/cloud/bullseye/latest/debian-11-generic-amd64.qcow2"},
	{"fedora-41", "Fedora 41 Cloud", "https://download.fedoraproject.org/pub/fedora/linux/releases/41/Cloud/x86_64/images/Fedora-Cloud-Base-Generic-41-1.4.x86_64.qcow2"},
	{"almalinux-9", "AlmaLinux 9", "https://repo.almalinux.org/almalinux/9/cloud/x86_64/images/AlmaLinux-9-GenericCloud-latest.x86_64.qcow2"},
	{"rocky-9", "Rocky Linux 9", "https://dl.rockylinux.org/pub/rocky/9/images/x86_64/Rocky-9-GenericCloud-Base.latest.x86_64.qcow2"},
	{"centos-stream-9", "CentOS Stream 9", "https://cloud.centos.org/centos/9-stream/x86_64/images/CentOS-Stream-GenericCloud-9-latest.x86_64.qcow2"},
	{"alpine-3.21", "Alpine Linux 3.21", "https://dl-cdn.alpinelinux.org/alpine/v3.21/releases/cloud/nocloud_alpine-3.21.2-x86_64-bios-cloudinit-r0.qcow2"},
}

// CatalogKeys returns the keys of Catalog in order.
func CatalogKeys() []string {
	keys := make([]string, 0, len(Catalog))
	for _, e := range Catalog {
		keys = append(keys, e.Key)
	}
	return keys
}

// LookupCatalog returns the catalog entry for key.
func LookupCatalog(key string) (CatalogEntry, bool) {
	for _, e := range Catalog {
		if e.Key == key {
			return e, true
		}
	}
	return CatalogEntry{}, false
}

// ResolveSource turns a catalog key or an http(s) URL into a catalog entry.
func ResolveSource(source string) (CatalogEntry, error) {
	if e, ok := LookupCatalog(source); ok {
		return e, nil
	}
	u, err := url.Parse(source)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return CatalogEntry{}, errdefs.Configuration("%q is neither a catalog key (%v) nor an http(s) URL", source, CatalogKeys())
	}
	e := CatalogEntry{Key: source, Name: source, URL: source}
	name := e.Filename()
	if name == "" || name == "/" || name == "." || !hasImageExtension(name) {
		return CatalogEntry{}, errdefs.Configuration("cannot derive an image file name ending in %v from %s", Extensions, source)
	}
	return e, nil
}

// Fetcher downloads images into an image directory.
type Fetcher struct {
	// Client defaults to a client with no overall timeout, since images are
	// large.
	Client *http.Client
	// Run installs the finished download; it carries any privilege the
	// image directory needs.
	Run privilege.Runner
	// Progress receives the progress bar; nil disables it.
	Progress io.Writer
	// Force replaces an existing image of the same name.
	Force bool

	logger *slog.Logger
}

// NewFetcher returns a fetcher that installs images through run.
func NewFetcher(run privilege.Runner, logger *slog.Logger) *Fetcher {
	return &Fetcher{Client: &http.Client{}, Run: run, logger: logging.Ensure(logger)}
}

// Pull downloads source, a catalog key or URL, into dir and returns the
// installed image. The download lands in a temporary file first so that a
// partial transfer never appears in dir.
func (f *Fetcher) Pull(ctx context.Context, source, dir string) (Descriptor, error) {
	entry, err := ResolveSource(source)
	if err != nil {
		return Descriptor{}, err
	}
	dst := filepath.Join(dir, entry.Filename())

	if _, err := os.Stat(dst); err == nil && !f.Force {
		return Descriptor{}, &errdefs.ResourceConflictError{Kind: "image", Name: dst}
	} else if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Descriptor{}, fmt.Errorf("failed to stat %s: %w", dst, err)
	}

	tmp, err := os.CreateTemp("", "kiln-pull-*")
	if err != nil {
		return Descriptor{}, fmt.Errorf("failed to create temporary file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	f.logger.Info("downloading image", "source", entry.URL, "dest", dst)
	sum, size, err := f.download(ctx, entry, tmp)
	if cerr := tmp.Close(); err == nil && cerr != nil {
		err = fmt.Errorf("failed to close %s: %w", tmpName, cerr)
	}
	if err != nil {
		return Descriptor{}, err
	}
	f.logger.Info("download complete", "bytes", size, "sha256", sum)

	if _, err := f.Run.Run(ctx, "install", "-D", "-m", "0644", tmpName, dst); err != nil {
		return Descriptor{}, fmt.Errorf("failed to install image into %s: %w", dir, err)
	}

	info, err := os.Stat(dst)
	if err != nil {
		return Descriptor{}, fmt.Errorf("failed to stat installed image: %w", err)
	}
	return Descriptor{
		Name:      entry.Filename(),
		Path:      dst,
		OSVariant: InferOSVariant(dst).Variant,
		SizeBytes: info.Size(),
		ModTime:   info.ModTime(),
	}, nil
}

func (f *Fetcher) download(ctx context.Context, entry CatalogEntry, out io.Writer) (string, int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, entry.URL, nil)
	if err != nil {
		return "", 0, fmt.Errorf("failed to build request for %s: %w", entry.URL, err)
	}
	client := f.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", 0, fmt.Errorf("failed to download from %s: %w", entry.URL, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return "", 0, fmt.Errorf("download failed with status %d: %s", resp.StatusCode, resp.Status)
	}

	hash := sha256.New()
	writers := []io.Writer{out, hash}
	if f.Progress != nil {
		bar := progressbar.NewOptions64(resp.ContentLength,
			progressbar.OptionSetDescription("Downloading "+entry.Filename()),
			progressbar.OptionSetWriter(f.Progress),
			progressbar.OptionShowBytes(true),
			progressbar.OptionSetWidth(15),
			progressbar.OptionThrottle(65*time.Millisecond),
			progressbar.OptionShowCount(),
			progressbar.OptionSpinnerType(14),
			progressbar.OptionFullWidth(),
			progressbar.OptionOnCompletion(func() { _, _ = fmt.Fprintln(f.Progress) }),
		)
		writers = append(writers, bar)
	}

	n, err := io.Copy(io.MultiWriter(writers...), resp.Body)
	if err != nil {
		return "", n, fmt.Errorf("failed to save image: %w", err)
	}
	if resp.ContentLength > 0 && n != resp.ContentLength {
		return "", n, fmt.Errorf("short download: got %d of %d bytes", n, resp.ContentLength)
	}
	return hex.EncodeToString(hash.Sum(nil)), n, nil
}
