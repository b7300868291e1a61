package image

import (
	"path/filepath"
	"regexp"
	"strings"
)

// Rule maps a filename pattern to an OS variant.
type Rule struct {
	Pattern *regexp.Regexp
	// Variant is the libosinfo short ID.
	Variant string
	// OSInfoID is the libosinfo OS identifier recorded in the domain
	// metadata.
	OSInfoID string
}

// GenericVariant is returned when no rule matches.
var GenericVariant = Rule{Variant: "linux2022", OSInfoID: "http://libosinfo.org/linux/2022"}

// Rules is evaluated top to bottom against the lowercased file name and the
// first match wins. Release-specific rules come before distro-only
// fallbacks; within a distro newer releases come first. Entries may be added
// but existing entries must keep their relative order, since the chosen
// variant changes how guests are defined.
var Rules = []Rule{
	{regexp.MustCompile(`noble|ubuntu[-_.]?24\.?04`), "ubuntunoble", "http://ubuntu.com/ubuntu/24.04"},
	{regexp.MustCompile(`jammy|ubuntu[-_.]?22\.?04`), "ubuntujammy", "http://ubuntu.com/ubuntu/22.04"},
	{regexp.MustCompile(`focal|ubuntu[-_.]?20\.?04`), "ubuntufocal", "http://ubuntu.com/ubuntu/20.04"},
	{regexp.MustCompile(`trixie|debian[-_.]?13`), "debian13", "http://debian.org/debian/13"},
	{regexp.MustCompile(`bookworm|debian[-_.]?12`), "debian12", "http://debian.org/debian/12"},
	{regexp.MustCompile(`bullseye|debian[-_.]?11`), "debian11", "http://debian.org/debian/11"},
	{regexp.MustCompile(`fedora.*[-_.]42[-_.]`), "fedora42", "http://fedoraproject.org/fedora/42"},
	{regexp.MustCompile(`fedora.*[-_.]41[-_.]`), "fedora41", "http://fedoraproject.org/fedora/41"},
	{regexp.MustCompile(`fedora.*[-_.]40[-_.]`), "fedora40", "http://fedoraproject.org/fedora/40"},
	{regexp.MustCompile(`centos[-_.]?stream[-_.]?10|cs10`), "centos-stream10", "http://centos.org/centos-stream/10"},
	{regexp.MustCompile(`centos[-_.]?stream[-_.]?9|cs9`), "centos-stream9", "http://centos.org/centos-stream/9"},
	{regexp.MustCompile(`alma(linux)?[-_.]?9`), "almalinux9", "http://almalinux.org/almalinux/9"},
	{regexp.MustCompile(`rocky(linux)?[-_.]?9`), "rocky9", "http://rockylinux.org/rocky/9"},
	{regexp.MustCompile(`rhel[-_.]?9`), "rhel9.0", "http://redhat.com/rhel/9.0"},
	{regexp.MustCompile(`alpine`), "alpinelinux3.21", "http://alpinelinux.org/alpinelinux/3.21"},
	{regexp.MustCompile(`opensuse|leap`), "opensuse15.6", "http://opensuse.org/opensuse/15.6"},
	{regexp.MustCompile(`archlinux|^arch[-_.]`), "archlinux", "http://archlinux.org/archlinux/rolling"},
	// distro-only fallbacks
	{regexp.MustCompile(`ubuntu`), "ubuntunoble", "http://ubuntu.com/ubuntu/24.04"},
	{regexp.MustCompile(`debian`), "debian12", "http://debian.org/debian/12"},
	{regexp.MustCompile(`fedora`), "fedora-unknown", "http://fedoraproject.org/fedora/unknown"},
	{regexp.MustCompile(`centos`), "centos-stream9", "http://centos.org/centos-stream/9"},
	{regexp.MustCompile(`alma`), "almalinux9", "http://almalinux.org/almalinux/9"},
	{regexp.MustCompile(`rocky`), "rocky9", "http://rockylinux.org/rocky/9"},
}

// InferOSVariant returns the first rule matching the base name of filename,
// or GenericVariant.
func InferOSVariant(filename string) Rule {
	name := strings.ToLower(filepath.Base(filename))
	for _, r := range Rules {
		if r.Pattern.MatchString(name) {
			return r
		}
	}
	return GenericVariant
}

// LookupVariant returns the rule for an explicit variant short ID.
func LookupVariant(variant string) (Rule, bool) {
	if variant == GenericVariant.Variant {
		return GenericVariant, true
	}
	for _, r := range Rules {
		if r.Variant == variant {
			return r, true
		}
	}
	return Rule{}, false
}

// KnownVariants lists every variant short ID, without duplicates, in rule
// order.
func KnownVariants() []string {
	seen := map[string]bool{}
	var out []string
	for _, r := range append(append([]Rule(nil), Rules...), GenericVariant) {
		if !seen[r.Variant] {
			seen[r.Variant] = true
			out = append(out, r.Variant)
		}
	}
	return out
}
