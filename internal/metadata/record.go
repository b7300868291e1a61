// Package metadata attaches a deployment record to a libvirt domain using
// libvirt's custom XML metadata, so that what kiln deployed travels with the
// domain itself.
package metadata

import (
	"encoding/xml"
	"fmt"
	"time"

	"github.com/digitalocean/go-libvirt"
	"gopkg.in/yaml.v3"
)

const (
	// Namespace is the XML namespace of the kiln metadata element.
	Namespace = "https://github.com/jbweber/kiln/xmlns/deployment/1"

	// Key is the element prefix libvirt uses for Namespace.
	Key = "kiln"
)

// LibvirtClient is the subset of *libvirt.Libvirt used for metadata.
type LibvirtClient interface {
	DomainSetMetadata(dom libvirt.Domain, typ int32, metadata libvirt.OptString, key libvirt.OptString, uri libvirt.OptString, flags libvirt.DomainModificationImpact) error
	DomainGetMetadata(dom libvirt.Domain, typ int32, uri libvirt.OptString, flags libvirt.DomainModificationImpact) (string, error)
}

// Record describes how an instance was deployed.
type Record struct {
	Instance    string    `yaml:"instance"`
	Image       string    `yaml:"image"`
	ImageFormat string    `yaml:"imageFormat"`
	OSVariant   string    `yaml:"osVariant"`
	User        string    `yaml:"user"`
	MAC         string    `yaml:"mac"`
	DiskSize    string    `yaml:"diskSize"`
	CreatedAt   time.Time `yaml:"createdAt"`
}

// element is the XML wrapper. The record is stored as YAML text for easy
// reading when inspecting the domain XML directly.
type element struct {
	XMLName xml.Name `xml:"deployment"`
	Xmlns   string   `xml:"xmlns,attr"`
	Body    string   `xml:",chardata"`
}

// Marshal renders rec as the metadata element.
func (rec *Record) Marshal() (string, error) {
	body, err := yaml.Marshal(rec)
	if err != nil {
		return "", fmt.Errorf("failed to marshal deployment record to YAML: %w", err)
	}
	out, err := xml.Marshal(element{Xmlns: Namespace, Body: "\n" + string(body)})
	if err != nil {
		return "", fmt.Errorf("failed to marshal deployment record to XML: %w", err)
	}
	return string(out), nil
}

// Unmarshal parses a metadata element produced by Marshal.
func Unmarshal(data string) (*Record, error) {
	var el element
	if err := xml.Unmarshal([]byte(data), &el); err != nil {
		return nil, fmt.Errorf("failed to unmarshal metadata XML: %w", err)
	}
	var rec Record
	if err := yaml.Unmarshal([]byte(el.Body), &rec); err != nil {
		return nil, fmt.Errorf("failed to unmarshal deployment record from YAML: %w", err)
	}
	return &rec, nil
}

// Store saves rec in the domain's persistent definition, replacing any
// earlier record.
func Store(l LibvirtClient, domain libvirt.Domain, rec *Record) error {
	if rec == nil {
		return fmt.Errorf("deployment record cannot be nil")
	}
	data, err := rec.Marshal()
	if err != nil {
		return err
	}

	err = l.DomainSetMetadata(
		domain,
		int32(libvirt.DomainMetadataElement),
		libvirt.OptString{data},
		libvirt.OptString{Key},
		libvirt.OptString{Namespace},
		libvirt.DomainAffectConfig,
	)
	if err != nil {
		return fmt.Errorf("failed to set libvirt domain metadata: %w", err)
	}
	return nil
}

// Load retrieves the deployment record of a domain.
func Load(l LibvirtClient, domain libvirt.Domain) (*Record, error) {
	data, err := l.DomainGetMetadata(
		domain,
		int32(libvirt.DomainMetadataElement),
		libvirt.OptString{Namespace},
		libvirt.DomainAffectConfig,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get libvirt domain metadata: %w", err)
	}
	return Unmarshal(data)
}
