package model

import (
	"fmt"
	"net/url"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// ManifestEntry is one asset eligible for install-time population.
type ManifestEntry struct {
	Path     string `yaml:"path" json:"path"`
	Required bool   `yaml:"required,omitempty" json:"required,omitempty"`
}

// Manifest is the ordered asset list of one generation.
type Manifest []ManifestEntry

// NormalizePath returns the canonical form of an asset path: NFC-normalised,
// with a leading slash. Asset names with accents ("fannée.png") are written
// in either composed or decomposed form depending on the editor; both must
// resolve to the same request URL.
func NormalizePath(p string) string {
	p = norm.NFC.String(strings.TrimSpace(p))
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return p
}

// Normalize returns a copy of m with every path normalised.
// Duplicate paths after normalisation are dropped, keeping the first
// occurrence; a duplicate marked required upgrades the kept entry.
func (m Manifest) Normalize() Manifest {
	out := make(Manifest, 0, len(m))
	index := make(map[string]int, len(m))
	for _, e := range m {
		p := NormalizePath(e.Path)
		if i, ok := index[p]; ok {
			out[i].Required = out[i].Required || e.Required
			continue
		}
		index[p] = len(out)
		out = append(out, ManifestEntry{Path: p, Required: e.Required})
	}
	return out
}

// ResolveURL resolves an asset path against the origin.
func ResolveURL(origin *url.URL, p string) *url.URL {
	return origin.ResolveReference(&url.URL{Path: NormalizePath(p)})
}

// ParseOrigin parses and checks an origin URL.
func ParseOrigin(raw string) (*url.URL, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("parse origin: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("parse origin: unsupported scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("parse origin: missing host in %q", raw)
	}
	return u, nil
}
