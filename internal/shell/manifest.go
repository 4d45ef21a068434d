package shell

import (
	"fmt"
	"net/url"
	"path"
	"strings"

	"github.com/BurntSushi/toml"
)

// Manifest describes one generation of the app shell.
type Manifest struct {
	// Name is the cache family, e.g. "cdlta-tracker".
	Name string `toml:"name"`

	// Generation is bumped whenever the asset set changes. Activating a
	// generation deletes every other one.
	Generation int `toml:"generation"`

	// Origin is the base URL assets are fetched from.
	Origin string `toml:"origin"`

	// Assets are the paths precached on install.
	Assets []string `toml:"assets"`

	// APIHosts are host patterns whose requests bypass the asset cache.
	// A pattern is an exact host, a parent domain, or a path.Match glob.
	APIHosts []string `toml:"api_hosts"`
}

// DefaultManifest returns the stock app shell.
func DefaultManifest(origin string) *Manifest {
	return &Manifest{
		Name:       "cdlta-tracker",
		Generation: 1,
		Origin:     origin,
		Assets: []string{
			"/",
			"/index.html",
			"/app.js",
			"/idb.js",
			"/manifest.webmanifest",
			"/html5-qrcode.min.js",
		},
		APIHosts: []string{"script.google.com"},
	}
}

// LoadManifest reads a TOML manifest file.
func LoadManifest(file string) (*Manifest, error) {
	var m Manifest
	if _, err := toml.DecodeFile(file, &m); err != nil {
		return nil, fmt.Errorf("failed to read manifest %s: %w", file, err)
	}
	if err := m.Validate(); err != nil {
		return nil, fmt.Errorf("invalid manifest %s: %w", file, err)
	}
	return &m, nil
}

// ParseManifest decodes a TOML manifest.
func ParseManifest(data string) (*Manifest, error) {
	var m Manifest
	if _, err := toml.Decode(data, &m); err != nil {
		return nil, fmt.Errorf("failed to parse manifest: %w", err)
	}
	if err := m.Validate(); err != nil {
		return nil, fmt.Errorf("invalid manifest: %w", err)
	}
	return &m, nil
}

// Validate checks the manifest and normalizes asset paths.
func (m *Manifest) Validate() error {
	if strings.TrimSpace(m.Name) == "" {
		return fmt.Errorf("name is required")
	}
	if m.Generation < 1 {
		return fmt.Errorf("generation must be at least 1")
	}
	u, err := url.Parse(m.Origin)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("origin %q must be an absolute URL", m.Origin)
	}
	for i, a := range m.Assets {
		m.Assets[i] = CacheKey(a)
	}
	return nil
}

// CacheName is the cache identifier for this generation.
func (m *Manifest) CacheName() string {
	return fmt.Sprintf("%s-v%d", m.Name, m.Generation)
}

// AssetURL is the origin URL for an asset path.
func (m *Manifest) AssetURL(key string) string {
	return strings.TrimRight(m.Origin, "/") + key
}

// IsAPIHost reports whether host matches one of the API patterns.
func (m *Manifest) IsAPIHost(host string) bool {
	host = strings.ToLower(host)
	if h, _, ok := strings.Cut(host, ":"); ok {
		host = h
	}
	for _, p := range m.APIHosts {
		p = strings.ToLower(strings.TrimSpace(p))
		if p == "" {
			continue
		}
		if strings.ContainsAny(p, "*?[") {
			if ok, _ := path.Match(p, host); ok {
				return true
			}
			continue
		}
		if host == p || strings.HasSuffix(host, "."+p) {
			return true
		}
	}
	return false
}

// CacheKey normalizes a request path into the key entries are stored under.
// The query string is kept; fragments never reach the server.
func CacheKey(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	p := u.EscapedPath()
	if p == "" || !strings.HasPrefix(p, "/") {
		p = "/" + strings.TrimPrefix(p, "./")
	}
	if u.RawQuery != "" {
		p += "?" + u.RawQuery
	}
	return p
}
