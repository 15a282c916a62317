package artifact

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/giantswarm/chenv/internal/fileutil"
)

// markerFile is the completion marker inside an entry directory.
const markerFile = ".chenv-complete"

// Sources recorded in markers.
const (
	SourceDownload = "download"
	SourceImport   = "import"
)

// Marker describes a committed entry.
type Marker struct {
	Key         string    `yaml:"key"`
	Version     string    `yaml:"version"`
	Platform    string    `yaml:"platform"`
	Source      string    `yaml:"source"`
	URL         string    `yaml:"url,omitempty"`
	SHA512      string    `yaml:"sha512,omitempty"`
	Binary      string    `yaml:"binary"` // relative to the entry directory
	InstalledAt time.Time `yaml:"installed_at"`
}

func readMarker(entryDir string) (Marker, bool, error) {
	data, err := os.ReadFile(filepath.Join(entryDir, markerFile)) //nolint:gosec // path inside the cache
	if os.IsNotExist(err) {
		return Marker{}, false, nil
	}
	if err != nil {
		return Marker{}, false, fmt.Errorf("read marker: %w", err)
	}
	var m Marker
	if err := yaml.Unmarshal(data, &m); err != nil {
		return Marker{}, false, fmt.Errorf("decode marker %s: %w", entryDir, err)
	}
	return m, true, nil
}

func writeMarker(entryDir string, m Marker) error {
	data, err := yaml.Marshal(m)
	if err != nil {
		return fmt.Errorf("encode marker: %w", err)
	}
	return fileutil.WriteFileAtomic(filepath.Join(entryDir, markerFile), data, 0o644)
}
