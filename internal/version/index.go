package version

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Channels carried in ClickHouse version suffixes.
const (
	ChannelStable  = "stable"
	ChannelLTS     = "lts"
	ChannelTesting = "testing"
)

// Asset overrides the download location of one platform build.
type Asset struct {
	URL    string `yaml:"url"`
	SHA512 string `yaml:"sha512,omitempty"`
}

// Entry is one version in the index.
type Entry struct {
	Version string `yaml:"version"`
	Channel string `yaml:"channel,omitempty"`
	// Assets is keyed by "os/arch".
	Assets map[string]Asset `yaml:"assets,omitempty"`
}

// Index is the YAML document accepted as an external index:
//
//	versions:
//	  - version: 25.8.16.34-lts
//	    assets:
//	      linux/amd64:
//	        url: https://mirror.example/clickhouse-common-static-25.8.16.34-amd64.tgz
//	        sha512: 3f1c...
type Index struct {
	Versions []Entry `yaml:"versions"`
}

// Built-in versions, newest first.
const (
	V26_1 = "26.1.3.52-stable"
	V25_8 = "25.8.16.34-lts"
	V25_3 = "25.3.14.14-lts"

	// Default is used for an empty spec.
	Default = V25_8
)

func builtinIndex() []Entry {
	return []Entry{
		{Version: V26_1, Channel: ChannelStable},
		{Version: V25_8, Channel: ChannelLTS},
		{Version: V25_3, Channel: ChannelLTS},
	}
}

// Numeric strips the channel suffix: "25.8.16.34-lts" -> "25.8.16.34".
func Numeric(v string) string {
	numeric, _, _ := strings.Cut(v, "-")
	return numeric
}

// Channel returns the channel suffix of v, or "" when there is none.
func Channel(v string) string {
	_, ch, _ := strings.Cut(v, "-")
	return ch
}

// ParseIndex decodes and validates a YAML index.
func ParseIndex(data []byte) (Index, error) {
	var idx Index
	if err := yaml.Unmarshal(data, &idx); err != nil {
		return Index{}, fmt.Errorf("decode index: %w", err)
	}

	var errs []error
	for i, e := range idx.Versions {
		if e.Version == "" {
			errs = append(errs, fmt.Errorf("versions[%d]: version must not be empty", i))
			continue
		}
		for plat, a := range e.Assets {
			if _, err := ParsePlatform(plat); err != nil {
				errs = append(errs, fmt.Errorf("versions[%d] (%s): %w", i, e.Version, err))
			}
			if a.URL == "" {
				errs = append(errs, fmt.Errorf("versions[%d] (%s): asset %s: url must not be empty", i, e.Version, plat))
			}
		}
	}
	if err := errors.Join(errs...); err != nil {
		return Index{}, fmt.Errorf("invalid index: %w", err)
	}
	return idx, nil
}

// merge overlays extra on base. Entries with the same version replace the
// channel when set and add or replace assets per platform.
func merge(base []Entry, extra []Entry) []Entry {
	out := make([]Entry, 0, len(base)+len(extra))
	pos := make(map[string]int, len(base)+len(extra))
	for _, e := range base {
		pos[e.Version] = len(out)
		out = append(out, cloneEntry(e))
	}
	for _, e := range extra {
		i, ok := pos[e.Version]
		if !ok {
			pos[e.Version] = len(out)
			out = append(out, cloneEntry(e))
			continue
		}
		if e.Channel != "" {
			out[i].Channel = e.Channel
		}
		for plat, a := range e.Assets {
			if out[i].Assets == nil {
				out[i].Assets = make(map[string]Asset)
			}
			out[i].Assets[plat] = a
		}
	}
	return out
}

func cloneEntry(e Entry) Entry {
	c := e
	c.Assets = maps.Clone(e.Assets)
	if c.Channel == "" {
		c.Channel = Channel(c.Version)
	}
	return c
}

// Loader reads an index source: a local path or an http(s) URL.
type Loader func(ctx context.Context, source string) ([]byte, error)

// FileLoader reads local index files and rejects URLs.
func FileLoader(_ context.Context, source string) ([]byte, error) {
	if IsURL(source) {
		return nil, fmt.Errorf("no HTTP loader configured for index %s", source)
	}
	data, err := os.ReadFile(source) //nolint:gosec // user-provided index path
	if err != nil {
		return nil, fmt.Errorf("read index: %w", err)
	}
	return data, nil
}

// IsURL reports whether s is an http or https URL.
func IsURL(s string) bool {
	return strings.HasPrefix(s, "https://") || strings.HasPrefix(s, "http://")
}
