package version

import (
	"cmp"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"

	utilversion "k8s.io/apimachinery/pkg/util/version"

	"github.com/giantswarm/chenv/internal/sentinel"
)

const (
	// ErrUnresolvableVersion is returned for a spec that is neither a known
	// version nor a URL.
	ErrUnresolvableVersion = sentinel.Error("unresolvable version")

	// ErrUnsupportedPlatform is returned when no build exists for the host.
	ErrUnsupportedPlatform = sentinel.Error("unsupported platform")
)

// Latest selects the highest non-testing version with a build for the host.
// The channel names ChannelStable and ChannelLTS select the highest version
// on that channel the same way.
const Latest = "latest"

// DefaultBaseURL is the ClickHouse release download location.
const DefaultBaseURL = "https://github.com/ClickHouse/ClickHouse/releases/download"

// Kind is how the downloaded artifact is installed.
type Kind int

const (
	// KindArchive is a tar.gz holding the binary.
	KindArchive Kind = iota
	// KindBinary is the executable itself.
	KindBinary
)

func (k Kind) String() string {
	switch k {
	case KindArchive:
		return "archive"
	case KindBinary:
		return "binary"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Descriptor says where to get a version and how to verify and cache it.
type Descriptor struct {
	Version     string
	Channel     string
	URL         string
	ChecksumURL string // sidecar with "<hex>  <file>" lines; used when Checksum is empty
	Checksum    string // hex SHA-512, may be empty
	Platform    Platform
	Kind        Kind
	Key         string // artifact cache key, unique per version and platform
}

// Config configures a Resolver.
type Config struct {
	BaseURL     string   // default DefaultBaseURL
	IndexSource string   // optional YAML index, path or URL
	Loader      Loader   // default FileLoader
	Platform    Platform // default Current()
	Logger      *slog.Logger
}

// Resolver maps specs to descriptors. It is safe for concurrent use.
// "latest" and the channel aliases resolve once per Resolver and then stay
// fixed.
type Resolver struct {
	baseURL     string
	indexSource string
	load        Loader
	platform    Platform
	log         *slog.Logger

	indexMu sync.Mutex
	entries []Entry // nil until loaded

	pickMu sync.Mutex
	picked map[string]Descriptor // memoised "latest" and channel aliases
}

// NewResolver creates a Resolver. Nothing is loaded until first use.
func NewResolver(cfg Config) *Resolver {
	r := &Resolver{
		baseURL:     strings.TrimRight(cmp.Or(cfg.BaseURL, DefaultBaseURL), "/"),
		indexSource: cfg.IndexSource,
		load:        cfg.Loader,
		platform:    cfg.Platform,
		log:         cfg.Logger,
	}
	if r.load == nil {
		r.load = FileLoader
	}
	if r.platform == (Platform{}) {
		r.platform = Current()
	}
	if r.log == nil {
		r.log = slog.Default()
	}
	return r
}

// Platform returns the platform descriptors are built for.
func (r *Resolver) Platform() Platform {
	return r.platform
}

// Resolve returns the descriptor for spec.
func (r *Resolver) Resolve(ctx context.Context, spec string) (Descriptor, error) {
	spec = strings.TrimSpace(spec)
	switch {
	case spec == "":
		spec = Default
	case IsURL(spec):
		return r.fromURL(spec), nil
	case spec == Latest:
		return r.resolveHighest(ctx, spec, func(e Entry) bool { return e.Channel != ChannelTesting })
	case spec == ChannelStable || spec == ChannelLTS:
		return r.resolveHighest(ctx, spec, func(e Entry) bool { return e.Channel == spec })
	}

	entries, err := r.index(ctx)
	if err != nil {
		return Descriptor{}, err
	}
	for _, e := range entries {
		if e.Version == spec || Numeric(e.Version) == spec {
			return r.describe(e)
		}
	}
	return Descriptor{}, fmt.Errorf("%w: %q is not a known version or URL", ErrUnresolvableVersion, spec)
}

// Entries lists every indexed version that has a build for the platform,
// newest first.
func (r *Resolver) Entries(ctx context.Context) ([]Descriptor, error) {
	entries, err := r.index(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]Descriptor, 0, len(entries))
	for _, e := range entries {
		d, err := r.describe(e)
		if err != nil {
			continue
		}
		out = append(out, d)
	}
	slices.SortStableFunc(out, func(a, b Descriptor) int {
		return -compareVersions(a.Version, b.Version)
	})
	return out, nil
}

// resolveHighest returns the highest indexed version accepted by keep that
// has a build for the platform. The answer for alias is fixed on first
// success.
func (r *Resolver) resolveHighest(ctx context.Context, alias string, keep func(Entry) bool) (Descriptor, error) {
	r.pickMu.Lock()
	defer r.pickMu.Unlock()
	if d, ok := r.picked[alias]; ok {
		return d, nil
	}

	entries, err := r.index(ctx)
	if err != nil {
		return Descriptor{}, err
	}
	var (
		best  Descriptor
		found bool
	)
	for _, e := range entries {
		if !keep(e) {
			continue
		}
		d, err := r.describe(e)
		if err != nil {
			continue
		}
		if !found || compareVersions(d.Version, best.Version) > 0 {
			best, found = d, true
		}
	}
	if !found {
		if !r.platform.Supported() {
			return Descriptor{}, fmt.Errorf("%w: no ClickHouse build for %s", ErrUnsupportedPlatform, r.platform)
		}
		return Descriptor{}, fmt.Errorf("%w: no %s version available for %s", ErrUnresolvableVersion, alias, r.platform)
	}

	r.log.Debug("resolved version alias", "alias", alias, "version", best.Version)
	if r.picked == nil {
		r.picked = make(map[string]Descriptor)
	}
	r.picked[alias] = best
	return best, nil
}

// index returns the built-in entries merged with the external index. A
// failed load is not cached.
func (r *Resolver) index(ctx context.Context) ([]Entry, error) {
	r.indexMu.Lock()
	defer r.indexMu.Unlock()
	if r.entries != nil {
		return r.entries, nil
	}

	entries := merge(builtinIndex(), nil)
	if r.indexSource != "" {
		data, err := r.load(ctx, r.indexSource)
		if err == nil {
			// A loader may return a partial document once ctx is done.
			err = ctx.Err()
		}
		if err != nil {
			return nil, fmt.Errorf("load version index %s: %w", r.indexSource, err)
		}
		idx, err := ParseIndex(data)
		if err != nil {
			return nil, fmt.Errorf("load version index %s: %w", r.indexSource, err)
		}
		entries = merge(entries, idx.Versions)
		r.log.Debug("loaded version index", "source", r.indexSource, "versions", len(idx.Versions))
	}
	r.entries = entries
	return entries, nil
}

func (r *Resolver) describe(e Entry) (Descriptor, error) {
	d := Descriptor{
		Version:  e.Version,
		Channel:  e.Channel,
		Platform: r.platform,
		Key:      e.Version + "-" + r.platform.OS + "-" + r.platform.Arch,
	}

	if a, ok := e.Assets[r.platform.String()]; ok {
		d.URL = a.URL
		d.Checksum = strings.ToLower(a.SHA512)
		d.Kind = kindFromURL(a.URL)
	} else {
		asset, kind, err := r.platform.defaultAsset(Numeric(e.Version))
		if err != nil {
			return Descriptor{}, err
		}
		d.URL = r.baseURL + "/v" + e.Version + "/" + asset
		d.Kind = kind
	}
	if d.Checksum == "" {
		d.ChecksumURL = d.URL + ".sha512"
	}
	return d, nil
}

// fromURL describes an explicit download URL. Nothing is known about its
// checksum.
func (r *Resolver) fromURL(url string) Descriptor {
	sum := sha256.Sum256([]byte(url))
	return Descriptor{
		Version:  url,
		URL:      url,
		Platform: r.platform,
		Kind:     kindFromURL(url),
		Key:      "url-" + hex.EncodeToString(sum[:])[:16] + "-" + r.platform.OS + "-" + r.platform.Arch,
	}
}

func kindFromURL(url string) Kind {
	path, _, _ := strings.Cut(url, "?")
	if strings.HasSuffix(path, ".tgz") || strings.HasSuffix(path, ".tar.gz") {
		return KindArchive
	}
	return KindBinary
}

// compareVersions orders by dotted numeric value. Unparsable versions sort
// before parsable ones and among themselves lexically.
func compareVersions(a, b string) int {
	va, errA := utilversion.ParseGeneric(Numeric(a))
	vb, errB := utilversion.ParseGeneric(Numeric(b))
	switch {
	case errA != nil && errB != nil:
		return strings.Compare(a, b)
	case errA != nil:
		return -1
	case errB != nil:
		return 1
	case va.LessThan(vb):
		return -1
	case vb.LessThan(va):
		return 1
	default:
		return 0
	}
}
