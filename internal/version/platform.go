package version

import (
	"fmt"
	"runtime"
	"strings"
)

// Platform is an OS/architecture pair in Go naming.
type Platform struct {
	OS   string
	Arch string
}

// Current returns the platform of the running binary.
func Current() Platform {
	return Platform{OS: runtime.GOOS, Arch: runtime.GOARCH}
}

// ParsePlatform parses "os/arch".
func ParsePlatform(s string) (Platform, error) {
	goos, goarch, ok := strings.Cut(s, "/")
	if !ok || goos == "" || goarch == "" || strings.Contains(goarch, "/") {
		return Platform{}, fmt.Errorf("invalid platform %q, want os/arch", s)
	}
	return Platform{OS: goos, Arch: goarch}, nil
}

func (p Platform) String() string {
	return p.OS + "/" + p.Arch
}

// defaultAsset returns the release asset name and kind of the official
// ClickHouse build for p.
func (p Platform) defaultAsset(numeric string) (string, Kind, error) {
	switch p.OS {
	case "linux":
		switch p.Arch {
		case "amd64", "arm64":
			return fmt.Sprintf("clickhouse-common-static-%s-%s.tgz", numeric, p.Arch), KindArchive, nil
		}
	case "darwin":
		switch p.Arch {
		case "amd64":
			return "clickhouse-macos", KindBinary, nil
		case "arm64":
			return "clickhouse-macos-aarch64", KindBinary, nil
		}
	}
	return "", 0, fmt.Errorf("%w: no ClickHouse build for %s", ErrUnsupportedPlatform, p)
}

// Supported reports whether official builds exist for p.
func (p Platform) Supported() bool {
	_, _, err := p.defaultAsset("0")
	return err == nil
}
