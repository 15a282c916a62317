package server

import (
	"bytes"
	"cmp"
	"encoding/xml"
	"fmt"
	"maps"
	"path/filepath"
	"regexp"
	"slices"
	"strconv"

	"github.com/giantswarm/chenv/internal/fileutil"
	"github.com/giantswarm/chenv/internal/sentinel"
)

const (
	// ErrInvalidSettingKey is returned for keys that are not valid XML
	// element names of the form [a-zA-Z][a-zA-Z0-9_]*.
	ErrInvalidSettingKey = sentinel.Error("invalid setting key")

	// ErrReservedSetting is returned for keys the generated config owns.
	ErrReservedSetting = sentinel.Error("reserved setting key")
)

// ConfigFile is the generated config name inside the data directory.
const ConfigFile = "config.xml"

// DefaultLogLevel is the ClickHouse logger level.
const DefaultLogLevel = "warning"

var validSettingKey = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9_]*$`)

// reservedSettings are top-level elements written by WriteConfig.
var reservedSettings = map[string]bool{
	"logger":                true,
	"listen_host":           true,
	"tcp_port":              true,
	"http_port":             true,
	"interserver_http_port": true,
	"path":                  true,
	"tmp_path":              true,
	"user_files_path":       true,
	"format_schema_path":    true,
	"users":                 true,
	"profiles":              true,
	"quotas":                true,
}

// ValidateSettings checks every key in settings.
func ValidateSettings(settings map[string]string) error {
	for _, k := range slices.Sorted(maps.Keys(settings)) {
		if !validSettingKey.MatchString(k) {
			return fmt.Errorf("%w: %q", ErrInvalidSettingKey, k)
		}
		if reservedSettings[k] {
			return fmt.Errorf("%w: %q is set by chenv", ErrReservedSetting, k)
		}
	}
	return nil
}

// Ports are the listening ports of one server.
type Ports struct {
	TCP         int // native protocol, clients connect here
	HTTP        int
	Interserver int
}

// Slice returns the ports in allocation order.
func (p Ports) Slice() []int {
	return []int{p.TCP, p.HTTP, p.Interserver}
}

// ServerConfig is the content of config.xml.
type ServerConfig struct {
	DataDir  string
	Host     string
	Ports    Ports
	LogLevel string
	Settings map[string]string
}

// WriteConfig creates the working directories under cfg.DataDir and writes
// config.xml. It returns the config path.
func WriteConfig(cfg ServerConfig) (string, error) {
	if err := ValidateSettings(cfg.Settings); err != nil {
		return "", err
	}
	dirs := []string{"data", "tmp", "user_files", "format_schemas", "log"}
	for _, d := range dirs {
		if err := fileutil.EnsureDir(filepath.Join(cfg.DataDir, d)); err != nil {
			return "", err
		}
	}

	path := filepath.Join(cfg.DataDir, ConfigFile)
	if err := fileutil.WriteFileAtomic(path, renderConfig(cfg), 0o644); err != nil {
		return "", fmt.Errorf("write server config: %w", err)
	}
	return path, nil
}

func renderConfig(cfg ServerConfig) []byte {
	var b bytes.Buffer
	dir := func(name string) string {
		return filepath.Join(cfg.DataDir, name) + string(filepath.Separator)
	}
	elem := func(indent, name, value string) {
		b.WriteString(indent + "<" + name + ">")
		_ = xml.EscapeText(&b, []byte(value))
		b.WriteString("</" + name + ">\n")
	}

	b.WriteString("<?xml version=\"1.0\"?>\n<clickhouse>\n")
	b.WriteString("    <logger>\n")
	elem("        ", "level", cmp.Or(cfg.LogLevel, DefaultLogLevel))
	elem("        ", "console", "1")
	elem("        ", "log", filepath.Join(cfg.DataDir, "log", "clickhouse-server.log"))
	elem("        ", "errorlog", filepath.Join(cfg.DataDir, "log", "clickhouse-server.err.log"))
	b.WriteString("    </logger>\n\n")

	elem("    ", "listen_host", cmp.Or(cfg.Host, DefaultHost))
	elem("    ", "tcp_port", strconv.Itoa(cfg.Ports.TCP))
	elem("    ", "http_port", strconv.Itoa(cfg.Ports.HTTP))
	elem("    ", "interserver_http_port", strconv.Itoa(cfg.Ports.Interserver))
	b.WriteString("\n")

	elem("    ", "path", dir("data"))
	elem("    ", "tmp_path", dir("tmp"))
	elem("    ", "user_files_path", dir("user_files"))
	elem("    ", "format_schema_path", dir("format_schemas"))
	b.WriteString("\n")

	b.WriteString(`    <users>
        <default>
            <password></password>
            <networks>
                <ip>::1</ip>
                <ip>127.0.0.1</ip>
            </networks>
            <profile>default</profile>
            <quota>default</quota>
            <access_management>1</access_management>
        </default>
    </users>

    <profiles>
        <default/>
    </profiles>

    <quotas>
        <default/>
    </quotas>
`)

	if len(cfg.Settings) > 0 {
		b.WriteString("\n")
	}
	for _, k := range slices.Sorted(maps.Keys(cfg.Settings)) {
		elem("    ", k, cfg.Settings[k])
	}
	b.WriteString("</clickhouse>\n")
	return b.Bytes()
}
