// Package version turns a version spec into a download descriptor.
//
// A spec is empty (the default version), "latest", an exact ClickHouse
// version in full ("25.8.16.34-lts") or numeric ("25.8.16.34") form, or an
// explicit http(s) URL. Known versions come from a built-in index that an
// optional YAML index, local or remote, can extend or override.
package version
