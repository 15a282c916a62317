// Package fetch downloads and unpacks ClickHouse distributions.
//
// Client streams a download to disk while hashing it with SHA-512, checks the
// result against a known checksum or a ".sha512" sidecar, and retries
// transient failures with exponential backoff. Extract unpacks a tar.gz and
// refuses entries that would land outside the destination.
package fetch
