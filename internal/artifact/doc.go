// Package artifact is the on-disk cache of installed ClickHouse binaries.
//
// Layout under the cache directory:
//
//	entries/<key>/                 installed artifact
//	entries/<key>/.chenv-complete  completion marker (YAML), written last
//	staging/<key>-*                in-progress installs
//	locks/<key>.lock               advisory install lock
//	ledger.db                      SQLite usage ledger
//
// An entry exists only if its marker exists. Lookups read the marker without
// locking; installs are serialised per key by an in-process lock plus a
// cross-process file lock, and concurrent same-key installs in one process
// collapse into one through singleflight.
package artifact
