// Package core implements the chenv lifecycle: the Manager (resolution,
// cache, download, port allocation and parallel shutdown) and Instance (one
// supervised ClickHouse server with an idempotent Stop).
package core
