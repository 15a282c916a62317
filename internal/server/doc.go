// Package server runs one ClickHouse server process.
//
// A Server allocates its three ports (native TCP, HTTP, interserver), writes
// config.xml into its data directory, launches "clickhouse server" and waits
// until the native port accepts connections and GET /ping answers 200. A
// server that dies because a port was taken in the meantime is retried with
// fresh ports by StartWithRetry.
package server
