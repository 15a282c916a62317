// Package netutil allocates ephemeral TCP ports for ClickHouse servers.
//
// Ports are proven free by binding 127.0.0.1:0 and closed again right before
// the server binds them itself. PortRegistry remembers every port handed out
// to a live server in this process so that concurrent starts never receive
// the same port, even though the kernel may reuse a freshly closed one.
package netutil
