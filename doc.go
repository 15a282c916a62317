// Package chenv runs disposable ClickHouse servers for Go tests.
//
// chenv resolves a ClickHouse release, downloads and verifies it once into a
// cache shared by every process on the host, and starts it as a child
// process on free loopback ports with a fresh data directory. Servers are
// stopped deterministically by Stop, by Manager.Shutdown, or, when the test
// process is interrupted, by a signal hook that kills every child.
//
// # Basic Usage
//
//	import "github.com/giantswarm/chenv"
//
//	ctx := context.Background()
//
//	inst, err := chenv.Start(ctx, chenv.WithVersion(chenv.V25_8))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer inst.Stop()
//
//	// Native protocol on inst.Port(), HTTP interface on inst.HTTPURL().
//	dsn := inst.DSN() // clickhouse://127.0.0.1:<port>/default
//
// # Configuring the Manager
//
// Start uses the process-wide Manager. Configure it once, before the first
// Start, typically in TestMain through chenvtest.RunMain, which also shuts
// it down after the tests:
//
//	func TestMain(m *testing.M) {
//	    os.Exit(chenvtest.RunMain(m,
//	        chenv.WithCacheDir("/var/cache/chenv"),
//	        chenv.WithStartTimeout(time.Minute),
//	    ))
//	}
//
// # Parallel Testing
//
// Every Start gets its own ports and data directory, so parallel tests can
// each run a server. Concurrent starts of a version that is not cached yet
// share a single download:
//
//	t.Run(name, func(t *testing.T) {
//	    t.Parallel()
//	    inst := chenvtest.Start(t, chenv.WithSetting("max_concurrent_queries", "16"))
//	    // Use inst.DSN()...
//	})
//
// # Offline Hosts
//
// The cache outlives the process. Warm it with chenv fetch, or seed it from a
// local binary with Manager.ImportBinary (chenv cache import), and later
// starts need no network access. WithBinary bypasses the cache altogether.
package chenv
