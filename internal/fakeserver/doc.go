// Package fakeserver lets a Go test binary stand in for ClickHouse.
//
// A test package wires it from TestMain:
//
//	func TestMain(m *testing.M) {
//		if fakeserver.Invoked(os.Args) {
//			os.Exit(fakeserver.Run(os.Args))
//		}
//		os.Exit(m.Run())
//	}
//
// When launched as "<test binary> server --config-file=<path>" the binary
// reads the generated config.xml, listens on tcp_port and http_port and
// answers GET /ping like a real server. The fake_mode setting selects
// failure behaviours; see the Mode constants.
//
// Distribution serves an httptest release archive whose usr/bin/clickhouse
// is a shell script exec'ing the test binary.
package fakeserver
