package chenv

import "github.com/giantswarm/chenv/internal/version"

// Known ClickHouse versions. Any version in an index configured with
// WithIndex can be started as well, as can an archive URL.
const (
	V26_1 = version.V26_1
	V25_8 = version.V25_8
	V25_3 = version.V25_3

	// Latest selects the newest known non-testing version. It is resolved
	// once per Manager.
	Latest = version.Latest
)
