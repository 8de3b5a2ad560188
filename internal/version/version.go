// SPDX-License-Identifier: MIT

// Package version carries build metadata.
package version

var (
	// Version is the current application version, populated by the
	// build system via ldflags.
	Version = "v0.3.0"

	// Commit is the git short hash of the build.
	Commit = "unknown"

	// Date is the build timestamp.
	Date = "unknown"
)
