// Package testutil provides test helpers for noticevault tests.
//
// The package is organized into focused files:
//   - assert.go: assertion helpers (MustNoErr, AssertEqualSlices, etc.)
//   - store_helpers.go: database test setup (NewTestStore, SeedNotices)
//   - builders.go: notice builders
//   - clock.go: a settable clock for scheduler and query tests
package testutil
