// Package cache holds the disk-backed record store for update checks together
// with the staleness policy that decides when a record must be refreshed.
// Each tracked package owns exactly one record file under
// <CacheDir>/update-notifier/, written via temp file + rename so concurrent
// readers in other processes never observe a partial record. Lock files live
// in a separate <CacheDir>/.update-notifier-locks/ directory and let background
// checkers in different processes collapse duplicate registry lookups for the
// same package.
package cache
