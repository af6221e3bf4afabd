// Package dedupe provides event deduplication using a time-based cache
// to drop repeated event IDs within a configurable window.
package dedupe
