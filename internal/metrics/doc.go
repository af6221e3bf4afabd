// Package metrics keeps in-memory operational counters, snapshotted by
// the control surface at GET /api/metrics.
package metrics
