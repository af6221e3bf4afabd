// Package event defines the envelope every message in the system
// travels in, plus constructors for the common event types.
package event
