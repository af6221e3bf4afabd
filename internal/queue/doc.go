// Package queue provides per-patient FIFO work queues.
//
// The Manager lazily creates one worker goroutine per patient, so
// events for the same patient are processed strictly in order while
// different patients proceed in parallel. Submit rejects work when a
// patient's queue is full. A janitor sweeps workers that have been
// idle past the TTL; a worker with queued or in-flight work is never
// torn down.
package queue
