// Package heartbeat owns the time dimension of every journey.
//
// The Scheduler ticks on a fixed interval. Journeys parked in intake,
// clinical or booking get a bare heartbeat so their agent can judge
// staleness; journeys in the monitored set get milestone heartbeats
// (day-14, day-30, ...) keyed off the appointment date, lowest due
// milestone first. Unanswered GP queries past the reminder window get
// a chaser event.
//
// The monitored set is maintained by Register/Unregister as journeys
// enter and leave the monitoring phase, and rebuilt from the store by
// Recover on startup so a restart loses no one.
package heartbeat
