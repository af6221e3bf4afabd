// Package channel provides the outbound adapter registry that delivers
// agent responses to patients over their preferred channel.
package channel
