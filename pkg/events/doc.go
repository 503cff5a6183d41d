// Package events implements a channel-based pub/sub broker for state-change
// notifications. The controller subscribes to workload/endpoint/route
// apply events so manifest changes trigger reconciliation immediately
// instead of waiting for the next tick; slow subscribers are skipped rather
// than blocking publishers.
package events
