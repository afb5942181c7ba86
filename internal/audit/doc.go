// Package audit writes the action log: one JSON line per control action
// (operation start/stop, authentication failures), with a correlation id,
// the authenticated user, the outcome, and the latency. The file rotates
// by size so the log survives long campaigns unattended.
package audit
