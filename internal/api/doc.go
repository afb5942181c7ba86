// Package api serves the HTTP control surface: agent and operation
// status for dashboards, start/stop of operations for controllers, and
// the Prometheus metrics endpoint. Responses use a uniform envelope with
// a correlation id that also appears in the audit log.
package api
