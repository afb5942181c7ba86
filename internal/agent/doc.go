// Package agent provides the operation scaffolding shared by all device
// agents: named tasks and processes with sessions, cooperative stop via
// context cancellation, and a registry the control API serves from.
//
// Tasks are short commands that run to completion; processes are long
// acquisition loops that run until stopped. Both report their outcome as
// (ok, message) rather than an error, since a refused start is a normal
// answer, not a fault.
package agent
