// Package device defines the southbound interfaces for the instruments the
// control system monitors: the antenna control unit, cryostat temperature
// controllers, the compressor control unit, and power distribution units.
//
// Implementations speak the vendor protocol; agents only see these
// interfaces and the normalized error codes in errors.go. Fakes for tests
// live in device/fake.
package device
