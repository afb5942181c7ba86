// Package config loads and validates the site configuration for the
// PrimeCam Control System.
//
// Configuration is a YAML file describing the monitored devices, the binary
// schemas of their broadcast streams, feed backends, the control API, and
// the timing parameters shared by all acquisition loops. Defaults are
// applied first, then the file, then PCS_* environment overrides.
package config
