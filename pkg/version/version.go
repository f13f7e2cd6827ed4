// Package version exposes the build version.
package version

// Version is the application version, overridable at build time via
// -ldflags "-X geoquery/pkg/version.Version=...".
var Version = "0.3.0"
