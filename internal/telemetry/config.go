// Package telemetry wires OpenTelemetry tracing and Pyroscope profiling.
//
// Both are off by default. When tracing is disabled every helper works on
// a no-op tracer, so call sites never check for it except to skip
// building attributes.
package telemetry

import (
	"fmt"
	"slices"
)

// Config configures tracing.
type Config struct {
	Enabled        bool
	ServiceName    string
	ServiceVersion string

	// Endpoint is the OTLP gRPC collector, host:port.
	Endpoint string
	Insecure bool

	// SampleRate is the fraction of root traces kept, 0 to 1. Child spans
	// follow their parent's decision.
	SampleRate float64
}

// DefaultConfig returns tracing disabled, pointing at a local collector.
func DefaultConfig() Config {
	return Config{
		ServiceName:    "obexd",
		ServiceVersion: "dev",
		Endpoint:       "localhost:4317",
		Insecure:       true,
		SampleRate:     1.0,
	}
}

// ProfilingConfig configures Pyroscope continuous profiling.
type ProfilingConfig struct {
	Enabled        bool
	ServiceName    string
	ServiceVersion string

	// Endpoint is the Pyroscope server URL.
	Endpoint string

	// ProfileTypes names the profiles to collect, see ProfileTypeNames.
	ProfileTypes []string
}

// DefaultProfileTypes are collected when none are configured.
var DefaultProfileTypes = []string{"cpu", "alloc_space", "inuse_space", "goroutines"}

// Validate rejects unknown profile type names.
func (c ProfilingConfig) Validate() error {
	for _, pt := range c.ProfileTypes {
		if _, ok := profileTypes[pt]; !ok {
			names := ProfileTypeNames()
			return fmt.Errorf("unknown profile type %q (valid: %v)", pt, names)
		}
	}
	return nil
}

// ProfileTypeNames lists the accepted profile type names, sorted.
func ProfileTypeNames() []string {
	names := make([]string, 0, len(profileTypes))
	for n := range profileTypes {
		names = append(names, n)
	}
	slices.Sort(names)
	return names
}
