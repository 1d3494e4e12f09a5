// Package config carries the deployment plan shared by the controller
// and the fabric tooling: the default geometry, the address plan
// constants and the environment variables that override them.
package config

import (
	"os"
	"strconv"
	"time"
)

const (
	// DefaultDCellK and DefaultDCellN describe the default fabric: one
	// level of recursion over 3-host cells, 12 hosts on 16 switches.
	DefaultDCellK = 1
	DefaultDCellN = 3

	// DefaultListenAddr is the classic OpenFlow controller port.
	DefaultListenAddr = ":6633"

	// DefaultMetricsAddr serves the metrics and debug endpoints.
	DefaultMetricsAddr = ":2112"

	// DefaultLinkTimeout declares a link dead after this long without
	// a probe sighting.
	DefaultLinkTimeout = time.Second

	// DefaultLinkBandwidthMbps is the capacity the wiring plan assigns
	// every cable.
	DefaultLinkBandwidthMbps = 100
)

// Environment variables recognized by the daemon. Flags take
// precedence over the environment; a .env file in the working
// directory is loaded first when present.
const (
	EnvDCellK      = "DFR_DCELL_K"
	EnvDCellN      = "DFR_DCELL_N"
	EnvListenAddr  = "DFR_LISTEN_ADDR"
	EnvMetricsAddr = "DFR_METRICS_ADDR"
	EnvLinkTimeout = "DFR_LINK_TIMEOUT"
	EnvVerbose     = "DFR_VERBOSE"
)

// StringEnv returns the value of key, or fallback when unset or empty.
func StringEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// IntEnv returns the integer value of key, or fallback when unset or
// unparsable.
func IntEnv(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

// DurationEnv returns the duration value of key, or fallback when
// unset or unparsable.
func DurationEnv(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}

// BoolEnv returns the boolean value of key, or fallback when unset or
// unparsable.
func BoolEnv(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}
