package singleinstance

import (
	"os"
	"strconv"

	"go.uber.org/zap"
)

const (
	defaultPortStart = 49500
	defaultPortEnd   = 49550

	PortStartEnvVar = "SINGLEINSTANCE_PORT_START"
	PortEndEnvVar   = "SINGLEINSTANCE_PORT_END"
)

// getPortRange returns the inclusive TCP port range, read from
// SINGLEINSTANCE_PORT_START / SINGLEINSTANCE_PORT_END when set.
// Invalid values fall back to defaults; the range is clamped to [1024, 65535].
func getPortRange() (int, int) {
	start := envPort(PortStartEnvVar, defaultPortStart)
	end := envPort(PortEndEnvVar, defaultPortEnd)
	if start < 1024 {
		start = 1024
	}
	if end > 65535 {
		end = 65535
	}
	if end < start {
		start, end = end, start
	}
	return start, end
}

func envPort(name string, def int) int {
	v := os.Getenv(name)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		zap.L().Warn("singleinstance: ignoring invalid port", zap.String("env", name), zap.String("value", v))
		return def
	}
	return n
}

// PortRange exposes the effective port range for pre-flight checks and logging.
func PortRange() (int, int) { return getPortRange() }
