//go:build !windows

package main

import (
	"go.uber.org/zap"

	"chat-autoreply/src/screenshot"
)

func enableDPIAwareness() {}

func logMonitorConfiguration() {
	bounds, err := screenshot.VirtualBounds()
	if err != nil {
		zap.L().Warn("monitor configuration unavailable", zap.Error(err))
		return
	}
	zap.L().Info("monitor configuration", zap.Stringer("virtual", bounds))
}
