//go:build windows

package main

import (
	"go.uber.org/zap"
	"golang.org/x/sys/windows"
)

var (
	shcore                     = windows.NewLazySystemDLL("Shcore.dll")
	user32                     = windows.NewLazySystemDLL("user32.dll")
	procSetProcessDpiAwareness = shcore.NewProc("SetProcessDpiAwareness")
	procSetProcessDPIAware     = user32.NewProc("SetProcessDPIAware")
	procGetSystemMetrics       = user32.NewProc("GetSystemMetrics")
)

const (
	processPerMonitorDPIAware = 2

	smCXScreen        = 0
	smCYScreen        = 1
	smXVirtualScreen  = 76
	smYVirtualScreen  = 77
	smCXVirtualScreen = 78
	smCYVirtualScreen = 79
	smCMonitors       = 80
)

// enableDPIAwareness keeps robotgo and screenshot coordinates in physical
// pixels on scaled displays.
func enableDPIAwareness() {
	if err := procSetProcessDpiAwareness.Find(); err == nil {
		ret, _, _ := procSetProcessDpiAwareness.Call(uintptr(processPerMonitorDPIAware))
		if ret != 0 {
			zap.L().Debug("dpi: per-monitor awareness not set", zap.Uintptr("hresult", ret))
		}
		return
	}
	if err := procSetProcessDPIAware.Find(); err == nil {
		_, _, _ = procSetProcessDPIAware.Call()
	}
}

func metric(index int) int {
	ret, _, _ := procGetSystemMetrics.Call(uintptr(index))
	return int(int32(ret))
}

func logMonitorConfiguration() {
	zap.L().Info("monitor configuration",
		zap.Int("monitors", metric(smCMonitors)),
		zap.Int("virtual_x", metric(smXVirtualScreen)),
		zap.Int("virtual_y", metric(smYVirtualScreen)),
		zap.Int("virtual_w", metric(smCXVirtualScreen)),
		zap.Int("virtual_h", metric(smCYVirtualScreen)),
		zap.Int("primary_w", metric(smCXScreen)),
		zap.Int("primary_h", metric(smCYScreen)))
}
