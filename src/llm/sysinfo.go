package llm

import (
	"context"
	"fmt"
	"os"
	"os/user"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v4/host"
)

// SystemInfo is the host context injected into every prompt.
type SystemInfo struct {
	CurrentTime     string
	Weekday         string
	Timezone        string
	SystemName      string
	MachineType     string
	UserName        string
	PlatformDetails string
}

func CollectSystemInfo(ctx context.Context) SystemInfo {
	now := time.Now()
	zone, _ := now.Zone()
	info := SystemInfo{
		CurrentTime:     now.Format("2006-01-02 15:04:05"),
		Weekday:         now.Weekday().String(),
		Timezone:        zone,
		SystemName:      runtime.GOOS,
		MachineType:     runtime.GOARCH,
		UserName:        currentUser(),
		PlatformDetails: runtime.GOOS + "-" + runtime.GOARCH,
	}
	if h, err := host.InfoWithContext(ctx); err == nil && h != nil {
		if h.OS != "" {
			info.SystemName = h.OS
		}
		if h.KernelArch != "" {
			info.MachineType = h.KernelArch
		}
		info.PlatformDetails = fmt.Sprintf("%s %s %s (kernel %s)", h.Platform, h.PlatformVersion, info.MachineType, h.KernelVersion)
	}
	return info
}

func currentUser() string {
	if u, err := user.Current(); err == nil && u.Username != "" {
		return u.Username
	}
	for _, k := range []string{"USER", "USERNAME"} {
		if v := os.Getenv(k); v != "" {
			return v
		}
	}
	return "unknown"
}

func (i SystemInfo) String() string {
	return "系统信息:\n" +
		"- 当前时间: " + i.CurrentTime + "\n" +
		"- 星期: " + i.Weekday + "\n" +
		"- 时区: " + i.Timezone + "\n" +
		"- 用户: " + i.UserName + "\n" +
		"- 操作系统: " + i.SystemName + " (" + i.PlatformDetails + ")"
}

// FormatSystemInfo collects and renders the host context block.
func FormatSystemInfo(ctx context.Context) string {
	return CollectSystemInfo(ctx).String()
}
