package util

import (
	"fmt"
	"net"
	"os"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"
)

// SystemInfo describes the host the connector runs on. It is attached to
// telemetry messages and served by the public info endpoint.
type SystemInfo struct {
	Hostname     string `json:"hostname"`
	OS           string `json:"os"`
	Architecture string `json:"architecture"`
	CPUModel     string `json:"cpu_model"`
	CPUCores     int    `json:"cpu_cores"`
	TotalMemory  uint64 `json:"total_memory_mb"`
	GoVersion    string `json:"go_version"`
}

// GetSystemInfo gathers system information. Fields gopsutil cannot read on
// this platform are left empty.
func GetSystemInfo() SystemInfo {
	info := SystemInfo{
		OS:           runtime.GOOS,
		Architecture: runtime.GOARCH,
		CPUCores:     runtime.NumCPU(),
		GoVersion:    runtime.Version(),
	}

	if hostname, err := os.Hostname(); err == nil {
		info.Hostname = hostname
	}
	if hostInfo, err := host.Info(); err == nil && hostInfo.Platform != "" {
		info.OS = fmt.Sprintf("%s %s", hostInfo.Platform, hostInfo.PlatformVersion)
	}
	if cpuInfo, err := cpu.Info(); err == nil && len(cpuInfo) > 0 {
		info.CPUModel = cpuInfo[0].ModelName
	}
	if memInfo, err := mem.VirtualMemory(); err == nil {
		info.TotalMemory = memInfo.Total / (1024 * 1024)
	}

	return info
}

// ProcessStats is a snapshot of the connector's own resource use.
type ProcessStats struct {
	PID        int32         `json:"pid"`
	CPUPercent float64       `json:"cpu_percent"`
	RSSMB      uint64        `json:"rss_mb"`
	Goroutines int           `json:"goroutines"`
	Uptime     time.Duration `json:"uptime"`
}

// GetProcessStats reads CPU and memory use of the current process.
func GetProcessStats() (ProcessStats, error) {
	stats := ProcessStats{
		PID:        int32(os.Getpid()),
		Goroutines: runtime.NumGoroutine(),
	}

	p, err := process.NewProcess(stats.PID)
	if err != nil {
		return stats, fmt.Errorf("failed to open process %d: %w", stats.PID, err)
	}
	if pct, err := p.CPUPercent(); err == nil {
		stats.CPUPercent = pct
	}
	if m, err := p.MemoryInfo(); err == nil {
		stats.RSSMB = m.RSS / (1024 * 1024)
	}
	if created, err := p.CreateTime(); err == nil {
		stats.Uptime = time.Since(time.UnixMilli(created)).Round(time.Second)
	}
	return stats, nil
}

// GetLocalIP returns the first non-loopback IPv4 address, the address
// players type into the mod's server prompt on a LAN.
func GetLocalIP() (string, error) {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return "", fmt.Errorf("failed to enumerate interfaces: %w", err)
	}
	for _, addr := range addrs {
		if ipNet, ok := addr.(*net.IPNet); ok && !ipNet.IP.IsLoopback() && ipNet.IP.To4() != nil {
			return ipNet.IP.String(), nil
		}
	}
	return "127.0.0.1", nil
}
