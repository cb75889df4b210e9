package main

import (
	"context"
	"fmt"
	"net"
	"runtime"
	"strings"
	"time"

	"github.com/shirou/gopsutil/cpu"
	"github.com/shirou/gopsutil/mem"
	psnet "github.com/shirou/gopsutil/net"
	"github.com/showwin/speedtest-go/speedtest"
)

// SystemPerformance holds the machine metrics the auto-tuner works from.
type SystemPerformance struct {
	CPUCores           int
	CPUUsage           float64
	TotalMemoryMB      uint64
	AvailableMemoryMB  uint64
	MemoryUsagePercent float64
	NetworkSpeedMbps   float64
	NetworkLatency     time.Duration
}

// OptimizeConfig tunes concurrency, rate limit, timeout and the browser
// context budget to the machine the harvester is running on. The operator's
// explicit values survive when analysis fails.
func OptimizeConfig(config *Config) (*Config, *SystemPerformance, error) {
	perf, err := AnalyzeSystemPerformance()
	if err != nil {
		return config, nil, fmt.Errorf("system analysis failed: %w", err)
	}

	optimized := *config
	optimized.Concurrency = optimalConcurrency(perf)
	optimized.RateLimitPerSecond = optimalRateLimit(perf)
	optimized.Timeout = optimalTimeout(perf)
	optimized.BrowserContexts = optimalBrowserContexts(perf)
	optimized.HelperSlots = optimalHelperSlots(perf)
	return &optimized, perf, nil
}

// AnalyzeSystemPerformance samples CPU, memory and network conditions.
func AnalyzeSystemPerformance() (*SystemPerformance, error) {
	perf := &SystemPerformance{CPUCores: runtime.NumCPU()}

	if cpuInfo, err := cpu.Info(); err == nil && len(cpuInfo) > 0 && cpuInfo[0].Cores > 0 {
		perf.CPUCores = int(cpuInfo[0].Cores)
	}
	if cpuPercent, err := cpu.Percent(time.Second, false); err == nil && len(cpuPercent) > 0 {
		perf.CPUUsage = cpuPercent[0]
	}

	vmStat, err := mem.VirtualMemory()
	if err != nil {
		return nil, fmt.Errorf("memory info unavailable: %w", err)
	}
	perf.TotalMemoryMB = vmStat.Total / 1024 / 1024
	perf.AvailableMemoryMB = vmStat.Available / 1024 / 1024
	perf.MemoryUsagePercent = vmStat.UsedPercent

	perf.NetworkSpeedMbps, perf.NetworkLatency = measureNetwork()
	return perf, nil
}

// measureNetwork tries a real speed test first and falls back to a latency
// probe plus an interface-type guess when the test servers are unreachable.
func measureNetwork() (speedMbps float64, latency time.Duration) {
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	if mbps, lat, err := runSpeedTest(ctx); err == nil {
		return mbps, lat
	}

	start := time.Now()
	if conn, err := net.DialTimeout("tcp", "8.8.8.8:53", 3*time.Second); err == nil {
		latency = time.Since(start)
		conn.Close()
	} else {
		latency = 100 * time.Millisecond
	}

	speedMbps = 10.0
	if interfaces, err := psnet.Interfaces(); err == nil {
		for _, iface := range interfaces {
			name := strings.ToLower(iface.Name)
			if name == "lo" || strings.Contains(name, "loopback") || len(iface.Addrs) == 0 {
				continue
			}
			switch {
			case strings.Contains(name, "eth") || strings.Contains(name, "en"):
				speedMbps = 100.0
			case strings.Contains(name, "wl") || strings.Contains(name, "wifi"):
				speedMbps = 20.0
			}
			break
		}
	}
	if latency < 20*time.Millisecond {
		speedMbps *= 1.5
	} else if latency > 200*time.Millisecond {
		speedMbps *= 0.5
	}
	return speedMbps, latency
}

func runSpeedTest(ctx context.Context) (float64, time.Duration, error) {
	client := speedtest.New()
	servers, err := client.FetchServers()
	if err != nil {
		return 0, 0, err
	}
	targets, err := servers.FindServer([]int{})
	if err != nil || len(targets) == 0 {
		return 0, 0, fmt.Errorf("no speedtest server available")
	}
	srv := targets[0]
	if err := srv.PingTestContext(ctx, nil); err != nil {
		return 0, 0, err
	}
	if err := srv.DownloadTestContext(ctx); err != nil {
		return 0, 0, err
	}
	return srv.DLSpeed.Mbps(), srv.Latency, nil
}

func optimalConcurrency(perf *SystemPerformance) int {
	c := perf.CPUCores * 2
	if memBased := int(perf.AvailableMemoryMB / 10); memBased < c {
		c = memBased
	}
	if perf.CPUUsage > 80 {
		c = int(float64(c) * 0.7)
	} else if perf.CPUUsage < 20 {
		c = int(float64(c) * 1.3)
	}
	if c < 2 {
		c = 2
	}
	if c > 64 {
		c = 64
	}
	return c
}

func optimalRateLimit(perf *SystemPerformance) float64 {
	// Roughly 12 requests per second per Mbps at ~10KB a page.
	rate := perf.NetworkSpeedMbps * 12
	if perf.NetworkLatency > 200*time.Millisecond {
		rate *= 0.5
	} else if perf.NetworkLatency < 50*time.Millisecond {
		rate *= 1.5
	}
	if rate < 10 {
		rate = 10
	}
	if rate > 200 {
		rate = 200
	}
	return rate
}

func optimalTimeout(perf *SystemPerformance) int {
	t := int(perf.NetworkLatency.Seconds()*3) + 5
	if perf.NetworkSpeedMbps < 5 {
		t += 10
	}
	if t < 10 {
		t = 10
	}
	if t > 60 {
		t = 60
	}
	return t
}

func optimalBrowserContexts(perf *SystemPerformance) int {
	// Budget roughly 512MB per Chrome context. Cap hard regardless of RAM.
	n := int(perf.AvailableMemoryMB / 512)
	if n < 1 {
		n = 1
	}
	if n > 6 {
		n = 6
	}
	return n
}

func optimalHelperSlots(perf *SystemPerformance) int {
	n := perf.CPUCores
	if n < 2 {
		n = 2
	}
	if n > 12 {
		n = 12
	}
	return n
}
