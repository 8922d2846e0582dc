package perf

import (
	"context"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

// DefaultSampleInterval is how often the sampler publishes system_metrics.
const DefaultSampleInterval = 10 * time.Second

// SystemMetrics is one resource usage sample.
type SystemMetrics struct {
	MemoryMB      float64 `json:"memory_mb"`
	CPUPercent    float64 `json:"cpu_percent"`
	GPUVRAMMB     float64 `json:"gpu_vram_mb,omitempty"`
	UptimeSeconds float64 `json:"uptime_seconds"`
}

// Sampler periodically reads process resource usage and publishes
// system_metrics events. GPU VRAM is best-effort; hosts without nvidia-smi
// simply omit it.
type Sampler struct {
	tracker   *Tracker
	publisher Publisher
	interval  time.Duration
	log       *slog.Logger

	lastCPUTime time.Duration
	lastSample  time.Time
	gpuMissing  bool
}

// NewSampler creates a Sampler. A non-positive interval selects the default.
func NewSampler(tracker *Tracker, publisher Publisher, interval time.Duration, log *slog.Logger) *Sampler {
	if interval <= 0 {
		interval = DefaultSampleInterval
	}
	if log == nil {
		log = slog.Default()
	}
	return &Sampler{
		tracker:   tracker,
		publisher: publisher,
		interval:  interval,
		log:       log,
	}
}

// Run samples on the configured interval until ctx is cancelled.
func (s *Sampler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m := s.Sample()
			if s.publisher != nil {
				s.publisher.SystemMetricsEvent(m.MemoryMB, m.CPUPercent, m.GPUVRAMMB, m.UptimeSeconds)
			}
		}
	}
}

// Sample reads the current resource usage.
func (s *Sampler) Sample() SystemMetrics {
	m := SystemMetrics{
		MemoryMB:      residentMemoryMB(),
		UptimeSeconds: s.tracker.Uptime(),
	}

	now := time.Now()
	cpu := processCPUTime()
	if !s.lastSample.IsZero() && now.After(s.lastSample) {
		wall := now.Sub(s.lastSample)
		m.CPUPercent = 100 * float64(cpu-s.lastCPUTime) / float64(wall)
		if m.CPUPercent < 0 {
			m.CPUPercent = 0
		}
	}
	s.lastCPUTime = cpu
	s.lastSample = now

	if !s.gpuMissing {
		vram, ok := gpuVRAMMB()
		if !ok {
			// Probe once; do not shell out on every tick of a GPU-less host.
			s.gpuMissing = true
		} else {
			m.GPUVRAMMB = vram
		}
	}
	return m
}

// residentMemoryMB reads RSS from /proc/self/statm. Returns zero on
// platforms without procfs.
func residentMemoryMB() float64 {
	data, err := os.ReadFile("/proc/self/statm")
	if err != nil {
		return 0
	}
	fields := strings.Fields(string(data))
	if len(fields) < 2 {
		return 0
	}
	pages, err := strconv.ParseFloat(fields[1], 64)
	if err != nil {
		return 0
	}
	return pages * float64(os.Getpagesize()) / (1024 * 1024)
}

// processCPUTime reads cumulative user+system CPU time from /proc/self/stat.
// Returns zero on platforms without procfs.
func processCPUTime() time.Duration {
	data, err := os.ReadFile("/proc/self/stat")
	if err != nil {
		return 0
	}
	// The comm field may contain spaces; skip past its closing paren.
	s := string(data)
	idx := strings.LastIndexByte(s, ')')
	if idx < 0 {
		return 0
	}
	fields := strings.Fields(s[idx+1:])
	// utime and stime are fields 14 and 15 of the full line; after the comm
	// field they sit at offsets 11 and 12.
	if len(fields) < 13 {
		return 0
	}
	utime, err1 := strconv.ParseFloat(fields[11], 64)
	stime, err2 := strconv.ParseFloat(fields[12], 64)
	if err1 != nil || err2 != nil {
		return 0
	}
	const ticksPerSecond = 100
	return time.Duration((utime + stime) / ticksPerSecond * float64(time.Second))
}

// gpuVRAMMB queries nvidia-smi for used VRAM across all GPUs. The boolean is
// false when no GPU tooling is available.
func gpuVRAMMB() (float64, bool) {
	out, err := exec.Command("nvidia-smi",
		"--query-gpu=memory.used", "--format=csv,noheader,nounits").Output()
	if err != nil {
		return 0, false
	}
	var total float64
	found := false
	for _, line := range strings.Split(strings.TrimSpace(string(out)), "\n") {
		v, err := strconv.ParseFloat(strings.TrimSpace(line), 64)
		if err != nil {
			continue
		}
		total += v
		found = true
	}
	return total, found
}
