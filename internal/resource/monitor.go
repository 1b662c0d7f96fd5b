// Package resource implements the host resource monitor (C1) and the
// dynamic concurrency scaler (C2).
package resource

import (
	"bufio"
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sys/unix"

	"github.com/ShunsukeHayashi/miyabi-code-sub002/internal/model"
)

func numCPU() int { return runtime.NumCPU() }

// Demand declares the per-worktree resource footprint used to compute
// available capacity (SPEC_FULL.md §4.1).
type Demand struct {
	MemoryGB float64
	CPUCores float64
	DiskGB   float64
}

// DefaultDemand is a conservative single-worktree footprint: one CPU core,
// 1GB memory, 2GB disk.
var DefaultDemand = Demand{MemoryGB: 1, CPUCores: 1, DiskGB: 2}

// PressureThreshold is the usage ratio above which memory or CPU is
// reported as the bottleneck. Dimensions are checked in a fixed order:
// memory first, then CPU, then disk (free disk below one worktree's DiskGB);
// the first one under pressure is reported. Remaining capacity is not
// compared across dimensions.
const PressureThreshold = 0.80

// Monitor samples host memory, CPU, and disk pressure.
type Monitor struct {
	worktreeRoot string
	demand       Demand

	lastCPUIdle  uint64
	lastCPUTotal uint64
	haveLastCPU  bool
}

// NewMonitor creates a Monitor sampling disk free space on worktreeRoot's
// volume, using demand to compute available worktree capacity.
func NewMonitor(worktreeRoot string, demand Demand) *Monitor {
	return &Monitor{worktreeRoot: worktreeRoot, demand: demand}
}

// Sample reads host counters and returns one ResourceStats observation.
// Memory and CPU come from /proc; disk free space comes from
// golang.org/x/sys/unix.Statfs on the worktree root volume.
func (m *Monitor) Sample() (model.ResourceStats, error) {
	memRatio, availMemGB, err := m.sampleMemory()
	if err != nil {
		return model.ResourceStats{}, fmt.Errorf("sample memory: %w", err)
	}

	cpuRatio, err := m.sampleCPU()
	if err != nil {
		return model.ResourceStats{}, fmt.Errorf("sample cpu: %w", err)
	}

	availDiskGB, err := m.sampleDisk()
	if err != nil {
		return model.ResourceStats{}, fmt.Errorf("sample disk: %w", err)
	}

	availWorktrees := minInt(
		int(availMemGB/m.demand.MemoryGB),
		int((1.0-cpuRatio)*float64(numCPU())/m.demand.CPUCores),
		int(availDiskGB/m.demand.DiskGB),
	)
	if availWorktrees < 0 {
		availWorktrees = 0
	}

	bottleneck := model.BottleneckNone
	switch {
	case memRatio > PressureThreshold:
		bottleneck = model.BottleneckMemory
	case cpuRatio > PressureThreshold:
		bottleneck = model.BottleneckCPU
	case availDiskGB < m.demand.DiskGB:
		bottleneck = model.BottleneckDisk
	}

	return model.ResourceStats{
		MemoryRatio:        memRatio,
		CPURatio:           cpuRatio,
		AvailableMemoryGB:  availMemGB,
		AvailableWorktrees: availWorktrees,
		Bottleneck:         bottleneck,
		SampledAt:          time.Now(),
	}, nil
}

func (m *Monitor) sampleMemory() (ratio float64, availableGB float64, err error) {
	f, err := os.Open("/proc/meminfo")
	if err != nil {
		return 0, 0, err
	}
	defer f.Close()

	var totalKB, availKB uint64
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "MemTotal:"):
			totalKB = parseMeminfoKB(line)
		case strings.HasPrefix(line, "MemAvailable:"):
			availKB = parseMeminfoKB(line)
		}
	}
	if err := scanner.Err(); err != nil {
		return 0, 0, err
	}
	if totalKB == 0 {
		return 0, 0, fmt.Errorf("could not determine MemTotal")
	}

	usedKB := totalKB - availKB
	ratio = float64(usedKB) / float64(totalKB)
	availableGB = float64(availKB) / (1024 * 1024)
	return ratio, availableGB, nil
}

func parseMeminfoKB(line string) uint64 {
	fields := strings.Fields(line)
	if len(fields) < 2 {
		return 0
	}
	v, _ := strconv.ParseUint(fields[1], 10, 64)
	return v
}

// sampleCPU computes busy-ratio from two successive /proc/stat reads. The
// first call after process start has no prior sample and returns 0; this
// mirrors the technique the sysinfo crate itself uses (cumulative jiffies
// delta over the sampling interval), without needing a dedicated library.
func (m *Monitor) sampleCPU() (float64, error) {
	idle, total, err := readCPUTicks()
	if err != nil {
		return 0, err
	}

	if !m.haveLastCPU {
		m.lastCPUIdle, m.lastCPUTotal = idle, total
		m.haveLastCPU = true
		return 0, nil
	}

	deltaIdle := idle - m.lastCPUIdle
	deltaTotal := total - m.lastCPUTotal
	m.lastCPUIdle, m.lastCPUTotal = idle, total

	if deltaTotal == 0 {
		return 0, nil
	}
	busy := float64(deltaTotal-deltaIdle) / float64(deltaTotal)
	if busy < 0 {
		busy = 0
	}
	if busy > 1 {
		busy = 1
	}
	return busy, nil
}

func readCPUTicks() (idle, total uint64, err error) {
	f, err := os.Open("/proc/stat")
	if err != nil {
		return 0, 0, err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	if !scanner.Scan() {
		return 0, 0, fmt.Errorf("empty /proc/stat")
	}
	fields := strings.Fields(scanner.Text())
	if len(fields) < 5 || fields[0] != "cpu" {
		return 0, 0, fmt.Errorf("unexpected /proc/stat format")
	}

	var sum uint64
	for _, f := range fields[1:] {
		v, perr := strconv.ParseUint(f, 10, 64)
		if perr != nil {
			continue
		}
		sum += v
	}
	idleTicks, _ := strconv.ParseUint(fields[4], 10, 64)
	return idleTicks, sum, nil
}

func (m *Monitor) sampleDisk() (availableGB float64, err error) {
	var stat unix.Statfs_t
	if err := unix.Statfs(m.worktreeRoot, &stat); err != nil {
		return 0, err
	}
	bytesAvail := stat.Bavail * uint64(stat.Bsize)
	return float64(bytesAvail) / (1024 * 1024 * 1024), nil
}

func minInt(a, b, c int) int {
	m := a
	if b < m {
		m = b
	}
	if c < m {
		m = c
	}
	return m
}
