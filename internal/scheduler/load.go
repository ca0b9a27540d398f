package scheduler

import (
	"context"
	"fmt"
	"runtime"
	"sync"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/load"
	"github.com/shirou/gopsutil/v3/mem"
)

// Load score weights.
const (
	cpuWeight     = 0.5
	memoryWeight  = 0.3
	loadAvgWeight = 0.2
)

// Memory pressure above which the worker count is halved regardless of the score.
const memoryCritical = 0.9

const loadWindowSize = 10

// LoadSample is one observation of system load. Every field is a fraction in [0, 1].
type LoadSample struct {
	CPU     float64
	Memory  float64
	LoadAvg float64 // 1-minute load average per CPU
}

// Score combines the sample into a single load score in [0, 1].
func (s LoadSample) Score() float64 {
	return clamp01(cpuWeight*clamp01(s.CPU) + memoryWeight*clamp01(s.Memory) + loadAvgWeight*clamp01(s.LoadAvg))
}

// LoadSampler observes system load.
type LoadSampler interface {
	Sample(ctx context.Context) (LoadSample, error)
}

// SystemSampler reads CPU, memory and load average from the host.
type SystemSampler struct {
	cpus int
}

func NewSystemSampler() *SystemSampler {
	return &SystemSampler{cpus: runtime.NumCPU()}
}

func (s *SystemSampler) Sample(ctx context.Context) (LoadSample, error) {
	var sample LoadSample

	// interval 0 compares against the previous call, so this never blocks
	percents, err := cpu.PercentWithContext(ctx, 0, false)
	if err != nil {
		return sample, fmt.Errorf("cpu usage: %w", err)
	}
	if len(percents) > 0 {
		sample.CPU = percents[0] / 100
	}

	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return sample, fmt.Errorf("memory usage: %w", err)
	}
	sample.Memory = vm.UsedPercent / 100

	// load average is not available everywhere
	if avg, err := load.AvgWithContext(ctx); err == nil && s.cpus > 0 {
		sample.LoadAvg = avg.Load1 / float64(s.cpus)
	}

	return sample, nil
}

// loadWindow keeps the most recent load scores.
type loadWindow struct {
	mu      sync.Mutex
	scores  [loadWindowSize]float64
	n, next int
	last    LoadSample
}

func (w *loadWindow) add(sample LoadSample) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.scores[w.next] = sample.Score()
	w.next = (w.next + 1) % loadWindowSize
	if w.n < loadWindowSize {
		w.n++
	}
	w.last = sample
}

// average returns the mean score of the window and the latest sample.
func (w *loadWindow) average() (float64, LoadSample, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.n == 0 {
		return 0, LoadSample{}, false
	}
	sum := 0.0
	for i := 0; i < w.n; i++ {
		sum += w.scores[i]
	}
	return sum / float64(w.n), w.last, true
}

// nextWorkers decides the new worker count from the averaged score and the latest sample.
func nextWorkers(current, lo, hi int, avgScore float64, latest LoadSample) int {
	next := current
	switch {
	case latest.Memory > memoryCritical:
		next = current / 2
	case avgScore > 0.8:
		next = current * 3 / 4
	case avgScore > 0.6:
		next = current * 4 / 5
	case avgScore < 0.2:
		next = max(current+1, current*5/4)
	case avgScore < 0.4:
		next = max(current+1, current*6/5)
	}
	return min(max(next, lo), hi)
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}
