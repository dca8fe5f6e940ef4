// Package resource snapshots process CPU and resident memory at a fixed
// interval during a run. The series is kept separate from latency samples and
// rolled up into averages and peaks for the run summary.
package resource

import (
	"context"
	"os"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v4/process"
)

// Usage is the rollup of all snapshots taken during a run.
type Usage struct {
	CPUPercentAvg  float64 `json:"cpu_percent_avg"`
	CPUPercentPeak float64 `json:"cpu_percent_peak"`
	MemoryMBAvg    float64 `json:"memory_mb_avg"`
	MemoryMBPeak   float64 `json:"memory_mb_peak"`
	Snapshots      int     `json:"snapshots"`
}

// Sampler polls the current process on a ticker. Start it before the workers
// and Stop it after they drain; Usage is valid once Stop returned.
type Sampler struct {
	interval time.Duration
	proc     *process.Process

	mu   sync.Mutex
	cpu  []float64
	mem  []float64
	done chan struct{}
	wg   sync.WaitGroup
}

// NewSampler builds a sampler for the current process. Interval defaults to
// one second.
func NewSampler(interval time.Duration) (*Sampler, error) {
	if interval <= 0 {
		interval = time.Second
	}
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return nil, err
	}
	return &Sampler{interval: interval, proc: proc, done: make(chan struct{})}, nil
}

// Start begins sampling in a background goroutine until Stop or ctx ends.
func (s *Sampler) Start(ctx context.Context) {
	// Prime the CPU delta so the first tick measures a real interval.
	_, _ = s.proc.PercentWithContext(ctx, 0)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-s.done:
				return
			case <-ticker.C:
				s.sample(ctx)
			}
		}
	}()
}

// Stop halts sampling and waits for the background goroutine.
func (s *Sampler) Stop() {
	select {
	case <-s.done:
	default:
		close(s.done)
	}
	s.wg.Wait()
}

func (s *Sampler) sample(ctx context.Context) {
	cpu, err := s.proc.PercentWithContext(ctx, 0)
	if err != nil {
		return
	}
	mem, err := s.proc.MemoryInfoWithContext(ctx)
	if err != nil || mem == nil {
		return
	}
	s.mu.Lock()
	s.cpu = append(s.cpu, cpu)
	s.mem = append(s.mem, float64(mem.RSS)/(1024*1024))
	s.mu.Unlock()
}

// Usage rolls the collected series into averages and peaks.
func (s *Sampler) Usage() Usage {
	s.mu.Lock()
	defer s.mu.Unlock()
	u := Usage{Snapshots: len(s.cpu)}
	if len(s.cpu) == 0 {
		return u
	}
	var cpuSum, memSum float64
	for _, v := range s.cpu {
		cpuSum += v
		if v > u.CPUPercentPeak {
			u.CPUPercentPeak = v
		}
	}
	for _, v := range s.mem {
		memSum += v
		if v > u.MemoryMBPeak {
			u.MemoryMBPeak = v
		}
	}
	u.CPUPercentAvg = cpuSum / float64(len(s.cpu))
	u.MemoryMBAvg = memSum / float64(len(s.mem))
	return u
}
