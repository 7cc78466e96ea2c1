package process

import (
	"context"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/process"
)

// Usage is the resource consumption of a process tree observed so far.
type Usage struct {
	CPUSeconds   float64
	PeakRSSBytes uint64
}

// Sampler polls a process tree for CPU time and resident memory. CPU time is
// tracked per pid so that children which exit between samples still count.
type Sampler struct {
	pid      int
	interval time.Duration

	mu      sync.Mutex
	cpu     map[int32]float64
	peakRSS uint64
}

func NewSampler(pid int, interval time.Duration) *Sampler {
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	return &Sampler{pid: pid, interval: interval, cpu: make(map[int32]float64)}
}

// Run samples until ctx is cancelled or the root process disappears.
func (s *Sampler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		if !s.Sample() {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Sample takes one reading. It returns false once the root is gone.
func (s *Sampler) Sample() bool {
	procs, err := tree(s.pid)
	if err != nil {
		return false
	}

	var rss uint64
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range procs {
		if times, err := p.Times(); err == nil {
			total := times.User + times.System
			if total > s.cpu[p.Pid] {
				s.cpu[p.Pid] = total
			}
		}
		if mem, err := p.MemoryInfo(); err == nil {
			rss += mem.RSS
		}
	}
	if rss > s.peakRSS {
		s.peakRSS = rss
	}
	return true
}

func (s *Sampler) Usage() Usage {
	s.mu.Lock()
	defer s.mu.Unlock()
	u := Usage{PeakRSSBytes: s.peakRSS}
	for _, v := range s.cpu {
		u.CPUSeconds += v
	}
	return u
}

// Snapshot reads a single process without tracking history.
func Snapshot(pid int) (Usage, error) {
	p, err := process.NewProcess(int32(pid))
	if err != nil {
		return Usage{}, err
	}
	var u Usage
	if times, err := p.Times(); err == nil {
		u.CPUSeconds = times.User + times.System
	}
	if mem, err := p.MemoryInfo(); err == nil {
		u.PeakRSSBytes = mem.RSS
	}
	return u, nil
}
