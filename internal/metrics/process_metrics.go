package metrics

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shirou/gopsutil/v4/process"
)

// Sample holds CPU and memory figures for one model process.
type Sample struct {
	PID        int32     `json:"pid"`
	Model      string    `json:"model"`
	CPUPercent float64   `json:"cpu_percent"`
	MemoryMB   float64   `json:"memory_mb"`
	MemoryRSS  uint64    `json:"memory_rss"`
	MemoryVMS  uint64    `json:"memory_vms"`
	Timestamp  time.Time `json:"timestamp"`
	NumThreads int32     `json:"num_threads"`
	NumFDs     int32     `json:"num_fds,omitempty"` // Unix only
}

// SamplerConfig holds configuration for model resource sampling.
type SamplerConfig struct {
	Enabled    bool          `mapstructure:"enabled"`
	Interval   time.Duration `mapstructure:"interval"`
	MaxHistory int           `mapstructure:"max_history"`
}

// ring is a fixed-size circular buffer of samples.
type ring struct {
	buf      []Sample
	startIdx int
	count    int
}

func (r *ring) add(s Sample) {
	if r.count < len(r.buf) {
		r.buf[r.count] = s
		r.count++
		return
	}
	r.buf[r.startIdx] = s
	r.startIdx = (r.startIdx + 1) % len(r.buf)
}

func (r *ring) latest() Sample {
	if r.count < len(r.buf) {
		return r.buf[r.count-1]
	}
	return r.buf[(r.startIdx-1+len(r.buf))%len(r.buf)]
}

// ordered returns samples oldest first.
func (r *ring) ordered() []Sample {
	out := make([]Sample, r.count)
	if r.count < len(r.buf) {
		copy(out, r.buf[:r.count])
		return out
	}
	n := copy(out, r.buf[r.startIdx:])
	copy(out[n:], r.buf[:r.startIdx])
	return out
}

// Sampler periodically records resource usage of running model processes.
type Sampler struct {
	enabled    bool
	interval   time.Duration
	maxHistory int

	mu    sync.RWMutex
	rings map[string]*ring

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	cpuPercent *prometheus.GaugeVec
	memoryMB   *prometheus.GaugeVec
	numThreads *prometheus.GaugeVec
	numFDs     *prometheus.GaugeVec
}

// NewSampler creates a sampler. Interval defaults to 5s and history to 100
// samples per model.
func NewSampler(config SamplerConfig) *Sampler {
	maxHistory := config.MaxHistory
	if maxHistory <= 0 {
		maxHistory = 100
	}
	interval := config.Interval
	if interval <= 0 {
		interval = 5 * time.Second
	}
	gauge := func(name, help string) *prometheus.GaugeVec {
		return prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "model",
			Name:      name,
			Help:      help,
		}, []string{"model"})
	}
	return &Sampler{
		enabled:    config.Enabled,
		interval:   interval,
		maxHistory: maxHistory,
		rings:      make(map[string]*ring),
		stopCh:     make(chan struct{}),
		cpuPercent: gauge("cpu_percent", "CPU usage percentage of running models."),
		memoryMB:   gauge("memory_mb", "Resident memory in MB of running models."),
		numThreads: gauge("num_threads", "Number of threads of running models."),
		numFDs:     gauge("num_fds", "Number of open file descriptors of running models (Unix only)."),
	}
}

// RegisterMetrics registers the sampler gauges with the provided registerer.
func (s *Sampler) RegisterMetrics(r prometheus.Registerer) error {
	if !s.enabled {
		return nil
	}
	collectors := []prometheus.Collector{s.cpuPercent, s.memoryMB, s.numThreads}
	if runtime.GOOS != "windows" {
		collectors = append(collectors, s.numFDs)
	}
	for _, c := range collectors {
		if err := r.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	return nil
}

func (s *Sampler) Enabled() bool { return s.enabled }

// Start samples the PIDs returned by pids every interval until ctx is done
// or Stop is called.
func (s *Sampler) Start(ctx context.Context, pids func() map[string]int32) {
	if !s.enabled {
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-s.stopCh:
				return
			case <-ticker.C:
				s.Collect(pids())
			}
		}
	}()
}

// Stop ends sampling. It is safe to call more than once.
func (s *Sampler) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
	s.wg.Wait()
}

// Collect takes one sample of every model in pids and forgets models that
// are no longer listed.
func (s *Sampler) Collect(pids map[string]int32) {
	now := time.Now()
	for model, pid := range pids {
		if pid <= 0 {
			continue
		}
		sm, err := sample(model, pid, now)
		if err != nil {
			slog.Debug("model sample failed", "model", model, "pid", pid, "error", err)
			continue
		}
		s.add(sm)
		s.cpuPercent.WithLabelValues(model).Set(sm.CPUPercent)
		s.memoryMB.WithLabelValues(model).Set(sm.MemoryMB)
		s.numThreads.WithLabelValues(model).Set(float64(sm.NumThreads))
		if runtime.GOOS != "windows" {
			s.numFDs.WithLabelValues(model).Set(float64(sm.NumFDs))
		}
	}
	s.forget(pids)
}

func sample(model string, pid int32, ts time.Time) (Sample, error) {
	proc, err := process.NewProcess(pid)
	if err != nil {
		return Sample{}, fmt.Errorf("failed to create process handle: %w", err)
	}
	cpu, err := proc.CPUPercent()
	if err != nil {
		cpu = 0
	}
	mem, err := proc.MemoryInfo()
	if err != nil {
		return Sample{}, fmt.Errorf("failed to get memory info: %w", err)
	}
	threads, err := proc.NumThreads()
	if err != nil {
		threads = 0
	}
	sm := Sample{
		PID:        pid,
		Model:      model,
		CPUPercent: cpu,
		MemoryMB:   float64(mem.RSS) / 1024 / 1024,
		MemoryRSS:  mem.RSS,
		MemoryVMS:  mem.VMS,
		Timestamp:  ts,
		NumThreads: threads,
	}
	if runtime.GOOS != "windows" {
		if fds, err := proc.NumFDs(); err == nil {
			sm.NumFDs = fds
		}
	}
	return sm, nil
}

func (s *Sampler) add(sm Sample) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rings[sm.Model]
	if !ok {
		r = &ring{buf: make([]Sample, s.maxHistory)}
		s.rings[sm.Model] = r
	}
	r.add(sm)
}

func (s *Sampler) forget(active map[string]int32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for model := range s.rings {
		if _, ok := active[model]; ok {
			continue
		}
		delete(s.rings, model)
		s.cpuPercent.DeleteLabelValues(model)
		s.memoryMB.DeleteLabelValues(model)
		s.numThreads.DeleteLabelValues(model)
		s.numFDs.DeleteLabelValues(model)
	}
}

// Latest returns the most recent sample of model.
func (s *Sampler) Latest(model string) (Sample, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.rings[model]
	if !ok || r.count == 0 {
		return Sample{}, false
	}
	return r.latest(), true
}

// History returns the retained samples of model, oldest first.
func (s *Sampler) History(model string) ([]Sample, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.rings[model]
	if !ok || r.count == 0 {
		return nil, false
	}
	return r.ordered(), true
}

// All returns the latest sample of every sampled model.
func (s *Sampler) All() map[string]Sample {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]Sample, len(s.rings))
	for model, r := range s.rings {
		if r.count > 0 {
			out[model] = r.latest()
		}
	}
	return out
}
