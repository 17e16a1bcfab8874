// Package performance captures pprof profiles around pricing runs so the
// Monte Carlo engine can be tuned offline with `go tool pprof`.
package performance

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"runtime/pprof"
	"sync/atomic"
	"time"

	"github.com/rzzdr/euro-option-pricer/pkg/utils/logger"
)

// ProfilerConfig selects which profiles to write
type ProfilerConfig struct {
	EnableCPU    bool
	EnableMemory bool
	EnableMutex  bool
	EnableBlock  bool
	OutputDir    string
	Label        string // file name prefix, e.g. the ticker being priced
}

// Enabled reports whether any profile is requested
func (c ProfilerConfig) Enabled() bool {
	return c.EnableCPU || c.EnableMemory || c.EnableMutex || c.EnableBlock
}

// Profiler writes one set of profiles per Start/Stop cycle
type Profiler struct {
	config    ProfilerConfig
	cpuFile   *os.File
	running   int32
	startTime time.Time
	stamp     string
	written   []string
	log       *logger.Logger
}

// Sample is a point-in-time view of the runtime
type Sample struct {
	Timestamp      time.Time     `json:"timestamp"`
	GoroutineCount int           `json:"goroutines"`
	HeapAlloc      uint64        `json:"heap_alloc"`
	HeapObjects    uint64        `json:"heap_objects"`
	NumGC          uint32        `json:"num_gc"`
	GCPauseTotal   time.Duration `json:"gc_pause_total"`
}

// Creates a new profiler
func NewProfiler(config ProfilerConfig) *Profiler {
	if config.OutputDir == "" {
		config.OutputDir = "./profiles"
	}
	if config.Label == "" {
		config.Label = "pricing"
	}

	return &Profiler{
		config: config,
		log:    logger.GetLogger("performance.profiler"),
	}
}

// Start creates the output directory and begins CPU profiling if enabled
func (p *Profiler) Start() error {
	if !atomic.CompareAndSwapInt32(&p.running, 0, 1) {
		return fmt.Errorf("profiler is already running")
	}

	if err := os.MkdirAll(p.config.OutputDir, 0o755); err != nil {
		atomic.StoreInt32(&p.running, 0)
		return fmt.Errorf("failed to create profile directory: %w", err)
	}

	p.startTime = time.Now()
	p.stamp = p.startTime.Format("20060102_150405")
	p.written = nil

	if p.config.EnableMutex {
		runtime.SetMutexProfileFraction(5)
	}
	if p.config.EnableBlock {
		runtime.SetBlockProfileRate(int(time.Millisecond))
	}

	if p.config.EnableCPU {
		name := p.path("cpu")
		file, err := os.Create(name)
		if err != nil {
			atomic.StoreInt32(&p.running, 0)
			return fmt.Errorf("failed to create CPU profile file: %w", err)
		}
		if err := pprof.StartCPUProfile(file); err != nil {
			file.Close()
			atomic.StoreInt32(&p.running, 0)
			return fmt.Errorf("failed to start CPU profiling: %w", err)
		}
		p.cpuFile = file
		p.written = append(p.written, name)
		p.log.Infof("Started CPU profiling to %s", name)
	}

	return nil
}

// Stop ends CPU profiling and writes the snapshot profiles. It returns the
// files written during this cycle.
func (p *Profiler) Stop() ([]string, error) {
	if !atomic.CompareAndSwapInt32(&p.running, 1, 0) {
		return nil, fmt.Errorf("profiler is not running")
	}

	var firstErr error
	keep := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	if p.cpuFile != nil {
		pprof.StopCPUProfile()
		keep(p.cpuFile.Close())
		p.cpuFile = nil
	}

	if p.config.EnableMemory {
		runtime.GC()
		keep(p.writeProfile("heap", "memory"))
	}
	if p.config.EnableMutex {
		keep(p.writeProfile("mutex", "mutex"))
		runtime.SetMutexProfileFraction(0)
	}
	if p.config.EnableBlock {
		keep(p.writeProfile("block", "block"))
		runtime.SetBlockProfileRate(0)
	}

	p.log.Infof("Profiler stopped after %v, wrote %d profiles", time.Since(p.startTime), len(p.written))
	return p.written, firstErr
}

// IsRunning returns true between Start and Stop
func (p *Profiler) IsRunning() bool {
	return atomic.LoadInt32(&p.running) == 1
}

func (p *Profiler) path(kind string) string {
	return filepath.Join(p.config.OutputDir, fmt.Sprintf("%s_%s_%s.prof", p.config.Label, kind, p.stamp))
}

// writeProfile saves the named runtime profile
func (p *Profiler) writeProfile(profile, kind string) error {
	prof := pprof.Lookup(profile)
	if prof == nil {
		p.log.Warnf("%s profile not available", profile)
		return nil
	}

	name := p.path(kind)
	file, err := os.Create(name)
	if err != nil {
		return fmt.Errorf("failed to create %s profile file: %w", kind, err)
	}
	defer file.Close()

	if err := prof.WriteTo(file, 0); err != nil {
		return fmt.Errorf("failed to write %s profile: %w", kind, err)
	}
	p.written = append(p.written, name)
	p.log.Infof("Saved %s profile to %s", kind, name)
	return nil
}

// TakeSample reads the current runtime statistics
func TakeSample() Sample {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	return Sample{
		Timestamp:      time.Now(),
		GoroutineCount: runtime.NumGoroutine(),
		HeapAlloc:      m.HeapAlloc,
		HeapObjects:    m.HeapObjects,
		NumGC:          m.NumGC,
		GCPauseTotal:   time.Duration(m.PauseTotalNs),
	}
}
