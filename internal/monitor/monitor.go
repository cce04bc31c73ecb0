// Copyright 2026 The EchoVersa Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package monitor samples system resource usage and per-operation error
// rates on a fixed interval, records them into the metrics store, and raises
// deduplicated notifications when thresholds stay breached across
// consecutive samples.
package monitor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"
	log "github.com/sirupsen/logrus"

	"github.com/AthunSujith/echoversa/internal/health"
	"github.com/AthunSujith/echoversa/internal/metrics"
	"github.com/AthunSujith/echoversa/internal/notify"
)

// Usage is one resource sample.
type Usage struct {
	CPUPct  float64
	MemPct  float64
	DiskPct float64
}

// SampleSource produces resource samples. The default source reads the host
// via gopsutil; tests inject a fake.
type SampleSource interface {
	Sample(ctx context.Context) (Usage, error)
}

// Config controls sampling cadence and alerting thresholds. Thresholds are
// percentages; a metric must breach a threshold for SustainedSamples
// consecutive samples before a notification fires.
type Config struct {
	// Interval between samples
	Interval time.Duration `yaml:"interval"`

	// SustainedSamples is how many consecutive breaching samples are
	// required before alerting
	SustainedSamples int `yaml:"sustained_samples"`

	// DiskPath is the mount point whose usage is sampled
	DiskPath string `yaml:"disk_path"`

	CPUWarnPct  float64 `yaml:"cpu_warn_pct"`
	CPUCritPct  float64 `yaml:"cpu_crit_pct"`
	MemWarnPct  float64 `yaml:"mem_warn_pct"`
	MemCritPct  float64 `yaml:"mem_crit_pct"`
	DiskWarnPct float64 `yaml:"disk_warn_pct"`
	DiskCritPct float64 `yaml:"disk_crit_pct"`

	// ErrRateWarnPct and ErrRateCritPct apply to tracked operation error
	// rates over the trailing window
	ErrRateWarnPct float64 `yaml:"err_rate_warn_pct"`
	ErrRateCritPct float64 `yaml:"err_rate_crit_pct"`

	// ErrRateWindow is how many recent outcomes the error rate considers
	ErrRateWindow int `yaml:"err_rate_window"`

	// ErrRateMinSamples gates error-rate alerting until enough outcomes
	// have been recorded
	ErrRateMinSamples int `yaml:"err_rate_min_samples"`
}

// DefaultConfig returns the standing monitor configuration.
func DefaultConfig() *Config {
	return &Config{
		Interval:          5 * time.Second,
		SustainedSamples:  3,
		DiskPath:          "/",
		CPUWarnPct:        80,
		CPUCritPct:        95,
		MemWarnPct:        85,
		MemCritPct:        95,
		DiskWarnPct:       90,
		DiskCritPct:       97,
		ErrRateWarnPct:    20,
		ErrRateCritPct:    50,
		ErrRateWindow:     20,
		ErrRateMinSamples: 5,
	}
}

type breachLevel int

const (
	levelOK breachLevel = iota
	levelWarn
	levelCrit
)

// breachState tracks consecutive samples at each level for one metric.
type breachState struct {
	consecutive int
	level       breachLevel
	alerted     breachLevel
}

// Monitor runs the background sampling loop.
type Monitor struct {
	config  *Config
	source  SampleSource
	store   *metrics.Store
	hub     *notify.Hub
	tracker *health.Tracker

	// ops lists operation ids whose error rates are watched
	mu       sync.Mutex
	ops      []string
	breaches map[string]*breachState

	ctx     context.Context
	cancel  context.CancelFunc
	done    chan struct{}
	running bool
}

// New creates a monitor. A nil source means the host is sampled via
// gopsutil.
func New(config *Config, source SampleSource, store *metrics.Store, hub *notify.Hub, tracker *health.Tracker) *Monitor {
	if config == nil {
		config = DefaultConfig()
	}
	if source == nil {
		source = &hostSource{diskPath: config.DiskPath}
	}
	return &Monitor{
		config:   config,
		source:   source,
		store:    store,
		hub:      hub,
		tracker:  tracker,
		breaches: make(map[string]*breachState),
		done:     make(chan struct{}),
	}
}

// WatchOperation adds an operation id whose error rate is checked each
// sample.
func (m *Monitor) WatchOperation(opID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range m.ops {
		if id == opID {
			return
		}
	}
	m.ops = append(m.ops, opID)
}

// Start begins the sampling loop. It returns an error if already running.
func (m *Monitor) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return fmt.Errorf("monitor is already running")
	}
	m.ctx, m.cancel = context.WithCancel(ctx)
	m.running = true
	m.mu.Unlock()

	log.WithField("interval", m.config.Interval.String()).Info("Resource monitor started")

	go m.loop()
	return nil
}

// Stop shuts the loop down and waits for it to exit.
func (m *Monitor) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	m.cancel()
	m.mu.Unlock()

	<-m.done
	log.Info("Resource monitor stopped")
}

func (m *Monitor) loop() {
	defer close(m.done)

	ticker := time.NewTicker(m.config.Interval)
	defer ticker.Stop()

	// Take one sample immediately so diagnostics have data at startup.
	m.tick()

	for {
		select {
		case <-m.ctx.Done():
			return
		case <-ticker.C:
			m.tick()
		}
	}
}

// tick takes one sample, records it, and evaluates every threshold. It is
// exported to tests via Tick.
func (m *Monitor) tick() {
	ctx := m.ctx
	if ctx == nil {
		ctx = context.Background()
	}
	usage, err := m.source.Sample(ctx)
	if err != nil {
		log.Warnf("Resource sample failed: %v", err)
		return
	}

	now := time.Now()
	m.store.RecordAt(metrics.MetricCPUPercent, usage.CPUPct, now)
	m.store.RecordAt(metrics.MetricMemPercent, usage.MemPct, now)
	m.store.RecordAt(metrics.MetricDiskPercent, usage.DiskPct, now)

	m.evaluate(metrics.MetricCPUPercent, "system", usage.CPUPct, m.config.CPUWarnPct, m.config.CPUCritPct,
		"Processor usage is high", "Processor usage is critically high")
	m.evaluate(metrics.MetricMemPercent, "system", usage.MemPct, m.config.MemWarnPct, m.config.MemCritPct,
		"Memory is running low", "Memory is critically low")
	m.evaluate(metrics.MetricDiskPercent, "system", usage.DiskPct, m.config.DiskWarnPct, m.config.DiskCritPct,
		"Disk space is running low", "Disk space is critically low")

	m.mu.Lock()
	ops := make([]string, len(m.ops))
	copy(ops, m.ops)
	m.mu.Unlock()

	for _, opID := range ops {
		rate := m.store.ErrorRate(opID, m.config.ErrRateWindow, m.config.ErrRateMinSamples)
		m.evaluate("op_error."+opID, opID, rate*100, m.config.ErrRateWarnPct, m.config.ErrRateCritPct,
			fmt.Sprintf("The %s feature is failing often", opID),
			fmt.Sprintf("The %s feature is failing for most requests", opID))
	}
}

// Tick forces a single sampling pass. Used by diagnostics and tests.
func (m *Monitor) Tick() { m.tick() }

func classify(value, warn, crit float64) breachLevel {
	switch {
	case value >= crit:
		return levelCrit
	case value >= warn:
		return levelWarn
	default:
		return levelOK
	}
}

// evaluate applies the sustained-breach rules to one metric. component is
// the health tracker id the breach counts against: "system" for resource
// metrics, the operation id for error rates.
func (m *Monitor) evaluate(name, component string, value, warn, crit float64, warnMsg, critMsg string) {
	level := classify(value, warn, crit)

	m.mu.Lock()
	st, ok := m.breaches[name]
	if !ok {
		st = &breachState{}
		m.breaches[name] = st
	}

	if level == st.level {
		st.consecutive++
	} else {
		st.level = level
		st.consecutive = 1
	}

	if level == levelOK {
		cleared := st.alerted != levelOK
		st.alerted = levelOK
		m.mu.Unlock()
		if cleared {
			m.hub.ClearOnce(name + ":warn")
			m.hub.ClearOnce(name + ":crit")
			if m.tracker != nil {
				m.tracker.ReportSuccess(component)
			}
			log.WithField("metric", name).Info("Resource pressure cleared")
		}
		return
	}

	sustained := st.consecutive >= m.config.SustainedSamples
	escalation := level > st.alerted
	if !sustained || !escalation {
		m.mu.Unlock()
		return
	}
	st.alerted = level
	m.mu.Unlock()

	detail := fmt.Sprintf("%s=%.1f%% (warn %.0f%%, crit %.0f%%)", name, value, warn, crit)
	if level == levelCrit {
		m.hub.PublishOnce(name+":crit", notify.Notification{
			Severity:        notify.SeverityCritical,
			ComponentID:     component,
			UserMessage:     critMsg,
			TechnicalDetail: detail,
		})
	} else {
		m.hub.PublishOnce(name+":warn", notify.Notification{
			Severity:        notify.SeverityWarning,
			ComponentID:     component,
			UserMessage:     warnMsg,
			TechnicalDetail: detail,
		})
	}
	if m.tracker != nil {
		m.tracker.ReportFailure(component, health.FailureTransient, detail)
	}
}

// hostSource samples the local machine via gopsutil.
type hostSource struct {
	diskPath string
}

func (s *hostSource) Sample(ctx context.Context) (Usage, error) {
	var usage Usage

	cpuPcts, err := cpu.PercentWithContext(ctx, 0, false)
	if err != nil {
		return usage, fmt.Errorf("sample cpu: %w", err)
	}
	if len(cpuPcts) > 0 {
		usage.CPUPct = cpuPcts[0]
	}

	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return usage, fmt.Errorf("sample memory: %w", err)
	}
	usage.MemPct = vm.UsedPercent

	du, err := disk.UsageWithContext(ctx, s.diskPath)
	if err != nil {
		return usage, fmt.Errorf("sample disk %s: %w", s.diskPath, err)
	}
	usage.DiskPct = du.UsedPercent

	return usage, nil
}
