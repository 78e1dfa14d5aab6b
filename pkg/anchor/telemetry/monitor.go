// Package telemetry records every search attempt and aggregates the samples
// into health reporting: success rate, mean search time, a letter grade, and
// leak/slowness recommendations. Everything here is advisory; nothing in
// this package can fail a search.
package telemetry

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/tourforge/anchor/internal/config"
	"github.com/tourforge/anchor/pkg/anchor/observer"
)

// Sample is one recorded search attempt.
type Sample struct {
	Selector     string        `json:"selector"`
	SearchTime   time.Duration `json:"searchTime"`
	Found        bool          `json:"found"`
	UsedFallback bool          `json:"usedFallback"`
	Timestamp    time.Time     `json:"timestamp"`
}

// Stats aggregates the retained samples.
type Stats struct {
	TotalSelectors    int           `json:"totalSelectors"`
	AverageSearchTime time.Duration `json:"averageSearchTime"`
	SuccessRate       float64       `json:"successRate"`
	PerformanceGrade  string        `json:"performanceGrade"`
}

// Report is the composed health view: search performance plus observer
// registry state, scored 0-100 with remediation recommendations.
type Report struct {
	HealthScore     int                    `json:"healthScore"`
	Performance     Stats                  `json:"performance"`
	Observers       observer.RegistryStats `json:"observers"`
	Recommendations []string               `json:"recommendations"`
}

// Monitor retains a bounded window of search samples.
type Monitor struct {
	logger *zap.Logger
	cfg    config.TelemetryConfig

	mu      sync.Mutex
	samples []Sample
}

// NewMonitor creates a Monitor with the configured sample bound.
func NewMonitor(cfg config.TelemetryConfig, logger *zap.Logger) *Monitor {
	return &Monitor{
		logger: logger.Named("telemetry"),
		cfg:    cfg,
	}
}

// RecordSearch appends a sample, evicting the oldest past the bound.
func (m *Monitor) RecordSearch(selector string, searchTime time.Duration, found, usedFallback bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.samples = append(m.samples, Sample{
		Selector:     selector,
		SearchTime:   searchTime,
		Found:        found,
		UsedFallback: usedFallback,
		Timestamp:    time.Now(),
	})
	if limit := m.cfg.SampleLimit; limit > 0 && len(m.samples) > limit {
		m.samples = m.samples[len(m.samples)-limit:]
	}
}

// OverallStats aggregates the retained samples.
func (m *Monitor) OverallStats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()

	stats := Stats{TotalSelectors: len(m.samples)}
	if len(m.samples) == 0 {
		// No traffic yet reads as healthy idle, not as failure.
		stats.PerformanceGrade = "A"
		return stats
	}

	var total time.Duration
	var hits int
	for _, s := range m.samples {
		total += s.SearchTime
		if s.Found {
			hits++
		}
	}
	stats.AverageSearchTime = total / time.Duration(len(m.samples))
	stats.SuccessRate = float64(hits) / float64(len(m.samples))
	stats.PerformanceGrade = grade(stats.AverageSearchTime, stats.SuccessRate)
	return stats
}

// grade bands mean time and success rate into a letter grade.
func grade(mean time.Duration, success float64) string {
	switch {
	case mean < 50*time.Millisecond && success >= 0.90:
		return "A"
	case mean < 150*time.Millisecond && success >= 0.75:
		return "B"
	case mean < 400*time.Millisecond && success >= 0.50:
		return "C"
	case mean < time.Second || success >= 0.25:
		return "D"
	default:
		return "F"
	}
}

// Report composes search stats with registry state into one health view.
// stalenessThreshold is the registry's emergency-cleanup bound, used to call
// out long-lived observers.
func (m *Monitor) Report(reg observer.RegistryStats, stalenessThreshold time.Duration) Report {
	stats := m.OverallStats()

	score := 100
	var recs []string

	if stats.TotalSelectors > 0 {
		if stats.AverageSearchTime > m.cfg.SlowSearchThreshold {
			score -= 20
			recs = append(recs, fmt.Sprintf(
				"average search time %s exceeds %s - consider narrower selectors or pre-ranked candidates",
				stats.AverageSearchTime.Round(time.Millisecond), m.cfg.SlowSearchThreshold))
		}
		if stats.SuccessRate < 0.75 {
			score -= 25
			recs = append(recs, fmt.Sprintf(
				"only %.0f%% of searches found an element - review selectors or enable fallback strategies",
				stats.SuccessRate*100))
		}
	}

	if reg.MemoryLeakRisk {
		score -= 25
		recs = append(recs, fmt.Sprintf(
			"%d observers are concurrently live - investigate for leaked cleanup closures",
			reg.ActiveObservers))
	}
	if stalenessThreshold > 0 && reg.OldestObserverAge > stalenessThreshold {
		score -= 10
		recs = append(recs, fmt.Sprintf(
			"oldest observer is %s old (staleness threshold %s) - consider emergency cleanup",
			reg.OldestObserverAge.Round(time.Second), stalenessThreshold))
	}

	if score < 0 {
		score = 0
	}
	return Report{
		HealthScore:     score,
		Performance:     stats,
		Observers:       reg,
		Recommendations: recs,
	}
}
