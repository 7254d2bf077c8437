// Package metrics provides Prometheus metrics for cache, lock and scan
// activity.
//
// A CLI run is short lived, so nothing is served over HTTP. Collectors live
// on a private registry and are published with WriteTextfile for the
// node-exporter textfile collector.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	reg *prometheus.Registry

	lookupsTotal   *prometheus.CounterVec
	storesTotal    prometheus.Counter
	replayedItems  prometheus.Counter
	entriesLoaded  prometheus.Gauge
	entriesSaved   prometheus.Gauge
	saveDuration   prometheus.Histogram
	saveFailures   prometheus.Counter
	lockWait       *prometheus.HistogramVec
	lockTimeouts   *prometheus.CounterVec
	lockReclaims   prometheus.Counter
	scanItemsTotal prometheus.Counter
	scanErrors     prometheus.Counter
}

// New registers every collector on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)
	return &Metrics{
		reg: reg,
		lookupsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "indu_cache_lookups_total",
				Help: "Cache lookups by result",
			},
			[]string{"result"},
		),
		storesTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "indu_cache_stores_total",
			Help: "Directories stored into the cache",
		}),
		replayedItems: f.NewCounter(prometheus.CounterOpts{
			Name: "indu_cache_replayed_items_total",
			Help: "Items emitted from the cache instead of the filesystem",
		}),
		entriesLoaded: f.NewGauge(prometheus.GaugeOpts{
			Name: "indu_cache_entries_loaded",
			Help: "Entries read from the cache file at startup",
		}),
		entriesSaved: f.NewGauge(prometheus.GaugeOpts{
			Name: "indu_cache_entries_saved",
			Help: "Entries written by the last save",
		}),
		saveDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "indu_cache_save_duration_seconds",
			Help:    "Time to write and publish the cache file",
			Buckets: prometheus.DefBuckets,
		}),
		saveFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "indu_cache_save_failures_total",
			Help: "Saves that left the previous cache file in place",
		}),
		lockWait: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "indu_lock_wait_seconds",
				Help:    "Time spent acquiring the cache lock",
				Buckets: []float64{.001, .01, .05, .1, .5, 1, 5, 10},
			},
			[]string{"mode"},
		),
		lockTimeouts: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "indu_lock_timeouts_total",
				Help: "Lock acquisitions that gave up",
			},
			[]string{"mode"},
		),
		lockReclaims: f.NewCounter(prometheus.CounterOpts{
			Name: "indu_lock_reclaims_total",
			Help: "Stale locks taken over from dead or stuck holders",
		}),
		scanItemsTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "indu_scan_items_total",
			Help: "Items visited by the live walker",
		}),
		scanErrors: f.NewCounter(prometheus.CounterOpts{
			Name: "indu_scan_errors_total",
			Help: "Items that could not be read",
		}),
	}
}

// Registry exposes the private registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.reg
}

// CacheLookup counts a lookup as a hit or a miss.
func (m *Metrics) CacheLookup(hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.lookupsTotal.WithLabelValues(result).Inc()
}

// CacheStore counts one stored directory.
func (m *Metrics) CacheStore() {
	if m == nil {
		return
	}
	m.storesTotal.Inc()
}

// CacheReplayed counts items emitted by replay.
func (m *Metrics) CacheReplayed(n int) {
	if m == nil {
		return
	}
	m.replayedItems.Add(float64(n))
}

// CacheLoaded records how many entries a load produced.
func (m *Metrics) CacheLoaded(n int) {
	if m == nil {
		return
	}
	m.entriesLoaded.Set(float64(n))
}

// CacheSaved records a successful save.
func (m *Metrics) CacheSaved(n int, d time.Duration) {
	if m == nil {
		return
	}
	m.entriesSaved.Set(float64(n))
	m.saveDuration.Observe(d.Seconds())
}

// CacheSaveFailed counts a failed save.
func (m *Metrics) CacheSaveFailed() {
	if m == nil {
		return
	}
	m.saveFailures.Inc()
}

// LockWait implements lock.Observer.
func (m *Metrics) LockWait(mode string, d time.Duration, acquired bool) {
	if m == nil {
		return
	}
	m.lockWait.WithLabelValues(mode).Observe(d.Seconds())
	if !acquired {
		m.lockTimeouts.WithLabelValues(mode).Inc()
	}
}

// LockReclaimed implements lock.Observer.
func (m *Metrics) LockReclaimed() {
	if m == nil {
		return
	}
	m.lockReclaims.Inc()
}

// ScanItem counts one visited item and whether it failed.
func (m *Metrics) ScanItem(failed bool) {
	if m == nil {
		return
	}
	m.scanItemsTotal.Inc()
	if failed {
		m.scanErrors.Inc()
	}
}

// WriteTextfile writes every collector in the text exposition format.
func (m *Metrics) WriteTextfile(path string) error {
	if m == nil {
		return nil
	}
	return prometheus.WriteToTextfile(path, m.reg)
}
