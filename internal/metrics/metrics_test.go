package metrics

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	m.CacheLookup(true)
	m.CacheStore()
	m.CacheReplayed(3)
	m.CacheLoaded(1)
	m.CacheSaved(1, time.Second)
	m.CacheSaveFailed()
	m.LockWait("shared", time.Millisecond, false)
	m.LockReclaimed()
	m.ScanItem(true)
	assert.Nil(t, m.Registry())
	assert.NoError(t, m.WriteTextfile(filepath.Join(t.TempDir(), "x.prom")))
}

func TestCounters(t *testing.T) {
	m := New()
	m.CacheLookup(true)
	m.CacheLookup(true)
	m.CacheLookup(false)
	m.CacheStore()
	m.CacheReplayed(5)
	m.LockWait("exclusive", 10*time.Millisecond, false)
	m.LockWait("exclusive", time.Millisecond, true)
	m.LockReclaimed()
	m.ScanItem(false)
	m.ScanItem(true)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.lookupsTotal.WithLabelValues("hit")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.lookupsTotal.WithLabelValues("miss")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.storesTotal))
	assert.Equal(t, 5.0, testutil.ToFloat64(m.replayedItems))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.lockTimeouts.WithLabelValues("exclusive")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.lockReclaims))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.scanItemsTotal))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.scanErrors))
}

func TestGauges(t *testing.T) {
	m := New()
	m.CacheLoaded(42)
	m.CacheSaved(40, 3*time.Millisecond)
	assert.Equal(t, 42.0, testutil.ToFloat64(m.entriesLoaded))
	assert.Equal(t, 40.0, testutil.ToFloat64(m.entriesSaved))
}

func TestWriteTextfile(t *testing.T) {
	m := New()
	m.CacheStore()
	path := filepath.Join(t.TempDir(), "indu.prom")
	require.NoError(t, m.WriteTextfile(path))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(raw), "indu_cache_stores_total 1"))
}
