package metrics

import (
	"sync/atomic"

	"github.com/paulschiretz/pgl-dedup/pkg/plog"
	"github.com/paulschiretz/pgl-dedup/pkg/util"
)

// Metrics defines the interface for collecting and reporting dedup run statistics.
type Metrics interface {
	AddFilesScanned(n int64)
	AddFilesTooSmall(n int64)
	AddFilesExcludedType(n int64)
	AddSizeCollisions(n int64)
	AddCacheHits(n int64)
	AddHashesComputed(n int64)
	AddBytesHashed(n int64)
	AddFilesVanished(n int64)
	AddFilesDenied(n int64)
	Log()
}

// DedupMetrics holds the atomic counters for tracking a dedup run's progress.
// It is the concrete implementation of the Metrics interface.
type DedupMetrics struct {
	FilesScanned      atomic.Int64
	FilesTooSmall     atomic.Int64
	FilesExcludedType atomic.Int64
	SizeCollisions    atomic.Int64
	CacheHits         atomic.Int64
	HashesComputed    atomic.Int64
	BytesHashed       atomic.Int64
	FilesVanished     atomic.Int64
	FilesDenied       atomic.Int64
}

func (m *DedupMetrics) AddFilesScanned(n int64)      { m.FilesScanned.Add(n) }
func (m *DedupMetrics) AddFilesTooSmall(n int64)     { m.FilesTooSmall.Add(n) }
func (m *DedupMetrics) AddFilesExcludedType(n int64) { m.FilesExcludedType.Add(n) }
func (m *DedupMetrics) AddSizeCollisions(n int64)    { m.SizeCollisions.Add(n) }
func (m *DedupMetrics) AddCacheHits(n int64)         { m.CacheHits.Add(n) }
func (m *DedupMetrics) AddHashesComputed(n int64)    { m.HashesComputed.Add(n) }
func (m *DedupMetrics) AddBytesHashed(n int64)       { m.BytesHashed.Add(n) }
func (m *DedupMetrics) AddFilesVanished(n int64)     { m.FilesVanished.Add(n) }
func (m *DedupMetrics) AddFilesDenied(n int64)       { m.FilesDenied.Add(n) }

// Log prints a summary of the dedup run.
func (m *DedupMetrics) Log() {
	plog.Info("SUM",
		"filesScanned", m.FilesScanned.Load(),
		"filesTooSmall", m.FilesTooSmall.Load(),
		"filesExcludedType", m.FilesExcludedType.Load(),
		"sizeCollisions", m.SizeCollisions.Load(),
		"cacheHits", m.CacheHits.Load(),
		"hashesComputed", m.HashesComputed.Load(),
		"bytesHashed", util.FormatBytes(m.BytesHashed.Load()),
		"filesVanished", m.FilesVanished.Load(),
		"filesDenied", m.FilesDenied.Load(),
	)
}

// NoopMetrics is an implementation of the Metrics interface that performs no operations.
// It can be used to disable metrics collection without changing the calling code.
type NoopMetrics struct{}

func (m *NoopMetrics) AddFilesScanned(n int64)      {}
func (m *NoopMetrics) AddFilesTooSmall(n int64)     {}
func (m *NoopMetrics) AddFilesExcludedType(n int64) {}
func (m *NoopMetrics) AddSizeCollisions(n int64)    {}
func (m *NoopMetrics) AddCacheHits(n int64)         {}
func (m *NoopMetrics) AddHashesComputed(n int64)    {}
func (m *NoopMetrics) AddBytesHashed(n int64)       {}
func (m *NoopMetrics) AddFilesVanished(n int64)     {}
func (m *NoopMetrics) AddFilesDenied(n int64)       {}
func (m *NoopMetrics) Log()                         {}

// Statically assert that our types implement the interface.
var _ Metrics = (*DedupMetrics)(nil)
var _ Metrics = (*NoopMetrics)(nil)
