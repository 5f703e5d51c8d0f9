package transfer

import (
	"sync/atomic"
	"time"
)

// emit at most once per this many new bytes, plus once at completion
const progressStep = 100 * 1024

// meter tracks cumulative bytes for one resumable transfer and throttles
// Downloading events. Safe for concurrent use by all segment workers.
type meter struct {
	fileName    string
	total       int64
	resumedFrom int64 // bytes inherited from a prior session, excluded from rates
	started     time.Time
	downloaded  atomic.Int64
	lastEmit    atomic.Int64
	onProgress  ProgressFunc
}

func newMeter(fileName string, total int64, alreadyDone int64, onProgress ProgressFunc) *meter {
	m := &meter{
		fileName:    fileName,
		total:       total,
		resumedFrom: alreadyDone,
		started:     time.Now(),
		onProgress:  onProgress,
	}
	m.downloaded.Store(alreadyDone)
	m.lastEmit.Store(alreadyDone)
	return m
}

func (m *meter) add(n int64) {
	downloaded := m.downloaded.Add(n)
	if m.onProgress == nil {
		return
	}
	last := m.lastEmit.Load()
	if downloaded-last <= progressStep && downloaded < m.total {
		return
	}
	if !m.lastEmit.CompareAndSwap(last, downloaded) {
		return // another worker just emitted
	}
	m.onProgress(m.event(downloaded, StatusDownloading))
}

func (m *meter) current() int64 {
	return m.downloaded.Load()
}

func (m *meter) emitStatus(status Status) {
	if m.onProgress == nil {
		return
	}
	m.onProgress(m.event(m.downloaded.Load(), status))
}

func (m *meter) event(downloaded int64, status Status) Event {
	elapsed := time.Since(m.started).Seconds()
	var speed int64
	if session := downloaded - m.resumedFrom; session > 0 && elapsed > 0 {
		speed = int64(float64(session) / elapsed)
	}
	var eta int64
	if speed > 0 && m.total > downloaded {
		eta = (m.total - downloaded) / speed
	}
	var percent float64
	if m.total > 0 {
		percent = float64(downloaded) / float64(m.total) * 100
	}
	return Event{
		FileName:    m.fileName,
		Downloaded:  downloaded,
		Total:       m.total,
		BytesPerSec: speed,
		ETASeconds:  eta,
		Percent:     percent,
		Status:      status,
	}
}

// Aggregator keeps batch-wide counters. Every batch call owns a fresh one,
// so concurrent batches never bleed totals into each other.
type Aggregator struct {
	totalFiles     int
	completedFiles atomic.Int32
	totalBytes     atomic.Int64
}

type BatchTotals struct {
	CompletedFiles int
	TotalFiles     int
	TotalBytes     int64
}

func NewAggregator(totalFiles int) *Aggregator {
	return &Aggregator{totalFiles: totalFiles}
}

func (a *Aggregator) AddBytes(n int64) {
	a.totalBytes.Add(n)
}

func (a *Aggregator) FileDone() {
	a.completedFiles.Add(1)
}

func (a *Aggregator) Totals() BatchTotals {
	return BatchTotals{
		CompletedFiles: int(a.completedFiles.Load()),
		TotalFiles:     a.totalFiles,
		TotalBytes:     a.totalBytes.Load(),
	}
}
