package output

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/convoy-dl/convoy/transfer"
)

const displayTick = 500 * time.Millisecond

// Display renders live transfer progress in place, one line per file. It
// consumes progress events from the transfer package; callers should route
// logs elsewhere while it owns the terminal.
type Display struct {
	mu       sync.RWMutex
	rows     map[string]*fileRow
	numLines int
	doneCh   chan struct{}
	wg       sync.WaitGroup
	started  time.Time

	completedFiles int
	totalFiles     int
	totalBytes     int64
}

type fileRow struct {
	name       string
	downloaded int64
	total      int64
	status     transfer.Status
	rate       int64 // bytes per second
	etaSeconds int64
	fromMeter  bool
	lastBytes  int64
	lastTime   time.Time
}

func NewDisplay() *Display {
	return &Display{
		rows:   make(map[string]*fileRow),
		doneCh: make(chan struct{}),
	}
}

// Register pre-seeds a row so queued files show as waiting before their
// first progress event arrives.
func (d *Display) Register(name string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.row(name)
}

func (d *Display) row(name string) *fileRow {
	if r, exists := d.rows[name]; exists {
		return r
	}
	r := &fileRow{name: name, lastTime: time.Now()}
	d.rows[name] = r
	return r
}

// BatchFunc adapts the display to batch progress events.
func (d *Display) BatchFunc() transfer.BatchProgressFunc {
	return func(ev transfer.BatchEvent) {
		d.mu.Lock()
		defer d.mu.Unlock()
		d.completedFiles = ev.CompletedFiles
		d.totalFiles = ev.TotalFiles
		d.totalBytes = ev.TotalBytes
		r := d.row(ev.File)
		r.downloaded = ev.Downloaded
		if ev.Total > 0 {
			r.total = ev.Total
		}
		r.status = ev.Status
	}
}

// TransferFunc adapts the display to single-transfer progress events,
// which already carry speed and ETA estimates.
func (d *Display) TransferFunc() transfer.ProgressFunc {
	return func(ev transfer.Event) {
		d.mu.Lock()
		defer d.mu.Unlock()
		r := d.row(ev.FileName)
		r.downloaded = ev.Downloaded
		if ev.Total > 0 {
			r.total = ev.Total
		}
		r.status = ev.Status
		r.rate = ev.BytesPerSec
		r.etaSeconds = ev.ETASeconds
		r.fromMeter = true
	}
}

func (d *Display) Start() {
	d.started = time.Now()
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		ticker := time.NewTicker(displayTick)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				d.redraw()
			case <-d.doneCh:
				d.redraw()
				return
			}
		}
	}()
}

func (d *Display) Stop() {
	close(d.doneCh)
	d.wg.Wait()
}

func (d *Display) redraw() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.numLines > 0 {
		fmt.Printf("\033[%dA\033[J", d.numLines)
	}
	barWidth := 30
	if GetTerminalWidth() < 100 {
		barWidth = 20
	}
	now := time.Now()
	active, settled, waiting := d.group()
	lines := 0
	for _, r := range active {
		if r.status == transfer.StatusDownloading && !r.fromMeter {
			r.refreshRate(now)
		}
		fmt.Println(renderActive(r, barWidth))
		lines++
	}
	for _, r := range settled {
		fmt.Println(renderSettled(r))
		lines++
	}
	for _, r := range waiting {
		fmt.Println(renderWaiting(r))
		lines++
	}
	d.numLines = lines
}

func (d *Display) group() (active, settled, waiting []*fileRow) {
	var names []string
	for name := range d.rows {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		r := d.rows[name]
		switch r.status {
		case transfer.StatusSkipped, transfer.StatusFinished, transfer.StatusCompleted,
			transfer.StatusPaused, transfer.StatusError:
			settled = append(settled, r)
		case "":
			waiting = append(waiting, r)
		default:
			active = append(active, r)
		}
	}
	return active, settled, waiting
}

// refreshRate derives a transfer rate from tick-to-tick deltas for rows
// whose event stream carries no rate of its own.
func (r *fileRow) refreshRate(now time.Time) {
	dt := now.Sub(r.lastTime).Seconds()
	if dt <= 0 {
		return
	}
	r.rate = int64(float64(r.downloaded-r.lastBytes) / dt)
	r.lastBytes = r.downloaded
	r.lastTime = now
	if r.rate > 0 && r.total > 0 {
		r.etaSeconds = (r.total - r.downloaded) / r.rate
	}
}

func renderActive(r *fileRow, barWidth int) string {
	pad := strings.Repeat(" ", basePadding)
	name := truncateName(r.name)
	switch r.status {
	case transfer.StatusVerifying:
		return fmt.Sprintf("%s%s %s %s", pad, infoStyle.Render(StyleSymbols["info"]), name, debugStyle.Render("verifying checksum"))
	case transfer.StatusExtracting:
		return fmt.Sprintf("%s%s %s %s", pad, detailStyle.Render(StyleSymbols["arrow"]), name, debugStyle.Render("extracting"))
	}
	if r.total > 0 {
		stats := fmt.Sprintf("%s/%s %s/s ETA: %s",
			humanize.IBytes(uint64(r.downloaded)), humanize.IBytes(uint64(r.total)),
			humanize.IBytes(uint64(max(r.rate, 0))), formatETA(r.etaSeconds))
		return fmt.Sprintf("%s%s %s %s %s", pad, pendingStyle.Render(StyleSymbols["pending"]), name, renderBar(r.downloaded, r.total, barWidth), debugStyle.Render(stats))
	}
	stats := fmt.Sprintf("%s %s/s", humanize.IBytes(uint64(r.downloaded)), humanize.IBytes(uint64(max(r.rate, 0))))
	return fmt.Sprintf("%s%s %s %s", pad, pendingStyle.Render(StyleSymbols["pending"]), name, debugStyle.Render(stats))
}

func renderSettled(r *fileRow) string {
	pad := strings.Repeat(" ", basePadding)
	name := truncateName(r.name)
	switch r.status {
	case transfer.StatusError:
		return fmt.Sprintf("%s%s %s %s", pad, errorStyle.Render(StyleSymbols["fail"]), name, errorStyle.Render("failed"))
	case transfer.StatusPaused:
		return fmt.Sprintf("%s%s %s %s", pad, warningStyle.Render(StyleSymbols["warning"]), name, warningStyle.Render("paused, rerun to resume"))
	case transfer.StatusSkipped:
		return fmt.Sprintf("%s%s %s %s", pad, successStyle.Render(StyleSymbols["pass"]), name, debugStyle.Render("already complete"))
	default:
		return fmt.Sprintf("%s%s %s %s", pad, successStyle.Render(StyleSymbols["pass"]), name, debugStyle.Render(humanize.IBytes(uint64(r.downloaded))))
	}
}

func renderWaiting(r *fileRow) string {
	pad := strings.Repeat(" ", basePadding)
	return fmt.Sprintf("%s%s %s %s", pad, debugStyle.Render(StyleSymbols["pending"]), truncateName(r.name), debugStyle.Render("waiting"))
}

func truncateName(name string) string {
	if len(name) > 25 {
		return "..." + name[len(name)-22:]
	}
	return name
}

func formatETA(seconds int64) string {
	if seconds <= 0 {
		return "calculating..."
	}
	if seconds < 60 {
		return fmt.Sprintf("%ds", seconds)
	}
	if seconds < 3600 {
		return fmt.Sprintf("%dm %ds", seconds/60, seconds%60)
	}
	return fmt.Sprintf("%dh %dm", seconds/3600, (seconds%3600)/60)
}

// Summary prints final counts after the live display has stopped.
func (d *Display) Summary() {
	d.mu.RLock()
	defer d.mu.RUnlock()
	var done, failed, paused int
	var bytes int64
	for _, r := range d.rows {
		switch r.status {
		case transfer.StatusSkipped, transfer.StatusFinished, transfer.StatusCompleted:
			done++
		case transfer.StatusError:
			failed++
		case transfer.StatusPaused:
			paused++
		}
		bytes += r.downloaded
	}
	total := len(d.rows)
	if d.totalFiles > 0 {
		total = d.totalFiles
		done = d.completedFiles
	}
	if d.totalBytes > bytes {
		bytes = d.totalBytes
	}
	elapsed := time.Since(d.started)
	rate := int64(0)
	if secs := elapsed.Seconds(); secs > 0 {
		rate = int64(float64(bytes) / secs)
	}
	pad := strings.Repeat(" ", basePadding)
	fmt.Println()
	fmt.Println(pad + successStyle.Render(fmt.Sprintf("Completed %d of %d", done, total)))
	if failed > 0 {
		fmt.Println(pad + errorStyle.Render(fmt.Sprintf("Failed %d of %d", failed, total)))
	}
	if paused > 0 {
		fmt.Println(pad + warningStyle.Render(fmt.Sprintf("Paused %d, rerun the same command to resume", paused)))
	}
	fmt.Println(pad + debugStyle.Render(fmt.Sprintf("Total data: %s, overall speed: %s/s, time elapsed: %s",
		humanize.IBytes(uint64(bytes)), humanize.IBytes(uint64(rate)), elapsed.Round(100*time.Millisecond))))
	fmt.Println()
}
