package transfer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	"github.com/convoy-dl/convoy/checksum"
	"github.com/convoy-dl/convoy/utils"
)

const maxSegmentWorkers = 8
const defaultSegmentRetries = 3

// ResumableJob describes one large transfer. Size must be the declared
// length from release metadata; the segment plan is derived from it, never
// from a server probe.
type ResumableJob struct {
	URL        string
	Dest       string
	Size       int64
	SHA256     string
	Client     utils.HTTPDoer
	Retries    int
	OnProgress ProgressFunc
}

// PerformResumable downloads a file in parallel byte-range segments with
// crash-resumable state kept in a sidecar next to the partial file. The
// destination only ever appears as a complete, verified file. Cancelling
// ctx settles in-flight segments, persists state and returns with the
// partial file left in place for a later resume.
func PerformResumable(ctx context.Context, job ResumableJob) error {
	if job.URL == "" || job.Dest == "" {
		return errors.New("transfer needs both a URL and a destination")
	}
	if job.Size <= 0 {
		return fmt.Errorf("total size must be known up front, got %d", job.Size)
	}
	if job.Client == nil {
		job.Client = utils.NewClient(utils.HTTPClientConfig{})
	}
	if job.Retries <= 0 {
		job.Retries = defaultSegmentRetries
	}
	log := utils.GetLogger("resumable").With().Str("transferId", uuid.NewString()[:8]).Logger()
	fileName := filepath.Base(job.Dest)
	partPath := PartPath(job.Dest)
	metaPath := MetaPath(job.Dest)

	if err := os.MkdirAll(filepath.Dir(job.Dest), 0755); err != nil {
		return fmt.Errorf("error creating destination directory: %w", err)
	}
	state := loadOrPlan(log, metaPath, job)
	var stateMu sync.Mutex
	saveState := func() {
		stateMu.Lock()
		defer stateMu.Unlock()
		var total int64
		for i := range state.Segments {
			total += state.Segments[i].Downloaded
		}
		state.Downloaded = total
		state.Timestamp = time.Now().Unix()
		if err := state.Save(metaPath); err != nil {
			log.Warn().Err(err).Msg("Failed to persist transfer state")
		}
	}
	saveState() // the plan goes to disk before any network traffic

	partFile, err := os.OpenFile(partPath, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return fmt.Errorf("error opening partial file: %w", err)
	}
	defer partFile.Close()
	if err := partFile.Truncate(job.Size); err != nil {
		return fmt.Errorf("error pre-sizing partial file: %w", err)
	}

	meter := newMeter(fileName, job.Size, state.Downloaded, job.OnProgress)
	log.Debug().Int("segments", len(state.Segments)).Int64("size", job.Size).Int64("resumeFrom", state.Downloaded).Msg("Starting segmented download")

	sem := semaphore.NewWeighted(int64(min(len(state.Segments), maxSegmentWorkers)))
	errs := make([]error, len(state.Segments))
	var wg sync.WaitGroup
	for i := range state.Segments {
		seg := &state.Segments[i]
		if seg.Completed {
			continue
		}
		wg.Add(1)
		go func(idx int, seg *Segment) {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					errs[idx] = fmt.Errorf("segment %d worker panicked: %v", idx, r)
				}
			}()
			if err := sem.Acquire(ctx, 1); err != nil {
				errs[idx] = err
				return
			}
			defer sem.Release(1)
			if err := fetchSegment(ctx, job, idx, seg, partFile, &stateMu, meter); err != nil {
				errs[idx] = err
				return
			}
			stateMu.Lock()
			seg.Completed = true
			stateMu.Unlock()
			saveState()
		}(i, seg)
	}
	wg.Wait()

	var failed []int
	var causes []error
	for i := range state.Segments {
		if !state.Segments[i].Completed {
			failed = append(failed, i)
			if errs[i] != nil {
				causes = append(causes, errs[i])
			}
		}
	}
	if len(failed) > 0 {
		saveState()
		if ctx.Err() != nil {
			meter.emitStatus(StatusPaused)
			log.Debug().Int64("downloaded", meter.current()).Msg("Download paused, state saved for resume")
			return fmt.Errorf("download paused: %w", ctx.Err())
		}
		meter.emitStatus(StatusError)
		return &IncompleteError{File: fileName, Segments: failed, Errs: causes}
	}

	if err := partFile.Sync(); err != nil {
		return fmt.Errorf("error flushing partial file: %w", err)
	}
	if err := partFile.Close(); err != nil {
		return fmt.Errorf("error closing partial file: %w", err)
	}

	if job.SHA256 != "" {
		meter.emitStatus(StatusVerifying)
		actual, err := checksum.FileSHA256(partPath)
		if err != nil {
			return fmt.Errorf("error verifying download: %w", err)
		}
		if !strings.EqualFold(actual, job.SHA256) {
			os.Remove(partPath)
			os.Remove(metaPath)
			meter.emitStatus(StatusError)
			return &ChecksumError{File: fileName, Expected: job.SHA256, Actual: actual}
		}
	}
	if err := os.Rename(partPath, job.Dest); err != nil {
		return fmt.Errorf("error moving file into place: %w", err)
	}
	os.Remove(metaPath)
	meter.emitStatus(StatusCompleted)
	log.Debug().Str("dest", job.Dest).Msg("Download completed")
	return nil
}

// loadOrPlan resumes from a sidecar when it matches the job, otherwise
// plans fresh segments. A sidecar for a different size or checksum means
// the artifact changed upstream and its partial data is worthless.
func loadOrPlan(log zerolog.Logger, metaPath string, job ResumableJob) *State {
	state, err := LoadState(metaPath)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Warn().Err(err).Msg("Ignoring unreadable transfer state, starting fresh")
		}
		return NewState(job.URL, filepath.Base(job.Dest), job.Size, job.SHA256)
	}
	if state.TotalSize != job.Size || !strings.EqualFold(state.Checksum, job.SHA256) || !state.Valid() {
		log.Warn().Int64("stateSize", state.TotalSize).Int64("jobSize", job.Size).Msg("Sidecar does not match this artifact, starting fresh")
		return NewState(job.URL, filepath.Base(job.Dest), job.Size, job.SHA256)
	}
	var total int64
	for i := range state.Segments {
		total += state.Segments[i].Downloaded
	}
	state.Downloaded = total
	log.Debug().Int("segments", len(state.Segments)).Int64("downloaded", total).Msg("Resuming previous transfer")
	return state
}

func fetchSegment(ctx context.Context, job ResumableJob, idx int, seg *Segment, partFile *os.File, stateMu *sync.Mutex, meter *meter) error {
	log := utils.GetLogger("segment").With().Int("segment", idx).Logger()
	var lastErr error
	for attempt := 0; attempt < job.Retries; attempt++ {
		if attempt > 0 {
			log.Debug().Int("attempt", attempt+1).Int("maxRetries", job.Retries).Msg("Retrying segment download")
			select {
			case <-ctx.Done():
				return fmt.Errorf("download cancelled: %w", ctx.Err())
			case <-time.After(time.Duration(attempt) * 500 * time.Millisecond): // Backoff
			}
		}
		lastErr = streamSegment(ctx, job, seg, partFile, stateMu, meter)
		if lastErr == nil {
			log.Debug().Int64("bytes", seg.End-seg.Start+1).Msg("Segment completed")
			return nil
		}
		if ctx.Err() != nil {
			return lastErr
		}
		log.Debug().Err(lastErr).Int("attempt", attempt+1).Msg("Error downloading segment")
	}
	return lastErr
}

func streamSegment(ctx context.Context, job ResumableJob, seg *Segment, partFile *os.File, stateMu *sync.Mutex, meter *meter) error {
	stateMu.Lock()
	offset := seg.Start + seg.Downloaded
	stateMu.Unlock()
	if offset == seg.End+1 {
		return nil // a previous attempt already drained the range
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, job.URL, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Range", fmt.Sprintf("bytes=%d-%d", offset, seg.End))
	req.Header.Set("Connection", "keep-alive")
	resp, err := job.Client.Do(req)
	if err != nil {
		return fmt.Errorf("error sending range request: %w", err)
	}
	defer resp.Body.Close()
	wholeFile := seg.Start == 0 && seg.End == job.Size-1 && offset == seg.Start
	switch {
	case resp.StatusCode == http.StatusPartialContent:
		if resp.Header.Get("Content-Range") == "" {
			return errors.New("missing Content-Range header")
		}
	case resp.StatusCode == http.StatusOK && wholeFile:
		// server ignored the range header, but the request spans the whole
		// file so a full body is still correct
	default:
		return fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	buffer := make([]byte, utils.DefaultBufferSize)
	position := offset
	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("download cancelled: %w", ctx.Err())
		default:
		}
		bytesRead, readErr := resp.Body.Read(buffer)
		if bytesRead > 0 {
			if position+int64(bytesRead) > seg.End+1 {
				return fmt.Errorf("server sent %d bytes past segment end", position+int64(bytesRead)-seg.End-1)
			}
			if _, writeErr := partFile.WriteAt(buffer[:bytesRead], position); writeErr != nil {
				return fmt.Errorf("error writing to partial file: %w", writeErr)
			}
			position += int64(bytesRead)
			stateMu.Lock()
			seg.Downloaded += int64(bytesRead)
			stateMu.Unlock()
			meter.add(int64(bytesRead))
		}
		if readErr != nil {
			if readErr == io.EOF {
				break
			}
			return fmt.Errorf("error reading response body: %w", readErr)
		}
	}
	if position != seg.End+1 {
		return fmt.Errorf("size mismatch: expected %d bytes, segment stopped at %d", seg.End-seg.Start+1, position-seg.Start)
	}
	return nil
}
