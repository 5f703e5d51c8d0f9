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
	"sync/atomic"

	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/convoy-dl/convoy/checksum"
	s3dl "github.com/convoy-dl/convoy/sources/s3"
	"github.com/convoy-dl/convoy/utils"
)

const maxBatchWorkers = 128

type FailurePolicy int

const (
	// BestEffort settles every task, logs failures and returns nil. The
	// caller reads what actually happened out of BatchResult.
	BestEffort FailurePolicy = iota
	// Strict also settles every task, then returns PartialFailureError if
	// anything failed.
	Strict
)

type BatchOptions struct {
	Workers    int
	Policy     FailurePolicy
	Client     utils.HTTPDoer
	OnProgress BatchProgressFunc
}

type BatchResult struct {
	CompletedFiles int
	TotalFiles     int
	TotalBytes     int64
	Failed         []TaskError
}

// PerformBatch fetches every task with a bounded worker pool. Files already
// on disk that pass their hash check are skipped. The call returns only
// after every task has settled; no failure stops the others.
func PerformBatch(ctx context.Context, tasks []Task, opts BatchOptions) (*BatchResult, error) {
	log := utils.GetLogger("batch").With().Str("batchId", uuid.NewString()[:8]).Logger()
	workers := clampWorkers(opts.Workers)
	client := opts.Client
	if client == nil {
		client = utils.NewClient(utils.HTTPClientConfig{})
	}
	emit := opts.OnProgress
	if emit == nil {
		emit = func(BatchEvent) {}
	}
	run := &batchRun{
		client: client,
		agg:    NewAggregator(len(tasks)),
		emit:   emit,
		s3Client: sync.OnceValues(func() (*awss3.Client, error) {
			return s3dl.NewClient(ctx)
		}),
	}
	log.Debug().Int("tasks", len(tasks)).Int("workers", workers).Msg("Starting batch download")

	var g errgroup.Group
	g.SetLimit(workers)
	var mu sync.Mutex
	var failed []TaskError
	for _, task := range tasks {
		task := task
		g.Go(func() error {
			if err := run.fetchOne(ctx, task); err != nil {
				log.Error().Err(err).Str("dest", task.Dest).Msg("Transfer failed")
				run.event(filepath.Base(task.Dest), StatusError, 0, 0)
				mu.Lock()
				failed = append(failed, TaskError{URL: task.URL, Dest: task.Dest, Err: err})
				mu.Unlock()
			}
			return nil
		})
	}
	g.Wait()

	totals := run.agg.Totals()
	result := &BatchResult{
		CompletedFiles: totals.CompletedFiles,
		TotalFiles:     totals.TotalFiles,
		TotalBytes:     totals.TotalBytes,
		Failed:         failed,
	}
	log.Debug().Int("completed", result.CompletedFiles).Int("failed", len(failed)).Int64("bytes", result.TotalBytes).Msg("Batch settled")
	if opts.Policy == Strict && len(failed) > 0 {
		return result, &PartialFailureError{Failed: failed}
	}
	return result, nil
}

func clampWorkers(n int) int {
	if n < 1 {
		return 1
	}
	if n > maxBatchWorkers {
		return maxBatchWorkers
	}
	return n
}

type batchRun struct {
	client   utils.HTTPDoer
	agg      *Aggregator
	emit     BatchProgressFunc
	s3Client func() (*awss3.Client, error)
}

func (r *batchRun) event(file string, status Status, downloaded int64, total int64) {
	totals := r.agg.Totals()
	r.emit(BatchEvent{
		File:           file,
		Downloaded:     downloaded,
		Total:          total,
		Status:         status,
		CompletedFiles: totals.CompletedFiles,
		TotalFiles:     totals.TotalFiles,
		TotalBytes:     totals.TotalBytes,
	})
}

func (r *batchRun) fetchOne(ctx context.Context, task Task) error {
	if task.URL == "" || task.Dest == "" {
		return errors.New("batch entries need both a URL and a destination")
	}
	fileName := filepath.Base(task.Dest)
	// only a declared hash can vouch for an existing file; without one the
	// destination is re-fetched even when it is already on disk
	if task.SHA256 != "" || task.SHA1 != "" {
		if _, err := os.Stat(task.Dest); err == nil {
			r.event(fileName, StatusVerifying, 0, 0)
			if ok, err := checksum.VerifyFile(task.Dest, task.SHA256, task.SHA1); err == nil && ok {
				if info, err := os.Stat(task.Dest); err == nil {
					r.agg.AddBytes(info.Size())
				}
				r.agg.FileDone()
				r.event(fileName, StatusSkipped, 0, 0)
				return nil
			}
			// invalid or unreadable on-disk copy gets overwritten below
		}
	}
	if err := os.MkdirAll(filepath.Dir(task.Dest), 0755); err != nil {
		return fmt.Errorf("error creating destination directory: %w", err)
	}
	if strings.HasPrefix(task.URL, "s3://") {
		return r.fetchS3(ctx, task, fileName)
	}
	return r.fetchHTTP(ctx, task, fileName)
}

func (r *batchRun) fetchHTTP(ctx context.Context, task Task, fileName string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, task.URL, nil)
	if err != nil {
		return err
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("error requesting %s: %w", task.URL, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}
	total := resp.ContentLength
	if total < 0 {
		total = 0
	}
	outFile, err := os.Create(task.Dest)
	if err != nil {
		return fmt.Errorf("error creating output file: %w", err)
	}
	defer outFile.Close()

	var downloaded int64
	buffer := make([]byte, utils.DefaultBufferSize)
	for {
		bytesRead, readErr := resp.Body.Read(buffer)
		if bytesRead > 0 {
			if _, writeErr := outFile.Write(buffer[:bytesRead]); writeErr != nil {
				return fmt.Errorf("error writing output file: %w", writeErr)
			}
			downloaded += int64(bytesRead)
			r.agg.AddBytes(int64(bytesRead))
			r.event(fileName, StatusDownloading, downloaded, total)
		}
		if readErr != nil {
			if readErr == io.EOF {
				break
			}
			return fmt.Errorf("error reading response body: %w", readErr)
		}
	}
	r.agg.FileDone()
	r.event(fileName, StatusFinished, downloaded, total)
	return nil
}

func (r *batchRun) fetchS3(ctx context.Context, task Task, fileName string) error {
	client, err := r.s3Client()
	if err != nil {
		return fmt.Errorf("error creating S3 client: %w", err)
	}
	total, err := s3dl.ObjectSize(ctx, client, task.URL)
	if err != nil {
		return fmt.Errorf("error getting S3 object info: %w", err)
	}
	var downloaded atomic.Int64
	err = s3dl.Download(ctx, client, task.URL, task.Dest, func(n int64) {
		r.agg.AddBytes(n)
		r.event(fileName, StatusDownloading, downloaded.Add(n), total)
	})
	if err != nil {
		return err
	}
	r.agg.FileDone()
	r.event(fileName, StatusFinished, downloaded.Load(), total)
	return nil
}
