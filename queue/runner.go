package queue

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/convoy-dl/convoy/checksum"
	"github.com/convoy-dl/convoy/transfer"
	"github.com/convoy-dl/convoy/utils"
)

// InstallFunc unpacks or otherwise installs a verified archive. It runs
// after download and verification; a non-nil error keeps the record
// queued for a later retry.
type InstallFunc func(ctx context.Context, rec Record, archivePath string) error

// Runner drives queued records through download, verification and install.
type Runner struct {
	Queue      *Queue
	Client     utils.HTTPDoer
	Install    InstallFunc
	OnProgress transfer.ProgressFunc
	Retries    int
}

// Fetch runs one record end to end. The record is enqueued before any
// network traffic so an interruption at any point leaves a retryable
// entry, and dequeued only once install has succeeded.
func (r *Runner) Fetch(ctx context.Context, rec Record) error {
	log := utils.GetLogger("runner").With().Str("artifact", rec.Key()).Logger()
	if rec.URL == "" || rec.FileName == "" || rec.InstallDir == "" {
		return fmt.Errorf("queue record %s is missing required fields", rec.Key())
	}
	if err := r.Queue.Add(rec); err != nil {
		return fmt.Errorf("error enqueueing transfer: %w", err)
	}
	archivePath := filepath.Join(rec.InstallDir, rec.FileName)

	needDownload := true
	if _, err := os.Stat(archivePath); err == nil {
		r.emit(rec, transfer.StatusVerifying, 0)
		if ok, verr := checksum.VerifyFile(archivePath, rec.Checksum, ""); verr == nil && ok {
			log.Debug().Str("archive", archivePath).Msg("Archive already present and verified, skipping download")
			r.emit(rec, transfer.StatusSkipped, rec.Size)
			needDownload = false
		}
	}
	if needDownload {
		err := transfer.PerformResumable(ctx, transfer.ResumableJob{
			URL:        rec.URL,
			Dest:       archivePath,
			Size:       rec.Size,
			SHA256:     rec.Checksum,
			Client:     r.Client,
			Retries:    r.Retries,
			OnProgress: r.OnProgress,
		})
		if err != nil {
			return err
		}
	}
	if r.Install != nil {
		r.emit(rec, transfer.StatusExtracting, rec.Size)
		if err := r.Install(ctx, rec, archivePath); err != nil {
			r.emit(rec, transfer.StatusError, rec.Size)
			return fmt.Errorf("error installing %s: %w", rec.FileName, err)
		}
	}
	if err := r.Queue.Remove(rec.Version, rec.Variant); err != nil {
		return fmt.Errorf("error removing completed record: %w", err)
	}
	r.emit(rec, transfer.StatusCompleted, rec.Size)
	log.Debug().Str("archive", archivePath).Msg("Record completed and dequeued")
	return nil
}

// ResumeAll retries every pending record sequentially in queue order.
// Failures are logged and left queued so the next run tries again.
func (r *Runner) ResumeAll(ctx context.Context) []Record {
	log := utils.GetLogger("runner")
	records := r.Queue.Records()
	if len(records) == 0 {
		return nil
	}
	log.Info().Int("pending", len(records)).Msg("Resuming pending transfers")
	var done []Record
	for _, rec := range records {
		if ctx.Err() != nil {
			log.Warn().Msg("Resume interrupted, remaining records stay queued")
			break
		}
		if err := r.Fetch(ctx, rec); err != nil {
			log.Error().Err(err).Str("artifact", rec.Key()).Msg("Pending transfer failed, leaving queued")
			continue
		}
		done = append(done, rec)
	}
	return done
}

func (r *Runner) emit(rec Record, status transfer.Status, downloaded int64) {
	if r.OnProgress == nil {
		return
	}
	var percent float64
	if rec.Size > 0 {
		percent = float64(downloaded) / float64(rec.Size) * 100
	}
	r.OnProgress(transfer.Event{
		FileName:   rec.FileName,
		Downloaded: downloaded,
		Total:      rec.Size,
		Percent:    percent,
		Status:     status,
	})
}
