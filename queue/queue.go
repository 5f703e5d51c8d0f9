package queue

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/convoy-dl/convoy/utils"
)

// Record is one pending large transfer. Version plus Variant identify the
// artifact; re-adding the same pair replaces the old record.
type Record struct {
	Version    string `json:"version"`
	Variant    string `json:"variant"`
	URL        string `json:"url"`
	FileName   string `json:"file_name"`
	Size       int64  `json:"size"`
	Checksum   string `json:"checksum,omitempty"`
	InstallDir string `json:"install_dir"`
	CreatedAt  int64  `json:"created_at"`
}

func (r Record) Key() string {
	return r.Version + "/" + r.Variant
}

type queueFile struct {
	Pending []Record `json:"pending"`
}

// Queue is the on-disk list of transfers that still owe work. It is read
// whole and rewritten whole on every mutation; a single process owns it.
type Queue struct {
	path    string
	records []Record
}

// Load reads the queue at path. A missing file is an empty queue, and so
// is a corrupt one after a warning, because a broken queue file must never
// block new downloads.
func Load(path string) *Queue {
	log := utils.GetLogger("queue")
	q := &Queue{path: path}
	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Warn().Err(err).Str("path", path).Msg("Could not read pending queue, starting empty")
		}
		return q
	}
	var file queueFile
	if err := json.Unmarshal(data, &file); err != nil {
		log.Warn().Err(err).Str("path", path).Msg("Pending queue is corrupt, starting empty")
		return q
	}
	q.records = file.Pending
	return q
}

func (q *Queue) save() error {
	if err := os.MkdirAll(filepath.Dir(q.path), 0755); err != nil {
		return fmt.Errorf("error creating queue directory: %w", err)
	}
	data, err := json.MarshalIndent(queueFile{Pending: q.records}, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(q.path, data, 0644)
}

// Add records a pending transfer, replacing any record with the same
// version and variant, and persists immediately.
func (q *Queue) Add(rec Record) error {
	if rec.CreatedAt == 0 {
		rec.CreatedAt = time.Now().Unix()
	}
	var records []Record
	for _, existing := range q.records {
		if existing.Key() != rec.Key() {
			records = append(records, existing)
		}
	}
	q.records = append(records, rec)
	return q.save()
}

// Remove drops the record for a version and variant pair and persists.
// Removing an absent record is not an error.
func (q *Queue) Remove(version string, variant string) error {
	var records []Record
	for _, existing := range q.records {
		if existing.Version != version || existing.Variant != variant {
			records = append(records, existing)
		}
	}
	q.records = records
	return q.save()
}

// Records returns a copy so callers can range over it while the queue
// mutates underneath.
func (q *Queue) Records() []Record {
	out := make([]Record, len(q.records))
	copy(out, q.records)
	return out
}

func (q *Queue) Len() int {
	return len(q.records)
}

func (q *Queue) Find(version string, variant string) (Record, bool) {
	for _, rec := range q.records {
		if rec.Version == version && rec.Variant == variant {
			return rec, true
		}
	}
	return Record{}, false
}
