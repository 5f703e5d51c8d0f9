package transfer

// Task is one unit of batch work: where to fetch from, where the bytes
// land, and optionally what they must hash to.
type Task struct {
	URL    string `yaml:"url" json:"url"`
	Dest   string `yaml:"dest" json:"dest"`
	SHA256 string `yaml:"sha256,omitempty" json:"sha256,omitempty"`
	SHA1   string `yaml:"sha1,omitempty" json:"sha1,omitempty"`
}

type Status string

const (
	StatusDownloading Status = "Downloading"
	StatusVerifying   Status = "Verifying"
	StatusSkipped     Status = "Skipped"
	StatusFinished    Status = "Finished"
	StatusExtracting  Status = "Extracting"
	StatusCompleted   Status = "Completed"
	StatusPaused      Status = "Paused"
	StatusError       Status = "Error"
)

// Event reports progress of a single resumable transfer. Speed and ETA are
// estimates over the life of the call, not instantaneous rates.
type Event struct {
	FileName    string
	Downloaded  int64
	Total       int64
	BytesPerSec int64
	ETASeconds  int64
	Percent     float64
	Status      Status
}

type ProgressFunc func(Event)

// BatchEvent reports per-file progress plus batch-wide totals so consumers
// never have to track aggregate state themselves.
type BatchEvent struct {
	File           string
	Downloaded     int64
	Total          int64
	Status         Status
	CompletedFiles int
	TotalFiles     int
	TotalBytes     int64
}

type BatchProgressFunc func(BatchEvent)
