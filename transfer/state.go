package transfer

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

const (
	singleSegmentLimit = 20 * 1024 * 1024
	quadSegmentLimit   = 100 * 1024 * 1024
)

// SegmentCount picks how many byte ranges a transfer is split into. Small
// files stay sequential, mid-size files get four lanes, everything larger
// gets eight.
func SegmentCount(totalSize int64) int {
	switch {
	case totalSize < singleSegmentLimit:
		return 1
	case totalSize < quadSegmentLimit:
		return 4
	default:
		return 8
	}
}

type Segment struct {
	Start      int64 `json:"start"`
	End        int64 `json:"end"`
	Downloaded int64 `json:"downloaded"`
	Completed  bool  `json:"completed"`
}

// State is the sidecar record that makes a transfer resumable across
// process restarts. It lives next to the partial file and is deleted once
// the destination is committed.
type State struct {
	URL        string    `json:"url"`
	FileName   string    `json:"file_name"`
	TotalSize  int64     `json:"total_size"`
	Downloaded int64     `json:"downloaded_bytes"`
	Checksum   string    `json:"checksum,omitempty"`
	Timestamp  int64     `json:"timestamp"`
	Segments   []Segment `json:"segments"`
}

func NewState(url string, fileName string, totalSize int64, checksum string) *State {
	return &State{
		URL:       url,
		FileName:  fileName,
		TotalSize: totalSize,
		Checksum:  checksum,
		Timestamp: time.Now().Unix(),
		Segments:  PlanSegments(totalSize),
	}
}

// PlanSegments splits totalSize into contiguous ranges, the last segment
// absorbing any division remainder.
func PlanSegments(totalSize int64) []Segment {
	count := SegmentCount(totalSize)
	segmentSize := totalSize / int64(count)
	segments := make([]Segment, 0, count)
	var position int64
	for i := 0; i < count; i++ {
		endByte := position + segmentSize - 1
		if i == count-1 {
			endByte = totalSize - 1
		}
		segments = append(segments, Segment{Start: position, End: endByte})
		position = endByte + 1
	}
	return segments
}

func LoadState(metaPath string) (*State, error) {
	data, err := os.ReadFile(metaPath)
	if err != nil {
		return nil, err
	}
	var state State
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("error parsing transfer state: %w", err)
	}
	return &state, nil
}

func (s *State) Save(metaPath string) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(metaPath, data, 0644)
}

// Valid reports whether the recorded segments form a sane plan for the
// recorded size. Hand-edited or truncated sidecars fail this and the
// transfer starts over.
func (s *State) Valid() bool {
	if s.TotalSize <= 0 || len(s.Segments) == 0 {
		return false
	}
	var position int64
	for _, seg := range s.Segments {
		length := seg.End - seg.Start + 1
		if seg.Start != position || length <= 0 {
			return false
		}
		if seg.Downloaded < 0 || seg.Downloaded > length {
			return false
		}
		if seg.Completed && seg.Downloaded != length {
			return false
		}
		position = seg.End + 1
	}
	return position == s.TotalSize
}

func PartPath(dest string) string {
	return dest + ".part"
}

func MetaPath(dest string) string {
	return dest + ".part.meta"
}

// Clean removes the partial file and sidecar state for a destination,
// leaving any committed file alone.
func Clean(dest string) error {
	if err := os.Remove(PartPath(dest)); err != nil && !os.IsNotExist(err) {
		return err
	}
	if err := os.Remove(MetaPath(dest)); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
