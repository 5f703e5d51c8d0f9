package transfer

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/convoy-dl/convoy/checksum"
)

func testBlob(size int) []byte {
	data := make([]byte, size)
	for i := range data {
		data[i] = byte(i % 251)
	}
	return data
}

func serveBlob(t *testing.T, data []byte, hits *atomic.Int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		http.ServeContent(w, r, "blob", time.Time{}, bytes.NewReader(data))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func parseRangeHeader(r *http.Request, total int64) (int64, int64, bool) {
	header := r.Header.Get("Range")
	if !strings.HasPrefix(header, "bytes=") {
		return 0, 0, false
	}
	parts := strings.SplitN(strings.TrimPrefix(header, "bytes="), "-", 2)
	start, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return 0, 0, false
	}
	end := total - 1
	if len(parts) == 2 && parts[1] != "" {
		if parsed, err := strconv.ParseInt(parts[1], 10, 64); err == nil {
			end = parsed
		}
	}
	return start, end, true
}

type eventRecorder struct {
	mu     sync.Mutex
	events []Event
}

func (rec *eventRecorder) record(e Event) {
	rec.mu.Lock()
	defer rec.mu.Unlock()
	rec.events = append(rec.events, e)
}

func (rec *eventRecorder) statuses() []Status {
	rec.mu.Lock()
	defer rec.mu.Unlock()
	var out []Status
	for _, e := range rec.events {
		out = append(out, e.Status)
	}
	return out
}

func TestPerformResumableSingleSegment(t *testing.T) {
	data := testBlob(1 * mib)
	var hits atomic.Int32
	srv := serveBlob(t, data, &hits)
	dest := filepath.Join(t.TempDir(), "tool.bin")
	rec := &eventRecorder{}

	err := PerformResumable(context.Background(), ResumableJob{
		URL:        srv.URL,
		Dest:       dest,
		Size:       int64(len(data)),
		SHA256:     checksum.SHA256(data),
		OnProgress: rec.record,
	})
	require.NoError(t, err)

	sum, err := checksum.FileSHA256(dest)
	require.NoError(t, err)
	assert.Equal(t, checksum.SHA256(data), sum)
	assert.Equal(t, int32(1), hits.Load())

	_, err = os.Stat(PartPath(dest))
	assert.True(t, os.IsNotExist(err), "partial file must be gone after commit")
	_, err = os.Stat(MetaPath(dest))
	assert.True(t, os.IsNotExist(err), "sidecar must be gone after commit")

	statuses := rec.statuses()
	assert.Contains(t, statuses, StatusVerifying)
	assert.Equal(t, StatusCompleted, statuses[len(statuses)-1])
}

func TestPerformResumableServerIgnoresRange(t *testing.T) {
	// some servers answer 200 with the full body regardless of Range;
	// that is still fine for a plan with a single whole-file segment
	data := testBlob(512 * 1024)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", strconv.Itoa(len(data)))
		w.WriteHeader(http.StatusOK)
		w.Write(data)
	}))
	t.Cleanup(srv.Close)
	dest := filepath.Join(t.TempDir(), "tool.bin")

	err := PerformResumable(context.Background(), ResumableJob{
		URL:    srv.URL,
		Dest:   dest,
		Size:   int64(len(data)),
		SHA256: checksum.SHA256(data),
	})
	require.NoError(t, err)
	sum, err := checksum.FileSHA256(dest)
	require.NoError(t, err)
	assert.Equal(t, checksum.SHA256(data), sum)
}

func TestPerformResumableMultiSegment(t *testing.T) {
	data := testBlob(24 * mib) // four segments
	var hits atomic.Int32
	srv := serveBlob(t, data, &hits)
	dest := filepath.Join(t.TempDir(), "jdk.tar.gz")

	err := PerformResumable(context.Background(), ResumableJob{
		URL:    srv.URL,
		Dest:   dest,
		Size:   int64(len(data)),
		SHA256: checksum.SHA256(data),
	})
	require.NoError(t, err)
	assert.Equal(t, int32(4), hits.Load(), "one range request per segment")

	sum, err := checksum.FileSHA256(dest)
	require.NoError(t, err)
	assert.Equal(t, checksum.SHA256(data), sum)
}

func TestResumeSkipsCompletedSegments(t *testing.T) {
	data := testBlob(24 * mib)
	expected := checksum.SHA256(data)
	var hits atomic.Int32
	srv := serveBlob(t, data, &hits)
	dest := filepath.Join(t.TempDir(), "jdk.tar.gz")

	// fabricate a prior session: first two segments done and on disk
	state := NewState(srv.URL, "jdk.tar.gz", int64(len(data)), expected)
	require.Len(t, state.Segments, 4)
	doneThrough := state.Segments[1].End
	for i := 0; i < 2; i++ {
		seg := &state.Segments[i]
		seg.Downloaded = seg.End - seg.Start + 1
		seg.Completed = true
	}
	require.NoError(t, state.Save(MetaPath(dest)))
	part := make([]byte, len(data))
	copy(part[:doneThrough+1], data[:doneThrough+1])
	require.NoError(t, os.WriteFile(PartPath(dest), part, 0644))

	err := PerformResumable(context.Background(), ResumableJob{
		URL:    srv.URL,
		Dest:   dest,
		Size:   int64(len(data)),
		SHA256: expected,
	})
	require.NoError(t, err)
	assert.Equal(t, int32(2), hits.Load(), "completed segments must not be re-requested")

	sum, err := checksum.FileSHA256(dest)
	require.NoError(t, err)
	assert.Equal(t, expected, sum)
}

func TestCancelPersistsStateAndResumes(t *testing.T) {
	data := testBlob(1 * mib)
	expected := checksum.SHA256(data)
	var mu sync.Mutex
	var ranges []int64
	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start, end, ok := parseRangeHeader(r, int64(len(data)))
		if !ok {
			start, end = 0, int64(len(data)-1)
		}
		mu.Lock()
		ranges = append(ranges, start)
		mu.Unlock()
		w.Header().Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", start, end, len(data)))
		w.Header().Set("Content-Length", strconv.FormatInt(end-start+1, 10))
		if ok {
			w.WriteHeader(http.StatusPartialContent)
		}
		flusher := w.(http.Flusher)
		chunk := int64(32 * 1024)
		for pos := start; pos <= end; pos += chunk {
			stop := min(pos+chunk-1, end)
			if _, err := w.Write(data[pos : stop+1]); err != nil {
				return
			}
			flusher.Flush()
			select {
			case <-r.Context().Done():
				return
			case <-time.After(15 * time.Millisecond):
			}
		}
	}))
	t.Cleanup(slow.Close)
	dest := filepath.Join(t.TempDir(), "tool.bin")
	rec := &eventRecorder{}

	ctx, cancel := context.WithCancel(context.Background())
	timer := time.AfterFunc(150*time.Millisecond, cancel)
	defer timer.Stop()
	err := PerformResumable(ctx, ResumableJob{
		URL:        slow.URL,
		Dest:       dest,
		Size:       int64(len(data)),
		SHA256:     expected,
		OnProgress: rec.record,
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Contains(t, rec.statuses(), StatusPaused)

	state, lerr := LoadState(MetaPath(dest))
	require.NoError(t, lerr, "sidecar must survive a cancel")
	assert.True(t, state.Valid())
	assert.Greater(t, state.Downloaded, int64(0))
	assert.Less(t, state.Downloaded, int64(len(data)))
	_, serr := os.Stat(PartPath(dest))
	assert.NoError(t, serr, "partial file must survive a cancel")

	// second run against a healthy server picks up mid-file
	var hits atomic.Int32
	fast := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if start, _, ok := parseRangeHeader(r, int64(len(data))); ok {
			mu.Lock()
			ranges = append(ranges, start)
			mu.Unlock()
		}
		http.ServeContent(w, r, "blob", time.Time{}, bytes.NewReader(data))
	}))
	t.Cleanup(fast.Close)

	err = PerformResumable(context.Background(), ResumableJob{
		URL:    fast.URL,
		Dest:   dest,
		Size:   int64(len(data)),
		SHA256: expected,
	})
	require.NoError(t, err)
	sum, err := checksum.FileSHA256(dest)
	require.NoError(t, err)
	assert.Equal(t, expected, sum)

	mu.Lock()
	resumedFrom := ranges[len(ranges)-1]
	mu.Unlock()
	assert.Greater(t, resumedFrom, int64(0), "resume must continue from persisted bytes, not zero")
}

func TestChecksumMismatchRemovesPartialState(t *testing.T) {
	data := testBlob(256 * 1024)
	var hits atomic.Int32
	srv := serveBlob(t, data, &hits)
	dest := filepath.Join(t.TempDir(), "tool.bin")

	err := PerformResumable(context.Background(), ResumableJob{
		URL:    srv.URL,
		Dest:   dest,
		Size:   int64(len(data)),
		SHA256: checksum.SHA256([]byte("a different artifact")),
	})
	require.Error(t, err)
	var mismatch *ChecksumError
	require.ErrorAs(t, err, &mismatch)
	assert.Equal(t, "tool.bin", mismatch.File)

	// nothing left behind, the next attempt starts from scratch
	_, serr := os.Stat(PartPath(dest))
	assert.True(t, os.IsNotExist(serr))
	_, serr = os.Stat(MetaPath(dest))
	assert.True(t, os.IsNotExist(serr))
	_, serr = os.Stat(dest)
	assert.True(t, os.IsNotExist(serr))
}

func TestSegmentFailuresReported(t *testing.T) {
	data := testBlob(24 * mib)
	expected := checksum.SHA256(data)
	var hits atomic.Int32
	var failFrom atomic.Int64
	failFrom.Store(12 * mib) // segments 2 and 3 break, 0 and 1 succeed
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if start, _, ok := parseRangeHeader(r, int64(len(data))); ok {
			if limit := failFrom.Load(); limit >= 0 && start >= limit {
				w.WriteHeader(http.StatusInternalServerError)
				return
			}
		}
		http.ServeContent(w, r, "blob", time.Time{}, bytes.NewReader(data))
	}))
	t.Cleanup(srv.Close)
	dest := filepath.Join(t.TempDir(), "jdk.tar.gz")

	job := ResumableJob{
		URL:     srv.URL,
		Dest:    dest,
		Size:    int64(len(data)),
		SHA256:  expected,
		Retries: 1,
	}
	err := PerformResumable(context.Background(), job)
	require.Error(t, err)
	var incomplete *IncompleteError
	require.ErrorAs(t, err, &incomplete)
	assert.Equal(t, []int{2, 3}, incomplete.Segments)

	state, lerr := LoadState(MetaPath(dest))
	require.NoError(t, lerr)
	assert.True(t, state.Segments[0].Completed)
	assert.True(t, state.Segments[1].Completed)
	assert.False(t, state.Segments[2].Completed)
	assert.False(t, state.Segments[3].Completed)

	// server recovers; only the two broken segments are re-fetched
	failFrom.Store(-1)
	before := hits.Load()
	require.NoError(t, PerformResumable(context.Background(), job))
	assert.Equal(t, int32(2), hits.Load()-before)

	sum, err := checksum.FileSHA256(dest)
	require.NoError(t, err)
	assert.Equal(t, expected, sum)
}

func TestPerformResumableValidation(t *testing.T) {
	err := PerformResumable(context.Background(), ResumableJob{URL: "https://example.com/x", Dest: "/tmp/x", Size: 0})
	assert.Error(t, err)
	err = PerformResumable(context.Background(), ResumableJob{Dest: "/tmp/x", Size: 10})
	assert.Error(t, err)
	err = PerformResumable(context.Background(), ResumableJob{URL: "https://example.com/x", Size: 10})
	assert.Error(t, err)
}
