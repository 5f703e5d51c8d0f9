package transfer

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const mib = 1024 * 1024

func TestSegmentCount(t *testing.T) {
	assert.Equal(t, 1, SegmentCount(1))
	assert.Equal(t, 1, SegmentCount(20*mib-1))
	assert.Equal(t, 4, SegmentCount(20*mib))
	assert.Equal(t, 4, SegmentCount(100*mib-1))
	assert.Equal(t, 8, SegmentCount(100*mib))
	assert.Equal(t, 8, SegmentCount(150*mib))
}

func TestPlanSegmentsCoverAllBytes(t *testing.T) {
	sizes := []int64{1, 1000, 20*mib - 1, 20 * mib, 20*mib + 7, 100*mib + 13, 150 * mib}
	for _, size := range sizes {
		segments := PlanSegments(size)
		require.Len(t, segments, SegmentCount(size), "size %d", size)
		var position int64
		for _, seg := range segments {
			assert.Equal(t, position, seg.Start, "size %d", size)
			assert.GreaterOrEqual(t, seg.End, seg.Start, "size %d", size)
			position = seg.End + 1
		}
		assert.Equal(t, size, position, "size %d", size)
	}
}

func TestPlanSegmentsLastAbsorbsRemainder(t *testing.T) {
	size := int64(20*mib + 3)
	segments := PlanSegments(size)
	require.Len(t, segments, 4)
	even := size / 4
	for i := 0; i < 3; i++ {
		assert.Equal(t, even, segments[i].End-segments[i].Start+1)
	}
	assert.Equal(t, even+3, segments[3].End-segments[3].Start+1)
}

func TestStateRoundTrip(t *testing.T) {
	metaPath := filepath.Join(t.TempDir(), "jdk.tar.gz.part.meta")
	state := NewState("https://mirror.example.com/jdk.tar.gz", "jdk.tar.gz", 42*mib, "abc123")
	state.Segments[0].Downloaded = 500
	state.Segments[1].Downloaded = state.Segments[1].End - state.Segments[1].Start + 1
	state.Segments[1].Completed = true
	require.NoError(t, state.Save(metaPath))

	loaded, err := LoadState(metaPath)
	require.NoError(t, err)
	assert.Equal(t, state.URL, loaded.URL)
	assert.Equal(t, state.FileName, loaded.FileName)
	assert.Equal(t, state.TotalSize, loaded.TotalSize)
	assert.Equal(t, state.Checksum, loaded.Checksum)
	require.Len(t, loaded.Segments, 4)
	assert.Equal(t, int64(500), loaded.Segments[0].Downloaded)
	assert.True(t, loaded.Segments[1].Completed)
}

func TestLoadStateMissing(t *testing.T) {
	_, err := LoadState(filepath.Join(t.TempDir(), "nothing.part.meta"))
	assert.True(t, os.IsNotExist(err))
}

func TestLoadStateCorrupt(t *testing.T) {
	metaPath := filepath.Join(t.TempDir(), "bad.part.meta")
	require.NoError(t, os.WriteFile(metaPath, []byte("{not json"), 0644))
	_, err := LoadState(metaPath)
	assert.Error(t, err)
}

func TestStateValid(t *testing.T) {
	state := NewState("https://mirror.example.com/jdk.tar.gz", "jdk.tar.gz", 42*mib, "")
	assert.True(t, state.Valid())

	gap := NewState("u", "f", 42*mib, "")
	gap.Segments[2].Start++
	assert.False(t, gap.Valid())

	over := NewState("u", "f", 42*mib, "")
	over.Segments[0].Downloaded = over.Segments[0].End - over.Segments[0].Start + 2
	assert.False(t, over.Valid())

	lied := NewState("u", "f", 42*mib, "")
	lied.Segments[0].Completed = true // claims done with zero bytes
	assert.False(t, lied.Valid())

	assert.False(t, (&State{}).Valid())
}

func TestPartAndMetaPaths(t *testing.T) {
	assert.Equal(t, "/opt/jdk/jdk.tar.gz.part", PartPath("/opt/jdk/jdk.tar.gz"))
	assert.Equal(t, "/opt/jdk/jdk.tar.gz.part.meta", MetaPath("/opt/jdk/jdk.tar.gz"))
}

func TestClean(t *testing.T) {
	dir := t.TempDir()
	dest := filepath.Join(dir, "jdk.tar.gz")
	require.NoError(t, os.WriteFile(dest, []byte("committed"), 0644))
	require.NoError(t, os.WriteFile(PartPath(dest), []byte("partial"), 0644))
	require.NoError(t, os.WriteFile(MetaPath(dest), []byte("{}"), 0644))

	require.NoError(t, Clean(dest))
	_, err := os.Stat(PartPath(dest))
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(MetaPath(dest))
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(dest)
	assert.NoError(t, err, "committed file must survive a clean")

	// cleaning an already clean destination is fine
	require.NoError(t, Clean(dest))
}
