package recorder

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPreviewIndex(t *testing.T) {
	idx, err := PreviewIndex([]int{3, 7, 9, 12, 15})
	require.NoError(t, err)
	assert.Equal(t, 9, idx)

	idx, err = PreviewIndex([]int{4, 8})
	require.NoError(t, err)
	assert.Equal(t, 8, idx)

	idx, err = PreviewIndex([]int{1})
	require.NoError(t, err)
	assert.Equal(t, 1, idx)

	_, err = PreviewIndex(nil)
	assert.ErrorIs(t, err, ErrNoMotionFrames)
}

func TestSelectPreview_EmptyIndices(t *testing.T) {
	out := filepath.Join(t.TempDir(), PreviewName)
	_, err := SelectPreview("missing.mp4", nil, out)
	assert.ErrorIs(t, err, ErrNoMotionFrames)
	assert.ErrorIs(t, SelectMaskedPreview("missing.mp4", []int{}, out), ErrNoMotionFrames)
}

func TestExtractFrame_MissingFile(t *testing.T) {
	dir := t.TempDir()
	err := ExtractFrame(filepath.Join(dir, "nope.mp4"), 0, filepath.Join(dir, "out.jpg"))
	assert.Error(t, err)
}

func TestClipNames(t *testing.T) {
	ts := time.Date(2023, 11, 4, 15, 6, 7, 0, time.Local)
	assert.Equal(t, "2023-11-04_15-06-07", ClipBaseName(ts))

	got, err := ParseClipTime("2023-11-04_15-06-07.mp4")
	require.NoError(t, err)
	assert.True(t, ts.Equal(got))

	got, err = ParseClipTime("/clips/2023-11-04_15-06-07_2.mp4")
	require.NoError(t, err)
	assert.True(t, ts.Equal(got))

	display, err := DisplayTime("2023-11-04_15-06-07.mp4")
	require.NoError(t, err)
	assert.Equal(t, "03:06:07PM 04 November 2023", display)

	_, err = ParseClipTime("notes.txt")
	assert.Error(t, err)
}

func TestCheckDiskSpace(t *testing.T) {
	free, err := CheckDiskSpace(t.TempDir(), 0)
	require.NoError(t, err)

	_, err = CheckDiskSpace(t.TempDir(), free+1<<40)
	assert.Error(t, err)

	_, err = CheckDiskSpace(filepath.Join(t.TempDir(), "missing"), 1)
	assert.Error(t, err)
}
