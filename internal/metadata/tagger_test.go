package metadata

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func requireFFmpeg(t *testing.T) string {
	t.Helper()
	path, err := exec.LookPath("ffmpeg")
	if err != nil {
		t.Skip("ffmpeg not available")
	}
	return path
}

// makeTestClip renders a one second black clip.
func makeTestClip(t *testing.T, ffmpeg, dir string) string {
	t.Helper()
	clip := filepath.Join(dir, "2024-01-01_10-00-00.mp4")
	out, err := exec.Command(ffmpeg, "-y", "-loglevel", "error",
		"-f", "lavfi", "-i", "color=c=black:s=64x48:d=1:r=24",
		"-c:v", "mpeg4", clip).CombinedOutput()
	if err != nil {
		t.Skipf("cannot render test clip: %v: %s", err, out)
	}
	return clip
}

func assertNoTempFiles(t *testing.T, dir string) {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	for _, e := range entries {
		assert.False(t, strings.Contains(e.Name(), ".tagging"), "leftover temp file %s", e.Name())
	}
}

func TestTagger_RoundTrip(t *testing.T) {
	ffmpeg := requireFFmpeg(t)
	dir := t.TempDir()
	clip := makeTestClip(t, ffmpeg, dir)

	tagger := NewTagger(ffmpeg, zaptest.NewLogger(t))
	ctx := context.Background()

	comment, err := tagger.Tag(ctx, clip, []string{"person"})
	require.NoError(t, err)
	assert.Equal(t, "1 person", comment)

	got, err := tagger.ReadComment(ctx, clip)
	require.NoError(t, err)
	assert.Equal(t, "1 person", got)
	assertNoTempFiles(t, dir)
}

func TestTagger_ReadCommentMissing(t *testing.T) {
	ffmpeg := requireFFmpeg(t)
	clip := makeTestClip(t, ffmpeg, t.TempDir())

	_, err := NewTagger(ffmpeg, zaptest.NewLogger(t)).ReadComment(context.Background(), clip)
	assert.ErrorIs(t, err, ErrNoComment)
}

func TestTagger_FailureKeepsOriginal(t *testing.T) {
	dir := t.TempDir()
	clip := filepath.Join(dir, "2024-01-01_10-00-00.mp4")
	original := []byte("not really a video")
	require.NoError(t, os.WriteFile(clip, original, 0o644))

	tagger := NewTagger(filepath.Join(dir, "no-such-ffmpeg"), zaptest.NewLogger(t))
	_, err := tagger.Tag(context.Background(), clip, []string{"car"})
	require.Error(t, err)

	data, err := os.ReadFile(clip)
	require.NoError(t, err)
	assert.Equal(t, original, data)
	assertNoTempFiles(t, dir)
}

func TestTagger_RemuxErrorKeepsOriginal(t *testing.T) {
	ffmpeg := requireFFmpeg(t)
	dir := t.TempDir()
	clip := filepath.Join(dir, "broken.mp4")
	original := []byte("garbage bytes")
	require.NoError(t, os.WriteFile(clip, original, 0o644))

	_, err := NewTagger(ffmpeg, zaptest.NewLogger(t)).Tag(context.Background(), clip, nil)
	require.Error(t, err)

	data, err := os.ReadFile(clip)
	require.NoError(t, err)
	assert.Equal(t, original, data)
	assertNoTempFiles(t, dir)
}

func TestTagger_MissingClip(t *testing.T) {
	tagger := NewTagger("ffmpeg", zaptest.NewLogger(t))
	err := tagger.WriteComment(context.Background(), filepath.Join(t.TempDir(), "gone.mp4"), "1 cat")
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestParseFFMetadata(t *testing.T) {
	doc := ";FFMETADATA1\n" +
		"major_brand=isom\n" +
		"comment=2 person\\, 1 car \\= ok\\\n" +
		"second line\n" +
		"encoder=Lavf60.3.100\n" +
		"[STREAM]\n" +
		"comment=stream level\n"

	tags, err := parseFFMetadata(strings.NewReader(doc))
	require.NoError(t, err)
	assert.Equal(t, "2 person, 1 car = ok\nsecond line", tags["comment"])
	assert.Equal(t, "isom", tags["major_brand"])
	assert.Equal(t, "Lavf60.3.100", tags["encoder"])
}

func TestTempPath(t *testing.T) {
	assert.Equal(t, filepath.Join("clips", ".2024-01-01_10-00-00.tagging.mp4"),
		tempPath(filepath.Join("clips", "2024-01-01_10-00-00.mp4")))
}
