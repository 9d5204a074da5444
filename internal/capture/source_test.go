package capture

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTarget(t *testing.T) {
	tests := []struct {
		in      string
		want    Target
		wantErr bool
	}{
		{in: "0", want: Target{Raw: "0", Device: 0, IsDev: true}},
		{in: " 2 ", want: Target{Raw: "2", Device: 2, IsDev: true}},
		{in: "rtsp://cam.local/stream", want: Target{Raw: "rtsp://cam.local/stream"}},
		{in: "/videos/test.mp4", want: Target{Raw: "/videos/test.mp4"}},
		{in: "-1", wantErr: true},
		{in: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseTarget(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestTargetString(t *testing.T) {
	assert.Equal(t, "device 1", Target{Device: 1, IsDev: true}.String())
	assert.Equal(t, "http://x/feed", Target{Raw: "http://x/feed"}.String())
}

func TestOpenMissingFile(t *testing.T) {
	_, err := Open(filepath.Join(t.TempDir(), "missing.mp4"))
	assert.Error(t, err)
}

func TestReleasedSourceReadsNothing(t *testing.T) {
	s := &VideoSource{}
	assert.False(t, s.IsOpen())
	assert.NoError(t, s.Release())
	assert.Zero(t, s.FPS())
}

func TestSetNetworkTimeout(t *testing.T) {
	t.Setenv(FFmpegOptionsEnv, "")
	require.NoError(t, SetNetworkTimeout(5*time.Second))
	assert.Equal(t, "rw_timeout;5000000", os.Getenv(FFmpegOptionsEnv))

	// Existing options win.
	require.NoError(t, SetNetworkTimeout(time.Second))
	assert.Equal(t, "rw_timeout;5000000", os.Getenv(FFmpegOptionsEnv))
}

func TestSetNetworkTimeoutDisabled(t *testing.T) {
	t.Setenv(FFmpegOptionsEnv, "")
	require.NoError(t, SetNetworkTimeout(0))
	assert.Empty(t, os.Getenv(FFmpegOptionsEnv))
}
