// Package capture opens frame sources: local devices, files and network
// streams.
package capture

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gocv.io/x/gocv"
)

// ErrSourceNotOpen is returned when a source cannot be opened.
var ErrSourceNotOpen = errors.New("capture: source not open")

// Source yields frames in capture order.
type Source interface {
	IsOpen() bool
	// Read decodes the next frame into dst. false means end of stream.
	Read(dst *gocv.Mat) bool
	Release() error
}

// FFmpegOptionsEnv is read by the OpenCV FFmpeg backend when a URL or file
// is opened.
const FFmpegOptionsEnv = "OPENCV_FFMPEG_CAPTURE_OPTIONS"

// SetNetworkTimeout makes blocked opens and reads on URL sources fail after d
// instead of hanging. Options already present in the environment are kept.
func SetNetworkTimeout(d time.Duration) error {
	if d <= 0 || os.Getenv(FFmpegOptionsEnv) != "" {
		return nil
	}
	return os.Setenv(FFmpegOptionsEnv, "rw_timeout;"+strconv.FormatInt(d.Microseconds(), 10))
}

// Target describes what to open.
type Target struct {
	Raw    string
	Device int
	IsDev  bool
}

// ParseTarget treats a bare integer as a device index and anything else as a
// URL or file path.
func ParseTarget(s string) (Target, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Target{}, errors.New("capture: empty source")
	}
	if n, err := strconv.Atoi(s); err == nil {
		if n < 0 {
			return Target{}, fmt.Errorf("capture: invalid device index %d", n)
		}
		return Target{Raw: s, Device: n, IsDev: true}, nil
	}
	return Target{Raw: s}, nil
}

func (t Target) String() string {
	if t.IsDev {
		return "device " + strconv.Itoa(t.Device)
	}
	return t.Raw
}

// VideoSource wraps a gocv.VideoCapture.
type VideoSource struct {
	vc     *gocv.VideoCapture
	target Target
}

// Open opens the capture target.
func Open(target string) (*VideoSource, error) {
	t, err := ParseTarget(target)
	if err != nil {
		return nil, err
	}

	var vc *gocv.VideoCapture
	if t.IsDev {
		vc, err = gocv.OpenVideoCapture(t.Device)
	} else {
		vc, err = gocv.OpenVideoCapture(t.Raw)
	}
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", t, err)
	}
	if !vc.IsOpened() {
		vc.Close()
		return nil, fmt.Errorf("open %s: %w", t, ErrSourceNotOpen)
	}
	return &VideoSource{vc: vc, target: t}, nil
}

func (s *VideoSource) IsOpen() bool {
	return s.vc != nil && s.vc.IsOpened()
}

func (s *VideoSource) Read(dst *gocv.Mat) bool {
	if s.vc == nil {
		return false
	}
	return s.vc.Read(dst) && !dst.Empty()
}

func (s *VideoSource) Release() error {
	if s.vc == nil {
		return nil
	}
	err := s.vc.Close()
	s.vc = nil
	return err
}

// FPS reports the source frame rate, or 0 when unknown.
func (s *VideoSource) FPS() float64 {
	if s.vc == nil {
		return 0
	}
	return s.vc.Get(gocv.VideoCaptureFPS)
}

func (s *VideoSource) Target() Target {
	return s.target
}
