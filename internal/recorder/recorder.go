// Package recorder turns validated motion into clips: it runs the recording
// session state machine, drives the raw and masked writers and picks the
// preview frame of a finished clip.
package recorder

import (
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"gocv.io/x/gocv"
	"go.uber.org/zap"

	"github.com/mikeyg42/motioncam/internal/motion"
)

// State of the recording session.
type State int

const (
	Idle State = iota
	Recording
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Recording:
		return "recording"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// StopReason records why a session ended.
type StopReason string

const (
	StopNoMotion       StopReason = "no_motion"
	StopMaxDuration    StopReason = "max_duration"
	StopEndOfStream    StopReason = "end_of_stream"
	StopSourceSwitch   StopReason = "source_switch"
	StopShutdown       StopReason = "shutdown"
	// StopMotionDisabled ends a session when detection is toggled off.
	StopMotionDisabled StopReason = "motion_disabled"
)

// MaskedVideoName is the single-slot file the masked clip is written to.
const MaskedVideoName = "masked_video"

// Config controls clip output and the stop conditions.
type Config struct {
	ClipsDir          string
	TempDir           string
	Extension         string
	OutputFPS         float64
	MaxDuration       time.Duration
	NoMotionThreshold int
	MinFreeSpaceMB    uint64
}

// DefaultConfig returns 24 fps mp4 output capped at 20 seconds with a
// 60-frame idle cutoff.
func DefaultConfig() Config {
	return Config{
		ClipsDir:          "clips",
		TempDir:           "temp",
		Extension:         ".mp4",
		OutputFPS:         24,
		MaxDuration:       20 * time.Second,
		NoMotionThreshold: 60,
	}
}

// MaxFrames is the hard frame cap derived from OutputFPS and MaxDuration.
func (c Config) MaxFrames() int {
	return int(math.Round(c.OutputFPS * c.MaxDuration.Seconds()))
}

// Clip describes a finished recording session.
type Clip struct {
	ID                 string
	Path               string
	MaskedPath         string
	StartTime          time.Time
	EndTime            time.Time
	FrameCount         int
	MotionFrameIndices []int
	StopReason         StopReason
}

// Name returns the clip's base file name.
func (c *Clip) Name() string {
	return filepath.Base(c.Path)
}

// Metrics tracks recorder activity
type Metrics struct {
	SessionsStarted     atomic.Uint64
	SessionsEnded       atomic.Uint64
	FramesWritten       atomic.Uint64
	MaskedFramesWritten atomic.Uint64
	WriteErrors         atomic.Uint64
}

// Snapshot returns the current counter values.
func (m *Metrics) Snapshot() map[string]uint64 {
	return map[string]uint64{
		"sessions_started":      m.SessionsStarted.Load(),
		"sessions_ended":        m.SessionsEnded.Load(),
		"frames_written":        m.FramesWritten.Load(),
		"masked_frames_written": m.MaskedFramesWritten.Load(),
		"write_errors":          m.WriteErrors.Load(),
	}
}

type session struct {
	id                 string
	startTime          time.Time
	clipPath           string
	maskedPath         string
	frameCount         int
	noMotionFrameCount int
	motionFrameIndices []int
	raw                FrameWriter
	masked             FrameWriter
}

// Recorder owns the single recording session of one capture source.
type Recorder struct {
	cfg       Config
	newWriter WriterFactory
	logger    *zap.Logger
	now       func() time.Time
	metrics   Metrics

	mu      sync.Mutex
	state   State
	session *session
}

// Option configures a Recorder.
type Option func(*Recorder)

// WithClock overrides time.Now for session start and end times.
func WithClock(now func() time.Time) Option {
	return func(r *Recorder) { r.now = now }
}

// WithLogger sets the recorder logger.
func WithLogger(l *zap.Logger) Option {
	return func(r *Recorder) { r.logger = l.Named("recorder") }
}

func New(cfg Config, newWriter WriterFactory, opts ...Option) (*Recorder, error) {
	if newWriter == nil {
		return nil, errors.New("recorder: writer factory is required")
	}
	if cfg.OutputFPS <= 0 || cfg.MaxDuration <= 0 || cfg.NoMotionThreshold <= 0 {
		return nil, fmt.Errorf("recorder: invalid limits fps=%v max=%v idle=%d",
			cfg.OutputFPS, cfg.MaxDuration, cfg.NoMotionThreshold)
	}
	if cfg.Extension == "" {
		cfg.Extension = ".mp4"
	}

	r := &Recorder{
		cfg:       cfg,
		newWriter: newWriter,
		logger:    zap.L().Named("recorder"),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// State returns the current session state.
func (r *Recorder) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

func (r *Recorder) Metrics() *Metrics {
	return &r.metrics
}

// Observe advances the state machine by one captured frame. regions must
// already be filtered for validity. A non-nil Clip is returned on the frame
// that ends a session. Write failures are reported but do not end the session.
func (r *Recorder) Observe(frame gocv.Mat, regions []motion.Region) (*Clip, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state == Idle {
		if len(regions) == 0 {
			return nil, nil
		}
		if err := r.start(frame); err != nil {
			return nil, err
		}
	}

	s := r.session
	var errs []error

	if err := s.raw.Write(frame); err != nil {
		r.metrics.WriteErrors.Add(1)
		errs = append(errs, fmt.Errorf("write raw frame %d: %w", s.frameCount+1, err))
	} else {
		r.metrics.FramesWritten.Add(1)
	}
	s.frameCount++

	if len(regions) > 0 {
		s.motionFrameIndices = append(s.motionFrameIndices, s.frameCount)
		masked := motion.MaskFrame(frame, regions)
		err := s.masked.Write(masked)
		masked.Close()
		if err != nil {
			r.metrics.WriteErrors.Add(1)
			errs = append(errs, fmt.Errorf("write masked frame %d: %w", s.frameCount, err))
		} else {
			r.metrics.MaskedFramesWritten.Add(1)
		}
		s.noMotionFrameCount = 0
	} else {
		s.noMotionFrameCount++
	}

	var clip *Clip
	switch {
	case s.noMotionFrameCount >= r.cfg.NoMotionThreshold:
		clip = r.finish(StopNoMotion)
	case s.frameCount >= r.cfg.MaxFrames():
		clip = r.finish(StopMaxDuration)
	}
	return clip, errors.Join(errs...)
}

// Finalize ends an active session early, closing both writers. It returns
// nil when no session is active.
func (r *Recorder) Finalize(reason StopReason) *Clip {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state == Idle {
		return nil
	}
	return r.finish(reason)
}

func (r *Recorder) start(frame gocv.Mat) error {
	if r.cfg.MinFreeSpaceMB > 0 {
		if _, err := CheckDiskSpace(r.cfg.ClipsDir, r.cfg.MinFreeSpaceMB); err != nil {
			return err
		}
	}

	startTime := r.now()
	clipPath := r.uniqueClipPath(startTime)
	maskedPath := filepath.Join(r.cfg.TempDir, MaskedVideoName+r.cfg.Extension)
	width, height := frame.Cols(), frame.Rows()

	raw, err := r.newWriter(clipPath, r.cfg.OutputFPS, width, height)
	if err != nil {
		return fmt.Errorf("open raw writer: %w", err)
	}
	masked, err := r.newWriter(maskedPath, r.cfg.OutputFPS, width, height)
	if err != nil {
		if cerr := raw.Close(); cerr != nil {
			r.logger.Warn("Failed to close raw writer", zap.Error(cerr))
		}
		return fmt.Errorf("open masked writer: %w", err)
	}

	r.session = &session{
		id:         uuid.New().String(),
		startTime:  startTime,
		clipPath:   clipPath,
		maskedPath: maskedPath,
		raw:        raw,
		masked:     masked,
	}
	r.state = Recording
	r.metrics.SessionsStarted.Add(1)

	r.logger.Info("Recording started",
		zap.String("session_id", r.session.id),
		zap.String("clip", clipPath),
		zap.Int("width", width),
		zap.Int("height", height))
	return nil
}

func (r *Recorder) finish(reason StopReason) *Clip {
	s := r.session

	if err := s.raw.Close(); err != nil {
		r.logger.Error("Failed to close raw writer", zap.String("clip", s.clipPath), zap.Error(err))
	}
	if err := s.masked.Close(); err != nil {
		r.logger.Error("Failed to close masked writer", zap.String("clip", s.maskedPath), zap.Error(err))
	}

	clip := &Clip{
		ID:                 s.id,
		Path:               s.clipPath,
		MaskedPath:         s.maskedPath,
		StartTime:          s.startTime,
		EndTime:            r.now(),
		FrameCount:         s.frameCount,
		MotionFrameIndices: append([]int(nil), s.motionFrameIndices...),
		StopReason:         reason,
	}

	r.session = nil
	r.state = Idle
	r.metrics.SessionsEnded.Add(1)

	if len(clip.MotionFrameIndices) == 0 {
		r.logger.Warn("Session ended without motion frames", zap.String("clip", clip.Path))
	}
	r.logger.Info("Recording stopped",
		zap.String("session_id", clip.ID),
		zap.String("clip", clip.Path),
		zap.String("reason", string(reason)),
		zap.Int("frames", clip.FrameCount),
		zap.Int("motion_frames", len(clip.MotionFrameIndices)))
	return clip
}

// uniqueClipPath names the clip after t, adding a numeric suffix when a clip
// from the same second already exists.
func (r *Recorder) uniqueClipPath(t time.Time) string {
	base := ClipBaseName(t)
	path := filepath.Join(r.cfg.ClipsDir, base+r.cfg.Extension)
	for i := 1; fileExists(path); i++ {
		path = filepath.Join(r.cfg.ClipsDir, fmt.Sprintf("%s_%d%s", base, i, r.cfg.Extension))
	}
	return path
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
