// Package pipeline runs the sequential capture loop and switches sources.
package pipeline

import (
	"context"
	"errors"
	"sync/atomic"

	"go.uber.org/zap"
	"gocv.io/x/gocv"

	"github.com/mikeyg42/motioncam/internal/capture"
	"github.com/mikeyg42/motioncam/internal/control"
	"github.com/mikeyg42/motioncam/internal/events"
	"github.com/mikeyg42/motioncam/internal/motion"
	"github.com/mikeyg42/motioncam/internal/recorder"
	"github.com/mikeyg42/motioncam/internal/stream"
	"github.com/mikeyg42/motioncam/internal/zones"
)

var (
	errSwitching = errors.New("pipeline: switching source")
	errStopping  = errors.New("pipeline: stopping")
)

// MotionDetector finds valid motion regions in a frame.
type MotionDetector interface {
	DetectValid(frame gocv.Mat, zs []zones.Zone) ([]motion.Region, error)
}

// Session is the recording state machine driven by the loop.
type Session interface {
	Observe(frame gocv.Mat, regions []motion.Region) (*recorder.Clip, error)
	Finalize(reason recorder.StopReason) *recorder.Clip
	State() recorder.State
}

// Enqueuer accepts finished clips for post-processing.
type Enqueuer interface {
	Enqueue(clip *recorder.Clip) error
}

// RunnerConfig tunes the loop.
type RunnerConfig struct {
	// DrawRegions overlays the latest motion regions on the live stream.
	DrawRegions bool
}

// Metrics tracks loop activity
type Metrics struct {
	FramesRead    atomic.Uint64
	MotionFrames  atomic.Uint64
	StreamErrors  atomic.Uint64
	DetectErrors  atomic.Uint64
	SessionErrors atomic.Uint64
	ClipsFinished atomic.Uint64
}

func (m *Metrics) Snapshot() map[string]uint64 {
	return map[string]uint64{
		"frames_read":    m.FramesRead.Load(),
		"motion_frames":  m.MotionFrames.Load(),
		"stream_errors":  m.StreamErrors.Load(),
		"detect_errors":  m.DetectErrors.Load(),
		"session_errors": m.SessionErrors.Load(),
		"clips_finished": m.ClipsFinished.Load(),
	}
}

// Runner owns one pass of the capture loop over a source. Run must not be
// called concurrently.
type Runner struct {
	cfg      RunnerConfig
	state    *control.State
	detector MotionDetector
	session  Session
	sink     stream.Sink
	queue    Enqueuer
	events   events.Publisher
	logger   *zap.Logger
	metrics  Metrics
}

func NewRunner(cfg RunnerConfig, state *control.State, det MotionDetector, sess Session, sink stream.Sink, queue Enqueuer, pub events.Publisher, logger *zap.Logger) *Runner {
	if sink == nil {
		sink = stream.Discard{}
	}
	if pub == nil {
		pub = events.Nop{}
	}
	if logger == nil {
		logger = zap.L()
	}
	return &Runner{
		cfg:      cfg,
		state:    state,
		detector: det,
		session:  sess,
		sink:     sink,
		queue:    queue,
		events:   pub,
		logger:   logger.Named("pipeline"),
	}
}

func (r *Runner) Metrics() *Metrics {
	return &r.metrics
}

// Run reads src until it ends or ctx is cancelled. On exit any active session
// is finalized and handed off, then src is released.
func (r *Runner) Run(ctx context.Context, src capture.Source) {
	frame := gocv.NewMat()
	defer frame.Close()

	reason := recorder.StopEndOfStream
	defer func() {
		if clip := r.session.Finalize(reason); clip != nil {
			r.handoff(clip)
		}
		if err := src.Release(); err != nil {
			r.logger.Warn("Failed to release source", zap.Error(err))
		}
	}()

	var regions []motion.Region
	for {
		if ctx.Err() != nil {
			reason = stopReason(ctx)
			return
		}
		if !src.IsOpen() || !src.Read(&frame) {
			r.logger.Info("End of stream")
			return
		}
		r.metrics.FramesRead.Add(1)

		r.emit(frame, regions)

		regions = nil
		if !r.state.MotionDetectionEnabled() {
			if r.session.State() == recorder.Recording {
				if clip := r.session.Finalize(recorder.StopMotionDisabled); clip != nil {
					r.handoff(clip)
				}
			}
			continue
		}

		found, err := r.detector.DetectValid(frame, r.state.Zones())
		if err != nil {
			r.metrics.DetectErrors.Add(1)
			r.logger.Warn("Motion detection failed", zap.Error(err))
		}
		regions = found
		if len(regions) > 0 {
			r.metrics.MotionFrames.Add(1)
		}

		r.step(frame, regions)
	}
}

func (r *Runner) step(frame gocv.Mat, regions []motion.Region) {
	before := r.session.State()
	clip, err := r.session.Observe(frame, regions)
	if err != nil {
		r.metrics.SessionErrors.Add(1)
		r.logger.Error("Recording step failed", zap.Error(err))
	}
	if before == recorder.Idle && r.session.State() == recorder.Recording {
		r.events.Publish(events.Event{Type: events.SessionStarted})
	}
	if clip != nil {
		r.handoff(clip)
	}
}

// emit streams the frame, overlaying the most recent regions when enabled.
func (r *Runner) emit(frame gocv.Mat, regions []motion.Region) {
	out := frame
	if r.cfg.DrawRegions && len(regions) > 0 {
		annotated := frame.Clone()
		defer annotated.Close()
		motion.Annotate(&annotated, regions)
		out = annotated
	}

	buf, err := stream.EncodeJPEG(out)
	if err == nil {
		err = r.sink.WriteJPEG(buf)
	}
	if err != nil {
		r.metrics.StreamErrors.Add(1)
		r.logger.Debug("Stream write failed", zap.Error(err))
	}
}

func (r *Runner) handoff(clip *recorder.Clip) {
	r.metrics.ClipsFinished.Add(1)
	r.events.Publish(events.Event{
		Type:   events.SessionEnded,
		Clip:   clip.Name(),
		Reason: string(clip.StopReason),
	})
	if r.queue == nil {
		return
	}
	if err := r.queue.Enqueue(clip); err != nil {
		r.logger.Warn("Clip not queued for post-processing",
			zap.String("clip", clip.Path),
			zap.Error(err))
	}
}

func stopReason(ctx context.Context) recorder.StopReason {
	if errors.Is(context.Cause(ctx), errSwitching) {
		return recorder.StopSourceSwitch
	}
	return recorder.StopShutdown
}
