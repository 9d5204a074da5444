// Package motion finds moving regions against an adaptive background model.
package motion

import (
	"errors"
	"fmt"
	"image"
	"sync"
	"time"

	"gocv.io/x/gocv"
	"go.uber.org/zap"

	"github.com/mikeyg42/motioncam/internal/zones"
)

var (
	ErrEmptyFrame = errors.New("motion: empty frame")
	ErrClosed     = errors.New("motion: detector closed")
)

// Config tunes the background model and region filter.
type Config struct {
	History      int
	VarThreshold float64
	KernelSize   int
	MinAreaRatio float64
	MaxAreaRatio float64
}

// DefaultConfig returns the stock detector settings.
func DefaultConfig() Config {
	return Config{
		History:      1000,
		VarThreshold: 24,
		KernelSize:   10,
		MinAreaRatio: 0.05,
		MaxAreaRatio: 0.9,
	}
}

// Stats summarizes detector activity since creation.
type Stats struct {
	FramesProcessed int64         `json:"frames_processed"`
	MotionFrames    int64         `json:"motion_frames"`
	LastMotionTime  time.Time     `json:"last_motion_time"`
	ProcessingTime  time.Duration `json:"processing_time"`
	MaxMotionArea   float64       `json:"max_motion_area"`
}

// Detector wraps a MOG2 background subtractor. The model is updated on every
// call to Detect so it stays warm while recording is idle.
type Detector struct {
	cfg    Config
	logger *zap.Logger
	mog2   *gocv.BackgroundSubtractorMOG2
	kernel gocv.Mat

	mu    sync.Mutex
	stats Stats
}

func NewDetector(cfg Config, logger *zap.Logger) (*Detector, error) {
	if cfg.History <= 0 || cfg.KernelSize <= 0 {
		return nil, fmt.Errorf("invalid motion config: history=%d kernel=%d", cfg.History, cfg.KernelSize)
	}
	if cfg.MinAreaRatio < 0 || cfg.MaxAreaRatio > 1 || cfg.MinAreaRatio >= cfg.MaxAreaRatio {
		return nil, fmt.Errorf("invalid motion area ratios: %v..%v", cfg.MinAreaRatio, cfg.MaxAreaRatio)
	}
	if logger == nil {
		logger = zap.L()
	}

	mog2 := gocv.NewBackgroundSubtractorMOG2WithParams(cfg.History, cfg.VarThreshold, false)
	kernel := gocv.GetStructuringElement(gocv.MorphEllipse, image.Pt(cfg.KernelSize, cfg.KernelSize))

	return &Detector{
		cfg:    cfg,
		logger: logger.Named("motion"),
		mog2:   &mog2,
		kernel: kernel,
	}, nil
}

// Config returns the detector configuration.
func (d *Detector) Config() Config {
	return d.cfg
}

// Detect updates the background model with frame and returns the bounding
// geometry of every external contour in the cleaned foreground mask.
func (d *Detector) Detect(frame gocv.Mat) ([]Region, error) {
	if frame.Empty() {
		return nil, ErrEmptyFrame
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.mog2 == nil {
		return nil, ErrClosed
	}

	start := time.Now()
	defer func() {
		d.stats.ProcessingTime = time.Since(start)
		d.stats.FramesProcessed++
	}()

	fgMask := gocv.NewMat()
	defer fgMask.Close()
	d.mog2.Apply(frame, &fgMask)

	thresh := gocv.NewMat()
	defer thresh.Close()
	gocv.Threshold(fgMask, &thresh, 0, 255, gocv.ThresholdBinary)

	opened := gocv.NewMat()
	defer opened.Close()
	gocv.MorphologyEx(thresh, &opened, gocv.MorphOpen, d.kernel)

	closed := gocv.NewMat()
	defer closed.Close()
	gocv.MorphologyEx(opened, &closed, gocv.MorphClose, d.kernel)

	contours := gocv.FindContours(closed, gocv.RetrievalExternal, gocv.ChainApproxSimple)
	defer contours.Close()

	regions := make([]Region, 0, contours.Size())
	for i := 0; i < contours.Size(); i++ {
		c := contours.At(i)
		regions = append(regions, Region{
			Rect: gocv.BoundingRect(c),
			Area: gocv.ContourArea(c),
		})
	}
	return regions, nil
}

// DetectValid runs Detect and keeps only the regions that pass the size and
// exclusion-zone filter.
func (d *Detector) DetectValid(frame gocv.Mat, zs []zones.Zone) ([]Region, error) {
	regions, err := d.Detect(frame)
	if err != nil {
		return nil, err
	}

	valid := d.cfg.Filter(image.Pt(frame.Cols(), frame.Rows()), regions, zs)
	if len(valid) > 0 {
		d.mu.Lock()
		d.stats.MotionFrames++
		d.stats.LastMotionTime = time.Now()
		for _, r := range valid {
			if r.Area > d.stats.MaxMotionArea {
				d.stats.MaxMotionArea = r.Area
			}
		}
		d.mu.Unlock()
	}
	return valid, nil
}

func (d *Detector) Stats() Stats {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.stats
}

// Close releases the background model. Detect fails afterwards.
func (d *Detector) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.mog2 == nil {
		return nil
	}
	if err := d.mog2.Close(); err != nil {
		d.logger.Warn("Failed to close background model", zap.Error(err))
	}
	d.mog2 = nil
	return d.kernel.Close()
}
