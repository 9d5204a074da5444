package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/mikeyg42/motioncam/internal/capture"
	"github.com/mikeyg42/motioncam/internal/events"
)

// ErrNotRunning is returned by Stop when no source is active.
var ErrNotRunning = errors.New("pipeline: capture not running")

// Opener opens a capture target.
type Opener func(target string) (capture.Source, error)

// OpenCapture adapts capture.Open to an Opener.
func OpenCapture(target string) (capture.Source, error) {
	return capture.Open(target)
}

type run struct {
	target string
	cancel context.CancelCauseFunc
	done   chan struct{}
}

// Camera owns the active source and its capture loop. Switching waits for
// the old loop to finalize its session before the new source is opened.
type Camera struct {
	ctx    context.Context
	runner *Runner
	open   Opener
	events events.Publisher
	logger *zap.Logger

	mu  sync.Mutex
	cur *run
}

// NewCamera binds loops to ctx; cancelling it stops capture with a shutdown
// stop reason.
func NewCamera(ctx context.Context, runner *Runner, open Opener, logger *zap.Logger) *Camera {
	if open == nil {
		open = OpenCapture
	}
	if logger == nil {
		logger = zap.L()
	}
	return &Camera{
		ctx:    ctx,
		runner: runner,
		open:   open,
		events: runner.events,
		logger: logger.Named("camera"),
	}
}

// Switch stops the current loop, if any, then opens target and starts a new
// loop on it. If opening fails capture stays stopped.
//
// The old loop only observes cancellation between frames, so Switch and Stop
// block until its in-flight Read returns. For URL sources that read is
// bounded by capture.SetNetworkTimeout.
func (c *Camera) Switch(target string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.stopLocked(errSwitching)

	src, err := c.open(target)
	if err != nil {
		c.logger.Error("Failed to open source", zap.String("source", target), zap.Error(err))
		return fmt.Errorf("switch to %s: %w", target, err)
	}

	ctx, cancel := context.WithCancelCause(c.ctx)
	r := &run{target: target, cancel: cancel, done: make(chan struct{})}
	c.cur = r

	go func() {
		defer close(r.done)
		c.runner.Run(ctx, src)
		c.logger.Info("Capture loop exited", zap.String("source", target))
	}()

	c.logger.Info("Capture started", zap.String("source", target))
	c.events.Publish(events.Event{Type: events.SourceChanged, Source: target})
	return nil
}

// Stop ends capture and waits for the active session to be finalized.
func (c *Camera) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.activeLocked() {
		c.cur = nil
		return ErrNotRunning
	}
	c.stopLocked(errStopping)
	return nil
}

// Current returns the active target, if the loop is still running.
func (c *Camera) Current() (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.activeLocked() {
		return "", false
	}
	return c.cur.target, true
}

func (c *Camera) activeLocked() bool {
	if c.cur == nil {
		return false
	}
	select {
	case <-c.cur.done:
		return false
	default:
		return true
	}
}

func (c *Camera) stopLocked(cause error) {
	if c.cur == nil {
		return
	}
	c.cur.cancel(cause)
	<-c.cur.done
	c.cur = nil
}
