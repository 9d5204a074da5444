// Package stream fans encoded frames out to live HTTP viewers.
package stream

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/hybridgroup/mjpeg"
	"go.uber.org/zap"
	"gocv.io/x/gocv"
)

// Boundary separates parts of the multipart response.
const Boundary = "frame"

// ContentType is the response type of a multipart JPEG feed.
const ContentType = "multipart/x-mixed-replace; boundary=" + Boundary

// Sink receives one encoded JPEG per processed frame. Implementations must
// not retain buf beyond the call unless they own it; EncodeJPEG hands out a
// fresh slice per frame.
type Sink interface {
	WriteJPEG(buf []byte) error
}

// EncodeJPEG encodes a frame as JPEG into a Go-owned slice.
func EncodeJPEG(frame gocv.Mat) ([]byte, error) {
	if frame.Empty() {
		return nil, errors.New("stream: empty frame")
	}
	nb, err := gocv.IMEncode(gocv.JPEGFileExt, frame)
	if err != nil {
		return nil, fmt.Errorf("encode jpeg: %w", err)
	}
	defer nb.Close()

	src := nb.GetBytes()
	out := make([]byte, len(src))
	copy(out, src)
	return out, nil
}

// WritePart writes one multipart part in the --frame framing.
func WritePart(w io.Writer, jpeg []byte) error {
	if _, err := fmt.Fprintf(w, "--%s\r\nContent-Type: image/jpeg\r\n\r\n", Boundary); err != nil {
		return err
	}
	if _, err := w.Write(jpeg); err != nil {
		return err
	}
	_, err := w.Write([]byte("\r\n"))
	return err
}

// Hub is a Sink that serves the multipart feed to any number of viewers.
// Each viewer has a one-frame slot; a viewer that falls behind skips frames.
type Hub struct {
	mu     sync.Mutex
	subs   map[chan []byte]struct{}
	latest []byte
	logger *zap.Logger

	frames  atomic.Uint64
	dropped atomic.Uint64
}

func NewHub(logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.L()
	}
	return &Hub{
		subs:   make(map[chan []byte]struct{}),
		logger: logger.Named("stream"),
	}
}

// WriteJPEG publishes a frame to every viewer without blocking.
func (h *Hub) WriteJPEG(buf []byte) error {
	h.frames.Add(1)

	h.mu.Lock()
	defer h.mu.Unlock()
	h.latest = buf
	for ch := range h.subs {
		select {
		case ch <- buf:
		default:
			// Replace the stale frame with the newest one.
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- buf:
			default:
			}
			h.dropped.Add(1)
		}
	}
	return nil
}

// Subscribe registers a viewer. The returned func unsubscribes.
func (h *Hub) Subscribe() (<-chan []byte, func()) {
	ch := make(chan []byte, 1)

	h.mu.Lock()
	h.subs[ch] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, ch)
			h.mu.Unlock()
		})
	}
}

// Latest returns the most recent frame, or nil before the first.
func (h *Hub) Latest() []byte {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.latest
}

func (h *Hub) Viewers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

func (h *Hub) Stats() (frames, dropped uint64) {
	return h.frames.Load(), h.dropped.Load()
}

// ServeHTTP streams frames until the client disconnects. Disconnecting only
// unsubscribes; capture keeps running.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	ch, unsubscribe := h.Subscribe()
	defer unsubscribe()

	w.Header().Set("Content-Type", ContentType)
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	h.logger.Debug("Viewer connected", zap.String("remote", r.RemoteAddr))
	for {
		select {
		case <-r.Context().Done():
			h.logger.Debug("Viewer disconnected", zap.String("remote", r.RemoteAddr))
			return
		case buf := <-ch:
			if err := WritePart(w, buf); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

// MJPEGSink feeds a hybridgroup/mjpeg stream, which is itself an
// http.Handler.
type MJPEGSink struct {
	stream *mjpeg.Stream
}

func NewMJPEGSink() *MJPEGSink {
	return &MJPEGSink{stream: mjpeg.NewStream()}
}

func (s *MJPEGSink) WriteJPEG(buf []byte) error {
	s.stream.UpdateJPEG(buf)
	return nil
}

func (s *MJPEGSink) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.stream.ServeHTTP(w, r)
}

// Multi writes to every sink and joins their errors.
type Multi []Sink

func (m Multi) WriteJPEG(buf []byte) error {
	var errs []error
	for _, s := range m {
		if err := s.WriteJPEG(buf); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Discard drops every frame.
type Discard struct{}

func (Discard) WriteJPEG([]byte) error { return nil }
