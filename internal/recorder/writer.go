package recorder

import (
	"fmt"

	"gocv.io/x/gocv"
)

// FrameWriter is one encoder of the writer pair. *gocv.VideoWriter
// satisfies it.
type FrameWriter interface {
	Write(frame gocv.Mat) error
	Close() error
}

// WriterFactory opens a FrameWriter for a clip of the given geometry.
type WriterFactory func(path string, fps float64, width, height int) (FrameWriter, error)

// NewVideoWriterFactory returns a factory producing gocv video writers with
// the given fourcc codec, e.g. "avc1" or "mp4v".
func NewVideoWriterFactory(codec string) WriterFactory {
	return func(path string, fps float64, width, height int) (FrameWriter, error) {
		vw, err := gocv.VideoWriterFile(path, codec, fps, width, height, true)
		if err != nil {
			return nil, fmt.Errorf("open video writer %s: %w", path, err)
		}
		if !vw.IsOpened() {
			vw.Close()
			return nil, fmt.Errorf("video writer %s not opened (codec %s)", path, codec)
		}
		return vw, nil
	}
}
