package recorder

import (
	"errors"
	"fmt"

	"gocv.io/x/gocv"
)

// ErrNoMotionFrames is returned when a clip has no recorded motion frames to
// pick a preview from.
var ErrNoMotionFrames = errors.New("recorder: clip has no motion frames")

const (
	PreviewName       = "preview.jpg"
	MaskedPreviewName = "masked_preview.jpg"
)

// PreviewIndex returns the middle element of the motion frame indices.
func PreviewIndex(indices []int) (int, error) {
	if len(indices) == 0 {
		return 0, ErrNoMotionFrames
	}
	return indices[len(indices)/2], nil
}

// SelectPreview decodes the frame at PreviewIndex(indices) from clipPath and
// writes it to outPath. Indices are 1-based frame ordinals.
func SelectPreview(clipPath string, indices []int, outPath string) (int, error) {
	idx, err := PreviewIndex(indices)
	if err != nil {
		return 0, err
	}
	if err := ExtractFrame(clipPath, max(idx-1, 0), outPath); err != nil {
		return 0, err
	}
	return idx, nil
}

// SelectMaskedPreview writes the masked counterpart of the preview frame.
// The masked clip only holds motion frames, so the preview sits at
// len(indices)/2 there.
func SelectMaskedPreview(maskedPath string, indices []int, outPath string) error {
	if len(indices) == 0 {
		return ErrNoMotionFrames
	}
	return ExtractFrame(maskedPath, len(indices)/2, outPath)
}

// ExtractFrame seeks to the 0-based frame position of videoPath and writes
// it as an image to outPath.
func ExtractFrame(videoPath string, position int, outPath string) error {
	vc, err := gocv.VideoCaptureFile(videoPath)
	if err != nil {
		return fmt.Errorf("open %s: %w", videoPath, err)
	}
	defer vc.Close()

	if !vc.IsOpened() {
		return fmt.Errorf("open %s: capture not opened", videoPath)
	}
	if position > 0 {
		vc.Set(gocv.VideoCapturePosFrames, float64(position))
	}

	img := gocv.NewMat()
	defer img.Close()

	if ok := vc.Read(&img); !ok || img.Empty() {
		return fmt.Errorf("read frame %d of %s", position, videoPath)
	}
	if !gocv.IMWrite(outPath, img) {
		return fmt.Errorf("write %s", outPath)
	}
	return nil
}
