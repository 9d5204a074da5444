package motion

import (
	"image/color"

	"gocv.io/x/gocv"
)

var (
	maskWhite   = color.RGBA{R: 255, G: 255, B: 255, A: 0}
	regionGreen = color.RGBA{G: 255, A: 0}
)

// MaskFrame returns frame with everything outside the union of the region
// rectangles blacked out. The caller owns the returned Mat.
func MaskFrame(frame gocv.Mat, regions []Region) gocv.Mat {
	mask := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(0, 0, 0, 0), frame.Rows(), frame.Cols(), gocv.MatTypeCV8UC1)
	defer mask.Close()

	for _, r := range regions {
		gocv.Rectangle(&mask, r.Rect, maskWhite, -1)
	}

	out := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(0, 0, 0, 0), frame.Rows(), frame.Cols(), frame.Type())
	gocv.BitwiseAndWithMask(frame, frame, &out, mask)
	return out
}

// Annotate draws a green outline around each region onto frame.
func Annotate(frame *gocv.Mat, regions []Region) {
	for _, r := range regions {
		gocv.Rectangle(frame, r.Rect, regionGreen, 2)
	}
}
