package detection

import (
	"fmt"
	"image"
	"image/color"

	"gocv.io/x/gocv"
)

var (
	boxColor   = color.RGBA{G: 255, A: 0}
	labelColor = color.RGBA{R: 255, G: 255, B: 255, A: 0}
)

// Annotate decodes a JPEG, draws each box with its class name and writes the
// result to outPath.
func Annotate(jpeg []byte, boxes []BoundingBox, outPath string) error {
	img, err := gocv.IMDecode(jpeg, gocv.IMReadColor)
	if err != nil {
		return fmt.Errorf("decode image: %w", err)
	}
	defer img.Close()
	if img.Empty() {
		return fmt.Errorf("decode image: empty result")
	}

	for _, b := range boxes {
		rect := image.Rect(int(b.X1), int(b.Y1), int(b.X2), int(b.Y2))
		gocv.Rectangle(&img, rect, boxColor, 2)

		text := fmt.Sprintf("%s %.2f", b.ClassName, b.Confidence)
		org := image.Pt(rect.Min.X, max(rect.Min.Y-6, 12))
		gocv.PutText(&img, text, org, gocv.FontHersheySimplex, 0.5, labelColor, 1)
	}

	if !gocv.IMWrite(outPath, img) {
		return fmt.Errorf("write %s", outPath)
	}
	return nil
}
