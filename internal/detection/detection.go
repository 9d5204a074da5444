// Package detection runs object detection on preview images.
package detection

import "context"

// AnnotatedImageName is the single-slot annotated output in the temp dir.
const AnnotatedImageName = "prediction_image.jpg"

// Result is the outcome of one detection call. Labels keep detection order,
// one entry per detected object.
type Result struct {
	Labels             []string
	AnnotatedImagePath string
}

// Detector finds objects in the image at imagePath.
type Detector interface {
	Detect(ctx context.Context, imagePath string) (*Result, error)
}
