package motion

import (
	"image"

	"github.com/mikeyg42/motioncam/internal/zones"
)

// Region is the bounding box and contour area of one foreground blob.
type Region struct {
	Rect image.Rectangle
	Area float64
}

// IsValid reports whether r counts as motion in a frame of frameSize. The
// area must lie strictly between the configured fractions of the frame area
// and the region origin must not fall inside any exclusion zone.
func (c Config) IsValid(frameSize image.Point, r Region, zs []zones.Zone) bool {
	frameArea := float64(frameSize.X * frameSize.Y)
	if r.Area <= c.MinAreaRatio*frameArea || r.Area >= c.MaxAreaRatio*frameArea {
		return false
	}
	return !zones.AnyContains(zs, r.Rect.Min)
}

// Filter returns the valid regions in input order.
func (c Config) Filter(frameSize image.Point, regions []Region, zs []zones.Zone) []Region {
	var valid []Region
	for _, r := range regions {
		if c.IsValid(frameSize, r, zs) {
			valid = append(valid, r)
		}
	}
	return valid
}
