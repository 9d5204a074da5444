// Package zones models operator-defined exclusion rectangles.
package zones

import "image"

// Zone is an exclusion rectangle in frame-pixel coordinates. Start may exceed
// End on either axis; consumers go through Normalize.
type Zone struct {
	StartX int `json:"startX" yaml:"start_x"`
	StartY int `json:"startY" yaml:"start_y"`
	EndX   int `json:"endX" yaml:"end_x"`
	EndY   int `json:"endY" yaml:"end_y"`
}

// Normalize returns the zone as an ordered rectangle.
func (z Zone) Normalize() image.Rectangle {
	return image.Rectangle{
		Min: image.Pt(min(z.StartX, z.EndX), min(z.StartY, z.EndY)),
		Max: image.Pt(max(z.StartX, z.EndX), max(z.StartY, z.EndY)),
	}
}

// Contains reports whether p lies inside the normalized zone, edges included.
func (z Zone) Contains(p image.Point) bool {
	r := z.Normalize()
	return p.X >= r.Min.X && p.X <= r.Max.X && p.Y >= r.Min.Y && p.Y <= r.Max.Y
}

// AnyContains reports whether any zone in zs contains p.
func AnyContains(zs []Zone, p image.Point) bool {
	for _, z := range zs {
		if z.Contains(p) {
			return true
		}
	}
	return false
}
