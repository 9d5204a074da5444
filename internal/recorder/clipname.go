package recorder

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"
)

const (
	// ClipTimeLayout names clips after their start time.
	ClipTimeLayout = "2006-01-02_15-04-05"
	// DisplayLayout renders a clip time for people, e.g. "03:04:05PM 02 January 2006".
	DisplayLayout = "03:04:05PM 02 January 2006"
)

// ClipBaseName returns the clip file name for t without extension.
func ClipBaseName(t time.Time) string {
	return t.Format(ClipTimeLayout)
}

// ParseClipTime recovers the start time from a clip file name. A collision
// suffix such as "_1" is ignored.
func ParseClipTime(name string) (time.Time, error) {
	base := strings.TrimSuffix(filepath.Base(name), filepath.Ext(name))
	if len(base) < len(ClipTimeLayout) {
		return time.Time{}, fmt.Errorf("clip name %q: too short", name)
	}
	t, err := time.ParseInLocation(ClipTimeLayout, base[:len(ClipTimeLayout)], time.Local)
	if err != nil {
		return time.Time{}, fmt.Errorf("clip name %q: %w", name, err)
	}
	return t, nil
}

// DisplayTime formats the start time encoded in a clip name.
func DisplayTime(name string) (string, error) {
	t, err := ParseClipTime(name)
	if err != nil {
		return "", err
	}
	return t.Format(DisplayLayout), nil
}
