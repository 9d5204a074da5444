// Package metadata summarizes detected objects and embeds the summary in a
// clip's container-level comment tag.
package metadata

import (
	"fmt"
	"strings"
)

// Unidentifiable is the summary used when detection found nothing.
const Unidentifiable = "Unidentifiable object"

// LabelCount is one distinct label and how often it was detected.
type LabelCount struct {
	Label string
	Count int
}

// CountLabels groups labels, ordered by first appearance.
func CountLabels(labels []string) []LabelCount {
	index := make(map[string]int, len(labels))
	var counts []LabelCount
	for _, l := range labels {
		if i, ok := index[l]; ok {
			counts[i].Count++
			continue
		}
		index[l] = len(counts)
		counts = append(counts, LabelCount{Label: l, Count: 1})
	}
	return counts
}

// FormatLabels renders labels as "2 person, 1 car".
func FormatLabels(labels []string) string {
	counts := CountLabels(labels)
	if len(counts) == 0 {
		return Unidentifiable
	}

	parts := make([]string, len(counts))
	for i, c := range counts {
		parts[i] = fmt.Sprintf("%d %s", c.Count, c.Label)
	}
	return strings.Join(parts, ", ")
}
