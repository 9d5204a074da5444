// Package control holds the mutable settings shared between the capture loop
// and the HTTP control surface.
package control

import (
	"sync/atomic"

	"github.com/mikeyg42/motioncam/internal/zones"
)

// State is safe for concurrent use. The zone set is swapped wholesale so a
// reader always sees a consistent snapshot.
type State struct {
	zones         atomic.Pointer[[]zones.Zone]
	motionEnabled atomic.Bool
}

// NewState returns a State with the given initial values.
func NewState(motionEnabled bool, initial []zones.Zone) *State {
	s := &State{}
	s.motionEnabled.Store(motionEnabled)
	s.SetZones(initial)
	return s
}

// SetZones replaces the zone set. The slice is copied.
func (s *State) SetZones(zs []zones.Zone) {
	cp := make([]zones.Zone, len(zs))
	copy(cp, zs)
	s.zones.Store(&cp)
}

// ClearZones removes every zone.
func (s *State) ClearZones() {
	s.SetZones(nil)
}

// Zones returns the current snapshot. Callers must not modify it.
func (s *State) Zones() []zones.Zone {
	p := s.zones.Load()
	if p == nil {
		return nil
	}
	return *p
}

// ToggleMotionDetection flips the flag and returns the new value.
func (s *State) ToggleMotionDetection() bool {
	for {
		old := s.motionEnabled.Load()
		if s.motionEnabled.CompareAndSwap(old, !old) {
			return !old
		}
	}
}

// SetMotionDetection sets the flag explicitly.
func (s *State) SetMotionDetection(enabled bool) {
	s.motionEnabled.Store(enabled)
}

// MotionDetectionEnabled reports the current flag.
func (s *State) MotionDetectionEnabled() bool {
	return s.motionEnabled.Load()
}
