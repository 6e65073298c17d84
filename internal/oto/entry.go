// Package oto models the five timing markers of a voicebank entry, the
// rules that keep them consistent, the automatic estimator that proposes
// them from a recorded take, and the oto.ini line format.
//
// All positions are sample indices from the start of the take buffer,
// except Cutoff which is a non-positive distance from the end.
package oto

import "fmt"

// Marker names one of the five markers.
type Marker int

const (
	MarkerOffset Marker = iota
	MarkerOverlap
	MarkerPreUtterance
	MarkerConsonant
	MarkerCutoff
)

var markerNames = [...]string{"offset", "overlap", "preutterance", "consonant", "cutoff"}

// Markers lists every marker in display order.
var Markers = []Marker{MarkerOffset, MarkerOverlap, MarkerPreUtterance, MarkerConsonant, MarkerCutoff}

func (m Marker) String() string {
	if m < 0 || int(m) >= len(markerNames) {
		return fmt.Sprintf("marker(%d)", int(m))
	}
	return markerNames[m]
}

// ParseMarker maps a marker name as used on the wire back to a Marker.
// "pre_utterance" and "fixed" are accepted as aliases.
func ParseMarker(s string) (Marker, error) {
	switch s {
	case "offset":
		return MarkerOffset, nil
	case "overlap":
		return MarkerOverlap, nil
	case "preutterance", "pre_utterance":
		return MarkerPreUtterance, nil
	case "consonant", "fixed":
		return MarkerConsonant, nil
	case "cutoff":
		return MarkerCutoff, nil
	}
	return 0, fmt.Errorf("oto: unknown marker %q", s)
}

// MarshalText implements encoding.TextMarshaler.
func (m Marker) MarshalText() ([]byte, error) { return []byte(m.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (m *Marker) UnmarshalText(b []byte) error {
	v, err := ParseMarker(string(b))
	if err != nil {
		return err
	}
	*m = v
	return nil
}

// Entry holds the markers of one alias.
type Entry struct {
	Offset       int64 `json:"offset"`
	Overlap      int64 `json:"overlap"`
	PreUtterance int64 `json:"preutterance"`
	Consonant    int64 `json:"consonant"`
	Cutoff       int64 `json:"cutoff"`
}

// Get returns the value of marker m.
func (e Entry) Get(m Marker) int64 {
	switch m {
	case MarkerOffset:
		return e.Offset
	case MarkerOverlap:
		return e.Overlap
	case MarkerPreUtterance:
		return e.PreUtterance
	case MarkerConsonant:
		return e.Consonant
	case MarkerCutoff:
		return e.Cutoff
	}
	return 0
}

// With returns a copy of e with marker m set to v.
func (e Entry) With(m Marker, v int64) Entry {
	switch m {
	case MarkerOffset:
		e.Offset = v
	case MarkerOverlap:
		e.Overlap = v
	case MarkerPreUtterance:
		e.PreUtterance = v
	case MarkerConsonant:
		e.Consonant = v
	case MarkerCutoff:
		e.Cutoff = v
	}
	return e
}

// CutoffPosition returns the absolute sample index of the cutoff in a take
// of duration samples.
func (e Entry) CutoffPosition(duration int64) int64 {
	return duration + e.Cutoff
}

// CutoffFromPosition converts an absolute position into the stored
// negative-from-end cutoff. Positions past the end map to 0.
func CutoffFromPosition(pos, duration int64) int64 {
	return min(pos-duration, 0)
}
