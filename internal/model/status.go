package model

import "fmt"

// Status classifies how an entity id changed during a single event.
type Status int

const (
	// StatusUnknown is never a valid classification result.
	StatusUnknown Status = iota
	// StatusBirth: did not exist before, exists now.
	StatusBirth
	// StatusDeath: existed before, gone now, records gone too.
	StatusDeath
	// StatusMergeInto: gone now, surviving records moved into one other id.
	StatusMergeInto
	// StatusSplitInto: gone now, surviving records fanned out to several ids.
	StatusSplitInto
	// StatusShrink: same id, lost records only.
	StatusShrink
	// StatusGrow: same id, gained records only.
	StatusGrow
	// StatusChanged: same id, both lost and gained records.
	StatusChanged
	// StatusUnchanged: same records as before.
	StatusUnchanged
)

var statusNames = [...]string{
	StatusUnknown:   "UNKNOWN",
	StatusBirth:     "BIRTH",
	StatusDeath:     "DEATH",
	StatusMergeInto: "MERGE_INTO",
	StatusSplitInto: "SPLIT_INTO",
	StatusShrink:    "SHRINK",
	StatusGrow:      "GROW",
	StatusChanged:   "CHANGED",
	StatusUnchanged: "UNCHANGED",
}

// AllStatuses lists every valid classification result.
var AllStatuses = []Status{
	StatusBirth, StatusDeath, StatusMergeInto, StatusSplitInto,
	StatusShrink, StatusGrow, StatusChanged, StatusUnchanged,
}

func (s Status) String() string {
	if s < 0 || int(s) >= len(statusNames) {
		return fmt.Sprintf("STATUS(%d)", int(s))
	}
	return statusNames[s]
}

// ParseStatus converts the upper-snake name back to a Status.
func ParseStatus(name string) (Status, error) {
	for i, n := range statusNames {
		if n == name {
			return Status(i), nil
		}
	}
	return StatusUnknown, fmt.Errorf("unknown status %q", name)
}

// MarshalText implements encoding.TextMarshaler.
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *Status) UnmarshalText(text []byte) error {
	parsed, err := ParseStatus(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}
