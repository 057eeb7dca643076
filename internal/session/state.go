package session

import (
	"fmt"
	"strings"
)

// State is the lifecycle position of a Controller.
type State int32

const (
	Idle State = iota
	Running
	Completed
	Cancelled
	Failed
)

var stateNames = [...]string{
	Idle:      "idle",
	Running:   "running",
	Completed: "completed",
	Cancelled: "cancelled",
	Failed:    "failed",
}

func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

// Terminal reports whether no further transitions happen without Reset.
func (s State) Terminal() bool {
	return s == Completed || s == Cancelled || s == Failed
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *State) UnmarshalText(b []byte) error {
	name := strings.ToLower(string(b))
	for i, n := range stateNames {
		if n == name {
			*s = State(i)
			return nil
		}
	}
	return fmt.Errorf("session: unknown state %q", b)
}

// StatusText renders a state the way a status bar shows it.
func StatusText(s State, progress int, err error) string {
	switch s {
	case Idle:
		return "Ready."
	case Running:
		return fmt.Sprintf("Parsing file (%d%%)", progress)
	case Completed:
		return "Parsing done."
	case Cancelled:
		return "Parsing cancelled."
	case Failed:
		if err != nil {
			return "Parsing failed: " + err.Error()
		}
		return "Parsing failed."
	}
	return s.String()
}
