package status

import "fmt"

// State is the lifecycle position of one artifact.
type State int32

const (
	Pending State = iota
	Probing
	Downloading
	Verifying
	Published
	Failed
	Cancelled
)

var names = map[State]string{
	Pending:     "PENDING",
	Probing:     "PROBING",
	Downloading: "DOWNLOADING",
	Verifying:   "VERIFYING",
	Published:   "PUBLISHED",
	Failed:      "FAILED",
	Cancelled:   "CANCELLED",
}

var transitions = map[State][]State{
	Pending:     {Probing, Verifying, Published},
	Probing:     {Downloading, Verifying, Published},
	Downloading: {Downloading, Verifying, Published},
	Verifying:   {Published},
}

func (s State) String() string {
	if n, ok := names[s]; ok {
		return n
	}

	return fmt.Sprintf("UNKNOWN(%d)", int32(s))
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *State) UnmarshalText(text []byte) error {
	for state, n := range names {
		if n == string(text) {
			*s = state
			return nil
		}
	}

	return fmt.Errorf("unknown state %q", text)
}

// IsTerminal reports whether no further transition is possible within an attempt.
func (s State) IsTerminal() bool {
	return s == Published || s == Failed || s == Cancelled
}

// CanTransition reports whether moving from s to next is allowed.
func (s State) CanTransition(next State) bool {
	if s.IsTerminal() {
		return false
	}

	if next == Failed || next == Cancelled {
		return true
	}

	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}

	return false
}
