package sequencer

import "fmt"

// Outcome is the result of checking an index against the window
type Outcome int

const (
	// Accepted means the index is the expected next one
	Accepted Outcome = iota
	// AcceptedWithWarning means the index is out of strict order but inside tolerance
	AcceptedWithWarning
	// Rejected means the index falls outside the tolerance window
	Rejected
)

// String returns the outcome label used in logs and metrics
func (o Outcome) String() string {
	switch o {
	case Accepted:
		return "accepted"
	case AcceptedWithWarning:
		return "warning"
	case Rejected:
		return "rejected"
	default:
		return "unknown"
	}
}

// NoChunks is the last index of a session that has not accepted any chunk
const NoChunks = -1

// Decision describes how an index was judged
type Decision struct {
	Outcome Outcome `json:"outcome"`
	Index   int     `json:"index"`
	Last    int     `json:"last"`
	Reason  string  `json:"reason,omitempty"`
}

// Warning reports whether the index was accepted out of strict order
func (d Decision) Warning() bool {
	return d.Outcome == AcceptedWithWarning
}

// Window holds the tolerance bounds
type Window struct {
	InitialTolerance int // highest index accepted before any chunk exists
	AheadTolerance   int // accepted up to last+AheadTolerance
	BehindTolerance  int // accepted down to last-BehindTolerance
}

// DefaultWindow returns the bounds used when nothing is configured
func DefaultWindow() Window {
	return Window{
		InitialTolerance: 5,
		AheadTolerance:   6,
		BehindTolerance:  1,
	}
}

// Validate checks the window bounds
func (w Window) Validate() error {
	if w.InitialTolerance < 0 {
		return fmt.Errorf("initial tolerance cannot be negative, got %d", w.InitialTolerance)
	}
	if w.AheadTolerance < 1 {
		return fmt.Errorf("ahead tolerance must be at least 1, got %d", w.AheadTolerance)
	}
	if w.BehindTolerance < 0 {
		return fmt.Errorf("behind tolerance cannot be negative, got %d", w.BehindTolerance)
	}
	return nil
}

// Check judges index against last, where last is NoChunks for an empty session
func (w Window) Check(last, index int) Decision {
	d := Decision{Index: index, Last: last}

	if index < 0 {
		d.Outcome = Rejected
		d.Reason = "negative index"
		return d
	}

	if last < 0 {
		switch {
		case index == 0:
			d.Outcome = Accepted
		case index <= w.InitialTolerance:
			d.Outcome = AcceptedWithWarning
			d.Reason = fmt.Sprintf("first chunk arrived with index %d", index)
		default:
			d.Outcome = Rejected
			d.Reason = fmt.Sprintf("first chunk index %d exceeds tolerance %d", index, w.InitialTolerance)
		}
		return d
	}

	switch {
	case index == last+1:
		d.Outcome = Accepted
	case index == last:
		d.Outcome = AcceptedWithWarning
		d.Reason = "retry of last accepted index"
	case index < last && index >= last-w.BehindTolerance:
		d.Outcome = AcceptedWithWarning
		d.Reason = fmt.Sprintf("late arrival, %d behind last", last-index)
	case index > last+1 && index <= last+w.AheadTolerance:
		d.Outcome = AcceptedWithWarning
		d.Reason = fmt.Sprintf("gap of %d before index", index-last-1)
	default:
		d.Outcome = Rejected
		d.Reason = fmt.Sprintf("index %d outside window [%d, %d]", index, last-w.BehindTolerance, last+w.AheadTolerance)
	}
	return d
}

// CheckBackfill is Check, except that an index at or below last is accepted with a
// warning. It serves explicit re-uploads of chunks cached locally after a failed upload.
func (w Window) CheckBackfill(last, index int) Decision {
	if index >= 0 && last >= 0 && index <= last {
		return Decision{
			Outcome: AcceptedWithWarning,
			Index:   index,
			Last:    last,
			Reason:  fmt.Sprintf("backfill of index %d below last %d", index, last),
		}
	}
	return w.Check(last, index)
}
