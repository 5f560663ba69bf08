package ingestor

import (
	"fmt"
	"time"
)

// State is one step of an ingestion run.
type State int

const (
	StateNew State = iota
	StateSchemaReady
	StateDedupVersionReady
	StateMerged
	StateDone
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateNew:
		return "NEW"
	case StateSchemaReady:
		return "SCHEMA_READY"
	case StateDedupVersionReady:
		return "DEDUP_VERSION_READY"
	case StateMerged:
		return "MERGED"
	case StateDone:
		return "DONE"
	case StateFailed:
		return "FAILED"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

var transitions = map[State][]State{
	StateNew:               {StateSchemaReady},
	StateSchemaReady:       {StateDedupVersionReady},
	StateDedupVersionReady: {StateMerged},
	StateMerged:            {StateDone},
}

// machine tracks the state of one run and logs every transition with the
// time spent in the state it leaves.
type machine struct {
	state State
	since time.Time
	logf  func(format string, v ...any)
}

func newMachine(logf func(string, ...any)) *machine {
	return &machine{state: StateNew, since: time.Now(), logf: logf}
}

// advance moves to next. FAILED is reachable from every state except DONE.
func (m *machine) advance(next State) error {
	if !m.allowed(next) {
		return fmt.Errorf("ingestor: illegal transition %s -> %s", m.state, next)
	}
	m.logf("state=%s next=%s duration=%s", m.state, next, durMS(m.since))
	m.state = next
	m.since = time.Now()
	return nil
}

func (m *machine) allowed(next State) bool {
	if next == StateFailed {
		return m.state != StateDone && m.state != StateFailed
	}
	for _, s := range transitions[m.state] {
		if s == next {
			return true
		}
	}
	return false
}

func durMS(start time.Time) time.Duration { return time.Since(start).Truncate(time.Millisecond) }
