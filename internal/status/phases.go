// Package status tracks the phase of a single deployment and the outcome of
// best-effort removals performed while retiring a previous instance.
package status

import (
	"fmt"
	"time"
)

// Phase is a deployment state.
type Phase string

const (
	PhaseIdle             Phase = "Idle"
	PhaseCleaning         Phase = "Cleaning"
	PhaseConfiguring      Phase = "Configuring"
	PhaseDiskProvisioning Phase = "DiskProvisioning"
	PhaseLaunching        Phase = "Launching"
	PhaseNetworkWait      Phase = "NetworkWait"
	PhaseRegistering      Phase = "Registering"
	PhaseReady            Phase = "Ready"
	PhaseFailed           Phase = "Failed"
)

// sequence is the only forward path through a deployment.
var sequence = []Phase{
	PhaseIdle,
	PhaseCleaning,
	PhaseConfiguring,
	PhaseDiskProvisioning,
	PhaseLaunching,
	PhaseNetworkWait,
	PhaseRegistering,
	PhaseReady,
}

// Transition records one phase change.
type Transition struct {
	From Phase
	To   Phase
	At   time.Time
}

// Tracker holds the current phase of a deployment.
type Tracker struct {
	name     string
	phase    Phase
	failedIn Phase
	reason   error
	history  []Transition

	now func() time.Time
	// OnTransition, if set, is called after every successful transition.
	OnTransition func(Transition)
}

// NewTracker returns a tracker for the named deployment in PhaseIdle.
func NewTracker(name string) *Tracker {
	return &Tracker{name: name, phase: PhaseIdle, now: time.Now}
}

// Phase returns the current phase.
func (t *Tracker) Phase() Phase { return t.phase }

// FailedIn returns the phase that was active when Fail was called, or "".
func (t *Tracker) FailedIn() Phase { return t.failedIn }

// Reason returns the error passed to Fail, if any.
func (t *Tracker) Reason() error { return t.reason }

// History returns every transition so far, oldest first.
func (t *Tracker) History() []Transition {
	return append([]Transition(nil), t.history...)
}

// Advance moves to next. Only the immediate successor of the current phase is
// accepted; terminal phases cannot be left.
func (t *Tracker) Advance(next Phase) error {
	if IsTerminal(t.phase) {
		return fmt.Errorf("deployment %s: cannot transition to %s from terminal phase %s", t.name, next, t.phase)
	}
	if successor(t.phase) != next {
		return fmt.Errorf("deployment %s: cannot transition to %s from phase %s", t.name, next, t.phase)
	}
	t.record(next)
	return nil
}

// Fail moves to PhaseFailed from any non-terminal phase and remembers where
// the failure happened. Failing twice keeps the first reason.
func (t *Tracker) Fail(reason error) {
	if IsTerminal(t.phase) {
		return
	}
	t.failedIn = t.phase
	t.reason = reason
	t.record(PhaseFailed)
}

func (t *Tracker) record(next Phase) {
	tr := Transition{From: t.phase, To: next, At: t.now()}
	t.phase = next
	t.history = append(t.history, tr)
	if t.OnTransition != nil {
		t.OnTransition(tr)
	}
}

func successor(p Phase) Phase {
	for i, s := range sequence[:len(sequence)-1] {
		if s == p {
			return sequence[i+1]
		}
	}
	return ""
}

// IsTerminal returns true for Ready and Failed.
func IsTerminal(phase Phase) bool {
	return phase == PhaseReady || phase == PhaseFailed
}
