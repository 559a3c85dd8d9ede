package engine

import (
	"fmt"
	"sync"
	"time"

	"vigil/internal/logger"
)

// ProcessState is the operating state of the whole process, distinct
// from any single position's lifecycle.
type ProcessState string

const (
	ProcInitializing  ProcessState = "INITIALIZING"
	ProcRunning       ProcessState = "RUNNING"
	ProcPaused        ProcessState = "PAUSED"
	ProcSafeMode      ProcessState = "SAFE_MODE"
	ProcEmergencyStop ProcessState = "EMERGENCY_STOP"
	ProcMaintenance   ProcessState = "MAINTENANCE"
	ProcShuttingDown  ProcessState = "SHUTTING_DOWN"
)

// validProcess is the full transition table. SAFE_MODE may only
// escalate to EMERGENCY_STOP or recover to RUNNING; EMERGENCY_STOP
// may only go to MAINTENANCE or SHUTTING_DOWN; SHUTTING_DOWN is
// terminal.
var validProcess = map[ProcessState][]ProcessState{
	ProcInitializing:  {ProcRunning, ProcShuttingDown},
	ProcRunning:       {ProcPaused, ProcSafeMode, ProcEmergencyStop, ProcMaintenance, ProcShuttingDown},
	ProcPaused:        {ProcRunning, ProcShuttingDown},
	ProcSafeMode:      {ProcEmergencyStop, ProcRunning},
	ProcEmergencyStop: {ProcMaintenance, ProcShuttingDown},
	ProcMaintenance:   {ProcRunning, ProcShuttingDown},
}

// InvalidProcessTransitionError reports a request outside the table.
// The process state is left unchanged, never silently coerced.
type InvalidProcessTransitionError struct {
	From ProcessState
	To   ProcessState
}

func (e *InvalidProcessTransitionError) Error() string {
	return fmt.Sprintf("invalid process transition %s -> %s", e.From, e.To)
}

// Machine serializes process-state transitions.
type Machine struct {
	mu      sync.RWMutex
	state   ProcessState
	since   time.Time
	history []ProcessChange
}

// ProcessChange is one accepted process transition.
type ProcessChange struct {
	From   ProcessState `json:"from"`
	To     ProcessState `json:"to"`
	Reason string       `json:"reason"`
	At     time.Time    `json:"at"`
}

func NewMachine() *Machine {
	return &Machine{state: ProcInitializing, since: time.Now().UTC()}
}

func (m *Machine) State() ProcessState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// Since reports when the current state was entered.
func (m *Machine) Since() time.Time {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.since
}

// History returns a copy of accepted process transitions.
func (m *Machine) History() []ProcessChange {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]ProcessChange(nil), m.history...)
}

// To moves the process to target if the transition is in the table.
// Requesting the current state again is a no-op.
func (m *Machine) To(target ProcessState, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == target {
		return nil
	}
	if !processAllowed(m.state, target) {
		err := &InvalidProcessTransitionError{From: m.state, To: target}
		logger.Errorf("engine: %v (reason=%q)", err, reason)
		return err
	}
	now := time.Now().UTC()
	m.history = append(m.history, ProcessChange{From: m.state, To: target, Reason: reason, At: now})
	logger.Warnf("engine: process %s -> %s (%s)", m.state, target, reason)
	m.state = target
	m.since = now
	return nil
}

func processAllowed(from, to ProcessState) bool {
	for _, t := range validProcess[from] {
		if t == to {
			return true
		}
	}
	return false
}
