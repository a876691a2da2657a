// Package debounce implements the threshold/cooldown state machine
// that turns a per-frame candidate stream into rate-limited confirmed
// firings. One Machine instance exists per violation type for the
// lifetime of a session; instances are never shared across types.
package debounce

import (
	"sync"
	"time"

	"proctord/internal/violation"
)

// State describes where a machine currently sits in its cycle. Fired
// is instantaneous: Observe reports it by returning true, after which
// the machine is in Cooldown (or Idle when the cooldown is zero).
type State int

const (
	// StateIdle means no candidate streak is in progress.
	StateIdle State = iota
	// StateAccumulating means a streak is building toward the threshold.
	StateAccumulating
	// StateCooldown means a firing occurred within the cooldown window;
	// further threshold crossings are suppressed until it elapses.
	StateCooldown
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAccumulating:
		return "accumulating"
	case StateCooldown:
		return "cooldown"
	default:
		return "unknown"
	}
}

// Policy parameterizes a machine: how many consecutive candidate ticks
// confirm a violation, and the minimum spacing between firings.
type Policy struct {
	Threshold int
	Cooldown  time.Duration
}

// DefaultPolicies returns the per-type debounce policy table.
// Continuous camera conditions need several consecutive ticks;
// discrete user actions confirm on the first occurrence.
func DefaultPolicies() map[violation.Type]Policy {
	return map[violation.Type]Policy{
		violation.TypeNoFace:            {Threshold: 3, Cooldown: 10 * time.Second},
		violation.TypeMultipleFaces:     {Threshold: 2, Cooldown: 10 * time.Second},
		violation.TypeLookingAway:       {Threshold: 5, Cooldown: 15 * time.Second},
		violation.TypeSuddenNoise:       {Threshold: 1, Cooldown: 10 * time.Second},
		violation.TypeBackgroundNoise:   {Threshold: 1, Cooldown: 10 * time.Second},
		violation.TypeTabSwitch:         {Threshold: 1, Cooldown: 0},
		violation.TypeSecurityViolation: {Threshold: 1, Cooldown: 0},
		violation.TypeRightClickBlocked: {Threshold: 1, Cooldown: 0},
	}
}

// Machine is the debounce state machine for a single violation type.
//
// On every tick of the owning detector loop, call Observe with whether
// a candidate of this type was produced. A gap (candidate == false)
// resets the consecutive count; a firing requires the count to reach
// the threshold while outside the cooldown window. During cooldown the
// count keeps tracking, so a violation that persists past cooldown
// expiry fires again on the next candidate tick.
type Machine struct {
	mu sync.Mutex

	policy      Policy
	consecutive int
	lastFired   time.Time
	fired       bool // lastFired is meaningful
}

// NewMachine creates a machine with the given policy. A threshold
// below 1 is treated as 1.
func NewMachine(p Policy) *Machine {
	if p.Threshold < 1 {
		p.Threshold = 1
	}
	return &Machine{policy: p}
}

// Observe feeds one tick into the machine and reports whether this
// tick confirms a firing. The caller emits exactly one violation event
// per true return.
func (m *Machine) Observe(candidate bool, now time.Time) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !candidate {
		m.consecutive = 0
		return false
	}

	m.consecutive++
	if m.consecutive < m.policy.Threshold {
		return false
	}
	if m.fired && now.Sub(m.lastFired) < m.policy.Cooldown {
		// Suppressed by cooldown; keep the streak so the next tick
		// after expiry fires promptly.
		return false
	}

	m.lastFired = now
	m.fired = true
	m.consecutive = 0
	return true
}

// State reports the machine's conceptual state at the given instant.
func (m *Machine) State(now time.Time) State {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.fired && now.Sub(m.lastFired) < m.policy.Cooldown {
		return StateCooldown
	}
	if m.consecutive > 0 {
		return StateAccumulating
	}
	return StateIdle
}

// Consecutive returns the current streak length.
func (m *Machine) Consecutive() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.consecutive
}

// Policy returns the machine's current policy.
func (m *Machine) Policy() Policy {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.policy
}

// SetPolicy replaces the policy. Used by configuration hot reload; the
// streak and cooldown clock carry over.
func (m *Machine) SetPolicy(p Policy) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p.Threshold < 1 {
		p.Threshold = 1
	}
	m.policy = p
}

// Reset clears the streak and the cooldown clock.
func (m *Machine) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.consecutive = 0
	m.fired = false
	m.lastFired = time.Time{}
}
