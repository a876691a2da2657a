package debounce

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"proctord/internal/violation"
)

func TestObserveThresholdAndCooldown(t *testing.T) {
	tests := []struct {
		name      string
		threshold int
		cooldown  time.Duration
	}{
		{name: "no_face profile", threshold: 3, cooldown: 10 * time.Second},
		{name: "multiple_faces profile", threshold: 2, cooldown: 10 * time.Second},
		{name: "looking_away profile", threshold: 5, cooldown: 15 * time.Second},
		{name: "discrete action", threshold: 1, cooldown: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewMachine(Policy{Threshold: tt.threshold, Cooldown: tt.cooldown})
			now := time.Unix(1000, 0)

			// Exactly threshold consecutive candidates yield exactly one firing.
			fired := 0
			for i := 0; i < tt.threshold; i++ {
				if m.Observe(true, now) {
					fired++
				}
				now = now.Add(time.Second)
			}
			require.Equal(t, 1, fired, "threshold run must fire exactly once")

			// Further candidates within the cooldown fire nothing.
			if tt.cooldown > 0 {
				extra := 0
				for i := 0; i < tt.threshold+3; i++ {
					if m.Observe(true, now) {
						extra++
					}
					now = now.Add(time.Second)
					if now.Sub(time.Unix(1000, 0)) >= tt.cooldown {
						break
					}
				}
				assert.Equal(t, 0, extra, "cooldown must suppress repeat firings")
			}

			// After the cooldown elapses, a fresh run fires exactly once more.
			now = now.Add(tt.cooldown)
			again := 0
			for i := 0; i < tt.threshold; i++ {
				if m.Observe(true, now) {
					again++
				}
				now = now.Add(time.Second)
			}
			require.Equal(t, 1, again, "post-cooldown run must fire exactly once")
		})
	}
}

func TestGapResetsStreak(t *testing.T) {
	m := NewMachine(Policy{Threshold: 3, Cooldown: 10 * time.Second})
	now := time.Unix(0, 0)

	require.False(t, m.Observe(true, now))
	now = now.Add(time.Second)
	require.False(t, m.Observe(true, now))
	now = now.Add(time.Second)

	// A single negative tick wipes the streak entirely.
	require.False(t, m.Observe(false, now))
	assert.Equal(t, 0, m.Consecutive())
	now = now.Add(time.Second)

	require.False(t, m.Observe(true, now))
	now = now.Add(time.Second)
	require.False(t, m.Observe(true, now), "no partial memory across gaps")
	now = now.Add(time.Second)
	require.True(t, m.Observe(true, now))
}

func TestStreakSurvivesCooldownAndFiresPromptly(t *testing.T) {
	m := NewMachine(Policy{Threshold: 2, Cooldown: 10 * time.Second})
	start := time.Unix(0, 0)

	require.False(t, m.Observe(true, start))
	require.True(t, m.Observe(true, start.Add(1*time.Second)))

	// Condition persists straight through the cooldown window.
	for i := 2; i < 10; i++ {
		require.False(t, m.Observe(true, start.Add(time.Duration(i)*time.Second)))
	}

	// First candidate tick at/after expiry fires without rebuilding
	// the full streak from zero.
	require.True(t, m.Observe(true, start.Add(11*time.Second)))
}

func TestStateTransitions(t *testing.T) {
	m := NewMachine(Policy{Threshold: 2, Cooldown: 5 * time.Second})
	now := time.Unix(0, 0)

	assert.Equal(t, StateIdle, m.State(now))

	m.Observe(true, now)
	assert.Equal(t, StateAccumulating, m.State(now))

	m.Observe(true, now.Add(time.Second))
	assert.Equal(t, StateCooldown, m.State(now.Add(2*time.Second)))
	assert.Equal(t, StateIdle, m.State(now.Add(7*time.Second)))
}

func TestZeroCooldownFiresEveryOccurrence(t *testing.T) {
	m := NewMachine(Policy{Threshold: 1, Cooldown: 0})
	now := time.Unix(0, 0)

	for i := 0; i < 4; i++ {
		require.True(t, m.Observe(true, now), "every discrete occurrence must fire")
		now = now.Add(100 * time.Millisecond)
	}
}

func TestSetPolicyHotReload(t *testing.T) {
	m := NewMachine(Policy{Threshold: 5, Cooldown: 15 * time.Second})
	now := time.Unix(0, 0)

	m.Observe(true, now)
	m.Observe(true, now.Add(time.Second))

	// Tightening the threshold mid-streak takes effect on the next tick.
	m.SetPolicy(Policy{Threshold: 3, Cooldown: 15 * time.Second})
	require.True(t, m.Observe(true, now.Add(2*time.Second)))
}

func TestResetClearsCooldownClock(t *testing.T) {
	m := NewMachine(Policy{Threshold: 1, Cooldown: time.Minute})
	now := time.Unix(0, 0)

	require.True(t, m.Observe(true, now))
	require.False(t, m.Observe(true, now.Add(time.Second)))

	m.Reset()
	require.True(t, m.Observe(true, now.Add(2*time.Second)))
}

func TestDefaultPoliciesCoverEveryType(t *testing.T) {
	policies := DefaultPolicies()
	for _, typ := range violation.AllTypes() {
		p, ok := policies[typ]
		require.True(t, ok, "missing policy for %s", typ)
		assert.GreaterOrEqual(t, p.Threshold, 1)
	}

	assert.Equal(t, 3, policies[violation.TypeNoFace].Threshold)
	assert.Equal(t, 2, policies[violation.TypeMultipleFaces].Threshold)
	assert.Equal(t, 5, policies[violation.TypeLookingAway].Threshold)
	assert.Equal(t, time.Duration(0), policies[violation.TypeTabSwitch].Cooldown)
}
