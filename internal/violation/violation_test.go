package violation

import (
	"testing"
	"time"
)

// ============================================================================
// Type and Severity Tests
// ============================================================================

func TestTypeValid(t *testing.T) {
	for _, typ := range AllTypes() {
		if !typ.Valid() {
			t.Errorf("%s should be valid", typ)
		}
	}
	if Type("keyboard_unplugged").Valid() {
		t.Error("unknown type should be invalid")
	}
}

func TestSeverityMapping(t *testing.T) {
	tests := []struct {
		typ  Type
		want Severity
	}{
		{TypeNoFace, SeverityMedium},
		{TypeMultipleFaces, SeverityHigh},
		{TypeLookingAway, SeverityMedium},
		{TypeSuddenNoise, SeverityMedium},
		{TypeBackgroundNoise, SeverityMedium},
		{TypeTabSwitch, SeverityHigh},
		{TypeSecurityViolation, SeverityHigh},
		{TypeRightClickBlocked, SeverityLow},
	}

	for _, tt := range tests {
		if got := SeverityFor(tt.typ); got != tt.want {
			t.Errorf("SeverityFor(%s) = %s, want %s", tt.typ, got, tt.want)
		}
	}
}

func TestNewEventFillsDefaults(t *testing.T) {
	now := time.Now()
	ev := NewEvent(Candidate{Type: TypeNoFace}, now)

	if ev.Description == "" {
		t.Error("event description should be defaulted")
	}
	if ev.Severity != SeverityMedium {
		t.Errorf("severity = %s, want medium", ev.Severity)
	}
	if !ev.OccurredAt.Equal(now) {
		t.Error("occurred_at should be the confirmation time")
	}
}

func TestNewEventKeepsCandidateDescription(t *testing.T) {
	ev := NewEvent(Candidate{
		Type:        TypeLookingAway,
		Description: "Candidate looking left (offset ratio 0.22)",
	}, time.Now())

	if ev.Description != "Candidate looking left (offset ratio 0.22)" {
		t.Errorf("description overwritten: %q", ev.Description)
	}
}

// ============================================================================
// Event Bus Tests
// ============================================================================

func TestBusTallyAndFanOut(t *testing.T) {
	bus := NewBus(nil, false)
	sub := bus.Subscribe("test", 8)

	var handled []Event
	bus.SubscribeFunc(func(ev Event) { handled = append(handled, ev) })

	now := time.Now()
	bus.Publish(NewEvent(Candidate{Type: TypeNoFace}, now))
	bus.Publish(NewEvent(Candidate{Type: TypeTabSwitch}, now))
	bus.Publish(NewEvent(Candidate{Type: TypeNoFace}, now))

	tally := bus.Tally()
	if tally.Total != 3 {
		t.Errorf("total = %d, want 3", tally.Total)
	}
	if tally.ByType[TypeNoFace] != 2 {
		t.Errorf("no_face count = %d, want 2", tally.ByType[TypeNoFace])
	}
	if len(handled) != 3 {
		t.Errorf("handler saw %d events, want 3", len(handled))
	}

	// Channel subscriber observes emission order.
	first := <-sub
	second := <-sub
	if first.Type != TypeNoFace || second.Type != TypeTabSwitch {
		t.Errorf("order broken: %s then %s", first.Type, second.Type)
	}
}

func TestBusRightClickExcludedFromTally(t *testing.T) {
	bus := NewBus(nil, false)
	sub := bus.Subscribe("test", 4)

	bus.Publish(NewEvent(Candidate{Type: TypeRightClickBlocked}, time.Now()))

	if got := bus.Tally().Total; got != 0 {
		t.Errorf("right_click_blocked counted toward tally: %d", got)
	}

	// The event still reaches subscribers for the UI warning.
	select {
	case ev := <-sub:
		if ev.Type != TypeRightClickBlocked {
			t.Errorf("unexpected event %s", ev.Type)
		}
	default:
		t.Error("right_click_blocked should still fan out")
	}
}

func TestBusRightClickCountedWhenConfigured(t *testing.T) {
	bus := NewBus(nil, true)
	bus.Publish(NewEvent(Candidate{Type: TypeRightClickBlocked}, time.Now()))

	if got := bus.Tally().Total; got != 1 {
		t.Errorf("tally = %d, want 1 with counting enabled", got)
	}
}

func TestBusOverflowDropsWithoutBlocking(t *testing.T) {
	bus := NewBus(nil, false)
	bus.Subscribe("slow", 1) // never drained

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			bus.Publish(NewEvent(Candidate{Type: TypeTabSwitch}, time.Now()))
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a full subscriber")
	}

	// The tally is authoritative even when a subscriber overflowed.
	if got := bus.Tally().Total; got != 10 {
		t.Errorf("tally = %d, want 10", got)
	}
}

func TestBusCloseClosesSubscribers(t *testing.T) {
	bus := NewBus(nil, false)
	sub := bus.Subscribe("test", 1)
	bus.Close()

	if _, ok := <-sub; ok {
		t.Error("subscriber channel should be closed")
	}
}
