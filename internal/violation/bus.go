package violation

import (
	"sync"

	"proctord/internal/logging"
)

// Tally is a snapshot of confirmed violation counts.
type Tally struct {
	Total  int          `json:"total"`
	ByType map[Type]int `json:"by_type"`
}

// Bus is the fan-in point for confirmed violation events. It keeps
// the session tally and fans events out to subscribers: the session
// controller, the UI notifier, the flag reporter, the local journal,
// and metrics.
//
// Publish is serialized, so subscribers observe events in emission
// order. Channel subscribers are buffered and never block a publish;
// a full channel drops the event for that subscriber only (the tally
// has already been updated synchronously).
type Bus struct {
	mu          sync.Mutex
	subscribers []subscriber
	handlers    []Handler
	tally       Tally
	logger      *logging.Logger

	// countRightClicks includes right_click_blocked events in the
	// tally. Off by default: they warn the candidate but do not count
	// toward the violation ceiling.
	countRightClicks bool
}

// Handler is a synchronous subscriber. Handlers run inline on the
// publishing goroutine and must not block.
type Handler func(Event)

type subscriber struct {
	name string
	ch   chan Event
}

// NewBus creates an event bus.
func NewBus(logger *logging.Logger, countRightClicks bool) *Bus {
	if logger == nil {
		logger = logging.Default()
	}
	return &Bus{
		tally:            Tally{ByType: make(map[Type]int)},
		logger:           logger.WithComponent("bus"),
		countRightClicks: countRightClicks,
	}
}

// Subscribe registers a buffered channel subscriber. Subscribers must
// drain their channel promptly; overflow drops events for that
// subscriber with a warning.
func (b *Bus) Subscribe(name string, buffer int) <-chan Event {
	if buffer <= 0 {
		buffer = 32
	}
	ch := make(chan Event, buffer)

	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers = append(b.subscribers, subscriber{name: name, ch: ch})
	return ch
}

// SubscribeFunc registers a synchronous handler.
func (b *Bus) SubscribeFunc(fn Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers = append(b.handlers, fn)
}

// Publish records one confirmed event and fans it out. Safe for use
// from multiple detector loops; per-publisher ordering is preserved.
// Dispatch happens outside the bus lock so handlers may read the
// tally back without deadlocking.
func (b *Bus) Publish(ev Event) {
	b.mu.Lock()
	if b.counts(ev.Type) {
		b.tally.Total++
		b.tally.ByType[ev.Type]++
	}
	total := b.tally.Total
	handlers := make([]Handler, len(b.handlers))
	copy(handlers, b.handlers)
	subs := make([]subscriber, len(b.subscribers))
	copy(subs, b.subscribers)
	b.mu.Unlock()

	b.logger.Info("violation confirmed",
		"violation_type", ev.Type,
		"severity", ev.Severity,
		"tally", total)

	for _, fn := range handlers {
		fn(ev)
	}

	for _, sub := range subs {
		select {
		case sub.ch <- ev:
		default:
			b.logger.Warn("subscriber overflow, event dropped",
				"subscriber", sub.name, "violation_type", ev.Type)
		}
	}
}

func (b *Bus) counts(t Type) bool {
	if t == TypeRightClickBlocked {
		return b.countRightClicks
	}
	return true
}

// Tally returns a copy of the current counts.
func (b *Bus) Tally() Tally {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := Tally{Total: b.tally.Total, ByType: make(map[Type]int, len(b.tally.ByType))}
	for k, v := range b.tally.ByType {
		out.ByType[k] = v
	}
	return out
}

// Close closes all subscriber channels. Publish must not be called
// after Close.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, sub := range b.subscribers {
		close(sub.ch)
	}
	b.subscribers = nil
}
