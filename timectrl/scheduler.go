package timectrl

import (
	"fmt"
	"sort"
	"sync"
	"time"
)

// EventID identifies a scheduled event so it can be cancelled or
// replaced. The zero value never refers to a live event.
type EventID string

// EventScheduler schedules callbacks to run at specific simulation
// times based on a SimClock. The spectrum PHY uses it for transmission
// and reception end events and for the CCA busy-end re-check.
//
// The simulation loop advances the clock and then calls RunDue; events
// that share a timestamp run in the order they were scheduled.
type EventScheduler interface {
	// Schedule registers a callback f to run at simulation time 'at'.
	Schedule(at time.Time, f func()) EventID

	// Cancel attempts to cancel a previously scheduled event. It is a
	// no-op if the ID is unknown or the event already ran.
	Cancel(id EventID)

	// Reschedule cancels the event identified by id (if still pending)
	// and schedules f at the new time, returning the replacement ID.
	// A new scheduled check replaces rather than stacks on the old one.
	Reschedule(id EventID, at time.Time, f func()) EventID

	// Now returns the current simulation time.
	Now() time.Time

	// RunDue executes all events whose scheduled time is <= Now().
	// Already-run events never run again.
	RunDue()
}

type scheduledEvent struct {
	id        EventID
	seq       uint64
	when      time.Time
	f         func()
	cancelled bool
}

type eventScheduler struct {
	clock SimClock

	mu      sync.Mutex
	counter uint64
	events  []*scheduledEvent // ordered by (when, seq), earliest first
	index   map[EventID]*scheduledEvent
}

// NewEventScheduler creates an event scheduler backed by the given
// SimClock: the TimeController in normal runs, a ManualClock in tests.
func NewEventScheduler(clock SimClock) EventScheduler {
	return &eventScheduler{
		clock: clock,
		index: make(map[EventID]*scheduledEvent),
	}
}

func (s *eventScheduler) Schedule(at time.Time, f func()) EventID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.scheduleLocked(at, f)
}

func (s *eventScheduler) scheduleLocked(at time.Time, f func()) EventID {
	s.counter++
	ev := &scheduledEvent{
		id:   EventID(fmt.Sprintf("ev-%d", s.counter)),
		seq:  s.counter,
		when: at,
		f:    f,
	}

	// Insert keeping time order; seq breaks ties so same-timestamp
	// events run in insertion order.
	idx := sort.Search(len(s.events), func(i int) bool {
		if s.events[i].when.Equal(ev.when) {
			return s.events[i].seq > ev.seq
		}
		return s.events[i].when.After(ev.when)
	})
	s.events = append(s.events, nil)
	copy(s.events[idx+1:], s.events[idx:])
	s.events[idx] = ev

	s.index[ev.id] = ev
	return ev.id
}

func (s *eventScheduler) Cancel(id EventID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancelLocked(id)
}

func (s *eventScheduler) cancelLocked(id EventID) {
	ev, ok := s.index[id]
	if !ok {
		return
	}
	ev.cancelled = true
	delete(s.index, id)
	// Removal from s.events is lazy; RunDue skips cancelled events.
}

func (s *eventScheduler) Reschedule(id EventID, at time.Time, f func()) EventID {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancelLocked(id)
	return s.scheduleLocked(at, f)
}

func (s *eventScheduler) Now() time.Time {
	return s.clock.Now()
}

// popNextLocked removes and returns the earliest non-cancelled event
// that is due. Caller must hold s.mu.
func (s *eventScheduler) popNextLocked() *scheduledEvent {
	now := s.clock.Now()
	for len(s.events) > 0 {
		ev := s.events[0]
		if ev.cancelled {
			s.events = s.events[1:]
			continue
		}
		if !ev.when.After(now) {
			s.events = s.events[1:]
			return ev
		}
		// Events are time-ordered, so nothing later is due either.
		break
	}
	return nil
}

func (s *eventScheduler) RunDue() {
	for {
		s.mu.Lock()
		ev := s.popNextLocked()
		if ev == nil {
			s.mu.Unlock()
			return
		}
		delete(s.index, ev.id)
		s.mu.Unlock()

		// Execute outside the lock: callbacks routinely schedule or
		// reschedule further events.
		if ev.f != nil {
			ev.f()
		}
	}
}
