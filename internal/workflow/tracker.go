// Package workflow tracks the draft snapshot requested at market closure
// until a draft is persisted.
package workflow

import (
	"sync"
	"time"
)

// State of the draft snapshot workflow
type State int32

const (
	StatePending State = iota
	StateRequested
	StateInProgress
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "Pending"
	case StateRequested:
		return "Requested"
	case StateInProgress:
		return "InProgress"
	default:
		return "Unknown"
	}
}

// CanTransitionTo checks if a state transition is valid.
// Pending -> Requested -> InProgress -> Pending
func (s State) CanTransitionTo(target State) bool {
	allowed := map[State]State{
		StatePending:    StateRequested,
		StateRequested:  StateInProgress,
		StateInProgress: StatePending,
	}
	next, ok := allowed[s]
	return ok && next == target
}

// Tracker remembers whether a draft snapshot is owed. Illegal transitions
// return false and leave the state unchanged.
type Tracker interface {
	State() State
	RequestedAt() time.Time
	TradingDay() time.Time
	TryRequest(tradingDay, at time.Time) bool
	TryStart() bool
	TryComplete() bool
	// Supersede moves an owed or running draft on to a later trading day.
	Supersede(tradingDay, at time.Time) bool
	// CompleteFor resets to Pending unless a later day than tradingDay is
	// now owed.
	CompleteFor(tradingDay time.Time) bool
	// Reset forces Pending regardless of the current state.
	Reset()
}

// Machine is the unsynchronized Tracker.
type Machine struct {
	state       State
	requestedAt time.Time
	tradingDay  time.Time
}

func NewMachine() *Machine {
	return &Machine{state: StatePending}
}

func (m *Machine) State() State           { return m.state }
func (m *Machine) RequestedAt() time.Time { return m.requestedAt }
func (m *Machine) TradingDay() time.Time  { return m.tradingDay }

func (m *Machine) transition(target State) bool {
	if !m.state.CanTransitionTo(target) {
		return false
	}
	m.state = target
	return true
}

func (m *Machine) TryRequest(tradingDay, at time.Time) bool {
	if !m.transition(StateRequested) {
		return false
	}
	m.tradingDay = tradingDay
	m.requestedAt = at
	return true
}

func (m *Machine) TryStart() bool {
	return m.transition(StateInProgress)
}

func (m *Machine) TryComplete() bool {
	return m.transition(StatePending)
}

// Supersede re-arms the tracker for tradingDay when a draft of an earlier
// day is still Requested or InProgress. That draft can no longer be taken
// once the platform closed a later day.
func (m *Machine) Supersede(tradingDay, at time.Time) bool {
	if m.state == StatePending || !tradingDay.After(m.tradingDay) {
		return false
	}
	m.state = StateRequested
	m.tradingDay = tradingDay
	m.requestedAt = at
	return true
}

func (m *Machine) CompleteFor(tradingDay time.Time) bool {
	if m.state != StatePending && m.tradingDay.After(tradingDay) {
		return false
	}
	m.state = StatePending
	return true
}

func (m *Machine) Reset() {
	m.state = StatePending
}

// SynchronizedTracker guards every accessor of the wrapped tracker with a
// mutex so the event path and the fallback monitor can share it.
type SynchronizedTracker struct {
	mu    sync.Mutex
	inner Tracker
}

func Synchronized(inner Tracker) *SynchronizedTracker {
	return &SynchronizedTracker{inner: inner}
}

func (s *SynchronizedTracker) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inner.State()
}

func (s *SynchronizedTracker) RequestedAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inner.RequestedAt()
}

func (s *SynchronizedTracker) TradingDay() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inner.TradingDay()
}

func (s *SynchronizedTracker) TryRequest(tradingDay, at time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inner.TryRequest(tradingDay, at)
}

func (s *SynchronizedTracker) TryStart() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inner.TryStart()
}

func (s *SynchronizedTracker) TryComplete() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inner.TryComplete()
}

func (s *SynchronizedTracker) Supersede(tradingDay, at time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inner.Supersede(tradingDay, at)
}

func (s *SynchronizedTracker) CompleteFor(tradingDay time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inner.CompleteFor(tradingDay)
}

func (s *SynchronizedTracker) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inner.Reset()
}

// Snapshot reads state, trading day and request time atomically.
func (s *SynchronizedTracker) Snapshot() (State, time.Time, time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inner.State(), s.inner.TradingDay(), s.inner.RequestedAt()
}
