// Package schedule tracks whether the platform is open for trading.
package schedule

import (
	"sync"
	"time"
)

// TradingDay truncates t to the calendar date in UTC.
func TradingDay(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// ParseTradingDay parses a YYYY-MM-DD date.
func ParseTradingDay(s string) (time.Time, error) {
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		return time.Time{}, err
	}
	return TradingDay(t), nil
}

// WindowKey is where the last window is kept so a restart resumes inside
// the same trading-disabled window.
const WindowKey = "platform-schedule:window"

// Window is the current platform trading state.
type Window struct {
	TradingEnabled bool      `json:"trading_enabled"`
	TradingDay     time.Time `json:"trading_day"` // Day closed by the last market closure
	ChangedAt      time.Time `json:"changed_at"`
}

// PlatformSchedule records market-closure and market-open transitions.
// It is the authority the snapshot service consults before reading caches:
// a snapshot of a trading day is only allowed while trading is disabled for
// that same day.
type PlatformSchedule struct {
	mu     sync.RWMutex
	window Window
}

// NewPlatformSchedule starts with trading enabled.
func NewPlatformSchedule() *PlatformSchedule {
	return &PlatformSchedule{window: Window{TradingEnabled: true}}
}

// Close disables trading for tradingDay.
func (s *PlatformSchedule) Close(tradingDay, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.window = Window{TradingEnabled: false, TradingDay: TradingDay(tradingDay), ChangedAt: at}
}

// Open re-enables trading. The last closed trading day is kept for reference.
func (s *PlatformSchedule) Open(at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.window.TradingEnabled = true
	s.window.ChangedAt = at
}

// Restore replaces the window, typically with the one persisted before a
// restart.
func (s *PlatformSchedule) Restore(w Window) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !w.TradingDay.IsZero() {
		w.TradingDay = TradingDay(w.TradingDay)
	}
	s.window = w
}

func (s *PlatformSchedule) Current() Window {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.window
}

// IsTradingDisabled reports whether the platform is in a trading-disabled
// window covering tradingDay.
func (s *PlatformSchedule) IsTradingDisabled(tradingDay time.Time) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return !s.window.TradingEnabled && s.window.TradingDay.Equal(TradingDay(tradingDay))
}
