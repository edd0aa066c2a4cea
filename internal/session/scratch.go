package session

import (
	"sync"
	"time"

	"github.com/etokosmo/pizza-shop/internal/delivery"
	"github.com/etokosmo/pizza-shop/internal/geo"
)

// DefaultScratchIdle is how long an untouched scratch survives.
const DefaultScratchIdle = 24 * time.Hour

// Scratch holds values carried between steps of one order. It lives in memory only.
type Scratch struct {
	ProductID      string
	CustomerID     string
	TotalAmount    int64
	TotalFormatted string
	Currency       string

	UserPoint       *geo.Point
	NearestAddress  string
	DeliveryContact string
	Meters          int
	Tier            delivery.Tier
}

type scratchEntry struct {
	sc      Scratch
	touched time.Time
}

// ScratchStore is a concurrency-safe map of chat id to Scratch.
// Entries untouched for longer than the idle period read as empty and are
// dropped by Sweep.
type ScratchStore struct {
	mu    sync.Mutex
	items map[int64]scratchEntry
	idle  time.Duration
	now   func() time.Time
}

// NewScratchStore returns an empty store. idle <= 0 selects DefaultScratchIdle.
func NewScratchStore(idle time.Duration) *ScratchStore {
	if idle <= 0 {
		idle = DefaultScratchIdle
	}
	return &ScratchStore{items: make(map[int64]scratchEntry), idle: idle, now: time.Now}
}

// Get returns a copy of the scratch for chatID (zero value when absent or idle).
func (s *ScratchStore) Get(chatID int64) Scratch {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.items[chatID]
	if !ok {
		return Scratch{}
	}
	if s.expired(e) {
		delete(s.items, chatID)
		return Scratch{}
	}
	return e.sc
}

// Update applies fn to the scratch of chatID and stores the result.
func (s *ScratchStore) Update(chatID int64, fn func(*Scratch)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var sc Scratch
	if e, ok := s.items[chatID]; ok && !s.expired(e) {
		sc = e.sc
	}
	fn(&sc)
	s.items[chatID] = scratchEntry{sc: sc, touched: s.now()}
}

// Clear drops the scratch of chatID.
func (s *ScratchStore) Clear(chatID int64) {
	s.mu.Lock()
	delete(s.items, chatID)
	s.mu.Unlock()
}

// Len reports the number of stored entries, idle ones included.
func (s *ScratchStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}

// Sweep drops idle entries and returns how many were removed.
func (s *ScratchStore) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, e := range s.items {
		if s.expired(e) {
			delete(s.items, id)
			n++
		}
	}
	return n
}

// StartSweeper runs Sweep every interval until the returned stop is called.
// report, when set, receives the count of each non-empty sweep.
func (s *ScratchStore) StartSweeper(interval time.Duration, report func(removed int)) (stop func()) {
	if interval <= 0 {
		interval = s.idle / 4
	}
	done := make(chan struct{})
	var once sync.Once
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				if n := s.Sweep(); n > 0 && report != nil {
					report(n)
				}
			}
		}
	}()
	return func() { once.Do(func() { close(done) }) }
}

func (s *ScratchStore) expired(e scratchEntry) bool {
	return s.now().Sub(e.touched) > s.idle
}
