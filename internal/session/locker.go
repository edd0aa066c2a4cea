package session

import "sync"

// Locker serializes work per chat id. Entries are dropped once no goroutine holds or waits on them.
type Locker struct {
	mu    sync.Mutex
	chats map[int64]*chatLock
}

type chatLock struct {
	mu   sync.Mutex
	refs int
}

// NewLocker returns an empty Locker.
func NewLocker() *Locker {
	return &Locker{chats: make(map[int64]*chatLock)}
}

// Lock blocks until chatID is free and returns the matching unlock func.
func (l *Locker) Lock(chatID int64) (unlock func()) {
	l.mu.Lock()
	c, ok := l.chats[chatID]
	if !ok {
		c = &chatLock{}
		l.chats[chatID] = c
	}
	c.refs++
	l.mu.Unlock()

	c.mu.Lock()
	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Unlock()
			l.mu.Lock()
			c.refs--
			if c.refs == 0 {
				delete(l.chats, chatID)
			}
			l.mu.Unlock()
		})
	}
}

// Active returns the number of chats currently locked or awaited.
func (l *Locker) Active() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.chats)
}
