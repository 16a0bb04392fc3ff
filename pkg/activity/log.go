package activity

import "sync"

// Log is the append-only activity sequence of one session. Appends may race
// with reads from the expiration path; readers always get a consistent copy.
type Log struct {
	mu      sync.RWMutex
	entries []Activity
	sealed  bool
}

func NewLog() *Log {
	return &Log{}
}

// Append adds an entry. It returns false once the log has been sealed.
func (l *Log) Append(a Activity) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.sealed {
		return false
	}
	l.entries = append(l.entries, a)
	return true
}

// Seal makes the log read-only and returns its final contents.
func (l *Log) Seal() []Activity {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.sealed = true
	return l.copyLocked()
}

func (l *Log) Sealed() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.sealed
}

// Snapshot returns a copy of the entries in insertion order.
func (l *Log) Snapshot() []Activity {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.copyLocked()
}

func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}

func (l *Log) copyLocked() []Activity {
	out := make([]Activity, len(l.entries))
	copy(out, l.entries)
	return out
}
