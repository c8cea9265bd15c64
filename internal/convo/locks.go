package convo

import "sync"

// senderLocks serializes processing per sender so two messages arriving in
// quick succession cannot interleave on one session. Lock entries are small
// and senders are bounded by the community size, so entries are never evicted.
type senderLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newSenderLocks() *senderLocks {
	return &senderLocks{locks: make(map[string]*sync.Mutex)}
}

func (l *senderLocks) acquire(sender string) func() {
	l.mu.Lock()
	m, ok := l.locks[sender]
	if !ok {
		m = &sync.Mutex{}
		l.locks[sender] = m
	}
	l.mu.Unlock()

	m.Lock()
	return m.Unlock
}
