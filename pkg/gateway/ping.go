package gateway

import (
	"sync"

	"github.com/google/uuid"
)

// pingWaiter is a one-shot listener for a command reply on a single
// deviceToServer topic. Each in-flight ping owns its own waiter so that a reply
// can never satisfy the wrong caller; the buffered channel guarantees the
// resolving side never blocks on a caller that has already timed out.
type pingWaiter struct {
	topic string
	reply chan Reply
}

// pingWaiters is the table of in-flight ping correlations. Access is
// serialized with a mutex because replies arrive on the Paho client's network
// goroutine while registrations happen on caller goroutines.
type pingWaiters struct {
	mu      sync.Mutex
	waiters map[uuid.UUID]pingWaiter
}

func newPingWaiters() *pingWaiters {
	return &pingWaiters{waiters: make(map[uuid.UUID]pingWaiter)}
}

// register installs a waiter for the given deviceToServer topic and returns its
// id together with the channel the reply will be delivered on.
func (p *pingWaiters) register(topic string) (uuid.UUID, <-chan Reply) {
	id := uuid.New()
	w := pingWaiter{topic: topic, reply: make(chan Reply, 1)}
	p.mu.Lock()
	p.waiters[id] = w
	p.mu.Unlock()
	return id, w.reply
}

// remove drops a waiter. It is idempotent: the timeout path and the resolve
// path may both attempt removal and exactly one of them wins.
func (p *pingWaiters) remove(id uuid.UUID) {
	p.mu.Lock()
	delete(p.waiters, id)
	p.mu.Unlock()
}

// resolve delivers a reply to every waiter registered for the topic and removes
// them. Multiple concurrent pings to the same sensor all resolve on one reply,
// matching the behaviour of a device that answers a burst of pings once.
func (p *pingWaiters) resolve(topic string, reply Reply) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for id, w := range p.waiters {
		if w.topic != topic {
			continue
		}
		w.reply <- reply
		delete(p.waiters, id)
	}
}

// len reports the number of in-flight waiters.
func (p *pingWaiters) len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.waiters)
}
