package sim

import "sync"

// CountListener is notified when a count ends.
type CountListener interface {
	CountFinished(count uint32)
}

// CountFinishedFunc is func type of CountListener.
type CountFinishedFunc func(count uint32)

// CountFinished implements CountListener.
func (f CountFinishedFunc) CountFinished(count uint32) {
	f(count)
}

// CountFinishedCaster casts count-finished notifications to subscribers.
type CountFinishedCaster struct {
	lock      sync.Mutex
	listeners map[int]CountListener
	nextID    int
}

// SubscribeCountFinished adds a listener, the returned func removes it.
func (c *CountFinishedCaster) SubscribeCountFinished(ln CountListener) (unsubscribe func()) {
	c.lock.Lock()
	defer c.lock.Unlock()
	if c.listeners == nil {
		c.listeners = make(map[int]CountListener)
	}
	id := c.nextID
	c.nextID++
	c.listeners[id] = ln
	return func() {
		c.lock.Lock()
		delete(c.listeners, id)
		c.lock.Unlock()
	}
}

// CountFinished implements CountListener.
func (c *CountFinishedCaster) CountFinished(count uint32) {
	c.lock.Lock()
	lns := make([]CountListener, 0, len(c.listeners))
	for _, ln := range c.listeners {
		lns = append(lns, ln)
	}
	c.lock.Unlock()
	for _, ln := range lns {
		ln.CountFinished(count)
	}
}
