// Package powerdown publishes the platform wide power-down request to its subscribers.
package powerdown

import "github.com/womat/debug"

// ID identifies a subscription.
type ID uint64

type subscriber struct {
	id ID
	fn func()
}

// Publisher holds the power-down subscribers.
// Like the rest of the simulated platform it is not safe for concurrent use.
type Publisher struct {
	subs []subscriber
	last ID
	// count is the number of published power-down events.
	count int
}

// New creates an empty publisher.
func New() *Publisher {
	return &Publisher{}
}

// Subscribe registers fn to be called on each power-down event.
func (p *Publisher) Subscribe(fn func()) ID {
	p.last++
	p.subs = append(p.subs, subscriber{id: p.last, fn: fn})
	return p.last
}

// Unsubscribe withdraws the subscription id.
// It returns false if id isn't subscribed.
func (p *Publisher) Unsubscribe(id ID) bool {
	for i, s := range p.subs {
		if s.id == id {
			p.subs = append(p.subs[:i], p.subs[i+1:]...)
			return true
		}
	}
	return false
}

// Notify calls every subscriber in subscription order.
// Subscribers added or removed by a callback take effect with the next event.
func (p *Publisher) Notify() {
	p.count++
	subs := make([]subscriber, len(p.subs))
	copy(subs, p.subs)

	debug.InfoLog.Printf("power-down requested, notify %d subscriber(s)", len(subs))
	for _, s := range subs {
		s.fn()
	}
}

// Len returns the number of subscribers.
func (p *Publisher) Len() int {
	return len(p.subs)
}

// Count returns the number of published power-down events.
func (p *Publisher) Count() int {
	return p.count
}
