package main

import (
	"sync"
	"time"
)

// pings is the process-wide ping ticker. Every connection writer
// subscribes for its keepalive ticks instead of running its own timer.
var pings = newMTicker(pingPeriod)

type mTicker struct {
	mux         sync.Mutex // Protects subscribers
	subscribers subscribers

	tickerMux sync.Mutex // Used to sync start/stop
	ticker    *time.Ticker
	stopCh    chan struct{}
	stopped   bool
}

type subscribers map[*subscriber]interface {
}

type subscriber struct {
	tick chan time.Time
}

// newMTicker creates and starts a ticker that fans ticks out to any
// number of subscribed channels.
func newMTicker(interval time.Duration) *mTicker {
	t := &mTicker{
		subscribers: make(subscribers),
	}

	go func() {
		t.tickerMux.Lock()
		stopped := t.stopped

		if !stopped {
			t.stopCh = make(chan struct{}, 1)
			t.ticker = time.NewTicker(interval)
		}
		t.tickerMux.Unlock()

		if !stopped {
			t.tick()
		}
	}()
	return t
}

func newSubscriber() *subscriber {
	return &subscriber{
		tick: make(chan time.Time, 1),
	}
}

// subscribe returns a subscriber whose channel receives ticks. Ticks
// that can't be delivered, because the channel is not ready to receive,
// are discarded.
func (t *mTicker) subscribe() *subscriber {
	t.mux.Lock()
	defer t.mux.Unlock()

	sub := newSubscriber()
	t.subscribers[sub] = nil
	return sub
}

func (t *mTicker) unsubscribe(subscriber *subscriber) {
	t.mux.Lock()
	defer t.mux.Unlock()

	if _, ok := t.subscribers[subscriber]; !ok {
		return
	}
	close(subscriber.tick)
	delete(t.subscribers, subscriber)
}

// stop stops the ticker and closes all subscribed channels.
func (t *mTicker) stop() {
	t.tickerMux.Lock()
	defer t.tickerMux.Unlock()

	if !t.stopped && t.stopCh != nil {
		t.mux.Lock()
		for sub := range t.subscribers {
			close(sub.tick)
			delete(t.subscribers, sub)
		}
		t.mux.Unlock()
		t.ticker.Stop()
		t.stopCh <- struct{}{}
	}
	t.stopped = true
}

func (t *mTicker) tick() {
	for {
		select {
		case tick := <-t.ticker.C:
			t.mux.Lock()
			for sub := range t.subscribers {
				select {
				case sub.tick <- tick:
				default:
					incr("ticks.dropped", 1)
				}
			}
			t.mux.Unlock()
		case <-t.stopCh:
			return
		}
	}
}
