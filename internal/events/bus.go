// Package events provides the event kinds and an asynchronous, non-blocking
// bus carrying live activity notifications to subscribers. The bus is owned
// by the event engine; delivery is best effort and not part of the
// durability contract.
package events

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/sentinel-vision/sentinel-agent/internal/errors"
	"github.com/sentinel-vision/sentinel-agent/internal/logging"
)

// Subscriber consumes live event and stats notifications. Implementations
// must not block; slow subscribers cause message drops, never backpressure.
type Subscriber interface {
	Name() string
	OnEvent(event *Event)
	OnStats(stats *Stats)
}

type message struct {
	event *Event
	stats *Stats
}

// Bus fans event and stats notifications out to subscribers from a single
// worker goroutine. Publishing never blocks the caller.
type Bus struct {
	mu       sync.Mutex
	subs     []Subscriber
	ch       chan message
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	started  atomic.Bool
	dropped  atomic.Uint64
	log      *slog.Logger
}

// NewBus creates a bus with the given channel buffer size.
func NewBus(bufferSize int) *Bus {
	if bufferSize <= 0 {
		bufferSize = 256
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Bus{
		ch:     make(chan message, bufferSize),
		ctx:    ctx,
		cancel: cancel,
		log:    logging.ForService("events"),
	}
}

// Subscribe registers a subscriber. The dispatch worker starts with the
// first subscriber.
func (b *Bus) Subscribe(sub Subscriber) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, existing := range b.subs {
		if existing.Name() == sub.Name() {
			return errors.Newf("subscriber %s already registered", sub.Name()).
				Component("events").
				Category(errors.CategoryValidation).
				Build()
		}
	}
	b.subs = append(b.subs, sub)
	b.log.Info("registered event subscriber", "subscriber", sub.Name())

	if b.started.CompareAndSwap(false, true) {
		b.wg.Add(1)
		go b.dispatch()
	}
	return nil
}

// PublishEvent delivers an event notification to subscribers. Returns false
// if the bus buffer is full and the message was dropped.
func (b *Bus) PublishEvent(event *Event) bool {
	return b.publish(message{event: event})
}

// PublishStats delivers a stats notification to subscribers. Returns false
// if the bus buffer is full and the message was dropped.
func (b *Bus) PublishStats(stats *Stats) bool {
	return b.publish(message{stats: stats})
}

func (b *Bus) publish(msg message) bool {
	select {
	case <-b.ctx.Done():
		return false
	default:
	}
	select {
	case b.ch <- msg:
		return true
	default:
		b.dropped.Add(1)
		return false
	}
}

// Dropped returns the number of messages dropped due to a full buffer.
func (b *Bus) Dropped() uint64 {
	return b.dropped.Load()
}

// Shutdown stops the dispatch worker and waits for it to drain.
func (b *Bus) Shutdown() {
	b.cancel()
	b.wg.Wait()
}

func (b *Bus) dispatch() {
	defer b.wg.Done()
	for {
		select {
		case <-b.ctx.Done():
			return
		case msg := <-b.ch:
			b.deliver(msg)
		}
	}
}

func (b *Bus) deliver(msg message) {
	b.mu.Lock()
	subs := make([]Subscriber, len(b.subs))
	copy(subs, b.subs)
	b.mu.Unlock()

	for _, sub := range subs {
		func() {
			defer func() {
				if r := recover(); r != nil {
					b.log.Error("subscriber panic", "subscriber", sub.Name(), "panic", r)
				}
			}()
			switch {
			case msg.event != nil:
				sub.OnEvent(msg.event)
			case msg.stats != nil:
				sub.OnStats(msg.stats)
			}
		}()
	}
}
