// Copyright 2025 The Amelia Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package engine

import (
	"log/slog"
	"sync"

	"github.com/existential-birds/amelia-sub002/internal/log"
	"github.com/existential-birds/amelia-sub002/internal/workflow"
)

// DefaultBusQueueSize bounds each subscriber's delivery queue.
const DefaultBusQueueSize = 256

// Bus is the in-process publish/subscribe fan-out for persisted events.
// Delivery is ordered per subscriber and lossy under overflow: when a
// subscriber's queue fills, the oldest queued event is dropped with a
// metric. The event store remains authoritative; subscribers that need a
// complete log must read it back.
type Bus struct {
	mu     sync.Mutex
	subs   map[int64]*busSubscription
	nextID int64
	closed bool
	queue  int
	logger *slog.Logger
	wg     sync.WaitGroup
}

type busSubscription struct {
	id    int64
	types map[workflow.EventType]bool // nil means wildcard
	ch    chan *workflow.Event
}

// NewBus creates a bus with the given per-subscriber queue size.
func NewBus(queueSize int, logger *slog.Logger) *Bus {
	if queueSize <= 0 {
		queueSize = DefaultBusQueueSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{
		subs:   make(map[int64]*busSubscription),
		queue:  queueSize,
		logger: log.WithComponent(logger, "bus"),
	}
}

// Subscribe registers fn for the given event types, or for all events when
// none are given. fn runs on a dedicated goroutine per subscription, so a
// slow or panicking subscriber never disturbs the others. The returned
// function unsubscribes.
func (b *Bus) Subscribe(fn func(*workflow.Event), types ...workflow.EventType) (unsubscribe func()) {
	sub := &busSubscription{
		ch: make(chan *workflow.Event, b.queue),
	}
	if len(types) > 0 {
		sub.types = make(map[workflow.EventType]bool, len(types))
		for _, t := range types {
			sub.types[t] = true
		}
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return func() {}
	}
	b.nextID++
	sub.id = b.nextID
	b.subs[sub.id] = sub
	b.mu.Unlock()

	b.wg.Add(1)
	go b.deliver(sub, fn)

	return func() {
		b.mu.Lock()
		if _, ok := b.subs[sub.id]; ok {
			delete(b.subs, sub.id)
			close(sub.ch)
		}
		b.mu.Unlock()
	}
}

// deliver drains one subscriber's queue until it is closed.
func (b *Bus) deliver(sub *busSubscription, fn func(*workflow.Event)) {
	defer b.wg.Done()
	for ev := range sub.ch {
		b.invoke(fn, ev)
	}
}

// invoke calls a subscriber callback with panic isolation.
func (b *Bus) invoke(fn func(*workflow.Event), ev *workflow.Event) {
	defer func() {
		if r := recover(); r != nil {
			subscriberPanics.Inc()
			b.logger.Error("subscriber panicked",
				"panic", r,
				log.WorkflowIDKey, ev.WorkflowID,
				log.EventTypeKey, string(ev.Type))
		}
	}()
	fn(ev)
	busDelivered.Inc()
}

// Publish fans an event out to all matching subscribers. Never blocks the
// publisher: a full subscriber queue drops its oldest event instead.
func (b *Bus) Publish(ev *workflow.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	for _, sub := range b.subs {
		if sub.types != nil && !sub.types[ev.Type] {
			continue
		}
		select {
		case sub.ch <- ev:
		default:
			// Queue full: drop the oldest, then retry once.
			select {
			case <-sub.ch:
				busDropped.Inc()
				b.logger.Warn("subscriber queue overflow, dropped oldest event",
					"subscriber", sub.id)
			default:
			}
			select {
			case sub.ch <- ev:
			default:
				busDropped.Inc()
			}
		}
	}
}

// Stop closes all subscriptions and waits for in-flight deliveries to
// finish. Publish becomes a no-op afterwards.
func (b *Bus) Stop() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	for id, sub := range b.subs {
		delete(b.subs, id)
		close(sub.ch)
	}
	b.mu.Unlock()
	b.wg.Wait()
}
