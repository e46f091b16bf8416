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

// Package engine hosts the runtime core: event emission with per-workflow
// sequencing, the in-process event bus, approval gates, the supervisor
// that owns executor tasks, and the worktree health monitor.
package engine

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/existential-birds/amelia-sub002/internal/log"
	"github.com/existential-birds/amelia-sub002/internal/store"
	"github.com/existential-birds/amelia-sub002/internal/workflow"
)

// seqCounter is one workflow's in-memory sequence counter. next is the
// sequence the next event will take; 0 means not yet seeded from the store.
type seqCounter struct {
	mu   sync.Mutex
	next int64
}

// Emitter assigns sequence numbers and writes events through the store,
// then publishes them on the bus. The per-workflow mutex is held across
// sequence assignment and the append so concurrent emitters can never
// produce a gap or a collision; it is released before publication so no
// lock is held while fanning out to subscribers.
type Emitter struct {
	store  *store.Store
	bus    *Bus
	logger *slog.Logger

	mu       sync.Mutex
	counters map[string]*seqCounter
}

// NewEmitter creates an emitter over the given store and bus.
func NewEmitter(st *store.Store, bus *Bus, logger *slog.Logger) *Emitter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Emitter{
		store:    st,
		bus:      bus,
		logger:   log.WithComponent(logger, "emitter"),
		counters: make(map[string]*seqCounter),
	}
}

// counter returns the workflow's counter, creating it unseeded on first use.
func (e *Emitter) counter(workflowID string) *seqCounter {
	e.mu.Lock()
	defer e.mu.Unlock()
	c, ok := e.counters[workflowID]
	if !ok {
		c = &seqCounter{}
		e.counters[workflowID] = c
	}
	return c
}

// Emit durably appends an event with the next sequence for its workflow and
// publishes it. Fills in ID and Timestamp when unset. On append failure the
// counter does not advance, so the sequence is reused by the next emit and
// the persisted log stays dense.
func (e *Emitter) Emit(ctx context.Context, ev *workflow.Event) error {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}

	c := e.counter(ev.WorkflowID)
	c.mu.Lock()
	if c.next == 0 {
		max, err := e.store.MaxSequence(ctx, ev.WorkflowID)
		if err != nil {
			c.mu.Unlock()
			return err
		}
		c.next = max + 1
	}
	ev.Sequence = c.next

	if err := e.store.AppendEvent(ctx, ev); err != nil {
		c.mu.Unlock()
		return err
	}
	c.next++
	c.mu.Unlock()

	eventsEmitted.WithLabelValues(string(ev.Type)).Inc()
	e.logger.Debug("event emitted",
		log.WorkflowIDKey, ev.WorkflowID,
		log.EventTypeKey, string(ev.Type),
		log.SequenceKey, ev.Sequence)

	if e.bus != nil {
		e.bus.Publish(ev)
	}
	return nil
}

// Forget drops a workflow's in-memory counter. Called when its executor
// exits; a later emit for the same workflow reseeds from the store.
func (e *Emitter) Forget(workflowID string) {
	e.mu.Lock()
	delete(e.counters, workflowID)
	e.mu.Unlock()
}
