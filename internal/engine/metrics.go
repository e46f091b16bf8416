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
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	workflowsStarted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "amelia_workflows_started_total",
		Help: "Total number of workflows started.",
	})

	workflowsFinished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "amelia_workflows_finished_total",
		Help: "Total number of workflows reaching a terminal status.",
	}, []string{"status"})

	activeWorkflows = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "amelia_active_workflows",
		Help: "Number of currently active executor tasks.",
	})

	eventsEmitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "amelia_events_emitted_total",
		Help: "Total number of events persisted, by event type.",
	}, []string{"event_type"})

	busDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "amelia_bus_dropped_events_total",
		Help: "Events dropped by the bus because a subscriber queue overflowed.",
	})

	busDelivered = promauto.NewCounter(prometheus.CounterOpts{
		Name: "amelia_bus_delivered_events_total",
		Help: "Events delivered to subscribers.",
	})

	subscriberPanics = promauto.NewCounter(prometheus.CounterOpts{
		Name: "amelia_bus_subscriber_panics_total",
		Help: "Panics recovered from subscriber callbacks.",
	})

	gatesPending = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "amelia_approval_gates_pending",
		Help: "Number of approval gates currently awaiting resolution.",
	})

	monitorCancellations = promauto.NewCounter(prometheus.CounterOpts{
		Name: "amelia_monitor_cancellations_total",
		Help: "Workflows cancelled because their worktree failed a health check.",
	})
)
