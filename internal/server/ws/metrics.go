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

package ws

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	connectionsGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "amelia_ws_connections",
		Help: "Number of open WebSocket connections.",
	})

	messagesSent = promauto.NewCounter(prometheus.CounterOpts{
		Name: "amelia_ws_messages_sent_total",
		Help: "Total messages sent to WebSocket clients.",
	})

	sendFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "amelia_ws_send_failures_total",
		Help: "Failed WebSocket sends; each one closes its connection.",
	})

	backfills = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "amelia_ws_backfills_total",
		Help: "Reconnect backfills by outcome.",
	}, []string{"outcome"})
)
