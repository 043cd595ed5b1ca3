/*
 * Copyright 2025 Polyglot Authors
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package plugin

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

type hostMetrics struct {
	messagesReceived prometheus.Counter
	bytesReceived    prometheus.Counter
	loopFailures     prometheus.Counter
	running          prometheus.Gauge
}

func newHostMetrics(channel string, reg prometheus.Registerer) (*hostMetrics, error) {
	labels := prometheus.Labels{"channel": channel}
	m := &hostMetrics{
		messagesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "polyglot",
			Subsystem:   "host",
			Name:        "messages_received_total",
			Help:        "Messages read from the shared buffer and delivered to subscribers.",
			ConstLabels: labels,
		}),
		bytesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "polyglot",
			Subsystem:   "host",
			Name:        "bytes_received_total",
			Help:        "Payload bytes copied out of the shared buffer.",
			ConstLabels: labels,
		}),
		loopFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "polyglot",
			Subsystem:   "host",
			Name:        "loop_failures_total",
			Help:        "Receive loops that ended with an error other than cancellation.",
			ConstLabels: labels,
		}),
		running: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   "polyglot",
			Subsystem:   "host",
			Name:        "running",
			Help:        "1 while the receive loop runs.",
			ConstLabels: labels,
		}),
	}
	if reg == nil {
		return m, nil
	}
	var err error
	if m.messagesReceived, err = registerOrExisting(reg, m.messagesReceived); err != nil {
		return nil, err
	}
	if m.bytesReceived, err = registerOrExisting(reg, m.bytesReceived); err != nil {
		return nil, err
	}
	if m.loopFailures, err = registerOrExisting(reg, m.loopFailures); err != nil {
		return nil, err
	}
	if m.running, err = registerOrExisting(reg, m.running); err != nil {
		return nil, err
	}
	return m, nil
}

// registerOrExisting registers c, or returns the collector already
// registered under the same descriptor, e.g. by a previous host on the same channel.
func registerOrExisting[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		return c, err
	}
	return c, nil
}
