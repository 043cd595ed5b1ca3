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
	"fmt"
	"io"
	"os"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/CoolandonRS/polyglot/pkg/shm"
)

const (
	defaultShareMemoryCapacity = shm.DefaultCapacity
	defaultPollInterval        = shm.DefaultPollInterval
	defaultPoolReleaseTimeout  = 5 * time.Second
)

// Config is used to tune the Host.
type Config struct {
	// ShareMemoryCapacity is the payload size in bytes, the status byte excluded.
	// Both ends of a channel must agree on it. Default 256.
	ShareMemoryCapacity int

	// PollInterval is the delay between two status checks while the receive
	// loop waits for a message. Default 100ms; lower trades CPU for latency.
	PollInterval time.Duration

	// PollBackOff, when set, replaces the constant PollInterval pacing.
	PollBackOff func() backoff.BackOff

	// Backend maps the segment. Nil probes the backend of the running OS.
	Backend shm.Backend

	// LogOutput is the destination of the host logger. Default os.Stdout.
	LogOutput io.Writer

	// Registerer receives the host's prometheus collectors. Nil skips registration.
	Registerer prometheus.Registerer

	// Meter and Tracer instrument the shared buffer.
	Meter  metric.Meter
	Tracer trace.Tracer

	// PoolReleaseTimeout bounds how long Dispose waits for the receive loop to exit.
	PoolReleaseTimeout time.Duration
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		ShareMemoryCapacity: defaultShareMemoryCapacity,
		PollInterval:        defaultPollInterval,
		LogOutput:           os.Stdout,
		PoolReleaseTimeout:  defaultPoolReleaseTimeout,
	}
}

// VerifyConfig is used to verify the sanity of configuration.
func VerifyConfig(config *Config) error {
	if config.ShareMemoryCapacity < shm.MinCapacity {
		return fmt.Errorf("%w: ShareMemoryCapacity must be at least %d bytes", ErrInvalidConfig, shm.MinCapacity)
	}
	if config.PollBackOff == nil && config.PollInterval <= 0 {
		return fmt.Errorf("%w: PollInterval must be positive", ErrInvalidConfig)
	}
	if config.PoolReleaseTimeout <= 0 {
		return fmt.Errorf("%w: PoolReleaseTimeout must be positive", ErrInvalidConfig)
	}
	return nil
}

func (c *Config) pollBackOff() func() backoff.BackOff {
	if c.PollBackOff != nil {
		return c.PollBackOff
	}
	return shm.ConstantPoll(c.PollInterval)
}
