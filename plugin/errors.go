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

	"github.com/CoolandonRS/polyglot/pkg/shm"
)

var (
	// ErrInvalidState is returned when a Host operation is called in a state that does not allow it.
	ErrInvalidState = errors.New("host is not in a valid state for this operation")
	// ErrInvalidConfig is returned by VerifyConfig.
	ErrInvalidConfig = errors.New("invalid host config")
	// ErrDisposed is returned by Dispose on a disposed host.
	ErrDisposed = shm.ErrDisposed
	// ErrPlatformUnsupported is returned by Start when no backend exists for the running OS.
	ErrPlatformUnsupported = shm.ErrPlatformUnsupported
	// ErrLoopPanic wraps a panic raised by a subscriber.
	ErrLoopPanic = errors.New("receive loop panicked")
)
