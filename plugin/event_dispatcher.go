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
	"slices"
	"sync/atomic"

	cmap "github.com/orcaman/concurrent-map/v2"

	"github.com/CoolandonRS/polyglot/pkg/shm"
)

// Handler receives every snapshot read by the host. It runs on the receive
// loop: the next message is not read until it returns.
type Handler func(snap *shm.Snapshot)

// eventDispatcher delivers snapshots to subscribers in the order they subscribed.
type eventDispatcher struct {
	nextID   atomic.Uint64
	handlers cmap.ConcurrentMap[uint64, Handler]
}

func newEventDispatcher() *eventDispatcher {
	return &eventDispatcher{
		handlers: cmap.NewWithCustomShardingFunction[uint64, Handler](func(key uint64) uint32 {
			return uint32(key ^ key>>32)
		}),
	}
}

func (d *eventDispatcher) subscribe(h Handler) (unsubscribe func()) {
	id := d.nextID.Add(1)
	d.handlers.Set(id, h)
	return func() { d.handlers.Remove(id) }
}

func (d *eventDispatcher) count() int {
	return d.handlers.Count()
}

func (d *eventDispatcher) dispatch(snap *shm.Snapshot) {
	ids := d.handlers.Keys()
	slices.Sort(ids)
	for _, id := range ids {
		// removed since Keys was taken
		if h, ok := d.handlers.Get(id); ok {
			h(snap)
		}
	}
}
