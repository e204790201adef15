// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package transport

import "sync"

// feed fans values out to subscribers without ever blocking the publisher.
//
// A conflating feed keeps only the newest value per subscriber and replays the
// current value on subscribe (state observables). A non-conflating feed buffers
// up to size values and drops when a subscriber falls behind (message streams).
type feed[T any] struct {
	mu        sync.Mutex
	subs      map[int]chan T
	next      int
	size      int
	conflate  bool
	current   T
	hasValue  bool
	onDropped func()
}

func newStateFeed[T any](initial T) *feed[T] {
	return &feed[T]{subs: map[int]chan T{}, size: 1, conflate: true, current: initial, hasValue: true}
}

func newMessageFeed[T any](size int, onDropped func()) *feed[T] {
	return &feed[T]{subs: map[int]chan T{}, size: size, onDropped: onDropped}
}

func (f *feed[T]) subscribe() (<-chan T, func()) {
	f.mu.Lock()
	defer f.mu.Unlock()

	ch := make(chan T, f.size)
	id := f.next
	f.next++
	f.subs[id] = ch
	if f.conflate && f.hasValue {
		ch <- f.current
	}

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			f.mu.Lock()
			defer f.mu.Unlock()
			if _, ok := f.subs[id]; ok {
				delete(f.subs, id)
				close(ch)
			}
		})
	}
}

func (f *feed[T]) publish(v T) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.current = v
	f.hasValue = true
	for _, ch := range f.subs {
		if f.conflate {
			select {
			case <-ch:
			default:
			}
			ch <- v
			continue
		}
		select {
		case ch <- v:
		default:
			if f.onDropped != nil {
				f.onDropped()
			}
		}
	}
}

func (f *feed[T]) closeAll() {
	f.mu.Lock()
	defer f.mu.Unlock()
	for id, ch := range f.subs {
		delete(f.subs, id)
		close(ch)
	}
}
