// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package stream

import (
	"context"
	"log"
)

// ConnectionWatcher exposes the connected-state observable. transport.Session implements it.
type ConnectionWatcher interface {
	WatchConnected() (<-chan bool, func())
}

// Controller starts streaming when the session connects and stops it on disconnect.
type Controller struct {
	watcher  ConnectionWatcher
	streamer *Streamer
}

func NewController(w ConnectionWatcher, s *Streamer) *Controller {
	return &Controller{watcher: w, streamer: s}
}

// Run follows the connected state until ctx is cancelled or the observable closes.
// The streamer is always stopped on return.
func (c *Controller) Run(ctx context.Context) error {
	updates, unsubscribe := c.watcher.WatchConnected()
	defer unsubscribe()
	defer c.streamer.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case connected, ok := <-updates:
			if !ok {
				return nil
			}
			if connected {
				if err := c.streamer.Start(); err != nil {
					log.Printf("stream: controller could not start streaming: %v", err)
				}
			} else {
				c.streamer.Stop()
			}
		}
	}
}
