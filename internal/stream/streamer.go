// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package stream runs the fixed-rate loop that turns the motion model's state
// into movement packets while a session is connected.
package stream

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/relabs-tech/cursair/internal/motion"
	"github.com/relabs-tech/cursair/internal/protocol"
	"github.com/relabs-tech/cursair/internal/sensors"
)

// ErrSensorsUnavailable is returned by Start when a required sensor is missing.
var ErrSensorsUnavailable = errors.New("required sensors unavailable")

// DefaultInterval is the scheduler tick period.
const DefaultInterval = 16 * time.Millisecond

// Sender delivers one encoded movement packet. transport.Session implements it.
type Sender interface {
	Send(msg []byte) error
}

// Options configures a Streamer.
type Options struct {
	Interval time.Duration
	// OnMovement, if set, is called on the loop goroutine with every movement
	// produced, whether or not it was sent successfully.
	OnMovement func(motion.Movement)
}

// Streamer owns the scheduler loop and the sensor listener registration.
// Start and Stop are serialized; the loop and the registration always change together.
type Streamer struct {
	model   *motion.Model
	sensors sensors.Manager
	sender  Sender
	opts    Options

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewStreamer wires a model to its sensor source and packet sender.
func NewStreamer(model *motion.Model, mgr sensors.Manager, sender Sender, opts Options) *Streamer {
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	return &Streamer{model: model, sensors: mgr, sender: sender, opts: opts}
}

// Start registers the model as the sensor listener and starts the loop.
// Calling Start while running is a no-op. If a required sensor is missing
// nothing is registered and ErrSensorsUnavailable is returned.
func (s *Streamer) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel != nil {
		return nil
	}

	for _, kind := range []motion.SensorKind{motion.Gyroscope, motion.LinearAcceleration} {
		if !s.sensors.Available(kind) {
			log.Printf("stream: cannot start streaming: %s not available", kind)
			return fmt.Errorf("%w: %s", ErrSensorsUnavailable, kind)
		}
	}

	s.model.Reset()
	if err := s.sensors.Register(s.model); err != nil {
		log.Printf("stream: cannot start streaming: register listener: %v", err)
		return fmt.Errorf("register listener: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})
	go s.loop(ctx, s.done)

	log.Printf("stream: started (tick %v)", s.opts.Interval)
	return nil
}

// Stop cancels the loop, waits for it to exit and unregisters the listener.
// Stopping a stopped streamer is a no-op.
func (s *Streamer) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	s.sensors.Unregister(s.model)
	s.cancel = nil
	s.done = nil
	log.Printf("stream: stopped")
}

// Running reports whether the loop is active.
func (s *Streamer) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancel != nil
}

func (s *Streamer) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(s.opts.Interval)
	defer ticker.Stop()

	failures := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		mv := s.model.Step()
		if s.opts.OnMovement != nil {
			s.opts.OnMovement(mv)
		}

		msg, err := protocol.EncodeMovement(mv)
		if err != nil {
			log.Printf("stream: encode movement: %v", err)
			continue
		}
		if err := s.sender.Send(msg); err != nil {
			// at the tick rate a dead link would flood the log, so only edges are reported
			if failures == 0 {
				log.Printf("stream: send failed, skipping packets: %v", err)
			}
			failures++
			continue
		}
		if failures > 0 {
			log.Printf("stream: send recovered after %d skipped packets", failures)
			failures = 0
		}
	}
}
