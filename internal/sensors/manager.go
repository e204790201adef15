// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package sensors is the sensor subsystem: it owns the physical (or simulated)
// gyroscope and linear accelerometer and delivers readings to a registered listener.
package sensors

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/relabs-tech/cursair/internal/motion"
)

var (
	// ErrUnavailable is returned when a required sensor is missing.
	ErrUnavailable = errors.New("sensor not available")
	// ErrAlreadyRegistered is returned when a second, different listener registers.
	ErrAlreadyRegistered = errors.New("another listener is already registered")
)

// Listener receives readings on the sensor delivery goroutine.
// motion.Model satisfies this interface.
type Listener interface {
	OnSample(s motion.Sample)
}

// Manager is the sensor subsystem as seen by the scheduler.
//
// After Unregister returns, the listener receives no further samples.
type Manager interface {
	Available(kind motion.SensorKind) bool
	Register(l Listener) error
	Unregister(l Listener)
}

// dispatcher holds the current listener. deliver holds the read lock while
// calling out so that unregister waits for any in-flight delivery.
type dispatcher struct {
	mu       sync.RWMutex
	listener Listener
}

func (d *dispatcher) set(l Listener) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.listener != nil && d.listener != l {
		return ErrAlreadyRegistered
	}
	d.listener = l
	return nil
}

// clear removes l if it is the current listener and reports whether it was.
func (d *dispatcher) clear(l Listener) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.listener == nil || d.listener != l {
		return false
	}
	d.listener = nil
	return true
}

func (d *dispatcher) deliver(samples ...motion.Sample) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.listener == nil {
		return
	}
	for _, s := range samples {
		d.listener.OnSample(s)
	}
}

// ReadFunc reads one batch of samples from a polled device.
type ReadFunc func() ([]motion.Sample, error)

// Poller is a Manager for devices that must be read on a fixed interval.
// Polling only runs while a listener is registered.
type Poller struct {
	name     string
	interval time.Duration
	read     ReadFunc
	kinds    map[motion.SensorKind]bool

	disp dispatcher

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewPoller builds a polled Manager providing the given sensor kinds.
func NewPoller(name string, interval time.Duration, read ReadFunc, kinds ...motion.SensorKind) *Poller {
	p := &Poller{
		name:     name,
		interval: interval,
		read:     read,
		kinds:    map[motion.SensorKind]bool{},
	}
	for _, k := range kinds {
		p.kinds[k] = true
	}
	return p
}

func (p *Poller) Available(kind motion.SensorKind) bool { return p.kinds[kind] }

func (p *Poller) Register(l Listener) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.disp.set(l); err != nil {
		return err
	}
	if p.cancel != nil {
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	p.done = make(chan struct{})
	go p.loop(ctx, p.done)
	log.Printf("sensors: %s listener registered, polling every %v", p.name, p.interval)
	return nil
}

func (p *Poller) Unregister(l Listener) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.disp.clear(l) {
		return
	}
	if p.cancel != nil {
		p.cancel()
		<-p.done
		p.cancel = nil
		p.done = nil
	}
	log.Printf("sensors: %s listener unregistered", p.name)
}

// available drops samples for kinds this manager does not advertise.
func (p *Poller) available(samples []motion.Sample) []motion.Sample {
	out := samples[:0]
	for _, s := range samples {
		if p.kinds[s.Kind] {
			out = append(out, s)
		}
	}
	return out
}

func (p *Poller) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	var lastErr string
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			samples, err := p.read()
			if err != nil {
				// avoid flooding the log with the same failure at the poll rate
				if err.Error() != lastErr {
					log.Printf("sensors: %s read error: %v", p.name, err)
					lastErr = err.Error()
				}
				continue
			}
			lastErr = ""
			p.disp.deliver(p.available(samples)...)
		}
	}
}
