// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package telemetry publishes the pointer's movements and session state to MQTT
// for the console and web monitors.
package telemetry

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/relabs-tech/cursair/internal/motion"
	"github.com/relabs-tech/cursair/internal/transport"
)

// MovementReport aggregates the movements produced since the previous report.
type MovementReport struct {
	DX    int       `json:"dx"`
	DY    int       `json:"dy"`
	Ticks int       `json:"ticks"`
	Time  time.Time `json:"time"`
}

// StateReport is published (retained) on every session state change.
type StateReport struct {
	State     string    `json:"state"`
	SessionID string    `json:"session_id,omitempty"`
	Peer      string    `json:"peer,omitempty"`
	Time      time.Time `json:"time"`
}

// client is the subset of mqtt.Client the publisher needs.
type client interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

// SessionSource is the session as seen by the state publisher.
type SessionSource interface {
	WatchState() (<-chan transport.State, func())
	ID() uuid.UUID
	Peer() net.Addr
}

// Publisher batches movements and publishes them at a fixed interval.
// Record is safe to call from the scheduler loop and never blocks on the network.
type Publisher struct {
	client        client
	movementTopic string
	stateTopic    string
	interval      time.Duration

	mu      sync.Mutex
	pending MovementReport
}

// Connect dials the broker and returns a publisher bound to it.
func Connect(broker, clientID, movementTopic, stateTopic string, interval time.Duration) (*Publisher, func(), error) {
	opts := mqtt.NewClientOptions().
		AddBroker(broker).
		SetClientID(clientID).
		SetAutoReconnect(true)

	c := mqtt.NewClient(opts)
	if token := c.Connect(); token.Wait() && token.Error() != nil {
		return nil, nil, fmt.Errorf("mqtt connect %s: %w", broker, token.Error())
	}
	log.Printf("telemetry: connected to MQTT broker at %s", broker)

	return NewPublisher(c, movementTopic, stateTopic, interval), func() { c.Disconnect(250) }, nil
}

// NewPublisher wraps an already connected client.
func NewPublisher(c client, movementTopic, stateTopic string, interval time.Duration) *Publisher {
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}
	return &Publisher{client: c, movementTopic: movementTopic, stateTopic: stateTopic, interval: interval}
}

// Record adds one scheduler tick's movement to the current batch.
func (p *Publisher) Record(mv motion.Movement) {
	p.mu.Lock()
	p.pending.DX += mv.DX
	p.pending.DY += mv.DY
	p.pending.Ticks++
	p.mu.Unlock()
}

// Flush publishes the current batch, if any, and starts a new one.
func (p *Publisher) Flush(now time.Time) error {
	p.mu.Lock()
	report := p.pending
	p.pending = MovementReport{}
	p.mu.Unlock()

	if report.Ticks == 0 {
		return nil
	}
	report.Time = now

	payload, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("marshal movement report: %w", err)
	}
	if token := p.client.Publish(p.movementTopic, 0, false, payload); token.Wait() && token.Error() != nil {
		return fmt.Errorf("publish %s: %w", p.movementTopic, token.Error())
	}
	return nil
}

// PublishState publishes one retained state report.
func (p *Publisher) PublishState(report StateReport) error {
	payload, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("marshal state report: %w", err)
	}
	if token := p.client.Publish(p.stateTopic, 1, true, payload); token.Wait() && token.Error() != nil {
		return fmt.Errorf("publish %s: %w", p.stateTopic, token.Error())
	}
	return nil
}

// Run flushes movement batches every interval and mirrors the session's state
// transitions until ctx is cancelled.
func (p *Publisher) Run(ctx context.Context, session SessionSource) error {
	states, unsubscribe := session.WatchState()
	defer unsubscribe()

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case t := <-ticker.C:
			if err := p.Flush(t); err != nil {
				log.Printf("telemetry: %v", err)
			}
		case st, ok := <-states:
			if !ok {
				states = nil
				continue
			}
			report := StateReport{State: st.String(), Time: time.Now()}
			if st == transport.Connected {
				report.SessionID = session.ID().String()
				if peer := session.Peer(); peer != nil {
					report.Peer = peer.String()
				}
			}
			if err := p.PublishState(report); err != nil {
				log.Printf("telemetry: %v", err)
			}
		}
	}
}
