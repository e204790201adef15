// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package telemetry

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relabs-tech/cursair/internal/motion"
	"github.com/relabs-tech/cursair/internal/transport"
)

type doneToken struct{ err error }

func (t doneToken) Wait() bool                     { return true }
func (t doneToken) WaitTimeout(time.Duration) bool { return true }
func (t doneToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}
func (t doneToken) Error() error { return t.err }

type message struct {
	topic    string
	retained bool
	payload  []byte
}

type fakeClient struct {
	mu   sync.Mutex
	msgs []message
	err  error
}

func (c *fakeClient) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.msgs = append(c.msgs, message{topic: topic, retained: retained, payload: payload.([]byte)})
	return doneToken{err: c.err}
}

func (c *fakeClient) published() []message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]message(nil), c.msgs...)
}

func TestFlushAggregatesMovements(t *testing.T) {
	c := &fakeClient{}
	p := NewPublisher(c, "m", "s", time.Second)

	require.NoError(t, p.Flush(time.Now()))
	assert.Empty(t, c.published(), "nothing to report")

	p.Record(motion.Movement{DX: 3, DY: -1})
	p.Record(motion.Movement{DX: 2, DY: -4})
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	require.NoError(t, p.Flush(now))

	msgs := c.published()
	require.Len(t, msgs, 1)
	assert.Equal(t, "m", msgs[0].topic)
	assert.False(t, msgs[0].retained)

	var got MovementReport
	require.NoError(t, json.Unmarshal(msgs[0].payload, &got))
	assert.Equal(t, MovementReport{DX: 5, DY: -5, Ticks: 2, Time: now}, got)

	require.NoError(t, p.Flush(now))
	assert.Len(t, c.published(), 1, "batch was reset")
}

func TestPublishErrorsAreReturned(t *testing.T) {
	c := &fakeClient{err: errors.New("not connected")}
	p := NewPublisher(c, "m", "s", time.Second)

	p.Record(motion.Movement{DX: 1})
	assert.ErrorContains(t, p.Flush(time.Now()), "not connected")
	assert.ErrorContains(t, p.PublishState(StateReport{State: "CONNECTED"}), "not connected")
}

type fakeSession struct {
	ch   chan transport.State
	id   uuid.UUID
	peer net.Addr
}

func (s *fakeSession) WatchState() (<-chan transport.State, func()) { return s.ch, func() {} }
func (s *fakeSession) ID() uuid.UUID                                 { return s.id }
func (s *fakeSession) Peer() net.Addr                                { return s.peer }

func TestRunMirrorsSessionState(t *testing.T) {
	c := &fakeClient{}
	p := NewPublisher(c, "m", "s", time.Hour)
	sess := &fakeSession{
		ch:   make(chan transport.State),
		id:   uuid.New(),
		peer: &net.UDPAddr{IP: net.IPv4(192, 168, 1, 20), Port: 9999},
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx, sess) }()

	sess.ch <- transport.Authenticating
	sess.ch <- transport.Connected
	sess.ch <- transport.Disconnected

	require.Eventually(t, func() bool { return len(c.published()) == 3 }, time.Second, time.Millisecond)
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)

	var reports []StateReport
	for _, m := range c.published() {
		assert.Equal(t, "s", m.topic)
		assert.True(t, m.retained)
		var r StateReport
		require.NoError(t, json.Unmarshal(m.payload, &r))
		reports = append(reports, r)
	}

	assert.Equal(t, "AUTHENTICATING", reports[0].State)
	assert.Empty(t, reports[0].SessionID)
	assert.Equal(t, "CONNECTED", reports[1].State)
	assert.Equal(t, sess.id.String(), reports[1].SessionID)
	assert.Equal(t, "192.168.1.20:9999", reports[1].Peer)
	assert.Equal(t, "DISCONNECTED", reports[2].State)
}
