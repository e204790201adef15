// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package transport implements the pairing handshake and the datagram session
// that carries movement packets to the host.
package transport

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/relabs-tech/cursair/internal/protocol"
)

var (
	// ErrAuthRejected is returned when the host replies with anything but the success token.
	ErrAuthRejected = errors.New("authentication rejected by host")
	// ErrHandshakeTimeout is returned when the host does not reply within the connect timeout.
	ErrHandshakeTimeout = errors.New("authentication timed out")
	// ErrNotConnected is returned by Send outside of the CONNECTED state.
	ErrNotConnected = errors.New("session not connected")
)

// State is the session lifecycle state.
type State int

const (
	Disconnected State = iota
	Authenticating
	Connected
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "DISCONNECTED"
	case Authenticating:
		return "AUTHENTICATING"
	case Connected:
		return "CONNECTED"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Options configures a Session. Zero values fall back to defaults.
type Options struct {
	// ConnectTimeout bounds the wait for the authentication reply (default 5s).
	ConnectTimeout time.Duration
	// PollInterval is how often the receive path checks for cancellation (default 100ms).
	PollInterval time.Duration
	// BufferSize is the receive buffer for a single datagram (default 1024).
	BufferSize int
	// InboundQueue is the per-subscriber inbound message buffer (default 16).
	InboundQueue int
	Factory      SocketFactory
}

func (o Options) withDefaults() Options {
	if o.ConnectTimeout <= 0 {
		o.ConnectTimeout = 5 * time.Second
	}
	if o.PollInterval <= 0 {
		o.PollInterval = 100 * time.Millisecond
	}
	if o.BufferSize <= 0 {
		o.BufferSize = 1024
	}
	if o.InboundQueue <= 0 {
		o.InboundQueue = 16
	}
	if o.Factory == nil {
		o.Factory = UDPSocketFactory{}
	}
	return o
}

// Session is the pairing and streaming link to one host.
//
// Connect and Disconnect are serialized. Send may be called from any goroutine.
// The socket is owned by the session and only touched by Connect, Send,
// the receive path and Disconnect.
type Session struct {
	opts Options

	opMu sync.Mutex // serializes Connect/Disconnect

	mu      sync.Mutex
	state   State
	id      uuid.UUID
	conn    net.PacketConn
	peer    *net.UDPAddr
	secret  string
	cancel  context.CancelFunc
	done    chan struct{}
	recvErr error

	states    *feed[State]
	connected *feed[bool]
	inbound   *feed[[]byte]
}

// NewSession creates a disconnected session.
func NewSession(opts Options) *Session {
	s := &Session{
		opts:      opts.withDefaults(),
		states:    newStateFeed(Disconnected),
		connected: newStateFeed(false),
	}
	s.inbound = newMessageFeed[[]byte](s.opts.InboundQueue, func() {
		log.Printf("session: inbound subscriber is falling behind, dropping message")
	})
	return s
}

// Connect parses a pairing payload and performs the authentication handshake.
// A nil error means the session is CONNECTED; on any error it is DISCONNECTED
// and no socket remains open. An already active session is disconnected first.
func (s *Session) Connect(ctx context.Context, payload string) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	if s.State() != Disconnected {
		s.teardown()
	}

	pairing, err := protocol.ParsePairing(payload)
	if err != nil {
		log.Printf("session: connection failed: invalid pairing payload: %v", err)
		return err
	}

	id := uuid.New()
	s.setState(Authenticating)

	peer, err := net.ResolveUDPAddr("udp", net.JoinHostPort(pairing.Host, strconv.Itoa(pairing.Port)))
	if err != nil {
		log.Printf("session %s: connection failed: resolve %s: %v", id, pairing.Host, err)
		s.setState(Disconnected)
		return fmt.Errorf("resolve host %q: %w", pairing.Host, err)
	}

	conn, err := s.opts.Factory.ListenPacket()
	if err != nil {
		log.Printf("session %s: connection failed: open socket: %v", id, err)
		s.setState(Disconnected)
		return fmt.Errorf("open socket: %w", err)
	}

	if err := s.authenticate(ctx, id, conn, peer, pairing.Password); err != nil {
		conn.Close()
		s.setState(Disconnected)
		return err
	}

	recvCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	s.mu.Lock()
	s.id = id
	s.conn = conn
	s.peer = peer
	s.secret = pairing.Password
	s.cancel = cancel
	s.done = done
	s.recvErr = nil
	s.mu.Unlock()

	go s.receive(recvCtx, id, conn, peer, done)

	log.Printf("session %s: connection successful to %s", id, peer)
	s.setState(Connected)
	return nil
}

// authenticate sends the auth request and waits for a single reply.
func (s *Session) authenticate(ctx context.Context, id uuid.UUID, conn net.PacketConn, peer *net.UDPAddr, password string) error {
	req, err := protocol.EncodeAuthRequest(password)
	if err != nil {
		return fmt.Errorf("encode auth request: %w", err)
	}

	deadline := time.Now().Add(s.opts.ConnectTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := conn.SetReadDeadline(deadline); err != nil {
		return fmt.Errorf("set read deadline: %w", err)
	}
	// wake the blocking read if the caller gives up
	stop := context.AfterFunc(ctx, func() { conn.SetReadDeadline(time.Now()) })
	defer stop()

	if _, err := conn.WriteTo(req, peer); err != nil {
		log.Printf("session %s: connection failed: send auth request: %v", id, err)
		return fmt.Errorf("send auth request: %w", err)
	}
	log.Printf("session %s: authentication request sent to %s", id, peer)

	buf := make([]byte, s.opts.BufferSize)
	var n int
	for {
		var from net.Addr
		n, from, err = conn.ReadFrom(buf)
		if err != nil {
			if ctx.Err() != nil {
				log.Printf("session %s: connection cancelled", id)
				return ctx.Err()
			}
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				log.Printf("session %s: connection failed: timeout", id)
				return ErrHandshakeTimeout
			}
			log.Printf("session %s: connection failed: %v", id, err)
			return fmt.Errorf("read auth response: %w", err)
		}
		if samePeer(from, peer) {
			break
		}
		log.Printf("session %s: ignoring reply from %s, waiting for %s", id, from, peer)
	}

	log.Printf("session %s: authentication response received: %q", id, buf[:n])
	if !protocol.IsAuthSuccess(buf[:n]) {
		log.Printf("session %s: connection failed: host rejected pairing", id)
		return ErrAuthRejected
	}

	// clear the handshake deadline
	if err := conn.SetReadDeadline(time.Time{}); err != nil {
		return fmt.Errorf("clear read deadline: %w", err)
	}
	return nil
}

// receive publishes every inbound datagram until cancelled or the socket fails.
// Cancellation is checked before each blocking read.
func (s *Session) receive(ctx context.Context, id uuid.UUID, conn net.PacketConn, peer *net.UDPAddr, done chan struct{}) {
	defer close(done)
	log.Printf("session %s: started listening for messages", id)
	defer log.Printf("session %s: stopped listening for messages", id)

	buf := make([]byte, s.opts.BufferSize)
	for {
		if ctx.Err() != nil {
			return
		}
		if err := conn.SetReadDeadline(time.Now().Add(s.opts.PollInterval)); err != nil {
			if ctx.Err() == nil {
				s.receiveFailed(id, err)
			}
			return
		}

		n, from, err := conn.ReadFrom(buf)
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			if ctx.Err() != nil {
				log.Printf("session %s: listening cancelled", id)
				return
			}
			s.receiveFailed(id, err)
			return
		}
		if !samePeer(from, peer) {
			continue
		}

		msg := make([]byte, n)
		copy(msg, buf[:n])
		s.inbound.publish(msg)
	}
}

// samePeer reports whether a datagram came from the paired host.
func samePeer(from net.Addr, peer *net.UDPAddr) bool {
	u, ok := from.(*net.UDPAddr)
	return ok && u.Port == peer.Port && u.IP.Equal(peer.IP)
}

// receiveFailed records a socket error on the receive path. The session stays
// CONNECTED until the caller disconnects; there is no automatic reconnect.
func (s *Session) receiveFailed(id uuid.UUID, err error) {
	log.Printf("session %s: socket closed unexpectedly while listening: %v", id, err)
	s.mu.Lock()
	s.recvErr = err
	s.mu.Unlock()
}

// Send transmits one datagram to the paired host. Outside the CONNECTED state
// it returns ErrNotConnected without side effects. Errors are not logged here;
// the caller decides how often to report them.
func (s *Session) Send(msg []byte) error {
	s.mu.Lock()
	state, conn, peer, id := s.state, s.conn, s.peer, s.id
	s.mu.Unlock()

	if state != Connected || conn == nil || peer == nil {
		return ErrNotConnected
	}
	if _, err := conn.WriteTo(msg, peer); err != nil {
		return fmt.Errorf("session %s: send: %w", id, err)
	}
	return nil
}

// Disconnect cancels the receive path, closes the socket and returns to DISCONNECTED.
// It is safe to call any number of times.
func (s *Session) Disconnect() {
	s.opMu.Lock()
	defer s.opMu.Unlock()
	s.teardown()
}

// Close disconnects and closes every subscriber channel.
func (s *Session) Close() {
	s.Disconnect()
	s.inbound.closeAll()
	s.states.closeAll()
	s.connected.closeAll()
}

// teardown must be called with opMu held.
func (s *Session) teardown() {
	s.mu.Lock()
	id, conn, cancel, done := s.id, s.conn, s.cancel, s.done
	s.conn = nil
	s.peer = nil
	s.secret = ""
	s.cancel = nil
	s.done = nil
	s.mu.Unlock()

	if cancel != nil {
		log.Printf("session %s: disconnecting", id)
		cancel()
	}
	if conn != nil {
		conn.Close()
	}
	if done != nil {
		<-done
	}
	s.setState(Disconnected)
	if cancel != nil {
		log.Printf("session %s: disconnected", id)
	}
}

func (s *Session) setState(st State) {
	s.mu.Lock()
	prev := s.state
	s.state = st
	s.mu.Unlock()

	if prev == st {
		return
	}
	s.states.publish(st)
	if (prev == Connected) != (st == Connected) {
		s.connected.publish(st == Connected)
	}
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Connected reports whether the session is CONNECTED.
func (s *Session) Connected() bool { return s.State() == Connected }

// Peer returns the paired host address, or nil when disconnected.
func (s *Session) Peer() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.peer == nil {
		return nil
	}
	return s.peer
}

// ID returns the identifier of the current (or last) connection attempt that succeeded.
func (s *Session) ID() uuid.UUID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.id
}

// Err returns the error that ended the receive path, if any.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.recvErr
}

// WatchConnected returns a channel that yields the current connected flag and every change.
// The returned func unsubscribes and closes the channel.
func (s *Session) WatchConnected() (<-chan bool, func()) { return s.connected.subscribe() }

// WatchState is like WatchConnected but reports every lifecycle transition.
func (s *Session) WatchState() (<-chan State, func()) { return s.states.subscribe() }

// Subscribe returns a channel of inbound datagrams received while CONNECTED.
func (s *Session) Subscribe() (<-chan []byte, func()) { return s.inbound.subscribe() }
