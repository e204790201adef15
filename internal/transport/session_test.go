// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package transport

import (
	"bytes"
	"context"
	"fmt"
	"log"
	"net"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relabs-tech/cursair/internal/protocol"
)

// responder is a loopback host that answers the auth request with a fixed reply
// and records every datagram received after it.
type responder struct {
	conn  *net.UDPConn
	reply *string // nil means never answer

	mu       sync.Mutex
	client   net.Addr
	received [][]byte
	gotAuth  chan protocol.AuthRequest
}

func newResponder(t *testing.T, reply *string) *responder {
	t.Helper()
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)

	r := &responder{conn: conn, reply: reply, gotAuth: make(chan protocol.AuthRequest, 1)}
	t.Cleanup(func() { conn.Close() })
	go r.serve()
	return r
}

func (r *responder) serve() {
	buf := make([]byte, 2048)
	authed := false
	for {
		n, addr, err := r.conn.ReadFrom(buf)
		if err != nil {
			return
		}
		if !authed {
			authed = true
			req, err := protocol.DecodeAuthRequest(buf[:n])
			if err == nil {
				r.gotAuth <- req
			}
			r.mu.Lock()
			r.client = addr
			r.mu.Unlock()
			if r.reply != nil {
				r.conn.WriteTo([]byte(*r.reply), addr)
			}
			continue
		}
		msg := make([]byte, n)
		copy(msg, buf[:n])
		r.mu.Lock()
		r.received = append(r.received, msg)
		r.mu.Unlock()
	}
}

func (r *responder) payload(password string) string {
	port := r.conn.LocalAddr().(*net.UDPAddr).Port
	return fmt.Sprintf(`{"targetIp":"127.0.0.1","targetPort":%d,"password":%q}`, port, password)
}

func (r *responder) push(t *testing.T, msg string) {
	t.Helper()
	r.mu.Lock()
	client := r.client
	r.mu.Unlock()
	require.NotNil(t, client)
	_, err := r.conn.WriteTo([]byte(msg), client)
	require.NoError(t, err)
}

func (r *responder) messages() [][]byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([][]byte(nil), r.received...)
}

// trackingFactory records every socket a Session opens.
type trackingFactory struct {
	mu    sync.Mutex
	conns []*trackedConn
}

type trackedConn struct {
	net.PacketConn
	mu     sync.Mutex
	closed bool
}

func (c *trackedConn) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	return c.PacketConn.Close()
}

func (c *trackedConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (f *trackingFactory) ListenPacket() (net.PacketConn, error) {
	conn, err := UDPSocketFactory{}.ListenPacket()
	if err != nil {
		return nil, err
	}
	tc := &trackedConn{PacketConn: conn}
	f.mu.Lock()
	f.conns = append(f.conns, tc)
	f.mu.Unlock()
	return tc, nil
}

func (f *trackingFactory) opened() []*trackedConn {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*trackedConn(nil), f.conns...)
}

func strPtr(s string) *string { return &s }

func newTestSession(f SocketFactory) *Session {
	return NewSession(Options{
		ConnectTimeout: 300 * time.Millisecond,
		PollInterval:   10 * time.Millisecond,
		Factory:        f,
	})
}

func TestConnectInvalidPayloadOpensNoSocket(t *testing.T) {
	f := &trackingFactory{}
	s := newTestSession(f)

	err := s.Connect(context.Background(), "not json")
	require.ErrorIs(t, err, protocol.ErrInvalidPayload)
	assert.Equal(t, Disconnected, s.State())
	assert.Empty(t, f.opened())
	assert.Nil(t, s.Peer())
}

func TestConnectSuccess(t *testing.T) {
	r := newResponder(t, strPtr("CONNECTED"))
	s := newTestSession(nil)
	t.Cleanup(s.Close)

	require.NoError(t, s.Connect(context.Background(), r.payload("hunter2")))
	assert.Equal(t, Connected, s.State())
	assert.True(t, s.Connected())
	assert.NotNil(t, s.Peer())

	select {
	case req := <-r.gotAuth:
		assert.Equal(t, "hunter2", req.Password)
	case <-time.After(time.Second):
		t.Fatal("responder never saw the auth request")
	}
}

func TestConnectAcceptsPaddedToken(t *testing.T) {
	r := newResponder(t, strPtr("  CONNECTED\n"))
	s := newTestSession(nil)
	t.Cleanup(s.Close)

	require.NoError(t, s.Connect(context.Background(), r.payload("pw")))
	assert.Equal(t, Connected, s.State())
}

func TestConnectRejected(t *testing.T) {
	for _, reply := range []string{"DENIED", "", "connected", "CONNECTED!"} {
		t.Run(fmt.Sprintf("reply %q", reply), func(t *testing.T) {
			r := newResponder(t, strPtr(reply))
			f := &trackingFactory{}
			s := newTestSession(f)

			err := s.Connect(context.Background(), r.payload("pw"))
			require.ErrorIs(t, err, ErrAuthRejected)
			assert.Equal(t, Disconnected, s.State())

			conns := f.opened()
			require.Len(t, conns, 1)
			assert.True(t, conns[0].isClosed())
		})
	}
}

func TestConnectTimeout(t *testing.T) {
	r := newResponder(t, nil)
	f := &trackingFactory{}
	s := newTestSession(f)

	start := time.Now()
	err := s.Connect(context.Background(), r.payload("pw"))
	require.ErrorIs(t, err, ErrHandshakeTimeout)
	assert.Less(t, time.Since(start), 2*time.Second)
	assert.Equal(t, Disconnected, s.State())

	conns := f.opened()
	require.Len(t, conns, 1)
	assert.True(t, conns[0].isClosed())
}

func TestConnectHonoursContextCancellation(t *testing.T) {
	r := newResponder(t, nil)
	s := NewSession(Options{ConnectTimeout: 10 * time.Second})

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(50*time.Millisecond, cancel)

	start := time.Now()
	err := s.Connect(ctx, r.payload("pw"))
	require.Error(t, err)
	assert.Less(t, time.Since(start), 5*time.Second)
	assert.Equal(t, Disconnected, s.State())
}

func TestDisconnectIsIdempotent(t *testing.T) {
	s := newTestSession(nil)
	s.Disconnect()
	assert.Equal(t, Disconnected, s.State())
	s.Disconnect()
	assert.Equal(t, Disconnected, s.State())

	r := newResponder(t, strPtr("CONNECTED"))
	require.NoError(t, s.Connect(context.Background(), r.payload("pw")))
	s.Disconnect()
	assert.Equal(t, Disconnected, s.State())
	assert.Nil(t, s.Peer())
	s.Disconnect()
	assert.Equal(t, Disconnected, s.State())
}

func TestSendRequiresConnection(t *testing.T) {
	s := newTestSession(nil)
	assert.ErrorIs(t, s.Send([]byte(`{"dx":1,"dy":2}`)), ErrNotConnected)
}

func TestSendReachesHost(t *testing.T) {
	r := newResponder(t, strPtr("CONNECTED"))
	s := newTestSession(nil)
	t.Cleanup(s.Close)
	require.NoError(t, s.Connect(context.Background(), r.payload("pw")))

	require.NoError(t, s.Send([]byte(`{"dx":3,"dy":-4}`)))
	require.Eventually(t, func() bool { return len(r.messages()) == 1 }, time.Second, 5*time.Millisecond)
	assert.JSONEq(t, `{"dx":3,"dy":-4}`, string(r.messages()[0]))

	s.Disconnect()
	assert.ErrorIs(t, s.Send([]byte("late")), ErrNotConnected)
}

func TestReceivePathIsContinuous(t *testing.T) {
	r := newResponder(t, strPtr("CONNECTED"))
	s := newTestSession(nil)
	t.Cleanup(s.Close)

	msgs, unsubscribe := s.Subscribe()
	defer unsubscribe()

	require.NoError(t, s.Connect(context.Background(), r.payload("pw")))

	want := []string{"one", "two", "three"}
	for _, m := range want {
		r.push(t, m)
		// spacing keeps the loop honest: a single-shot reader would miss the later ones
		time.Sleep(30 * time.Millisecond)
	}

	var got []string
	timeout := time.After(2 * time.Second)
	for len(got) < len(want) {
		select {
		case m := <-msgs:
			got = append(got, string(m))
		case <-timeout:
			t.Fatalf("received %v, want %v", got, want)
		}
	}
	assert.Equal(t, want, got)
	assert.NoError(t, s.Err())
}

func TestWatchConnected(t *testing.T) {
	s := newTestSession(nil)
	t.Cleanup(s.Close)

	updates, unsubscribe := s.WatchConnected()
	defer unsubscribe()

	assert.False(t, <-updates, "current value is replayed on subscribe")

	r := newResponder(t, strPtr("CONNECTED"))
	require.NoError(t, s.Connect(context.Background(), r.payload("pw")))
	assert.True(t, <-updates)

	s.Disconnect()
	assert.False(t, <-updates)
}

func TestReconnectReplacesSession(t *testing.T) {
	first := newResponder(t, strPtr("CONNECTED"))
	second := newResponder(t, strPtr("CONNECTED"))
	f := &trackingFactory{}
	s := newTestSession(f)
	t.Cleanup(s.Close)

	require.NoError(t, s.Connect(context.Background(), first.payload("a")))
	require.NoError(t, s.Connect(context.Background(), second.payload("b")))

	conns := f.opened()
	require.Len(t, conns, 2)
	assert.True(t, conns[0].isClosed())
	assert.False(t, conns[1].isClosed())
	assert.Equal(t, second.conn.LocalAddr().String(), s.Peer().String())
}

// stranger sends msg from a socket that is not the paired host.
func stranger(t *testing.T, to net.Addr, msg string) {
	t.Helper()
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	defer conn.Close()
	port := to.(*net.UDPAddr).Port
	_, err = conn.WriteTo([]byte(msg), &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: port})
	require.NoError(t, err)
}

func TestConnectIgnoresReplyFromOtherAddress(t *testing.T) {
	r := newResponder(t, nil)
	f := &trackingFactory{}
	s := newTestSession(f)

	result := make(chan error, 1)
	go func() { result <- s.Connect(context.Background(), r.payload("pw")) }()

	select {
	case <-r.gotAuth:
	case <-time.After(time.Second):
		t.Fatal("responder never saw the auth request")
	}
	conns := f.opened()
	require.Len(t, conns, 1)
	stranger(t, conns[0].LocalAddr(), "CONNECTED")

	select {
	case err := <-result:
		require.ErrorIs(t, err, ErrHandshakeTimeout)
	case <-time.After(2 * time.Second):
		t.Fatal("connect did not return")
	}
	assert.Equal(t, Disconnected, s.State())
	assert.True(t, conns[0].isClosed())
}

func TestReceiveDropsDatagramsFromOtherAddress(t *testing.T) {
	r := newResponder(t, strPtr("CONNECTED"))
	f := &trackingFactory{}
	s := newTestSession(f)
	t.Cleanup(s.Close)

	msgs, unsubscribe := s.Subscribe()
	defer unsubscribe()

	require.NoError(t, s.Connect(context.Background(), r.payload("pw")))
	conns := f.opened()
	require.Len(t, conns, 1)

	stranger(t, conns[0].LocalAddr(), "injected")
	time.Sleep(30 * time.Millisecond)
	r.push(t, "from host")

	select {
	case m := <-msgs:
		assert.Equal(t, "from host", string(m))
	case <-time.After(2 * time.Second):
		t.Fatal("no message from the host")
	}
}

func TestSendDoesNotLog(t *testing.T) {
	var buf bytes.Buffer
	log.SetOutput(&buf)
	t.Cleanup(func() { log.SetOutput(os.Stderr) })

	s := newTestSession(nil)
	for i := 0; i < 10; i++ {
		assert.ErrorIs(t, s.Send([]byte(`{"dx":1,"dy":1}`)), ErrNotConnected)
	}
	assert.Empty(t, buf.String())
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "DISCONNECTED", Disconnected.String())
	assert.Equal(t, "AUTHENTICATING", Authenticating.String())
	assert.Equal(t, "CONNECTED", Connected.String())
}
