// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"os"
	"sync"
	"time"

	"github.com/relabs-tech/cursair/internal/config"
	"github.com/relabs-tech/cursair/internal/protocol"
)

// HostReplyDenied is what the simulator answers to a wrong password.
const HostReplyDenied = "DENIED"

// ClientStats accumulates movement packets from one paired client.
type ClientStats struct {
	Packets int
	DX      int
	DY      int
	Invalid int
}

// HostSim is a desktop-side stand-in: it answers pairing requests and counts
// movement packets per client.
type HostSim struct {
	password      string
	statsInterval time.Duration

	mu      sync.Mutex
	clients map[string]*ClientStats // paired clients, keyed by address
	window  map[string]ClientStats  // current reporting window
}

func NewHostSim(password string, statsInterval time.Duration) *HostSim {
	if statsInterval <= 0 {
		statsInterval = time.Second
	}
	return &HostSim{
		password:      password,
		statsInterval: statsInterval,
		clients:       map[string]*ClientStats{},
		window:        map[string]ClientStats{},
	}
}

// Serve answers datagrams on conn until ctx is cancelled. Cancellation is
// checked between reads using a short read deadline.
func (h *HostSim) Serve(ctx context.Context, conn net.PacketConn) error {
	buf := make([]byte, 2048)
	lastReport := time.Now()

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := conn.SetReadDeadline(time.Now().Add(100 * time.Millisecond)); err != nil {
			return fmt.Errorf("set read deadline: %w", err)
		}

		n, addr, err := conn.ReadFrom(buf)
		if time.Since(lastReport) >= h.statsInterval {
			h.report()
			lastReport = time.Now()
		}
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("read: %w", err)
		}

		if reply := h.handle(addr, buf[:n]); reply != "" {
			if _, err := conn.WriteTo([]byte(reply), addr); err != nil {
				log.Printf("host_sim: reply to %s: %v", addr, err)
			}
		}
	}
}

// handle processes one datagram and returns the reply to send, if any.
func (h *HostSim) handle(addr net.Addr, msg []byte) string {
	key := addr.String()

	h.mu.Lock()
	defer h.mu.Unlock()

	if stats, ok := h.clients[key]; ok {
		mv, err := protocol.DecodeMovement(msg)
		if err == nil {
			stats.Packets++
			stats.DX += mv.DX
			stats.DY += mv.DY
			w := h.window[key]
			w.Packets++
			w.DX += mv.DX
			w.DY += mv.DY
			h.window[key] = w
			return ""
		}
		// a paired client may re-pair from the same port
		if _, aerr := protocol.DecodeAuthRequest(msg); aerr != nil {
			stats.Invalid++
			log.Printf("host_sim: %s: unreadable packet: %v", key, err)
			return ""
		}
		delete(h.clients, key)
	}

	req, err := protocol.DecodeAuthRequest(msg)
	if err != nil {
		log.Printf("host_sim: %s: not an auth request: %v", key, err)
		return HostReplyDenied
	}
	if req.Password != h.password {
		log.Printf("host_sim: %s: wrong password, pairing denied", key)
		return HostReplyDenied
	}
	h.clients[key] = &ClientStats{}
	log.Printf("host_sim: %s: paired", key)
	return protocol.AuthSuccess
}

func (h *HostSim) report() {
	h.mu.Lock()
	window := h.window
	h.window = map[string]ClientStats{}
	h.mu.Unlock()

	secs := h.statsInterval.Seconds()
	for addr, w := range window {
		log.Printf("host_sim: %s: %.1f packets/s, dx=%d dy=%d", addr, float64(w.Packets)/secs, w.DX, w.DY)
	}
}

// Snapshot returns the totals of every paired client, keyed by address.
func (h *HostSim) Snapshot() map[string]ClientStats {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make(map[string]ClientStats, len(h.clients))
	for addr, s := range h.clients {
		out[addr] = *s
	}
	return out
}

// RunHostSim is the cmd/host_sim entry point.
func RunHostSim(ctx context.Context) error {
	cfg := config.Get()
	if cfg.HostSimPassword == "" {
		return errors.New("HOST_SIM_PASSWORD is required")
	}

	conn, err := net.ListenPacket("udp", cfg.HostSimListen)
	if err != nil {
		return fmt.Errorf("listen %s: %w", cfg.HostSimListen, err)
	}
	defer conn.Close()
	log.Printf("host_sim: listening on %s", conn.LocalAddr())

	host, err := os.Hostname()
	if err != nil {
		host = "localhost"
	}
	payload, err := protocol.Pairing{
		Host:     host,
		Port:     conn.LocalAddr().(*net.UDPAddr).Port,
		Password: cfg.HostSimPassword,
	}.Encode()
	if err == nil {
		log.Printf("host_sim: pairing payload: %s", payload)
	}

	err = NewHostSim(cfg.HostSimPassword, time.Second).Serve(ctx, conn)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
