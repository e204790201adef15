// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"

	"github.com/relabs-tech/cursair/internal/config"
	"github.com/relabs-tech/cursair/internal/telemetry"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins for local development
	},
}

// WSMessage is what /ws/movement pushes to browsers.
type WSMessage struct {
	Type string          `json:"type"` // "movement" or "state"
	Data json.RawMessage `json:"data"`
}

// monitor keeps the latest telemetry and fans it out to websocket clients.
type monitor struct {
	mu        sync.RWMutex
	lastMove  []byte
	lastState []byte
	clients   map[chan []byte]struct{}
}

func newMonitor() *monitor {
	return &monitor{clients: map[chan []byte]struct{}{}}
}

func (m *monitor) publish(kind string, payload []byte) {
	msg, err := json.Marshal(WSMessage{Type: kind, Data: payload})
	if err != nil {
		log.Printf("web: marshal %s message: %v", kind, err)
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	switch kind {
	case "movement":
		m.lastMove = payload
	case "state":
		m.lastState = payload
	}
	for ch := range m.clients {
		select {
		case ch <- msg:
		default:
			// slow browser, it will catch up on the next report
		}
	}
}

func (m *monitor) subscribe() chan []byte {
	ch := make(chan []byte, 16)
	m.mu.Lock()
	m.clients[ch] = struct{}{}
	// replay the current state so a fresh page is not blank
	if m.lastState != nil {
		if msg, err := json.Marshal(WSMessage{Type: "state", Data: m.lastState}); err == nil {
			ch <- msg
		}
	}
	m.mu.Unlock()
	return ch
}

func (m *monitor) unsubscribe(ch chan []byte) {
	m.mu.Lock()
	delete(m.clients, ch)
	m.mu.Unlock()
}

func (m *monitor) latest(kind string) []byte {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if kind == "state" {
		return m.lastState
	}
	return m.lastMove
}

func (m *monitor) handleLatest(kind string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		payload := m.latest(kind)
		if payload == nil {
			http.Error(w, "no data yet", http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		if _, err := w.Write(payload); err != nil {
			log.Printf("web: write %s: %v", kind, err)
		}
	}
}

func (m *monitor) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("web: websocket upgrade error: %v", err)
		return
	}
	defer conn.Close()

	ch := m.subscribe()
	defer m.unsubscribe(ch)
	log.Printf("web: websocket client connected from %s", r.RemoteAddr)

	// reader detects the browser going away
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-gone:
			log.Printf("web: websocket client %s disconnected", r.RemoteAddr)
			return
		case msg := <-ch:
			conn.SetWriteDeadline(time.Now().Add(2 * time.Second))
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				log.Printf("web: websocket write error: %v", err)
				return
			}
		}
	}
}

func (m *monitor) routes(staticDir string) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/movement", m.handleLatest("movement"))
	mux.HandleFunc("/api/state", m.handleLatest("state"))
	mux.HandleFunc("/ws/movement", m.handleWS)
	if staticDir != "" {
		mux.Handle("/", http.FileServer(http.Dir(staticDir)))
	}
	return mux
}

// validReport reports whether payload decodes as v, so garbage on the topic is not forwarded.
func validReport(payload []byte, v any) bool {
	return json.Unmarshal(payload, v) == nil
}

// RunWeb serves the live monitor until ctx is cancelled.
func RunWeb(ctx context.Context) error {
	cfg := config.Get()
	if cfg.MQTTBroker == "" {
		return fmt.Errorf("MQTT_BROKER is required for the web monitor")
	}

	opts := mqtt.NewClientOptions().
		AddBroker(cfg.MQTTBroker).
		SetClientID(cfg.MQTTClientIDWeb)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return token.Error()
	}
	defer client.Disconnect(250)
	log.Printf("web: connected to MQTT broker at %s", cfg.MQTTBroker)

	mon := newMonitor()

	subs := []struct {
		topic string
		kind  string
		qos   byte
		check func([]byte) bool
	}{
		{cfg.TopicMovement, "movement", 0, func(b []byte) bool { return validReport(b, &telemetry.MovementReport{}) }},
		{cfg.TopicState, "state", 1, func(b []byte) bool { return validReport(b, &telemetry.StateReport{}) }},
	}
	for _, s := range subs {
		token := client.Subscribe(s.topic, s.qos, func(_ mqtt.Client, msg mqtt.Message) {
			if !s.check(msg.Payload()) {
				log.Printf("web: ignoring malformed %s report", s.kind)
				return
			}
			mon.publish(s.kind, msg.Payload())
		})
		token.Wait()
		if token.Error() != nil {
			return token.Error()
		}
		log.Printf("web: subscribed to MQTT topic %s", s.topic)
	}

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.WebServerPort),
		Handler: mon.routes("web"),
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Printf("web server listening on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
