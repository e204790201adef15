// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/relabs-tech/cursair/internal/config"
	"github.com/relabs-tech/cursair/internal/telemetry"
)

// consoleView folds movement reports into a periodic summary line.
type consoleView struct {
	out io.Writer

	mu     sync.Mutex
	dx, dy int
	ticks  int
}

func (v *consoleView) movement(payload []byte) {
	var r telemetry.MovementReport
	if err := json.Unmarshal(payload, &r); err != nil {
		log.Printf("console: movement unmarshal error: %v", err)
		return
	}
	v.mu.Lock()
	v.dx += r.DX
	v.dy += r.DY
	v.ticks += r.Ticks
	v.mu.Unlock()
}

func (v *consoleView) state(payload []byte) {
	var r telemetry.StateReport
	if err := json.Unmarshal(payload, &r); err != nil {
		log.Printf("console: state unmarshal error: %v", err)
		return
	}
	if r.SessionID != "" {
		fmt.Fprintf(v.out, "[STATE] %-14s session=%s peer=%s\n", r.State, r.SessionID, r.Peer)
		return
	}
	fmt.Fprintf(v.out, "[STATE] %s\n", r.State)
}

// flush prints and resets the accumulated movement; quiet intervals print nothing.
func (v *consoleView) flush(interval time.Duration) {
	v.mu.Lock()
	dx, dy, ticks := v.dx, v.dy, v.ticks
	v.dx, v.dy, v.ticks = 0, 0, 0
	v.mu.Unlock()

	if ticks == 0 {
		return
	}
	fmt.Fprintf(v.out, "[MOVE]  dx=%6d dy=%6d  ticks=%4d (%.1f/s)\n", dx, dy, ticks, float64(ticks)/interval.Seconds())
}

// RunConsoleMQTT prints the pointer's telemetry until ctx is cancelled.
func RunConsoleMQTT(ctx context.Context, out io.Writer) error {
	cfg := config.Get()
	if cfg.MQTTBroker == "" {
		return fmt.Errorf("MQTT_BROKER is required for the console")
	}

	opts := mqtt.NewClientOptions().
		AddBroker(cfg.MQTTBroker).
		SetClientID(cfg.MQTTClientIDConsole)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return token.Error()
	}
	defer client.Disconnect(250)
	log.Printf("console: connected to MQTT broker at %s", cfg.MQTTBroker)

	view := &consoleView{out: out}

	moveToken := client.Subscribe(cfg.TopicMovement, 0, func(_ mqtt.Client, msg mqtt.Message) {
		view.movement(msg.Payload())
	})
	moveToken.Wait()
	if moveToken.Error() != nil {
		return moveToken.Error()
	}
	log.Printf("console: subscribed to %s", cfg.TopicMovement)

	stateToken := client.Subscribe(cfg.TopicState, 1, func(_ mqtt.Client, msg mqtt.Message) {
		view.state(msg.Payload())
	})
	stateToken.Wait()
	if stateToken.Error() != nil {
		return stateToken.Error()
	}
	log.Printf("console: subscribed to %s", cfg.TopicState)

	interval := time.Duration(cfg.ConsoleLogInterval) * time.Millisecond
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("console: shutting down")
			return nil
		case <-ticker.C:
			view.flush(interval)
		}
	}
}
