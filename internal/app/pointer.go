// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/relabs-tech/cursair/internal/config"
	"github.com/relabs-tech/cursair/internal/motion"
	"github.com/relabs-tech/cursair/internal/sensors"
	"github.com/relabs-tech/cursair/internal/stream"
	"github.com/relabs-tech/cursair/internal/telemetry"
	"github.com/relabs-tech/cursair/internal/transport"
)

// telemetryInterval is how often batched movements are published.
const telemetryInterval = 100 * time.Millisecond

// PairingPayload picks the pairing text from, in order, the literal flag value,
// a file, or the first non-empty line of stdin (where a code scanner pipes it).
func PairingPayload(literal, file string, stdin io.Reader) (string, error) {
	if s := strings.TrimSpace(literal); s != "" {
		return s, nil
	}
	if file != "" {
		b, err := os.ReadFile(file)
		if err != nil {
			return "", fmt.Errorf("read pairing file: %w", err)
		}
		return strings.TrimSpace(string(b)), nil
	}
	if stdin == nil {
		return "", errors.New("no pairing payload given")
	}
	b, err := io.ReadAll(stdin)
	if err != nil {
		return "", fmt.Errorf("read pairing payload from stdin: %w", err)
	}
	for _, line := range strings.Split(string(b), "\n") {
		if s := strings.TrimSpace(line); s != "" {
			return s, nil
		}
	}
	return "", errors.New("no pairing payload given")
}

// Pointer is the assembled device side: sensors feed the model, the streamer
// ticks it while the session is connected.
type Pointer struct {
	Session   *transport.Session
	Streamer  *stream.Streamer
	Model     *motion.Model
	publisher *telemetry.Publisher
}

// NewPointer wires a pointer from configuration and an already opened sensor manager.
// pub may be nil.
func NewPointer(cfg *config.Config, mgr sensors.Manager, pub *telemetry.Publisher) *Pointer {
	model := cfg.Settings().Build()
	session := transport.NewSession(transport.Options{
		ConnectTimeout: cfg.ConnectTimeout(),
		PollInterval:   cfg.ReceivePoll(),
	})

	opts := stream.Options{Interval: cfg.TickInterval()}
	if pub != nil {
		opts.OnMovement = pub.Record
	}

	return &Pointer{
		Session:   session,
		Streamer:  stream.NewStreamer(model, mgr, session, opts),
		Model:     model,
		publisher: pub,
	}
}

// Run connects with payload and streams until ctx is cancelled.
// A failed handshake is returned as an error; nothing keeps running after it.
func (p *Pointer) Run(ctx context.Context, payload string) error {
	defer p.Session.Close()

	g, gctx := errgroup.WithContext(ctx)

	controller := stream.NewController(p.Session, p.Streamer)
	g.Go(func() error { return controller.Run(gctx) })

	if p.publisher != nil {
		g.Go(func() error { return p.publisher.Run(gctx, p.Session) })
	}

	inbound, unsubscribe := p.Session.Subscribe()
	g.Go(func() error {
		defer unsubscribe()
		for {
			select {
			case <-gctx.Done():
				return gctx.Err()
			case msg, ok := <-inbound:
				if !ok {
					return nil
				}
				log.Printf("pointer: message from host: %q", msg)
			}
		}
	})

	g.Go(func() error {
		if err := p.Session.Connect(gctx, payload); err != nil {
			return fmt.Errorf("connect: %w", err)
		}
		<-gctx.Done()
		p.Session.Disconnect()
		return gctx.Err()
	})

	err := g.Wait()
	if errors.Is(err, context.Canceled) && ctx.Err() != nil {
		return nil
	}
	return err
}

// RunPointer is the cmd/pointer entry point.
func RunPointer(ctx context.Context, payload string) error {
	cfg := config.Get()

	mgr, release, err := openSensors(cfg)
	if err != nil {
		return fmt.Errorf("open sensors: %w", err)
	}
	defer release()

	var pub *telemetry.Publisher
	if cfg.MQTTBroker != "" {
		p, disconnect, err := telemetry.Connect(cfg.MQTTBroker, cfg.MQTTClientIDPointer,
			cfg.TopicMovement, cfg.TopicState, telemetryInterval)
		if err != nil {
			// telemetry is optional, the pointer works without a broker
			log.Printf("telemetry: disabled: %v", err)
		} else {
			defer disconnect()
			pub = p
		}
	}

	log.Printf("pointer: preset %s, policy %s, tick %v", cfg.Preset, cfg.Motion.Policy, cfg.TickInterval())
	return NewPointer(cfg, mgr, pub).Run(ctx, payload)
}
