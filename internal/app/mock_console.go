// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/relabs-tech/cursair/internal/config"
	"github.com/relabs-tech/cursair/internal/motion"
	"github.com/relabs-tech/cursair/internal/protocol"
	"github.com/relabs-tech/cursair/internal/stream"
)

// printSender stands in for the session: it prints every non-zero packet.
type printSender struct {
	out io.Writer
}

func (p printSender) Send(msg []byte) error {
	mv, err := protocol.DecodeMovement(msg)
	if err != nil {
		return err
	}
	if mv == (motion.Movement{}) {
		return nil
	}
	_, err = fmt.Fprintf(p.out, "%s DX=%5d  DY=%5d\n", time.Now().Format("15:04:05.000"), mv.DX, mv.DY)
	return err
}

// RunLocalConsole runs the motion pipeline against the configured sensors and
// prints the packets instead of sending them, for tuning without a host.
func RunLocalConsole(ctx context.Context, out io.Writer) error {
	cfg := config.Get()

	mgr, release, err := openSensors(cfg)
	if err != nil {
		return fmt.Errorf("open sensors: %w", err)
	}
	defer release()

	s := stream.NewStreamer(cfg.Settings().Build(), mgr, printSender{out: out}, stream.Options{Interval: cfg.TickInterval()})
	if err := s.Start(); err != nil {
		return err
	}
	defer s.Stop()

	<-ctx.Done()
	return nil
}
