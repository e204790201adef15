// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Stillness capture: leave the device untouched while it records gyro and
// linear acceleration noise, then paste the printed lines into the config file.
//
// Run:
//
//	go run ./cmd/calibration -config ./cursair_config.txt
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/relabs-tech/cursair/internal/app"
	"github.com/relabs-tech/cursair/internal/config"
)

func main() {
	configPath := flag.String("config", "./cursair_config.txt", "path to configuration file")
	flag.Parse()

	if err := config.InitGlobal(*configPath); err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := app.RunCalibration(ctx, os.Stdout); err != nil {
		log.Fatalf("calibration failed: %v", err)
	}
}
