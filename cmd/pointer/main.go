// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

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
	pair := flag.String("pair", "", "pairing payload as scanned from the host's pairing code")
	pairFile := flag.String("pair-file", "", "file containing the pairing payload (default: read stdin)")
	flag.Parse()

	log.Println("starting cursair pointer (sensors → motion → UDP host)")

	// Load configuration
	if err := config.InitGlobal(*configPath); err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	payload, err := app.PairingPayload(*pair, *pairFile, os.Stdin)
	if err != nil {
		log.Fatalf("pairing: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := app.RunPointer(ctx, payload); err != nil {
		log.Fatalf("fatal: %v", err)
	}
	log.Println("pointer: shut down")
}
