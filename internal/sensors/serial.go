// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package sensors

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log"
	"math"
	"strconv"
	"strings"
	"sync"

	serial "github.com/jacobsa/go-serial/serial"

	"github.com/relabs-tech/cursair/internal/motion"
)

var errBadLine = errors.New("malformed sensor line")

// SerialOptions configures the microcontroller bridge port.
type SerialOptions struct {
	PortName string
	BaudRate uint
}

// LineManager delivers samples read as text lines from a stream, typically a
// microcontroller that forwards its IMU over a serial port. Accepted lines:
//
//	<gyroZ>,<accelY>      both readings in rad/s and m/s²
//	G,<gyroZ>             a single gyroscope reading
//	A,<accelY>            a single linear acceleration reading
//
// Lines starting with '#' and blank lines are ignored.
type LineManager struct {
	name string
	rc   io.ReadCloser
	disp dispatcher

	closeOnce sync.Once
	done      chan struct{}
}

// NewSerialManager opens the serial port and starts reading lines from it.
func NewSerialManager(opts SerialOptions) (*LineManager, error) {
	serialOpts := serial.OpenOptions{
		PortName:              opts.PortName,
		BaudRate:              opts.BaudRate,
		DataBits:              8,
		StopBits:              1,
		MinimumReadSize:       1,
		ParityMode:            serial.PARITY_NONE,
		InterCharacterTimeout: 0,
	}

	port, err := serial.Open(serialOpts)
	if err != nil {
		return nil, fmt.Errorf("serial: open %s: %w: %w", opts.PortName, ErrUnavailable, err)
	}
	log.Printf("sensors: serial port opened on %s at %d baud", serialOpts.PortName, serialOpts.BaudRate)
	return NewLineManager("serial", port), nil
}

// NewLineManager reads sensor lines from rc until it is closed or fails.
func NewLineManager(name string, rc io.ReadCloser) *LineManager {
	m := &LineManager{name: name, rc: rc, done: make(chan struct{})}
	go m.readLoop()
	return m
}

// Both kinds are assumed present; the bridge firmware always reports the pair.
func (m *LineManager) Available(kind motion.SensorKind) bool {
	return kind == motion.Gyroscope || kind == motion.LinearAcceleration
}

func (m *LineManager) Register(l Listener) error {
	if err := m.disp.set(l); err != nil {
		return err
	}
	log.Printf("sensors: %s listener registered", m.name)
	return nil
}

func (m *LineManager) Unregister(l Listener) {
	if m.disp.clear(l) {
		log.Printf("sensors: %s listener unregistered", m.name)
	}
}

// Close closes the underlying stream and waits for the reader to exit.
func (m *LineManager) Close() error {
	var err error
	m.closeOnce.Do(func() {
		err = m.rc.Close()
		<-m.done
	})
	return err
}

func (m *LineManager) readLoop() {
	defer close(m.done)

	reader := bufio.NewReader(m.rc)
	for {
		line, err := reader.ReadString('\n')
		if line != "" {
			samples, perr := parseLine(line)
			if perr != nil {
				// partial lines are common right after the port opens
				log.Printf("sensors: %s: %v", m.name, perr)
			} else {
				m.disp.deliver(samples...)
			}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrClosedPipe) {
				log.Printf("sensors: %s read error: %v", m.name, err)
			}
			return
		}
	}
}

func finite(v float64) bool { return !math.IsNaN(v) && !math.IsInf(v, 0) }

func parseLine(line string) ([]motion.Sample, error) {
	line = strings.TrimSpace(line)
	if line == "" || strings.HasPrefix(line, "#") {
		return nil, nil
	}

	parts := strings.Split(line, ",")
	if len(parts) != 2 {
		return nil, fmt.Errorf("%w: %q", errBadLine, line)
	}
	first := strings.TrimSpace(parts[0])
	second, err := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", errBadLine, line, err)
	}
	if !finite(second) {
		return nil, fmt.Errorf("%w: %q: non-finite value", errBadLine, line)
	}

	switch first {
	case "G", "g":
		return []motion.Sample{{Kind: motion.Gyroscope, Value: second}}, nil
	case "A", "a":
		return []motion.Sample{{Kind: motion.LinearAcceleration, Value: second}}, nil
	}

	gz, err := strconv.ParseFloat(first, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", errBadLine, line, err)
	}
	if !finite(gz) {
		return nil, fmt.Errorf("%w: %q: non-finite value", errBadLine, line)
	}
	return []motion.Sample{
		{Kind: motion.Gyroscope, Value: gz},
		{Kind: motion.LinearAcceleration, Value: second},
	}, nil
}
