// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"fmt"
	"log"

	"github.com/relabs-tech/cursair/internal/config"
	"github.com/relabs-tech/cursair/internal/sensors"
)

// openSensors builds the sensor manager selected by SENSOR_SOURCE.
// The returned func releases the device.
func openSensors(cfg *config.Config) (sensors.Manager, func(), error) {
	switch cfg.SensorSource {
	case config.SourceMock:
		log.Println("using mock sensor source")
		return sensors.NewMockManager(cfg.SensorInterval()), func() {}, nil

	case config.SourceMPU9250:
		mgr, err := sensors.NewMPU9250Manager(sensors.MPU9250Options{
			SPIDevice:    cfg.IMUSPIDevice,
			CSPin:        cfg.IMUCSPin,
			AccelRange:   cfg.IMUAccelRange,
			GyroRange:    cfg.IMUGyroRange,
			Interval:     cfg.SensorInterval(),
			GravityAlpha: cfg.IMUGravityAlpha,
		})
		if err != nil {
			return nil, nil, err
		}
		log.Printf("using MPU9250 on %s (CS %s)", cfg.IMUSPIDevice, cfg.IMUCSPin)
		return mgr, func() {}, nil

	case config.SourceSerial:
		mgr, err := sensors.NewSerialManager(sensors.SerialOptions{
			PortName: cfg.SerialPort,
			BaudRate: cfg.SerialBaudRate,
		})
		if err != nil {
			return nil, nil, err
		}
		return mgr, func() {
			if err := mgr.Close(); err != nil {
				log.Printf("sensors: close serial port: %v", err)
			}
		}, nil
	}
	return nil, nil, fmt.Errorf("unknown sensor source %q", cfg.SensorSource)
}
