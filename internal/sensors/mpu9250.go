// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package sensors

import (
	"fmt"
	"log"
	"math"
	"time"

	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/devices/v3/mpu9250"
	"periph.io/x/host/v3"

	"github.com/relabs-tech/cursair/internal/motion"
)

const standardGravity = 9.80665

// LSB per unit for each full-scale range setting (0-3).
var (
	gyroLSBPerDPS = [4]float64{131, 65.5, 32.8, 16.4}
	accelLSBPerG  = [4]float64{16384, 8192, 4096, 2048}
)

// MPU9250Options selects the SPI wiring and ranges of the IMU.
type MPU9250Options struct {
	SPIDevice string
	CSPin     string
	// AccelRange: 0=±2g, 1=±4g, 2=±8g, 3=±16g
	AccelRange byte
	// GyroRange: 0=±250°/s, 1=±500°/s, 2=±1000°/s, 3=±2000°/s
	GyroRange byte
	Interval  time.Duration
	// GravityAlpha is the low-pass factor of the gravity estimate removed from accel Y.
	GravityAlpha float64
}

type imuSource struct {
	imu     *mpu9250.MPU9250
	opts    MPU9250Options
	gravity *motion.LowPass
}

// NewMPU9250Manager initializes an MPU9250 over SPI and polls yaw rate (gyro Z)
// and forward linear acceleration (accel Y with gravity removed).
func NewMPU9250Manager(opts MPU9250Options) (*Poller, error) {
	if opts.AccelRange > 3 || opts.GyroRange > 3 {
		return nil, fmt.Errorf("mpu9250: range out of bounds (accel %d, gyro %d)", opts.AccelRange, opts.GyroRange)
	}
	if opts.GravityAlpha <= 0 || opts.GravityAlpha > 1 {
		opts.GravityAlpha = 0.2
	}

	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("mpu9250: periph host init: %w: %w", ErrUnavailable, err)
	}

	cs := gpioreg.ByName(opts.CSPin)
	if cs == nil {
		return nil, fmt.Errorf("mpu9250: CS pin %q not found: %w", opts.CSPin, ErrUnavailable)
	}

	tr, err := mpu9250.NewSpiTransport(opts.SPIDevice, cs)
	if err != nil {
		return nil, fmt.Errorf("mpu9250: SPI transport (%s): %w: %w", opts.SPIDevice, ErrUnavailable, err)
	}

	imu, err := mpu9250.New(tr)
	if err != nil {
		return nil, fmt.Errorf("mpu9250: device creation: %w", err)
	}
	if err := imu.Init(); err != nil {
		return nil, fmt.Errorf("mpu9250: initialization: %w", err)
	}

	if err := imu.SetAccelRange(opts.AccelRange); err != nil {
		return nil, fmt.Errorf("mpu9250: set accel range: %w", err)
	}
	log.Printf("sensors: mpu9250 accelerometer range set to %d (±%dg)", opts.AccelRange, []int{2, 4, 8, 16}[opts.AccelRange])

	if err := imu.SetGyroRange(opts.GyroRange); err != nil {
		return nil, fmt.Errorf("mpu9250: set gyro range: %w", err)
	}
	log.Printf("sensors: mpu9250 gyroscope range set to %d (±%d°/s)", opts.GyroRange, []int{250, 500, 1000, 2000}[opts.GyroRange])

	if err := imu.Calibrate(); err != nil {
		log.Printf("sensors: warning: mpu9250 calibration failed: %v", err)
	} else {
		log.Printf("sensors: mpu9250 calibration complete")
	}

	src := &imuSource{imu: imu, opts: opts, gravity: motion.NewLowPass(opts.GravityAlpha)}
	src.primeGravity(50)

	return NewPoller("mpu9250", opts.Interval, src.read, motion.Gyroscope, motion.LinearAcceleration), nil
}

// primeGravity settles the gravity estimate so the first deliveries are not a step.
func (s *imuSource) primeGravity(n int) {
	for i := 0; i < n; i++ {
		ay, err := s.imu.GetAccelerationY()
		if err != nil {
			return
		}
		s.gravity.Update(accelToMS2(ay, s.opts.AccelRange))
	}
}

func (s *imuSource) read() ([]motion.Sample, error) {
	gz, err := s.imu.GetRotationZ()
	if err != nil {
		return nil, fmt.Errorf("gyro Z: %w", err)
	}
	ay, err := s.imu.GetAccelerationY()
	if err != nil {
		return nil, fmt.Errorf("accel Y: %w", err)
	}

	accel := accelToMS2(ay, s.opts.AccelRange)
	linear := accel - s.gravity.Update(accel)

	return []motion.Sample{
		{Kind: motion.Gyroscope, Value: gyroToRadPerSec(gz, s.opts.GyroRange)},
		{Kind: motion.LinearAcceleration, Value: linear},
	}, nil
}

func gyroToRadPerSec(raw int16, rng byte) float64 {
	dps := float64(raw) / gyroLSBPerDPS[rng]
	return dps * math.Pi / 180
}

func accelToMS2(raw int16, rng byte) float64 {
	return float64(raw) / accelLSBPerG[rng] * standardGravity
}
