// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package sensors

import (
	"math"
	"time"

	"github.com/relabs-tech/cursair/internal/motion"
)

type mockSource struct {
	start time.Time
	now   func() time.Time
}

// NewMockManager creates a sensor manager that generates smooth synthetic motion:
// a slow side-to-side sweep on yaw and short forward/back pushes on the accelerometer.
// Kinds listed in missing are reported unavailable, which is useful for exercising
// the start-up failure path without hardware.
func NewMockManager(interval time.Duration, missing ...motion.SensorKind) *Poller {
	src := &mockSource{now: time.Now}
	src.start = src.now()

	kinds := []motion.SensorKind{motion.Gyroscope, motion.LinearAcceleration}
	for _, m := range missing {
		for i, k := range kinds {
			if k == m {
				kinds = append(kinds[:i], kinds[i+1:]...)
				break
			}
		}
	}
	return NewPoller("mock", interval, src.next, kinds...)
}

func (m *mockSource) next() ([]motion.Sample, error) {
	elapsed := m.now().Sub(m.start).Seconds()

	yaw := 0.4 * math.Sin(elapsed*0.8)
	// a push every ~4s, quiet in between
	accel := 0.0
	if phase := math.Mod(elapsed, 4); phase < 0.5 {
		accel = 1.5 * math.Sin(phase*2*math.Pi)
	}

	return []motion.Sample{
		{Kind: motion.Gyroscope, Value: yaw},
		{Kind: motion.LinearAcceleration, Value: accel},
	}, nil
}
