// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package motion

import "fmt"

// Settings fully describes a Model: both filter chains plus the physics parameters.
type Settings struct {
	Yaw   AxisSpec
	Accel AxisSpec
	Params
}

// Build constructs a new Model with fresh filter state.
func (s Settings) Build() *Model {
	return NewModel(s.Params, s.Yaw.Build("yaw"), s.Accel.Build("accel_y"))
}

// Preset names accepted by PresetByName.
const (
	PresetSnapToZero    = "snap_to_zero"
	PresetActiveBraking = "active_braking"
	PresetGliding       = "gliding"
)

// PresetByName returns one of the tuned presets.
func PresetByName(name string) (Settings, error) {
	switch name {
	case PresetSnapToZero:
		return SnapToZeroSettings(), nil
	case PresetActiveBraking:
		return ActiveBrakingSettings(), nil
	case PresetGliding:
		return GlidingSettings(), nil
	}
	return Settings{}, fmt.Errorf("unknown preset %q", name)
}

// SnapToZeroSettings: Kalman on both axes, stillness detection clamps velocity after 8 quiet ticks.
func SnapToZeroSettings() Settings {
	return Settings{
		Yaw: AxisSpec{Filter: FilterKalman, KalmanR: 0.5, KalmanQ: 0.01},
		Accel: AxisSpec{
			Filter:   FilterKalman,
			KalmanR:  2.0,
			KalmanQ:  0.05,
			Deadzone: 0.05,
		},
		Params: Params{
			SensitivityX:        1000,
			YawPower:            1.5,
			SensitivityY:        350,
			AccelPower:          1,
			Policy:              SnapToZero,
			Integration:         IntegrateOnTick,
			BrakingFriction:     0.60,
			GlidingFriction:     0.90,
			StillnessThreshold:  0.01,
			StillnessFrames:     8,
			VelocitySnapEpsilon: 0.001,
		},
	}
}

// ActiveBrakingSettings: drift-corrected low-pass yaw, drift-corrected deadzoned acceleration
// integrated per sample with a dual friction model.
func ActiveBrakingSettings() Settings {
	return Settings{
		Yaw: AxisSpec{
			Filter:         FilterLowPass,
			Alpha:          0.2,
			DriftWindow:    100,
			DriftThreshold: 0.00001,
		},
		Accel: AxisSpec{
			Filter:         FilterNone,
			Deadzone:       0.05,
			DriftWindow:    150,
			DriftThreshold: 0.001,
		},
		Params: Params{
			SensitivityX:        900,
			YawPower:            1.7,
			SensitivityY:        45,
			AccelPower:          1,
			Policy:              ActiveBraking,
			Integration:         IntegrateOnSample,
			BrakingFriction:     0.75,
			GlidingFriction:     0.96,
			VelocitySnapEpsilon: 0.001,
		},
	}
}

// GlidingSettings: Kalman yaw, low-pass acceleration integrated per sample under plain drag.
func GlidingSettings() Settings {
	return Settings{
		Yaw: AxisSpec{Filter: FilterKalman, KalmanR: 0.5, KalmanQ: 0.01},
		Accel: AxisSpec{
			Filter:   FilterLowPass,
			Alpha:    0.15,
			Deadzone: 0.05,
		},
		Params: Params{
			SensitivityX:        1000,
			YawPower:            1.5,
			SensitivityY:        300,
			AccelPower:          1,
			Policy:              Gliding,
			Integration:         IntegrateOnSample,
			BrakingFriction:     0.85,
			GlidingFriction:     0.85,
			VelocitySnapEpsilon: 0.001,
		},
	}
}
