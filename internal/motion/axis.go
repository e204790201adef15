// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package motion

import "fmt"

// Axis is the filter chain for one sensor axis:
// drift correction (optional) -> deadzone -> filter.
type Axis struct {
	Drift    *DriftCalibrator
	Deadzone float64
	Filter   Filter
}

// Process runs one raw reading through the chain and returns the filtered value.
func (a *Axis) Process(raw float64) float64 {
	v := raw
	if a.Drift != nil {
		v = a.Drift.Correct(v)
	}
	v = Deadzone(v, a.Deadzone)
	return a.Filter.Update(v)
}

func (a *Axis) Reset() {
	if a.Drift != nil {
		a.Drift.Reset()
	}
	a.Filter.Reset()
}

// FilterKind names a Filter strategy in configuration.
type FilterKind string

const (
	FilterKalman  FilterKind = "kalman"
	FilterLowPass FilterKind = "lowpass"
	FilterNone    FilterKind = "none"
)

// ParseFilterKind validates a filter name.
func ParseFilterKind(s string) (FilterKind, error) {
	switch k := FilterKind(s); k {
	case FilterKalman, FilterLowPass, FilterNone:
		return k, nil
	}
	return "", fmt.Errorf("unknown filter %q (want kalman, lowpass or none)", s)
}

// AxisSpec declares an Axis chain.
type AxisSpec struct {
	Filter  FilterKind
	KalmanR float64
	KalmanQ float64
	Alpha   float64

	Deadzone float64

	// DriftWindow of 0 disables drift calibration.
	DriftWindow    int
	DriftThreshold float64
}

// Build constructs a fresh Axis. name is used in log lines.
func (s AxisSpec) Build(name string) *Axis {
	a := &Axis{Deadzone: s.Deadzone}
	switch s.Filter {
	case FilterKalman:
		a.Filter = NewKalman(s.KalmanR, s.KalmanQ)
	case FilterLowPass:
		a.Filter = NewLowPass(s.Alpha)
	default:
		a.Filter = Passthrough{}
	}
	if s.DriftWindow > 0 {
		a.Drift = NewDriftCalibrator(name, s.DriftWindow, s.DriftThreshold)
	}
	return a
}
