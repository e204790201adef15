// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package motion

import (
	"log"
	"math"

	"gonum.org/v1/gonum/stat"
)

// Filter is a per-axis noise reduction strategy.
// A Filter is owned by exactly one axis and is not safe for concurrent use.
type Filter interface {
	Update(measurement float64) float64
	Reset()
}

// Kalman is a scalar (1D) Kalman estimator.
//
// R is the assumed measurement noise, Q the assumed process variance.
// Smaller Q means more smoothing and more lag.
type Kalman struct {
	R float64
	Q float64

	x float64 // estimate
	p float64 // uncertainty
}

// NewKalman returns a Kalman filter in its reset state (x=0, p=1).
func NewKalman(r, q float64) *Kalman {
	return &Kalman{R: r, Q: q, p: 1}
}

func (k *Kalman) Update(measurement float64) float64 {
	// predict
	k.p += k.Q

	// correct
	gain := k.p / (k.p + k.R)
	k.x += gain * (measurement - k.x)
	k.p *= 1 - gain

	return k.x
}

func (k *Kalman) Reset() {
	k.x = 0
	k.p = 1
}

// Estimate returns the current state estimate without updating it.
func (k *Kalman) Estimate() float64 { return k.x }

// LowPass is an exponential low-pass filter. Smaller Alpha means heavier smoothing.
type LowPass struct {
	Alpha float64

	smoothed float64
}

func NewLowPass(alpha float64) *LowPass {
	return &LowPass{Alpha: alpha}
}

func (l *LowPass) Update(measurement float64) float64 {
	l.smoothed = l.Alpha*measurement + (1-l.Alpha)*l.smoothed
	return l.smoothed
}

func (l *LowPass) Reset() { l.smoothed = 0 }

// Passthrough returns measurements unchanged.
type Passthrough struct{}

func (Passthrough) Update(measurement float64) float64 { return measurement }
func (Passthrough) Reset()                             {}

// Deadzone replaces any value with |v| <= threshold by exactly zero.
func Deadzone(v, threshold float64) float64 {
	if math.Abs(v) <= threshold {
		return 0
	}
	return v
}

// DriftCalibrator re-estimates a sensor's steady-state bias while the device is still.
//
// Raw samples are collected into a window of Size samples. When the window is full its
// population variance is compared against Threshold: a quiet window replaces the offset
// with the window mean, a noisy one is discarded. The window is always cleared afterwards.
type DriftCalibrator struct {
	Size      int
	Threshold float64
	Name      string // used in log lines only

	window []float64
	offset float64
}

func NewDriftCalibrator(name string, size int, threshold float64) *DriftCalibrator {
	return &DriftCalibrator{
		Name:      name,
		Size:      size,
		Threshold: threshold,
		window:    make([]float64, 0, size),
	}
}

// Correct records raw into the calibration window and returns raw minus the current offset.
// The offset applied is the one in effect after this sample has been evaluated.
func (d *DriftCalibrator) Correct(raw float64) float64 {
	d.window = append(d.window, raw)
	if len(d.window) >= d.Size {
		mean, variance := stat.PopMeanVariance(d.window, nil)
		if variance < d.Threshold {
			d.offset = mean
			log.Printf("motion: %s drift recalibrated to %.6f (variance %.3g)", d.Name, mean, variance)
		}
		d.window = d.window[:0]
	}
	return raw - d.offset
}

// Offset returns the bias currently subtracted from readings.
func (d *DriftCalibrator) Offset() float64 { return d.offset }

// Pending returns the number of samples collected in the current window.
func (d *DriftCalibrator) Pending() int { return len(d.window) }

func (d *DriftCalibrator) Reset() {
	d.window = d.window[:0]
	d.offset = 0
}
