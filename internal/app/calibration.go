// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"math"
	"sync"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/relabs-tech/cursair/internal/config"
	"github.com/relabs-tech/cursair/internal/motion"
	"github.com/relabs-tech/cursair/internal/sensors"
)

// AxisNoise summarizes one sensor during a stillness capture.
type AxisNoise struct {
	Samples  int
	Mean     float64
	StdDev   float64
	Variance float64
	MaxAbs   float64
}

// CalibrationReport is the outcome of a stillness capture with recommended tuning.
type CalibrationReport struct {
	Duration time.Duration
	Yaw      AxisNoise
	Accel    AxisNoise

	AccelDeadzone       float64
	StillnessThreshold  float64
	YawDriftThreshold   float64
	AccelDriftThreshold float64
}

// collector is a sensors.Listener that buffers every reading.
type collector struct {
	mu    sync.Mutex
	yaw   []float64
	accel []float64
}

func (c *collector) OnSample(s motion.Sample) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch s.Kind {
	case motion.Gyroscope:
		c.yaw = append(c.yaw, s.Value)
	case motion.LinearAcceleration:
		c.accel = append(c.accel, s.Value)
	}
}

func summarize(xs []float64) AxisNoise {
	n := AxisNoise{Samples: len(xs)}
	if len(xs) == 0 {
		return n
	}
	n.Mean, n.Variance = stat.PopMeanVariance(xs, nil)
	n.StdDev = math.Sqrt(n.Variance)
	for _, x := range xs {
		n.MaxAbs = math.Max(n.MaxAbs, math.Abs(x))
	}
	return n
}

// CaptureStillness records readings from mgr for d while the device lies still.
func CaptureStillness(ctx context.Context, mgr sensors.Manager, d time.Duration) (CalibrationReport, error) {
	for _, kind := range []motion.SensorKind{motion.Gyroscope, motion.LinearAcceleration} {
		if !mgr.Available(kind) {
			return CalibrationReport{}, fmt.Errorf("%w: %s", sensors.ErrUnavailable, kind)
		}
	}

	c := &collector{}
	if err := mgr.Register(c); err != nil {
		return CalibrationReport{}, fmt.Errorf("register listener: %w", err)
	}

	timer := time.NewTimer(d)
	select {
	case <-ctx.Done():
		timer.Stop()
		mgr.Unregister(c)
		return CalibrationReport{}, ctx.Err()
	case <-timer.C:
	}
	mgr.Unregister(c)

	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.yaw) < 2 || len(c.accel) < 2 {
		return CalibrationReport{}, errors.New("not enough samples captured")
	}

	r := CalibrationReport{
		Duration: d,
		Yaw:      summarize(c.yaw),
		Accel:    summarize(c.accel),
	}

	// the deadzone must swallow the whole resting noise band
	r.AccelDeadzone = math.Max(r.Accel.MaxAbs, math.Abs(r.Accel.Mean)+3*r.Accel.StdDev)
	r.StillnessThreshold = r.AccelDeadzone
	// stillness windows are judged on variance; leave headroom over the resting value
	r.YawDriftThreshold = 2 * r.Yaw.Variance
	r.AccelDriftThreshold = 2 * r.Accel.Variance
	return r, nil
}

// WriteConfigLines prints the recommendations in the config file format.
func (r CalibrationReport) WriteConfigLines(w io.Writer) error {
	_, err := fmt.Fprintf(w,
		"# stillness capture over %v: yaw %d samples (mean %.6f, sd %.6f), accel %d samples (mean %.6f, sd %.6f)\n"+
			"ACCEL_DEADZONE=%.6f\n"+
			"STILLNESS_THRESHOLD=%.6f\n"+
			"YAW_DRIFT_THRESHOLD=%.9f\n"+
			"ACCEL_DRIFT_THRESHOLD=%.9f\n",
		r.Duration, r.Yaw.Samples, r.Yaw.Mean, r.Yaw.StdDev, r.Accel.Samples, r.Accel.Mean, r.Accel.StdDev,
		r.AccelDeadzone, r.StillnessThreshold, r.YawDriftThreshold, r.AccelDriftThreshold)
	return err
}

// RunCalibration is the cmd/calibration entry point.
func RunCalibration(ctx context.Context, out io.Writer) error {
	cfg := config.Get()

	mgr, release, err := openSensors(cfg)
	if err != nil {
		return fmt.Errorf("open sensors: %w", err)
	}
	defer release()

	d := time.Duration(cfg.CalibrationSeconds) * time.Second
	log.Printf("calibration: keep the device still for %v", d)

	report, err := CaptureStillness(ctx, mgr, d)
	if err != nil {
		return err
	}
	log.Printf("calibration: yaw bias %.6f rad/s, accel bias %.6f m/s²", report.Yaw.Mean, report.Accel.Mean)
	return report.WriteConfigLines(out)
}
