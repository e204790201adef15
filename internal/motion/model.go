// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package motion

import (
	"fmt"
	"log"
	"math"
	"sync/atomic"
)

// SensorKind identifies the sensor a Sample came from.
type SensorKind int

const (
	Gyroscope SensorKind = iota
	LinearAcceleration
)

func (k SensorKind) String() string {
	switch k {
	case Gyroscope:
		return "gyroscope"
	case LinearAcceleration:
		return "linear_acceleration"
	}
	return fmt.Sprintf("SensorKind(%d)", int(k))
}

// Sample is one scalar sensor reading. For Gyroscope it is the yaw angular rate
// (rad/s), for LinearAcceleration the acceleration along the device's secondary axis (m/s²).
type Sample struct {
	Kind  SensorKind
	Value float64
}

// Movement is the cursor delta emitted once per tick.
type Movement struct {
	DX int `json:"dx"`
	DY int `json:"dy"`
}

// Policy selects the vertical friction/stillness behaviour.
type Policy int

const (
	// Gliding applies a single drag factor every tick.
	Gliding Policy = iota
	// ActiveBraking applies BrakingFriction when acceleration opposes velocity.
	ActiveBraking
	// SnapToZero is ActiveBraking plus stillness detection forcing velocity to zero.
	SnapToZero
)

func (p Policy) String() string {
	switch p {
	case Gliding:
		return "gliding"
	case ActiveBraking:
		return "active_braking"
	case SnapToZero:
		return "snap_to_zero"
	}
	return fmt.Sprintf("Policy(%d)", int(p))
}

// ParsePolicy maps a configuration name to a Policy.
func ParsePolicy(s string) (Policy, error) {
	switch s {
	case "gliding":
		return Gliding, nil
	case "active_braking":
		return ActiveBraking, nil
	case "snap_to_zero":
		return SnapToZero, nil
	}
	return 0, fmt.Errorf("unknown vertical policy %q (want gliding, active_braking or snap_to_zero)", s)
}

// Integration selects where filtered acceleration is folded into velocity.
type Integration int

const (
	// IntegrateOnTick adds the latest filtered acceleration on the non-braking path of each tick.
	IntegrateOnTick Integration = iota
	// IntegrateOnSample accumulates every filtered sample; the tick drains the accumulator.
	IntegrateOnSample
)

func (i Integration) String() string {
	if i == IntegrateOnSample {
		return "sample"
	}
	return "tick"
}

func ParseIntegration(s string) (Integration, error) {
	switch s {
	case "tick":
		return IntegrateOnTick, nil
	case "sample":
		return IntegrateOnSample, nil
	}
	return 0, fmt.Errorf("unknown integration %q (want tick or sample)", s)
}

// Params are the scalar tuning parameters of a Model.
type Params struct {
	SensitivityX float64
	YawPower     float64

	SensitivityY float64
	AccelPower   float64

	Policy          Policy
	Integration     Integration
	BrakingFriction float64
	GlidingFriction float64

	StillnessThreshold  float64
	StillnessFrames     int
	VelocitySnapEpsilon float64
}

// Model integrates filtered sensor input into cursor movement.
//
// OnSample runs on the sensor callback and is the only writer of the filter chains,
// filteredAccel, pendingAccel and dx. Step runs on the scheduler tick and is the only
// writer of velocity, stillness and dy. Values crossing between the two are atomics.
type Model struct {
	params Params
	yaw    *Axis
	accel  *Axis

	// sensor callback side
	filteredAccel atomicFloat
	pendingAccel  atomicFloat
	dx            atomic.Int64

	// tick side
	velocity  atomicFloat
	stillness atomic.Int64
	dy        atomic.Int64
}

// NewModel builds a Model around the given filter chains.
func NewModel(params Params, yaw, accel *Axis) *Model {
	return &Model{params: params, yaw: yaw, accel: accel}
}

// Params returns the tuning parameters the model was built with.
func (m *Model) Params() Params { return m.params }

// Reset zeroes all state and filters. It must not run concurrently with OnSample or Step.
func (m *Model) Reset() {
	m.yaw.Reset()
	m.accel.Reset()
	m.filteredAccel.Store(0)
	m.pendingAccel.Store(0)
	m.dx.Store(0)
	m.velocity.Store(0)
	m.stillness.Store(0)
	m.dy.Store(0)
}

// OnSample consumes one raw reading.
// Non-finite readings are dropped before they reach the filters.
func (m *Model) OnSample(s Sample) {
	if !finite(s.Value) {
		log.Printf("motion: dropping non-finite %s sample: %v", s.Kind, s.Value)
		return
	}
	switch s.Kind {
	case Gyroscope:
		yaw := Shape(m.yaw.Process(s.Value), m.params.YawPower)
		if !finite(yaw) {
			return
		}
		m.dx.Store(toDelta(-yaw * m.params.SensitivityX))
	case LinearAcceleration:
		a := Shape(m.accel.Process(s.Value), m.params.AccelPower)
		if !finite(a) {
			return
		}
		m.filteredAccel.Store(a)
		if m.params.Integration == IntegrateOnSample {
			m.pendingAccel.Add(a)
		}
	}
}

// Step advances the vertical physics by one tick and returns the movement to send.
func (m *Model) Step() Movement {
	p := m.params
	a := m.filteredAccel.Load()
	v := m.velocity.Load()

	if p.Integration == IntegrateOnSample {
		v += m.pendingAccel.Swap(0)
	}

	braking := p.Policy != Gliding && sign(a) != sign(v) && v != 0
	switch {
	case braking:
		v *= p.BrakingFriction
	case p.Integration == IntegrateOnTick:
		v = (v + a) * p.GlidingFriction
	default:
		v *= p.GlidingFriction
	}

	if p.Policy == SnapToZero {
		if math.Abs(a) < p.StillnessThreshold {
			m.stillness.Add(1)
		} else {
			m.stillness.Store(0)
		}
		if m.stillness.Load() >= int64(p.StillnessFrames) {
			v = 0
		}
	}

	if math.Abs(v) < p.VelocitySnapEpsilon || !finite(v) {
		v = 0
	}
	m.velocity.Store(v)

	dy := toDelta(-v * p.SensitivityY)
	m.dy.Store(dy)

	return Movement{DX: int(m.dx.Load()), DY: int(dy)}
}

func finite(v float64) bool { return !math.IsNaN(v) && !math.IsInf(v, 0) }

// toDelta rounds to the nearest pixel and saturates at the int32 range.
func toDelta(v float64) int64 {
	switch {
	case math.IsNaN(v):
		return 0
	case v > math.MaxInt32:
		return math.MaxInt32
	case v < math.MinInt32:
		return math.MinInt32
	}
	return int64(math.Round(v))
}

// Current returns the latest cached movement without stepping.
func (m *Model) Current() Movement {
	return Movement{DX: int(m.dx.Load()), DY: int(m.dy.Load())}
}

// Velocity returns the vertical velocity after the last Step.
func (m *Model) Velocity() float64 { return m.velocity.Load() }

// Stillness returns the number of consecutive quiet ticks.
func (m *Model) Stillness() int { return int(m.stillness.Load()) }

// FilteredAccel returns the latest filtered vertical acceleration.
func (m *Model) FilteredAccel() float64 { return m.filteredAccel.Load() }

// atomicFloat is a float64 stored as its IEEE-754 bits.
type atomicFloat struct {
	bits atomic.Uint64
}

func (f *atomicFloat) Load() float64   { return math.Float64frombits(f.bits.Load()) }
func (f *atomicFloat) Store(v float64) { f.bits.Store(math.Float64bits(v)) }

func (f *atomicFloat) Swap(v float64) float64 {
	return math.Float64frombits(f.bits.Swap(math.Float64bits(v)))
}

func (f *atomicFloat) Add(delta float64) {
	for {
		old := f.bits.Load()
		next := math.Float64bits(math.Float64frombits(old) + delta)
		if f.bits.CompareAndSwap(old, next) {
			return
		}
	}
}
